// Copyright 2025 KrakLabs
//
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published
// by the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// This program is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Affero General Public License for more details.
//
// You should have received a copy of the GNU Affero General Public License
// along with this program. If not, see <https://www.gnu.org/licenses/>.
//
// For commercial licensing, contact: licensing@kraklabs.com
//
// SPDX-License-Identifier: AGPL-3.0-or-later

package api

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/pkg/storage"
)

// defaultMessageLimit bounds a conversation fetch when the client does
// not ask for a specific window.
const defaultMessageLimit = 50

type conversationResponse struct {
	Conversation  *storage.Conversation `json:"conversation"`
	Messages      []storage.Message     `json:"messages"`
	TotalMessages int                   `json:"total_messages"`
}

func (s *Server) handleConversationCurrent(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	sessionID := q.Get("session_id")
	repoID := q.Get("repo_id")
	if sessionID == "" || repoID == "" {
		s.writeError(w, r, apierr.New(apierr.KindInvalidInput,
			"session_id and repo_id query parameters are required"))
		return
	}
	limit := defaultMessageLimit
	if raw := q.Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			s.writeError(w, r, apierr.Newf(apierr.KindInvalidInput, "invalid limit %q", raw))
			return
		}
		limit = n
	}

	conv, err := s.store.GetConversation(r.Context(), sessionID, repoID)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, r, apierr.Newf(apierr.KindNotFound,
				"no conversation for session %s and repository %s", sessionID, repoID))
			return
		}
		s.writeError(w, r, err)
		return
	}
	msgs, total, err := s.store.ListMessages(r.Context(), conv.ID, limit)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	if msgs == nil {
		msgs = []storage.Message{}
	}
	s.writeJSON(w, http.StatusOK, conversationResponse{
		Conversation:  conv,
		Messages:      msgs,
		TotalMessages: total,
	})
}
