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
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/pkg/tools"
)

type queryRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	RepoID    string `json:"repo_id" validate:"required"`
	Query     string `json:"query" validate:"required"`
}

// handleQuery streams one conversational turn as Server-Sent Events.
// Failures before the first event render as a normal error envelope;
// after that the engine reports through error events and the stream
// always ends with data: [DONE].
func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	var req queryRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.store.GetSession(r.Context(), req.SessionID)
	if err != nil {
		s.writeError(w, r, sessionNotFound(err, req.SessionID))
		return
	}
	embedder, err := s.embedderFor(sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, r, apierr.New(apierr.KindInternal, "streaming unsupported"))
		return
	}

	reg := tools.New(s.store, s.searcher, embedder, req.RepoID, s.cfg.Tuning.ToolTimeout, s.logger)

	started := false
	emit := func(event any) error {
		if !started {
			w.Header().Set("Content-Type", "text/event-stream")
			w.Header().Set("Cache-Control", "no-cache")
			w.Header().Set("Connection", "keep-alive")
			w.WriteHeader(http.StatusOK)
			started = true
		}
		b, err := json.Marshal(event)
		if err != nil {
			return err
		}
		if _, err := fmt.Fprintf(w, "data: %s\n\n", b); err != nil {
			return err
		}
		flusher.Flush()
		return nil
	}

	if err := s.engine.Query(r.Context(), req.SessionID, req.RepoID, req.Query, reg, emit); err != nil {
		if !started {
			s.writeError(w, r, err)
			return
		}
		s.logger.Warn("api.query.failed_mid_stream", "session_id", req.SessionID, "error", err)
	}
	if started {
		fmt.Fprint(w, "data: [DONE]\n\n")
		flusher.Flush()
	}
}
