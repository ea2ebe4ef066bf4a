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

	"github.com/go-chi/chi/v5"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/pkg/storage"
)

type preferencesRequest struct {
	AIProvider        string `json:"ai_provider" validate:"required"`
	AIModel           string `json:"ai_model" validate:"required"`
	EmbeddingProvider string `json:"embedding_provider"`
	EmbeddingModel    string `json:"embedding_model"`
	Theme             string `json:"theme"`
}

func (s *Server) handleSessionInit(w http.ResponseWriter, r *http.Request) {
	sess, err := s.store.CreateSession(r.Context())
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.logger.Info("session.created", "session_id", sess.ID)
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	sess, err := s.store.GetSession(r.Context(), id)
	if err != nil {
		s.writeError(w, r, sessionNotFound(err, id))
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func (s *Server) handleSessionPreferences(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "sessionID")
	var req preferencesRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.store.UpdateSessionPreferences(r.Context(), id, storage.Preferences{
		Provider:          req.AIProvider,
		Model:             req.AIModel,
		EmbeddingProvider: req.EmbeddingProvider,
		EmbeddingModel:    req.EmbeddingModel,
		Theme:             req.Theme,
	})
	if err != nil {
		s.writeError(w, r, sessionNotFound(err, id))
		return
	}
	s.writeJSON(w, http.StatusOK, sess)
}

func sessionNotFound(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apierr.Newf(apierr.KindNotFound, "session %s not found", id)
	}
	return err
}
