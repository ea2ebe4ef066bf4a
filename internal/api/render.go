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
	"net/http"

	"github.com/kraklabs/repomind/internal/apierr"
)

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("api.response.encode_failed", "error", err)
	}
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := apierr.KindOf(err)
	if kind == apierr.KindInternal {
		s.logger.Error("api.request.failed",
			"method", r.Method, "path", r.URL.Path, "error", err)
	}
	s.writeJSON(w, kind.HTTPStatus(), apierr.BodyOf(err))
}

// decodeBody unmarshals and validates a JSON request body. Validation
// failures surface as invalid_input with the validator's message.
func (s *Server) decodeBody(r *http.Request, v any) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return apierr.Wrap(apierr.KindInvalidInput, "malformed request body", err)
	}
	if err := s.validate.Struct(v); err != nil {
		return apierr.Wrap(apierr.KindInvalidInput, "invalid request body", err)
	}
	return nil
}
