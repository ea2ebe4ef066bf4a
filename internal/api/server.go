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
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/internal/config"
	"github.com/kraklabs/repomind/pkg/embedding"
	"github.com/kraklabs/repomind/pkg/ingestion"
	"github.com/kraklabs/repomind/pkg/llm"
	"github.com/kraklabs/repomind/pkg/query"
	"github.com/kraklabs/repomind/pkg/search"
	"github.com/kraklabs/repomind/pkg/storage"
)

// Server holds the handler dependencies. One Server serves all
// sessions; provider credentials are resolved per request.
type Server struct {
	cfg      *config.Config
	store    storage.Store
	index    storage.VectorIndex
	pipeline *ingestion.Pipeline
	engine   *query.Engine
	searcher *search.Searcher
	chat     llm.Completer
	validate *validator.Validate
	logger   *slog.Logger
}

func New(cfg *config.Config, store storage.Store, index storage.VectorIndex, pipeline *ingestion.Pipeline, engine *query.Engine, chat llm.Completer, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		cfg:      cfg,
		store:    store,
		index:    index,
		pipeline: pipeline,
		engine:   engine,
		searcher: search.New(store, index, logger),
		chat:     chat,
		validate: validator.New(),
		logger:   logger,
	}
}

// Router assembles the route tree. /metrics is mounted here only when
// no dedicated metrics listener is configured.
func (s *Server) Router() chi.Router {
	r := chi.NewRouter()
	r.Use(chimw.Recoverer)
	r.Use(s.instrument)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "PATCH", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type", "X-API-Key"},
	}))

	r.Get("/healthz", s.handleHealth)
	if s.cfg.MetricsAddr == "" {
		r.Handle("/metrics", promhttp.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.Post("/sessions/init", s.handleSessionInit)
		r.Get("/sessions/{sessionID}", s.handleSessionGet)
		r.Patch("/sessions/{sessionID}/preferences", s.handleSessionPreferences)

		r.Get("/repositories/{repoID}", s.handleRepositoryGet)
		r.Get("/repositories/{repoID}/tree", s.handleRepositoryTree)
		r.Get("/repositories/{repoID}/file", s.handleRepositoryFile)
		r.Get("/tasks/{taskID}", s.handleTaskGet)
		r.Get("/conversations/current", s.handleConversationCurrent)

		r.Group(func(r chi.Router) {
			r.Use(s.requireAPIKey)
			r.Post("/repositories/", s.handleRepositoryCreate)
			r.Post("/query/", s.handleQuery)
		})
	})
	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// embedderFor resolves the embedding provider for a session: explicit
// preferences first, then the configured default. The "mock" provider
// selects the deterministic embedder.
func (s *Server) embedderFor(sess *storage.Session) (ingestion.Embedder, error) {
	p := llm.Provider{
		Name:   s.cfg.EmbeddingProvider,
		Model:  s.cfg.EmbeddingModel,
		APIKey: s.cfg.AIAPIKey,
	}
	if sess.Preferences != nil && sess.Preferences.EmbeddingProvider != "" && sess.Preferences.EmbeddingModel != "" {
		p.Name = sess.Preferences.EmbeddingProvider
		p.Model = sess.Preferences.EmbeddingModel
	}
	if p.Name == "mock" {
		return embedding.NewMock(0), nil
	}
	if p.Name == "" || p.Model == "" {
		return nil, apierr.New(apierr.KindInvalidInput,
			"no embedding provider configured: set session preferences or EMBEDDING_PROVIDER")
	}
	return embedding.NewClient(p, s.cfg.Tuning, s.logger), nil
}
