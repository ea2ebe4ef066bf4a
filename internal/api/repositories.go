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
	"context"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/pkg/llm"
	"github.com/kraklabs/repomind/pkg/storage"
)

type repositoryCreateRequest struct {
	SessionID string `json:"session_id" validate:"required"`
	GitHubURL string `json:"github_url" validate:"required,url"`
}

type repositoryMetadata struct {
	Owner         string         `json:"owner"`
	Name          string         `json:"name"`
	DefaultBranch string         `json:"default_branch"`
	Description   string         `json:"description,omitempty"`
	TotalFiles    int            `json:"total_files"`
	Languages     map[string]int `json:"languages,omitempty"`
}

type repositoryCreateResponse struct {
	RepoID   string             `json:"repo_id"`
	TaskID   string             `json:"task_id"`
	Status   storage.RepoStatus `json:"status"`
	Metadata repositoryMetadata `json:"metadata"`
}

// handleRepositoryCreate registers the repository and starts ingestion
// in the background. Provider resolution happens up front so a
// misconfigured session fails the request instead of the pipeline.
func (s *Server) handleRepositoryCreate(w http.ResponseWriter, r *http.Request) {
	var req repositoryCreateRequest
	if err := s.decodeBody(r, &req); err != nil {
		s.writeError(w, r, err)
		return
	}
	sess, err := s.store.GetSession(r.Context(), req.SessionID)
	if err != nil {
		s.writeError(w, r, sessionNotFound(err, req.SessionID))
		return
	}
	provider, err := s.engine.ResolveProvider(sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	embedder, err := s.embedderFor(sess)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	repo, task, entries, err := s.pipeline.Prepare(r.Context(), req.SessionID, req.GitHubURL)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	summarizer := llm.NewService(s.chat, provider)
	go func() {
		// The request context dies with the response; ingestion outlives it.
		if err := s.pipeline.Run(context.Background(), repo, task, entries, embedder, summarizer); err != nil {
			s.logger.Error("api.ingestion.failed", "repo_id", repo.ID, "error", err)
		}
	}()

	s.writeJSON(w, http.StatusAccepted, repositoryCreateResponse{
		RepoID: repo.ID,
		TaskID: task.ID,
		Status: repo.Status,
		Metadata: repositoryMetadata{
			Owner:         repo.Owner,
			Name:          repo.Name,
			DefaultBranch: repo.DefaultBranch,
			Description:   repo.Description,
			TotalFiles:    len(entries),
			Languages:     repo.Languages,
		},
	})
}

func (s *Server) handleRepositoryGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "repoID")
	repo, err := s.store.GetRepository(r.Context(), id)
	if err != nil {
		s.writeError(w, r, repoNotFound(err, id))
		return
	}
	// The tree has its own endpoint; keep the repository view small.
	view := *repo
	view.FileTree = nil
	s.writeJSON(w, http.StatusOK, view)
}

func (s *Server) handleRepositoryTree(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "repoID")
	repo, err := s.store.GetRepository(r.Context(), id)
	if err != nil {
		s.writeError(w, r, repoNotFound(err, id))
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"repo_id":   repo.ID,
		"file_tree": repo.FileTree,
	})
}

func (s *Server) handleRepositoryFile(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "repoID")
	path := r.URL.Query().Get("path")
	if path == "" {
		s.writeError(w, r, apierr.New(apierr.KindInvalidInput, "path query parameter is required"))
		return
	}
	f, err := s.store.GetFile(r.Context(), id, path)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, r, apierr.Newf(apierr.KindNotFound, "file %s not found", path))
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, f)
}

func (s *Server) handleTaskGet(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "taskID")
	task, err := s.store.GetTask(r.Context(), id)
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			s.writeError(w, r, apierr.Newf(apierr.KindNotFound, "task %s not found", id))
			return
		}
		s.writeError(w, r, err)
		return
	}
	s.writeJSON(w, http.StatusOK, task)
}

func repoNotFound(err error, id string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apierr.Newf(apierr.KindNotFound, "repository %s not found", id)
	}
	return err
}
