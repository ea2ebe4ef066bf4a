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

package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/kraklabs/repomind/pkg/llm"
	"github.com/kraklabs/repomind/pkg/search"
	"github.com/kraklabs/repomind/pkg/storage"
)

// Source is one file location a tool result referenced.
type Source struct {
	FilePath  string `json:"file_path"`
	LineStart *int   `json:"line_start,omitempty"`
	LineEnd   *int   `json:"line_end,omitempty"`
}

// Outcome is what one tool execution hands back to the query engine:
// the JSON payload appended as the tool message, the number of result
// items for the progress event, and the sources it cited.
type Outcome struct {
	JSON    []byte
	Count   int
	Sources []Source
	IsError bool
}

type handler func(ctx context.Context, args json.RawMessage) (*Outcome, error)

// Registry binds the tool catalog to one repository.
type Registry struct {
	store    storage.Store
	searcher *search.Searcher
	embedder search.Embedder
	repoID   string
	timeout  time.Duration
	logger   *slog.Logger

	handlers map[string]handler
	defs     []llm.Tool
}

// New builds a registry for the repository. timeout bounds each tool
// execution; a timeout surfaces as an {"error": "timeout"} payload.
func New(store storage.Store, searcher *search.Searcher, embedder search.Embedder, repoID string, timeout time.Duration, logger *slog.Logger) *Registry {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Registry{
		store:    store,
		searcher: searcher,
		embedder: embedder,
		repoID:   repoID,
		timeout:  timeout,
		logger:   logger,
	}
	r.handlers = map[string]handler{
		"search_code":       r.searchCode,
		"get_repo_overview": r.repoOverview,
		"get_file_by_path":  r.fileByPath,
		"find_function":     r.findFunction,
		"search_files":      r.searchFiles,
	}
	r.defs = definitions()
	return r
}

// Definitions returns the catalog in the chat-completions tool schema.
func (r *Registry) Definitions() []llm.Tool {
	return r.defs
}

// Execute runs the named tool. The returned outcome is always usable
// as a tool message; failures are encoded in the payload.
func (r *Registry) Execute(ctx context.Context, name string, args json.RawMessage) *Outcome {
	h, ok := r.handlers[name]
	if !ok {
		return errorOutcome(fmt.Sprintf("unknown tool: %s", name))
	}

	tctx, cancel := context.WithTimeout(ctx, r.timeout)
	defer cancel()

	start := time.Now()
	out, err := h(tctx, args)
	elapsed := time.Since(start)
	switch {
	case tctx.Err() == context.DeadlineExceeded:
		r.logger.Warn("tool.timeout", "tool", name, "repo_id", r.repoID, "elapsed_ms", elapsed.Milliseconds())
		return errorOutcome("timeout")
	case err != nil:
		r.logger.Warn("tool.failed", "tool", name, "repo_id", r.repoID, "error", err)
		return errorOutcome(err.Error())
	}
	r.logger.Debug("tool.executed", "tool", name, "repo_id", r.repoID, "count", out.Count, "elapsed_ms", elapsed.Milliseconds())
	return out
}

func definitions() []llm.Tool {
	tool := func(name, desc string, params map[string]any, required ...string) llm.Tool {
		if required == nil {
			required = []string{}
		}
		return llm.Tool{
			Type: "function",
			Function: llm.ToolDefinition{
				Name:        name,
				Description: desc,
				Parameters: map[string]any{
					"type":       "object",
					"properties": params,
					"required":   required,
				},
			},
		}
	}
	return []llm.Tool{
		tool("search_code",
			"Search the repository for code and files relevant to a natural-language query. Returns ranked files with summaries and matching functions or classes.",
			map[string]any{
				"query": map[string]any{"type": "string", "description": "What to look for, in natural language or code terms."},
				"top_k": map[string]any{"type": "integer", "description": "Maximum number of files to return.", "default": 5},
			}, "query"),
		tool("get_repo_overview",
			"Get the repository overview and its most imported files with their summaries.",
			map[string]any{}),
		tool("get_file_by_path",
			"Fetch one file by its repository-relative path: content, language, summary, functions, classes and dependencies.",
			map[string]any{
				"path": map[string]any{"type": "string", "description": "Repository-relative file path."},
			}, "path"),
		tool("find_function",
			"Find a function or method by exact name across all files.",
			map[string]any{
				"name": map[string]any{"type": "string", "description": "Exact function name."},
			}, "name"),
		tool("search_files",
			"List files whose path contains the given substring, case-insensitively.",
			map[string]any{
				"pattern": map[string]any{"type": "string", "description": "Substring to match against file paths."},
			}, "pattern"),
	}
}

func newOutcome(payload any, count int, sources []Source) (*Outcome, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encode tool result: %w", err)
	}
	return &Outcome{JSON: raw, Count: count, Sources: sources}, nil
}

func errorOutcome(msg string) *Outcome {
	raw, _ := json.Marshal(map[string]string{"error": msg})
	return &Outcome{JSON: raw, IsError: true}
}
