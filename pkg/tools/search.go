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
	"errors"
	"strings"

	"github.com/kraklabs/repomind/pkg/search"
)

type searchCodeArgs struct {
	Query string `json:"query"`
	TopK  int    `json:"top_k"`
}

func (r *Registry) searchCode(ctx context.Context, raw json.RawMessage) (*Outcome, error) {
	var args searchCodeArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.New("invalid arguments: expected {query, top_k?}")
	}
	if strings.TrimSpace(args.Query) == "" {
		return nil, errors.New("'query' is required")
	}
	if args.TopK <= 0 {
		args.TopK = 5
	}

	results, err := r.searcher.Search(ctx, r.embedder, r.repoID, args.Query, args.TopK)
	if err != nil {
		return nil, err
	}

	var sources []Source
	for _, res := range results {
		sources = append(sources, Source{FilePath: res.Path})
		for _, el := range res.CodeElements {
			ls, le := el.LineStart, el.LineEnd
			sources = append(sources, Source{FilePath: res.Path, LineStart: &ls, LineEnd: &le})
		}
	}

	if results == nil {
		results = []search.Result{}
	}
	return newOutcome(map[string]any{"results": results}, len(results), sources)
}

type searchFilesArgs struct {
	Pattern string `json:"pattern"`
}

func (r *Registry) searchFiles(ctx context.Context, raw json.RawMessage) (*Outcome, error) {
	var args searchFilesArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.New("invalid arguments: expected {pattern}")
	}
	pattern := strings.ToLower(strings.TrimSpace(args.Pattern))
	if pattern == "" {
		return nil, errors.New("'pattern' is required")
	}

	files, err := r.store.ListFiles(ctx, r.repoID)
	if err != nil {
		return nil, err
	}

	type fileEntry struct {
		Path     string `json:"path"`
		Language string `json:"language,omitempty"`
		Size     int64  `json:"size"`
	}
	matches := []fileEntry{}
	var sources []Source
	for _, f := range files {
		if !strings.Contains(strings.ToLower(f.Path), pattern) {
			continue
		}
		matches = append(matches, fileEntry{Path: f.Path, Language: f.Language, Size: f.Size})
		sources = append(sources, Source{FilePath: f.Path})
	}
	return newOutcome(map[string]any{"files": matches}, len(matches), sources)
}
