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
	"fmt"
	"strings"

	"github.com/kraklabs/repomind/pkg/storage"
)

// overviewKeyFiles caps the key-file list in the overview payload.
const overviewKeyFiles = 10

func (r *Registry) repoOverview(ctx context.Context, _ json.RawMessage) (*Outcome, error) {
	repo, err := r.store.GetRepository(ctx, r.repoID)
	if err != nil {
		return nil, err
	}
	top, err := r.store.TopImportedFiles(ctx, r.repoID, overviewKeyFiles)
	if err != nil {
		return nil, err
	}

	type keyFile struct {
		Path    string `json:"path"`
		Summary string `json:"summary"`
	}
	keyFiles := make([]keyFile, 0, len(top))
	var sources []Source
	for _, rf := range top {
		keyFiles = append(keyFiles, keyFile{Path: rf.Path, Summary: rf.Summary})
		sources = append(sources, Source{FilePath: rf.Path})
	}

	overview := repo.Overview
	if overview == "" {
		overview = "No overview has been generated for this repository."
	}
	return newOutcome(map[string]any{
		"overview":  overview,
		"key_files": keyFiles,
	}, 1, sources)
}

type fileByPathArgs struct {
	Path string `json:"path"`
}

func (r *Registry) fileByPath(ctx context.Context, raw json.RawMessage) (*Outcome, error) {
	var args fileByPathArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.New("invalid arguments: expected {path}")
	}
	path := strings.TrimSpace(args.Path)
	if path == "" {
		return nil, errors.New("'path' is required")
	}

	f, err := r.store.GetFile(ctx, r.repoID, path)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("file not found: %s", path)
	}
	if err != nil {
		return nil, err
	}

	payload := map[string]any{
		"path":         f.Path,
		"language":     f.Language,
		"content":      f.Content,
		"functions":    orEmptyFunctions(f.Functions),
		"classes":      orEmptyClasses(f.Classes),
		"dependencies": f.Dependencies,
	}
	if f.Summary != "" {
		payload["summary"] = f.Summary
	}
	return newOutcome(payload, 1, []Source{{FilePath: f.Path}})
}

type findFunctionArgs struct {
	Name string `json:"name"`
}

func (r *Registry) findFunction(ctx context.Context, raw json.RawMessage) (*Outcome, error) {
	var args findFunctionArgs
	if err := json.Unmarshal(raw, &args); err != nil {
		return nil, errors.New("invalid arguments: expected {name}")
	}
	name := strings.TrimSpace(args.Name)
	if name == "" {
		return nil, errors.New("'name' is required")
	}

	files, err := r.store.FindFunction(ctx, r.repoID, name)
	if err != nil {
		return nil, err
	}

	type match struct {
		Path     string           `json:"path"`
		Function storage.Function `json:"function"`
	}
	matches := []match{}
	var sources []Source
	for _, f := range files {
		for _, fn := range f.Functions {
			if fn.Name != name {
				continue
			}
			matches = append(matches, match{Path: f.Path, Function: fn})
			ls, le := fn.LineStart, fn.LineEnd
			sources = append(sources, Source{FilePath: f.Path, LineStart: &ls, LineEnd: &le})
		}
	}
	return newOutcome(map[string]any{"matches": matches}, len(matches), sources)
}

func orEmptyFunctions(fns []storage.Function) []storage.Function {
	if fns == nil {
		return []storage.Function{}
	}
	return fns
}

func orEmptyClasses(cls []storage.Class) []storage.Class {
	if cls == nil {
		return []storage.Class{}
	}
	return cls
}
