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
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repomind/pkg/search"
	"github.com/kraklabs/repomind/pkg/storage"
)

const repoID = "repo-1"

type fixedEmbedder struct{}

func (fixedEmbedder) Embed(_ context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i := range texts {
		out[i] = []float32{1, 0}
	}
	return out, nil
}

func newTestRegistry(t *testing.T) (*Registry, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	ctx := context.Background()

	require.NoError(t, mem.CreateRepository(ctx, &storage.Repository{
		ID: repoID, Owner: "alice", Name: "demo",
		Status:   storage.RepoStatusCompleted,
		Overview: "A small demo project for parsing and rendering trees.",
	}))

	files := []storage.File{
		{
			ID: "f-a", RepoID: repoID, Path: "pkg/parser.go", Filename: "parser.go",
			Language: "go", Content: "package parser\n",
			Summary: "Parses source files into trees.",
			Functions: []storage.Function{
				{Name: "Parse", Signature: "func Parse(src []byte) (*Tree, error)", LineStart: 10, LineEnd: 30},
			},
			Dependencies: storage.Dependencies{ImportedBy: []string{"pkg/render.go"}},
			Chunks: []storage.Chunk{
				{Type: storage.ChunkTypeFunction, Name: "Parse", Text: "Function Parse in pkg/parser.go",
					Code: "func Parse(src []byte) (*Tree, error) {}", LineStart: 10, LineEnd: 30, Index: 0, Total: 1},
			},
		},
		{
			ID: "f-b", RepoID: repoID, Path: "pkg/render.go", Filename: "render.go",
			Language: "go", Content: "package render\n",
			Summary: "Renders trees to text.",
		},
	}
	for i := range files {
		require.NoError(t, mem.UpsertFile(ctx, &files[i]))
	}

	idx := mem.Index()
	require.NoError(t, idx.EnsureRepo(ctx, repoID, 2))
	require.NoError(t, idx.UpsertSummaries(ctx, repoID, []storage.SummaryPoint{
		{FileID: "f-a", Path: "pkg/parser.go", Vector: []float32{1, 0}},
		{FileID: "f-b", Path: "pkg/render.go", Vector: []float32{0, 1}},
	}))
	require.NoError(t, idx.UpsertChunks(ctx, repoID, []storage.ChunkPoint{
		{FileID: "f-a", Path: "pkg/parser.go", ChunkIndex: 0, Vector: []float32{1, 0}},
	}))

	searcher := search.New(mem, idx, nil)
	return New(mem, searcher, fixedEmbedder{}, repoID, time.Second, nil), mem
}

func decode(t *testing.T, out *Outcome) map[string]any {
	t.Helper()
	var m map[string]any
	require.NoError(t, json.Unmarshal(out.JSON, &m))
	return m
}

func TestDefinitionsCoverCatalog(t *testing.T) {
	r, _ := newTestRegistry(t)
	names := map[string]bool{}
	for _, d := range r.Definitions() {
		assert.Equal(t, "function", d.Type)
		names[d.Function.Name] = true
		params, ok := d.Function.Parameters["properties"]
		require.True(t, ok, "%s missing properties", d.Function.Name)
		require.NotNil(t, params)
	}
	for _, want := range []string{"search_code", "get_repo_overview", "get_file_by_path", "find_function", "search_files"} {
		assert.True(t, names[want], "missing tool %s", want)
	}
}

func TestExecuteUnknownTool(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := r.Execute(context.Background(), "explode", json.RawMessage(`{}`))
	assert.True(t, out.IsError)
	assert.Contains(t, string(out.JSON), "unknown tool")
}

func TestExecuteTimeout(t *testing.T) {
	r, _ := newTestRegistry(t)
	r.timeout = 10 * time.Millisecond
	r.handlers["slow"] = func(ctx context.Context, _ json.RawMessage) (*Outcome, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	}

	out := r.Execute(context.Background(), "slow", nil)
	assert.True(t, out.IsError)
	assert.JSONEq(t, `{"error":"timeout"}`, string(out.JSON))
}

func TestSearchCode(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := r.Execute(context.Background(), "search_code", json.RawMessage(`{"query":"parse"}`))
	require.False(t, out.IsError, string(out.JSON))

	m := decode(t, out)
	results := m["results"].([]any)
	require.NotEmpty(t, results)
	first := results[0].(map[string]any)
	assert.Equal(t, "pkg/parser.go", first["path"])
	assert.Equal(t, "Parses source files into trees.", first["summary"])

	require.NotEmpty(t, out.Sources)
	assert.Equal(t, "pkg/parser.go", out.Sources[0].FilePath)
	// The chunk hit contributes a line-ranged source.
	var ranged bool
	for _, s := range out.Sources {
		if s.LineStart != nil && *s.LineStart == 10 {
			ranged = true
		}
	}
	assert.True(t, ranged)
}

func TestSearchCodeMissingQuery(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := r.Execute(context.Background(), "search_code", json.RawMessage(`{}`))
	assert.True(t, out.IsError)
	assert.Contains(t, string(out.JSON), "query")
}

func TestGetRepoOverview(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := r.Execute(context.Background(), "get_repo_overview", nil)
	require.False(t, out.IsError, string(out.JSON))

	m := decode(t, out)
	assert.Equal(t, "A small demo project for parsing and rendering trees.", m["overview"])
	keyFiles := m["key_files"].([]any)
	require.Len(t, keyFiles, 2)
	// parser.go has one importer, render.go none.
	assert.Equal(t, "pkg/parser.go", keyFiles[0].(map[string]any)["path"])
}

func TestGetFileByPath(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := r.Execute(context.Background(), "get_file_by_path", json.RawMessage(`{"path":"pkg/parser.go"}`))
	require.False(t, out.IsError, string(out.JSON))

	m := decode(t, out)
	assert.Equal(t, "pkg/parser.go", m["path"])
	assert.Equal(t, "go", m["language"])
	assert.Equal(t, "package parser\n", m["content"])
	assert.Equal(t, "Parses source files into trees.", m["summary"])
	require.Len(t, m["functions"].([]any), 1)
	assert.Equal(t, 1, out.Count)
	require.Len(t, out.Sources, 1)
	assert.Equal(t, "pkg/parser.go", out.Sources[0].FilePath)
}

func TestGetFileByPathNotFound(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := r.Execute(context.Background(), "get_file_by_path", json.RawMessage(`{"path":"missing.go"}`))
	assert.True(t, out.IsError)
	assert.Contains(t, string(out.JSON), "file not found")
}

func TestFindFunction(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := r.Execute(context.Background(), "find_function", json.RawMessage(`{"name":"Parse"}`))
	require.False(t, out.IsError, string(out.JSON))

	m := decode(t, out)
	matches := m["matches"].([]any)
	require.Len(t, matches, 1)
	match := matches[0].(map[string]any)
	assert.Equal(t, "pkg/parser.go", match["path"])
	fn := match["function"].(map[string]any)
	assert.Equal(t, "Parse", fn["name"])
	assert.Equal(t, float64(10), fn["line_start"])

	require.Len(t, out.Sources, 1)
	require.NotNil(t, out.Sources[0].LineStart)
	assert.Equal(t, 10, *out.Sources[0].LineStart)
	assert.Equal(t, 30, *out.Sources[0].LineEnd)
}

func TestFindFunctionNoMatch(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := r.Execute(context.Background(), "find_function", json.RawMessage(`{"name":"Nope"}`))
	require.False(t, out.IsError)
	m := decode(t, out)
	assert.Empty(t, m["matches"])
	assert.Equal(t, 0, out.Count)
}

func TestSearchFiles(t *testing.T) {
	r, _ := newTestRegistry(t)
	out := r.Execute(context.Background(), "search_files", json.RawMessage(`{"pattern":"RENDER"}`))
	require.False(t, out.IsError, string(out.JSON))

	m := decode(t, out)
	files := m["files"].([]any)
	require.Len(t, files, 1)
	assert.Equal(t, "pkg/render.go", files[0].(map[string]any)["path"])
}
