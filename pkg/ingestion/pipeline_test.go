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

package ingestion

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"hash/fnv"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/internal/backoff"
	"github.com/kraklabs/repomind/internal/config"
	"github.com/kraklabs/repomind/pkg/githubapi"
	"github.com/kraklabs/repomind/pkg/storage"
)

// stubEmbedder returns a deterministic 8-dim vector per input text.
type stubEmbedder struct {
	err error
}

func (e *stubEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if e.err != nil {
		return nil, e.err
	}
	out := make([][]float32, len(texts))
	for i, t := range texts {
		h := fnv.New32a()
		h.Write([]byte(t))
		seed := h.Sum32()
		vec := make([]float32, 8)
		for d := range vec {
			vec[d] = float32((seed>>(d*4))&0xf) / 15
		}
		out[i] = vec
	}
	return out, nil
}

type stubSummarizer struct {
	err error
}

func (s *stubSummarizer) SummarizeFile(ctx context.Context, f *storage.File) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "Summary of " + f.Path + ".", nil
}

func (s *stubSummarizer) Overview(ctx context.Context, repoName string, top []storage.RankedFile) (string, error) {
	if s.err != nil {
		return "", s.err
	}
	return "Overview of " + repoName + ".", nil
}

// fakeRepoServer serves a minimal GitHub API for one repository.
func fakeRepoServer(t *testing.T, files map[string]string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/repos/alice/demo", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]any{
			"name":           "demo",
			"owner":          map[string]any{"login": "alice"},
			"default_branch": "main",
			"description":    "demo repo",
		})
	})
	mux.HandleFunc("/repos/alice/demo/languages", func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]int{"Python": 100})
	})
	mux.HandleFunc("/repos/alice/demo/git/trees/main", func(w http.ResponseWriter, r *http.Request) {
		var tree []map[string]any
		for p, content := range files {
			tree = append(tree, map[string]any{
				"path": p,
				"type": "blob",
				"size": len(content),
				"sha":  "sha-" + p,
			})
		}
		json.NewEncoder(w).Encode(map[string]any{"tree": tree})
	})
	mux.HandleFunc("/repos/alice/demo/git/blobs/", func(w http.ResponseWriter, r *http.Request) {
		sha := r.URL.Path[len("/repos/alice/demo/git/blobs/"):]
		content, ok := files[strings.TrimPrefix(sha, "sha-")]
		if !ok {
			http.NotFound(w, r)
			return
		}
		json.NewEncoder(w).Encode(map[string]any{
			"content":  base64.StdEncoding.EncodeToString([]byte(content)),
			"encoding": "base64",
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func newTestPipeline(t *testing.T, baseURL string) (*Pipeline, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	client := githubapi.NewClient(githubapi.Config{
		Token:   "test-token",
		BaseURL: baseURL,
		Retry:   backoff.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond},
	}, nil)
	tuning := config.DefaultTuning()
	tuning.BucketSize = 2
	return NewPipeline(mem, mem.Index(), client, NewParserPool(nil), tuning, nil), mem
}

func ingestDemo(t *testing.T, files map[string]string, emb Embedder, sum Summarizer) (*Pipeline, *storage.Memory, *storage.Repository, *storage.Task, error) {
	t.Helper()
	srv := fakeRepoServer(t, files)
	p, mem := newTestPipeline(t, srv.URL)
	ctx := context.Background()

	s, err := mem.CreateSession(ctx)
	require.NoError(t, err)

	repo, task, entries, err := p.Prepare(ctx, s.ID, "https://github.com/alice/demo")
	require.NoError(t, err)
	runErr := p.Run(ctx, repo, task, entries, emb, sum)
	return p, mem, repo, task, runErr
}

func TestPipelineEndToEnd(t *testing.T) {
	files := map[string]string{
		"a.py": "import b\n\ndef main():\n    return b.helper()\n",
		"b.py": "def helper():\n    return 42\n",
	}
	_, mem, repo, task, err := ingestDemo(t, files, &stubEmbedder{}, &stubSummarizer{})
	require.NoError(t, err)
	ctx := context.Background()

	got, err := mem.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.RepoStatusCompleted, got.Status)
	assert.Equal(t, 2, got.FileCount)
	assert.Equal(t, "Overview of alice/demo.", got.Overview)
	assert.Equal(t, 8, got.EmbeddingDim)

	a, err := mem.GetFile(ctx, repo.ID, "a.py")
	require.NoError(t, err)
	assert.True(t, a.Parsed)
	assert.Equal(t, []string{"b.py"}, a.Dependencies.Imports)
	assert.Equal(t, "Summary of a.py.", a.Summary)
	assert.True(t, a.Embedded)
	require.NotEmpty(t, a.Chunks)
	assert.Equal(t, "main", a.Chunks[0].Name)

	b, err := mem.GetFile(ctx, repo.ID, "b.py")
	require.NoError(t, err)
	assert.Equal(t, []string{"a.py"}, b.Dependencies.ImportedBy)

	gotTask, err := mem.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskCompleted, gotTask.Status)
	assert.Equal(t, storage.StepCompleted, gotTask.Progress.CurrentStep)
	assert.Equal(t, 2, gotTask.Progress.TotalFiles)
	assert.Equal(t, 2, gotTask.Progress.ProcessedFiles)

	// Summary vectors are queryable.
	vecs, err := (&stubEmbedder{}).Embed(ctx, []string{"Summary of a.py."})
	require.NoError(t, err)
	hits, err := mem.Index().QuerySummaries(ctx, repo.ID, vecs[0], 5)
	require.NoError(t, err)
	require.NotEmpty(t, hits)
	assert.Equal(t, "a.py", hits[0].Path)
}

func TestPipelineEmptyRepository(t *testing.T) {
	_, mem, repo, task, err := ingestDemo(t, map[string]string{}, &stubEmbedder{}, &stubSummarizer{})
	require.NoError(t, err)
	ctx := context.Background()

	got, err := mem.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.RepoStatusCompleted, got.Status)
	assert.Equal(t, 0, got.FileCount)
	assert.Equal(t, emptyRepoOverview, got.Overview)

	gotTask, err := mem.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskCompleted, gotTask.Status)
}

func TestPipelineUnauthorizedProviderFailsRun(t *testing.T) {
	files := map[string]string{"a.py": "def f():\n    pass\n"}
	fatal := apierr.New(apierr.KindUnauthorizedLLM, "invalid API key")
	_, mem, repo, task, err := ingestDemo(t, files, &stubEmbedder{}, &stubSummarizer{err: fatal})
	require.Error(t, err)
	ctx := context.Background()

	got, err := mem.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.RepoStatusFailed, got.Status)
	assert.Equal(t, "invalid API key", got.ErrorMessage)

	gotTask, err := mem.GetTask(ctx, task.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.TaskFailed, gotTask.Status)
}

func TestPipelineSummaryErrorIsPerFile(t *testing.T) {
	files := map[string]string{"a.py": "def f():\n    pass\n"}
	soft := apierr.New(apierr.KindLLMFailure, "model overloaded")
	_, mem, repo, _, err := ingestDemo(t, files, &stubEmbedder{}, &stubSummarizer{err: soft})
	require.NoError(t, err)
	ctx := context.Background()

	got, err := mem.GetRepository(ctx, repo.ID)
	require.NoError(t, err)
	assert.Equal(t, storage.RepoStatusCompleted, got.Status)

	a, err := mem.GetFile(ctx, repo.ID, "a.py")
	require.NoError(t, err)
	assert.Empty(t, a.Summary)
	assert.Contains(t, a.Meta.Error, "model overloaded")
}

func TestBuckets(t *testing.T) {
	var got [][]int
	for b := range buckets(5, 2) {
		got = append(got, b)
	}
	require.Len(t, got, 3)
	assert.Equal(t, []int{0, 1}, got[0])
	assert.Equal(t, []int{2, 3}, got[1])
	assert.Equal(t, []int{4}, got[2])
}
