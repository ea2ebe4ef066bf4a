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

package search

import (
	"context"
	"errors"
	"log/slog"
	"path"
	"sort"
	"strings"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/repomind/pkg/storage"
)

const (
	vectorWeight  = 0.7
	textWeight    = 0.3
	filenameBoost = 1.3
)

// Embedder turns texts into vectors. The query side only ever embeds a
// single text.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// CodeElement is one function- or class-level chunk surviving in a
// search result.
type CodeElement struct {
	ChunkName string            `json:"chunk_name"`
	ChunkType storage.ChunkType `json:"chunk_type"`
	LineStart int               `json:"line_start"`
	LineEnd   int               `json:"line_end"`
	Code      string            `json:"code"`
}

// Result is one file-level search hit. Score combines vector and
// lexical relevance.
type Result struct {
	FileID       string        `json:"file_id"`
	Path         string        `json:"path"`
	Language     string        `json:"language,omitempty"`
	Summary      string        `json:"summary,omitempty"`
	CodeElements []CodeElement `json:"code_elements,omitempty"`
	Score        float64       `json:"score"`
}

// Searcher ranks repository files by blending nearest-neighbor
// similarity with lexical relevance.
type Searcher struct {
	store  storage.Store
	index  storage.VectorIndex
	logger *slog.Logger
}

func New(store storage.Store, index storage.VectorIndex, logger *slog.Logger) *Searcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Searcher{store: store, index: index, logger: logger}
}

// candidate is one (file, optional chunk) scoring unit before
// per-file grouping. chunkIndex is -1 for summary-side candidates.
type candidate struct {
	fileID     string
	path       string
	chunkIndex int
	score      float64
	summaryHit bool
}

// Search embeds the query, fans out the two vector queries and the
// lexical query in parallel, scores candidates, groups them by file and
// returns the top k.
func (s *Searcher) Search(ctx context.Context, embedder Embedder, repoID, query string, topK int) ([]Result, error) {
	if topK <= 0 {
		topK = 5
	}
	vecs, err := embedder.Embed(ctx, []string{query})
	if err != nil {
		return nil, err
	}
	if len(vecs) == 0 {
		return nil, errors.New("embedder returned no vector for query")
	}
	qvec := vecs[0]

	var summaryHits, chunkHits []storage.VectorHit
	var lexHits []storage.LexicalHit
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		summaryHits, err = s.index.QuerySummaries(gctx, repoID, qvec, 2*topK)
		return err
	})
	g.Go(func() error {
		var err error
		chunkHits, err = s.index.QueryChunks(gctx, repoID, qvec, 2*topK)
		return err
	})
	g.Go(func() error {
		var err error
		lexHits, err = s.store.LexicalSearch(gctx, repoID, query, 4*topK)
		return err
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	textScores := make(map[string]float64, len(lexHits))
	lexPaths := make(map[string]string, len(lexHits))
	for _, h := range lexHits {
		if h.Score > textScores[h.FileID] {
			textScores[h.FileID] = h.Score
		}
		lexPaths[h.FileID] = h.Path
	}

	tokens := queryTokens(query)
	score := func(fileID, filePath string, vectorScore float64) float64 {
		boost := 1.0
		if matchesFilename(tokens, filePath) {
			boost = filenameBoost
		}
		return boost * (vectorWeight*vectorScore + textWeight*textScores[fileID])
	}

	var cands []candidate
	seen := make(map[string]map[int]bool) // fileID -> chunkIndex present
	mark := func(fileID string, chunkIndex int) bool {
		m, ok := seen[fileID]
		if !ok {
			m = make(map[int]bool)
			seen[fileID] = m
		}
		if m[chunkIndex] {
			return false
		}
		m[chunkIndex] = true
		return true
	}

	for _, h := range summaryHits {
		if !mark(h.FileID, -1) {
			continue
		}
		cands = append(cands, candidate{
			fileID: h.FileID, path: h.Path, chunkIndex: -1,
			score: score(h.FileID, h.Path, h.Similarity), summaryHit: true,
		})
	}
	for _, h := range chunkHits {
		if !mark(h.FileID, h.ChunkIndex) {
			continue
		}
		cands = append(cands, candidate{
			fileID: h.FileID, path: h.Path, chunkIndex: h.ChunkIndex,
			score: score(h.FileID, h.Path, h.Similarity),
		})
	}
	// Lexical-only files enter with zero vector similarity.
	for fileID, p := range lexPaths {
		if _, ok := seen[fileID]; ok {
			continue
		}
		cands = append(cands, candidate{
			fileID: fileID, path: p, chunkIndex: -1,
			score: score(fileID, p, 0),
		})
	}

	return s.assemble(ctx, repoID, cands, topK)
}

// group is the per-file aggregation of candidates.
type group struct {
	fileID     string
	path       string
	score      float64
	summaryHit bool
	chunks     []int
}

func (s *Searcher) assemble(ctx context.Context, repoID string, cands []candidate, topK int) ([]Result, error) {
	byFile := make(map[string]*group)
	var order []string
	for _, c := range cands {
		g, ok := byFile[c.fileID]
		if !ok {
			g = &group{fileID: c.fileID, path: c.path}
			byFile[c.fileID] = g
			order = append(order, c.fileID)
		}
		if c.score > g.score {
			g.score = c.score
		}
		if c.summaryHit {
			g.summaryHit = true
		}
		if c.chunkIndex >= 0 {
			g.chunks = append(g.chunks, c.chunkIndex)
		}
	}

	groups := make([]*group, 0, len(byFile))
	for _, id := range order {
		groups = append(groups, byFile[id])
	}
	sort.SliceStable(groups, func(i, j int) bool {
		if groups[i].score != groups[j].score {
			return groups[i].score > groups[j].score
		}
		return groups[i].fileID < groups[j].fileID
	})
	if len(groups) > topK {
		groups = groups[:topK]
	}

	results := make([]Result, 0, len(groups))
	for _, g := range groups {
		r := Result{FileID: g.fileID, Path: g.path, Score: g.score}
		f, err := s.store.GetFile(ctx, repoID, g.path)
		if err != nil {
			// The index can briefly outlive a deleted file; keep the
			// bare hit rather than failing the search.
			s.logger.Warn("search.hydrate.missing", "repo_id", repoID, "path", g.path, "error", err)
			results = append(results, r)
			continue
		}
		r.Language = f.Language
		if g.summaryHit {
			r.Summary = f.Summary
		}
		sort.Ints(g.chunks)
		for _, idx := range g.chunks {
			if idx < 0 || idx >= len(f.Chunks) {
				continue
			}
			ch := f.Chunks[idx]
			r.CodeElements = append(r.CodeElements, CodeElement{
				ChunkName: ch.Name,
				ChunkType: ch.Type,
				LineStart: ch.LineStart,
				LineEnd:   ch.LineEnd,
				Code:      ch.Code,
			})
		}
		results = append(results, r)
	}
	return results, nil
}

func queryTokens(query string) []string {
	fields := strings.Fields(strings.ToLower(query))
	out := fields[:0]
	for _, f := range fields {
		if f != "" {
			out = append(out, f)
		}
	}
	return out
}

// matchesFilename reports whether any query token appears in the
// candidate's base filename, case-insensitively.
func matchesFilename(tokens []string, filePath string) bool {
	name := strings.ToLower(path.Base(filePath))
	for _, t := range tokens {
		if strings.Contains(name, t) {
			return true
		}
	}
	return false
}
