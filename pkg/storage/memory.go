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

package storage

import (
	"context"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Memory is an in-process Store and VectorIndex used by tests and by
// dry-run CLI ingestion. Lexical relevance is approximated with
// tokenized substring matching and term-frequency normalization, which
// keeps scores in [0,1] as the search contract requires.
type Memory struct {
	mu            sync.RWMutex
	sessions      map[string]*Session
	repos         map[string]*Repository
	files         map[string]map[string]*File // repoID -> path -> file
	tasks         map[string]*Task
	conversations map[string]*Conversation // key session|repo
	messages      map[string][]Message     // conversationID -> ordered
	summaryVecs   map[string][]SummaryPoint
	chunkVecs     map[string][]ChunkPoint
	dims          map[string]int
}

// NewMemory creates an empty in-memory store.
func NewMemory() *Memory {
	return &Memory{
		sessions:      make(map[string]*Session),
		repos:         make(map[string]*Repository),
		files:         make(map[string]map[string]*File),
		tasks:         make(map[string]*Task),
		conversations: make(map[string]*Conversation),
		messages:      make(map[string][]Message),
		summaryVecs:   make(map[string][]SummaryPoint),
		chunkVecs:     make(map[string][]ChunkPoint),
		dims:          make(map[string]int),
	}
}

func (m *Memory) Close() {}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func (m *Memory) CreateSession(ctx context.Context) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := &Session{
		ID:        uuid.NewString(),
		RepoIDs:   []string{},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	m.sessions[s.ID] = s
	cp := *s
	return &cp, nil
}

func (m *Memory) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	cp.RepoIDs = append([]string(nil), s.RepoIDs...)
	if s.Preferences != nil {
		prefs := *s.Preferences
		cp.Preferences = &prefs
	}
	return &cp, nil
}

func (m *Memory) UpdateSessionPreferences(ctx context.Context, sessionID string, prefs Preferences) (*Session, error) {
	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return nil, ErrNotFound
	}
	s.Preferences = &prefs
	s.UpdatedAt = time.Now().UTC()
	m.mu.Unlock()
	return m.GetSession(ctx, sessionID)
}

func (m *Memory) AddSessionRepo(ctx context.Context, sessionID, repoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[sessionID]
	if !ok {
		return ErrNotFound
	}
	for _, id := range s.RepoIDs {
		if id == repoID {
			return nil
		}
	}
	s.RepoIDs = append(s.RepoIDs, repoID)
	return nil
}

// ---------------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------------

func (m *Memory) CreateRepository(ctx context.Context, repo *Repository) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	repo.CreatedAt = now
	repo.UpdatedAt = now
	cp := *repo
	m.repos[repo.ID] = &cp
	if m.files[repo.ID] == nil {
		m.files[repo.ID] = make(map[string]*File)
	}
	return nil
}

func (m *Memory) GetRepository(ctx context.Context, repoID string) (*Repository, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	r, ok := m.repos[repoID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *r
	return &cp, nil
}

func (m *Memory) UpdateRepositoryStatus(ctx context.Context, repoID string, status RepoStatus, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.repos[repoID]
	if !ok {
		return ErrNotFound
	}
	if r.Status == RepoStatusCompleted || r.Status == RepoStatusFailed {
		return nil
	}
	r.Status = status
	r.ErrorMessage = errMsg
	r.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) SetRepositoryFileCount(ctx context.Context, repoID string, count int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.repos[repoID]; ok {
		r.FileCount = count
	}
	return nil
}

func (m *Memory) SetRepositoryEmbeddingDim(ctx context.Context, repoID string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.repos[repoID]; ok && r.EmbeddingDim == 0 {
		r.EmbeddingDim = dim
	}
	return nil
}

func (m *Memory) SaveRepositoryOverview(ctx context.Context, repoID, overview string, vec []float32) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if r, ok := m.repos[repoID]; ok {
		r.Overview = overview
		r.OverviewVec = vec
	}
	return nil
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

func (m *Memory) UpsertFile(ctx context.Context, f *File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.files[f.RepoID] == nil {
		m.files[f.RepoID] = make(map[string]*File)
	}
	if existing, ok := m.files[f.RepoID][f.Path]; ok {
		f.ID = existing.ID
	} else if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	f.UpdatedAt = now
	if f.CreatedAt.IsZero() {
		f.CreatedAt = now
	}
	cp := *f
	m.files[f.RepoID][f.Path] = &cp
	return nil
}

func (m *Memory) GetFile(ctx context.Context, repoID, path string) (*File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	f, ok := m.files[repoID][path]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *f
	return &cp, nil
}

func (m *Memory) sortedFiles(repoID string) []*File {
	files := make([]*File, 0, len(m.files[repoID]))
	for _, f := range m.files[repoID] {
		files = append(files, f)
	}
	sort.Slice(files, func(i, j int) bool { return files[i].Path < files[j].Path })
	return files
}

func (m *Memory) ListFiles(ctx context.Context, repoID string) ([]File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []File
	for _, f := range m.sortedFiles(repoID) {
		out = append(out, *f)
	}
	return out, nil
}

func (m *Memory) ListFilePaths(ctx context.Context, repoID string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for _, f := range m.sortedFiles(repoID) {
		out = append(out, f.Path)
	}
	return out, nil
}

func (m *Memory) UpdateFileStructure(ctx context.Context, f *File) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	existing, ok := m.files[f.RepoID][f.Path]
	if !ok {
		return ErrNotFound
	}
	existing.Parsed = f.Parsed
	existing.Functions = f.Functions
	existing.Classes = f.Classes
	existing.Imports = f.Imports
	existing.Language = f.Language
	existing.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) UpdateFileDependencies(ctx context.Context, repoID, path string, deps Dependencies) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[repoID][path]
	if !ok {
		return ErrNotFound
	}
	f.Dependencies = deps
	return nil
}

func (m *Memory) UpdateFileSummary(ctx context.Context, repoID, path, summary string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[repoID][path]
	if !ok {
		return ErrNotFound
	}
	f.Summary = summary
	return nil
}

func (m *Memory) UpdateFileChunks(ctx context.Context, repoID, path string, chunks []Chunk, embedded bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[repoID][path]
	if !ok {
		return ErrNotFound
	}
	f.Chunks = chunks
	f.Embedded = embedded
	return nil
}

func (m *Memory) SetFileError(ctx context.Context, repoID, path, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	f, ok := m.files[repoID][path]
	if !ok {
		return ErrNotFound
	}
	f.Meta.Error = errMsg
	return nil
}

func (m *Memory) FindFunction(ctx context.Context, repoID, name string) ([]File, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []File
	for _, f := range m.sortedFiles(repoID) {
		for _, fn := range f.Functions {
			if fn.Name == name {
				out = append(out, *f)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) TopImportedFiles(ctx context.Context, repoID string, k int) ([]RankedFile, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var ranked []RankedFile
	for _, f := range m.sortedFiles(repoID) {
		if f.Summary == "" {
			continue
		}
		ranked = append(ranked, RankedFile{
			Path:          f.Path,
			Summary:       f.Summary,
			ImportedByLen: len(f.Dependencies.ImportedBy),
		})
	}
	sort.SliceStable(ranked, func(i, j int) bool {
		if ranked[i].ImportedByLen != ranked[j].ImportedByLen {
			return ranked[i].ImportedByLen > ranked[j].ImportedByLen
		}
		return ranked[i].Path < ranked[j].Path
	})
	if len(ranked) > k {
		ranked = ranked[:k]
	}
	return ranked, nil
}

func tokenize(s string) []string {
	return strings.Fields(strings.ToLower(s))
}

// LexicalSearch approximates full-text relevance: term frequency of
// query tokens over the file's searchable text, squashed with
// tf/(tf+1) so scores stay in [0,1].
func (m *Memory) LexicalSearch(ctx context.Context, repoID, query string, limit int) ([]LexicalHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	terms := tokenize(query)
	if len(terms) == 0 {
		return nil, nil
	}
	var hits []LexicalHit
	for _, f := range m.sortedFiles(repoID) {
		var sb strings.Builder
		sb.WriteString(f.Path)
		sb.WriteByte(' ')
		sb.WriteString(f.Summary)
		for _, c := range f.Chunks {
			sb.WriteByte(' ')
			sb.WriteString(c.Name)
			sb.WriteByte(' ')
			sb.WriteString(c.Text)
			sb.WriteByte(' ')
			sb.WriteString(c.Code)
		}
		text := strings.ToLower(sb.String())
		tf := 0
		for _, t := range terms {
			tf += strings.Count(text, t)
		}
		if tf == 0 {
			continue
		}
		score := float64(tf) / (float64(tf) + 1)
		hits = append(hits, LexicalHit{FileID: f.ID, Path: f.Path, Score: score})
	}
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Score != hits[j].Score {
			return hits[i].Score > hits[j].Score
		}
		return hits[i].FileID < hits[j].FileID
	})
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

func (m *Memory) CreateTask(ctx context.Context, t *Task) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Progress.CurrentStep == "" {
		t.Progress.CurrentStep = StepQueued
	}
	cp := *t
	m.tasks[t.ID] = &cp
	return nil
}

func (m *Memory) GetTask(ctx context.Context, taskID string) (*Task, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *Memory) UpdateTaskProgress(ctx context.Context, taskID string, pr Progress) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if t.Status == TaskCompleted || t.Status == TaskFailed {
		return nil
	}
	if pr.TotalFiles > t.Progress.TotalFiles {
		t.Progress.TotalFiles = pr.TotalFiles
	}
	if pr.ProcessedFiles > t.Progress.ProcessedFiles {
		t.Progress.ProcessedFiles = pr.ProcessedFiles
	}
	if StepRank(pr.CurrentStep) >= StepRank(t.Progress.CurrentStep) {
		t.Progress.CurrentStep = pr.CurrentStep
	}
	t.Status = TaskInProgress
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) CompleteTask(ctx context.Context, taskID string, result map[string]any) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if t.Status == TaskCompleted || t.Status == TaskFailed {
		return nil
	}
	t.Status = TaskCompleted
	t.Progress.CurrentStep = StepCompleted
	if t.Progress.ProcessedFiles < t.Progress.TotalFiles {
		t.Progress.ProcessedFiles = t.Progress.TotalFiles
	}
	t.Result = result
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) FailTask(ctx context.Context, taskID, errMsg string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, ok := m.tasks[taskID]
	if !ok {
		return ErrNotFound
	}
	if t.Status == TaskCompleted || t.Status == TaskFailed {
		return nil
	}
	t.Status = TaskFailed
	t.Error = errMsg
	t.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *Memory) MarkInterruptedTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cutoff := time.Now().UTC().Add(-olderThan)
	n := 0
	for _, t := range m.tasks {
		if t.Status == TaskInProgress && t.UpdatedAt.Before(cutoff) {
			t.Status = TaskFailed
			t.Error = "interrupted"
			n++
		}
	}
	return n, nil
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

func convKey(sessionID, repoID string) string { return sessionID + "|" + repoID }

func (m *Memory) FindOrCreateConversation(ctx context.Context, sessionID, repoID, title, systemPrompt string) (*Conversation, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	key := convKey(sessionID, repoID)
	if c, ok := m.conversations[key]; ok {
		cp := *c
		return &cp, nil
	}
	c := &Conversation{
		ID:           uuid.NewString(),
		SessionID:    sessionID,
		RepoID:       repoID,
		Title:        title,
		SystemPrompt: systemPrompt,
		CreatedAt:    time.Now().UTC(),
		UpdatedAt:    time.Now().UTC(),
	}
	m.conversations[key] = c
	cp := *c
	return &cp, nil
}

func (m *Memory) GetConversation(ctx context.Context, sessionID, repoID string) (*Conversation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.conversations[convKey(sessionID, repoID)]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *c
	return &cp, nil
}

func (m *Memory) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	msgs := m.messages[conversationID]
	total := len(msgs)
	if limit > 0 && total > limit {
		msgs = msgs[total-limit:]
	}
	out := append([]Message(nil), msgs...)
	return out, total, nil
}

func (m *Memory) AppendMessage(ctx context.Context, msg *Message) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = time.Now().UTC()
	}
	m.messages[msg.ConversationID] = append(m.messages[msg.ConversationID], *msg)
	for _, c := range m.conversations {
		if c.ID == msg.ConversationID {
			if msg.Sequence > c.MessageCount {
				c.MessageCount = msg.Sequence
			}
			c.UpdatedAt = time.Now().UTC()
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// VectorIndex
// ---------------------------------------------------------------------------

func (m *Memory) EnsureRepo(ctx context.Context, repoID string, dim int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.dims[repoID]; !ok {
		m.dims[repoID] = dim
	}
	return nil
}

func (m *Memory) UpsertSummaries(ctx context.Context, repoID string, points []SummaryPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pt := range points {
		replaced := false
		for i, existing := range m.summaryVecs[repoID] {
			if existing.FileID == pt.FileID {
				m.summaryVecs[repoID][i] = pt
				replaced = true
				break
			}
		}
		if !replaced {
			m.summaryVecs[repoID] = append(m.summaryVecs[repoID], pt)
		}
	}
	return nil
}

func (m *Memory) UpsertChunks(ctx context.Context, repoID string, points []ChunkPoint) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, pt := range points {
		replaced := false
		for i, existing := range m.chunkVecs[repoID] {
			if existing.FileID == pt.FileID && existing.ChunkIndex == pt.ChunkIndex {
				m.chunkVecs[repoID][i] = pt
				replaced = true
				break
			}
		}
		if !replaced {
			m.chunkVecs[repoID] = append(m.chunkVecs[repoID], pt)
		}
	}
	return nil
}

func cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(na) * math.Sqrt(nb))
	// Same [0,1] normalization as the Qdrant backend.
	s := (sim + 1) / 2
	if s < 0 {
		return 0
	}
	if s > 1 {
		return 1
	}
	return s
}

func (m *Memory) QuerySummaries(ctx context.Context, repoID string, vec []float32, limit int) ([]VectorHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []VectorHit
	for _, pt := range m.summaryVecs[repoID] {
		hits = append(hits, VectorHit{
			FileID:     pt.FileID,
			Path:       pt.Path,
			ChunkIndex: -1,
			Similarity: cosine(vec, pt.Vector),
		})
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func (m *Memory) QueryChunks(ctx context.Context, repoID string, vec []float32, limit int) ([]VectorHit, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var hits []VectorHit
	for _, pt := range m.chunkVecs[repoID] {
		hits = append(hits, VectorHit{
			FileID:     pt.FileID,
			Path:       pt.Path,
			ChunkIndex: pt.ChunkIndex,
			Similarity: cosine(vec, pt.Vector),
		})
	}
	sortHits(hits)
	if len(hits) > limit {
		hits = hits[:limit]
	}
	return hits, nil
}

func sortHits(hits []VectorHit) {
	sort.SliceStable(hits, func(i, j int) bool {
		if hits[i].Similarity != hits[j].Similarity {
			return hits[i].Similarity > hits[j].Similarity
		}
		if hits[i].FileID != hits[j].FileID {
			return hits[i].FileID < hits[j].FileID
		}
		return hits[i].ChunkIndex < hits[j].ChunkIndex
	})
}

func (m *Memory) DropRepo(ctx context.Context, repoID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.summaryVecs, repoID)
	delete(m.chunkVecs, repoID)
	delete(m.dims, repoID)
	return nil
}

// memoryIndex adapts Memory to VectorIndex; the two interfaces
// disagree on the Close signature.
type memoryIndex struct{ *Memory }

func (memoryIndex) Close() error { return nil }

// Index exposes the in-memory vector side as a VectorIndex.
func (m *Memory) Index() VectorIndex { return memoryIndex{m} }

var (
	_ Store       = (*Memory)(nil)
	_ VectorIndex = memoryIndex{}
)
