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
	"errors"
	"time"
)

// ErrNotFound is returned when a requested entity does not exist.
var ErrNotFound = errors.New("not found")

// Store is the document-store boundary. All ingestion writes are
// key-addressed idempotent upserts; message writes are serialized per
// conversation by the caller.
type Store interface {
	// Sessions
	CreateSession(ctx context.Context) (*Session, error)
	GetSession(ctx context.Context, sessionID string) (*Session, error)
	UpdateSessionPreferences(ctx context.Context, sessionID string, prefs Preferences) (*Session, error)
	AddSessionRepo(ctx context.Context, sessionID, repoID string) error

	// Repositories
	CreateRepository(ctx context.Context, repo *Repository) error
	GetRepository(ctx context.Context, repoID string) (*Repository, error)
	UpdateRepositoryStatus(ctx context.Context, repoID string, status RepoStatus, errMsg string) error
	SetRepositoryFileCount(ctx context.Context, repoID string, count int) error
	SetRepositoryEmbeddingDim(ctx context.Context, repoID string, dim int) error
	SaveRepositoryOverview(ctx context.Context, repoID, overview string, vec []float32) error

	// Files
	UpsertFile(ctx context.Context, f *File) error
	GetFile(ctx context.Context, repoID, path string) (*File, error)
	ListFiles(ctx context.Context, repoID string) ([]File, error)
	ListFilePaths(ctx context.Context, repoID string) ([]string, error)
	UpdateFileStructure(ctx context.Context, f *File) error
	UpdateFileDependencies(ctx context.Context, repoID, path string, deps Dependencies) error
	UpdateFileSummary(ctx context.Context, repoID, path, summary string) error
	UpdateFileChunks(ctx context.Context, repoID, path string, chunks []Chunk, embedded bool) error
	SetFileError(ctx context.Context, repoID, path, errMsg string) error
	FindFunction(ctx context.Context, repoID, name string) ([]File, error)
	TopImportedFiles(ctx context.Context, repoID string, k int) ([]RankedFile, error)

	// Lexical search over path, summary, chunk text and code.
	// Scores are normalized to [0,1].
	LexicalSearch(ctx context.Context, repoID, query string, limit int) ([]LexicalHit, error)

	// Tasks
	CreateTask(ctx context.Context, t *Task) error
	GetTask(ctx context.Context, taskID string) (*Task, error)
	UpdateTaskProgress(ctx context.Context, taskID string, p Progress) error
	CompleteTask(ctx context.Context, taskID string, result map[string]any) error
	FailTask(ctx context.Context, taskID, errMsg string) error
	MarkInterruptedTasks(ctx context.Context, olderThan time.Duration) (int, error)

	// Conversations
	FindOrCreateConversation(ctx context.Context, sessionID, repoID, title, systemPrompt string) (*Conversation, error)
	GetConversation(ctx context.Context, sessionID, repoID string) (*Conversation, error)
	ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, int, error)
	AppendMessage(ctx context.Context, m *Message) error

	Close()
}

// VectorHit is one nearest-neighbor hit from a vector index.
// Similarity is cosine, normalized to [0,1]. ChunkIndex is -1 for
// summary-index hits.
type VectorHit struct {
	FileID     string
	Path       string
	ChunkIndex int
	Similarity float64
}

// SummaryPoint is one file-summary vector to upsert.
type SummaryPoint struct {
	FileID string
	Path   string
	Vector []float32
}

// ChunkPoint is one code-chunk vector to upsert.
type ChunkPoint struct {
	FileID     string
	Path       string
	ChunkIndex int
	ChunkType  ChunkType
	ChunkName  string
	LineStart  int
	LineEnd    int
	Vector     []float32
}

// VectorIndex is the vector-search boundary: two indexes per repository,
// one over file-summary vectors and one over code-chunk vectors.
type VectorIndex interface {
	// EnsureRepo creates the per-repository collections for the given
	// embedding dimension. Idempotent.
	EnsureRepo(ctx context.Context, repoID string, dim int) error

	UpsertSummaries(ctx context.Context, repoID string, points []SummaryPoint) error
	UpsertChunks(ctx context.Context, repoID string, points []ChunkPoint) error

	QuerySummaries(ctx context.Context, repoID string, vec []float32, limit int) ([]VectorHit, error)
	QueryChunks(ctx context.Context, repoID string, vec []float32, limit int) ([]VectorHit, error)

	DropRepo(ctx context.Context, repoID string) error
	Close() error
}
