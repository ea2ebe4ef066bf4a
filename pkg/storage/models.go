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

import "time"

// Preferences holds the per-session AI provider selection.
type Preferences struct {
	Provider          string `json:"ai_provider"`
	Model             string `json:"ai_model"`
	EmbeddingProvider string `json:"embedding_provider,omitempty"`
	EmbeddingModel    string `json:"embedding_model,omitempty"`
	Theme             string `json:"theme,omitempty"`
}

// Session scopes repositories and conversations to one browser session.
type Session struct {
	ID          string       `json:"session_id"`
	Preferences *Preferences `json:"preferences"`
	RepoIDs     []string     `json:"repositories"`
	CreatedAt   time.Time    `json:"created_at"`
	UpdatedAt   time.Time    `json:"updated_at"`
}

// RepoStatus is the repository lifecycle state.
//
// Valid transitions: fetched -> processing -> completed; fetched or
// processing may go to failed. Nothing else.
type RepoStatus string

const (
	RepoStatusFetched    RepoStatus = "fetched"
	RepoStatusProcessing RepoStatus = "processing"
	RepoStatusCompleted  RepoStatus = "completed"
	RepoStatusFailed     RepoStatus = "failed"
)

// TreeNode is one entry of the recursive repository file tree.
// Files carry Path/Size/Language; folders carry Children.
type TreeNode struct {
	Type     string               `json:"type"` // "file" or "folder"
	Path     string               `json:"path,omitempty"`
	Size     int64                `json:"size,omitempty"`
	Language string               `json:"language,omitempty"`
	Children map[string]*TreeNode `json:"children,omitempty"`
}

// Repository is one ingested repository.
type Repository struct {
	ID            string               `json:"repo_id"`
	SessionID     string               `json:"session_id"`
	SourceURL     string               `json:"source_url"`
	Owner         string               `json:"owner"`
	Name          string               `json:"name"`
	DefaultBranch string               `json:"default_branch"`
	Description   string               `json:"description,omitempty"`
	FileTree      map[string]*TreeNode `json:"file_tree,omitempty"`
	Status        RepoStatus           `json:"status"`
	TaskID        string               `json:"task_id,omitempty"`
	FileCount     int                  `json:"file_count"`
	Languages     map[string]int       `json:"languages,omitempty"`
	Overview      string               `json:"overview,omitempty"`
	OverviewVec   []float32            `json:"-"`
	EmbeddingDim  int                  `json:"-"`
	ErrorMessage  string               `json:"error_message,omitempty"`
	CreatedAt     time.Time            `json:"created_at"`
	UpdatedAt     time.Time            `json:"updated_at"`
}

// Function is one extracted function or method.
type Function struct {
	Name        string   `json:"name"`
	ParentClass string   `json:"parent_class,omitempty"`
	IsMethod    bool     `json:"is_method"`
	Signature   string   `json:"signature"`
	LineStart   int      `json:"line_start"`
	LineEnd     int      `json:"line_end"`
	Parameters  []string `json:"parameters,omitempty"`
}

// Class is one extracted class/struct/impl block with its methods.
type Class struct {
	Name      string     `json:"name"`
	LineStart int        `json:"line_start"`
	LineEnd   int        `json:"line_end"`
	Methods   []Function `json:"methods,omitempty"`
}

// ChunkType distinguishes function-level from class-level chunks.
type ChunkType string

const (
	ChunkTypeFunction ChunkType = "function"
	ChunkTypeClass    ChunkType = "class"
)

// Chunk is a function- or class-level slice of a file. The dense vector
// for a chunk lives in the vector index, keyed by (file, chunk index);
// the document store keeps only the chunk text and metadata.
type Chunk struct {
	Type        ChunkType `json:"chunk_type"`
	Name        string    `json:"chunk_name"`
	Text        string    `json:"chunk_text"`
	Code        string    `json:"code"`
	LineStart   int       `json:"line_start"`
	LineEnd     int       `json:"line_end"`
	ParentClass string    `json:"parent_class,omitempty"`
	Index       int       `json:"chunk_index"`
	Total       int       `json:"total_chunks"`
}

// Dependencies holds the resolved import edges for a file.
//
// Imports contains only repo-local file paths. ImportedBy is the exact
// inverse of Imports over the repository's file set.
type Dependencies struct {
	Imports         []string `json:"imports"`
	ImportedBy      []string `json:"imported_by"`
	ExternalImports []string `json:"external_imports"`
}

// ProviderMeta records per-entity provider outcomes (best-effort errors,
// truncated streams).
type ProviderMeta struct {
	Error     string `json:"error,omitempty"`
	Truncated bool   `json:"truncated,omitempty"`
}

// File is one source file of a repository with its structural record.
type File struct {
	ID           string       `json:"file_id"`
	RepoID       string       `json:"repo_id"`
	Path         string       `json:"path"`
	Filename     string       `json:"filename"`
	Language     string       `json:"language,omitempty"`
	Content      string       `json:"content,omitempty"`
	Size         int64        `json:"size"`
	Parsed       bool         `json:"parsed"`
	Embedded     bool         `json:"embedded"`
	Functions    []Function   `json:"functions,omitempty"`
	Classes      []Class      `json:"classes,omitempty"`
	Imports      []string     `json:"imports,omitempty"`
	Dependencies Dependencies `json:"dependencies"`
	Chunks       []Chunk      `json:"chunks,omitempty"`
	Summary      string       `json:"summary,omitempty"`
	Meta         ProviderMeta `json:"provider_meta"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// TaskStatus is the ingestion task state.
type TaskStatus string

const (
	TaskPending    TaskStatus = "pending"
	TaskInProgress TaskStatus = "in_progress"
	TaskCompleted  TaskStatus = "completed"
	TaskFailed     TaskStatus = "failed"
)

// TaskStep labels the current pipeline stage.
type TaskStep string

const (
	StepQueued      TaskStep = "queued"
	StepFetching    TaskStep = "fetching"
	StepParsing     TaskStep = "parsing"
	StepEmbedding   TaskStep = "embedding"
	StepSummarizing TaskStep = "summarizing"
	StepOverview    TaskStep = "overview"
	StepFinalizing  TaskStep = "finalizing"
	StepCompleted   TaskStep = "completed"
)

// stepOrder maps steps to their position for monotonicity enforcement.
var stepOrder = map[TaskStep]int{
	StepQueued:      0,
	StepFetching:    1,
	StepParsing:     2,
	StepEmbedding:   3,
	StepSummarizing: 4,
	StepOverview:    5,
	StepFinalizing:  6,
	StepCompleted:   7,
}

// StepRank returns the ordinal of a step in the pipeline order.
// Unknown steps rank below queued.
func StepRank(s TaskStep) int {
	if r, ok := stepOrder[s]; ok {
		return r
	}
	return -1
}

// Progress is the durable per-task progress record.
type Progress struct {
	TotalFiles     int      `json:"total_files"`
	ProcessedFiles int      `json:"processed_files"`
	CurrentStep    TaskStep `json:"current_step"`
}

// Task is the durable record of one ingestion job.
type Task struct {
	ID        string         `json:"task_id"`
	RepoID    string         `json:"repo_id"`
	Kind      string         `json:"kind"` // "process_files"
	Status    TaskStatus     `json:"status"`
	Progress  Progress       `json:"progress"`
	Error     string         `json:"error,omitempty"`
	Result    map[string]any `json:"result,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Conversation is the chat thread for one (session, repo) pair.
type Conversation struct {
	ID           string    `json:"conversation_id"`
	SessionID    string    `json:"session_id"`
	RepoID       string    `json:"repo_id"`
	Title        string    `json:"title"`
	SystemPrompt string    `json:"system_prompt"`
	MessageCount int       `json:"message_count"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// ToolCallFunction is the name/arguments pair of one tool invocation.
// Arguments is a string-encoded JSON object, matching the wire protocol.
type ToolCallFunction struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// ToolCall is one tool invocation recorded on an assistant message.
type ToolCall struct {
	ID       string           `json:"id"`
	Function ToolCallFunction `json:"function"`
}

// Message is one turn of a conversation. Messages are append-only and
// sequence numbers are strictly increasing and contiguous from 1.
type Message struct {
	ID             string       `json:"message_id"`
	ConversationID string       `json:"conversation_id"`
	Role           string       `json:"role"` // "user" or "assistant"
	Content        string       `json:"content"`
	ToolCalls      []ToolCall   `json:"tool_calls,omitempty"`
	Sequence       int          `json:"sequence_number"`
	Meta           ProviderMeta `json:"provider_meta"`
	CreatedAt      time.Time    `json:"timestamp"`
}

// LexicalHit is one file-level lexical relevance hit. Score is
// normalized to [0,1].
type LexicalHit struct {
	FileID string
	Path   string
	Score  float64
}

// RankedFile pairs a file path with its summary for overview selection.
type RankedFile struct {
	Path          string
	Summary       string
	ImportedByLen int
}
