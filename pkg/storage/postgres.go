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
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Postgres implements Store on a pgx connection pool. All nested
// structures (file tree, structural records, chunks, tool calls) are
// stored as jsonb; lexical search uses a weighted tsvector maintained
// alongside each file row.
type Postgres struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewPostgres connects to the document store and ensures the schema.
func NewPostgres(ctx context.Context, dsn string, logger *slog.Logger) (*Postgres, error) {
	if logger == nil {
		logger = slog.Default()
	}
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect document store: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping document store: %w", err)
	}
	p := &Postgres{pool: pool, logger: logger}
	if err := p.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ensure schema: %w", err)
	}
	return p, nil
}

func (p *Postgres) ensureSchema(ctx context.Context) error {
	_, err := p.pool.Exec(ctx, schemaDDL)
	return err
}

// Close releases the connection pool.
func (p *Postgres) Close() { p.pool.Close() }

func marshalJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		return []byte("null")
	}
	return b
}

func unmarshalJSON(b []byte, v any) {
	if len(b) == 0 {
		return
	}
	_ = json.Unmarshal(b, v)
}

// ---------------------------------------------------------------------------
// Sessions
// ---------------------------------------------------------------------------

func (p *Postgres) CreateSession(ctx context.Context) (*Session, error) {
	s := &Session{
		ID:        uuid.NewString(),
		RepoIDs:   []string{},
		CreatedAt: time.Now().UTC(),
		UpdatedAt: time.Now().UTC(),
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO sessions (session_id, preferences, repo_ids, created_at, updated_at)
		 VALUES ($1, NULL, '[]', $2, $2)`,
		s.ID, s.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}
	return s, nil
}

func (p *Postgres) GetSession(ctx context.Context, sessionID string) (*Session, error) {
	var (
		s         Session
		prefsJSON []byte
		reposJSON []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT session_id, preferences, repo_ids, created_at, updated_at
		 FROM sessions WHERE session_id = $1`, sessionID).
		Scan(&s.ID, &prefsJSON, &reposJSON, &s.CreatedAt, &s.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get session: %w", err)
	}
	if len(prefsJSON) > 0 {
		var prefs Preferences
		unmarshalJSON(prefsJSON, &prefs)
		s.Preferences = &prefs
	}
	s.RepoIDs = []string{}
	unmarshalJSON(reposJSON, &s.RepoIDs)
	return &s, nil
}

func (p *Postgres) UpdateSessionPreferences(ctx context.Context, sessionID string, prefs Preferences) (*Session, error) {
	tag, err := p.pool.Exec(ctx,
		`UPDATE sessions SET preferences = $2, updated_at = now() WHERE session_id = $1`,
		sessionID, marshalJSON(prefs))
	if err != nil {
		return nil, fmt.Errorf("update preferences: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrNotFound
	}
	return p.GetSession(ctx, sessionID)
}

func (p *Postgres) AddSessionRepo(ctx context.Context, sessionID, repoID string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE sessions
		 SET repo_ids = CASE WHEN repo_ids ? $2 THEN repo_ids ELSE repo_ids || to_jsonb($2::text) END,
		     updated_at = now()
		 WHERE session_id = $1`,
		sessionID, repoID)
	if err != nil {
		return fmt.Errorf("add session repo: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Repositories
// ---------------------------------------------------------------------------

func (p *Postgres) CreateRepository(ctx context.Context, repo *Repository) error {
	if repo.ID == "" {
		repo.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	repo.CreatedAt = now
	repo.UpdatedAt = now
	_, err := p.pool.Exec(ctx,
		`INSERT INTO repositories
		 (repo_id, session_id, source_url, owner, name, default_branch, description,
		  file_tree, status, task_id, file_count, languages, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$13)
		 ON CONFLICT (repo_id) DO NOTHING`,
		repo.ID, repo.SessionID, repo.SourceURL, repo.Owner, repo.Name,
		repo.DefaultBranch, repo.Description, marshalJSON(repo.FileTree),
		string(repo.Status), repo.TaskID, repo.FileCount, marshalJSON(repo.Languages), now)
	if err != nil {
		return fmt.Errorf("create repository: %w", err)
	}
	return nil
}

func (p *Postgres) GetRepository(ctx context.Context, repoID string) (*Repository, error) {
	var (
		r                              Repository
		treeJSON, langJSON, vecJSON    []byte
		status                         string
		taskID                         *string
	)
	err := p.pool.QueryRow(ctx,
		`SELECT repo_id, session_id, source_url, owner, name, default_branch, description,
		        file_tree, status, task_id, file_count, languages, overview, overview_vec,
		        embedding_dim, error_message, created_at, updated_at
		 FROM repositories WHERE repo_id = $1`, repoID).
		Scan(&r.ID, &r.SessionID, &r.SourceURL, &r.Owner, &r.Name, &r.DefaultBranch,
			&r.Description, &treeJSON, &status, &taskID, &r.FileCount, &langJSON,
			&r.Overview, &vecJSON, &r.EmbeddingDim, &r.ErrorMessage, &r.CreatedAt, &r.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get repository: %w", err)
	}
	r.Status = RepoStatus(status)
	if taskID != nil {
		r.TaskID = *taskID
	}
	unmarshalJSON(treeJSON, &r.FileTree)
	unmarshalJSON(langJSON, &r.Languages)
	unmarshalJSON(vecJSON, &r.OverviewVec)
	return &r, nil
}

// UpdateRepositoryStatus enforces the legal transition set: fetched ->
// processing -> completed, with failed reachable from fetched or
// processing. Illegal transitions are dropped silently.
func (p *Postgres) UpdateRepositoryStatus(ctx context.Context, repoID string, status RepoStatus, errMsg string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE repositories SET status = $2, error_message = $3, updated_at = now()
		 WHERE repo_id = $1
		   AND status NOT IN ('completed', 'failed')`,
		repoID, string(status), errMsg)
	if err != nil {
		return fmt.Errorf("update repository status: %w", err)
	}
	return nil
}

func (p *Postgres) SetRepositoryFileCount(ctx context.Context, repoID string, count int) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE repositories SET file_count = $2, updated_at = now() WHERE repo_id = $1`,
		repoID, count)
	if err != nil {
		return fmt.Errorf("set file count: %w", err)
	}
	return nil
}

func (p *Postgres) SetRepositoryEmbeddingDim(ctx context.Context, repoID string, dim int) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE repositories SET embedding_dim = $2, updated_at = now()
		 WHERE repo_id = $1 AND embedding_dim = 0`,
		repoID, dim)
	if err != nil {
		return fmt.Errorf("set embedding dim: %w", err)
	}
	return nil
}

func (p *Postgres) SaveRepositoryOverview(ctx context.Context, repoID, overview string, vec []float32) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE repositories SET overview = $2, overview_vec = $3, updated_at = now()
		 WHERE repo_id = $1`,
		repoID, overview, marshalJSON(vec))
	if err != nil {
		return fmt.Errorf("save overview: %w", err)
	}
	return nil
}

// ---------------------------------------------------------------------------
// Files
// ---------------------------------------------------------------------------

// searchRefreshSQL recomputes the weighted lexical vector for one file:
// path (A), summary (B), chunk descriptions and code (C). Inputs are
// capped so pathological files cannot blow up the tsvector.
const searchRefreshSQL = `
UPDATE files SET search =
    setweight(to_tsvector('simple', path), 'A') ||
    setweight(to_tsvector('simple', left(summary, 100000)), 'B') ||
    setweight(to_tsvector('simple', left(
        (SELECT coalesce(string_agg((c->>'chunk_name') || ' ' || (c->>'chunk_text') || ' ' || (c->>'code'), ' '), '')
         FROM jsonb_array_elements(chunks) AS c), 400000)), 'C')
WHERE file_id = $1`

func (p *Postgres) refreshSearch(ctx context.Context, fileID string) error {
	_, err := p.pool.Exec(ctx, searchRefreshSQL, fileID)
	return err
}

func (p *Postgres) UpsertFile(ctx context.Context, f *File) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	err := p.pool.QueryRow(ctx,
		`INSERT INTO files
		 (file_id, repo_id, path, filename, language, content, size, parsed, embedded,
		  functions, classes, imports, dependencies, chunks, summary, provider_meta,
		  created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$17)
		 ON CONFLICT (repo_id, path) DO UPDATE SET
		     language = EXCLUDED.language,
		     content = EXCLUDED.content,
		     size = EXCLUDED.size,
		     updated_at = EXCLUDED.updated_at
		 RETURNING file_id`,
		f.ID, f.RepoID, f.Path, f.Filename, f.Language, f.Content, f.Size,
		f.Parsed, f.Embedded, marshalJSON(f.Functions), marshalJSON(f.Classes),
		marshalJSON(f.Imports), marshalJSON(f.Dependencies), marshalJSON(f.Chunks),
		f.Summary, marshalJSON(f.Meta), now).Scan(&f.ID)
	if err != nil {
		return fmt.Errorf("upsert file: %w", err)
	}
	return p.refreshSearch(ctx, f.ID)
}

func (p *Postgres) scanFile(row pgx.Row) (*File, error) {
	var (
		f                                                  File
		fnJSON, clJSON, impJSON, depJSON, chJSON, metaJSON []byte
	)
	err := row.Scan(&f.ID, &f.RepoID, &f.Path, &f.Filename, &f.Language, &f.Content,
		&f.Size, &f.Parsed, &f.Embedded, &fnJSON, &clJSON, &impJSON, &depJSON,
		&chJSON, &f.Summary, &metaJSON, &f.CreatedAt, &f.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	unmarshalJSON(fnJSON, &f.Functions)
	unmarshalJSON(clJSON, &f.Classes)
	unmarshalJSON(impJSON, &f.Imports)
	unmarshalJSON(depJSON, &f.Dependencies)
	unmarshalJSON(chJSON, &f.Chunks)
	unmarshalJSON(metaJSON, &f.Meta)
	return &f, nil
}

const fileColumns = `file_id, repo_id, path, filename, language, content, size, parsed,
	embedded, functions, classes, imports, dependencies, chunks, summary,
	provider_meta, created_at, updated_at`

func (p *Postgres) GetFile(ctx context.Context, repoID, path string) (*File, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+fileColumns+` FROM files WHERE repo_id = $1 AND path = $2`,
		repoID, path)
	f, err := p.scanFile(row)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, err
		}
		return nil, fmt.Errorf("get file: %w", err)
	}
	return f, nil
}

func (p *Postgres) ListFiles(ctx context.Context, repoID string) ([]File, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM files WHERE repo_id = $1 ORDER BY path`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list files: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := p.scanFile(rows)
		if err != nil {
			return nil, fmt.Errorf("scan file: %w", err)
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (p *Postgres) ListFilePaths(ctx context.Context, repoID string) ([]string, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT path FROM files WHERE repo_id = $1 ORDER BY path`, repoID)
	if err != nil {
		return nil, fmt.Errorf("list file paths: %w", err)
	}
	defer rows.Close()

	var paths []string
	for rows.Next() {
		var path string
		if err := rows.Scan(&path); err != nil {
			return nil, err
		}
		paths = append(paths, path)
	}
	return paths, rows.Err()
}

func (p *Postgres) UpdateFileStructure(ctx context.Context, f *File) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE files SET parsed = $3, functions = $4, classes = $5, imports = $6,
		        language = $7, updated_at = now()
		 WHERE repo_id = $1 AND path = $2`,
		f.RepoID, f.Path, f.Parsed, marshalJSON(f.Functions),
		marshalJSON(f.Classes), marshalJSON(f.Imports), f.Language)
	if err != nil {
		return fmt.Errorf("update file structure: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateFileDependencies(ctx context.Context, repoID, path string, deps Dependencies) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE files SET dependencies = $3, updated_at = now()
		 WHERE repo_id = $1 AND path = $2`,
		repoID, path, marshalJSON(deps))
	if err != nil {
		return fmt.Errorf("update file dependencies: %w", err)
	}
	return nil
}

func (p *Postgres) UpdateFileSummary(ctx context.Context, repoID, path, summary string) error {
	var fileID string
	err := p.pool.QueryRow(ctx,
		`UPDATE files SET summary = $3, updated_at = now()
		 WHERE repo_id = $1 AND path = $2 RETURNING file_id`,
		repoID, path, summary).Scan(&fileID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update file summary: %w", err)
	}
	return p.refreshSearch(ctx, fileID)
}

func (p *Postgres) UpdateFileChunks(ctx context.Context, repoID, path string, chunks []Chunk, embedded bool) error {
	var fileID string
	err := p.pool.QueryRow(ctx,
		`UPDATE files SET chunks = $3, embedded = $4, updated_at = now()
		 WHERE repo_id = $1 AND path = $2 RETURNING file_id`,
		repoID, path, marshalJSON(chunks), embedded).Scan(&fileID)
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("update file chunks: %w", err)
	}
	return p.refreshSearch(ctx, fileID)
}

func (p *Postgres) SetFileError(ctx context.Context, repoID, path, errMsg string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE files
		 SET provider_meta = provider_meta || jsonb_build_object('error', $3::text),
		     updated_at = now()
		 WHERE repo_id = $1 AND path = $2`,
		repoID, path, errMsg)
	if err != nil {
		return fmt.Errorf("set file error: %w", err)
	}
	return nil
}

func (p *Postgres) FindFunction(ctx context.Context, repoID, name string) ([]File, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+fileColumns+` FROM files
		 WHERE repo_id = $1
		   AND jsonb_path_exists(functions, '$[*] ? (@.name == $n)', jsonb_build_object('n', $2::text))
		 ORDER BY path`,
		repoID, name)
	if err != nil {
		return nil, fmt.Errorf("find function: %w", err)
	}
	defer rows.Close()

	var files []File
	for rows.Next() {
		f, err := p.scanFile(rows)
		if err != nil {
			return nil, err
		}
		files = append(files, *f)
	}
	return files, rows.Err()
}

func (p *Postgres) TopImportedFiles(ctx context.Context, repoID string, k int) ([]RankedFile, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT path, summary,
		        coalesce(jsonb_array_length(dependencies->'imported_by'), 0) AS indeg
		 FROM files
		 WHERE repo_id = $1 AND summary <> ''
		 ORDER BY indeg DESC, path ASC
		 LIMIT $2`,
		repoID, k)
	if err != nil {
		return nil, fmt.Errorf("top imported files: %w", err)
	}
	defer rows.Close()

	var out []RankedFile
	for rows.Next() {
		var rf RankedFile
		if err := rows.Scan(&rf.Path, &rf.Summary, &rf.ImportedByLen); err != nil {
			return nil, err
		}
		out = append(out, rf)
	}
	return out, rows.Err()
}

// LexicalSearch ranks with ts_rank_cd normalization flag 32, which maps
// raw ranks to rank/(rank+1), keeping scores in [0,1).
func (p *Postgres) LexicalSearch(ctx context.Context, repoID, query string, limit int) ([]LexicalHit, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT file_id, path, ts_rank_cd(search, q, 32)::float8 AS rank
		 FROM files, plainto_tsquery('simple', $2) AS q
		 WHERE repo_id = $1 AND search @@ q
		 ORDER BY rank DESC, file_id ASC
		 LIMIT $3`,
		repoID, query, limit)
	if err != nil {
		return nil, fmt.Errorf("lexical search: %w", err)
	}
	defer rows.Close()

	var hits []LexicalHit
	for rows.Next() {
		var h LexicalHit
		if err := rows.Scan(&h.FileID, &h.Path, &h.Score); err != nil {
			return nil, err
		}
		hits = append(hits, h)
	}
	return hits, rows.Err()
}

// ---------------------------------------------------------------------------
// Tasks
// ---------------------------------------------------------------------------

func (p *Postgres) CreateTask(ctx context.Context, t *Task) error {
	if t.ID == "" {
		t.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Progress.CurrentStep == "" {
		t.Progress.CurrentStep = StepQueued
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO tasks (task_id, repo_id, kind, status, total_files, processed_files,
		                    current_step, created_at, updated_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
		 ON CONFLICT (task_id) DO NOTHING`,
		t.ID, t.RepoID, t.Kind, string(t.Status), t.Progress.TotalFiles,
		t.Progress.ProcessedFiles, string(t.Progress.CurrentStep), now)
	if err != nil {
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func (p *Postgres) GetTask(ctx context.Context, taskID string) (*Task, error) {
	var (
		t                    Task
		status, step         string
		resultJSON           []byte
	)
	err := p.pool.QueryRow(ctx,
		`SELECT task_id, repo_id, kind, status, total_files, processed_files,
		        current_step, error, result, created_at, updated_at
		 FROM tasks WHERE task_id = $1`, taskID).
		Scan(&t.ID, &t.RepoID, &t.Kind, &status, &t.Progress.TotalFiles,
			&t.Progress.ProcessedFiles, &step, &t.Error, &resultJSON,
			&t.CreatedAt, &t.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get task: %w", err)
	}
	t.Status = TaskStatus(status)
	t.Progress.CurrentStep = TaskStep(step)
	unmarshalJSON(resultJSON, &t.Result)
	return &t, nil
}

// stepOrderSQL lets the step-monotonicity guard run inside a single
// UPDATE: a step only advances if its array position is not behind the
// current one.
var stepOrderSQL = []string{
	string(StepQueued), string(StepFetching), string(StepParsing),
	string(StepEmbedding), string(StepSummarizing), string(StepOverview),
	string(StepFinalizing), string(StepCompleted),
}

// UpdateTaskProgress is idempotent: processed_files and total_files only
// grow, current_step only advances forward. Writes against completed or
// failed tasks are dropped.
func (p *Postgres) UpdateTaskProgress(ctx context.Context, taskID string, pr Progress) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE tasks SET
		     total_files = GREATEST(total_files, $2),
		     processed_files = GREATEST(processed_files, $3),
		     current_step = CASE
		         WHEN array_position($5::text[], $4::text) >= array_position($5::text[], current_step)
		         THEN $4 ELSE current_step END,
		     status = 'in_progress',
		     updated_at = now()
		 WHERE task_id = $1 AND status NOT IN ('completed', 'failed')`,
		taskID, pr.TotalFiles, pr.ProcessedFiles, string(pr.CurrentStep), stepOrderSQL)
	if err != nil {
		return fmt.Errorf("update task progress: %w", err)
	}
	return nil
}

func (p *Postgres) CompleteTask(ctx context.Context, taskID string, result map[string]any) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE tasks SET status = 'completed', current_step = 'completed',
		        processed_files = GREATEST(processed_files, total_files),
		        result = $2, updated_at = now()
		 WHERE task_id = $1 AND status NOT IN ('completed', 'failed')`,
		taskID, marshalJSON(result))
	if err != nil {
		return fmt.Errorf("complete task: %w", err)
	}
	return nil
}

// FailTask freezes the step at its last value, per the failure contract.
func (p *Postgres) FailTask(ctx context.Context, taskID, errMsg string) error {
	_, err := p.pool.Exec(ctx,
		`UPDATE tasks SET status = 'failed', error = $2, updated_at = now()
		 WHERE task_id = $1 AND status NOT IN ('completed', 'failed')`,
		taskID, errMsg)
	if err != nil {
		return fmt.Errorf("fail task: %w", err)
	}
	return nil
}

// MarkInterruptedTasks fails any in_progress task whose last heartbeat
// predates the threshold. Run once at startup so a crashed process does
// not leave tasks observably stuck forever.
func (p *Postgres) MarkInterruptedTasks(ctx context.Context, olderThan time.Duration) (int, error) {
	cutoff := time.Now().UTC().Add(-olderThan)
	tag, err := p.pool.Exec(ctx,
		`UPDATE tasks SET status = 'failed', error = 'interrupted', updated_at = now()
		 WHERE status = 'in_progress' AND updated_at < $1`,
		cutoff)
	if err != nil {
		return 0, fmt.Errorf("mark interrupted tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// ---------------------------------------------------------------------------
// Conversations
// ---------------------------------------------------------------------------

func (p *Postgres) FindOrCreateConversation(ctx context.Context, sessionID, repoID, title, systemPrompt string) (*Conversation, error) {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO conversations (conversation_id, session_id, repo_id, title, system_prompt)
		 VALUES ($1,$2,$3,$4,$5)
		 ON CONFLICT (session_id, repo_id) DO NOTHING`,
		uuid.NewString(), sessionID, repoID, title, systemPrompt)
	if err != nil {
		return nil, fmt.Errorf("create conversation: %w", err)
	}
	return p.GetConversation(ctx, sessionID, repoID)
}

func (p *Postgres) GetConversation(ctx context.Context, sessionID, repoID string) (*Conversation, error) {
	var c Conversation
	err := p.pool.QueryRow(ctx,
		`SELECT conversation_id, session_id, repo_id, title, system_prompt,
		        message_count, created_at, updated_at
		 FROM conversations WHERE session_id = $1 AND repo_id = $2`,
		sessionID, repoID).
		Scan(&c.ID, &c.SessionID, &c.RepoID, &c.Title, &c.SystemPrompt,
			&c.MessageCount, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get conversation: %w", err)
	}
	return &c, nil
}

// ListMessages returns the last limit messages in ascending sequence
// order plus the total message count.
func (p *Postgres) ListMessages(ctx context.Context, conversationID string, limit int) ([]Message, int, error) {
	var total int
	err := p.pool.QueryRow(ctx,
		`SELECT count(*) FROM messages WHERE conversation_id = $1`, conversationID).
		Scan(&total)
	if err != nil {
		return nil, 0, fmt.Errorf("count messages: %w", err)
	}

	rows, err := p.pool.Query(ctx,
		`SELECT message_id, conversation_id, role, content, tool_calls,
		        sequence_number, provider_meta, created_at
		 FROM (SELECT * FROM messages WHERE conversation_id = $1
		       ORDER BY sequence_number DESC LIMIT $2) sub
		 ORDER BY sequence_number ASC`,
		conversationID, limit)
	if err != nil {
		return nil, 0, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var (
			m                  Message
			tcJSON, metaJSON   []byte
		)
		if err := rows.Scan(&m.ID, &m.ConversationID, &m.Role, &m.Content,
			&tcJSON, &m.Sequence, &metaJSON, &m.CreatedAt); err != nil {
			return nil, 0, err
		}
		unmarshalJSON(tcJSON, &m.ToolCalls)
		unmarshalJSON(metaJSON, &m.Meta)
		msgs = append(msgs, m)
	}
	return msgs, total, rows.Err()
}

// AppendMessage inserts one message and lifts the conversation's
// message_count to the new sequence number. The caller holds the
// per-conversation lock and assigns Sequence.
func (p *Postgres) AppendMessage(ctx context.Context, m *Message) error {
	if m.ID == "" {
		m.ID = uuid.NewString()
	}
	if m.CreatedAt.IsZero() {
		m.CreatedAt = time.Now().UTC()
	}
	_, err := p.pool.Exec(ctx,
		`INSERT INTO messages (message_id, conversation_id, role, content, tool_calls,
		                       sequence_number, provider_meta, created_at)
		 VALUES ($1,$2,$3,$4,$5,$6,$7,$8)`,
		m.ID, m.ConversationID, m.Role, m.Content, marshalJSON(m.ToolCalls),
		m.Sequence, marshalJSON(m.Meta), m.CreatedAt)
	if err != nil {
		return fmt.Errorf("append message: %w", err)
	}
	_, err = p.pool.Exec(ctx,
		`UPDATE conversations SET message_count = GREATEST(message_count, $2),
		        updated_at = now()
		 WHERE conversation_id = $1`,
		m.ConversationID, m.Sequence)
	if err != nil {
		return fmt.Errorf("bump message count: %w", err)
	}
	return nil
}

var _ Store = (*Postgres)(nil)
