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
	"errors"
	"fmt"
	"log/slog"
	"path"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/internal/config"
	"github.com/kraklabs/repomind/pkg/githubapi"
	"github.com/kraklabs/repomind/pkg/storage"
)

// Embedder turns texts into dense vectors, preserving input order.
// Implementations batch and retry internally.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Summarizer produces per-file summaries and the repository overview.
type Summarizer interface {
	SummarizeFile(ctx context.Context, f *storage.File) (string, error)
	Overview(ctx context.Context, repoName string, top []storage.RankedFile) (string, error)
}

// TaskKindProcessFiles is the only task kind the pipeline creates.
const TaskKindProcessFiles = "process_files"

// emptyRepoOverview is stored for repositories with no text-eligible
// files, so the overview tool always has something to return.
const emptyRepoOverview = "This repository contains no text source files to analyze."

// Pipeline drives one ingestion end to end: fetch, parse, resolve
// dependencies, embed, summarize, overview, finalize. Stages run
// sequentially; within a stage work fans out through bounded pools.
type Pipeline struct {
	store   storage.Store
	index   storage.VectorIndex
	source  *githubapi.Client
	parsers *ParserPool
	tuning  config.Tuning
	logger  *slog.Logger
}

// NewPipeline wires the orchestrator. The embedder and summarizer are
// passed per run because provider selection follows session
// preferences.
func NewPipeline(store storage.Store, index storage.VectorIndex, source *githubapi.Client, parsers *ParserPool, tuning config.Tuning, logger *slog.Logger) *Pipeline {
	if logger == nil {
		logger = slog.Default()
	}
	return &Pipeline{
		store:   store,
		index:   index,
		source:  source,
		parsers: parsers,
		tuning:  tuning,
		logger:  logger,
	}
}

// Prepare resolves the URL against the source host and persists the
// Repository and Task records. It runs synchronously on the request
// path; Run does the heavy lifting afterwards.
func (p *Pipeline) Prepare(ctx context.Context, sessionID, sourceURL string) (*storage.Repository, *storage.Task, []githubapi.BlobEntry, error) {
	ref, err := githubapi.ParseRepoURL(sourceURL)
	if err != nil {
		return nil, nil, nil, err
	}
	meta, err := p.source.Metadata(ctx, ref)
	if err != nil {
		return nil, nil, nil, err
	}
	entries, err := p.source.Tree(ctx, ref, meta.DefaultBranch)
	if err != nil {
		return nil, nil, nil, err
	}

	repo := &storage.Repository{
		ID:            uuid.NewString(),
		SessionID:     sessionID,
		SourceURL:     sourceURL,
		Owner:         meta.Owner,
		Name:          meta.Name,
		DefaultBranch: meta.DefaultBranch,
		Description:   meta.Description,
		FileTree:      BuildFileTree(entries),
		Status:        storage.RepoStatusFetched,
		Languages:     meta.Languages,
	}
	task := &storage.Task{
		ID:     uuid.NewString(),
		RepoID: repo.ID,
		Kind:   TaskKindProcessFiles,
		Status: storage.TaskPending,
		Progress: storage.Progress{
			TotalFiles:  len(entries),
			CurrentStep: storage.StepQueued,
		},
	}
	repo.TaskID = task.ID

	if err := p.store.CreateRepository(ctx, repo); err != nil {
		return nil, nil, nil, err
	}
	if err := p.store.CreateTask(ctx, task); err != nil {
		return nil, nil, nil, err
	}
	if err := p.store.AddSessionRepo(ctx, sessionID, repo.ID); err != nil {
		return nil, nil, nil, err
	}
	return repo, task, entries, nil
}

// Run executes the stage graph for a prepared repository. Per-file
// errors are recorded on the file and do not abort the run; stage-fatal
// errors (bad credentials, exhausted rate limits) fail the task and the
// repository.
func (p *Pipeline) Run(ctx context.Context, repo *storage.Repository, task *storage.Task, entries []githubapi.BlobEntry, embedder Embedder, summarizer Summarizer) error {
	start := time.Now()
	recordPipelineStarted()
	logger := p.logger.With("repo_id", repo.ID, "task_id", task.ID)

	pw := NewProgressWriter(p.store, task.ID, 500*time.Millisecond, logger)
	defer pw.Close()

	if err := p.store.UpdateRepositoryStatus(ctx, repo.ID, storage.RepoStatusProcessing, ""); err != nil {
		return p.fail(ctx, repo, task, logger, err)
	}

	if len(entries) == 0 {
		return p.finishEmpty(ctx, repo, task, logger)
	}

	total := len(entries)
	files, err := p.stageFetch(ctx, repo, entries, pw, logger)
	if err != nil {
		return p.fail(ctx, repo, task, logger, err)
	}
	if err := p.stageParse(ctx, files, total, pw, logger); err != nil {
		return p.fail(ctx, repo, task, logger, err)
	}

	var dim dimState
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return p.stageDependencies(gctx, repo.ID, files, logger) })
	g.Go(func() error { return p.stageChunkEmbeddings(gctx, repo, files, total, embedder, &dim, pw, logger) })
	g.Go(func() error { return p.stageSummaries(gctx, repo.ID, files, total, summarizer, pw, logger) })
	if err := g.Wait(); err != nil {
		return p.fail(ctx, repo, task, logger, err)
	}

	if err := p.stageSummaryEmbeddings(ctx, repo, files, embedder, &dim, logger); err != nil {
		return p.fail(ctx, repo, task, logger, err)
	}

	pw.Update(storage.Progress{TotalFiles: total, ProcessedFiles: total, CurrentStep: storage.StepOverview})
	if err := p.stageOverview(ctx, repo, embedder, summarizer, logger); err != nil {
		return p.fail(ctx, repo, task, logger, err)
	}

	pw.Update(storage.Progress{TotalFiles: total, ProcessedFiles: total, CurrentStep: storage.StepFinalizing})
	if err := p.store.SetRepositoryFileCount(ctx, repo.ID, len(files)); err != nil {
		return p.fail(ctx, repo, task, logger, err)
	}
	pw.Close()
	if err := p.store.CompleteTask(ctx, task.ID, map[string]any{"file_count": len(files)}); err != nil {
		return p.fail(ctx, repo, task, logger, err)
	}
	if err := p.store.UpdateRepositoryStatus(ctx, repo.ID, storage.RepoStatusCompleted, ""); err != nil {
		return err
	}

	recordPipelineComplete()
	observeTotal(start)
	logger.Info("pipeline.completed", "file_count", len(files), "elapsed", time.Since(start))
	return nil
}

// finishEmpty completes an ingestion with zero text-eligible files.
func (p *Pipeline) finishEmpty(ctx context.Context, repo *storage.Repository, task *storage.Task, logger *slog.Logger) error {
	if err := p.store.SetRepositoryFileCount(ctx, repo.ID, 0); err != nil {
		return p.fail(ctx, repo, task, logger, err)
	}
	if err := p.store.SaveRepositoryOverview(ctx, repo.ID, emptyRepoOverview, nil); err != nil {
		return p.fail(ctx, repo, task, logger, err)
	}
	if err := p.store.CompleteTask(ctx, task.ID, map[string]any{"file_count": 0}); err != nil {
		return p.fail(ctx, repo, task, logger, err)
	}
	if err := p.store.UpdateRepositoryStatus(ctx, repo.ID, storage.RepoStatusCompleted, ""); err != nil {
		return err
	}
	recordPipelineComplete()
	logger.Info("pipeline.completed", "file_count", 0)
	return nil
}

// fail marks the task and repository failed. Terminal stores ignore
// duplicate failure writes, so fail is safe to call more than once.
func (p *Pipeline) fail(ctx context.Context, repo *storage.Repository, task *storage.Task, logger *slog.Logger, cause error) error {
	recordPipelineFailed()
	logger.Error("pipeline.failed", "err", cause)

	// The run context may already be canceled; failure writes get their
	// own deadline so the terminal state still lands.
	wctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	if err := p.store.FailTask(wctx, task.ID, apierr.MessageOf(cause)); err != nil {
		logger.Error("pipeline.fail.task_write", "err", err)
	}
	if err := p.store.UpdateRepositoryStatus(wctx, repo.ID, storage.RepoStatusFailed, apierr.MessageOf(cause)); err != nil {
		logger.Error("pipeline.fail.repo_write", "err", err)
	}
	return cause
}

// stageFatal reports whether an error must abort the whole run rather
// than be recorded on a single file. Per-call timeouts are per-file;
// callers check their own context for run-wide cancellation.
func stageFatal(err error) bool {
	switch apierr.KindOf(err) {
	case apierr.KindUnauthorizedLLM, apierr.KindRateLimitedLLM, apierr.KindRateLimitedHost:
		return true
	}
	return false
}

// dimState caches the embedding dimension discovered on the first
// successful batch of a run.
type dimState struct {
	mu  sync.Mutex
	dim int
}

// ensureIndex records the discovered dimension and creates the
// per-repository vector collections once.
func (p *Pipeline) ensureIndex(ctx context.Context, repoID string, ds *dimState, vec []float32) error {
	ds.mu.Lock()
	defer ds.mu.Unlock()
	if ds.dim != 0 {
		return nil
	}
	if len(vec) == 0 {
		return fmt.Errorf("embedding provider returned an empty vector")
	}
	ds.dim = len(vec)
	if err := p.store.SetRepositoryEmbeddingDim(ctx, repoID, ds.dim); err != nil {
		return err
	}
	return p.index.EnsureRepo(ctx, repoID, ds.dim)
}

// stageFetch streams blob contents into persisted file records. A blob
// that fails after retries is stored with a per-file error and empty
// content.
func (p *Pipeline) stageFetch(ctx context.Context, repo *storage.Repository, entries []githubapi.BlobEntry, pw *ProgressWriter, logger *slog.Logger) ([]*storage.File, error) {
	stageStart := time.Now()
	defer observeStage("fetching", stageStart)

	ref := githubapi.RepoRef{Owner: repo.Owner, Name: repo.Name}
	total := len(entries)
	files := make([]*storage.File, len(entries))
	var processed atomic.Int64

	for bucket := range buckets(len(entries), p.tuning.BucketSize) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(p.tuning.FetchConcurrency)
		for _, i := range bucket {
			g.Go(func() error {
				e := entries[i]
				f := &storage.File{
					RepoID:   repo.ID,
					Path:     e.Path,
					Filename: path.Base(e.Path),
					Language: DetectLanguage(e.Path),
					Size:     e.Size,
				}
				content, err := p.source.Blob(gctx, ref, e.SHA)
				switch {
				case err == nil:
					f.Content = content
					recordFileFetched()
				case gctx.Err() != nil:
					return gctx.Err()
				case stageFatal(err):
					return err
				default:
					logger.Warn("pipeline.fetch.blob_failed", "path", e.Path, "err", err)
					f.Meta.Error = err.Error()
					recordFileError()
				}
				if err := p.store.UpsertFile(gctx, f); err != nil {
					return err
				}
				files[i] = f
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return nil, err
		}
		done := processed.Add(int64(len(bucket)))
		pw.Update(storage.Progress{TotalFiles: total, ProcessedFiles: int(done), CurrentStep: storage.StepFetching})
	}
	return files, nil
}

// stageParse extracts structural records on a CPU-sized pool. Parse
// failures leave the file unparsed and never abort the stage.
func (p *Pipeline) stageParse(ctx context.Context, files []*storage.File, total int, pw *ProgressWriter, logger *slog.Logger) error {
	stageStart := time.Now()
	defer observeStage("parsing", stageStart)

	workers := p.tuning.ParseConcurrency
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}
	var processed atomic.Int64

	for bucket := range buckets(len(files), p.tuning.BucketSize) {
		g, gctx := errgroup.WithContext(ctx)
		g.SetLimit(workers)
		for _, i := range bucket {
			g.Go(func() error {
				f := files[i]
				if f.Content == "" {
					return nil
				}
				st, err := p.parsers.Parse(f.Path, []byte(f.Content))
				if err != nil {
					if !errors.Is(err, ErrUnsupportedLanguage) {
						logger.Warn("pipeline.parse.failed", "path", f.Path, "err", err)
						recordParseFailure()
					}
					return nil
				}
				f.Functions = st.Functions
				f.Classes = st.Classes
				f.Imports = st.Imports
				f.Parsed = true
				recordFileParsed()
				return p.store.UpdateFileStructure(gctx, f)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		done := processed.Add(int64(len(bucket)))
		pw.Update(storage.Progress{TotalFiles: total, ProcessedFiles: int(done), CurrentStep: storage.StepParsing})
	}
	return nil
}

// stageDependencies resolves import edges over the full file set.
func (p *Pipeline) stageDependencies(ctx context.Context, repoID string, files []*storage.File, logger *slog.Logger) error {
	stageStart := time.Now()
	defer observeStage("dependencies", stageStart)

	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	NewDependencyResolver(paths).Resolve(files)

	for _, f := range files {
		if err := p.store.UpdateFileDependencies(ctx, repoID, f.Path, f.Dependencies); err != nil {
			return err
		}
	}
	logger.Debug("pipeline.dependencies.resolved", "files", len(files))
	return nil
}

// stageChunkEmbeddings builds function/class chunks and embeds them in
// buckets. A failed bucket records the error on each of its files.
func (p *Pipeline) stageChunkEmbeddings(ctx context.Context, repo *storage.Repository, files []*storage.File, total int, embedder Embedder, ds *dimState, pw *ProgressWriter, logger *slog.Logger) error {
	stageStart := time.Now()
	defer observeStage("chunk_embeddings", stageStart)

	var processed atomic.Int64
	for bucket := range buckets(len(files), p.tuning.BucketSize) {
		var texts []string
		type ref struct {
			file  *storage.File
			chunk int
		}
		var refs []ref
		for _, i := range bucket {
			f := files[i]
			f.Chunks = BuildChunks(f)
			for ci := range f.Chunks {
				texts = append(texts, f.Chunks[ci].Text)
				refs = append(refs, ref{file: f, chunk: ci})
			}
		}

		if len(texts) > 0 {
			vecs, err := embedder.Embed(ctx, texts)
			if err != nil {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				if stageFatal(err) {
					return err
				}
				logger.Warn("pipeline.embed.bucket_failed", "chunks", len(texts), "err", err)
				for _, i := range bucket {
					f := files[i]
					if len(f.Chunks) == 0 {
						continue
					}
					recordFileError()
					if serr := p.store.SetFileError(ctx, repo.ID, f.Path, err.Error()); serr != nil {
						return serr
					}
				}
			} else {
				if err := p.ensureIndex(ctx, repo.ID, ds, vecs[0]); err != nil {
					return err
				}
				points := make([]storage.ChunkPoint, len(refs))
				embedded := map[*storage.File]bool{}
				for vi, r := range refs {
					c := r.file.Chunks[r.chunk]
					points[vi] = storage.ChunkPoint{
						FileID:     r.file.ID,
						Path:       r.file.Path,
						ChunkIndex: c.Index,
						ChunkType:  c.Type,
						ChunkName:  c.Name,
						LineStart:  c.LineStart,
						LineEnd:    c.LineEnd,
						Vector:     vecs[vi],
					}
					embedded[r.file] = true
				}
				if err := p.index.UpsertChunks(ctx, repo.ID, points); err != nil {
					return err
				}
				for f := range embedded {
					if err := p.store.UpdateFileChunks(ctx, repo.ID, f.Path, f.Chunks, true); err != nil {
						return err
					}
					f.Embedded = true
				}
				recordChunksEmbedded(len(points))
			}
		}

		done := processed.Add(int64(len(bucket)))
		pw.Update(storage.Progress{TotalFiles: total, ProcessedFiles: int(done), CurrentStep: storage.StepEmbedding})
	}
	return nil
}

// stageSummaries asks the provider for one summary per file, bounded by
// the LLM concurrency knob. Per-file failures are recorded and skipped.
func (p *Pipeline) stageSummaries(ctx context.Context, repoID string, files []*storage.File, total int, summarizer Summarizer, pw *ProgressWriter, logger *slog.Logger) error {
	stageStart := time.Now()
	defer observeStage("summarizing", stageStart)

	sem := semaphore.NewWeighted(int64(p.tuning.LLMConcurrency))
	var processed atomic.Int64

	for bucket := range buckets(len(files), p.tuning.BucketSize) {
		g, gctx := errgroup.WithContext(ctx)
		for _, i := range bucket {
			g.Go(func() error {
				if err := sem.Acquire(gctx, 1); err != nil {
					return err
				}
				defer sem.Release(1)

				f := files[i]
				if f.Content == "" {
					return nil
				}
				cctx, cancel := context.WithTimeout(gctx, p.tuning.LLMCallTimeout)
				defer cancel()
				summary, err := summarizer.SummarizeFile(cctx, f)
				if err != nil {
					if gctx.Err() != nil {
						return gctx.Err()
					}
					if stageFatal(err) {
						return err
					}
					logger.Warn("pipeline.summarize.failed", "path", f.Path, "err", err)
					recordFileError()
					return p.store.SetFileError(gctx, repoID, f.Path, err.Error())
				}
				f.Summary = summary
				recordSummary()
				return p.store.UpdateFileSummary(gctx, repoID, f.Path, summary)
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		done := processed.Add(int64(len(bucket)))
		pw.Update(storage.Progress{TotalFiles: total, ProcessedFiles: int(done), CurrentStep: storage.StepSummarizing})
	}
	return nil
}

// stageSummaryEmbeddings embeds every produced file summary into the
// summary index.
func (p *Pipeline) stageSummaryEmbeddings(ctx context.Context, repo *storage.Repository, files []*storage.File, embedder Embedder, ds *dimState, logger *slog.Logger) error {
	stageStart := time.Now()
	defer observeStage("summary_embeddings", stageStart)

	var summarized []*storage.File
	for _, f := range files {
		if f.Summary != "" {
			summarized = append(summarized, f)
		}
	}
	if len(summarized) == 0 {
		return nil
	}

	for bucket := range buckets(len(summarized), p.tuning.BucketSize) {
		texts := make([]string, len(bucket))
		for bi, i := range bucket {
			texts[bi] = summarized[i].Summary
		}
		vecs, err := embedder.Embed(ctx, texts)
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if stageFatal(err) {
				return err
			}
			logger.Warn("pipeline.embed.summaries_failed", "files", len(bucket), "err", err)
			continue
		}
		if err := p.ensureIndex(ctx, repo.ID, ds, vecs[0]); err != nil {
			return err
		}
		points := make([]storage.SummaryPoint, len(bucket))
		for bi, i := range bucket {
			points[bi] = storage.SummaryPoint{
				FileID: summarized[i].ID,
				Path:   summarized[i].Path,
				Vector: vecs[bi],
			}
		}
		if err := p.index.UpsertSummaries(ctx, repo.ID, points); err != nil {
			return err
		}
	}
	return nil
}

// stageOverview builds the repository overview from the most imported
// files and embeds it. A provider failure here is recorded but does not
// fail an otherwise complete ingestion unless it is stage-fatal.
func (p *Pipeline) stageOverview(ctx context.Context, repo *storage.Repository, embedder Embedder, summarizer Summarizer, logger *slog.Logger) error {
	stageStart := time.Now()
	defer observeStage("overview", stageStart)

	top, err := p.store.TopImportedFiles(ctx, repo.ID, p.tuning.OverviewTopK)
	if err != nil {
		return err
	}

	cctx, cancel := context.WithTimeout(ctx, p.tuning.LLMCallTimeout)
	defer cancel()
	overview, err := summarizer.Overview(cctx, repo.Owner+"/"+repo.Name, top)
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if stageFatal(err) {
			return err
		}
		logger.Warn("pipeline.overview.failed", "err", err)
		return nil
	}

	var vec []float32
	vecs, err := embedder.Embed(ctx, []string{overview})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if stageFatal(err) {
			return err
		}
		logger.Warn("pipeline.overview.embed_failed", "err", err)
	} else {
		vec = vecs[0]
	}
	return p.store.SaveRepositoryOverview(ctx, repo.ID, overview, vec)
}

// buckets yields index slices of up to size elements covering [0, n).
func buckets(n, size int) func(func([]int) bool) {
	if size <= 0 {
		size = 100
	}
	return func(yield func([]int) bool) {
		for lo := 0; lo < n; lo += size {
			hi := min(lo+size, n)
			idx := make([]int, 0, hi-lo)
			for i := lo; i < hi; i++ {
				idx = append(idx, i)
			}
			if !yield(idx) {
				return
			}
		}
	}
}
