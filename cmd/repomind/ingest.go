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

package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	flag "github.com/spf13/pflag"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/internal/bootstrap"
	"github.com/kraklabs/repomind/internal/config"
	"github.com/kraklabs/repomind/internal/output"
	"github.com/kraklabs/repomind/internal/ui"
	"github.com/kraklabs/repomind/pkg/embedding"
	"github.com/kraklabs/repomind/pkg/ingestion"
	"github.com/kraklabs/repomind/pkg/llm"
	"github.com/kraklabs/repomind/pkg/storage"
)

// runIngest ingests one repository synchronously, reporting pipeline
// progress on stderr.
func runIngest(args []string, globals GlobalFlags) {
	fs := flag.NewFlagSet("ingest", flag.ExitOnError)
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, `Usage: repomind ingest <github-url>

Description:
  Fetch, parse, embed and summarize one public repository, then print
  its identifier. Uses the providers configured in the environment
  (AI_PROVIDER/AI_MODEL and EMBEDDING_PROVIDER/EMBEDDING_MODEL).

Examples:
  repomind ingest https://github.com/alice/demo
  repomind -q ingest https://github.com/alice/demo
`)
	}
	if err := fs.Parse(args); err != nil {
		os.Exit(1)
	}
	if fs.NArg() != 1 {
		fs.Usage()
		os.Exit(2)
	}
	url := fs.Arg(0)

	cfg, err := config.Load()
	if err != nil {
		fatal(err, globals)
	}
	logger := bootstrap.NewLogger(cfg, globals.Debug)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewApp(ctx, cfg, logger)
	if err != nil {
		fatal(err, globals)
	}
	defer app.Close()

	embedder, err := cliEmbedder(cfg, logger)
	if err != nil {
		fatal(err, globals)
	}
	summarizer, err := cliSummarizer(cfg, logger)
	if err != nil {
		fatal(err, globals)
	}

	sess, err := app.Store.CreateSession(ctx)
	if err != nil {
		fatal(err, globals)
	}

	if !globals.Quiet {
		ui.Header("Ingesting " + url)
	}
	repo, task, entries, err := app.Pipeline.Prepare(ctx, sess.ID, url)
	if err != nil {
		fatal(err, globals)
	}
	if !globals.Quiet {
		ui.Infof("%s/%s (%d files, default branch %s)", repo.Owner, repo.Name, len(entries), repo.DefaultBranch)
	}

	done := make(chan struct{})
	go trackProgress(ctx, app.Store, task.ID, int64(len(entries)), globals, done)

	runErr := app.Pipeline.Run(ctx, repo, task, entries, embedder, summarizer)
	close(done)
	if runErr != nil {
		fatal(runErr, globals)
	}

	final, err := app.Store.GetRepository(ctx, repo.ID)
	if err != nil {
		fatal(err, globals)
	}
	if globals.JSON {
		if err := output.JSON(final); err != nil {
			fatal(err, globals)
		}
		return
	}
	if !globals.Quiet {
		ui.Successf("Ingested %s/%s: status %s", final.Owner, final.Name, final.Status)
		fmt.Printf("  %s %s\n", ui.Label("Files:"), ui.CountText(final.FileCount))
		fmt.Printf("  %s %s\n", ui.Label("Branch:"), ui.DimText(final.DefaultBranch))
	}
	fmt.Println(final.ID)
}

// trackProgress polls the task record and drives the progress bar
// until the pipeline finishes.
func trackProgress(ctx context.Context, store storage.Store, taskID string, total int64, globals GlobalFlags, done <-chan struct{}) {
	cfg := NewProgressConfig(globals)
	bar := NewProgressBar(cfg, total, "ingesting")
	if bar == nil {
		return
	}
	ticker := time.NewTicker(200 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			_ = bar.Finish()
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			task, err := store.GetTask(ctx, taskID)
			if err != nil {
				continue
			}
			bar.Describe(string(task.Progress.CurrentStep))
			_ = bar.Set(task.Progress.ProcessedFiles)
		}
	}
}

// cliEmbedder builds the embedder from the environment configuration.
func cliEmbedder(cfg *config.Config, logger *slog.Logger) (ingestion.Embedder, error) {
	if cfg.EmbeddingProvider == "mock" {
		return embedding.NewMock(0), nil
	}
	if cfg.EmbeddingProvider == "" || cfg.EmbeddingModel == "" {
		return nil, apierr.New(apierr.KindInvalidInput,
			"EMBEDDING_PROVIDER and EMBEDDING_MODEL must be configured")
	}
	return embedding.NewClient(llm.Provider{
		Name:   cfg.EmbeddingProvider,
		Model:  cfg.EmbeddingModel,
		APIKey: cfg.AIAPIKey,
	}, cfg.Tuning, logger), nil
}

// cliSummarizer builds the file summarizer from the environment
// configuration.
func cliSummarizer(cfg *config.Config, logger *slog.Logger) (ingestion.Summarizer, error) {
	if cfg.AIProvider == "" || cfg.AIModel == "" {
		return nil, apierr.New(apierr.KindInvalidInput,
			"AI_PROVIDER and AI_MODEL must be configured")
	}
	return llm.NewService(llm.NewClient(logger), llm.Provider{
		Name:   cfg.AIProvider,
		Model:  cfg.AIModel,
		APIKey: cfg.AIAPIKey,
	}), nil
}
