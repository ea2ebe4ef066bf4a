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

package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kraklabs/repomind/internal/api"
	"github.com/kraklabs/repomind/internal/config"
	"github.com/kraklabs/repomind/pkg/githubapi"
	"github.com/kraklabs/repomind/pkg/ingestion"
	"github.com/kraklabs/repomind/pkg/llm"
	"github.com/kraklabs/repomind/pkg/query"
	"github.com/kraklabs/repomind/pkg/storage"
)

const shutdownGrace = 10 * time.Second

// App is the assembled service.
type App struct {
	Config *config.Config
	Logger *slog.Logger
	Store  storage.Store
	Index  storage.VectorIndex

	Pipeline *ingestion.Pipeline
	Engine   *query.Engine
	Server   *api.Server
}

// NewLogger builds the process logger: JSON in production, text
// otherwise. It becomes the slog default.
func NewLogger(cfg *config.Config, debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	opts := &slog.HandlerOptions{Level: level}
	var h slog.Handler
	if cfg.IsDevelopment() {
		h = slog.NewTextHandler(os.Stdout, opts)
	} else {
		h = slog.NewJSONHandler(os.Stdout, opts)
	}
	logger := slog.New(h)
	slog.SetDefault(logger)
	return logger
}

// NewApp wires every component. The returned App owns the store and
// index handles; Close releases them.
func NewApp(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}

	store, index, err := openStores(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	// A previous process may have died mid-ingestion.
	n, err := store.MarkInterruptedTasks(ctx, cfg.Tuning.TaskHeartbeat)
	if err != nil {
		store.Close()
		return nil, fmt.Errorf("scan interrupted tasks: %w", err)
	}
	if n > 0 {
		logger.Warn("bootstrap.tasks.interrupted", "count", n)
	}

	source := githubapi.NewClient(githubapi.Config{
		Token:            cfg.SourceHostToken,
		FetchConcurrency: cfg.Tuning.FetchConcurrency,
		BlobSizeLimit:    cfg.Tuning.BlobSizeLimit,
	}, logger)
	parsers := ingestion.NewParserPool(logger)
	pipeline := ingestion.NewPipeline(store, index, source, parsers, cfg.Tuning, logger)

	chat := llm.NewClient(logger)
	engine := query.New(store, chat, cfg, logger)
	server := api.New(cfg, store, index, pipeline, engine, chat, logger)

	return &App{
		Config:   cfg,
		Logger:   logger,
		Store:    store,
		Index:    index,
		Pipeline: pipeline,
		Engine:   engine,
		Server:   server,
	}, nil
}

// openStores connects the document store and the vector index. Without
// a store URI the in-memory pair serves both, for development only.
func openStores(ctx context.Context, cfg *config.Config, logger *slog.Logger) (storage.Store, storage.VectorIndex, error) {
	if cfg.StoreURI == "" {
		if !cfg.IsDevelopment() {
			return nil, nil, errors.New("STORE_URI is required in production")
		}
		logger.Warn("bootstrap.store.memory", "reason", "no STORE_URI configured; data will not survive restarts")
		mem := storage.NewMemory()
		return mem, mem.Index(), nil
	}

	pg, err := storage.NewPostgres(ctx, cfg.StoreURI, logger)
	if err != nil {
		return nil, nil, err
	}
	qd, err := storage.NewQdrantIndex(storage.QdrantConfig{
		Host:   cfg.QdrantHost,
		Port:   cfg.QdrantPort,
		APIKey: cfg.QdrantAPIKey,
		UseTLS: cfg.QdrantTLS,
	}, logger)
	if err != nil {
		pg.Close()
		return nil, nil, err
	}
	return pg, qd, nil
}

// Run serves HTTP until the context is cancelled, then drains with a
// grace period. The optional metrics listener runs alongside.
func (a *App) Run(ctx context.Context) error {
	srv := &http.Server{
		Addr:              a.Config.HTTPAddr,
		Handler:           a.Server.Router(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	var metricsSrv *http.Server
	if a.Config.MetricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsSrv = &http.Server{Addr: a.Config.MetricsAddr, Handler: mux, ReadHeaderTimeout: 10 * time.Second}
		go func() {
			a.Logger.Info("metrics.http.start", "addr", a.Config.MetricsAddr, "path", "/metrics")
			if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				a.Logger.Warn("metrics.http.error", "error", err)
			}
		}()
	}

	errCh := make(chan error, 1)
	go func() {
		a.Logger.Info("http.start", "addr", a.Config.HTTPAddr, "env", a.Config.Env)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("http server: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	a.Logger.Info("http.shutdown")
	sctx, cancel := context.WithTimeout(context.Background(), shutdownGrace)
	defer cancel()
	if metricsSrv != nil {
		_ = metricsSrv.Shutdown(sctx)
	}
	if err := srv.Shutdown(sctx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	return nil
}

// Close releases the storage handles.
func (a *App) Close() {
	a.Store.Close()
	if err := a.Index.Close(); err != nil {
		a.Logger.Warn("bootstrap.index.close_failed", "error", err)
	}
}
