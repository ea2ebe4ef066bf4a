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
	"log/slog"
	"sync"
	"time"

	"github.com/kraklabs/repomind/pkg/storage"
)

// ProgressWriter coalesces task progress updates to at most one
// durable write per interval. The latest pending state always wins;
// Close flushes it.
type ProgressWriter struct {
	store    storage.Store
	taskID   string
	interval time.Duration
	logger   *slog.Logger

	mu      sync.Mutex
	pending storage.Progress
	dirty   bool

	stopOnce sync.Once
	stop     chan struct{}
	done     chan struct{}
}

// NewProgressWriter starts the background flusher. interval <= 0
// defaults to 500 ms.
func NewProgressWriter(store storage.Store, taskID string, interval time.Duration, logger *slog.Logger) *ProgressWriter {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 500 * time.Millisecond
	}
	pw := &ProgressWriter{
		store:    store,
		taskID:   taskID,
		interval: interval,
		logger:   logger,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	go pw.run()
	return pw
}

// Update records the newest progress; it never blocks on storage.
func (pw *ProgressWriter) Update(p storage.Progress) {
	pw.mu.Lock()
	pw.pending = p
	pw.dirty = true
	pw.mu.Unlock()
}

func (pw *ProgressWriter) run() {
	defer close(pw.done)
	ticker := time.NewTicker(pw.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			pw.flush()
		case <-pw.stop:
			pw.flush()
			return
		}
	}
}

func (pw *ProgressWriter) flush() {
	pw.mu.Lock()
	if !pw.dirty {
		pw.mu.Unlock()
		return
	}
	p := pw.pending
	pw.dirty = false
	pw.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := pw.store.UpdateTaskProgress(ctx, pw.taskID, p); err != nil {
		pw.logger.Warn("pipeline.progress.write_failed", "task_id", pw.taskID, "err", err)
	}
}

// Close flushes the final state and stops the background goroutine.
// Safe to call more than once.
func (pw *ProgressWriter) Close() {
	pw.stopOnce.Do(func() { close(pw.stop) })
	<-pw.done
}
