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

package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultTuning(t *testing.T) {
	tn := DefaultTuning()
	assert.Equal(t, 8, tn.FetchConcurrency)
	assert.Equal(t, 6, tn.LLMConcurrency)
	assert.Equal(t, 4, tn.EmbedConcurrency)
	assert.Equal(t, 100, tn.BucketSize)
	assert.Equal(t, 96, tn.EmbedBatchInputs)
	assert.Equal(t, 6000, tn.EmbedBatchChars)
	assert.Equal(t, int64(1<<20), tn.BlobSizeLimit)
	assert.Equal(t, 20, tn.OverviewTopK)
	assert.Equal(t, 20, tn.HistoryWindow)
	assert.Equal(t, 6, tn.MaxToolIterations)
	assert.Equal(t, 60*time.Second, tn.LLMCallTimeout)
	assert.Equal(t, 10*time.Second, tn.ToolTimeout)
}

func TestLoadTuningFileOverlay(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repomind.yaml")
	err := os.WriteFile(path, []byte("fetch_concurrency: 2\nbucket_size: 10\n"), 0o644)
	require.NoError(t, err)

	tn := DefaultTuning()
	require.NoError(t, loadTuningFile(path, &tn))

	assert.Equal(t, 2, tn.FetchConcurrency)
	assert.Equal(t, 10, tn.BucketSize)
	// Untouched knobs keep their defaults.
	assert.Equal(t, 6, tn.LLMConcurrency)
	assert.Equal(t, 96, tn.EmbedBatchInputs)
}

func TestLoadTuningFileMissingIsFine(t *testing.T) {
	tn := DefaultTuning()
	require.NoError(t, loadTuningFile(filepath.Join(t.TempDir(), "nope.yaml"), &tn))
	assert.Equal(t, DefaultTuning(), tn)
}

func TestLoadTuningFileMalformed(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "repomind.yaml")
	require.NoError(t, os.WriteFile(path, []byte("fetch_concurrency: [oops"), 0o644))

	tn := DefaultTuning()
	assert.Error(t, loadTuningFile(path, &tn))
}

func TestValidateProduction(t *testing.T) {
	cfg := &Config{Env: EnvProduction}
	assert.Error(t, cfg.validate())

	cfg.StoreURI = "postgres://localhost/repomind"
	assert.Error(t, cfg.validate())

	cfg.APIKey = "k"
	assert.NoError(t, cfg.validate())

	dev := &Config{Env: EnvDevelopment}
	assert.NoError(t, dev.validate())
	assert.True(t, dev.IsDevelopment())
	assert.False(t, cfg.IsDevelopment())
}
