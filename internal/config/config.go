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

// Package config loads service configuration. Connection settings and
// credentials come from the environment (a .env file is honored in
// development); tuning knobs may be overridden by an optional
// repomind.yaml next to the binary or named by REPOMIND_CONFIG.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Env names the deployment environment.
const (
	EnvDevelopment = "development"
	EnvProduction  = "production"
)

// Tuning holds the pipeline and client knobs with sane defaults. All
// fields are optional in repomind.yaml; zero values fall back to the
// defaults from DefaultTuning.
type Tuning struct {
	// FetchConcurrency bounds in-flight blob fetches per repository.
	FetchConcurrency int `yaml:"fetch_concurrency"`

	// ParseConcurrency bounds the CPU-bound parser pool. 0 means
	// one worker per CPU.
	ParseConcurrency int `yaml:"parse_concurrency"`

	// LLMConcurrency bounds concurrent summarization calls.
	LLMConcurrency int `yaml:"llm_concurrency"`

	// EmbedConcurrency bounds concurrent embedding batches.
	EmbedConcurrency int `yaml:"embed_concurrency"`

	// BucketSize is the number of files per progress bucket.
	BucketSize int `yaml:"bucket_size"`

	// EmbedBatchInputs and EmbedBatchChars cap one embedding batch;
	// whichever fires first closes the batch.
	EmbedBatchInputs int `yaml:"embed_batch_inputs"`
	EmbedBatchChars  int `yaml:"embed_batch_chars"`

	// BlobSizeLimit is the per-file content ceiling in bytes.
	BlobSizeLimit int64 `yaml:"blob_size_limit"`

	// OverviewTopK is how many most-imported file summaries feed the
	// repository overview prompt.
	OverviewTopK int `yaml:"overview_top_k"`

	// HistoryWindow is how many prior user/assistant messages are
	// replayed into each query turn.
	HistoryWindow int `yaml:"history_window"`

	// MaxToolIterations bounds the query tool loop; the turn after the
	// bound omits tools.
	MaxToolIterations int `yaml:"max_tool_iterations"`

	// LLMCallTimeout and ToolTimeout bound individual calls.
	LLMCallTimeout time.Duration `yaml:"llm_call_timeout"`
	ToolTimeout    time.Duration `yaml:"tool_timeout"`

	// TaskHeartbeat is the staleness threshold for the startup scan
	// that fails interrupted tasks.
	TaskHeartbeat time.Duration `yaml:"task_heartbeat"`
}

// DefaultTuning returns the built-in knob values.
func DefaultTuning() Tuning {
	return Tuning{
		FetchConcurrency:  8,
		ParseConcurrency:  0,
		LLMConcurrency:    6,
		EmbedConcurrency:  4,
		BucketSize:        100,
		EmbedBatchInputs:  96,
		EmbedBatchChars:   6000,
		BlobSizeLimit:     1 << 20,
		OverviewTopK:      20,
		HistoryWindow:     20,
		MaxToolIterations: 6,
		LLMCallTimeout:    60 * time.Second,
		ToolTimeout:       10 * time.Second,
		TaskHeartbeat:     5 * time.Minute,
	}
}

// Config is the full service configuration.
type Config struct {
	Env         string
	HTTPAddr    string
	MetricsAddr string
	APIKey      string

	// Document store.
	StoreURI     string
	DatabaseName string

	// Vector store.
	QdrantHost   string
	QdrantPort   int
	QdrantAPIKey string
	QdrantTLS    bool

	// Source host (GitHub) token; optional, raises rate limits.
	SourceHostToken string

	// Development fallback provider for sessions without preferences.
	AIProvider string
	AIModel    string
	AIAPIKey   string

	EmbeddingProvider string
	EmbeddingModel    string

	Tuning Tuning
}

// IsDevelopment reports whether development-only fallbacks apply.
func (c *Config) IsDevelopment() bool { return c.Env != EnvProduction }

// Load reads environment variables and the optional yaml tuning file.
// In development a .env file in the working directory is loaded first.
func Load() (*Config, error) {
	env := os.Getenv("ENV")
	if env == "" {
		env = EnvDevelopment
	}
	if env != EnvProduction {
		// Missing .env is fine; explicit environment always wins.
		_ = godotenv.Load()
		if v := os.Getenv("ENV"); v != "" {
			env = v
		}
	}

	cfg := &Config{
		Env:               env,
		HTTPAddr:          envOr("HTTP_ADDR", ":8000"),
		MetricsAddr:       os.Getenv("METRICS_ADDR"),
		APIKey:            os.Getenv("API_KEY"),
		StoreURI:          os.Getenv("STORE_URI"),
		DatabaseName:      envOr("DATABASE_NAME", "repomind"),
		QdrantHost:        envOr("QDRANT_HOST", "localhost"),
		QdrantAPIKey:      os.Getenv("QDRANT_API_KEY"),
		SourceHostToken:   os.Getenv("SOURCE_HOST_TOKEN"),
		AIProvider:        os.Getenv("AI_PROVIDER"),
		AIModel:           os.Getenv("AI_MODEL"),
		AIAPIKey:          os.Getenv("AI_API_KEY"),
		EmbeddingProvider: os.Getenv("EMBEDDING_PROVIDER"),
		EmbeddingModel:    os.Getenv("EMBEDDING_MODEL"),
		Tuning:            DefaultTuning(),
	}

	if v := os.Getenv("QDRANT_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return nil, fmt.Errorf("parse QDRANT_PORT: %w", err)
		}
		cfg.QdrantPort = port
	}
	if v := os.Getenv("QDRANT_TLS"); v != "" {
		cfg.QdrantTLS = v == "1" || v == "true"
	}

	path := os.Getenv("REPOMIND_CONFIG")
	if path == "" {
		path = "repomind.yaml"
	}
	if err := loadTuningFile(path, &cfg.Tuning); err != nil {
		return nil, err
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.Env == EnvProduction {
		if c.StoreURI == "" {
			return fmt.Errorf("STORE_URI is required in production")
		}
		if c.APIKey == "" {
			return fmt.Errorf("API_KEY is required in production")
		}
	}
	return nil
}

// loadTuningFile overlays yaml values onto t. A missing file is not an
// error; a malformed one is.
func loadTuningFile(path string, t *Tuning) error {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, t); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	t.fillDefaults()
	return nil
}

func (t *Tuning) fillDefaults() {
	def := DefaultTuning()
	if t.FetchConcurrency <= 0 {
		t.FetchConcurrency = def.FetchConcurrency
	}
	if t.LLMConcurrency <= 0 {
		t.LLMConcurrency = def.LLMConcurrency
	}
	if t.EmbedConcurrency <= 0 {
		t.EmbedConcurrency = def.EmbedConcurrency
	}
	if t.BucketSize <= 0 {
		t.BucketSize = def.BucketSize
	}
	if t.EmbedBatchInputs <= 0 {
		t.EmbedBatchInputs = def.EmbedBatchInputs
	}
	if t.EmbedBatchChars <= 0 {
		t.EmbedBatchChars = def.EmbedBatchChars
	}
	if t.BlobSizeLimit <= 0 {
		t.BlobSizeLimit = def.BlobSizeLimit
	}
	if t.OverviewTopK <= 0 {
		t.OverviewTopK = def.OverviewTopK
	}
	if t.HistoryWindow <= 0 {
		t.HistoryWindow = def.HistoryWindow
	}
	if t.MaxToolIterations <= 0 {
		t.MaxToolIterations = def.MaxToolIterations
	}
	if t.LLMCallTimeout <= 0 {
		t.LLMCallTimeout = def.LLMCallTimeout
	}
	if t.ToolTimeout <= 0 {
		t.ToolTimeout = def.ToolTimeout
	}
	if t.TaskHeartbeat <= 0 {
		t.TaskHeartbeat = def.TaskHeartbeat
	}
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}
