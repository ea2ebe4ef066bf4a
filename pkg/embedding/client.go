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

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"math"
	"net/http"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/internal/backoff"
	"github.com/kraklabs/repomind/internal/config"
	"github.com/kraklabs/repomind/internal/ratelimit"
	"github.com/kraklabs/repomind/pkg/llm"
)

const (
	transportRetries = 3
	rateRetries      = 5
)

// Client is a batched embedding client bound to one provider tuple. It
// satisfies the ingestion pipeline's Embedder contract.
type Client struct {
	hc       *http.Client
	provider llm.Provider
	retry    backoff.Config
	logger   *slog.Logger

	batchInputs int
	batchChars  int
	concurrency int

	baseURL string // test override
}

// NewClient builds a client for the given provider with the tuning's
// batch caps and concurrency bound.
func NewClient(provider llm.Provider, tuning config.Tuning, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	def := config.DefaultTuning()
	if tuning.EmbedBatchInputs <= 0 {
		tuning.EmbedBatchInputs = def.EmbedBatchInputs
	}
	if tuning.EmbedBatchChars <= 0 {
		tuning.EmbedBatchChars = def.EmbedBatchChars
	}
	if tuning.EmbedConcurrency <= 0 {
		tuning.EmbedConcurrency = def.EmbedConcurrency
	}
	return &Client{
		hc:          &http.Client{Timeout: 60 * time.Second},
		provider:    provider,
		retry:       backoff.Config{}.WithDefaults(),
		logger:      logger,
		batchInputs: tuning.EmbedBatchInputs,
		batchChars:  tuning.EmbedBatchChars,
		concurrency: tuning.EmbedConcurrency,
	}
}

// Embed converts texts to vectors, preserving input order. Batches run
// concurrently up to the configured bound; any batch error fails the
// whole call.
func (c *Client) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	out := make([][]float32, len(texts))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.concurrency)

	for _, b := range splitBatches(texts, c.batchInputs, c.batchChars) {
		g.Go(func() error {
			vecs, err := c.embedBatch(gctx, texts[b.start:b.end])
			if err != nil {
				return err
			}
			if len(vecs) != b.end-b.start {
				return apierr.Newf(apierr.KindLLMFailure,
					"provider returned %d embeddings for %d inputs", len(vecs), b.end-b.start)
			}
			copy(out[b.start:b.end], vecs)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

type batchSpan struct {
	start, end int
}

// splitBatches cuts the input into contiguous spans capped by input
// count and cumulative characters. A single oversized text still forms
// its own batch.
func splitBatches(texts []string, maxInputs, maxChars int) []batchSpan {
	var spans []batchSpan
	start, chars := 0, 0
	for i, t := range texts {
		if i > start && (i-start >= maxInputs || chars+len(t) > maxChars) {
			spans = append(spans, batchSpan{start: start, end: i})
			start, chars = i, 0
		}
		chars += len(t)
	}
	spans = append(spans, batchSpan{start: start, end: len(texts)})
	return spans
}

func (c *Client) embedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if c.provider.Name == "gemini" {
		return c.geminiEmbedBatch(ctx, texts)
	}

	base := c.baseURL
	if base == "" {
		var err error
		base, err = llm.ResolveBaseURL(c.provider.Name)
		if err != nil {
			return nil, err
		}
	}

	body, err := json.Marshal(map[string]any{
		"model":           c.provider.Model,
		"input":           texts,
		"encoding_format": "float",
	})
	if err != nil {
		return nil, fmt.Errorf("marshal embeddings request: %w", err)
	}

	resp, err := c.post(ctx, base+"/embeddings", body, map[string]string{
		"Authorization": "Bearer " + c.provider.APIKey,
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var parsed struct {
		Data []struct {
			Index     int       `json:"index"`
			Embedding []float64 `json:"embedding"`
		} `json:"data"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, apierr.Wrap(apierr.KindLLMFailure, "decode embeddings response", err)
	}
	if len(parsed.Data) != len(texts) {
		return nil, apierr.Newf(apierr.KindLLMFailure,
			"provider returned %d embeddings for %d inputs", len(parsed.Data), len(texts))
	}

	// The index field, not array position, is authoritative.
	vecs := make([][]float32, len(texts))
	for _, d := range parsed.Data {
		if d.Index < 0 || d.Index >= len(vecs) {
			return nil, apierr.Newf(apierr.KindLLMFailure, "embedding index %d out of range", d.Index)
		}
		vecs[d.Index] = normalize(toFloat32(d.Embedding))
	}
	return vecs, nil
}

// post sends the request with the shared retry and throttle policy:
// transport errors and 5xx retry 3 times, 429 retries 5 times, auth
// failures are fatal.
func (c *Client) post(ctx context.Context, url string, body []byte, headers map[string]string) (*http.Response, error) {
	if err := ratelimit.For(c.provider.Name, c.provider.APIKey).Wait(ctx); err != nil {
		return nil, err
	}

	transportTries, rateTries := 0, 0
	for {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("build embeddings request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		for k, v := range headers {
			req.Header.Set(k, v)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			transportTries++
			if transportTries > transportRetries {
				return nil, apierr.Wrap(apierr.KindLLMFailure, "embedding provider unreachable", err)
			}
			d := c.retry.Delay(transportTries)
			c.logger.Warn("embedding.request.retry", "attempt", transportTries, "sleep_ms", d.Milliseconds(), "error", err)
			if err := backoff.Sleep(ctx, d); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil
		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			msg := readErrorMessage(resp)
			return nil, apierr.Newf(apierr.KindUnauthorizedLLM, "embedding provider rejected credentials: %s", msg)
		case resp.StatusCode == http.StatusTooManyRequests:
			readErrorMessage(resp)
			rateTries++
			if rateTries > rateRetries {
				return nil, apierr.New(apierr.KindRateLimitedLLM, "embedding provider rate limit persisted through retries")
			}
			d := c.retry.Delay(rateTries)
			c.logger.Warn("embedding.request.throttle", "attempt", rateTries, "sleep_ms", d.Milliseconds())
			if err := backoff.Sleep(ctx, d); err != nil {
				return nil, err
			}
		case resp.StatusCode >= 500:
			msg := readErrorMessage(resp)
			transportTries++
			if transportTries > transportRetries {
				return nil, apierr.Newf(apierr.KindLLMFailure, "embedding provider error (status %d): %s", resp.StatusCode, msg)
			}
			d := c.retry.Delay(transportTries)
			c.logger.Warn("embedding.request.retry", "attempt", transportTries, "status", resp.StatusCode, "sleep_ms", d.Milliseconds())
			if err := backoff.Sleep(ctx, d); err != nil {
				return nil, err
			}
		default:
			msg := readErrorMessage(resp)
			return nil, apierr.Newf(apierr.KindLLMFailure, "embedding provider error (status %d): %s", resp.StatusCode, msg)
		}
	}
}

func readErrorMessage(resp *http.Response) string {
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	return string(raw)
}

func toFloat32(in []float64) []float32 {
	out := make([]float32, len(in))
	for i, v := range in {
		out[i] = float32(v)
	}
	return out
}

// normalize scales the vector to unit length so cosine similarity and
// dot product agree regardless of provider conventions.
func normalize(v []float32) []float32 {
	var norm float64
	for _, x := range v {
		norm += float64(x) * float64(x)
	}
	norm = math.Sqrt(norm)
	if norm == 0 {
		return v
	}
	f := float32(norm)
	for i := range v {
		v[i] /= f
	}
	return v
}
