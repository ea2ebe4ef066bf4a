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

package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/internal/backoff"
	"github.com/kraklabs/repomind/internal/ratelimit"
)

// Provider is the per-request provider selection tuple, resolved from
// session preferences or the development fallback.
type Provider struct {
	Name   string
	Model  string
	APIKey string
}

// baseURLs is the chat-completions dispatch table. Gemini speaks its
// own protocol and is handled by a separate adapter.
var baseURLs = map[string]string{
	"openai":     "https://api.openai.com/v1",
	"fireworks":  "https://api.fireworks.ai/inference/v1",
	"together":   "https://api.together.xyz/v1",
	"groq":       "https://api.groq.com/openai/v1",
	"grok":       "https://api.x.ai/v1",
	"openrouter": "https://openrouter.ai/api/v1",
}

// ResolveBaseURL returns the OpenAI-compatible endpoint for a provider
// name.
func ResolveBaseURL(name string) (string, error) {
	if u, ok := baseURLs[name]; ok {
		return u, nil
	}
	return "", apierr.Newf(apierr.KindInvalidInput, "unknown provider %q", name)
}

// Message is one chat turn on the wire.
type Message struct {
	Role       string     `json:"role"` // system, user, assistant, tool
	Content    string     `json:"content"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// ToolCall is one tool invocation requested by the assistant.
// Arguments is a string-encoded JSON object, as the protocol defines.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function ToolCallFunc `json:"function"`
}

// ToolCallFunc is the name/arguments pair of a tool call.
type ToolCallFunc struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Tool is one tool definition offered to the model.
type Tool struct {
	Type     string         `json:"type"` // always "function"
	Function ToolDefinition `json:"function"`
}

// ToolDefinition carries the JSON-schema description of a tool.
type ToolDefinition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// ChatRequest is a provider-agnostic chat-completions request.
type ChatRequest struct {
	Messages    []Message
	Tools       []Tool
	Temperature float64
	MaxTokens   int
}

// ChatResponse is the terminal result of a non-streaming turn.
type ChatResponse struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
}

// Completer is the non-streaming chat capability, satisfied by Client
// and by test doubles.
type Completer interface {
	Chat(ctx context.Context, p Provider, req ChatRequest) (*ChatResponse, error)
}

// Streamer is the streaming chat capability used by the query engine.
type Streamer interface {
	ChatStream(ctx context.Context, p Provider, req ChatRequest, fn StreamHandler) error
}

// Client talks to LLM providers. One client serves all providers; the
// credential tuple arrives per call.
type Client struct {
	hc      *http.Client
	retry   backoff.Config
	logger  *slog.Logger
	baseURL map[string]string // test override
}

// Transport errors get 3 attempts with jitter, rate limits get 5 with
// backoff. Schema and auth errors are fatal.
const (
	transportRetries = 3
	rateRetries      = 5
)

// NewClient creates the shared provider client.
func NewClient(logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		hc:     &http.Client{Timeout: 120 * time.Second},
		retry:  backoff.Config{}.WithDefaults(),
		logger: logger,
	}
}

// resolveURL honors the test override before the public table.
func (c *Client) resolveURL(name string) (string, error) {
	if c.baseURL != nil {
		if u, ok := c.baseURL[name]; ok {
			return u, nil
		}
	}
	return ResolveBaseURL(name)
}

// chatBody is the OpenAI-style request payload.
type chatBody struct {
	Model       string    `json:"model"`
	Messages    []Message `json:"messages"`
	Tools       []Tool    `json:"tools,omitempty"`
	Temperature float64   `json:"temperature,omitempty"`
	MaxTokens   int       `json:"max_tokens,omitempty"`
	Stream      bool      `json:"stream"`
}

// Chat performs one non-streaming completion.
func (c *Client) Chat(ctx context.Context, p Provider, req ChatRequest) (*ChatResponse, error) {
	if p.Name == "gemini" {
		return c.geminiChat(ctx, p, req)
	}
	base, err := c.resolveURL(p.Name)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(chatBody{
		Model:       p.Model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := c.post(ctx, p, base+"/chat/completions", body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindLLMFailure, "read completion response", err)
	}
	var parsed struct {
		Choices []struct {
			Message struct {
				Content   string     `json:"content"`
				ToolCalls []ToolCall `json:"tool_calls"`
			} `json:"message"`
			FinishReason string `json:"finish_reason"`
		} `json:"choices"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apierr.Wrap(apierr.KindLLMFailure, "decode completion response", err)
	}
	if len(parsed.Choices) == 0 {
		return nil, apierr.New(apierr.KindLLMFailure, "provider returned no choices")
	}
	choice := parsed.Choices[0]
	return &ChatResponse{
		Content:      choice.Message.Content,
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
	}, nil
}

// post sends one JSON request under the shared per-credential limiter
// and the retry policy. The caller owns the returned body.
func (c *Client) post(ctx context.Context, p Provider, url string, body []byte) (*http.Response, error) {
	limiter := ratelimit.For(p.Name, p.APIKey)

	transportTries := 0
	rateTries := 0
	for {
		if err := limiter.Wait(ctx); err != nil {
			return nil, err
		}
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/json")
		if p.Name == "gemini" {
			req.Header.Set("x-goog-api-key", p.APIKey)
		} else {
			req.Header.Set("Authorization", "Bearer "+p.APIKey)
		}

		resp, err := c.hc.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			transportTries++
			if transportTries > transportRetries {
				return nil, apierr.Wrap(apierr.KindLLMFailure, "provider unreachable", err)
			}
			sleep := c.retry.Delay(transportTries)
			c.logger.Warn("llm.request.retry", "provider", p.Name, "attempt", transportTries, "sleep_ms", sleep.Milliseconds(), "err", err)
			if err := backoff.Sleep(ctx, sleep); err != nil {
				return nil, err
			}
			continue
		}

		switch {
		case resp.StatusCode == http.StatusOK:
			return resp, nil

		case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
			msg := readErrorMessage(resp)
			return nil, apierr.Newf(apierr.KindUnauthorizedLLM, "provider rejected credentials: %s", msg)

		case resp.StatusCode == http.StatusTooManyRequests:
			msg := readErrorMessage(resp)
			rateTries++
			if rateTries > rateRetries {
				return nil, apierr.Newf(apierr.KindRateLimitedLLM, "provider rate limit exhausted: %s", msg)
			}
			sleep := retryAfter(resp)
			if sleep <= 0 {
				sleep = c.retry.Delay(rateTries)
			}
			c.logger.Warn("llm.request.throttle", "provider", p.Name, "attempt", rateTries, "sleep_ms", sleep.Milliseconds())
			if err := backoff.Sleep(ctx, sleep); err != nil {
				return nil, err
			}

		case resp.StatusCode >= 500:
			msg := readErrorMessage(resp)
			transportTries++
			if transportTries > transportRetries {
				return nil, apierr.Newf(apierr.KindLLMFailure, "provider error (status %d): %s", resp.StatusCode, msg)
			}
			sleep := c.retry.Delay(transportTries)
			c.logger.Warn("llm.request.retry", "provider", p.Name, "status", resp.StatusCode, "attempt", transportTries, "sleep_ms", sleep.Milliseconds())
			if err := backoff.Sleep(ctx, sleep); err != nil {
				return nil, err
			}

		default:
			msg := readErrorMessage(resp)
			return nil, apierr.Newf(apierr.KindLLMFailure, "provider error (status %d): %s", resp.StatusCode, msg)
		}
	}
}

// readErrorMessage drains a failed response and pulls the provider's
// error message when the body carries one.
func readErrorMessage(resp *http.Response) string {
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4096))
	if err != nil {
		return resp.Status
	}
	var parsed struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &parsed); err == nil && parsed.Error.Message != "" {
		return parsed.Error.Message
	}
	if len(raw) == 0 {
		return resp.Status
	}
	return string(raw)
}

// retryAfter honors an explicit Retry-After header.
func retryAfter(resp *http.Response) time.Duration {
	if v := resp.Header.Get("Retry-After"); v != "" {
		if secs, err := strconv.Atoi(v); err == nil && secs > 0 {
			return time.Duration(secs) * time.Second
		}
	}
	return 0
}

var _ Completer = (*Client)(nil)
var _ Streamer = (*Client)(nil)
