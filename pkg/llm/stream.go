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
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/kraklabs/repomind/internal/apierr"
)

// EventType identifies one streaming event.
type EventType string

const (
	// EventContentDelta carries one fragment of assistant text.
	EventContentDelta EventType = "content_delta"
	// EventToolCall carries one fully buffered tool-call request.
	EventToolCall EventType = "tool_call_request"
	// EventFinish closes a turn with the provider's finish reason.
	EventFinish EventType = "finish"
)

// Event is one upward streaming event. ToolCall is set only for
// EventToolCall, FinishReason only for EventFinish.
type Event struct {
	Type         EventType
	Content      string
	ToolCall     *ToolCall
	FinishReason string
}

// StreamHandler consumes events in stream order. Returning an error
// stops the stream and tears down the provider connection.
type StreamHandler func(Event) error

// ChatStream performs one streaming completion, emitting content
// deltas as they arrive. Tool-call arguments may span many deltas and
// are buffered until the provider signals finish_reason=tool_calls.
func (c *Client) ChatStream(ctx context.Context, p Provider, req ChatRequest, fn StreamHandler) error {
	if p.Name == "gemini" {
		return c.geminiChatStream(ctx, p, req, fn)
	}
	base, err := c.resolveURL(p.Name)
	if err != nil {
		return err
	}
	body, err := json.Marshal(chatBody{
		Model:       p.Model,
		Messages:    req.Messages,
		Tools:       req.Tools,
		Temperature: req.Temperature,
		MaxTokens:   req.MaxTokens,
		Stream:      true,
	})
	if err != nil {
		return fmt.Errorf("marshal chat request: %w", err)
	}

	resp, err := c.post(ctx, p, base+"/chat/completions", body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	return parseOpenAIStream(resp.Body, fn)
}

// streamChunk is one decoded SSE data line of the OpenAI protocol.
type streamChunk struct {
	Choices []struct {
		Delta struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				Index    int    `json:"index"`
				ID       string `json:"id"`
				Type     string `json:"type"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"delta"`
		FinishReason *string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// parseOpenAIStream reads "data:" lines until [DONE], buffering partial
// tool calls by their stream index.
func parseOpenAIStream(r io.Reader, fn StreamHandler) error {
	pending := map[int]*ToolCall{}
	finished := false

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, ":") {
			continue
		}
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		data = strings.TrimSpace(data)
		if data == "[DONE]" {
			break
		}

		var chunk streamChunk
		if err := json.Unmarshal([]byte(data), &chunk); err != nil {
			return apierr.Wrap(apierr.KindLLMFailure, "decode stream chunk", err)
		}
		if chunk.Error != nil {
			return apierr.Newf(apierr.KindLLMFailure, "provider stream error: %s", chunk.Error.Message)
		}
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]

		if choice.Delta.Content != "" {
			if err := fn(Event{Type: EventContentDelta, Content: choice.Delta.Content}); err != nil {
				return err
			}
		}
		for _, tc := range choice.Delta.ToolCalls {
			call, ok := pending[tc.Index]
			if !ok {
				call = &ToolCall{Type: "function"}
				pending[tc.Index] = call
			}
			if tc.ID != "" {
				call.ID = tc.ID
			}
			if tc.Function.Name != "" {
				call.Function.Name = tc.Function.Name
			}
			call.Function.Arguments += tc.Function.Arguments
		}

		if choice.FinishReason != nil && *choice.FinishReason != "" {
			reason := *choice.FinishReason
			if reason == "tool_calls" {
				if err := flushToolCalls(pending, fn); err != nil {
					return err
				}
				pending = map[int]*ToolCall{}
			}
			if err := fn(Event{Type: EventFinish, FinishReason: reason}); err != nil {
				return err
			}
			finished = true
		}
	}
	if err := scanner.Err(); err != nil {
		return apierr.Wrap(apierr.KindLLMFailure, "read provider stream", err)
	}
	if !finished {
		return apierr.New(apierr.KindLLMFailure, "provider stream ended without a finish reason")
	}
	return nil
}

// flushToolCalls emits buffered calls in stream-index order.
func flushToolCalls(pending map[int]*ToolCall, fn StreamHandler) error {
	indexes := make([]int, 0, len(pending))
	for i := range pending {
		indexes = append(indexes, i)
	}
	sort.Ints(indexes)
	for _, i := range indexes {
		call := pending[i]
		if call.Function.Arguments == "" {
			call.Function.Arguments = "{}"
		}
		if err := fn(Event{Type: EventToolCall, ToolCall: call}); err != nil {
			return err
		}
	}
	return nil
}
