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
	"strings"

	"github.com/google/uuid"

	"github.com/kraklabs/repomind/internal/apierr"
)

// geminiBaseURL is the provider-native endpoint; Gemini does not speak
// the OpenAI chat-completions protocol.
const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

func (c *Client) geminiURL() string {
	if c.baseURL != nil {
		if u, ok := c.baseURL["gemini"]; ok {
			return u
		}
	}
	return geminiBaseURL
}

// geminiContent is one turn of the native protocol.
type geminiContent struct {
	Role  string       `json:"role,omitempty"` // "user" or "model"
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text             string          `json:"text,omitempty"`
	FunctionCall     *geminiFnCall   `json:"functionCall,omitempty"`
	FunctionResponse *geminiFnResult `json:"functionResponse,omitempty"`
}

type geminiFnCall struct {
	Name string          `json:"name"`
	Args json.RawMessage `json:"args,omitempty"`
}

type geminiFnResult struct {
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

type geminiRequest struct {
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	Contents          []geminiContent `json:"contents"`
	Tools             []geminiTools   `json:"tools,omitempty"`
}

type geminiTools struct {
	FunctionDeclarations []ToolDefinition `json:"functionDeclarations"`
}

type geminiResponse struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
}

// geminiBody translates the common chat request to the native shape:
// system messages become the system instruction, assistant turns
// become role=model, tool results become functionResponse parts.
func geminiBody(req ChatRequest) ([]byte, error) {
	body := geminiRequest{}
	// Tool-call IDs are synthesized on our side; map them back to
	// function names for the functionResponse parts.
	callNames := map[string]string{}

	for _, m := range req.Messages {
		switch m.Role {
		case "system":
			body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: m.Content}}}
		case "assistant":
			content := geminiContent{Role: "model"}
			if m.Content != "" {
				content.Parts = append(content.Parts, geminiPart{Text: m.Content})
			}
			for _, tc := range m.ToolCalls {
				callNames[tc.ID] = tc.Function.Name
				content.Parts = append(content.Parts, geminiPart{FunctionCall: &geminiFnCall{
					Name: tc.Function.Name,
					Args: json.RawMessage(tc.Function.Arguments),
				}})
			}
			body.Contents = append(body.Contents, content)
		case "tool":
			var result map[string]any
			if err := json.Unmarshal([]byte(m.Content), &result); err != nil {
				result = map[string]any{"content": m.Content}
			}
			body.Contents = append(body.Contents, geminiContent{
				Role: "user",
				Parts: []geminiPart{{FunctionResponse: &geminiFnResult{
					Name:     callNames[m.ToolCallID],
					Response: result,
				}}},
			})
		default:
			body.Contents = append(body.Contents, geminiContent{
				Role:  "user",
				Parts: []geminiPart{{Text: m.Content}},
			})
		}
	}
	if len(req.Tools) > 0 {
		decls := make([]ToolDefinition, len(req.Tools))
		for i, t := range req.Tools {
			decls[i] = t.Function
		}
		body.Tools = []geminiTools{{FunctionDeclarations: decls}}
	}
	return json.Marshal(body)
}

func (c *Client) geminiChat(ctx context.Context, p Provider, req ChatRequest) (*ChatResponse, error) {
	body, err := geminiBody(req)
	if err != nil {
		return nil, fmt.Errorf("marshal gemini request: %w", err)
	}
	url := c.geminiURL() + "/models/" + p.Model + ":generateContent"
	resp, err := c.post(ctx, p, url, body)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apierr.Wrap(apierr.KindLLMFailure, "read gemini response", err)
	}
	var parsed geminiResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, apierr.Wrap(apierr.KindLLMFailure, "decode gemini response", err)
	}
	if len(parsed.Candidates) == 0 {
		return nil, apierr.New(apierr.KindLLMFailure, "gemini returned no candidates")
	}

	out := &ChatResponse{FinishReason: geminiFinish(parsed.Candidates[0].FinishReason)}
	for _, part := range parsed.Candidates[0].Content.Parts {
		if part.Text != "" {
			out.Content += part.Text
		}
		if part.FunctionCall != nil {
			out.ToolCalls = append(out.ToolCalls, geminiToolCall(part.FunctionCall))
		}
	}
	if len(out.ToolCalls) > 0 {
		out.FinishReason = "tool_calls"
	}
	return out, nil
}

func (c *Client) geminiChatStream(ctx context.Context, p Provider, req ChatRequest, fn StreamHandler) error {
	body, err := geminiBody(req)
	if err != nil {
		return fmt.Errorf("marshal gemini request: %w", err)
	}
	url := c.geminiURL() + "/models/" + p.Model + ":streamGenerateContent?alt=sse"
	resp, err := c.post(ctx, p, url, body)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var toolCalls []ToolCall
	finish := ""

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1<<20)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		data, ok := strings.CutPrefix(line, "data:")
		if !ok {
			continue
		}
		var parsed geminiResponse
		if err := json.Unmarshal([]byte(strings.TrimSpace(data)), &parsed); err != nil {
			return apierr.Wrap(apierr.KindLLMFailure, "decode gemini stream chunk", err)
		}
		if len(parsed.Candidates) == 0 {
			continue
		}
		cand := parsed.Candidates[0]
		for _, part := range cand.Content.Parts {
			if part.Text != "" {
				if err := fn(Event{Type: EventContentDelta, Content: part.Text}); err != nil {
					return err
				}
			}
			if part.FunctionCall != nil {
				toolCalls = append(toolCalls, geminiToolCall(part.FunctionCall))
			}
		}
		if cand.FinishReason != "" {
			finish = geminiFinish(cand.FinishReason)
		}
	}
	if err := scanner.Err(); err != nil {
		return apierr.Wrap(apierr.KindLLMFailure, "read gemini stream", err)
	}
	if finish == "" {
		return apierr.New(apierr.KindLLMFailure, "gemini stream ended without a finish reason")
	}

	if len(toolCalls) > 0 {
		for i := range toolCalls {
			if err := fn(Event{Type: EventToolCall, ToolCall: &toolCalls[i]}); err != nil {
				return err
			}
		}
		finish = "tool_calls"
	}
	return fn(Event{Type: EventFinish, FinishReason: finish})
}

// geminiToolCall converts a native function call, synthesizing the ID
// the common protocol requires.
func geminiToolCall(call *geminiFnCall) ToolCall {
	args := "{}"
	if len(call.Args) > 0 {
		args = string(call.Args)
	}
	return ToolCall{
		ID:   "call_" + uuid.NewString()[:8],
		Type: "function",
		Function: ToolCallFunc{
			Name:      call.Name,
			Arguments: args,
		},
	}
}

func geminiFinish(reason string) string {
	switch reason {
	case "STOP", "":
		return "stop"
	case "MAX_TOKENS":
		return "length"
	default:
		return strings.ToLower(reason)
	}
}
