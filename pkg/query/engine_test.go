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

package query

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/internal/config"
	"github.com/kraklabs/repomind/pkg/llm"
	"github.com/kraklabs/repomind/pkg/storage"
	"github.com/kraklabs/repomind/pkg/tools"
)

type stubRunner struct {
	execute func(name string, args json.RawMessage) *tools.Outcome
}

func (s *stubRunner) Definitions() []llm.Tool {
	return []llm.Tool{{
		Type: "function",
		Function: llm.ToolDefinition{
			Name:       "search_code",
			Parameters: map[string]any{"type": "object"},
		},
	}}
}

func (s *stubRunner) Execute(_ context.Context, name string, args json.RawMessage) *tools.Outcome {
	if s.execute != nil {
		return s.execute(name, args)
	}
	return &tools.Outcome{JSON: []byte(`{"results":[]}`)}
}

func devConfig() *config.Config {
	return &config.Config{
		Env:        config.EnvDevelopment,
		AIProvider: "openai",
		AIModel:    "gpt-4o-mini",
		AIAPIKey:   "k-test",
		Tuning:     config.DefaultTuning(),
	}
}

func newTestEngine(t *testing.T, mock *llm.MockClient) (*Engine, *storage.Memory) {
	t.Helper()
	mem := storage.NewMemory()
	ctx := context.Background()
	require.NoError(t, mem.CreateRepository(ctx, &storage.Repository{
		ID: "repo-1", Owner: "alice", Name: "demo", Status: storage.RepoStatusCompleted,
	}))
	return New(mem, mock, devConfig(), nil), mem
}

func newSession(t *testing.T, mem *storage.Memory) string {
	t.Helper()
	sess, err := mem.CreateSession(context.Background())
	require.NoError(t, err)
	return sess.ID
}

func collect(events *[]any) Emit {
	return func(ev any) error {
		*events = append(*events, ev)
		return nil
	}
}

func streamText(parts ...string) func(ctx context.Context, p llm.Provider, req llm.ChatRequest, fn llm.StreamHandler) error {
	return func(ctx context.Context, p llm.Provider, req llm.ChatRequest, fn llm.StreamHandler) error {
		for _, part := range parts {
			if err := fn(llm.Event{Type: llm.EventContentDelta, Content: part}); err != nil {
				return err
			}
		}
		return fn(llm.Event{Type: llm.EventFinish, FinishReason: "stop"})
	}
}

func TestQueryStreamsAnswerAndPersistsTurn(t *testing.T) {
	mock := &llm.MockClient{ChatStreamFunc: streamText("The parser ", "lives in pkg/parser.go.")}
	e, mem := newTestEngine(t, mock)
	sessionID := newSession(t, mem)

	var events []any
	err := e.Query(context.Background(), sessionID, "repo-1", "where is the parser?", &stubRunner{}, collect(&events))
	require.NoError(t, err)

	require.Len(t, events, 3)
	assert.Equal(t, "The parser ", events[0].(AnswerChunk).Content)
	assert.Equal(t, "lives in pkg/parser.go.", events[1].(AnswerChunk).Content)
	done := events[2].(DoneEvent)
	assert.Empty(t, done.Sources)
	assert.Empty(t, done.ToolCalls)
	assert.NotNil(t, done.Sources, "done carries arrays, not null")

	conv, err := mem.GetConversation(context.Background(), sessionID, "repo-1")
	require.NoError(t, err)
	assert.Equal(t, "where is the parser?", conv.Title)

	msgs, total, err := mem.ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, "user", msgs[0].Role)
	assert.Equal(t, 1, msgs[0].Sequence)
	assert.Equal(t, "assistant", msgs[1].Role)
	assert.Equal(t, "The parser lives in pkg/parser.go.", msgs[1].Content)
	assert.Equal(t, 2, msgs[1].Sequence)
	assert.False(t, msgs[1].Meta.Truncated)
}

func TestQueryToolLoop(t *testing.T) {
	call := 0
	var secondTurnMsgs []llm.Message
	mock := &llm.MockClient{
		ChatStreamFunc: func(ctx context.Context, p llm.Provider, req llm.ChatRequest, fn llm.StreamHandler) error {
			call++
			if call == 1 {
				require.NotEmpty(t, req.Tools, "first turn offers tools")
				if err := fn(llm.Event{Type: llm.EventToolCall, ToolCall: &llm.ToolCall{
					ID: "call_1", Type: "function",
					Function: llm.ToolCallFunc{Name: "search_code", Arguments: `{"query":"parser"}`},
				}}); err != nil {
					return err
				}
				return fn(llm.Event{Type: llm.EventFinish, FinishReason: "tool_calls"})
			}
			secondTurnMsgs = req.Messages
			return streamText("Found it in pkg/parser.go.")(ctx, p, req, fn)
		},
	}
	e, mem := newTestEngine(t, mock)
	sessionID := newSession(t, mem)

	ls, le := 10, 30
	runner := &stubRunner{
		execute: func(name string, args json.RawMessage) *tools.Outcome {
			assert.Equal(t, "search_code", name)
			assert.JSONEq(t, `{"query":"parser"}`, string(args))
			return &tools.Outcome{
				JSON:    []byte(`{"results":[{"path":"pkg/parser.go"}]}`),
				Count:   1,
				Sources: []tools.Source{{FilePath: "pkg/parser.go", LineStart: &ls, LineEnd: &le}},
			}
		},
	}

	var events []any
	err := e.Query(context.Background(), sessionID, "repo-1", "find the parser", runner, collect(&events))
	require.NoError(t, err)

	require.Len(t, events, 4)
	tc := events[0].(ToolCallEvent)
	assert.Equal(t, "search_code", tc.Tool)
	tr := events[1].(ToolResultEvent)
	assert.Equal(t, 1, tr.ResultCount)
	assert.Equal(t, "Found it in pkg/parser.go.", events[2].(AnswerChunk).Content)

	done := events[3].(DoneEvent)
	require.Len(t, done.Sources, 1)
	assert.Equal(t, "pkg/parser.go", done.Sources[0].FilePath)
	require.Len(t, done.ToolCalls, 1)
	assert.Equal(t, "call_1", done.ToolCalls[0].ID)

	// The tool result was replayed to the second turn.
	var sawTool bool
	for _, m := range secondTurnMsgs {
		if m.Role == "tool" && m.ToolCallID == "call_1" {
			sawTool = true
			assert.Contains(t, m.Content, "pkg/parser.go")
		}
	}
	assert.True(t, sawTool)

	conv, err := mem.GetConversation(context.Background(), sessionID, "repo-1")
	require.NoError(t, err)
	msgs, _, err := mem.ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	require.Len(t, msgs[1].ToolCalls, 1)
	assert.Equal(t, "search_code", msgs[1].ToolCalls[0].Function.Name)
}

func TestQueryToolLoopBounded(t *testing.T) {
	calls := 0
	mock := &llm.MockClient{
		ChatStreamFunc: func(ctx context.Context, p llm.Provider, req llm.ChatRequest, fn llm.StreamHandler) error {
			calls++
			if len(req.Tools) > 0 {
				if err := fn(llm.Event{Type: llm.EventToolCall, ToolCall: &llm.ToolCall{
					ID: "call_n", Type: "function",
					Function: llm.ToolCallFunc{Name: "search_code", Arguments: `{}`},
				}}); err != nil {
					return err
				}
				return fn(llm.Event{Type: llm.EventFinish, FinishReason: "tool_calls"})
			}
			return streamText("Final answer.")(ctx, p, req, fn)
		},
	}
	e, mem := newTestEngine(t, mock)
	sessionID := newSession(t, mem)

	var events []any
	err := e.Query(context.Background(), sessionID, "repo-1", "loop forever", &stubRunner{}, collect(&events))
	require.NoError(t, err)

	// Six tool rounds, then a forced toolless turn.
	assert.Equal(t, config.DefaultTuning().MaxToolIterations+1, calls)
	last := events[len(events)-1].(DoneEvent)
	assert.Len(t, last.ToolCalls, config.DefaultTuning().MaxToolIterations)
}

func TestQueryRejectsWithoutProvider(t *testing.T) {
	mem := storage.NewMemory()
	require.NoError(t, mem.CreateRepository(context.Background(), &storage.Repository{ID: "repo-1"}))
	cfg := &config.Config{Env: config.EnvProduction, Tuning: config.DefaultTuning()}
	e := New(mem, &llm.MockClient{}, cfg, nil)
	sessionID := newSession(t, mem)

	var events []any
	err := e.Query(context.Background(), sessionID, "repo-1", "hi", &stubRunner{}, collect(&events))
	require.Error(t, err)
	assert.Equal(t, apierr.KindInvalidInput, apierr.KindOf(err))
	assert.Empty(t, events)
}

func TestQueryUsesSessionPreferences(t *testing.T) {
	var gotProvider llm.Provider
	mock := &llm.MockClient{
		ChatStreamFunc: func(ctx context.Context, p llm.Provider, req llm.ChatRequest, fn llm.StreamHandler) error {
			gotProvider = p
			return streamText("ok")(ctx, p, req, fn)
		},
	}
	e, mem := newTestEngine(t, mock)
	sessionID := newSession(t, mem)
	_, err := mem.UpdateSessionPreferences(context.Background(), sessionID, storage.Preferences{
		Provider: "groq", Model: "llama-3.3-70b",
	})
	require.NoError(t, err)

	var events []any
	require.NoError(t, e.Query(context.Background(), sessionID, "repo-1", "hi", &stubRunner{}, collect(&events)))
	assert.Equal(t, "groq", gotProvider.Name)
	assert.Equal(t, "llama-3.3-70b", gotProvider.Model)
	assert.Equal(t, "k-test", gotProvider.APIKey)
}

func TestQueryRepositoryNotFound(t *testing.T) {
	e, mem := newTestEngine(t, &llm.MockClient{})
	sessionID := newSession(t, mem)

	err := e.Query(context.Background(), sessionID, "nope", "hi", &stubRunner{}, collect(&[]any{}))
	require.Error(t, err)
	assert.Equal(t, apierr.KindNotFound, apierr.KindOf(err))
}

func TestQueryDisconnectPersistsTruncated(t *testing.T) {
	mock := &llm.MockClient{ChatStreamFunc: streamText("partial ", "answer")}
	e, mem := newTestEngine(t, mock)
	sessionID := newSession(t, mem)

	emitted := 0
	err := e.Query(context.Background(), sessionID, "repo-1", "hi", &stubRunner{}, func(any) error {
		emitted++
		if emitted > 1 {
			return errors.New("client gone")
		}
		return nil
	})
	require.NoError(t, err)

	conv, err := mem.GetConversation(context.Background(), sessionID, "repo-1")
	require.NoError(t, err)
	msgs, _, err := mem.ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, "partial answer", msgs[1].Content)
	assert.True(t, msgs[1].Meta.Truncated)
}

func TestQueryStreamErrorEmitsErrorEvent(t *testing.T) {
	mock := &llm.MockClient{
		ChatStreamFunc: func(ctx context.Context, p llm.Provider, req llm.ChatRequest, fn llm.StreamHandler) error {
			if err := fn(llm.Event{Type: llm.EventContentDelta, Content: "half"}); err != nil {
				return err
			}
			return apierr.New(apierr.KindLLMFailure, "provider stream ended without a finish reason")
		},
	}
	e, mem := newTestEngine(t, mock)
	sessionID := newSession(t, mem)

	var events []any
	err := e.Query(context.Background(), sessionID, "repo-1", "hi", &stubRunner{}, collect(&events))
	require.NoError(t, err)

	last := events[len(events)-1].(ErrorEvent)
	assert.Contains(t, last.Error, "finish reason")

	conv, err := mem.GetConversation(context.Background(), sessionID, "repo-1")
	require.NoError(t, err)
	msgs, _, err := mem.ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.True(t, msgs[1].Meta.Truncated)
}

func TestTitleTruncatesAtRuneBoundary(t *testing.T) {
	long := strings.Repeat("é", 100)
	got := title(long)
	assert.Equal(t, 80, len([]rune(got)))
}

func TestQueryHistoryWindowReplayed(t *testing.T) {
	var lastTurnMsgs []llm.Message
	mock := &llm.MockClient{
		ChatStreamFunc: func(ctx context.Context, p llm.Provider, req llm.ChatRequest, fn llm.StreamHandler) error {
			lastTurnMsgs = req.Messages
			return streamText("ok")(ctx, p, req, fn)
		},
	}
	e, mem := newTestEngine(t, mock)
	sessionID := newSession(t, mem)

	require.NoError(t, e.Query(context.Background(), sessionID, "repo-1", "first question", &stubRunner{}, collect(&[]any{})))
	require.NoError(t, e.Query(context.Background(), sessionID, "repo-1", "second question", &stubRunner{}, collect(&[]any{})))

	// system + (user, assistant) history + new user turn.
	require.Len(t, lastTurnMsgs, 4)
	assert.Equal(t, "system", lastTurnMsgs[0].Role)
	assert.Equal(t, "first question", lastTurnMsgs[1].Content)
	assert.Equal(t, "ok", lastTurnMsgs[2].Content)
	assert.Equal(t, "second question", lastTurnMsgs[3].Content)
}

func TestTurnLocksReleasedWhenIdle(t *testing.T) {
	mock := &llm.MockClient{ChatStreamFunc: streamText("ok")}
	e, mem := newTestEngine(t, mock)
	sessionID := newSession(t, mem)

	for i := 0; i < 3; i++ {
		require.NoError(t, e.Query(context.Background(), sessionID, "repo-1", "ping", &stubRunner{}, collect(&[]any{})))
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Empty(t, e.locks, "idle conversations keep no lock entry")
}

func TestTurnLocksSerializeConcurrentQueries(t *testing.T) {
	mock := &llm.MockClient{ChatStreamFunc: streamText("ok")}
	e, mem := newTestEngine(t, mock)
	sessionID := newSession(t, mem)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = e.Query(context.Background(), sessionID, "repo-1", "ping", &stubRunner{}, collect(&[]any{}))
		}()
	}
	wg.Wait()

	conv, err := mem.GetConversation(context.Background(), sessionID, "repo-1")
	require.NoError(t, err)
	msgs, _, err := mem.ListMessages(context.Background(), conv.ID, 0)
	require.NoError(t, err)
	require.Len(t, msgs, 8)
	for i, m := range msgs {
		assert.Equal(t, i+1, m.Sequence)
	}

	e.mu.Lock()
	defer e.mu.Unlock()
	assert.Empty(t, e.locks)
}
