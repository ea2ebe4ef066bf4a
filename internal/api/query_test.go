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

package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repomind/pkg/llm"
	"github.com/kraklabs/repomind/pkg/storage"
)

// seedQueryFixture creates a session and a completed repository with
// one parsed file, ready for query turns.
func seedQueryFixture(t *testing.T, ts *testServer) (sessionID, repoID string) {
	t.Helper()
	ctx := context.Background()
	sess, err := ts.mem.CreateSession(ctx)
	require.NoError(t, err)

	repoID = "repo-q"
	require.NoError(t, ts.mem.CreateRepository(ctx, &storage.Repository{
		ID: repoID, SessionID: sess.ID, Owner: "alice", Name: "demo",
		Status:   storage.RepoStatusCompleted,
		Overview: "Demo repository.",
	}))
	require.NoError(t, ts.mem.UpsertFile(ctx, &storage.File{
		ID: "f-1", RepoID: repoID, Path: "a.py", Filename: "a.py",
		Language: "python", Content: "import b\n",
		Summary:      "Entry point importing b.",
		Dependencies: storage.Dependencies{Imports: []string{"b.py"}},
	}))
	return sess.ID, repoID
}

// sseEvents parses the data: lines of an SSE body, returning the
// decoded events and whether the [DONE] terminator was present.
func sseEvents(t *testing.T, body string) ([]map[string]any, bool) {
	t.Helper()
	var events []map[string]any
	done := false
	for _, line := range strings.Split(body, "\n") {
		if !strings.HasPrefix(line, "data: ") {
			continue
		}
		payload := strings.TrimPrefix(line, "data: ")
		if payload == "[DONE]" {
			done = true
			continue
		}
		var m map[string]any
		require.NoError(t, json.Unmarshal([]byte(payload), &m), payload)
		events = append(events, m)
	}
	return events, done
}

func TestQueryStreamsAnswer(t *testing.T) {
	ts := newTestServer(t, "")
	sessionID, repoID := seedQueryFixture(t, ts)

	ts.mock.ChatStreamFunc = func(_ context.Context, _ llm.Provider, _ llm.ChatRequest, fn llm.StreamHandler) error {
		if err := fn(llm.Event{Type: llm.EventContentDelta, Content: "a.py imports "}); err != nil {
			return err
		}
		if err := fn(llm.Event{Type: llm.EventContentDelta, Content: "b."}); err != nil {
			return err
		}
		return fn(llm.Event{Type: llm.EventFinish, FinishReason: "stop"})
	}

	rec := ts.do(t, http.MethodPost, "/api/query/",
		`{"session_id":"`+sessionID+`","repo_id":"`+repoID+`","query":"what does a.py do?"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "text/event-stream", rec.Header().Get("Content-Type"))

	events, done := sseEvents(t, rec.Body.String())
	assert.True(t, done, "missing [DONE] terminator")
	require.Len(t, events, 3)
	assert.Equal(t, "answer_chunk", events[0]["type"])
	assert.Equal(t, "a.py imports ", events[0]["content"])
	assert.Equal(t, "done", events[2]["type"])
	assert.Equal(t, []any{}, events[2]["tool_calls"])
}

func TestQueryStreamsToolCall(t *testing.T) {
	ts := newTestServer(t, "")
	sessionID, repoID := seedQueryFixture(t, ts)

	calls := 0
	ts.mock.ChatStreamFunc = func(_ context.Context, _ llm.Provider, req llm.ChatRequest, fn llm.StreamHandler) error {
		calls++
		if calls == 1 {
			require.NotEmpty(t, req.Tools)
			if err := fn(llm.Event{Type: llm.EventToolCall, ToolCall: &llm.ToolCall{
				ID: "call_1", Type: "function",
				Function: llm.ToolCallFunc{Name: "get_file_by_path", Arguments: `{"path":"a.py"}`},
			}}); err != nil {
				return err
			}
			return fn(llm.Event{Type: llm.EventFinish, FinishReason: "tool_calls"})
		}
		if err := fn(llm.Event{Type: llm.EventContentDelta, Content: "a.py imports b."}); err != nil {
			return err
		}
		return fn(llm.Event{Type: llm.EventFinish, FinishReason: "stop"})
	}

	rec := ts.do(t, http.MethodPost, "/api/query/",
		`{"session_id":"`+sessionID+`","repo_id":"`+repoID+`","query":"what does a.py do?"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	events, done := sseEvents(t, rec.Body.String())
	assert.True(t, done)

	types := make([]string, len(events))
	for i, e := range events {
		types[i] = e["type"].(string)
	}
	assert.Equal(t, []string{"tool_call", "tool_result", "answer_chunk", "done"}, types)

	args := events[0]["args"].(map[string]any)
	assert.Equal(t, "get_file_by_path", events[0]["tool"])
	assert.Equal(t, "a.py", args["path"])

	sources := events[3]["sources"].([]any)
	require.NotEmpty(t, sources)
	assert.Equal(t, "a.py", sources[0].(map[string]any)["file_path"])
}

func TestQueryUnknownSessionIsEnvelope(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(t, http.MethodPost, "/api/query/",
		`{"session_id":"nope","repo_id":"r","query":"hi"}`, nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "not_found", errorKind(t, rec))
}

func TestQueryValidatesBody(t *testing.T) {
	ts := newTestServer(t, "")
	rec := ts.do(t, http.MethodPost, "/api/query/", `{"session_id":"s"}`, nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Equal(t, "invalid_input", errorKind(t, rec))
}

func TestConversationCurrentAfterTurn(t *testing.T) {
	ts := newTestServer(t, "")
	sessionID, repoID := seedQueryFixture(t, ts)

	ts.mock.ChatStreamFunc = func(_ context.Context, _ llm.Provider, _ llm.ChatRequest, fn llm.StreamHandler) error {
		if err := fn(llm.Event{Type: llm.EventContentDelta, Content: "An answer."}); err != nil {
			return err
		}
		return fn(llm.Event{Type: llm.EventFinish, FinishReason: "stop"})
	}
	rec := ts.do(t, http.MethodPost, "/api/query/",
		`{"session_id":"`+sessionID+`","repo_id":"`+repoID+`","query":"first question"}`, nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet,
		"/api/conversations/current?session_id="+sessionID+"&repo_id="+repoID, "", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	m := decodeJSON(t, rec)
	conv := m["conversation"].(map[string]any)
	assert.Equal(t, "first question", conv["title"])
	msgs := m["messages"].([]any)
	require.Len(t, msgs, 2)
	assert.Equal(t, "user", msgs[0].(map[string]any)["role"])
	assert.Equal(t, "assistant", msgs[1].(map[string]any)["role"])
	assert.Equal(t, float64(2), m["total_messages"])

	rec = ts.do(t, http.MethodGet,
		"/api/conversations/current?session_id="+sessionID+"&repo_id="+repoID+"&limit=1", "", nil)
	m = decodeJSON(t, rec)
	require.Len(t, m["messages"].([]any), 1)
	assert.Equal(t, "assistant", m["messages"].([]any)[0].(map[string]any)["role"])
}
