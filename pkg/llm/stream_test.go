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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repomind/internal/apierr"
)

func collectEvents(t *testing.T, transcript string) ([]Event, error) {
	t.Helper()
	var events []Event
	err := parseOpenAIStream(strings.NewReader(transcript), func(ev Event) error {
		events = append(events, ev)
		return nil
	})
	return events, err
}

func TestParseStreamContentDeltas(t *testing.T) {
	transcript := "" +
		`data: {"choices":[{"delta":{"content":"Hel"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"content":"lo"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		"data: [DONE]\n\n"

	events, err := collectEvents(t, transcript)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, EventContentDelta, events[0].Type)
	assert.Equal(t, "Hel", events[0].Content)
	assert.Equal(t, "lo", events[1].Content)
	assert.Equal(t, EventFinish, events[2].Type)
	assert.Equal(t, "stop", events[2].FinishReason)
}

// Tool-call arguments arrive sliced across deltas and must be
// reassembled per stream index before any tool event is emitted.
func TestParseStreamBuffersToolCallDeltas(t *testing.T) {
	transcript := "" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"id":"call_a","type":"function","function":{"name":"search_code","arguments":""}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"{\"que"}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":1,"id":"call_b","type":"function","function":{"name":"get_repo_overview","arguments":""}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{"tool_calls":[{"index":0,"function":{"arguments":"ry\":\"parser\"}"}}]}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"tool_calls"}]}` + "\n\n" +
		"data: [DONE]\n\n"

	events, err := collectEvents(t, transcript)
	require.NoError(t, err)
	require.Len(t, events, 3)

	require.Equal(t, EventToolCall, events[0].Type)
	assert.Equal(t, "call_a", events[0].ToolCall.ID)
	assert.Equal(t, "search_code", events[0].ToolCall.Function.Name)
	assert.JSONEq(t, `{"query":"parser"}`, events[0].ToolCall.Function.Arguments)

	require.Equal(t, EventToolCall, events[1].Type)
	assert.Equal(t, "call_b", events[1].ToolCall.ID)
	assert.Equal(t, "{}", events[1].ToolCall.Function.Arguments, "empty arguments normalize to an empty object")

	assert.Equal(t, EventFinish, events[2].Type)
	assert.Equal(t, "tool_calls", events[2].FinishReason)
}

func TestParseStreamSkipsCommentsAndBlankLines(t *testing.T) {
	transcript := "" +
		": keep-alive\n\n" +
		`data: {"choices":[{"delta":{"content":"ok"}}]}` + "\n\n" +
		`data: {"choices":[{"delta":{},"finish_reason":"stop"}]}` + "\n\n" +
		"data: [DONE]\n\n"

	events, err := collectEvents(t, transcript)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "ok", events[0].Content)
}

func TestParseStreamProviderError(t *testing.T) {
	transcript := `data: {"error":{"message":"model overloaded"}}` + "\n\n"

	_, err := collectEvents(t, transcript)
	require.Error(t, err)
	assert.Equal(t, apierr.KindLLMFailure, apierr.KindOf(err))
	assert.Contains(t, err.Error(), "model overloaded")
}

func TestParseStreamTruncatedWithoutFinish(t *testing.T) {
	transcript := `data: {"choices":[{"delta":{"content":"half"}}]}` + "\n\n"

	_, err := collectEvents(t, transcript)
	require.Error(t, err)
	assert.Equal(t, apierr.KindLLMFailure, apierr.KindOf(err))
}
