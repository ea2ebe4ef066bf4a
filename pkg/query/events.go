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
	"encoding/json"

	"github.com/kraklabs/repomind/pkg/storage"
	"github.com/kraklabs/repomind/pkg/tools"
)

// Emit delivers one stream event to the consumer. Returning an error
// signals the consumer is gone; the engine stops and persists the
// partial turn.
type Emit func(event any) error

// AnswerChunk is one piece of streamed assistant prose.
type AnswerChunk struct {
	Type    string `json:"type"` // "answer_chunk"
	Content string `json:"content"`
}

// ToolCallEvent announces a tool invocation before it runs.
type ToolCallEvent struct {
	Type string          `json:"type"` // "tool_call"
	Tool string          `json:"tool"`
	Args json.RawMessage `json:"args"`
}

// ToolResultEvent reports a finished tool invocation.
type ToolResultEvent struct {
	Type        string `json:"type"` // "tool_result"
	Tool        string `json:"tool"`
	ResultCount int    `json:"result_count"`
}

// DoneEvent closes a successful turn with the cited sources and the
// executed tool calls.
type DoneEvent struct {
	Type      string             `json:"type"` // "done"
	Sources   []tools.Source     `json:"sources"`
	ToolCalls []storage.ToolCall `json:"tool_calls"`
}

// ErrorEvent reports a mid-stream failure before the stream closes.
type ErrorEvent struct {
	Type  string `json:"type"` // "error"
	Error string `json:"error"`
}
