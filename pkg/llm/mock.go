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

import "context"

// MockClient is a test double for Completer and Streamer. Unset hooks
// yield an empty stop turn.
type MockClient struct {
	ChatFunc       func(ctx context.Context, p Provider, req ChatRequest) (*ChatResponse, error)
	ChatStreamFunc func(ctx context.Context, p Provider, req ChatRequest, fn StreamHandler) error
}

func (m *MockClient) Chat(ctx context.Context, p Provider, req ChatRequest) (*ChatResponse, error) {
	if m.ChatFunc != nil {
		return m.ChatFunc(ctx, p, req)
	}
	return &ChatResponse{FinishReason: "stop"}, nil
}

func (m *MockClient) ChatStream(ctx context.Context, p Provider, req ChatRequest, fn StreamHandler) error {
	if m.ChatStreamFunc != nil {
		return m.ChatStreamFunc(ctx, p, req, fn)
	}
	return fn(Event{Type: EventFinish, FinishReason: "stop"})
}

var _ Completer = (*MockClient)(nil)
var _ Streamer = (*MockClient)(nil)
