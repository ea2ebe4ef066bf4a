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
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/kraklabs/repomind/internal/apierr"
	"github.com/kraklabs/repomind/internal/config"
	"github.com/kraklabs/repomind/pkg/llm"
	"github.com/kraklabs/repomind/pkg/storage"
	"github.com/kraklabs/repomind/pkg/tools"
)

// titleLimit caps a new conversation's title, taken from the first
// user message.
const titleLimit = 80

const systemPrompt = `You are a code assistant answering questions about one specific repository. ` +
	`You have tools to search the code, read files, look up functions and fetch the repository overview. ` +
	`Use them before answering; do not guess at code you have not retrieved. ` +
	`Always cite the file paths your answer is based on. ` +
	`If the repository does not contain the answer, say so plainly.`

// ToolRunner is the tool surface one query turn runs against, bound to
// the target repository.
type ToolRunner interface {
	Definitions() []llm.Tool
	Execute(ctx context.Context, name string, args json.RawMessage) *tools.Outcome
}

// Engine drives conversational turns.
type Engine struct {
	store    storage.Store
	streamer llm.Streamer
	tuning   config.Tuning
	logger   *slog.Logger

	apiKey   string // provider credential for session-selected providers
	fallback llm.Provider
	devMode  bool

	mu    sync.Mutex
	locks map[string]*convLock
}

// convLock serializes turns of one conversation. refs counts the
// turns holding or waiting on it so the entry can be dropped once the
// conversation goes idle.
type convLock struct {
	mu   sync.Mutex
	refs int
}

func New(store storage.Store, streamer llm.Streamer, cfg *config.Config, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		store:    store,
		streamer: streamer,
		tuning:   cfg.Tuning,
		logger:   logger,
		apiKey:   cfg.AIAPIKey,
		fallback: llm.Provider{Name: cfg.AIProvider, Model: cfg.AIModel, APIKey: cfg.AIAPIKey},
		devMode:  cfg.IsDevelopment(),
		locks:    make(map[string]*convLock),
	}
}

// acquireTurn takes the conversation's turn lock and returns its
// release. The lock entry is removed when the last holder or waiter
// releases, so idle conversations do not accumulate entries.
func (e *Engine) acquireTurn(conversationID string) func() {
	e.mu.Lock()
	l, ok := e.locks[conversationID]
	if !ok {
		l = &convLock{}
		e.locks[conversationID] = l
	}
	l.refs++
	e.mu.Unlock()

	l.mu.Lock()
	return func() {
		l.mu.Unlock()
		e.mu.Lock()
		l.refs--
		if l.refs == 0 {
			delete(e.locks, conversationID)
		}
		e.mu.Unlock()
	}
}

// ResolveProvider picks the provider tuple for a session: explicit
// preferences first, then the development fallback.
func (e *Engine) ResolveProvider(sess *storage.Session) (llm.Provider, error) {
	if sess.Preferences != nil && sess.Preferences.Provider != "" && sess.Preferences.Model != "" {
		return llm.Provider{
			Name:   sess.Preferences.Provider,
			Model:  sess.Preferences.Model,
			APIKey: e.apiKey,
		}, nil
	}
	if e.devMode && e.fallback.Name != "" && e.fallback.Model != "" {
		return e.fallback, nil
	}
	return llm.Provider{}, apierr.New(apierr.KindInvalidInput,
		"no AI provider configured: set session preferences or the development fallback")
}

// Query runs one conversational turn. Errors returned before the first
// emitted event are suitable for an HTTP error envelope; once streaming
// has started, failures are reported through an error event and a nil
// return.
func (e *Engine) Query(ctx context.Context, sessionID, repoID, userText string, reg ToolRunner, emit Emit) error {
	sess, err := e.store.GetSession(ctx, sessionID)
	if err != nil {
		return sessionErr(err, sessionID)
	}
	provider, err := e.ResolveProvider(sess)
	if err != nil {
		return err
	}
	if _, err := e.store.GetRepository(ctx, repoID); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return apierr.Newf(apierr.KindNotFound, "repository %s not found", repoID)
		}
		return err
	}

	conv, err := e.store.FindOrCreateConversation(ctx, sessionID, repoID, title(userText), systemPrompt)
	if err != nil {
		return fmt.Errorf("open conversation: %w", err)
	}

	release := e.acquireTurn(conv.ID)
	defer release()

	history, total, err := e.store.ListMessages(ctx, conv.ID, e.tuning.HistoryWindow)
	if err != nil {
		return fmt.Errorf("load history: %w", err)
	}
	seq := total + 1
	userMsg := &storage.Message{
		ConversationID: conv.ID,
		Role:           "user",
		Content:        userText,
		Sequence:       seq,
	}
	if err := e.store.AppendMessage(ctx, userMsg); err != nil {
		return fmt.Errorf("persist user message: %w", err)
	}

	msgs := make([]llm.Message, 0, len(history)+2)
	msgs = append(msgs, llm.Message{Role: "system", Content: conv.SystemPrompt})
	for _, m := range history {
		msgs = append(msgs, toLLMMessage(m))
	}
	msgs = append(msgs, llm.Message{Role: "user", Content: userText})

	t := &turn{
		engine:   e,
		reg:      reg,
		provider: provider,
		emit:     emit,
		convID:   conv.ID,
		seq:      seq + 1,
		seen:     make(map[string]bool),
	}
	return t.run(ctx, msgs)
}

// turn carries the state of one streamed assistant turn.
type turn struct {
	engine   *Engine
	reg      ToolRunner
	provider llm.Provider
	emit     Emit
	convID   string
	seq      int

	answer       strings.Builder
	allToolCalls []storage.ToolCall
	sources      []tools.Source
	seen         map[string]bool
	disconnected bool
}

func (t *turn) run(ctx context.Context, msgs []llm.Message) error {
	e := t.engine
	toolRounds := 0

	for {
		var turnText strings.Builder
		var turnCalls []llm.ToolCall
		finish := ""

		req := llm.ChatRequest{Messages: msgs}
		if toolRounds < e.tuning.MaxToolIterations {
			req.Tools = t.reg.Definitions()
		}

		cctx, cancel := context.WithTimeout(ctx, e.tuning.LLMCallTimeout)
		streamErr := e.streamer.ChatStream(cctx, t.provider, req, func(ev llm.Event) error {
			switch ev.Type {
			case llm.EventContentDelta:
				turnText.WriteString(ev.Content)
				t.answer.WriteString(ev.Content)
				if err := t.emit(AnswerChunk{Type: "answer_chunk", Content: ev.Content}); err != nil {
					t.disconnected = true
					return err
				}
			case llm.EventToolCall:
				turnCalls = append(turnCalls, *ev.ToolCall)
			case llm.EventFinish:
				finish = ev.FinishReason
			}
			return nil
		})
		cancel()

		switch {
		case t.disconnected || ctx.Err() != nil:
			e.logger.Info("query.turn.disconnected", "conversation_id", t.convID)
			t.persistAssistant(true)
			return nil
		case streamErr != nil:
			e.logger.Warn("query.turn.stream_failed", "conversation_id", t.convID, "error", streamErr)
			_ = t.emit(ErrorEvent{Type: "error", Error: apierr.MessageOf(streamErr)})
			t.persistAssistant(true)
			return nil
		}

		if finish == "tool_calls" && len(turnCalls) > 0 {
			msgs = append(msgs, llm.Message{Role: "assistant", Content: turnText.String(), ToolCalls: turnCalls})
			toolMsgs, err := t.runTools(ctx, turnCalls)
			if err != nil {
				t.persistAssistant(true)
				return nil
			}
			msgs = append(msgs, toolMsgs...)
			toolRounds++
			continue
		}

		t.persistAssistant(false)
		_ = t.emit(DoneEvent{
			Type:      "done",
			Sources:   orEmptySources(t.sources),
			ToolCalls: orEmptyCalls(t.allToolCalls),
		})
		return nil
	}
}

// runTools executes one round of tool calls, emitting the call and
// result events and building the role=tool messages for the next turn.
func (t *turn) runTools(ctx context.Context, calls []llm.ToolCall) ([]llm.Message, error) {
	out := make([]llm.Message, 0, len(calls))
	for _, tc := range calls {
		name := tc.Function.Name
		args := json.RawMessage(tc.Function.Arguments)
		if err := t.emit(ToolCallEvent{Type: "tool_call", Tool: name, Args: args}); err != nil {
			t.disconnected = true
			return nil, err
		}

		res := t.reg.Execute(ctx, name, args)
		t.collectSources(res.Sources)
		t.allToolCalls = append(t.allToolCalls, storage.ToolCall{
			ID: tc.ID,
			Function: storage.ToolCallFunction{
				Name:      name,
				Arguments: tc.Function.Arguments,
			},
		})

		if err := t.emit(ToolResultEvent{Type: "tool_result", Tool: name, ResultCount: res.Count}); err != nil {
			t.disconnected = true
			return nil, err
		}
		out = append(out, llm.Message{Role: "tool", Content: string(res.JSON), ToolCallID: tc.ID})
	}
	return out, nil
}

// collectSources dedupes by location, preserving first-seen order.
func (t *turn) collectSources(srcs []tools.Source) {
	for _, s := range srcs {
		key := s.FilePath
		if s.LineStart != nil {
			key = fmt.Sprintf("%s:%d:%d", s.FilePath, *s.LineStart, *s.LineEnd)
		}
		if t.seen[key] {
			continue
		}
		t.seen[key] = true
		t.sources = append(t.sources, s)
	}
}

func (t *turn) persistAssistant(truncated bool) {
	if t.answer.Len() == 0 && len(t.allToolCalls) == 0 {
		return
	}
	msg := &storage.Message{
		ConversationID: t.convID,
		Role:           "assistant",
		Content:        t.answer.String(),
		ToolCalls:      t.allToolCalls,
		Sequence:       t.seq,
		Meta:           storage.ProviderMeta{Truncated: truncated},
	}
	// Persist on a fresh context: the request context may already be
	// cancelled when the client disconnected.
	if err := t.engine.store.AppendMessage(context.Background(), msg); err != nil {
		t.engine.logger.Error("query.persist.assistant_failed", "conversation_id", t.convID, "error", err)
	}
}

// toLLMMessage replays a stored turn as plain prose. Tool call and
// tool result payloads are not replayed across turns; only the final
// content carries forward.
func toLLMMessage(m storage.Message) llm.Message {
	return llm.Message{Role: m.Role, Content: m.Content}
}

func title(userText string) string {
	runes := []rune(strings.TrimSpace(userText))
	if len(runes) > titleLimit {
		runes = runes[:titleLimit]
	}
	return string(runes)
}

func sessionErr(err error, sessionID string) error {
	if errors.Is(err, storage.ErrNotFound) {
		return apierr.Newf(apierr.KindNotFound, "session %s not found", sessionID)
	}
	return err
}

func orEmptySources(s []tools.Source) []tools.Source {
	if s == nil {
		return []tools.Source{}
	}
	return s
}

func orEmptyCalls(c []storage.ToolCall) []storage.ToolCall {
	if c == nil {
		return []storage.ToolCall{}
	}
	return c
}
