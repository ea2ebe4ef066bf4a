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

// Package llm talks to chat-completion providers with a single client.
//
// Most providers (OpenAI, Fireworks, Together, Groq, Grok, OpenRouter)
// share the industry-standard chat-completions protocol and differ only
// in base URL; Gemini speaks its own protocol through a dedicated
// adapter. The provider tuple {name, model, api_key} is chosen per
// request, because different sessions may use different providers
// concurrently.
//
// Streaming turns emit content deltas as they arrive; tool-call
// arguments may be split across many deltas and are buffered until the
// provider signals finish_reason=tool_calls.
//
// Retry policy: transport errors are retried 3 times with jitter, rate
// limits 5 times with backoff, and auth or schema errors fail
// immediately. Calls against the same {provider, api_key} pair share
// one process-wide token bucket.
package llm
