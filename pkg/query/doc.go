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

// Package query runs the conversational loop over an ingested
// repository: it resolves the session's provider, loads the recent
// conversation window, streams assistant output and executes the
// assistant's tool calls until a turn finishes without one.
//
// The loop allows at most six tool rounds; the next turn is forced to
// answer by omitting the tool catalog. Message sequence numbers are
// assigned under a per-conversation lock. If the consumer disconnects
// or the provider stream fails mid-turn, whatever assistant content
// accumulated is persisted with truncated set in provider_meta.
package query
