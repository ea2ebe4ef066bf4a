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

// Package tools implements the typed search tools the conversational
// assistant can invoke over an ingested repository.
//
// A Registry is bound to one repository and exposes the tool
// definitions in the chat-completions function schema plus an Execute
// entry point that parses JSON arguments, runs the tool under the
// per-tool timeout and returns a JSON payload with the source
// locations it touched. Tool failures, including timeouts and unknown
// tool names, become error payloads rather than Go errors so a bad
// call never aborts the conversation turn.
//
// The catalog:
//   - search_code: hybrid vector+lexical search, file-grouped results
//   - get_repo_overview: cached repository overview and key files
//   - get_file_by_path: full file record with structure and deps
//   - find_function: exact function name match across all files
//   - search_files: substring match over file paths
package tools
