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

// Package api is the HTTP surface: session management, repository
// ingestion, task progress, conversation history and the streaming
// query endpoint.
//
// Errors render as {"error":{"kind","message"}} with the status code
// derived from the kind. POST /api/repositories/ and /api/query/
// require X-API-Key outside development. The query endpoint speaks
// Server-Sent Events: one JSON object per data: line, terminated by
// data: [DONE].
package api
