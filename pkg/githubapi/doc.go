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

// Package githubapi fetches repository metadata, file trees, and blob
// content from the GitHub REST API.
//
// The client enforces a per-repository concurrency bound on blob
// fetches, a process-wide request rate limit, and retries with
// jittered exponential backoff. Rate-limit responses are treated as a
// recoverable throttle for a bounded number of cycles before becoming
// fatal.
package githubapi
