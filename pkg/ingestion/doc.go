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

// Package ingestion turns one repository into its stored
// representation: fetched file contents, per-file structural records,
// resolved dependency edges, chunk and summary embeddings, and the
// repository overview.
//
// # Pipeline
//
// Pipeline.Prepare resolves the repository URL against the source host
// and persists the Repository and Task records on the request path.
// Pipeline.Run then executes the stage graph:
//
//	fetching -> parsing -> {dependencies, embedding, summarizing} -> overview -> finalizing
//
// Stages run sequentially; within a stage, work fans out over file
// buckets through bounded worker pools. Per-file failures (parse
// errors, provider errors) are recorded on the file's provider_meta
// and never abort the run. Stage-fatal failures (bad credentials,
// exhausted rate limits) mark the task and the repository failed.
//
// Task progress is written through ProgressWriter, which coalesces
// updates to at most one store write per interval.
//
// # Parsing
//
// ParserPool picks a parser by file extension: the native go/ast
// parser for Go, tree-sitter grammars for Python, TypeScript and
// JavaScript. Unsupported extensions store the file unparsed; it still
// participates in embedding and summarization with its raw content.
//
// DependencyResolver maps import statements to repository-local file
// paths and maintains the imported-by inverse.
package ingestion
