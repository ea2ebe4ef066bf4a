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

// Package storage holds the persistence boundaries and their
// implementations.
//
// Store is the document-store interface over sessions, repositories,
// files, tasks, conversations and messages, including the lexical
// relevance query used by hybrid search. VectorIndex is the
// vector-search interface: two indexes per repository, one over
// file-summary vectors and one over code-chunk vectors.
//
// # Implementations
//
//   - Postgres: Store on pgxpool; jsonb for nested structures, a
//     generated tsvector for lexical search. Schema is ensured at
//     connect time.
//   - QdrantIndex: VectorIndex on Qdrant over gRPC, cosine distance,
//     per-repository collections created when the embedding dimension
//     is known.
//   - Memory: both interfaces in one in-process structure, used in
//     development without a STORE_URI and throughout the tests. Its
//     scoring mirrors the Postgres/Qdrant normalization so rankings
//     agree across backends.
//
// Ingestion writes are key-addressed idempotent upserts: re-running a
// stage overwrites the same records instead of duplicating them.
// Message appends are serialized per conversation by the caller.
package storage
