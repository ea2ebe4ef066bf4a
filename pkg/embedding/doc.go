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

// Package embedding turns text into dense vectors through the same
// provider roster as package llm.
//
// Input slices of any size are split into batches of at most 96 inputs
// or 6000 cumulative characters, whichever fires first; batches run
// with bounded concurrency and results are reassembled in input order.
// OpenAI-compatible providers use the /embeddings endpoint; Gemini uses
// its native batchEmbedContents call.
package embedding
