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

package ingestion

import (
	"fmt"
	"strings"

	"github.com/kraklabs/repomind/pkg/storage"
)

// maxChunkCodeBytes caps the code stored per chunk.
const maxChunkCodeBytes = 8192

// BuildChunks produces one chunk per function and one per class from a
// file's structural record. Chunk descriptions are derived
// deterministically from the signature and span, so re-ingesting the
// same content yields identical chunks.
func BuildChunks(f *storage.File) []storage.Chunk {
	lines := strings.Split(f.Content, "\n")
	var chunks []storage.Chunk

	for _, fn := range f.Functions {
		chunks = append(chunks, storage.Chunk{
			Type:        storage.ChunkTypeFunction,
			Name:        fn.Name,
			Text:        functionText(f, fn),
			Code:        sliceLines(lines, fn.LineStart, fn.LineEnd),
			LineStart:   fn.LineStart,
			LineEnd:     fn.LineEnd,
			ParentClass: fn.ParentClass,
		})
	}
	for _, cls := range f.Classes {
		chunks = append(chunks, storage.Chunk{
			Type:      storage.ChunkTypeClass,
			Name:      cls.Name,
			Text:      classText(f, cls),
			Code:      sliceLines(lines, cls.LineStart, cls.LineEnd),
			LineStart: cls.LineStart,
			LineEnd:   cls.LineEnd,
		})
	}

	total := len(chunks)
	for i := range chunks {
		chunks[i].Index = i
		chunks[i].Total = total
	}
	return chunks
}

func functionText(f *storage.File, fn storage.Function) string {
	var sb strings.Builder
	if fn.IsMethod && fn.ParentClass != "" {
		fmt.Fprintf(&sb, "Method %s of %s", fn.Name, fn.ParentClass)
	} else {
		fmt.Fprintf(&sb, "Function %s", fn.Name)
	}
	fmt.Fprintf(&sb, " in %s (%s), lines %d to %d.", f.Path, f.Language, fn.LineStart, fn.LineEnd)
	if fn.Signature != "" {
		fmt.Fprintf(&sb, " Signature: %s.", fn.Signature)
	}
	if len(fn.Parameters) > 0 {
		fmt.Fprintf(&sb, " Parameters: %s.", strings.Join(fn.Parameters, ", "))
	}
	return sb.String()
}

func classText(f *storage.File, cls storage.Class) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Class %s in %s (%s), lines %d to %d.", cls.Name, f.Path, f.Language, cls.LineStart, cls.LineEnd)
	if len(cls.Methods) > 0 {
		names := make([]string, 0, len(cls.Methods))
		for _, m := range cls.Methods {
			names = append(names, m.Name)
		}
		fmt.Fprintf(&sb, " Methods: %s.", strings.Join(names, ", "))
	}
	return sb.String()
}

// sliceLines returns the 1-based inclusive span, capped at
// maxChunkCodeBytes.
func sliceLines(lines []string, start, end int) string {
	if start < 1 {
		start = 1
	}
	if end > len(lines) {
		end = len(lines)
	}
	if start > end {
		return ""
	}
	code := strings.Join(lines[start-1:end], "\n")
	if len(code) > maxChunkCodeBytes {
		code = code[:maxChunkCodeBytes]
	}
	return code
}
