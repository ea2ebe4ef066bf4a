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
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repomind/pkg/storage"
)

func TestBuildChunksFunctionsAndClasses(t *testing.T) {
	f := &storage.File{
		Path:     "svc/user.py",
		Language: "python",
		Content:  "class User:\n    def name(self):\n        return self._n\n\ndef helper():\n    return 1\n",
		Functions: []storage.Function{
			{Name: "name", ParentClass: "User", IsMethod: true, Signature: "def name(self)", LineStart: 2, LineEnd: 3},
			{Name: "helper", Signature: "def helper()", LineStart: 5, LineEnd: 6},
		},
		Classes: []storage.Class{
			{Name: "User", LineStart: 1, LineEnd: 3, Methods: []storage.Function{{Name: "name"}}},
		},
	}

	chunks := BuildChunks(f)
	require.Len(t, chunks, 3)

	assert.Equal(t, storage.ChunkTypeFunction, chunks[0].Type)
	assert.Contains(t, chunks[0].Text, "Method name of User")
	assert.Contains(t, chunks[0].Text, "in svc/user.py (python), lines 2 to 3.")
	assert.Contains(t, chunks[0].Code, "def name(self)")

	assert.Contains(t, chunks[1].Text, "Function helper")

	assert.Equal(t, storage.ChunkTypeClass, chunks[2].Type)
	assert.Contains(t, chunks[2].Text, "Class User")
	assert.Contains(t, chunks[2].Text, "Methods: name.")

	for i, c := range chunks {
		assert.Equal(t, i, c.Index)
		assert.Equal(t, 3, c.Total)
	}
}

func TestBuildChunksDeterministic(t *testing.T) {
	f := &storage.File{
		Path:      "a.go",
		Language:  "go",
		Content:   "package a\n\nfunc F() {}\n",
		Functions: []storage.Function{{Name: "F", Signature: "func F()", LineStart: 3, LineEnd: 3}},
	}
	first := BuildChunks(f)
	second := BuildChunks(f)
	assert.Equal(t, first, second)
}

func TestBuildChunksCapsCode(t *testing.T) {
	long := strings.Repeat("x", maxChunkCodeBytes*2)
	f := &storage.File{
		Path:      "big.py",
		Language:  "python",
		Content:   "def f():\n    s = \"" + long + "\"\n",
		Functions: []storage.Function{{Name: "f", LineStart: 1, LineEnd: 2}},
	}
	chunks := BuildChunks(f)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].Code, maxChunkCodeBytes)
}

func TestBuildChunksNoStructure(t *testing.T) {
	f := &storage.File{Path: "README.md", Content: "hello"}
	assert.Empty(t, BuildChunks(f))
}
