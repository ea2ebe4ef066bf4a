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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kraklabs/repomind/pkg/storage"
)

func mkFile(path, lang string, imports ...string) *storage.File {
	return &storage.File{Path: path, Language: lang, Imports: imports}
}

func resolveAll(files ...*storage.File) {
	paths := make([]string, len(files))
	for i, f := range files {
		paths[i] = f.Path
	}
	NewDependencyResolver(paths).Resolve(files)
}

func TestResolvePythonModule(t *testing.T) {
	a := mkFile("a.py", "python", "b")
	b := mkFile("b.py", "python")
	resolveAll(a, b)

	assert.Equal(t, []string{"b.py"}, a.Dependencies.Imports)
	assert.Empty(t, a.Dependencies.ExternalImports)
	assert.Equal(t, []string{"a.py"}, b.Dependencies.ImportedBy)
}

func TestResolvePythonDottedAndRelative(t *testing.T) {
	app := mkFile("pkg/app.py", "python", "pkg.util", ".helpers", "..shared", "requests")
	util := mkFile("pkg/util.py", "python")
	helpers := mkFile("pkg/helpers.py", "python")
	shared := mkFile("shared.py", "python")
	resolveAll(app, util, helpers, shared)

	assert.Equal(t, []string{"pkg/helpers.py", "pkg/util.py", "shared.py"}, app.Dependencies.Imports)
	assert.Equal(t, []string{"requests"}, app.Dependencies.ExternalImports)
}

func TestResolvePythonPackageInit(t *testing.T) {
	main := mkFile("main.py", "python", "lib")
	lib := mkFile("lib/__init__.py", "python")
	resolveAll(main, lib)

	assert.Equal(t, []string{"lib/__init__.py"}, main.Dependencies.Imports)
}

func TestResolveJSRelativeAndIndex(t *testing.T) {
	app := mkFile("src/app.ts", "typescript", "./views", "../lib/date", "react")
	views := mkFile("src/views/index.ts", "typescript")
	date := mkFile("lib/date.ts", "typescript")
	resolveAll(app, views, date)

	assert.Equal(t, []string{"lib/date.ts", "src/views/index.ts"}, app.Dependencies.Imports)
	assert.Equal(t, []string{"react"}, app.Dependencies.ExternalImports)
}

func TestResolveRelativeEscapeIsExternal(t *testing.T) {
	f := mkFile("a.js", "javascript", "../outside")
	resolveAll(f)
	assert.Equal(t, []string{"../outside"}, f.Dependencies.ExternalImports)
}

func TestResolveAmbiguityLexicographic(t *testing.T) {
	// Both a matching file and a matching index directory exist; the
	// lexicographically smaller path wins.
	app := mkFile("app.js", "javascript", "./mod")
	modFile := mkFile("mod.js", "javascript")
	modDir := mkFile("mod/index.js", "javascript")
	resolveAll(app, modFile, modDir)

	require.Len(t, app.Dependencies.Imports, 1)
	assert.Equal(t, "mod.js", app.Dependencies.Imports[0])
}

func TestResolveRustUseDeclaration(t *testing.T) {
	main := mkFile("src/main.rs", "rust", "crate::parser", "std::fmt")
	parser := mkFile("src/parser.rs", "rust")
	resolveAll(main, parser)

	assert.Equal(t, []string{"src/parser.rs"}, main.Dependencies.Imports)
	assert.Equal(t, []string{"std::fmt"}, main.Dependencies.ExternalImports)
}

func TestResolveCInclude(t *testing.T) {
	main := mkFile("src/main.c", "c", "util.h", "stdio.h")
	util := mkFile("src/util.h", "c")
	resolveAll(main, util)

	assert.Equal(t, []string{"src/util.h"}, main.Dependencies.Imports)
	assert.Equal(t, []string{"stdio.h"}, main.Dependencies.ExternalImports)
}

func TestInversionInvariant(t *testing.T) {
	a := mkFile("a.py", "python", "b", "c")
	b := mkFile("b.py", "python", "c")
	c := mkFile("c.py", "python")
	files := []*storage.File{a, b, c}
	resolveAll(files...)

	byPath := map[string]*storage.File{}
	for _, f := range files {
		byPath[f.Path] = f
	}
	for _, f := range files {
		for _, dep := range f.Dependencies.Imports {
			assert.Contains(t, byPath[dep].Dependencies.ImportedBy, f.Path)
		}
		for _, importer := range f.Dependencies.ImportedBy {
			assert.Contains(t, byPath[importer].Dependencies.Imports, f.Path)
		}
	}
	assert.Equal(t, []string{"a.py", "b.py"}, c.Dependencies.ImportedBy)
}

func TestSelfImportIgnored(t *testing.T) {
	f := mkFile("a.py", "python", "a")
	resolveAll(f)
	assert.Empty(t, f.Dependencies.Imports)
}
