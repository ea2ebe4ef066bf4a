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
	"path"
	"sort"
	"strings"

	"github.com/kraklabs/repomind/pkg/storage"
)

// DependencyResolver maps the literal import strings of every file to
// repo-local paths, purely textually. Resolution order per target:
// exact path, path with a language-customary extension appended,
// directory with an index-file convention, otherwise external.
// Ambiguity resolves to the lexicographically first match.
type DependencyResolver struct {
	pathSet map[string]bool
}

// NewDependencyResolver indexes the repository's file paths.
func NewDependencyResolver(paths []string) *DependencyResolver {
	set := make(map[string]bool, len(paths))
	for _, p := range paths {
		set[p] = true
	}
	return &DependencyResolver{pathSet: set}
}

// resolveExts are the extensions tried per importing language, in
// lookup order.
var resolveExts = map[string][]string{
	"python":     {".py"},
	"javascript": {".js", ".jsx", ".mjs", ".cjs"},
	"typescript": {".ts", ".tsx", ".js", ".jsx"},
	"tsx":        {".ts", ".tsx", ".js", ".jsx"},
	"ruby":       {".rb"},
	"rust":       {".rs"},
	"java":       {".java"},
	"csharp":     {".cs"},
	"php":        {".php"},
}

// indexNames are the directory-entry conventions tried per language.
var indexNames = map[string][]string{
	"python":     {"__init__.py"},
	"javascript": {"index.js", "index.jsx", "index.ts", "index.tsx"},
	"typescript": {"index.ts", "index.tsx", "index.js", "index.jsx"},
	"tsx":        {"index.ts", "index.tsx", "index.js", "index.jsx"},
	"rust":       {"mod.rs"},
}

// Resolve computes the dependency sets for all files in place:
// imports and external_imports per file, and the exact inverse
// imported_by across the set.
func (r *DependencyResolver) Resolve(files []*storage.File) {
	inverse := map[string][]string{}

	for _, f := range files {
		local := map[string]bool{}
		external := map[string]bool{}
		for _, target := range f.Imports {
			if resolved, ok := r.resolveTarget(f, target); ok {
				if resolved != f.Path {
					local[resolved] = true
				}
			} else {
				external[target] = true
			}
		}
		f.Dependencies = storage.Dependencies{
			Imports:         sortedKeys(local),
			ExternalImports: sortedKeys(external),
			ImportedBy:      []string{},
		}
		for _, dep := range f.Dependencies.Imports {
			inverse[dep] = append(inverse[dep], f.Path)
		}
	}

	for _, f := range files {
		if importers, ok := inverse[f.Path]; ok {
			sort.Strings(importers)
			f.Dependencies.ImportedBy = dedupeSorted(importers)
		}
	}
}

// resolveTarget finds the repo-local path for one import string.
func (r *DependencyResolver) resolveTarget(f *storage.File, target string) (string, bool) {
	var matches []string
	for _, base := range r.baseCandidates(f, target) {
		if base == "" || base == "." {
			continue
		}
		if r.pathSet[base] {
			matches = append(matches, base)
		}
		for _, ext := range resolveExts[f.Language] {
			if !strings.HasSuffix(base, ext) && r.pathSet[base+ext] {
				matches = append(matches, base+ext)
			}
		}
		for _, idx := range indexNames[f.Language] {
			if r.pathSet[base+"/"+idx] {
				matches = append(matches, base+"/"+idx)
			}
		}
	}
	if len(matches) == 0 {
		return "", false
	}
	sort.Strings(matches)
	return matches[0], true
}

// baseCandidates normalizes an import string into repo paths to probe:
// relative targets resolve against the importer's directory, module
// names against the repository root.
func (r *DependencyResolver) baseCandidates(f *storage.File, target string) []string {
	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}
	dir := path.Dir(f.Path)
	if dir == "." {
		dir = ""
	}

	switch f.Language {
	case "python":
		return pythonCandidates(dir, target)
	case "javascript", "typescript", "tsx":
		if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
			return []string{cleanJoin(dir, target)}
		}
		// Bare specifiers are usually packages, but root-relative
		// aliases appear often enough to be worth one probe.
		return []string{strings.TrimPrefix(target, "@/")}
	case "c", "cpp":
		// Quoted includes resolve against the including file first.
		return []string{cleanJoin(dir, target), path.Clean(target)}
	case "java", "csharp":
		return []string{strings.ReplaceAll(target, ".", "/")}
	case "rust":
		t := strings.ReplaceAll(strings.TrimPrefix(target, "crate::"), "::", "/")
		return []string{"src/" + t, t}
	default:
		if strings.HasPrefix(target, "./") || strings.HasPrefix(target, "../") {
			return []string{cleanJoin(dir, target)}
		}
		return []string{path.Clean(target)}
	}
}

// pythonCandidates handles dotted modules and leading-dot relative
// imports: one dot is the current package, each further dot pops a
// directory.
func pythonCandidates(dir, target string) []string {
	dots := 0
	for dots < len(target) && target[dots] == '.' {
		dots++
	}
	rest := strings.ReplaceAll(target[dots:], ".", "/")

	if dots > 0 {
		base := dir
		for i := 1; i < dots; i++ {
			if base == "" || base == "." {
				base = ""
				break
			}
			base = path.Dir(base)
			if base == "." {
				base = ""
			}
		}
		return []string{cleanJoin(base, rest)}
	}
	// Absolute module: try the repo root, then the importer's
	// directory for flat layouts.
	return []string{rest, cleanJoin(dir, rest)}
}

func cleanJoin(dir, target string) string {
	joined := path.Clean(path.Join(dir, target))
	if strings.HasPrefix(joined, "../") {
		return ""
	}
	return joined
}

func sortedKeys(m map[string]bool) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func dedupeSorted(in []string) []string {
	out := in[:0]
	var prev string
	for i, s := range in {
		if i == 0 || s != prev {
			out = append(out, s)
		}
		prev = s
	}
	return out
}
