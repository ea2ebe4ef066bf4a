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

package githubapi

import (
	"path"
	"strings"
)

// skipDirs are directory names excluded at any depth.
var skipDirs = map[string]bool{
	"node_modules": true,
	"__pycache__":  true,
	"dist":         true,
	"build":        true,
	"target":       true,
	"venv":         true,
}

// hiddenAllowlist are dotfiles that are still worth ingesting.
var hiddenAllowlist = map[string]bool{
	".env.example":   true,
	".gitignore":     true,
	".eslintrc.json": true,
	".prettierrc":    true,
	".babelrc":       true,
}

// binaryExts are extensions excluded as non-text.
var binaryExts = map[string]bool{
	".png": true, ".jpg": true, ".jpeg": true, ".gif": true, ".svg": true,
	".ico": true, ".webp": true, ".bmp": true, ".pdf": true,
	".zip": true, ".tar": true, ".gz": true, ".bz2": true, ".xz": true, ".7z": true,
	".woff": true, ".woff2": true, ".ttf": true, ".eot": true, ".otf": true,
	".mp3": true, ".mp4": true, ".wav": true, ".avi": true, ".mov": true,
	".exe": true, ".dll": true, ".so": true, ".dylib": true, ".bin": true,
	".jar": true, ".class": true, ".pyc": true, ".wasm": true,
	".db": true, ".sqlite": true,
}

// lockFiles are vendored dependency manifests excluded by name.
var lockFiles = map[string]bool{
	"package-lock.json": true,
	"yarn.lock":         true,
	"pnpm-lock.yaml":    true,
	"poetry.lock":       true,
	"Cargo.lock":        true,
	"Gemfile.lock":      true,
	"composer.lock":     true,
	"go.sum":            true,
}

// Eligible reports whether a blob should be ingested. sizeLimit is the
// content ceiling in bytes.
func Eligible(p string, size, sizeLimit int64) bool {
	if size > sizeLimit {
		return false
	}
	base := path.Base(p)
	for _, seg := range strings.Split(p, "/") {
		if skipDirs[seg] {
			return false
		}
		if strings.HasPrefix(seg, ".") && !(seg == base && hiddenAllowlist[base]) {
			return false
		}
	}
	if lockFiles[base] || strings.HasSuffix(base, ".lock") {
		return false
	}
	if binaryExts[strings.ToLower(path.Ext(base))] {
		return false
	}
	return true
}
