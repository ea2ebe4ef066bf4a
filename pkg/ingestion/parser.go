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
	"errors"
	"log/slog"

	"github.com/kraklabs/repomind/pkg/storage"
)

// Structure is the uniform per-file structural record produced by all
// parser strategies. Line spans are 1-based inclusive; imports are the
// literal target strings from the source.
type Structure struct {
	Functions []storage.Function
	Classes   []storage.Class
	Imports   []string
}

// ErrUnsupportedLanguage marks files with no structural parser. Such
// files are stored with parsed=false and still participate in the
// embedding and summary stages.
var ErrUnsupportedLanguage = errors.New("unsupported language")

// StructParser extracts the structural record from one source file.
type StructParser interface {
	Parse(path string, content []byte) (*Structure, error)
}

// ParserPool dispatches per language: Go files go through the native
// go/ast parser, the rest through pooled tree-sitter grammars.
type ParserPool struct {
	native *GoParser
	ts     *TreeSitterPool
	logger *slog.Logger
}

// NewParserPool creates the dispatching parser.
func NewParserPool(logger *slog.Logger) *ParserPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &ParserPool{
		native: NewGoParser(),
		ts:     NewTreeSitterPool(logger),
		logger: logger,
	}
}

// Parse extracts the structural record for a file, selecting the
// strategy from the path's language.
func (pp *ParserPool) Parse(path string, content []byte) (*Structure, error) {
	lang := DetectLanguage(path)
	switch {
	case lang == "go":
		return pp.native.Parse(path, content)
	case pp.ts.Supports(lang):
		return pp.ts.Parse(lang, path, content)
	default:
		return nil, ErrUnsupportedLanguage
	}
}

var _ StructParser = (*ParserPool)(nil)
var _ StructParser = (*GoParser)(nil)
