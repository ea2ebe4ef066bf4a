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
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/csharp"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	"github.com/smacker/go-tree-sitter/typescript/typescript"

	"github.com/kraklabs/repomind/pkg/storage"
)

// grammarSpec describes how to read one grammar's tree: which node
// types are functions, classes, and imports, and how to find names.
type grammarSpec struct {
	language *sitter.Language

	functionNodes map[string]bool
	classNodes    map[string]bool
	importNodes   map[string]bool

	// arrowAssignments enables the JS/TS pattern of functions bound
	// through variable declarators.
	arrowAssignments bool
}

var grammarSpecs = map[string]*grammarSpec{
	"python": {
		language:      python.GetLanguage(),
		functionNodes: set("function_definition"),
		classNodes:    set("class_definition"),
		importNodes:   set("import_statement", "import_from_statement"),
	},
	"javascript": {
		language:         javascript.GetLanguage(),
		functionNodes:    set("function_declaration", "generator_function_declaration", "method_definition"),
		classNodes:       set("class_declaration"),
		importNodes:      set("import_statement"),
		arrowAssignments: true,
	},
	"typescript": {
		language:         typescript.GetLanguage(),
		functionNodes:    set("function_declaration", "generator_function_declaration", "method_definition", "function_signature"),
		classNodes:       set("class_declaration", "interface_declaration"),
		importNodes:      set("import_statement"),
		arrowAssignments: true,
	},
	"tsx": {
		language:         tsx.GetLanguage(),
		functionNodes:    set("function_declaration", "generator_function_declaration", "method_definition", "function_signature"),
		classNodes:       set("class_declaration", "interface_declaration"),
		importNodes:      set("import_statement"),
		arrowAssignments: true,
	},
	"java": {
		language:      java.GetLanguage(),
		functionNodes: set("method_declaration", "constructor_declaration"),
		classNodes:    set("class_declaration", "interface_declaration", "enum_declaration"),
		importNodes:   set("import_declaration"),
	},
	"ruby": {
		language:      ruby.GetLanguage(),
		functionNodes: set("method", "singleton_method"),
		classNodes:    set("class", "module"),
		importNodes:   set(), // require calls handled separately
	},
	"rust": {
		language:      rust.GetLanguage(),
		functionNodes: set("function_item"),
		classNodes:    set("struct_item", "enum_item", "trait_item"),
		importNodes:   set("use_declaration"),
	},
	"c": {
		language:      c.GetLanguage(),
		functionNodes: set("function_definition"),
		classNodes:    set("struct_specifier"),
		importNodes:   set("preproc_include"),
	},
	"cpp": {
		language:      cpp.GetLanguage(),
		functionNodes: set("function_definition"),
		classNodes:    set("class_specifier", "struct_specifier"),
		importNodes:   set("preproc_include"),
	},
	"csharp": {
		language:      csharp.GetLanguage(),
		functionNodes: set("method_declaration", "constructor_declaration"),
		classNodes:    set("class_declaration", "struct_declaration", "interface_declaration"),
		importNodes:   set("using_directive"),
	},
	"php": {
		language:      php.GetLanguage(),
		functionNodes: set("function_definition", "method_declaration"),
		classNodes:    set("class_declaration", "interface_declaration"),
		importNodes:   set("namespace_use_declaration"),
	},
}

func set(names ...string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

// TreeSitterPool parses the non-Go languages. Tree-sitter parsers are
// not thread-safe, so each language keeps a sync.Pool of them.
type TreeSitterPool struct {
	logger *slog.Logger
	pools  map[string]*sync.Pool
	init   sync.Once
}

// NewTreeSitterPool creates the pooled tree-sitter parser.
func NewTreeSitterPool(logger *slog.Logger) *TreeSitterPool {
	if logger == nil {
		logger = slog.Default()
	}
	return &TreeSitterPool{logger: logger}
}

func (tp *TreeSitterPool) initPools() {
	tp.init.Do(func() {
		tp.pools = make(map[string]*sync.Pool, len(grammarSpecs))
		for lang, spec := range grammarSpecs {
			language := spec.language
			tp.pools[lang] = &sync.Pool{New: func() any {
				p := sitter.NewParser()
				p.SetLanguage(language)
				return p
			}}
		}
	})
}

// Supports reports whether a grammar exists for the language label.
func (tp *TreeSitterPool) Supports(lang string) bool {
	_, ok := grammarSpecs[lang]
	return ok
}

// Parse extracts the structural record using the language's grammar.
func (tp *TreeSitterPool) Parse(lang, path string, content []byte) (*Structure, error) {
	tp.initPools()
	spec, ok := grammarSpecs[lang]
	if !ok {
		return nil, ErrUnsupportedLanguage
	}
	pool := tp.pools[lang]
	parser := pool.Get().(*sitter.Parser)
	defer pool.Put(parser)

	tree, err := parser.ParseCtx(context.Background(), nil, content)
	if err != nil {
		return nil, fmt.Errorf("tree-sitter parse %s: %w", path, err)
	}
	defer tree.Close()

	root := tree.RootNode()
	if root.HasError() {
		tp.logger.Warn("parser.treesitter.syntax_errors", "path", path, "language", lang)
	}

	w := &walker{spec: spec, lang: lang, content: content}
	w.walk(root, "")

	st := &Structure{Functions: w.functions, Imports: w.imports}
	for _, name := range w.classOrder {
		st.Classes = append(st.Classes, *w.classes[name])
	}
	return st, nil
}

// walker accumulates entities during one traversal.
type walker struct {
	spec    *grammarSpec
	lang    string
	content []byte

	functions  []storage.Function
	classes    map[string]*storage.Class
	classOrder []string
	imports    []string
}

func (w *walker) walk(node *sitter.Node, parentClass string) {
	if node == nil {
		return
	}
	nodeType := node.Type()

	switch {
	case w.spec.classNodes[nodeType]:
		name := w.nodeName(node)
		if name != "" {
			w.addClass(name, node)
			parentClass = name
		}

	case w.spec.functionNodes[nodeType]:
		if fn := w.extractFunction(node, parentClass); fn != nil {
			w.functions = append(w.functions, *fn)
			if fn.ParentClass != "" {
				if cls, ok := w.classes[fn.ParentClass]; ok {
					cls.Methods = append(cls.Methods, *fn)
				}
			}
		}

	case w.spec.importNodes[nodeType]:
		if target := w.importTarget(node); target != "" {
			w.imports = append(w.imports, target)
		}

	case w.lang == "rust" && nodeType == "impl_item":
		// Methods in impl blocks attach to the implemented type.
		if typeNode := node.ChildByFieldName("type"); typeNode != nil {
			parentClass = typeNode.Content(w.content)
			w.addClass(parentClass, node)
		}

	case w.lang == "ruby" && nodeType == "call":
		if target := w.rubyRequireTarget(node); target != "" {
			w.imports = append(w.imports, target)
		}

	case w.spec.arrowAssignments && nodeType == "variable_declarator":
		if fn := w.extractArrowFunction(node, parentClass); fn != nil {
			w.functions = append(w.functions, *fn)
		}
	}

	for i := 0; i < int(node.ChildCount()); i++ {
		w.walk(node.Child(i), parentClass)
	}
}

func (w *walker) addClass(name string, node *sitter.Node) {
	if _, ok := w.classes[name]; ok {
		return
	}
	if w.classes == nil {
		w.classes = map[string]*storage.Class{}
	}
	w.classes[name] = &storage.Class{
		Name:      name,
		LineStart: int(node.StartPoint().Row) + 1,
		LineEnd:   int(node.EndPoint().Row) + 1,
	}
	w.classOrder = append(w.classOrder, name)
}

func (w *walker) extractFunction(node *sitter.Node, parentClass string) *storage.Function {
	name := w.nodeName(node)
	if name == "" {
		return nil
	}
	fn := &storage.Function{
		Name:        name,
		ParentClass: parentClass,
		IsMethod:    parentClass != "",
		Signature:   w.signature(node),
		LineStart:   int(node.StartPoint().Row) + 1,
		LineEnd:     int(node.EndPoint().Row) + 1,
		Parameters:  w.parameters(node),
	}
	return fn
}

// extractArrowFunction handles `const f = () => ...` and function
// expressions in JS/TS.
func (w *walker) extractArrowFunction(node *sitter.Node, parentClass string) *storage.Function {
	nameNode := node.ChildByFieldName("name")
	valueNode := node.ChildByFieldName("value")
	if nameNode == nil || valueNode == nil {
		return nil
	}
	vt := valueNode.Type()
	if vt != "arrow_function" && vt != "function_expression" && vt != "function" {
		return nil
	}
	return &storage.Function{
		Name:        nameNode.Content(w.content),
		ParentClass: parentClass,
		IsMethod:    parentClass != "",
		Signature:   w.signature(valueNode),
		LineStart:   int(node.StartPoint().Row) + 1,
		LineEnd:     int(node.EndPoint().Row) + 1,
		Parameters:  w.parameters(valueNode),
	}
}

// nodeName finds the declared name of a function or class node.
func (w *walker) nodeName(node *sitter.Node) string {
	if nameNode := node.ChildByFieldName("name"); nameNode != nil {
		return nameNode.Content(w.content)
	}
	// C/C++ function names hide inside the declarator chain.
	if decl := node.ChildByFieldName("declarator"); decl != nil {
		return w.declaratorName(decl)
	}
	return ""
}

func (w *walker) declaratorName(node *sitter.Node) string {
	switch node.Type() {
	case "identifier", "field_identifier", "type_identifier", "qualified_identifier":
		return node.Content(w.content)
	}
	if decl := node.ChildByFieldName("declarator"); decl != nil {
		return w.declaratorName(decl)
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if name := w.declaratorName(node.Child(i)); name != "" {
			return name
		}
	}
	return ""
}

// signature is the node text up to its body, or its first line.
func (w *walker) signature(node *sitter.Node) string {
	text := node.Content(w.content)
	if body := node.ChildByFieldName("body"); body != nil {
		head := int(body.StartByte()) - int(node.StartByte())
		if head > 0 && head <= len(text) {
			text = text[:head]
		}
	}
	if idx := strings.IndexByte(text, '\n'); idx >= 0 && node.ChildByFieldName("body") == nil {
		text = text[:idx]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(text), "{"))
}

func (w *walker) parameters(node *sitter.Node) []string {
	params := node.ChildByFieldName("parameters")
	if params == nil {
		return nil
	}
	var out []string
	for i := 0; i < int(params.NamedChildCount()); i++ {
		p := params.NamedChild(i)
		if p.Type() == "comment" {
			continue
		}
		out = append(out, strings.TrimSpace(p.Content(w.content)))
	}
	return out
}

// importTarget extracts the literal target string of an import-like
// node: the first string literal when present, otherwise the dotted
// or scoped path text after the keyword.
func (w *walker) importTarget(node *sitter.Node) string {
	if str := firstOfType(node, "string", "string_literal", "system_lib_string", "string_fragment"); str != nil {
		return strings.Trim(str.Content(w.content), "\"'<>`")
	}
	switch w.lang {
	case "python":
		// `from X import ...` names X in the module_name field;
		// `import X` carries dotted_name children.
		if mod := node.ChildByFieldName("module_name"); mod != nil {
			return mod.Content(w.content)
		}
		if dotted := firstOfType(node, "dotted_name", "aliased_import"); dotted != nil {
			if dotted.Type() == "aliased_import" {
				if name := dotted.ChildByFieldName("name"); name != nil {
					return name.Content(w.content)
				}
			}
			return dotted.Content(w.content)
		}
	case "java", "csharp":
		if id := firstOfType(node, "scoped_identifier", "identifier", "qualified_name"); id != nil {
			return id.Content(w.content)
		}
	case "rust":
		if arg := node.ChildByFieldName("argument"); arg != nil {
			return arg.Content(w.content)
		}
	case "php":
		if id := firstOfType(node, "qualified_name", "namespace_name", "name"); id != nil {
			return id.Content(w.content)
		}
	}
	return ""
}

func (w *walker) rubyRequireTarget(node *sitter.Node) string {
	method := node.ChildByFieldName("method")
	if method == nil {
		return ""
	}
	name := method.Content(w.content)
	if name != "require" && name != "require_relative" {
		return ""
	}
	if str := firstOfType(node, "string"); str != nil {
		return strings.Trim(str.Content(w.content), "\"'")
	}
	return ""
}

func firstOfType(node *sitter.Node, types ...string) *sitter.Node {
	for _, t := range types {
		if node.Type() == t {
			return node
		}
	}
	for i := 0; i < int(node.ChildCount()); i++ {
		if found := firstOfType(node.Child(i), types...); found != nil {
			return found
		}
	}
	return nil
}
