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
	"go/ast"
	"go/parser"
	"go/token"
	"sort"
	"strconv"
	"strings"

	"github.com/kraklabs/repomind/pkg/storage"
)

// GoParser extracts the structural record from Go sources with the
// runtime's own parser.
//
// Top-level func declarations yield functions; methods additionally
// attach to the class entry of their receiver's base type. Struct and
// interface type declarations yield classes. Import specs yield their
// literal (unquoted) paths.
type GoParser struct{}

// NewGoParser creates the native Go parser. It is stateless and safe
// for concurrent use.
func NewGoParser() *GoParser { return &GoParser{} }

// Parse implements StructParser.
func (g *GoParser) Parse(path string, content []byte) (*Structure, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, path, content, parser.ParseComments)
	if err != nil {
		return nil, fmt.Errorf("parse go source: %w", err)
	}

	st := &Structure{}
	classByName := map[string]*storage.Class{}
	var classOrder []string

	for _, imp := range file.Imports {
		if target, err := strconv.Unquote(imp.Path.Value); err == nil {
			st.Imports = append(st.Imports, target)
		}
	}

	for _, decl := range file.Decls {
		switch d := decl.(type) {
		case *ast.GenDecl:
			if d.Tok != token.TYPE {
				continue
			}
			for _, spec := range d.Specs {
				ts, ok := spec.(*ast.TypeSpec)
				if !ok {
					continue
				}
				switch ts.Type.(type) {
				case *ast.StructType, *ast.InterfaceType:
					cls := &storage.Class{
						Name:      ts.Name.Name,
						LineStart: fset.Position(d.Pos()).Line,
						LineEnd:   fset.Position(d.End()).Line,
					}
					classByName[cls.Name] = cls
					classOrder = append(classOrder, cls.Name)
				}
			}
		case *ast.FuncDecl:
			fn := g.extractFunc(fset, d)
			st.Functions = append(st.Functions, fn)
			if fn.ParentClass != "" {
				if cls, ok := classByName[fn.ParentClass]; ok {
					cls.Methods = append(cls.Methods, fn)
				}
			}
		}
	}

	// Methods may precede their receiver type in the file; a second
	// pass keeps attachment independent of declaration order.
	for i := range st.Functions {
		fn := st.Functions[i]
		if fn.ParentClass == "" {
			continue
		}
		cls, ok := classByName[fn.ParentClass]
		if !ok {
			continue
		}
		found := false
		for _, m := range cls.Methods {
			if m.Name == fn.Name && m.LineStart == fn.LineStart {
				found = true
				break
			}
		}
		if !found {
			cls.Methods = append(cls.Methods, fn)
		}
	}
	for _, name := range classOrder {
		cls := classByName[name]
		sort.Slice(cls.Methods, func(i, j int) bool { return cls.Methods[i].LineStart < cls.Methods[j].LineStart })
		st.Classes = append(st.Classes, *cls)
	}
	return st, nil
}

func (g *GoParser) extractFunc(fset *token.FileSet, d *ast.FuncDecl) storage.Function {
	fn := storage.Function{
		Name:      d.Name.Name,
		LineStart: fset.Position(d.Pos()).Line,
		LineEnd:   fset.Position(d.End()).Line,
	}
	if d.Recv != nil && len(d.Recv.List) > 0 {
		fn.IsMethod = true
		fn.ParentClass = receiverBaseType(d.Recv.List[0].Type)
	}
	for _, field := range d.Type.Params.List {
		typeStr := exprString(field.Type)
		if len(field.Names) == 0 {
			fn.Parameters = append(fn.Parameters, typeStr)
			continue
		}
		for _, name := range field.Names {
			fn.Parameters = append(fn.Parameters, name.Name+" "+typeStr)
		}
	}
	fn.Signature = goSignature(d, fn.Parameters)
	return fn
}

// goSignature renders "func [(recv)] Name(params) [results]".
func goSignature(d *ast.FuncDecl, params []string) string {
	var sb strings.Builder
	sb.WriteString("func ")
	if d.Recv != nil && len(d.Recv.List) > 0 {
		recv := d.Recv.List[0]
		sb.WriteString("(")
		if len(recv.Names) > 0 {
			sb.WriteString(recv.Names[0].Name)
			sb.WriteString(" ")
		}
		sb.WriteString(exprString(recv.Type))
		sb.WriteString(") ")
	}
	sb.WriteString(d.Name.Name)
	sb.WriteString("(")
	sb.WriteString(strings.Join(params, ", "))
	sb.WriteString(")")
	if d.Type.Results != nil && len(d.Type.Results.List) > 0 {
		var results []string
		for _, r := range d.Type.Results.List {
			typeStr := exprString(r.Type)
			if len(r.Names) == 0 {
				results = append(results, typeStr)
				continue
			}
			for _, name := range r.Names {
				results = append(results, name.Name+" "+typeStr)
			}
		}
		if len(results) == 1 && !strings.Contains(results[0], " ") {
			sb.WriteString(" " + results[0])
		} else {
			sb.WriteString(" (" + strings.Join(results, ", ") + ")")
		}
	}
	return sb.String()
}

// receiverBaseType unwraps pointers and generic instantiations down to
// the named receiver type.
func receiverBaseType(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.StarExpr:
		return receiverBaseType(t.X)
	case *ast.IndexExpr:
		return receiverBaseType(t.X)
	case *ast.IndexListExpr:
		return receiverBaseType(t.X)
	case *ast.Ident:
		return t.Name
	default:
		return ""
	}
}

// exprString renders a type expression; covers the forms seen in
// signatures.
func exprString(expr ast.Expr) string {
	switch t := expr.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return "*" + exprString(t.X)
	case *ast.SelectorExpr:
		return exprString(t.X) + "." + t.Sel.Name
	case *ast.ArrayType:
		if t.Len == nil {
			return "[]" + exprString(t.Elt)
		}
		return "[" + exprString(t.Len) + "]" + exprString(t.Elt)
	case *ast.MapType:
		return "map[" + exprString(t.Key) + "]" + exprString(t.Value)
	case *ast.ChanType:
		switch t.Dir {
		case ast.RECV:
			return "<-chan " + exprString(t.Value)
		case ast.SEND:
			return "chan<- " + exprString(t.Value)
		default:
			return "chan " + exprString(t.Value)
		}
	case *ast.FuncType:
		return "func(...)"
	case *ast.InterfaceType:
		if len(t.Methods.List) == 0 {
			return "interface{}"
		}
		return "interface{...}"
	case *ast.StructType:
		return "struct{...}"
	case *ast.Ellipsis:
		return "..." + exprString(t.Elt)
	case *ast.IndexExpr:
		return exprString(t.X) + "[" + exprString(t.Index) + "]"
	case *ast.IndexListExpr:
		var parts []string
		for _, idx := range t.Indices {
			parts = append(parts, exprString(idx))
		}
		return exprString(t.X) + "[" + strings.Join(parts, ", ") + "]"
	case *ast.BasicLit:
		return t.Value
	default:
		return "any"
	}
}
