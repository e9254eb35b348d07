// Package instrument - Location index.
//
// This file implements the bidirectional map between source locations and
// syntax tree nodes. Markers supplied by the editor address nodes by location
// key ("startLine:startCol-endLine:endCol"); the index resolves them.
package instrument

import (
	"fmt"
	"go/ast"
	"go/token"
	"strconv"
	"strings"

	"golang.org/x/tools/go/ast/astutil"
)

// SourceLocation is a span of source text.
//
// Lines are 1-based. Columns are 0-based byte offsets; EndCol is exclusive.
type SourceLocation struct {
	StartLine int
	StartCol  int
	EndLine   int
	EndCol    int
}

// Key renders the canonical location key "L:C-L:C".
func (l SourceLocation) Key() string {
	return fmt.Sprintf("%d:%d-%d:%d", l.StartLine, l.StartCol, l.EndLine, l.EndCol)
}

// String implements fmt.Stringer.
func (l SourceLocation) String() string {
	return l.Key()
}

// contains reports whether l encloses o.
func (l SourceLocation) contains(o SourceLocation) bool {
	startOK := l.StartLine < o.StartLine || (l.StartLine == o.StartLine && l.StartCol <= o.StartCol)
	endOK := l.EndLine > o.EndLine || (l.EndLine == o.EndLine && l.EndCol >= o.EndCol)
	return startOK && endOK
}

// ParseLocation parses a location key produced by SourceLocation.Key.
//
// Example:
//
//	loc, err := ParseLocation("3:4-3:9")
//	// loc = SourceLocation{StartLine: 3, StartCol: 4, EndLine: 3, EndCol: 9}
func ParseLocation(key string) (SourceLocation, error) {
	start, end, ok := strings.Cut(strings.TrimSpace(key), "-")
	if !ok {
		return SourceLocation{}, fmt.Errorf("invalid location key %q: missing '-'", key)
	}
	sl, sc, err := parseLineCol(start)
	if err != nil {
		return SourceLocation{}, fmt.Errorf("invalid location key %q: %w", key, err)
	}
	el, ec, err := parseLineCol(end)
	if err != nil {
		return SourceLocation{}, fmt.Errorf("invalid location key %q: %w", key, err)
	}
	loc := SourceLocation{StartLine: sl, StartCol: sc, EndLine: el, EndCol: ec}
	if sl < 1 || el < sl || (el == sl && ec < sc) || sc < 0 || ec < 0 {
		return SourceLocation{}, fmt.Errorf("invalid location key %q: empty or reversed span", key)
	}
	return loc, nil
}

func parseLineCol(s string) (int, int, error) {
	ls, cs, ok := strings.Cut(s, ":")
	if !ok {
		return 0, 0, fmt.Errorf("%q is not line:column", s)
	}
	line, err := strconv.Atoi(ls)
	if err != nil {
		return 0, 0, fmt.Errorf("bad line in %q: %w", s, err)
	}
	col, err := strconv.Atoi(cs)
	if err != nil {
		return 0, 0, fmt.Errorf("bad column in %q: %w", s, err)
	}
	return line, col, nil
}

// Path is the chain of nodes from the file down to a node (root first).
type Path []ast.Node

// Node returns the last node of the path, or nil.
func (p Path) Node() ast.Node {
	return p.Up(0)
}

// Parent returns the parent of Node, or nil.
func (p Path) Parent() ast.Node {
	return p.Up(1)
}

// Up returns the n-th ancestor of Node (Up(0) is Node itself), or nil.
func (p Path) Up(n int) ast.Node {
	i := len(p) - 1 - n
	if i < 0 || i >= len(p) {
		return nil
	}
	return p[i]
}

// FuncParent returns the nearest *ast.FuncDecl or *ast.FuncLit strictly above
// Node, together with its function type and body.
func (p Path) FuncParent() (ast.Node, *ast.FuncType, *ast.BlockStmt) {
	for i := len(p) - 2; i >= 0; i-- {
		switch fn := p[i].(type) {
		case *ast.FuncDecl:
			return fn, fn.Type, fn.Body
		case *ast.FuncLit:
			return fn, fn.Type, fn.Body
		}
	}
	return nil, nil, nil
}

// Index is the location index of a file: location key → node, plus the
// ancestry of every node and the name tables the classifier consults.
//
// The index is only valid for the tree it was built from. It is rebuilt after
// every rewrite; original nodes keep their positions, so keys captured before
// the rewrite still resolve afterwards.
type Index struct {
	fset *token.FileSet
	file *ast.File

	byKey map[string]ast.Node
	locs  map[ast.Node]SourceLocation
	paths map[ast.Node]Path

	imports  map[string]bool
	types    map[string]bool
	funcs    map[string]*ast.FuncDecl
	typeExpr map[ast.Node]bool
}

// keywordSpans lists statements that are addressed by their keyword only.
func keywordSpan(n ast.Node) (token.Pos, int, bool) {
	switch s := n.(type) {
	case *ast.ForStmt:
		return s.For, len("for"), true
	case *ast.RangeStmt:
		return s.For, len("for"), true
	case *ast.ReturnStmt:
		return s.Return, len("return"), true
	}
	return token.NoPos, 0, false
}

// BuildIndex walks file in pre-order and indexes every positioned node.
//
// When several nodes share a key, the innermost one wins (it is visited
// last). Nodes without a position (synthesized by the rewriter) get a path
// but no key.
func BuildIndex(fset *token.FileSet, file *ast.File) *Index {
	idx := &Index{
		fset:     fset,
		file:     file,
		byKey:    make(map[string]ast.Node),
		locs:     make(map[ast.Node]SourceLocation),
		paths:    make(map[ast.Node]Path),
		imports:  make(map[string]bool),
		types:    make(map[string]bool),
		funcs:    make(map[string]*ast.FuncDecl),
		typeExpr: make(map[ast.Node]bool),
	}

	var stack []ast.Node
	ast.Inspect(file, func(n ast.Node) bool {
		if n == nil {
			stack = stack[:len(stack)-1]
			return true
		}
		stack = append(stack, n)
		path := make(Path, len(stack))
		copy(path, stack)
		idx.paths[n] = path

		if loc, ok := idx.locate(n); ok {
			idx.locs[n] = loc
			idx.byKey[loc.Key()] = n
		}
		idx.collect(n)
		return true
	})

	return idx
}

func (idx *Index) locate(n ast.Node) (SourceLocation, bool) {
	start, end := n.Pos(), n.End()
	if pos, width, ok := keywordSpan(n); ok {
		start, end = pos, pos+token.Pos(width)
	}
	if !start.IsValid() || !end.IsValid() {
		return SourceLocation{}, false
	}
	s := idx.fset.Position(start)
	e := idx.fset.Position(end)
	return SourceLocation{
		StartLine: s.Line,
		StartCol:  s.Column - 1,
		EndLine:   e.Line,
		EndCol:    e.Column - 1,
	}, true
}

// collect records the name tables and type positions contributed by n.
func (idx *Index) collect(n ast.Node) {
	switch x := n.(type) {
	case *ast.ImportSpec:
		if name := importName(x); name != "" {
			idx.imports[name] = true
		}
	case *ast.TypeSpec:
		idx.types[x.Name.Name] = true
		idx.markType(x.Type)
		if x.TypeParams != nil {
			idx.markType(x.TypeParams)
		}
	case *ast.FuncDecl:
		if x.Recv == nil {
			idx.funcs[x.Name.Name] = x
		}
		if x.Type.TypeParams != nil {
			idx.markType(x.Type.TypeParams)
		}
	case *ast.Field:
		idx.markType(x.Type)
	case *ast.ValueSpec:
		if x.Type != nil {
			idx.markType(x.Type)
		}
	case *ast.CompositeLit:
		if x.Type != nil {
			idx.markType(x.Type)
		}
	case *ast.TypeAssertExpr:
		if x.Type != nil {
			idx.markType(x.Type)
		}
	case *ast.ArrayType, *ast.MapType, *ast.ChanType, *ast.StructType, *ast.InterfaceType:
		idx.markType(x)
	case *ast.CallExpr:
		// new(T) and make(T, ...) take a type as first argument.
		if fn, ok := x.Fun.(*ast.Ident); ok && (fn.Name == "new" || fn.Name == "make") && len(x.Args) > 0 {
			idx.markType(x.Args[0])
		}
	}
}

// markType records every node of the type expression n, except the
// parameter and field names it declares.
func (idx *Index) markType(n ast.Node) {
	if n == nil {
		return
	}
	names := make(map[*ast.Ident]bool)
	ast.Inspect(n, func(c ast.Node) bool {
		if f, ok := c.(*ast.Field); ok {
			for _, id := range f.Names {
				names[id] = true
			}
		}
		return true
	})
	ast.Inspect(n, func(c ast.Node) bool {
		if c == nil {
			return true
		}
		if id, ok := c.(*ast.Ident); ok && names[id] {
			return true
		}
		idx.typeExpr[c] = true
		return true
	})
}

func importName(spec *ast.ImportSpec) string {
	if spec.Name != nil {
		if spec.Name.Name == "_" || spec.Name.Name == "." {
			return ""
		}
		return spec.Name.Name
	}
	p, err := strconv.Unquote(spec.Path.Value)
	if err != nil {
		return ""
	}
	parts := strings.Split(p, "/")
	name := parts[len(parts)-1]
	// example.com/mod/v2 is imported as "mod".
	if len(parts) > 1 && isMajorVersion(name) {
		name = parts[len(parts)-2]
	}
	// gopkg.in/yaml.v3 is imported as "yaml".
	if base, suffix, ok := strings.Cut(name, "."); ok && isMajorVersion(suffix) {
		name = base
	}
	return name
}

func isMajorVersion(s string) bool {
	if len(s) < 2 || s[0] != 'v' {
		return false
	}
	_, err := strconv.Atoi(s[1:])
	return err == nil
}

// File returns the indexed file.
func (idx *Index) File() *ast.File {
	return idx.file
}

// FileSet returns the file set positions refer to.
func (idx *Index) FileSet() *token.FileSet {
	return idx.fset
}

// Lookup resolves an exact location key.
func (idx *Index) Lookup(key string) (ast.Node, Path, bool) {
	n, ok := idx.byKey[key]
	if !ok {
		return nil, nil, false
	}
	return n, idx.paths[n], true
}

// Enclosing resolves a raw selection key to the innermost node that encloses
// it. Exact keys resolve like Lookup.
func (idx *Index) Enclosing(key string) (ast.Node, Path, bool) {
	if n, p, ok := idx.Lookup(key); ok {
		return n, p, true
	}
	loc, err := ParseLocation(key)
	if err != nil {
		return nil, nil, false
	}
	start, ok := idx.pos(loc.StartLine, loc.StartCol)
	if !ok {
		return nil, nil, false
	}
	end, ok := idx.pos(loc.EndLine, loc.EndCol)
	if !ok {
		return nil, nil, false
	}

	enclosing, _ := astutil.PathEnclosingInterval(idx.file, start, end)
	for _, n := range enclosing {
		nl, ok := idx.locs[n]
		if !ok || !nl.contains(loc) {
			continue
		}
		return n, idx.paths[n], true
	}
	return nil, nil, false
}

func (idx *Index) pos(line, col int) (token.Pos, bool) {
	tf := idx.fset.File(idx.file.Pos())
	if tf == nil || line < 1 || line > tf.LineCount() {
		return token.NoPos, false
	}
	p := tf.LineStart(line) + token.Pos(col)
	if int(p) > tf.Base()+tf.Size() {
		return token.NoPos, false
	}
	return p, true
}

// LocationOf encodes n. Decoding the key with Lookup yields n again, unless
// a node nested inside n has exactly the same span.
func (idx *Index) LocationOf(n ast.Node) (SourceLocation, bool) {
	loc, ok := idx.locs[n]
	return loc, ok
}

// PathOf returns the ancestry of n.
func (idx *Index) PathOf(n ast.Node) (Path, bool) {
	p, ok := idx.paths[n]
	return p, ok
}

// Keys returns the number of indexed location keys.
func (idx *Index) Keys() int {
	return len(idx.byKey)
}

// IsImportName reports whether name is a package name imported by the file.
func (idx *Index) IsImportName(name string) bool {
	return idx.imports[name]
}

// IsTypeName reports whether name is declared as a type in the file.
func (idx *Index) IsTypeName(name string) bool {
	return idx.types[name]
}

// InTypePosition reports whether n occurs where a type is expected.
func (idx *Index) InTypePosition(n ast.Node) bool {
	return idx.typeExpr[n]
}

// Func returns the package-level function declared as name.
func (idx *Index) Func(name string) (*ast.FuncDecl, bool) {
	fd, ok := idx.funcs[name]
	return fd, ok
}

// TypeSpec returns the type declaration of name, if the file has one.
func (idx *Index) TypeSpec(name string) (*ast.TypeSpec, bool) {
	for n := range idx.paths {
		if ts, ok := n.(*ast.TypeSpec); ok && ts.Name.Name == name {
			return ts, true
		}
	}
	return nil, false
}
