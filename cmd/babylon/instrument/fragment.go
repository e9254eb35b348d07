package instrument

import (
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"strings"
)

// parseExprFragment parses a user-supplied expression such as "3" or
// "Point{X: 1}". The result carries no positions.
func parseExprFragment(text string) (ast.Expr, error) {
	e, err := parser.ParseExpr(text)
	if err != nil {
		return nil, err
	}
	return cloneNode(e), nil
}

// parseStmtsFragment parses a user-supplied statement list (a prescript or
// postscript). Blank text yields no statements.
func parseStmtsFragment(text string) ([]ast.Stmt, error) {
	if strings.TrimSpace(text) == "" {
		return nil, nil
	}
	src := "package p\nfunc _() {\n" + text + "\n}\n"
	f, err := parser.ParseFile(token.NewFileSet(), "fragment.go", src, parser.SkipObjectResolution)
	if err != nil {
		return nil, err
	}
	if len(f.Decls) != 1 {
		return nil, fmt.Errorf("fragment closes its enclosing block")
	}
	body := f.Decls[0].(*ast.FuncDecl).Body
	out := make([]ast.Stmt, 0, len(body.List))
	for _, s := range body.List {
		out = append(out, cloneNode(s))
	}
	return out, nil
}

// fragments turns user values into expressions, recording every fragment
// that does not parse.
type fragments struct {
	problems []error
}

// value renders v as an expression of type typ (typ may be nil when
// unknown). Connections become __connections lookups; empty or broken
// fragments become the zero value.
func (fr *fragments) value(location, role string, v Value, typ ast.Expr) ast.Expr {
	if v.IsConnection() {
		return connectionExpr(v.Connection, typ)
	}
	if strings.TrimSpace(v.Text) == "" {
		return zeroValue(typ)
	}
	e, err := parseExprFragment(v.Text)
	if err != nil {
		fr.problems = append(fr.problems, &FragmentParseError{Location: location, Role: role, Fragment: v.Text, Err: err})
		return zeroValue(typ)
	}
	return e
}

// stmts parses a prescript or postscript, dropping it on error.
func (fr *fragments) stmts(location, role, text string) []ast.Stmt {
	list, err := parseStmtsFragment(text)
	if err != nil {
		fr.problems = append(fr.problems, &FragmentParseError{Location: location, Role: role, Fragment: text, Err: err})
		return nil
	}
	return list
}
