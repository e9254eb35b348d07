package instrument

import (
	"go/ast"
	"strings"

	"go.uber.org/zap"
	"golang.org/x/tools/go/ast/astutil"
)

type resolvedReplacement struct {
	key   string
	node  ast.Expr
	path  Path
	value Value
}

// applyReplacements substitutes every replacement target with its parsed
// value. It runs first, so later passes see the substituted tree.
//
// A variable initializer is replaced in place in its declaration; any other
// expression is replaced wholesale wherever it sits. An empty value is the
// zero value of the declared type, or nil without one. A value that does not
// parse leaves the target untouched.
func (r *rewriter) applyReplacements(reps []resolvedReplacement) {
	for _, rep := range reps {
		var typ ast.Expr
		if vs, ok := rep.path.Parent().(*ast.ValueSpec); ok {
			typ = vs.Type
		}

		var repl ast.Expr
		switch {
		case rep.value.IsConnection():
			repl = connectionExpr(rep.value.Connection, typ)
		case strings.TrimSpace(rep.value.Text) == "":
			repl = zeroValue(typ)
		default:
			e, err := parseExprFragment(rep.value.Text)
			if err != nil {
				r.skip(&FragmentParseError{Location: rep.key, Role: "replacement", Fragment: rep.value.Text, Err: err})
				continue
			}
			repl = e
		}

		if !r.cls.ReplacementTarget(rep.path) {
			r.logger.Debug("replacing an expression outside an initializer or assignment", zap.String("location", rep.key))
		}
		if r.replaceInitializer(rep, repl) || r.replaceWholesale(rep.node, repl) {
			r.stats.ReplacementsApplied++
			continue
		}
		r.skip(r.errorAt(rep.node, rep.key, "replacement target not found"))
	}
}

func (r *rewriter) replaceInitializer(rep resolvedReplacement, repl ast.Expr) bool {
	switch p := rep.path.Parent().(type) {
	case *ast.ValueSpec:
		for i, v := range p.Values {
			if v == rep.node {
				p.Values[i] = repl
				return true
			}
		}
	case *ast.AssignStmt:
		for i, v := range p.Rhs {
			if v == rep.node {
				p.Rhs[i] = repl
				return true
			}
		}
	}
	return false
}

func (r *rewriter) replaceWholesale(target, repl ast.Expr) (done bool) {
	// Cursor.Replace panics when repl does not fit the field holding target,
	// e.g. the name of a declaration.
	defer func() {
		if recover() != nil {
			done = false
		}
	}()
	astutil.Apply(r.file, func(c *astutil.Cursor) bool {
		if done {
			return false
		}
		if c.Node() == target {
			c.Replace(repl)
			done = true
			return false
		}
		return true
	}, nil)
	return done
}
