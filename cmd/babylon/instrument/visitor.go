// Package instrument - Probe insertion.
//
// This file implements the probe pass. Probes are processed in two passes,
// like any other insertion the rewriter makes:
//
//	Pass 1 (plan): For each probed node, decide which statements to insert
//	               and where (before or after a statement list member, or at
//	               the start of a block)
//	Pass 2 (apply): Splice the planned statements into every statement list
//
// Modifying the tree while deciding would invalidate the ancestor paths the
// decisions are based on.
package instrument

import (
	"fmt"
	"go/ast"
	"go/token"
	"go/types"

	"go.uber.org/zap"

	"github.com/kolkov/babylon/trace"
)

// InstrumentStats tracks instrumentation statistics.
//
// Use Case:
// Shown by `babylon instrument -v`:
//
//	Instrumented square.go:
//	  - 3 probes inserted (1 return rewritten)
//	  - 4 blocks tracked
//	  - 1 example expanded, 0 instances generated
//	  - 0 markers skipped
//
// Thread Safety: NOT thread-safe (single-threaded instrumentation).
//
//nolint:revive // InstrumentStats is clear and descriptive despite stuttering
type InstrumentStats struct {
	ProbesInserted      int // Tracker calls inserted for probes
	ReturnsRewritten    int // Return statements rewritten through temporaries
	BlocksTracked       int // Blocks that received a prelude
	ExamplesExpanded    int // Example invocations generated
	InstancesGenerated  int // Instance expressions generated
	ReplacementsApplied int // Expressions replaced
	MarkersSkipped      int // Markers rejected with an InstrumentationError
	FragmentsDropped    int // User fragments that failed to parse
}

// Total returns the number of markers honored.
func (s *InstrumentStats) Total() int {
	return s.ProbesInserted + s.ExamplesExpanded + s.InstancesGenerated + s.ReplacementsApplied
}

// TotalSkipped returns the number of markers and fragments dropped.
func (s *InstrumentStats) TotalSkipped() int {
	return s.MarkersSkipped + s.FragmentsDropped
}

// insertionPlan collects the statements pass 1 decided to insert.
type insertionPlan struct {
	before  map[ast.Stmt][]ast.Stmt
	after   map[ast.Stmt][]ast.Stmt
	prepend map[*ast.BlockStmt][]ast.Stmt
}

func newInsertionPlan() insertionPlan {
	return insertionPlan{
		before:  make(map[ast.Stmt][]ast.Stmt),
		after:   make(map[ast.Stmt][]ast.Stmt),
		prepend: make(map[*ast.BlockStmt][]ast.Stmt),
	}
}

// ProbeSite describes one probe honored by the rewrite.
type ProbeSite struct {
	NodeID   int
	Location string
	Name     string
	Kind     Kind
}

// idCall builds the probe call
//
//	__tracker.ID(nodeID, __tracker.ExampleID(), __blockId, __blockCount, value, "name", keyword)
func idCall(nodeID int, value ast.Expr, name, keyword string) ast.Stmt {
	return exprStmt(trackerCall("ID",
		intLit(nodeID),
		trackerCall("ExampleID"),
		ident(blockIDConst),
		ident(blockCountVar),
		value,
		strLit(name),
		strLit(keyword),
	))
}

// planProbe decides the insertions for the probe on the last node of path.
//
// Placement:
//   - parameter or receiver name: "after" at the start of the function body
//   - return statement: rewritten through temporaries, see planReturn
//   - inside a return statement: "after" before the return
//   - loop header: "after" at the start of the loop body
//   - case or comm clause header: "after" at the start of the clause body
//   - if header: "after" before the if, or at the start of its body when the
//     name is declared by the if's init
//   - switch header: "after" before the switch; a name declared by the
//     switch's init cannot be probed
//   - declared name (x := ..., var x = ...): "after" after the declaration
//   - anything else: "before" and "after" around the enclosing statement
func (r *rewriter) planProbe(key string, path Path) error {
	n := path.Node()
	id := r.ids[n]

	if ret, ok := n.(*ast.ReturnStmt); ok {
		return r.planReturn(key, path, ret, id)
	}

	expr, ok := n.(ast.Expr)
	if !ok {
		return r.errorAt(n, key, fmt.Sprintf("cannot probe %T", n))
	}
	name := types.ExprString(expr)
	after := func() ast.Stmt { return idCall(id, cloneNode(expr), name, trace.After) }
	before := func() ast.Stmt { return idCall(id, cloneNode(expr), name, trace.Before) }

	if body, isParam := paramBody(path); isParam {
		if body == nil {
			return r.errorAt(n, key, "parameter of a function without body")
		}
		r.plan.prepend[body] = append(r.plan.prepend[body], after())
		return nil
	}

	i := enclosingStmt(path)
	if i < 0 {
		return r.errorAtWithSuggestion(n, key, "probe outside of a function body",
			"Probe the value where it is used inside a function")
	}
	stmt := path[i].(ast.Stmt)

	switch s := stmt.(type) {
	case *ast.ReturnStmt:
		return r.planAround(key, path, i, nil, after())

	case *ast.ForStmt:
		r.plan.prepend[s.Body] = append(r.plan.prepend[s.Body], after())
		return nil

	case *ast.RangeStmt:
		r.plan.prepend[s.Body] = append(r.plan.prepend[s.Body], after())
		return nil

	case *ast.CaseClause:
		return r.planClause(n, key, s.Body, after())

	case *ast.CommClause:
		return r.planClause(n, key, s.Body, after())

	case *ast.IfStmt:
		if declaredBy(s.Init, name) {
			r.plan.prepend[s.Body] = append(r.plan.prepend[s.Body], after())
			return nil
		}
		return r.planAround(key, path, i, nil, after())

	case *ast.SwitchStmt:
		if declaredBy(s.Init, name) {
			return r.errorAtWithSuggestion(n, key, "cannot probe a variable declared in a switch header",
				"Move the declaration above the switch statement")
		}
		return r.planAround(key, path, i, nil, after())

	case *ast.TypeSwitchStmt:
		if declaredBy(s.Init, name) || declaredBy(s.Assign, name) {
			return r.errorAtWithSuggestion(n, key, "cannot probe a variable declared in a switch header",
				"Probe the variable inside a case clause instead")
		}
		return r.planAround(key, path, i, nil, after())

	case *ast.SelectStmt:
		return r.planAround(key, path, i, nil, after())
	}

	if isDeclarator(path) {
		return r.planAround(key, path, i, nil, after())
	}
	return r.planAround(key, path, i, before(), after())
}

// planAround inserts pre before and post after the list member owning
// path[i]. When path[i] is a return or a statement whose header holds the
// probed node, post goes before the statement as well. Nothing follows a
// panic call or a goto: code after them is unreachable and would turn a
// final panic into a missing return.
func (r *rewriter) planAround(key string, path Path, i int, pre, post ast.Stmt) error {
	member, ok := listMember(path, i)
	if !ok {
		return r.errorAt(path.Node(), key, "enclosing statement is not part of a statement list")
	}
	if pre != nil {
		r.plan.before[member] = append(r.plan.before[member], pre)
	}
	if jumps(path[i]) {
		if pre == nil {
			r.plan.before[member] = append(r.plan.before[member], post)
		}
		return nil
	}
	switch path[i].(type) {
	case *ast.ReturnStmt, *ast.IfStmt, *ast.SwitchStmt, *ast.TypeSwitchStmt, *ast.SelectStmt:
		r.plan.before[member] = append(r.plan.before[member], post)
	default:
		r.plan.after[member] = append(r.plan.after[member], post)
	}
	return nil
}

// jumps reports whether control never reaches the statement after s.
func jumps(s ast.Node) bool {
	switch s := s.(type) {
	case *ast.ExprStmt:
		c, ok := s.X.(*ast.CallExpr)
		if !ok {
			return false
		}
		fun, ok := c.Fun.(*ast.Ident)
		return ok && fun.Name == "panic"
	case *ast.BranchStmt:
		return s.Tok == token.GOTO
	}
	return false
}

func (r *rewriter) planClause(n ast.Node, key string, body []ast.Stmt, post ast.Stmt) error {
	if len(body) == 0 {
		return r.errorAt(n, key, "case clause without body block")
	}
	block, ok := body[0].(*ast.BlockStmt)
	if !ok {
		return r.errorAt(n, key, "case clause without body block")
	}
	r.plan.prepend[block] = append(r.plan.prepend[block], post)
	return nil
}

// planReturn rewrites a probed return statement:
//
//	return x * x
//
// becomes
//
//	var __ret7_0 int = x * x
//	__tracker.ID(7, ..., __ret7_0, "return", "after")
//	return __ret7_0
//
// The return statement node itself stays in the tree, so its location key
// still resolves after the rewrite. Multiple results are observed as one
// []any value.
func (r *rewriter) planReturn(key string, path Path, ret *ast.ReturnStmt, id int) error {
	_, ft, _ := path.FuncParent()
	if ft == nil {
		return r.errorAt(ret, key, "return outside of a function")
	}
	names, resultTypes := flattenFields(ft.Results)

	var stmts []ast.Stmt
	var temps []ast.Expr
	tempName := func(i int) string { return fmt.Sprintf("__ret%d_%d", id, i) }

	switch {
	case len(ret.Results) == 0:
		// Bare return: observe the named results, if any.
		for _, name := range names {
			if name != "" && name != "_" {
				temps = append(temps, ident(name))
			}
		}

	case len(ret.Results) == len(resultTypes):
		for i, e := range ret.Results {
			stmts = append(stmts, varDecl(tempName(i), cloneNode(resultTypes[i]), e))
			temps = append(temps, ident(tempName(i)))
		}
		ret.Results = cloneTemps(temps)

	case len(ret.Results) == 1 && len(resultTypes) > 1:
		// return f() where f has several results.
		lhs := make([]ast.Expr, len(resultTypes))
		for i := range resultTypes {
			lhs[i] = ident(tempName(i))
			temps = append(temps, ident(tempName(i)))
		}
		stmts = append(stmts, define(lhs, ret.Results[0]))
		ret.Results = cloneTemps(temps)

	default:
		return r.errorAt(ret, key, "return does not match the function's results")
	}

	var value ast.Expr
	switch len(temps) {
	case 0:
		value = ident("nil")
	case 1:
		value = temps[0]
	default:
		value = &ast.CompositeLit{Type: &ast.ArrayType{Elt: emptyInterface()}, Elts: temps}
	}
	stmts = append(stmts, idCall(id, value, "return", trace.After))

	i := len(path) - 1
	member, ok := listMember(path, i)
	if !ok {
		return r.errorAt(ret, key, "return is not part of a statement list")
	}
	r.plan.before[member] = append(r.plan.before[member], stmts...)
	if len(ret.Results) > 0 || len(stmts) > 1 {
		r.stats.ReturnsRewritten++
	}
	return nil
}

func cloneTemps(temps []ast.Expr) []ast.Expr {
	out := make([]ast.Expr, len(temps))
	for i, t := range temps {
		out[i] = cloneNode(t)
	}
	return out
}

// flattenFields expands a field list into one entry per declared name (or
// per unnamed field).
func flattenFields(fl *ast.FieldList) ([]string, []ast.Expr) {
	if fl == nil {
		return nil, nil
	}
	var names []string
	var typs []ast.Expr
	for _, f := range fl.List {
		if len(f.Names) == 0 {
			names = append(names, "")
			typs = append(typs, f.Type)
			continue
		}
		for _, n := range f.Names {
			names = append(names, n.Name)
			typs = append(typs, f.Type)
		}
	}
	return names, typs
}

// paramBody reports whether the last node of path is a parameter, result or
// receiver name, and returns the body of the function it belongs to.
func paramBody(path Path) (*ast.BlockStmt, bool) {
	id, ok := path.Node().(*ast.Ident)
	if !ok {
		return nil, false
	}
	f, ok := path.Parent().(*ast.Field)
	if !ok || !containsIdent(f.Names, id) {
		return nil, false
	}
	switch owner := path.Up(3).(type) {
	case *ast.FuncDecl:
		// Receiver list.
		return owner.Body, true
	case *ast.FuncType:
		switch fn := path.Up(4).(type) {
		case *ast.FuncDecl:
			return fn.Body, true
		case *ast.FuncLit:
			return fn.Body, true
		}
		return nil, true
	}
	return nil, false
}

func containsIdent(list []*ast.Ident, id *ast.Ident) bool {
	for _, n := range list {
		if n == id {
			return true
		}
	}
	return false
}

// enclosingStmt returns the index in path of the statement a probe on the
// last node attaches to: the nearest statement, lifted out of the header
// positions of for, if, switch and select clauses. It is -1 outside of
// function bodies.
func enclosingStmt(path Path) int {
	i := -1
	for j := len(path) - 2; j >= 0; j-- {
		if _, ok := path[j].(ast.Stmt); ok {
			i = j
			break
		}
	}
	if i < 0 {
		return -1
	}

	for i > 0 {
		stmt := path[i].(ast.Stmt)
		lifted := false
		switch p := path[i-1].(type) {
		case *ast.ForStmt:
			lifted = stmt == p.Init || stmt == p.Post
		case *ast.IfStmt:
			lifted = stmt == p.Init
		case *ast.SwitchStmt:
			lifted = stmt == p.Init
		case *ast.TypeSwitchStmt:
			lifted = stmt == p.Init || stmt == p.Assign
		case *ast.CommClause:
			lifted = stmt == p.Comm
		}
		if !lifted {
			break
		}
		i--
	}
	return i
}

// listMember climbs from the statement at path[i] through labels to the
// statement that is an element of a statement list.
func listMember(path Path, i int) (ast.Stmt, bool) {
	stmt, ok := path[i].(ast.Stmt)
	if !ok {
		return nil, false
	}
	for i > 0 {
		l, ok := path[i-1].(*ast.LabeledStmt)
		if !ok {
			break
		}
		stmt = l
		i--
	}
	if i == 0 {
		return nil, false
	}
	switch path[i-1].(type) {
	case *ast.BlockStmt, *ast.CaseClause, *ast.CommClause:
		return stmt, true
	}
	return nil, false
}

// declaredBy reports whether the header statement s declares name.
func declaredBy(s ast.Stmt, name string) bool {
	as, ok := s.(*ast.AssignStmt)
	if !ok || as.Tok != token.DEFINE {
		return false
	}
	for _, lhs := range as.Lhs {
		if id, ok := lhs.(*ast.Ident); ok && id.Name == name {
			return true
		}
	}
	return false
}

// isDeclarator reports whether the last node of path is a name being
// declared by a := assignment or a var declaration.
func isDeclarator(path Path) bool {
	id, ok := path.Node().(*ast.Ident)
	if !ok {
		return false
	}
	switch p := path.Parent().(type) {
	case *ast.AssignStmt:
		if p.Tok != token.DEFINE {
			return false
		}
		for _, lhs := range p.Lhs {
			if lhs == id {
				return true
			}
		}
	case *ast.ValueSpec:
		return containsIdent(p.Names, id)
	}
	return false
}

// insertProbes plans every resolved probe, in node id order.
func (r *rewriter) insertProbes(probes []resolvedProbe) {
	for _, p := range probes {
		path, ok := r.idx.PathOf(p.node)
		if !ok {
			r.skip(r.errorAt(p.node, p.key, "probed node was removed by a replacement"))
			continue
		}
		if err := r.planProbe(p.key, path); err != nil {
			r.skip(err)
			continue
		}
		r.stats.ProbesInserted++
		site := ProbeSite{NodeID: r.ids[p.node], Location: p.key, Kind: KindOf(path)}
		if e, ok := p.node.(ast.Expr); ok {
			site.Name = types.ExprString(e)
		} else {
			site.Name = "return"
		}
		r.probes = append(r.probes, site)
		r.logger.Debug("probe planned",
			zap.String("location", p.key),
			zap.Int("node", site.NodeID),
			zap.String("name", site.Name),
			zap.Stringer("kind", site.Kind))
	}
}
