package instrument

import (
	"errors"
	"go/ast"
	"go/token"

	"go.uber.org/zap"
)

// rewriter holds the state of one Instrument call.
type rewriter struct {
	fset     *token.FileSet
	file     *ast.File
	filename string
	logger   *zap.Logger

	// idx indexes the tree after replacement and normalization, before any
	// insertion. Paths used for planning come from here.
	idx *Index
	cls *Classifier

	ids     map[ast.Node]int
	counter *IDCounter

	plan      insertionPlan
	frags     fragments
	synth     map[*ast.BlockStmt]SourceLocation
	instances map[string]*instanceSpec

	stats    InstrumentStats
	problems []error

	probes   []ProbeSite
	blocks   []BlockSite
	examples []ExampleSite
}

type resolvedProbe struct {
	key  string
	node ast.Node
}

// BlockSite describes one block that received a prelude.
type BlockSite struct {
	BlockID  int
	Location string // "" if the block has no source span

	// Synthetic is set for blocks introduced by normalization.
	Synthetic bool
}

// errorAt is an InstrumentationError at n for the marker at key.
func (r *rewriter) errorAt(n ast.Node, key, msg string) *InstrumentationError {
	return r.located(NewInstrumentationError(r.fset, nodePos(n), msg), key)
}

func (r *rewriter) errorAtWithSuggestion(n ast.Node, key, msg, suggestion string) *InstrumentationError {
	return r.located(NewInstrumentationErrorWithSuggestion(r.fset, nodePos(n), msg, suggestion), key)
}

// located fills in the marker key, and the file for positionless nodes.
func (r *rewriter) located(err *InstrumentationError, key string) *InstrumentationError {
	if err.File == "" {
		err.File = r.filename
	}
	err.Location = key
	return err
}

func nodePos(n ast.Node) token.Pos {
	if n == nil {
		return token.NoPos
	}
	return n.Pos()
}

// skip records a marker that could not be honored and carries on.
func (r *rewriter) skip(err error) {
	var fe *FragmentParseError
	if errors.As(err, &fe) {
		r.stats.FragmentsDropped++
	} else {
		r.stats.MarkersSkipped++
	}
	r.problems = append(r.problems, err)
	r.logger.Warn("marker skipped", zap.Error(err))
}

// flushFragments moves fragment errors collected so far into problems.
func (r *rewriter) flushFragments() {
	for _, err := range r.frags.problems {
		r.skip(err)
	}
	r.frags.problems = nil
}

// prelude is the statement list every tracked block starts with:
//
//	__tracker.CheckTimer()
//	const __blockId = 12
//	__blockCount := __tracker.Block(__blockId)
//	_ = __blockCount
//
// The program block starts the timer instead of checking it.
func prelude(blockID int, program bool) []ast.Stmt {
	timer := "CheckTimer"
	if program {
		timer = "StartTimer"
	}
	return []ast.Stmt{
		exprStmt(trackerCall(timer)),
		constDecl(blockIDConst, intLit(blockID)),
		define([]ast.Expr{ident(blockCountVar)}, trackerCall("Block", ident(blockIDConst))),
		assign(ident("_"), ident(blockCountVar)),
	}
}

// applyPlan is pass 2: it splices the planned statements into every
// statement list and gives every block its prelude. Bodies of switch and
// select statements hold clauses, not statements, and get no prelude.
func (r *rewriter) applyPlan() {
	clauseBodies := make(map[*ast.BlockStmt]bool)

	ast.Inspect(r.file, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.SwitchStmt:
			clauseBodies[x.Body] = true
		case *ast.TypeSwitchStmt:
			clauseBodies[x.Body] = true
		case *ast.SelectStmt:
			clauseBodies[x.Body] = true

		case *ast.BlockStmt:
			if clauseBodies[x] {
				return true
			}
			list := r.splice(x.List)
			id, ok := r.ids[x]
			if !ok {
				x.List = list
				return true
			}
			head := prelude(id, false)
			head = append(head, r.plan.prepend[x]...)
			x.List = append(head, list...)
			r.recordBlock(x, id)

		case *ast.CaseClause:
			x.Body = r.splice(x.Body)
		case *ast.CommClause:
			x.Body = r.splice(x.Body)
		}
		return true
	})
}

func (r *rewriter) splice(list []ast.Stmt) []ast.Stmt {
	out := make([]ast.Stmt, 0, len(list))
	for _, s := range list {
		out = append(out, r.plan.before[s]...)
		out = append(out, s)
		out = append(out, r.plan.after[s]...)
	}
	return out
}

func (r *rewriter) recordBlock(b *ast.BlockStmt, id int) {
	r.stats.BlocksTracked++
	site := BlockSite{BlockID: id}
	if loc, ok := r.synth[b]; ok {
		site.Location = loc.Key()
		site.Synthetic = true
	} else if loc, ok := r.idx.LocationOf(b); ok {
		site.Location = loc.Key()
	}
	r.blocks = append(r.blocks, site)
}
