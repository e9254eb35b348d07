// Package instrument implements the instrumentation pass of babylon: it
// rewrites one Go source file so that running it reports the values of
// probed expressions to a trace.Tracker, and runs the user's examples.
//
// Algorithm:
//  1. Parse the source file using go/parser and index node locations
//  2. Resolve markers (probes, examples, instances, replacements) to nodes
//  3. Apply replacements
//  4. Normalize clause and else-if bodies into blocks; number every node
//  5. Plan probe insertions, then splice them in and give every block its
//     prelude (timer check, block id, per-example block counter)
//  6. Generate instances and expand examples into the program block
//  7. Inject the trace import and the BabylonRun entry point
//  8. Generate instrumented code using go/printer
//
// Example Transformation:
//
//	// INPUT (probe on x, example square(3)):
//	func square(x int) int {
//		return x * x
//	}
//
//	// OUTPUT (abridged):
//	func square(x int) int {
//		__tracker.CheckTimer()
//		const __blockId = 9
//		__blockCount := __tracker.Block(__blockId)
//		_ = __blockCount
//		__tracker.ID(7, __tracker.ExampleID(), __blockId, __blockCount, x, "x", "after")
//		return x * x
//	}
//
//	func __babylonProgram() {
//		__tracker.StartTimer()
//		...
//		func() {
//			defer func() { __tracker.Recover(recover()) }()
//			__tracker.Example("ex1")
//			__example := func(x int) { square(x) }
//			__example(3)
//		}()
//	}
//
// Thread Safety: Instrument may be called concurrently with distinct inputs
// and distinct counters.
package instrument

import (
	"bytes"
	"fmt"
	"go/ast"
	"go/parser"
	"go/printer"
	"go/token"
	"go/types"
	"sort"

	"go.uber.org/zap"
)

// Options configures one Instrument call.
type Options struct {
	// Logger receives skipped markers (Warn) and per-node decisions (Debug).
	// Nil means no logging.
	Logger *zap.Logger

	// Context holds the global prescript and postscript of the program block.
	Context Context

	// Counter supplies node ids. Nil means a fresh counter starting at 1.
	Counter *IDCounter
}

// Result holds the result of instrumentation.
//
//nolint:revive // Result is the standard name for this operation's output
type Result struct {
	Code  string          // Instrumented source code
	Stats InstrumentStats // Instrumentation statistics

	// File and Fset are the rewritten tree. Index is rebuilt on it; original
	// nodes keep their positions, so marker keys still resolve.
	File  *ast.File
	Fset  *token.FileSet
	Index *Index

	// Problems lists every skipped marker (InstrumentationError) and dropped
	// fragment (FragmentParseError).
	Problems []error

	Probes   []ProbeSite
	Blocks   []BlockSite
	Examples []ExampleSite

	// ProgramBlock is the block id of the program block.
	ProgramBlock int

	// MainRenamed is set when func main was renamed to keep loading the
	// program from running it.
	MainRenamed bool

	Coalescing CoalescingStats

	ids map[ast.Node]int
}

// NodeID returns the id assigned to the node at a location key.
func (r *Result) NodeID(key string) (int, bool) {
	n, _, ok := r.Index.Lookup(key)
	if !ok {
		return 0, false
	}
	id, ok := r.ids[n]
	return id, ok
}

// Instrument parses and rewrites one Go source file.
//
// Parameters:
//   - filename: Path to the Go source file (used for error messages)
//   - src: Source code; nil reads filename, otherwise []byte, string or io.Reader
//   - markers: Requests to honor
//   - opts: Logger, global context and id counter
//
// Returns:
//   - *Result: Instrumented code, statistics and marker problems
//   - error: *SourceParseError when the source does not parse, or a code
//     generation error. Markers that cannot be honored never fail the call.
//
// Example:
//
//	result, err := Instrument("square.go", src, markers, Options{Logger: logger})
//	if err != nil {
//	    return fmt.Errorf("instrumentation failed: %w", err)
//	}
//	for _, p := range result.Problems {
//	    logger.Warn("marker skipped", zap.Error(p))
//	}
func Instrument(filename string, src interface{}, markers Markers, opts Options) (*Result, error) {
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, filename, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, &SourceParseError{File: filename, Err: err}
	}
	return instrumentAST(fset, file, filename, markers, opts)
}

func instrumentAST(fset *token.FileSet, file *ast.File, filename string, markers Markers, opts Options) (*Result, error) {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	counter := opts.Counter
	if counter == nil {
		counter = NewIDCounter(1)
	}

	// Comments would be misplaced around inserted statements.
	file.Comments = nil
	file.Name.Name = "main"

	r := &rewriter{
		fset:     fset,
		file:     file,
		filename: filename,
		logger:   logger.With(zap.String("file", filename)),
		idx:      BuildIndex(fset, file),
		counter:  counter,
		plan:     newInsertionPlan(),
	}
	r.cls = NewClassifier(r.idx)

	// Step 1: Resolve markers against the tree the editor saw.
	markers, coalescing := coalesceMarkers(markers)
	set := r.resolve(markers)

	// Step 2: Replacements first: every later step sees the substituted tree.
	r.applyReplacements(set.replacements)

	// Step 3: Normalize, re-index, number.
	r.synth = normalizeBlocks(r.idx, file)
	mainRenamed := renameMain(file)
	r.idx = BuildIndex(fset, file)
	r.cls = NewClassifier(r.idx)
	r.ids = assignIDs(file, counter)

	// Step 4: Probes (pass 1), then examples, then splice everything (pass 2).
	sort.SliceStable(set.probes, func(i, j int) bool {
		return r.ids[set.probes[i].node] < r.ids[set.probes[j].node]
	})
	r.insertProbes(set.probes)
	r.generateInstances(set.instances)
	exampleStmts := r.expandExamples(set.examples)
	r.applyPlan()

	// Step 5: Program block and glue.
	programID := counter.Next()
	program := &ast.BlockStmt{List: prelude(programID, true)}
	program.List = append(program.List, r.frags.stmts("", "context prescript", opts.Context.Prescript)...)
	program.List = append(program.List, exampleStmts...)
	program.List = append(program.List, r.frags.stmts("", "context postscript", opts.Context.Postscript)...)
	r.flushFragments()
	injectImports(file)
	injectGlue(file, program)

	// Step 6: Generate Go source code from the modified AST.
	var buf bytes.Buffer
	cfg := &printer.Config{
		Mode:     printer.UseSpaces | printer.TabIndent,
		Tabwidth: 8,
	}
	if err := cfg.Fprint(&buf, fset, file); err != nil {
		return nil, fmt.Errorf("failed to generate code: %w", err)
	}

	r.logger.Debug("instrumented",
		zap.Int("probes", r.stats.ProbesInserted),
		zap.Int("blocks", r.stats.BlocksTracked),
		zap.Int("examples", r.stats.ExamplesExpanded),
		zap.Int("skipped", r.stats.TotalSkipped()))

	return &Result{
		Code:         buf.String(),
		Stats:        r.stats,
		File:         file,
		Fset:         fset,
		Index:        BuildIndex(fset, file),
		Problems:     r.problems,
		Probes:       r.probes,
		Blocks:       r.blocks,
		Examples:     r.examples,
		ProgramBlock: programID,
		MainRenamed:  mainRenamed,
		Coalescing:   coalescing,
		ids:          r.ids,
	}, nil
}

// markerSet is the marker set resolved to nodes.
type markerSet struct {
	probes       []resolvedProbe
	examples     []resolvedExample
	instances    []resolvedInstance
	replacements []resolvedReplacement
}

// resolve maps every marker to its node and checks that the node may carry
// it. Markers that fail are skipped with an InstrumentationError.
func (r *rewriter) resolve(m Markers) markerSet {
	var set markerSet

	lookup := func(key, what string) (ast.Node, Path, bool) {
		n, path, ok := r.idx.Enclosing(key)
		if !ok {
			r.skip(&InstrumentationError{File: r.filename, Location: key,
				Message: fmt.Sprintf("no node at %s location", what)})
			return nil, nil, false
		}
		return n, path, true
	}

	seen := make(map[ast.Node]bool)
	for _, p := range m.Probes {
		n, path, ok := lookup(p.Location, "probe")
		if !ok {
			continue
		}
		if !r.cls.Probeable(path) {
			r.skip(r.errorAt(n, p.Location, fmt.Sprintf("%s cannot be probed", describe(n))))
			continue
		}
		if seen[n] {
			continue
		}
		seen[n] = true
		set.probes = append(set.probes, resolvedProbe{key: p.Location, node: n})
	}

	for _, rep := range m.Replacements {
		n, path, ok := lookup(rep.Location, "replacement")
		if !ok {
			continue
		}
		e, isExpr := n.(ast.Expr)
		if !isExpr {
			r.skip(r.errorAt(n, rep.Location, fmt.Sprintf("%s is not an expression", describe(n))))
			continue
		}
		set.replacements = append(set.replacements, resolvedReplacement{key: rep.Location, node: e, path: path, value: rep.Value})
	}

	for _, in := range m.Instances {
		n, path, ok := lookup(in.Location, "instance")
		if !ok {
			continue
		}
		if !r.cls.InstanceEntry(path) {
			r.skip(r.errorAtWithSuggestion(n, in.Location, "instance marker is not on a type name",
				"Attach instances to the name in a type declaration"))
			continue
		}
		set.instances = append(set.instances, resolvedInstance{marker: in, spec: path.Parent().(*ast.TypeSpec)})
	}

	for _, ex := range m.Examples {
		if !ex.IsEnabled() {
			continue
		}
		n, path, ok := lookup(ex.Location, "example")
		if !ok {
			continue
		}
		if !r.cls.ExampleEntry(path) {
			r.skip(r.errorAtWithSuggestion(n, ex.Location, "example marker is not on a function name",
				"Attach examples to the name in a func declaration"))
			continue
		}
		set.examples = append(set.examples, resolvedExample{marker: ex, decl: path.Parent().(*ast.FuncDecl)})
	}

	return set
}

func describe(n ast.Node) string {
	switch x := n.(type) {
	case *ast.Ident:
		return fmt.Sprintf("identifier %s", x.Name)
	case ast.Expr:
		return fmt.Sprintf("expression %s", types.ExprString(x))
	}
	return fmt.Sprintf("%T", n)
}
