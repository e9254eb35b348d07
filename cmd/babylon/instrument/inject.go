// Package instrument - Runtime glue injection.
//
// This file adds what every instrumented program needs to talk to its
// tracker: the import of the trace package, the package-level sink and
// connection variables, and the entry point the host calls.
package instrument

import (
	"go/ast"
	"go/token"
	"strconv"
)

const (
	// TracePackageImportPath is the import path of the runtime tracker.
	TracePackageImportPath = "github.com/kolkov/babylon/trace"

	// TracePackageAlias is the local name of the trace package in
	// instrumented code.
	TracePackageAlias = "__trace"

	// EntryPoint is the function the host calls to run an instrumented
	// program:
	//
	//	func BabylonRun(t *__trace.Tracker, connections map[string]any)
	EntryPoint = "BabylonRun"
)

// injectImports adds the trace package import to the file.
//
// Edge cases:
//   - No imports section: creates one
//   - Import already present under TracePackageAlias: skipped
//   - Import present under another name: added again under the alias
//     (importing one path under two names is legal)
//   - Single import: converted to a grouped import
//
// Example Transformation:
//
//	package main              package main
//	import "fmt"              import (
//	                              "fmt"
//	func main() {}      →         __trace "github.com/kolkov/babylon/trace"
//	                          )
//	                          func __main() {}
//
// Thread Safety: NOT thread-safe (modifies AST in place).
func injectImports(file *ast.File) {
	for _, imp := range file.Imports {
		path, err := strconv.Unquote(imp.Path.Value)
		if err != nil {
			continue
		}
		if path == TracePackageImportPath && imp.Name != nil && imp.Name.Name == TracePackageAlias {
			return
		}
	}

	// Find or create the import declaration block.
	var importDecl *ast.GenDecl
	for _, decl := range file.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if ok && genDecl.Tok == token.IMPORT {
			importDecl = genDecl
			break
		}
	}
	if importDecl == nil {
		importDecl = &ast.GenDecl{
			Tok:    token.IMPORT,
			Lparen: 1, // Non-zero Lparen means grouped import: import (...)
		}
		file.Decls = append([]ast.Decl{importDecl}, file.Decls...)
	}

	importDecl.Specs = append(importDecl.Specs, &ast.ImportSpec{
		Name: ident(TracePackageAlias),
		Path: &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(TracePackageImportPath)},
	})
	if importDecl.Lparen == 0 && len(importDecl.Specs) > 1 {
		importDecl.Lparen = 1
	}

	// Keep file.Imports consistent with the declarations.
	file.Imports = nil
	for _, decl := range file.Decls {
		genDecl, ok := decl.(*ast.GenDecl)
		if !ok || genDecl.Tok != token.IMPORT {
			continue
		}
		for _, spec := range genDecl.Specs {
			if impSpec, ok := spec.(*ast.ImportSpec); ok {
				file.Imports = append(file.Imports, impSpec)
			}
		}
	}
}

// injectGlue appends the sink variables, the entry point and the program
// function:
//
//	var __tracker *__trace.Tracker
//	var __connections map[string]any
//
//	func BabylonRun(t *__trace.Tracker, connections map[string]any) {
//		__tracker = t
//		__connections = connections
//		__babylonProgram()
//	}
//
//	func __babylonProgram() { <program> }
func injectGlue(file *ast.File, program *ast.BlockStmt) {
	trackerType := func() ast.Expr { return &ast.StarExpr{X: sel(ident(TracePackageAlias), "Tracker")} }
	connType := func() ast.Expr { return &ast.MapType{Key: ident("string"), Value: emptyInterface()} }

	vars := &ast.GenDecl{
		Tok:    token.VAR,
		Lparen: 1,
		Specs: []ast.Spec{
			&ast.ValueSpec{Names: []*ast.Ident{ident(trackerVar)}, Type: trackerType()},
			&ast.ValueSpec{Names: []*ast.Ident{ident(connectionsVar)}, Type: connType()},
		},
	}

	entry := &ast.FuncDecl{
		Name: ident(EntryPoint),
		Type: &ast.FuncType{Params: &ast.FieldList{List: []*ast.Field{
			{Names: []*ast.Ident{ident("t")}, Type: trackerType()},
			{Names: []*ast.Ident{ident("connections")}, Type: connType()},
		}}},
		Body: &ast.BlockStmt{List: []ast.Stmt{
			assign(ident(trackerVar), ident("t")),
			assign(ident(connectionsVar), ident("connections")),
			exprStmt(call(ident(programFunc))),
		}},
	}

	prog := &ast.FuncDecl{
		Name: ident(programFunc),
		Type: &ast.FuncType{Params: &ast.FieldList{}},
		Body: program,
	}

	file.Decls = append(file.Decls, vars, entry, prog)
}

// renameMain renames a package-level func main so that loading the program
// does not run it. Examples on main call the renamed function.
func renameMain(file *ast.File) bool {
	for _, decl := range file.Decls {
		if fd, ok := decl.(*ast.FuncDecl); ok && fd.Recv == nil && fd.Name.Name == "main" {
			fd.Name.Name = renamedMain
			return true
		}
	}
	return false
}
