package instrument

import (
	"go/ast"
	"go/token"
)

// normalizeBlocks brings every statement position that may receive inserted
// statements into block form:
//   - the body of each case and comm clause is wrapped in one block, with a
//     trailing fallthrough kept outside it
//   - an else-if becomes an else block holding the if
//
// It returns the synthesized blocks with the span of the statements they
// wrap (an empty block gets the span of its clause header), so blocks
// created here can still be located in the editor.
func normalizeBlocks(idx *Index, file *ast.File) map[*ast.BlockStmt]SourceLocation {
	synth := make(map[*ast.BlockStmt]SourceLocation)

	wrap := func(header ast.Node, body []ast.Stmt) []ast.Stmt {
		var tail []ast.Stmt
		if n := len(body); n > 0 {
			if br, ok := body[n-1].(*ast.BranchStmt); ok && br.Tok == token.FALLTHROUGH {
				body, tail = body[:n-1], body[n-1:]
			}
		}
		block := &ast.BlockStmt{List: body}
		if loc, ok := spanOf(idx, header, body); ok {
			synth[block] = loc
		}
		return append([]ast.Stmt{block}, tail...)
	}

	ast.Inspect(file, func(n ast.Node) bool {
		switch x := n.(type) {
		case *ast.CaseClause:
			x.Body = wrap(x, x.Body)
		case *ast.CommClause:
			x.Body = wrap(x, x.Body)
		case *ast.IfStmt:
			if elif, ok := x.Else.(*ast.IfStmt); ok {
				block := &ast.BlockStmt{List: []ast.Stmt{elif}}
				if loc, ok := idx.LocationOf(elif); ok {
					synth[block] = loc
				}
				x.Else = block
			}
		}
		return true
	})

	return synth
}

// spanOf is the span from the first to the last statement, or the header's
// span when there are no statements.
func spanOf(idx *Index, header ast.Node, body []ast.Stmt) (SourceLocation, bool) {
	if len(body) == 0 {
		return idx.LocationOf(header)
	}
	first, ok := idx.LocationOf(body[0])
	if !ok {
		return SourceLocation{}, false
	}
	last, ok := idx.LocationOf(body[len(body)-1])
	if !ok {
		return SourceLocation{}, false
	}
	return SourceLocation{
		StartLine: first.StartLine,
		StartCol:  first.StartCol,
		EndLine:   last.EndLine,
		EndCol:    last.EndCol,
	}, true
}
