// Package instrument - Example expansion.
//
// Each enabled example becomes one statement of the program block:
//
//	func() {
//		defer func() { __tracker.Recover(recover()) }()
//		__tracker.Example("ex1")
//		__example := func(__self *Point, dx int) {
//			<prescript>
//			(*Point).Move(__self, dx)
//			<postscript>
//		}
//		__example(&Point{X: 1}, 3)
//	}()
//
// A panic inside one example is recorded for that example only; the next
// example still runs.
package instrument

import (
	"fmt"
	"go/ast"
	"go/token"

	"go.uber.org/zap"
)

// ExampleSite describes one expanded example.
type ExampleSite struct {
	ID       string
	Location string
	Function string
}

type resolvedExample struct {
	marker Example
	decl   *ast.FuncDecl
}

type callParam struct {
	name     string
	typ      ast.Expr
	variadic bool
}

// expandExamples builds the invocation statement of every example.
func (r *rewriter) expandExamples(examples []resolvedExample) []ast.Stmt {
	var out []ast.Stmt
	for _, ex := range examples {
		stmt, err := r.expandExample(ex)
		if err != nil {
			r.skip(err)
			continue
		}
		out = append(out, stmt)
		r.stats.ExamplesExpanded++
		r.examples = append(r.examples, ExampleSite{
			ID:       ex.marker.ID,
			Location: ex.marker.Location,
			Function: funcDisplayName(ex.decl),
		})
		r.logger.Debug("example expanded",
			zap.String("example", ex.marker.ID),
			zap.String("function", funcDisplayName(ex.decl)))
	}
	r.flushFragments()
	return out
}

func (r *rewriter) expandExample(ex resolvedExample) (ast.Stmt, error) {
	fd, key := ex.decl, ex.marker.Location
	if fd.Type.TypeParams != nil {
		return nil, r.errorAtWithSuggestion(fd.Name, key,
			fmt.Sprintf("cannot run generic function %s", fd.Name.Name),
			"Wrap the call in a non-generic function and attach the example there")
	}
	if fd.Name.Name == "init" {
		return nil, r.errorAt(fd.Name, key, "init functions cannot be called")
	}
	if fd.Body == nil {
		return nil, r.errorAt(fd.Name, key, "function has no body")
	}

	params := callParams(fd.Type.Params)

	wrapper := &ast.FieldList{}
	var dispatch ast.Expr
	var args []ast.Expr
	var recvArg ast.Expr

	if fd.Recv != nil && len(fd.Recv.List) == 1 {
		recvType := fd.Recv.List[0].Type
		pointer, base, ok := receiverShape(recvType)
		if !ok {
			return nil, r.errorAt(fd.Name, key, "methods of generic types cannot run as examples")
		}
		wrapper.List = append(wrapper.List, &ast.Field{Names: []*ast.Ident{ident(selfParam)}, Type: cloneNode(recvType)})
		args = append(args, ident(selfParam))

		// T.M(self, ...) for value receivers, (*T).M(self, ...) for pointer receivers.
		var owner ast.Expr = ident(base)
		if pointer {
			owner = &ast.ParenExpr{X: &ast.StarExpr{X: ident(base)}}
		}
		dispatch = sel(owner, fd.Name.Name)
		recvArg = r.receiverArg(ex.marker, fd, recvType, pointer, base)
	} else {
		dispatch = ident(fd.Name.Name)
	}

	for _, p := range params {
		wrapper.List = append(wrapper.List, &ast.Field{Names: []*ast.Ident{ident(p.name)}, Type: cloneNode(p.typ)})
		args = append(args, ident(p.name))
	}
	target := call(dispatch, args...)
	if len(params) > 0 && params[len(params)-1].variadic {
		target.Ellipsis = token.Pos(1)
	}

	body := r.frags.stmts(key, "prescript", ex.marker.Prescript)
	body = append(body, exprStmt(target))
	body = append(body, r.frags.stmts(key, "postscript", ex.marker.Postscript)...)

	var invokeArgs []ast.Expr
	if recvArg != nil {
		invokeArgs = append(invokeArgs, recvArg)
	}
	invokeArgs = append(invokeArgs, r.exampleValues(ex.marker, params)...)

	recoverer := funcLit(nil, exprStmt(trackerCall("Recover", call(ident("recover")))))
	outer := funcLit(nil,
		&ast.DeferStmt{Call: call(recoverer)},
		exprStmt(trackerCall("Example", strLit(ex.marker.ID))),
		define([]ast.Expr{ident(exampleVar)}, funcLit(wrapper, body...)),
		exprStmt(call(ident(exampleVar), invokeArgs...)),
	)
	return exprStmt(call(outer)), nil
}

// exampleValues types each value by its parameter. Missing values are zero;
// surplus values go to a variadic last parameter.
func (r *rewriter) exampleValues(ex Example, params []callParam) []ast.Expr {
	var out []ast.Expr
	for i, p := range params {
		if p.variadic {
			for _, v := range ex.Values[min(i, len(ex.Values)):] {
				out = append(out, r.frags.value(ex.Location, "value", v, elemType(p.typ)))
			}
			break
		}
		if i < len(ex.Values) {
			out = append(out, r.frags.value(ex.Location, "value", ex.Values[i], p.typ))
			continue
		}
		out = append(out, zeroValue(p.typ))
	}
	return out
}

// receiverArg selects the receiver: a connection, the zero value, or a
// generated instance in the receiver's shape.
func (r *rewriter) receiverArg(ex Example, fd *ast.FuncDecl, recvType ast.Expr, pointer bool, base string) ast.Expr {
	ref := ex.Instance
	if ref.Connection != "" {
		return connectionExpr(ref.Connection, recvType)
	}
	if ref.IsNull() {
		return zeroValue(recvType)
	}
	spec, ok := r.instances[ref.ID]
	if !ok {
		r.skip(r.errorAt(fd.Name, ex.Location,
			fmt.Sprintf("example %s references unknown instance %q; using the zero value", ex.ID, ref.ID)))
		return zeroValue(recvType)
	}
	if spec.typeName != base {
		r.skip(r.errorAt(fd.Name, ex.Location,
			fmt.Sprintf("instance %q is a %s, method %s needs a %s; using the zero value",
				ref.ID, spec.typeName, fd.Name.Name, base)))
		return zeroValue(recvType)
	}
	return spec.expr(pointer)
}

func callParams(fl *ast.FieldList) []callParam {
	names, typs := flattenFields(fl)
	params := make([]callParam, len(names))
	for i := range names {
		name := names[i]
		if name == "" || name == "_" {
			name = fmt.Sprintf("__p%d", i)
		}
		_, variadic := typs[i].(*ast.Ellipsis)
		params[i] = callParam{name: name, typ: typs[i], variadic: variadic}
	}
	return params
}

// receiverShape splits a receiver type into pointer-ness and base type name.
// Receivers of generic types are rejected.
func receiverShape(typ ast.Expr) (pointer bool, base string, ok bool) {
	if st, isStar := typ.(*ast.StarExpr); isStar {
		pointer, typ = true, st.X
	}
	if p, isParen := typ.(*ast.ParenExpr); isParen {
		typ = p.X
	}
	id, isIdent := typ.(*ast.Ident)
	if !isIdent {
		return false, "", false
	}
	return pointer, id.Name, true
}

// funcDisplayName is "Name" or "Type.Name" / "(*Type).Name" for methods.
func funcDisplayName(fd *ast.FuncDecl) string {
	if fd.Recv == nil || len(fd.Recv.List) == 0 {
		return fd.Name.Name
	}
	pointer, base, ok := receiverShape(fd.Recv.List[0].Type)
	switch {
	case !ok:
		return fd.Name.Name
	case pointer:
		return "(*" + base + ")." + fd.Name.Name
	default:
		return base + "." + fd.Name.Name
	}
}
