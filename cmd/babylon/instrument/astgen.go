package instrument

import (
	"go/ast"
	"go/token"
	"reflect"
	"strconv"
)

// Names introduced into instrumented programs. All start with "__" so they
// cannot collide with ordinary user identifiers.
const (
	trackerVar     = "__tracker"
	connectionsVar = "__connections"
	blockIDConst   = "__blockId"
	blockCountVar  = "__blockCount"
	programFunc    = "__babylonProgram"
	renamedMain    = "__main"
	selfParam      = "__self"
	exampleVar     = "__example"
)

func ident(name string) *ast.Ident {
	return ast.NewIdent(name)
}

func sel(x ast.Expr, name string) *ast.SelectorExpr {
	return &ast.SelectorExpr{X: x, Sel: ident(name)}
}

func call(fun ast.Expr, args ...ast.Expr) *ast.CallExpr {
	return &ast.CallExpr{Fun: fun, Args: args}
}

// trackerCall builds __tracker.<method>(args...).
func trackerCall(method string, args ...ast.Expr) *ast.CallExpr {
	return call(sel(ident(trackerVar), method), args...)
}

func exprStmt(e ast.Expr) ast.Stmt {
	return &ast.ExprStmt{X: e}
}

func intLit(n int) *ast.BasicLit {
	return &ast.BasicLit{Kind: token.INT, Value: strconv.Itoa(n)}
}

func strLit(s string) *ast.BasicLit {
	return &ast.BasicLit{Kind: token.STRING, Value: strconv.Quote(s)}
}

func define(lhs []ast.Expr, rhs ...ast.Expr) *ast.AssignStmt {
	return &ast.AssignStmt{Lhs: lhs, Tok: token.DEFINE, Rhs: rhs}
}

func assign(lhs ast.Expr, rhs ast.Expr) *ast.AssignStmt {
	return &ast.AssignStmt{Lhs: []ast.Expr{lhs}, Tok: token.ASSIGN, Rhs: []ast.Expr{rhs}}
}

func varDecl(name string, typ ast.Expr, value ast.Expr) ast.Stmt {
	spec := &ast.ValueSpec{Names: []*ast.Ident{ident(name)}, Type: typ}
	if value != nil {
		spec.Values = []ast.Expr{value}
	}
	return &ast.DeclStmt{Decl: &ast.GenDecl{Tok: token.VAR, Specs: []ast.Spec{spec}}}
}

func constDecl(name string, value ast.Expr) ast.Stmt {
	spec := &ast.ValueSpec{Names: []*ast.Ident{ident(name)}, Values: []ast.Expr{value}}
	return &ast.DeclStmt{Decl: &ast.GenDecl{Tok: token.CONST, Specs: []ast.Spec{spec}}}
}

// emptyInterface is any. A positionless interface{} prints its braces on
// separate lines.
func emptyInterface() ast.Expr {
	return ident("any")
}

// isEmptyInterface reports whether typ is any or interface{}.
func isEmptyInterface(typ ast.Expr) bool {
	switch t := typ.(type) {
	case *ast.Ident:
		return t.Name == "any"
	case *ast.InterfaceType:
		return t.Methods == nil || len(t.Methods.List) == 0
	}
	return false
}

// zeroValue is *new(T), the zero value of any type T. Without a type it is nil.
func zeroValue(typ ast.Expr) ast.Expr {
	if typ == nil {
		return ident("nil")
	}
	return &ast.StarExpr{X: call(ident("new"), cloneNode(typ))}
}

// elemType is the element type of a variadic parameter type, or typ.
func elemType(typ ast.Expr) ast.Expr {
	if e, ok := typ.(*ast.Ellipsis); ok {
		return e.Elt
	}
	return typ
}

func funcLit(params *ast.FieldList, body ...ast.Stmt) *ast.FuncLit {
	if params == nil {
		params = &ast.FieldList{}
	}
	return &ast.FuncLit{
		Type: &ast.FuncType{Params: params},
		Body: &ast.BlockStmt{List: body},
	}
}

// connectionExpr is __connections["id"], asserted to typ when typ is known.
func connectionExpr(id string, typ ast.Expr) ast.Expr {
	var e ast.Expr = &ast.IndexExpr{X: ident(connectionsVar), Index: strLit(id)}
	if typ != nil && !isEmptyInterface(typ) {
		e = &ast.TypeAssertExpr{X: e, Type: cloneNode(typ)}
	}
	return e
}

var (
	posType     = reflect.TypeOf(token.NoPos)
	objType     = reflect.TypeOf((*ast.Object)(nil))
	scopeType   = reflect.TypeOf((*ast.Scope)(nil))
	callType    = reflect.TypeOf(ast.CallExpr{})
	genDeclType = reflect.TypeOf(ast.GenDecl{})
)

// cloneNode deep-copies n with every position cleared.
//
// Inserted code must not share nodes with the original tree (the location
// index would see them twice) and must not carry positions from elsewhere
// (the printer would break lines at them). Positions whose validity carries
// meaning (the ellipsis of f(xs...), the parens of a grouped declaration)
// become token.Pos(1).
func cloneNode[T ast.Node](n T) T {
	v := reflect.ValueOf(n)
	if !v.IsValid() || (v.Kind() == reflect.Pointer && v.IsNil()) {
		return n
	}
	return cloneValue(v).Interface().(T)
}

func cloneValue(v reflect.Value) reflect.Value {
	switch v.Kind() {
	case reflect.Pointer:
		if v.IsNil() || v.Type() == objType || v.Type() == scopeType {
			return reflect.Zero(v.Type())
		}
		out := reflect.New(v.Type().Elem())
		out.Elem().Set(cloneValue(v.Elem()))
		return out
	case reflect.Interface:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.New(v.Type()).Elem()
		out.Set(cloneValue(v.Elem()))
		return out
	case reflect.Slice:
		if v.IsNil() {
			return reflect.Zero(v.Type())
		}
		out := reflect.MakeSlice(v.Type(), v.Len(), v.Len())
		for i := 0; i < v.Len(); i++ {
			out.Index(i).Set(cloneValue(v.Index(i)))
		}
		return out
	case reflect.Struct:
		out := reflect.New(v.Type()).Elem()
		for i := 0; i < v.NumField(); i++ {
			f := out.Field(i)
			if !f.CanSet() {
				continue
			}
			if v.Field(i).Type() == posType {
				if markerPos(v.Type(), v.Type().Field(i).Name) && token.Pos(v.Field(i).Int()).IsValid() {
					f.SetInt(1)
				}
				continue
			}
			f.Set(cloneValue(v.Field(i)))
		}
		return out
	}
	return v
}

func markerPos(t reflect.Type, field string) bool {
	return (t == callType && field == "Ellipsis") || (t == genDeclType && field == "Lparen")
}
