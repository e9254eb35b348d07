// Package instrument - Instance generation.
//
// An instance marker on a type declaration describes how to construct a
// value of that type: through the constructor NewT when the file declares
// one, otherwise through a composite literal (struct types) or a conversion
// (other named types). Example invocations reference instances by id as the
// receiver of a method.
package instrument

import (
	"fmt"
	"go/ast"
	"go/token"
)

// Param is one constructor parameter.
type Param struct {
	Name string
	Type ast.Expr
}

// ConstructorParams returns the parameters instance values bind to for the
// type typeName, in order: the parameters of NewT(...) if the file declares
// it, else the fields of the struct type, else the underlying type as a
// single unnamed parameter.
func ConstructorParams(idx *Index, typeName string) ([]Param, bool) {
	if ctor, _, ok := constructorOf(idx, typeName); ok {
		names, typs := flattenFields(ctor.Type.Params)
		params := make([]Param, len(names))
		for i := range names {
			params[i] = Param{Name: names[i], Type: typs[i]}
		}
		return params, true
	}

	ts, ok := idx.TypeSpec(typeName)
	if !ok {
		return nil, false
	}
	if st, ok := ts.Type.(*ast.StructType); ok {
		return structFields(st), true
	}
	return []Param{{Type: ts.Type}}, true
}

// constructorOf finds NewT returning T or *T.
func constructorOf(idx *Index, typeName string) (*ast.FuncDecl, bool, bool) {
	fd, ok := idx.Func("New" + typeName)
	if !ok || fd.Type.TypeParams != nil || fd.Type.Results == nil || len(fd.Type.Results.List) != 1 {
		return nil, false, false
	}
	res := fd.Type.Results.List[0]
	if len(res.Names) > 1 {
		return nil, false, false
	}
	switch t := res.Type.(type) {
	case *ast.Ident:
		return fd, false, t.Name == typeName
	case *ast.StarExpr:
		if id, ok := t.X.(*ast.Ident); ok && id.Name == typeName {
			return fd, true, true
		}
	}
	return nil, false, false
}

func structFields(st *ast.StructType) []Param {
	var params []Param
	for _, f := range st.Fields.List {
		if len(f.Names) == 0 {
			params = append(params, Param{Name: embeddedName(f.Type), Type: f.Type})
			continue
		}
		for _, n := range f.Names {
			params = append(params, Param{Name: n.Name, Type: f.Type})
		}
	}
	return params
}

func embeddedName(typ ast.Expr) string {
	switch t := typ.(type) {
	case *ast.Ident:
		return t.Name
	case *ast.StarExpr:
		return embeddedName(t.X)
	case *ast.SelectorExpr:
		return t.Sel.Name
	case *ast.IndexExpr:
		return embeddedName(t.X)
	case *ast.IndexListExpr:
		return embeddedName(t.X)
	}
	return ""
}

// instanceSpec is a generated instance: how to build a T from the marker's
// values, in either value or pointer shape.
type instanceSpec struct {
	id       string
	typeName string

	ctor        *ast.FuncDecl
	ctorPointer bool

	// fields is set for struct types built by a keyed literal.
	fields []Param
	args   []ast.Expr
}

// expr builds a fresh expression of type T (pointer false) or *T (pointer
// true).
func (s *instanceSpec) expr(pointer bool) ast.Expr {
	t := ident(s.typeName)
	args := cloneTemps(s.args)

	switch {
	case s.ctor != nil:
		c := call(ident(s.ctor.Name.Name), args...)
		switch {
		case s.ctorPointer == pointer:
			return c
		case s.ctorPointer:
			return &ast.StarExpr{X: c}
		default:
			return addressOf(c, t)
		}

	case s.fields != nil:
		elts := make([]ast.Expr, len(args))
		for i, a := range args {
			elts[i] = &ast.KeyValueExpr{Key: ident(s.fields[i].Name), Value: a}
		}
		lit := &ast.CompositeLit{Type: t, Elts: elts}
		if pointer {
			return &ast.UnaryExpr{Op: token.AND, X: lit}
		}
		return lit

	default:
		if len(args) == 0 {
			if pointer {
				return call(ident("new"), t)
			}
			return zeroValue(t)
		}
		conv := call(t, args[0])
		if pointer {
			return addressOf(conv, ident(s.typeName))
		}
		return conv
	}
}

// addressOf yields a pointer to a copy of e:
//
//	func() *T { v := e; return &v }()
func addressOf(e, typ ast.Expr) ast.Expr {
	lit := &ast.FuncLit{
		Type: &ast.FuncType{
			Params:  &ast.FieldList{},
			Results: &ast.FieldList{List: []*ast.Field{{Type: &ast.StarExpr{X: typ}}}},
		},
		Body: &ast.BlockStmt{List: []ast.Stmt{
			define([]ast.Expr{ident("v")}, e),
			&ast.ReturnStmt{Results: []ast.Expr{&ast.UnaryExpr{Op: token.AND, X: ident("v")}}},
		}},
	}
	return call(lit)
}

type resolvedInstance struct {
	marker Instance
	spec   *ast.TypeSpec
}

// generateInstances builds an instanceSpec per instance marker.
func (r *rewriter) generateInstances(markers []resolvedInstance) {
	r.instances = make(map[string]*instanceSpec, len(markers))
	for _, m := range markers {
		ts := m.spec
		if ts.TypeParams != nil {
			r.skip(r.errorAtWithSuggestion(ts.Name, m.marker.Location,
				fmt.Sprintf("cannot instantiate generic type %s", ts.Name.Name),
				"Declare a non-generic type for the example"))
			continue
		}

		spec := &instanceSpec{id: m.marker.ID, typeName: ts.Name.Name}
		var params []Param
		if ctor, ptr, ok := constructorOf(r.idx, ts.Name.Name); ok {
			spec.ctor, spec.ctorPointer = ctor, ptr
			params, _ = ConstructorParams(r.idx, ts.Name.Name)
		} else if st, ok := ts.Type.(*ast.StructType); ok {
			params = structFields(st)
			spec.fields = params
		} else {
			params = []Param{{Type: ts.Type}}
		}

		values := m.marker.Values
		if len(values) > len(params) {
			r.skip(r.errorAt(ts.Name, m.marker.Location,
				fmt.Sprintf("instance %s has %d values for %d parameters; extra values ignored",
					m.marker.ID, len(values), len(params))))
			values = values[:len(params)]
		}
		for i, v := range values {
			spec.args = append(spec.args, r.frags.value(m.marker.Location, "instance value", v, elemType(params[i].Type)))
		}
		if spec.ctor != nil {
			// A constructor call needs every non-variadic argument.
			for i := len(spec.args); i < len(params); i++ {
				if _, variadic := params[i].Type.(*ast.Ellipsis); variadic {
					break
				}
				spec.args = append(spec.args, zeroValue(params[i].Type))
			}
		}
		if spec.fields != nil {
			spec.fields = spec.fields[:len(spec.args)]
			if len(spec.fields) == 0 {
				spec.fields = []Param{}
			}
		}

		r.instances[m.marker.ID] = spec
		r.stats.InstancesGenerated++
	}
	r.flushFragments()
}
