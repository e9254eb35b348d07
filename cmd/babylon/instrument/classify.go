// Package instrument - Node classification.
//
// The classifier decides which nodes a marker may target. It is a pure
// function of the node, its ancestry and the file's name tables.
package instrument

import "go/ast"

// Classifier answers marker eligibility questions against one Index.
type Classifier struct {
	idx *Index
}

// NewClassifier returns a classifier for the tree indexed by idx.
func NewClassifier(idx *Index) *Classifier {
	return &Classifier{idx: idx}
}

// Probeable reports whether the node at path can carry a probe.
//
// Eligible nodes are identifiers (including the receiver), selector
// expressions and return statements, except:
//   - the blank identifier and predeclared names
//   - names of imported packages and of types declared in the file
//   - labels and composite literal keys
//   - struct field and interface method names
//   - anything in a type position
//   - the selected name of a selector (x.f probes x.f, not f)
//   - function and type declaration names
//   - the callee of a call to a function declared in the file
//   - a package-qualified call target such as fmt.Println
func (c *Classifier) Probeable(path Path) bool {
	n := path.Node()
	if n == nil || c.idx.InTypePosition(n) {
		return false
	}

	switch KindOf(path) {
	case KindReturn:
		return true
	case KindIdent, KindSelf:
		return c.identProbeable(path, n.(*ast.Ident))
	case KindMember:
		sel := n.(*ast.SelectorExpr)
		if x, ok := sel.X.(*ast.Ident); ok && c.idx.IsImportName(x.Name) {
			if call, ok := path.Parent().(*ast.CallExpr); ok && call.Fun == sel {
				return false
			}
		}
		return true
	case KindFuncName, KindTypeName, KindLoop, KindBlock, KindOther:
		return false
	}
	return false
}

func (c *Classifier) identProbeable(path Path, id *ast.Ident) bool {
	if id.Name == "_" || isBuiltinIdent(id.Name) {
		return false
	}
	if c.idx.IsImportName(id.Name) || c.idx.IsTypeName(id.Name) {
		return false
	}

	switch p := path.Parent().(type) {
	case *ast.SelectorExpr:
		return p.X == id
	case *ast.LabeledStmt, *ast.BranchStmt:
		return false
	case *ast.KeyValueExpr:
		if p.Key == id {
			if _, ok := path.Up(2).(*ast.CompositeLit); ok {
				return false
			}
		}
	case *ast.ImportSpec, *ast.File:
		return false
	case *ast.Field:
		// Struct fields and interface methods are not values.
		switch path.Up(3).(type) {
		case *ast.StructType, *ast.InterfaceType:
			return false
		}
		for _, name := range p.Names {
			if name == id {
				return true
			}
		}
		return false
	case *ast.CallExpr:
		if p.Fun == id {
			if _, isFunc := c.idx.Func(id.Name); isFunc {
				// Calling a declared function: the callee is not a value.
				return false
			}
		}
	}

	return true
}

// ExampleEntry reports whether path names a function or method declaration,
// the only place an example marker may sit.
func (c *Classifier) ExampleEntry(path Path) bool {
	return KindOf(path) == KindFuncName
}

// InstanceEntry reports whether path names a type declaration.
func (c *Classifier) InstanceEntry(path Path) bool {
	return KindOf(path) == KindTypeName
}

// ReplacementTarget reports whether path is a variable initializer or the
// right-hand side of an assignment.
func (c *Classifier) ReplacementTarget(path Path) bool {
	n := path.Node()
	switch p := path.Parent().(type) {
	case *ast.ValueSpec:
		for _, v := range p.Values {
			if v == n {
				return true
			}
		}
	case *ast.AssignStmt:
		for _, v := range p.Rhs {
			if v == n {
				return true
			}
		}
	}
	return false
}

// SliderEntry reports whether path is a loop or a function parameter, the
// nodes an editor offers an iteration slider for.
func (c *Classifier) SliderEntry(path Path) bool {
	if KindOf(path) == KindLoop {
		return true
	}
	id, ok := path.Node().(*ast.Ident)
	if !ok {
		return false
	}
	f, ok := path.Parent().(*ast.Field)
	if !ok {
		return false
	}
	if _, ok := path.Up(3).(*ast.FuncType); !ok {
		return false
	}
	for _, name := range f.Names {
		if name == id {
			return true
		}
	}
	return false
}

// isBuiltinIdent checks if an identifier is a Go built-in.
//
// Built-ins are predeclared and cannot be observed as values:
//   - constants: nil, true, false, iota
//   - functions: make, new, len, append, ...
//   - types: int, string, error, any, ...
func isBuiltinIdent(name string) bool {
	return builtins[name]
}

var builtins = map[string]bool{
	// Built-in constants
	"nil":   true,
	"true":  true,
	"false": true,
	"iota":  true,
	// Built-in functions
	"make":    true,
	"new":     true,
	"len":     true,
	"cap":     true,
	"append":  true,
	"copy":    true,
	"delete":  true,
	"close":   true,
	"panic":   true,
	"recover": true,
	"print":   true,
	"println": true,
	"complex": true,
	"real":    true,
	"imag":    true,
	"clear":   true,
	"min":     true,
	"max":     true,
	// Built-in types
	"any":        true,
	"bool":       true,
	"byte":       true,
	"comparable": true,
	"complex64":  true,
	"complex128": true,
	"error":      true,
	"float32":    true,
	"float64":    true,
	"int":        true,
	"int8":       true,
	"int16":      true,
	"int32":      true,
	"int64":      true,
	"rune":       true,
	"string":     true,
	"uint":       true,
	"uint8":      true,
	"uint16":     true,
	"uint32":     true,
	"uint64":     true,
	"uintptr":    true,
}
