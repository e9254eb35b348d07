package instrument

import (
	"go/ast"
)

// Kind is the closed set of node categories the classifier distinguishes.
type Kind int

const (
	// KindOther is any node the rewriter never targets.
	KindOther Kind = iota
	// KindIdent is a plain identifier.
	KindIdent
	// KindSelf is the receiver identifier of a method (declaration or use).
	KindSelf
	// KindMember is a selector expression x.f.
	KindMember
	// KindReturn is a return statement.
	KindReturn
	// KindFuncName is the name identifier of a function or method declaration.
	KindFuncName
	// KindTypeName is the name identifier of a type declaration.
	KindTypeName
	// KindLoop is a for or range statement.
	KindLoop
	// KindBlock is a statement block.
	KindBlock
)

var kindNames = [...]string{
	KindOther:    "other",
	KindIdent:    "ident",
	KindSelf:     "self",
	KindMember:   "member",
	KindReturn:   "return",
	KindFuncName: "func-name",
	KindTypeName: "type-name",
	KindLoop:     "loop",
	KindBlock:    "block",
}

func (k Kind) String() string {
	if k < 0 || int(k) >= len(kindNames) {
		return "unknown"
	}
	return kindNames[k]
}

// KindOf categorizes the last node of path.
func KindOf(path Path) Kind {
	switch n := path.Node().(type) {
	case *ast.Ident:
		switch p := path.Parent().(type) {
		case *ast.FuncDecl:
			if p.Name == n {
				return KindFuncName
			}
		case *ast.TypeSpec:
			if p.Name == n {
				return KindTypeName
			}
		}
		if receiverName(path) == n.Name {
			return KindSelf
		}
		return KindIdent
	case *ast.SelectorExpr:
		return KindMember
	case *ast.ReturnStmt:
		return KindReturn
	case *ast.ForStmt, *ast.RangeStmt:
		return KindLoop
	case *ast.BlockStmt:
		return KindBlock
	}
	return KindOther
}

// receiverName returns the receiver name of the method enclosing the last
// node of path, or "". Function literals inside a method see the receiver too,
// unless they shadow it with a parameter of the same name.
func receiverName(path Path) string {
	for i := len(path) - 1; i >= 0; i-- {
		switch fn := path[i].(type) {
		case *ast.FuncLit:
			if i == len(path)-1 {
				continue
			}
			name := ""
			if id, ok := path.Node().(*ast.Ident); ok {
				name = id.Name
			}
			if declaresParam(fn.Type, name) {
				return ""
			}
		case *ast.FuncDecl:
			if fn.Recv == nil || len(fn.Recv.List) == 0 || len(fn.Recv.List[0].Names) == 0 {
				return ""
			}
			return fn.Recv.List[0].Names[0].Name
		}
	}
	return ""
}

func declaresParam(ft *ast.FuncType, name string) bool {
	if name == "" || ft == nil {
		return false
	}
	for _, list := range []*ast.FieldList{ft.Params, ft.Results} {
		if list == nil {
			continue
		}
		for _, f := range list.List {
			for _, id := range f.Names {
				if id.Name == name {
					return true
				}
			}
		}
	}
	return false
}
