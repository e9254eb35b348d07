package identity

import (
	"reflect"
	"strconv"
)

// Table is the side table mapping reference identities to tokens.
//
// Key: ref (type + address + slice header)
// Value: entry (token + the labelled value, kept alive)
//
// Thread Safety: NOT thread-safe.
type Table struct {
	tokens  map[ref]entry
	symbols *Symbols
}

// ref identifies a reference value without retaining it.
//
// A pointer to a struct and a pointer to its first field share an address,
// so the type is part of the key. Two slices are the same reference only if
// they share data pointer, length and capacity.
type ref struct {
	typ  reflect.Type
	ptr  uintptr
	len  int
	cap  int
}

type entry struct {
	token string
	keep  any
}

// NewTable creates an empty identity table.
func NewTable() *Table {
	return &Table{
		tokens:  make(map[ref]entry),
		symbols: NewSymbols(),
	}
}

// Token returns the identity token for v, assigning a fresh one on first
// observation.
//
// Returns:
//   - string: the token ("" for non-reference values)
//   - bool: false if v is not a reference value (or is a nil reference)
//
// Reference values are pointers, maps, slices, channels and unsafe pointers,
// also when wrapped in an interface. Functions are not labelled: closures of
// the same literal share a code pointer.
func (t *Table) Token(v any) (string, bool) {
	r, ok := refOf(v)
	if !ok {
		return "", false
	}
	if e, exists := t.tokens[r]; exists {
		return e.token, true
	}
	tok := t.symbols.Next()
	t.tokens[r] = entry{token: tok, keep: v}
	return tok, true
}

// Lookup returns the token previously assigned to v without assigning one.
func (t *Table) Lookup(v any) (string, bool) {
	r, ok := refOf(v)
	if !ok {
		return "", false
	}
	e, exists := t.tokens[r]
	return e.token, exists
}

// Len returns the number of labelled references.
func (t *Table) Len() int {
	return len(t.tokens)
}

// Reset forgets every token and restarts the symbol sequence.
func (t *Table) Reset() {
	t.tokens = make(map[ref]entry)
	t.symbols.Reset()
}

func refOf(v any) (ref, bool) {
	if v == nil {
		return ref{}, false
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Pointer, reflect.Map, reflect.Chan, reflect.UnsafePointer:
		if rv.IsNil() {
			return ref{}, false
		}
		return ref{typ: rv.Type(), ptr: rv.Pointer()}, true
	case reflect.Slice:
		if rv.IsNil() {
			return ref{}, false
		}
		return ref{typ: rv.Type(), ptr: rv.Pointer(), len: rv.Len(), cap: rv.Cap()}, true
	default:
		return ref{}, false
	}
}

// Symbols produces identity tokens.
type Symbols struct {
	index int
}

var animals = []string{
	"🐶", "🐺", "🐱", "🐭", "🐹", "🐰", "🐸", "🐯", "🐨", "🐻", "🐷", "🐽", "🐮", "🐗",
	"🐵", "🐒", "🐴", "🐑", "🐘", "🐼", "🐧", "🐦", "🐤", "🐥", "🐣", "🐔", "🐍", "🐢",
	"🐛", "🐝", "🐜", "🐞", "🐌", "🐙", "🐚", "🐠", "🐟", "🐬", "🐳", "🐋", "🐄", "🐏",
	"🐀", "🐃", "🐅", "🐇", "🐉", "🐎", "🐐", "🐓", "🐕", "🐖", "🐁", "🐂", "🐲", "🐡",
	"🐊",
}

// NewSymbols creates a generator starting at the first symbol.
func NewSymbols() *Symbols {
	return &Symbols{}
}

// Next returns the next token. After the first round every token carries a
// round number, so tokens never repeat.
func (s *Symbols) Next() string {
	sym := animals[s.index%len(animals)]
	round := s.index / len(animals)
	s.index++
	if round == 0 {
		return sym
	}
	return sym + strconv.Itoa(round+1)
}

// Reset restarts the sequence.
func (s *Symbols) Reset() {
	s.index = 0
}
