package identity

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct{ X, Y int }

// TestTokenSameReference verifies that one reference always yields one token.
func TestTokenSameReference(t *testing.T) {
	tbl := NewTable()
	p := &point{X: 1}

	a, ok := tbl.Token(p)
	require.True(t, ok)
	b, ok := tbl.Token(p)
	require.True(t, ok)

	assert.Equal(t, a, b)
	assert.Equal(t, 1, tbl.Len())
}

// TestTokenDistinctReferencesEqualContents verifies that equal contents do
// not imply equal identity.
func TestTokenDistinctReferencesEqualContents(t *testing.T) {
	tbl := NewTable()

	a, _ := tbl.Token(&point{X: 1, Y: 2})
	b, _ := tbl.Token(&point{X: 1, Y: 2})

	assert.NotEqual(t, a, b)
}

// TestTokenReferenceKinds covers maps, slices and channels.
func TestTokenReferenceKinds(t *testing.T) {
	tbl := NewTable()
	m := map[string]int{"a": 1}
	s := []int{1, 2, 3}
	ch := make(chan int)

	for _, v := range []any{m, s, ch} {
		first, ok := tbl.Token(v)
		require.True(t, ok, "%T should be a reference", v)
		again, _ := tbl.Token(v)
		assert.Equal(t, first, again)
	}

	// A reslice is a different header over the same array.
	sub, _ := tbl.Token(s[:2])
	whole, _ := tbl.Token(s)
	assert.NotEqual(t, sub, whole)
}

// TestTokenNonReference verifies that plain values are never labelled.
func TestTokenNonReference(t *testing.T) {
	tbl := NewTable()

	for _, v := range []any{nil, 42, "hello", point{X: 1}, (*point)(nil), func() {}} {
		_, ok := tbl.Token(v)
		assert.False(t, ok, "%T must not get a token", v)
	}
	assert.Zero(t, tbl.Len())
}

// TestLookupDoesNotAssign verifies the read-only path.
func TestLookupDoesNotAssign(t *testing.T) {
	tbl := NewTable()
	p := &point{}

	_, ok := tbl.Lookup(p)
	assert.False(t, ok)

	want, _ := tbl.Token(p)
	got, ok := tbl.Lookup(p)
	assert.True(t, ok)
	assert.Equal(t, want, got)
}

// TestReset verifies that tokens restart after Reset.
func TestReset(t *testing.T) {
	tbl := NewTable()
	first, _ := tbl.Token(&point{})
	tbl.Token(&point{})

	tbl.Reset()

	assert.Zero(t, tbl.Len())
	again, _ := tbl.Token(&point{})
	assert.Equal(t, first, again)
}

// TestSymbolsNeverRepeat walks past the end of the symbol list.
func TestSymbolsNeverRepeat(t *testing.T) {
	s := NewSymbols()
	seen := make(map[string]bool)

	for i := 0; i < 3*len(animals); i++ {
		tok := s.Next()
		require.False(t, seen[tok], "token %q repeated at %d", tok, i)
		seen[tok] = true
	}
	assert.Equal(t, "🐶", animals[0])
}

// TestTokenFieldAddress verifies that a pointer to a struct and a pointer to
// its first field are different references.
func TestTokenFieldAddress(t *testing.T) {
	tbl := NewTable()
	p := &point{X: 1, Y: 2}

	a, ok := tbl.Token(p)
	require.True(t, ok)
	b, ok := tbl.Token(&p.X)
	require.True(t, ok)

	assert.NotEqual(t, a, b)
	assert.Equal(t, 2, tbl.Len())
}
