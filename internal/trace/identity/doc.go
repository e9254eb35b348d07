// Package identity assigns identity tokens to reference values observed by
// the tracker.
//
// # Overview
//
// A probe that observes the same object twice must be able to say so.
// Tokens are never written onto the observed value. A side table maps the
// identity of a reference (its kind, address and, for slices, its header) to
// a token.
//
// Tokens are drawn from a fixed list of animal symbols. Once the list is
// exhausted, symbols repeat with a round suffix ("🐶", ..., "🐶2"), so two
// distinct references never share a token.
//
// # Components
//
// Table: the side table from reference identity to token.
//
// Symbols: the token generator.
//
// # Usage
//
//	tbl := identity.NewTable()
//	p := &Point{X: 1}
//	a, _ := tbl.Token(p) // "🐶"
//	b, _ := tbl.Token(p) // "🐶" again
//	c, _ := tbl.Token(&Point{X: 1}) // "🐺": equal contents, different reference
//
// # Lifetime
//
// The table retains every value it has labelled. An address cannot be reused
// by the garbage collector while its token is live, which keeps the mapping
// injective for the lifetime of one evaluation. Reset drops everything.
//
// # Thread Safety
//
// Table is NOT thread-safe. The tracker serializes access.
package identity
