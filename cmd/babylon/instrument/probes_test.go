package instrument

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// TestProbe_Parameter checks that a parameter is observed once on entry.
func TestProbe_Parameter(t *testing.T) {
	res := instrumentOK(t, squareSrc, Markers{Probes: []Probe{{Location: "3:12-3:13"}}}, Options{})
	id := nodeIDOf(t, res, "3:12-3:13")

	assertOrder(t, res.Code,
		"func square(x int) int {",
		"_ = __blockCount",
		probeCall(id, "x", "x", "after"),
		"return x * x",
	)
	require.Len(t, res.Probes, 1)
	assert.Equal(t, ProbeSite{NodeID: id, Location: "3:12-3:13", Name: "x", Kind: KindIdent}, res.Probes[0])
}

const placementSrc = `package main

func f(a int) int {
	b := a + 1
	c := b * 2
	if d := c - 1; d > 0 {
		c = d
	}
	for i := 0; i < b; i++ {
		c += i
	}
	switch c {
	case 1:
		c = 2
		fallthrough
	default:
		c = 3
	}
	return c
}
`

func TestProbe_Placement(t *testing.T) {
	keys := map[string]string{
		"declared":  "5:1-5:2",   // c in c := b * 2
		"operand":   "5:6-5:7",   // b in c := b * 2
		"ifInit":    "6:9-6:10",  // c in the if init
		"ifCond":    "6:16-6:17", // d in the if condition, declared by the init
		"forCond":   "9:13-9:14", // i in the loop condition
		"switchTag": "12:8-12:9", // c in switch c
		"caseBody":  "14:2-14:3", // c in c = 2
	}
	var m Markers
	for _, k := range keys {
		m.Probes = append(m.Probes, Probe{Location: k})
	}
	res := instrumentOK(t, placementSrc, m, Options{})
	require.Empty(t, res.Problems)
	assert.Equal(t, len(keys), res.Stats.ProbesInserted)

	id := func(name string) int { return nodeIDOf(t, res, keys[name]) }

	t.Run("declared name is observed after the declaration", func(t *testing.T) {
		assertOrder(t, res.Code, "c := b * 2", probeCall(id("declared"), "c", "c", "after"))
	})
	t.Run("operand is observed around its statement", func(t *testing.T) {
		assertOrder(t, res.Code,
			probeCall(id("operand"), "b", "b", "before"),
			"c := b * 2",
			probeCall(id("operand"), "b", "b", "after"))
	})
	t.Run("if init operand is observed before the if", func(t *testing.T) {
		assertOrder(t, res.Code, probeCall(id("ifInit"), "c", "c", "after"), "if d := c - 1; d > 0 {")
	})
	t.Run("name declared by the if init is observed in its body", func(t *testing.T) {
		assertOrder(t, res.Code, "if d := c - 1; d > 0 {", probeCall(id("ifCond"), "d", "d", "after"), "c = d")
	})
	t.Run("loop header is observed at the start of every iteration", func(t *testing.T) {
		assertOrder(t, res.Code, "for i := 0; i < b; i++ {", probeCall(id("forCond"), "i", "i", "after"), "c += i")
	})
	t.Run("switch tag is observed before the switch", func(t *testing.T) {
		assertOrder(t, res.Code, probeCall(id("switchTag"), "c", "c", "after"), "switch c {")
	})
	t.Run("case body statements are observed in the clause block", func(t *testing.T) {
		assertOrder(t, res.Code,
			"case 1:",
			probeCall(id("caseBody"), "c", "c", "before"),
			"c = 2",
			probeCall(id("caseBody"), "c", "c", "after"),
			"fallthrough",
			"default:")
	})
}

func TestFinalPanicObservedBefore(t *testing.T) {
	src := `package main

func f(x int) int {
	if x > 0 {
		return x
	}
	panic(x)
}
`
	res := instrumentOK(t, src, Markers{Probes: []Probe{{Location: "7:7-7:8"}}}, Options{})
	require.Empty(t, res.Problems)

	id := nodeIDOf(t, res, "7:7-7:8")
	assertOrder(t, res.Code, probeCall(id, "x", "x", "before"), "panic(x)\n}")
	assert.NotContains(t, res.Code, probeCall(id, "x", "x", "after"))
}

func TestJumps(t *testing.T) {
	tests := []struct {
		stmt string
		want bool
	}{
		{"panic(x)", true},
		{"goto done", true},
		{"f(x)", false},
		{"break", false},
		{"x++", false},
	}
	for _, tt := range tests {
		stmts, err := parseStmtsFragment(tt.stmt)
		require.NoError(t, err)
		require.Len(t, stmts, 1)
		assert.Equal(t, tt.want, jumps(stmts[0]), tt.stmt)
	}
}

func TestProbe_SwitchHeaderDeclaration(t *testing.T) {
	src := `package main

func f(x int) {
	switch y := x * 2; {
	case y > 1:
	}
}
`
	// y is declared by the init and scoped to the switch.
	res := instrumentOK(t, src, Markers{Probes: []Probe{{Location: "4:8-4:9"}}}, Options{})
	require.Len(t, res.Problems, 1)
	assert.Contains(t, res.Problems[0].Error(), "switch header")
	assert.Zero(t, res.Stats.ProbesInserted)
}

func TestProbe_CaseClauseHeader(t *testing.T) {
	src := `package main

func f(x int) int {
	switch {
	case x > 1:
		return 1
	}
	return 0
}
`
	res := instrumentOK(t, src, Markers{Probes: []Probe{{Location: "5:6-5:7"}}}, Options{})
	require.Empty(t, res.Problems)
	id := nodeIDOf(t, res, "5:6-5:7")
	assertOrder(t, res.Code, "case x > 1:", probeCall(id, "x", "x", "after"), "return 1")
}

func TestProbe_RangeLoop(t *testing.T) {
	src := `package main

func f(xs []int) (sum int) {
	for _, x := range xs {
		sum += x
	}
	return
}
`
	res := instrumentOK(t, src, Markers{Probes: []Probe{{Location: "4:8-4:9"}}}, Options{})
	id := nodeIDOf(t, res, "4:8-4:9")
	assertOrder(t, res.Code, "for _, x := range xs {", "_ = __blockCount", probeCall(id, "x", "x", "after"), "sum += x")
}

func TestProbe_Selector(t *testing.T) {
	src := `package main

type Point struct {
	X int
}

func (p *Point) Inc() {
	p.X++
}
`
	res := instrumentOK(t, src, Markers{Probes: []Probe{{Location: "8:1-8:4"}}}, Options{})
	id := nodeIDOf(t, res, "8:1-8:4")
	assertOrder(t, res.Code,
		probeCall(id, "p.X", "p.X", "before"),
		"p.X++",
		probeCall(id, "p.X", "p.X", "after"))
	assert.Equal(t, KindMember, res.Probes[0].Kind)
}

func TestProbe_InsideReturn(t *testing.T) {
	res := instrumentOK(t, squareSrc, Markers{Probes: []Probe{{Location: "4:8-4:9"}}}, Options{})
	id := nodeIDOf(t, res, "4:8-4:9")
	assertOrder(t, res.Code, probeCall(id, "x", "x", "after"), "return x * x")
	assert.Zero(t, res.Stats.ReturnsRewritten)
}

func TestProbe_FuncLit(t *testing.T) {
	src := `package main

func f() func(int) int {
	return func(n int) int {
		m := n + 1
		return m
	}
}
`
	res := instrumentOK(t, src, Markers{Probes: []Probe{{Location: "4:13-4:14"}, {Location: "5:2-5:3"}}}, Options{})
	require.Empty(t, res.Problems)
	assertOrder(t, res.Code,
		"return func(n int) int {",
		probeCall(nodeIDOf(t, res, "4:13-4:14"), "n", "n", "after"),
		"m := n + 1",
		probeCall(nodeIDOf(t, res, "5:2-5:3"), "m", "m", "after"))
	assert.Equal(t, 2, res.Stats.BlocksTracked)
}

func TestProbe_OutsideFunction(t *testing.T) {
	src := `package main

var limit = 10
`
	res := instrumentOK(t, src, Markers{Probes: []Probe{{Location: "3:4-3:9"}}}, Options{})
	require.Len(t, res.Problems, 1)
	assert.Contains(t, res.Problems[0].Error(), "outside of a function body")
}

const returnSrc = `package main

func one() (n int, err error) {
	n = 1
	return
}

func two() (int, error) {
	return one()
}

func three(x int) (int, int) {
	return x, x + 1
}

func none() {
	return
}
`

func TestProbe_ReturnRewrite(t *testing.T) {
	res := instrumentOK(t, returnSrc, Markers{Probes: []Probe{
		{Location: "5:1-5:7"},
		{Location: "9:1-9:7"},
		{Location: "13:1-13:7"},
		{Location: "17:1-17:7"},
	}}, Options{})
	require.Empty(t, res.Problems)
	assert.Equal(t, 4, res.Stats.ProbesInserted)
	assert.Equal(t, 2, res.Stats.ReturnsRewritten)

	t.Run("bare return observes named results", func(t *testing.T) {
		id := nodeIDOf(t, res, "5:1-5:7")
		assertOrder(t, res.Code, "n = 1", probeCall(id, "[]any{n, err}", "return", "after"), "return\n")
	})

	t.Run("multi-value call is split into temporaries", func(t *testing.T) {
		id := nodeIDOf(t, res, "9:1-9:7")
		r0, r1 := fmt.Sprintf("__ret%d_0", id), fmt.Sprintf("__ret%d_1", id)
		assertOrder(t, res.Code,
			fmt.Sprintf("%s, %s := one()", r0, r1),
			probeCall(id, fmt.Sprintf("[]any{%s, %s}", r0, r1), "return", "after"),
			fmt.Sprintf("return %s, %s", r0, r1))
	})

	t.Run("each result gets a typed temporary", func(t *testing.T) {
		id := nodeIDOf(t, res, "13:1-13:7")
		r0, r1 := fmt.Sprintf("__ret%d_0", id), fmt.Sprintf("__ret%d_1", id)
		assertOrder(t, res.Code,
			fmt.Sprintf("var %s int = x", r0),
			fmt.Sprintf("var %s int = x + 1", r1),
			fmt.Sprintf("return %s, %s", r0, r1))
	})

	t.Run("no results observe nil", func(t *testing.T) {
		id := nodeIDOf(t, res, "17:1-17:7")
		assert.Contains(t, res.Code, probeCall(id, "nil", "return", "after"))
	})
}

func TestProbe_SingleReturn(t *testing.T) {
	res := instrumentOK(t, squareSrc, Markers{Probes: []Probe{{Location: "4:1-4:7"}}}, Options{})
	id := nodeIDOf(t, res, "4:1-4:7")
	tmp := fmt.Sprintf("__ret%d_0", id)
	assertOrder(t, res.Code,
		fmt.Sprintf("var %s int = x * x", tmp),
		probeCall(id, tmp, "return", "after"),
		"return "+tmp)
	assert.Equal(t, 1, res.Stats.ReturnsRewritten)
}
