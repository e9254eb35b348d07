package snapshot

import (
	"image"
	"image/color"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type inner struct {
	Values []int
}

type outer struct {
	Name     string
	Inner    *inner
	Tags     map[string]int
	Callback func()
	hidden   int
}

type node struct {
	Value int
	Next  *node
}

type canvas struct{ pixels int }

func (c canvas) Snapshot() any { return map[string]int{"pixels": c.pixels} }

// TestCopyIsDeep verifies that mutating the original leaves the copy intact.
func TestCopyIsDeep(t *testing.T) {
	orig := &outer{
		Name:   "a",
		Inner:  &inner{Values: []int{1, 2}},
		Tags:   map[string]int{"x": 1},
		hidden: 7,
	}

	cp, ok := Copy(orig).(*outer)
	require.True(t, ok)

	orig.Name = "b"
	orig.Inner.Values[0] = 99
	orig.Tags["x"] = 42

	assert.Equal(t, "a", cp.Name)
	assert.Equal(t, []int{1, 2}, cp.Inner.Values)
	assert.Equal(t, 1, cp.Tags["x"])
	assert.Equal(t, 7, cp.hidden)
	assert.NotSame(t, orig, cp)
}

// TestCopyDropsFunctions verifies that function values never survive a copy.
func TestCopyDropsFunctions(t *testing.T) {
	cp := Copy(outer{Callback: func() {}}).(outer)
	assert.Nil(t, cp.Callback)

	assert.Nil(t, Copy(func() int { return 1 }))
}

// TestCopyCycle verifies that cyclic structures terminate and keep their shape.
func TestCopyCycle(t *testing.T) {
	a := &node{Value: 1}
	b := &node{Value: 2, Next: a}
	a.Next = b

	cp := Copy(a).(*node)

	assert.Equal(t, 1, cp.Value)
	assert.Equal(t, 2, cp.Next.Value)
	assert.Same(t, cp, cp.Next.Next)
	assert.NotSame(t, a, cp)
}

// TestCopySnapshotter verifies the domain snapshot hook.
func TestCopySnapshotter(t *testing.T) {
	got := Copy(canvas{pixels: 3})
	assert.Equal(t, map[string]int{"pixels": 3}, got)
}

// TestCopyImage verifies that images are rasterized instead of aliased.
func TestCopyImage(t *testing.T) {
	src := image.NewGray(image.Rect(0, 0, 2, 2))
	src.SetGray(1, 1, color.Gray{Y: 200})

	cp, ok := Copy(src).(*image.RGBA)
	require.True(t, ok)

	src.SetGray(1, 1, color.Gray{Y: 0})
	r, _, _, _ := cp.At(1, 1).RGBA()
	assert.NotZero(t, r)
	assert.Equal(t, src.Bounds(), cp.Bounds())
}

// TestTypeName covers named, pointer and unnamed types.
func TestTypeName(t *testing.T) {
	tests := []struct {
		value any
		want  string
	}{
		{nil, "nil"},
		{3, "int"},
		{"s", "string"},
		{&node{}, "node"},
		{node{}, "node"},
		{[]int{1}, "slice"},
		{map[string]int{}, "map"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, TypeName(tt.value), "%#v", tt.value)
	}
}

// TestPlainAndFormat verifies the encoder-neutral form and its rendering.
func TestPlainAndFormat(t *testing.T) {
	v := &outer{
		Name:  "a",
		Inner: &inner{Values: []int{1, 2}},
		Tags:  map[string]int{"y": 2, "x": 1},
	}

	plain, ok := Plain(v).(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "a", plain["Name"])
	assert.NotContains(t, plain, "hidden")
	assert.Nil(t, plain["Callback"])

	assert.Equal(t, `{Callback: nil, Inner: {Values: [1 2]}, Name: "a", Tags: {x: 1, y: 2}}`, Format(v))
	assert.Equal(t, "3", Format(3))
	assert.Equal(t, "nil", Format(nil))
}

// TestPlainCycle verifies that cycles are cut.
func TestPlainCycle(t *testing.T) {
	a := &node{Value: 1}
	a.Next = a

	plain := Plain(a).(map[string]any)
	assert.Equal(t, "<cycle>", plain["Next"])
}
