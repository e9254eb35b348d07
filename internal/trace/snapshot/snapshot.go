// Package snapshot takes deep copies of values observed by the tracker and
// renders them into display and serializable forms.
//
// A snapshot must not change when the program keeps mutating the observed
// value, so Copy duplicates pointers, slices, maps, arrays and exported struct
// fields. Function values are dropped. Values that cannot be copied
// structurally get a domain snapshot: images are rasterized into an
// *image.RGBA, and any type may implement Snapshotter.
package snapshot

import (
	"fmt"
	"image"
	"image/draw"
	"reflect"
	"sort"
	"strings"
)

// maxDepth bounds recursion through deeply nested values.
const maxDepth = 64

// Snapshotter is implemented by values that know how to capture themselves.
type Snapshotter interface {
	Snapshot() any
}

// Copy returns a deep copy of v.
//
// Rules:
//   - nil and function values copy to nil
//   - Snapshotter values copy to the result of Snapshot()
//   - image.Image values copy to a fresh *image.RGBA of the same bounds
//   - pointers, slices, maps, arrays and interfaces are duplicated recursively,
//     preserving sharing and cycles inside the copied graph
//   - struct values are duplicated; exported fields are copied deeply,
//     unexported fields are kept as a shallow copy
//   - channels and unsafe pointers are kept as-is
func Copy(v any) any {
	if v == nil {
		return nil
	}
	if s, ok := v.(Snapshotter); ok {
		return s.Snapshot()
	}
	if img, ok := v.(image.Image); ok {
		return rasterize(img)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Func {
		return nil
	}
	c := &copier{seen: make(map[seenKey]reflect.Value)}
	out := c.copy(rv, 0)
	if !out.IsValid() || !out.CanInterface() {
		return v
	}
	return out.Interface()
}

func rasterize(img image.Image) *image.RGBA {
	b := img.Bounds()
	dst := image.NewRGBA(b)
	draw.Draw(dst, b, img, b.Min, draw.Src)
	return dst
}

type seenKey struct {
	kind reflect.Kind
	ptr  uintptr
	len  int
}

type copier struct {
	seen map[seenKey]reflect.Value
}

func (c *copier) copy(v reflect.Value, depth int) reflect.Value {
	if !v.IsValid() || !v.CanInterface() || depth > maxDepth {
		return v
	}
	t := v.Type()

	switch v.Kind() {
	case reflect.Func:
		return reflect.Zero(t)

	case reflect.Pointer:
		if v.IsNil() {
			return v
		}
		key := seenKey{kind: reflect.Pointer, ptr: v.Pointer()}
		if done, ok := c.seen[key]; ok {
			return done
		}
		out := reflect.New(t.Elem())
		c.seen[key] = out
		if elem := c.copy(v.Elem(), depth+1); elem.IsValid() {
			out.Elem().Set(elem)
		}
		return out

	case reflect.Interface:
		if v.IsNil() {
			return v
		}
		out := reflect.New(t).Elem()
		if inner := c.copy(v.Elem(), depth+1); inner.IsValid() {
			out.Set(inner)
		}
		return out

	case reflect.Struct:
		out := reflect.New(t).Elem()
		out.Set(v)
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			if f := c.copy(v.Field(i), depth+1); f.IsValid() {
				out.Field(i).Set(f)
			}
		}
		return out

	case reflect.Slice:
		if v.IsNil() {
			return v
		}
		key := seenKey{kind: reflect.Slice, ptr: v.Pointer(), len: v.Len()}
		if done, ok := c.seen[key]; ok {
			return done
		}
		out := reflect.MakeSlice(t, v.Len(), v.Len())
		c.seen[key] = out
		for i := 0; i < v.Len(); i++ {
			if e := c.copy(v.Index(i), depth+1); e.IsValid() {
				out.Index(i).Set(e)
			}
		}
		return out

	case reflect.Array:
		out := reflect.New(t).Elem()
		for i := 0; i < v.Len(); i++ {
			if e := c.copy(v.Index(i), depth+1); e.IsValid() {
				out.Index(i).Set(e)
			}
		}
		return out

	case reflect.Map:
		if v.IsNil() {
			return v
		}
		key := seenKey{kind: reflect.Map, ptr: v.Pointer()}
		if done, ok := c.seen[key]; ok {
			return done
		}
		out := reflect.MakeMapWithSize(t, v.Len())
		c.seen[key] = out
		iter := v.MapRange()
		for iter.Next() {
			out.SetMapIndex(c.copy(iter.Key(), depth+1), c.copy(iter.Value(), depth+1))
		}
		return out

	default:
		return v
	}
}

// TypeName returns the display type of v: the name of its named type after
// pointer dereference, or the kind for unnamed types ("slice", "map", ...).
func TypeName(v any) string {
	if v == nil {
		return "nil"
	}
	t := reflect.TypeOf(v)
	for t.Kind() == reflect.Pointer {
		t = t.Elem()
	}
	if name := t.Name(); name != "" {
		return name
	}
	return t.Kind().String()
}

// Plain converts v into data made only of nil, booleans, numbers, strings,
// []any and map[string]any, which every encoder accepts.
//
// Pointers are dereferenced, structs become maps of their exported fields,
// map keys are formatted with fmt, and functions and channels become nil.
// Cycles are cut with the string "<cycle>".
func Plain(v any) any {
	p := &plainer{active: make(map[uintptr]bool)}
	return p.plain(reflect.ValueOf(v), 0)
}

type plainer struct {
	active map[uintptr]bool
}

func (p *plainer) plain(v reflect.Value, depth int) any {
	if !v.IsValid() || depth > maxDepth {
		return nil
	}
	switch v.Kind() {
	case reflect.Bool:
		return v.Bool()
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return v.Int()
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
		return v.Uint()
	case reflect.Float32, reflect.Float64:
		return v.Float()
	case reflect.Complex64, reflect.Complex128:
		return fmt.Sprint(v.Complex())
	case reflect.String:
		return v.String()
	case reflect.Pointer, reflect.Interface:
		if v.IsNil() {
			return nil
		}
		if v.Kind() == reflect.Pointer {
			if p.active[v.Pointer()] {
				return "<cycle>"
			}
			p.active[v.Pointer()] = true
			defer delete(p.active, v.Pointer())
		}
		return p.plain(v.Elem(), depth+1)
	case reflect.Slice, reflect.Array:
		if v.Kind() == reflect.Slice && v.IsNil() {
			return nil
		}
		out := make([]any, v.Len())
		for i := range out {
			out[i] = p.plain(v.Index(i), depth+1)
		}
		return out
	case reflect.Map:
		if v.IsNil() {
			return nil
		}
		out := make(map[string]any, v.Len())
		iter := v.MapRange()
		for iter.Next() {
			out[fmt.Sprint(p.plain(iter.Key(), depth+1))] = p.plain(iter.Value(), depth+1)
		}
		return out
	case reflect.Struct:
		t := v.Type()
		out := make(map[string]any, t.NumField())
		for i := 0; i < t.NumField(); i++ {
			if !t.Field(i).IsExported() {
				continue
			}
			out[t.Field(i).Name] = p.plain(v.Field(i), depth+1)
		}
		return out
	default:
		return nil
	}
}

// Format renders v for inline display, e.g. `{X: 1, Y: 2}` or `[1 2 3]`.
//
// Maps are printed with sorted keys so output is stable.
func Format(v any) string {
	var b strings.Builder
	format(&b, Plain(v))
	return b.String()
}

func format(b *strings.Builder, v any) {
	switch x := v.(type) {
	case nil:
		b.WriteString("nil")
	case string:
		fmt.Fprintf(b, "%q", x)
	case []any:
		b.WriteByte('[')
		for i, e := range x {
			if i > 0 {
				b.WriteByte(' ')
			}
			format(b, e)
		}
		b.WriteByte(']')
	case map[string]any:
		keys := make([]string, 0, len(x))
		for k := range x {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(k)
			b.WriteString(": ")
			format(b, x[k])
		}
		b.WriteByte('}')
	default:
		fmt.Fprint(b, x)
	}
}
