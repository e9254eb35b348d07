// Package instrument - Markers.
//
// Markers are the editor's requests against one program snapshot: observe a
// node (probe), run a function with arguments (example), construct a value of
// a type (instance), or substitute an expression (replacement).
//
// The YAML shape is the session file format used by the CLI:
//
//	probes:
//	  - location: "5:8-5:9"
//	examples:
//	  - id: ex1
//	    location: "3:5-3:11"
//	    values: ["3"]
//	    prescript: "fmt.Println(x)"
//	instances:
//	  - id: p1
//	    location: "1:5-1:10"
//	    values: ["1", {connection: c1}]
//	replacements:
//	  - location: "6:7-6:8"
//	    value: "42"
package instrument

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// Markers is the full marker set of one evaluation cycle.
type Markers struct {
	Probes       []Probe       `yaml:"probes,omitempty"`
	Examples     []Example     `yaml:"examples,omitempty"`
	Instances    []Instance    `yaml:"instances,omitempty"`
	Replacements []Replacement `yaml:"replacements,omitempty"`
}

// Len returns the number of markers.
func (m *Markers) Len() int {
	return len(m.Probes) + len(m.Examples) + len(m.Instances) + len(m.Replacements)
}

// Probe requests observation of the node at Location.
type Probe struct {
	Location string `yaml:"location"`
}

// Value is one user-supplied value: an expression in source form, or a
// reference to a connection supplied by the host at run time.
//
// In YAML a plain scalar is an expression; a mapping may name a connection:
//
//	values: ["3", {connection: db}]
type Value struct {
	Text       string `yaml:"value,omitempty"`
	Connection string `yaml:"connection,omitempty"`
}

// IsConnection reports whether v refers to a connection.
func (v Value) IsConnection() bool {
	return v.Connection != ""
}

// UnmarshalYAML accepts the scalar shorthand.
func (v *Value) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		v.Text = node.Value
		v.Connection = ""
		return nil
	}
	type plain Value
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("failed to decode value: %w", err)
	}
	*v = Value(p)
	return nil
}

// InstanceRef selects the receiver of a method example: an instance id, a
// connection, or nothing ("" or "0") for the zero value.
type InstanceRef struct {
	ID         string `yaml:"id,omitempty"`
	Connection string `yaml:"connection,omitempty"`
}

// IsNull reports whether r selects the zero value.
func (r InstanceRef) IsNull() bool {
	return r.Connection == "" && (r.ID == "" || r.ID == NullInstanceID)
}

// UnmarshalYAML accepts the scalar shorthand `instance: p1`.
func (r *InstanceRef) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind == yaml.ScalarNode {
		r.ID = node.Value
		r.Connection = ""
		return nil
	}
	type plain InstanceRef
	var p plain
	if err := node.Decode(&p); err != nil {
		return fmt.Errorf("failed to decode instance reference: %w", err)
	}
	*r = InstanceRef(p)
	return nil
}

// NullInstanceID selects the zero-value receiver.
const NullInstanceID = "0"

// Example runs the function declared at Location with Values as arguments.
type Example struct {
	ID         string      `yaml:"id"`
	Location   string      `yaml:"location"`
	Instance   InstanceRef `yaml:"instance,omitempty"`
	Values     []Value     `yaml:"values,omitempty"`
	Prescript  string      `yaml:"prescript,omitempty"`
	Postscript string      `yaml:"postscript,omitempty"`

	// Enabled defaults to true when absent.
	Enabled *bool `yaml:"enabled,omitempty"`
}

// IsEnabled reports whether the example takes part in the run.
func (e *Example) IsEnabled() bool {
	return e.Enabled == nil || *e.Enabled
}

// Instance constructs a value of the type declared at Location.
type Instance struct {
	ID       string  `yaml:"id"`
	Location string  `yaml:"location"`
	Values   []Value `yaml:"values,omitempty"`
}

// Replacement substitutes the expression at Location with Value.
type Replacement struct {
	Location string `yaml:"location"`
	Value    Value  `yaml:"value"`
}

// Context is the global prescript and postscript of the program block.
type Context struct {
	Prescript  string `yaml:"prescript,omitempty"`
	Postscript string `yaml:"postscript,omitempty"`
}

// CoalescingStats reports how many markers were merged away.
//
// Example Output:
//
//	Markers: 12 total, 3 coalesced
type CoalescingStats struct {
	TotalMarkers     int // Markers received
	CoalescedMarkers int // Duplicates dropped
}

// coalesceMarkers drops duplicate markers.
//
// Rules:
//  1. Probes with the same location key collapse into one (first wins)
//  2. Examples and instances with the same id: the last one wins
//  3. Replacements with the same location key: the last one wins
//
// Order among survivors is preserved. Probes resolving to the same node
// through different keys are merged later, after resolution.
func coalesceMarkers(m Markers) (Markers, CoalescingStats) {
	stats := CoalescingStats{TotalMarkers: m.Len()}
	var out Markers

	seen := make(map[string]bool, len(m.Probes))
	for _, p := range m.Probes {
		if seen[p.Location] {
			continue
		}
		seen[p.Location] = true
		out.Probes = append(out.Probes, p)
	}

	out.Examples = lastWins(m.Examples, func(e Example) string { return e.ID })
	out.Instances = lastWins(m.Instances, func(i Instance) string { return i.ID })
	out.Replacements = lastWins(m.Replacements, func(r Replacement) string { return r.Location })

	stats.CoalescedMarkers = stats.TotalMarkers - out.Len()
	return out, stats
}

// lastWins keeps, for every key, the last element carrying it, at the
// position of its first occurrence.
func lastWins[T any](items []T, key func(T) string) []T {
	if len(items) == 0 {
		return nil
	}
	pos := make(map[string]int, len(items))
	var out []T
	for _, it := range items {
		k := key(it)
		if i, ok := pos[k]; ok {
			out[i] = it
			continue
		}
		pos[k] = len(out)
		out = append(out, it)
	}
	return out
}
