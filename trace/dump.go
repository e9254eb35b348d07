package trace

import (
	"fmt"
	"io"
	"sort"

	"github.com/vmihailenco/msgpack/v5"

	"github.com/kolkov/babylon/internal/trace/snapshot"
)

// Dump is a serializable copy of a tracker's state, for rendering
// collaborators that live outside the process.
type Dump struct {
	Evaluation string            `json:"evaluation,omitempty" msgpack:"evaluation,omitempty"`
	Examples   []string          `json:"examples" msgpack:"examples"`
	Records    []DumpRecord      `json:"records" msgpack:"records"`
	Parents    map[int]int       `json:"parents,omitempty" msgpack:"parents,omitempty"`
	Executed   []int             `json:"executed" msgpack:"executed"`
	Errors     map[string]string `json:"errors,omitempty" msgpack:"errors,omitempty"`
}

// DumpRecord is one (node, example, run) record.
type DumpRecord struct {
	Node    int        `json:"node" msgpack:"node"`
	Example string     `json:"example" msgpack:"example"`
	Run     int        `json:"run" msgpack:"run"`
	Before  *DumpValue `json:"before,omitempty" msgpack:"before,omitempty"`
	After   *DumpValue `json:"after,omitempty" msgpack:"after,omitempty"`
}

// DumpValue is a snapshot reduced to encoder-neutral data.
type DumpValue struct {
	Type     string `json:"type" msgpack:"type"`
	Name     string `json:"name" msgpack:"name"`
	Identity string `json:"identity,omitempty" msgpack:"identity,omitempty"`
	Text     string `json:"text" msgpack:"text"`
	Value    any    `json:"value" msgpack:"value"`
}

// Dump captures the tracker's current state. Records are ordered by node,
// example and run.
func (t *Tracker) Dump() *Dump {
	t.mu.Lock()
	defer t.mu.Unlock()

	d := &Dump{
		Parents:  make(map[int]int, len(t.parents)),
		Executed: sortedKeys(t.executed),
		Errors:   make(map[string]string, len(t.errors)),
	}
	for id := range t.examples {
		d.Examples = append(d.Examples, id)
	}
	sort.Strings(d.Examples)
	for k, v := range t.parents {
		d.Parents[k] = v
	}
	for k, v := range t.errors {
		d.Errors[k] = v
	}

	for _, node := range sortedKeys(t.records) {
		byExample := t.records[node]
		examples := make([]string, 0, len(byExample))
		for ex := range byExample {
			examples = append(examples, ex)
		}
		sort.Strings(examples)
		for _, ex := range examples {
			for _, run := range sortedKeys(byExample[ex]) {
				rec := byExample[ex][run]
				d.Records = append(d.Records, DumpRecord{
					Node:    node,
					Example: ex,
					Run:     run,
					Before:  dumpValue(rec.Before),
					After:   dumpValue(rec.After),
				})
			}
		}
	}
	return d
}

func dumpValue(s *Snapshot) *DumpValue {
	if s == nil {
		return nil
	}
	return &DumpValue{
		Type:     s.Type,
		Name:     s.Name,
		Identity: s.Identity,
		Text:     snapshot.Format(s.Value),
		Value:    snapshot.Plain(s.Value),
	}
}

// WriteDump encodes d to w as msgpack.
func WriteDump(w io.Writer, d *Dump) error {
	if err := msgpack.NewEncoder(w).Encode(d); err != nil {
		return fmt.Errorf("failed to encode trace dump: %w", err)
	}
	return nil
}

// ReadDump decodes a msgpack dump written by WriteDump.
func ReadDump(r io.Reader) (*Dump, error) {
	var d Dump
	if err := msgpack.NewDecoder(r).Decode(&d); err != nil {
		return nil, fmt.Errorf("failed to decode trace dump: %w", err)
	}
	return &d, nil
}
