package trace

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/kolkov/babylon/internal/trace/identity"
	"github.com/kolkov/babylon/internal/trace/snapshot"
	"github.com/kolkov/babylon/internal/trace/timer"
)

// Probe keywords accepted by ID.
const (
	Before = "before"
	After  = "after"
)

// DefaultExampleID is the active example before any Example call.
const DefaultExampleID = "default"

// Tracker receives the calls of an instrumented program and accumulates the
// trace of one evaluation.
//
// Create one tracker per evaluation and pass it to the program explicitly;
// trackers share no state with each other.
type Tracker struct {
	mu sync.Mutex

	// records: node id → example id → run id → record.
	records map[int]map[string]map[int]*Record

	// parents: node id → iteration parent (enclosing block) id, last write wins.
	parents map[int]int

	// iterations: node id → example id → next iteration number.
	iterations map[int]map[string]int

	errors   map[string]string
	executed map[int]struct{}

	exampleID string
	examples  map[string]struct{}

	budget     time.Duration
	now        func() time.Time
	timer      *timer.Timer
	timedOut   bool
	timeout    *TimeoutError
	identities *identity.Table
}

// Record holds the before/after snapshots of one (node, example, run).
type Record struct {
	Before *Snapshot
	After  *Snapshot
}

// Snapshot is one observed value.
type Snapshot struct {
	// Type is the display type, e.g. "int" or "Point".
	Type string

	// Value is a deep copy taken at observation time.
	Value any

	// Name is the source text of the probed expression, e.g. "p.X".
	Name string

	// Identity is the identity token of reference values ("" otherwise).
	Identity string
}

// Option configures a Tracker.
type Option func(*Tracker)

// WithTimeout sets the execution budget checked by CheckTimer.
func WithTimeout(d time.Duration) Option {
	return func(t *Tracker) { t.budget = d }
}

// WithClock replaces the wall clock used by the timer (tests).
func WithClock(now func() time.Time) Option {
	return func(t *Tracker) { t.now = now }
}

// New creates an empty tracker.
func New(opts ...Option) *Tracker {
	t := &Tracker{}
	for _, opt := range opts {
		opt(t)
	}
	t.timer = timer.New(t.budget, t.now)
	t.identities = identity.NewTable()
	t.clear()
	return t
}

// clear resets all trace state. Caller holds mu (or owns t exclusively).
func (t *Tracker) clear() {
	t.records = make(map[int]map[string]map[int]*Record)
	t.parents = make(map[int]int)
	t.iterations = make(map[int]map[string]int)
	t.errors = make(map[string]string)
	t.executed = make(map[int]struct{})
	t.exampleID = DefaultExampleID
	t.examples = map[string]struct{}{DefaultExampleID: {}}
	t.identities.Reset()
	t.timer.Reset()
	t.timedOut = false
	t.timeout = nil
}

// Reset clears every record, counter, error, block and identity, so the next
// evaluation cycle starts from nothing.
func (t *Tracker) Reset() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.clear()
}

// ID records an observed value and returns it unchanged.
//
// Parameters:
//   - nodeID: id of the probed node
//   - exampleID: example active when the value was observed
//   - iterationParentID: id of the block that supplies runID
//   - runID: iteration of that block within the example
//   - value: the observed value
//   - name: source text of the probed expression
//   - keyword: Before or After; any other keyword makes the call a no-op
//
// A later write to the same (nodeID, exampleID, runID, keyword) overwrites
// the earlier one.
func (t *Tracker) ID(nodeID int, exampleID string, iterationParentID, runID int, value any, name, keyword string) any {
	if t == nil || (keyword != Before && keyword != After) {
		return value
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	t.parents[nodeID] = iterationParentID

	snap := &Snapshot{
		Type:  snapshot.TypeName(value),
		Value: snapshot.Copy(value),
		Name:  name,
	}
	if tok, ok := t.identities.Token(value); ok {
		snap.Identity = tok
	}

	byExample, ok := t.records[nodeID]
	if !ok {
		byExample = make(map[string]map[int]*Record)
		t.records[nodeID] = byExample
	}
	byRun, ok := byExample[exampleID]
	if !ok {
		byRun = make(map[int]*Record)
		byExample[exampleID] = byRun
	}
	rec, ok := byRun[runID]
	if !ok {
		rec = &Record{}
		byRun[runID] = rec
	}
	if keyword == Before {
		rec.Before = snap
	} else {
		rec.After = snap
	}

	return value
}

// Block marks blockID as executed and returns how many times the block was
// entered before under the active example. Instrumented code uses the result
// as the run id of every probe inside the block.
func (t *Tracker) Block(blockID int) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.executed[blockID] = struct{}{}
	return t.iterationLocked(blockID)
}

// Iteration returns the current iteration of nodeID under the active example
// and advances it. Counters are not reset between examples.
func (t *Tracker) Iteration(nodeID int) int {
	if t == nil {
		return 0
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.iterationLocked(nodeID)
}

func (t *Tracker) iterationLocked(nodeID int) int {
	byExample, ok := t.iterations[nodeID]
	if !ok {
		byExample = make(map[string]int)
		t.iterations[nodeID] = byExample
	}
	n := byExample[t.exampleID]
	byExample[t.exampleID] = n + 1
	return n
}

// Error records msg as the error of the active example, replacing any
// earlier one.
func (t *Tracker) Error(msg string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.errors[t.exampleID] = msg
}

// Recover records a value returned by recover(). A nil value is ignored.
//
// Example wrappers call it from a deferred function:
//
//	defer func() { __tracker.Recover(recover()) }()
//
// A timeout is recorded like any other error. The clock keeps running, so
// every later example records its own timeout at its first block entry.
func (t *Tracker) Recover(r any) {
	if r == nil {
		return
	}
	var err error
	switch x := r.(type) {
	case error:
		err = x
	default:
		err = fmt.Errorf("%v", x)
	}
	t.Error(err.Error())
}

// Example makes exampleID the active example for subsequent calls.
func (t *Tracker) Example(exampleID string) {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.exampleID = exampleID
	t.examples[exampleID] = struct{}{}
}

// ExampleID returns the active example.
func (t *Tracker) ExampleID() string {
	if t == nil {
		return DefaultExampleID
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.exampleID
}

// StartTimer starts the execution budget. Called once, at the entry of the
// program block.
func (t *Tracker) StartTimer() {
	if t == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	t.timer.Start()
}

// CheckTimer panics with a *TimeoutError if the budget is exhausted.
// Called at the entry of every block but the program block.
func (t *Tracker) CheckTimer() {
	if t == nil {
		return
	}
	t.mu.Lock()
	elapsed, exceeded := t.timer.Check()
	budget := t.timer.Budget()
	var te *TimeoutError
	if exceeded {
		te = &TimeoutError{Budget: budget, Elapsed: elapsed}
		if !t.timedOut {
			t.timedOut = true
			t.timeout = te
		}
	}
	t.mu.Unlock()
	if te != nil {
		panic(te)
	}
}

// TimedOut reports whether CheckTimer fired since the last Reset.
func (t *Tracker) TimedOut() bool {
	if t == nil {
		return false
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timedOut
}

// Timeout returns the first timeout raised since the last Reset, or nil.
func (t *Tracker) Timeout() *TimeoutError {
	if t == nil {
		return nil
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.timeout
}

// IsTimeout reports whether err is (or wraps) a *TimeoutError.
func IsTimeout(err error) bool {
	var te *TimeoutError
	return errors.As(err, &te)
}

// Record returns the record of (nodeID, exampleID, runID).
func (t *Tracker) Record(nodeID int, exampleID string, runID int) (Record, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	rec, ok := t.records[nodeID][exampleID][runID]
	if !ok {
		return Record{}, false
	}
	return *rec, true
}

// Runs returns the run ids recorded for (nodeID, exampleID) in ascending order.
func (t *Tracker) Runs(nodeID int, exampleID string) []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	byRun := t.records[nodeID][exampleID]
	runs := make([]int, 0, len(byRun))
	for run := range byRun {
		runs = append(runs, run)
	}
	sort.Ints(runs)
	return runs
}

// Nodes returns the ids of every node with at least one record, ascending.
func (t *Tracker) Nodes() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.records)
}

// Examples returns every example seen by Example (and the default), sorted.
func (t *Tracker) Examples() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	ids := make([]string, 0, len(t.examples))
	for id := range t.examples {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// IterationParent returns the block that supplied run ids for nodeID.
func (t *Tracker) IterationParent(nodeID int) (int, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	p, ok := t.parents[nodeID]
	return p, ok
}

// Executed reports whether blockID was entered under any example.
func (t *Tracker) Executed(blockID int) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	_, ok := t.executed[blockID]
	return ok
}

// ExecutedBlocks returns the executed block ids in ascending order.
func (t *Tracker) ExecutedBlocks() []int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return sortedKeys(t.executed)
}

// Errors returns a copy of the error log (example id → last message).
func (t *Tracker) Errors() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make(map[string]string, len(t.errors))
	for k, v := range t.errors {
		out[k] = v
	}
	return out
}

// ErrorFor returns the last error of exampleID.
func (t *Tracker) ErrorFor(exampleID string) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	msg, ok := t.errors[exampleID]
	return msg, ok
}

// Identity returns the identity token assigned to v, if v was observed.
func (t *Tracker) Identity(v any) (string, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.identities.Lookup(v)
}

func sortedKeys[V any](m map[int]V) []int {
	keys := make([]int, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Ints(keys)
	return keys
}
