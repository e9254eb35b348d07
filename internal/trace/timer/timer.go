// Package timer implements the cooperative execution budget of an evaluation.
//
// Instrumented code calls Start once, at the entry of the program block, and
// Check at the entry of every other block. Check reports when the time elapsed
// since Start exceeds the budget; the caller turns that into a panic. A tight
// loop that never enters a block cannot be interrupted.
package timer

import "time"

// DefaultBudget is the execution budget used when none is configured.
const DefaultBudget = 1000 * time.Millisecond

// Timer measures elapsed time against a budget.
//
// Thread Safety: NOT thread-safe.
type Timer struct {
	budget  time.Duration
	now     func() time.Time
	start   time.Time
	started bool
}

// New creates a stopped timer. A non-positive budget selects DefaultBudget,
// a nil clock selects time.Now.
func New(budget time.Duration, now func() time.Time) *Timer {
	if budget <= 0 {
		budget = DefaultBudget
	}
	if now == nil {
		now = time.Now
	}
	return &Timer{budget: budget, now: now}
}

// Budget returns the configured budget.
func (t *Timer) Budget() time.Duration {
	return t.budget
}

// Start (re)starts the clock.
func (t *Timer) Start() {
	t.start = t.now()
	t.started = true
}

// Reset stops the clock. Check never fires on a stopped timer.
func (t *Timer) Reset() {
	t.start = time.Time{}
	t.started = false
}

// Check returns the elapsed time and whether it exceeds the budget.
func (t *Timer) Check() (time.Duration, bool) {
	if !t.started {
		return 0, false
	}
	elapsed := t.now().Sub(t.start)
	return elapsed, elapsed > t.budget
}
