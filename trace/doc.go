// Package trace is the runtime that instrumented programs report to.
//
// The babylon tool rewrites a Go program so that every probed expression,
// every block entry and every example switch calls into a *Tracker. After the
// program has run, the tracker holds a structured record of everything that
// was observed, keyed by node id, example id and run id, ready for rendering.
//
// # Quick Start
//
// The calls below are inserted by the babylon tool; they are shown here to
// document the protocol:
//
//	t := trace.New()
//	t.StartTimer()
//	t.Example("ex1")
//	count := t.Block(7)                                  // block 7 entered
//	t.ID(12, t.ExampleID(), 7, count, x, "x", trace.After) // probe on x
//
// Reading results:
//
//	rec, ok := t.Record(12, "ex1", 0)
//	if ok && rec.After != nil {
//		fmt.Println(rec.After.Name, rec.After.Value)
//	}
//
// # Data Model
//
//   - Record: the before/after snapshots of one (node, example, run)
//   - Snapshot: display type, deep-copied value, source name, identity token
//   - iteration counters per (node, example), never reset between examples
//   - executed block set, driving dead-code detection
//   - error log, the last error message per example
//
// # Timeout
//
// Execution is guarded cooperatively: StartTimer is called once at the entry
// of the program block and CheckTimer at the entry of every other block.
// CheckTimer panics with a *TimeoutError once the budget (WithTimeout,
// default 1s) is exceeded; example wrappers recover it like any other
// execution error.
//
// # Nil Receiver
//
// Every method tolerates a nil *Tracker. Package-level initializers and init
// functions of an instrumented program run before the host binds its sink.
//
// # Thread Safety
//
// Instrumented programs are single-threaded by contract; the tracker still
// serializes access with a mutex so a host may query a tracker whose
// evaluation it abandoned after a deadline.
package trace
