package trace

import (
	"bytes"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type point struct{ X, Y int }

// TestIDRecordsSnapshot verifies the basic record path.
func TestIDRecordsSnapshot(t *testing.T) {
	tr := New()

	got := tr.ID(4, "ex1", 2, 0, 3, "x", After)

	assert.Equal(t, 3, got)
	rec, ok := tr.Record(4, "ex1", 0)
	require.True(t, ok)
	require.NotNil(t, rec.After)
	assert.Nil(t, rec.Before)
	assert.Equal(t, 3, rec.After.Value)
	assert.Equal(t, "int", rec.After.Type)
	assert.Equal(t, "x", rec.After.Name)

	parent, ok := tr.IterationParent(4)
	require.True(t, ok)
	assert.Equal(t, 2, parent)
}

// TestIDIgnoresUnknownKeyword verifies that only before/after are recorded.
func TestIDIgnoresUnknownKeyword(t *testing.T) {
	tr := New()

	got := tr.ID(1, "ex1", 0, 0, "v", "v", "during")

	assert.Equal(t, "v", got)
	assert.Empty(t, tr.Nodes())
	_, ok := tr.IterationParent(1)
	assert.False(t, ok)
}

// TestIDLastWriteWins verifies overwrite semantics for one key.
func TestIDLastWriteWins(t *testing.T) {
	tr := New()
	tr.ID(1, "ex1", 0, 0, 1, "x", Before)
	tr.ID(1, "ex1", 0, 0, 2, "x", Before)
	tr.ID(1, "ex1", 0, 0, 3, "x", After)

	rec, _ := tr.Record(1, "ex1", 0)
	assert.Equal(t, 2, rec.Before.Value)
	assert.Equal(t, 3, rec.After.Value)
}

// TestIDCopiesValue verifies that later mutation does not leak into the record.
func TestIDCopiesValue(t *testing.T) {
	tr := New()
	p := &point{X: 1}

	tr.ID(1, "ex1", 0, 0, p, "p", After)
	p.X = 99

	rec, _ := tr.Record(1, "ex1", 0)
	assert.Equal(t, 1, rec.After.Value.(*point).X)
	assert.Equal(t, "point", rec.After.Type)
}

// TestIdentityTokens verifies reference identity across observations.
func TestIdentityTokens(t *testing.T) {
	tr := New()
	p := &point{X: 1}
	q := &point{X: 1}

	tr.ID(1, "ex1", 0, 0, p, "p", After)
	tr.ID(2, "ex1", 0, 0, p, "p", After)
	tr.ID(3, "ex1", 0, 0, q, "q", After)
	tr.ID(4, "ex1", 0, 0, 5, "n", After)

	r1, _ := tr.Record(1, "ex1", 0)
	r2, _ := tr.Record(2, "ex1", 0)
	r3, _ := tr.Record(3, "ex1", 0)
	r4, _ := tr.Record(4, "ex1", 0)

	assert.NotEmpty(t, r1.After.Identity)
	assert.Equal(t, r1.After.Identity, r2.After.Identity)
	assert.NotEqual(t, r1.After.Identity, r3.After.Identity)
	assert.Empty(t, r4.After.Identity)

	tok, ok := tr.Identity(p)
	assert.True(t, ok)
	assert.Equal(t, r1.After.Identity, tok)
	assert.Equal(t, point{X: 1}, *p, "observed value must not be mutated")
}

// TestLoopRuns simulates a loop body entered N times with one probe inside.
func TestLoopRuns(t *testing.T) {
	tr := New()
	tr.Example("ex1")

	const body, probe = 10, 11
	for i := 0; i < 4; i++ {
		run := tr.Block(body)
		tr.ID(probe, tr.ExampleID(), body, run, i*i, "sq", After)
	}

	require.Equal(t, []int{0, 1, 2, 3}, tr.Runs(probe, "ex1"))
	for run := 0; run < 4; run++ {
		rec, ok := tr.Record(probe, "ex1", run)
		require.True(t, ok)
		assert.Equal(t, run*run, rec.After.Value)
	}
}

// TestIterationCountersPerExample verifies that counters are keyed by example
// and survive example switches.
func TestIterationCountersPerExample(t *testing.T) {
	tr := New()

	tr.Example("a")
	assert.Equal(t, 0, tr.Iteration(5))
	assert.Equal(t, 1, tr.Iteration(5))

	tr.Example("b")
	assert.Equal(t, 0, tr.Iteration(5))

	tr.Example("a")
	assert.Equal(t, 2, tr.Iteration(5))
}

// TestExecutedBlocks verifies block bookkeeping.
func TestExecutedBlocks(t *testing.T) {
	tr := New()
	tr.Example("a")
	tr.Block(3)
	tr.Block(3)
	tr.Example("b")
	tr.Block(1)

	assert.True(t, tr.Executed(3))
	assert.True(t, tr.Executed(1))
	assert.False(t, tr.Executed(2))
	assert.Equal(t, []int{1, 3}, tr.ExecutedBlocks())
}

// TestErrorIsolation verifies that errors stay with their example.
func TestErrorIsolation(t *testing.T) {
	tr := New()

	tr.Example("a")
	tr.Error("first")
	tr.Error("second")
	tr.Example("b")
	tr.ID(1, "b", 0, 0, 1, "x", After)
	tr.Example("a")
	tr.ID(1, "a", 0, 0, 2, "x", After)

	msg, ok := tr.ErrorFor("a")
	assert.True(t, ok)
	assert.Equal(t, "second", msg)
	_, ok = tr.ErrorFor("b")
	assert.False(t, ok)

	ra, _ := tr.Record(1, "a", 0)
	rb, _ := tr.Record(1, "b", 0)
	assert.Equal(t, 2, ra.After.Value)
	assert.Equal(t, 1, rb.After.Value)
}

// TestRecover verifies conversion of recovered panic values.
func TestRecover(t *testing.T) {
	tr := New()
	tr.Example("a")

	tr.Recover(nil)
	assert.Empty(t, tr.Errors())

	tr.Recover(errors.New("boom"))
	msg, _ := tr.ErrorFor("a")
	assert.Equal(t, "boom", msg)

	tr.Recover("index out of range")
	msg, _ = tr.ErrorFor("a")
	assert.Equal(t, "index out of range", msg)
}

// TestRecoverRecordsTimeout verifies that a timeout is recorded per example
// like any other error and does not escape the example wrapper.
func TestRecoverRecordsTimeout(t *testing.T) {
	now := time.Unix(0, 0)
	tr := New(WithTimeout(10*time.Millisecond), WithClock(func() time.Time { return now }))
	tr.StartTimer()
	now = now.Add(time.Second)

	run := func(id string) {
		defer func() { tr.Recover(recover()) }()
		tr.Example(id)
		tr.CheckTimer()
	}
	assert.NotPanics(t, func() { run("slow") })
	assert.NotPanics(t, func() { run("next") })

	for _, id := range []string{"slow", "next"} {
		msg, ok := tr.ErrorFor(id)
		require.True(t, ok, id)
		assert.Contains(t, msg, "timeout reached", id)
	}
	require.NotNil(t, tr.Timeout())
	assert.Equal(t, 10*time.Millisecond, tr.Timeout().Budget)

	tr.Reset()
	assert.Nil(t, tr.Timeout())
	assert.False(t, tr.TimedOut())
}

// TestExamplesSet verifies that example ids are collected idempotently.
func TestExamplesSet(t *testing.T) {
	tr := New()
	assert.Equal(t, DefaultExampleID, tr.ExampleID())

	tr.Example("b")
	tr.Example("a")
	tr.Example("b")

	assert.Equal(t, []string{"a", "b", DefaultExampleID}, tr.Examples())
	assert.Equal(t, "b", tr.ExampleID())
}

// TestReset verifies that nothing survives a reset.
func TestReset(t *testing.T) {
	tr := New()
	tr.Example("a")
	tr.ID(1, "a", 0, 0, &point{}, "p", After)
	tr.Block(2)
	tr.Iteration(3)
	tr.Error("x")

	tr.Reset()

	assert.Empty(t, tr.Nodes())
	assert.Empty(t, tr.ExecutedBlocks())
	assert.Empty(t, tr.Errors())
	assert.Equal(t, []string{DefaultExampleID}, tr.Examples())
	assert.Equal(t, DefaultExampleID, tr.ExampleID())
	assert.Equal(t, 0, tr.Iteration(3))
}

// TestCheckTimer verifies the cooperative timeout.
func TestCheckTimer(t *testing.T) {
	now := time.Unix(0, 0)
	tr := New(WithTimeout(10*time.Millisecond), WithClock(func() time.Time { return now }))

	assert.NotPanics(t, tr.CheckTimer, "stopped timer must not fire")

	tr.StartTimer()
	now = now.Add(5 * time.Millisecond)
	assert.NotPanics(t, tr.CheckTimer)

	now = now.Add(10 * time.Millisecond)
	defer func() {
		assert.True(t, tr.TimedOut())
		r := recover()
		require.NotNil(t, r)
		err, ok := r.(error)
		require.True(t, ok)
		assert.True(t, IsTimeout(err))
		assert.True(t, IsTimeout(fmt.Errorf("wrapped: %w", err)))
		assert.Contains(t, err.Error(), "timeout reached")
	}()
	tr.CheckTimer()
}

// TestNilTracker verifies that the runtime calls tolerate a nil receiver.
func TestNilTracker(t *testing.T) {
	var tr *Tracker

	assert.NotPanics(t, func() {
		assert.Equal(t, 7, tr.ID(1, "a", 0, 0, 7, "x", After))
		assert.Equal(t, 0, tr.Block(1))
		assert.Equal(t, 0, tr.Iteration(1))
		tr.Error("x")
		tr.Recover("x")
		tr.Example("a")
		assert.Equal(t, DefaultExampleID, tr.ExampleID())
		tr.StartTimer()
		tr.CheckTimer()
		assert.Nil(t, tr.Timeout())
		tr.Reset()
	})
}

// TestDumpRoundTrip verifies the msgpack export used by out-of-process renderers.
func TestDumpRoundTrip(t *testing.T) {
	tr := New()
	tr.Example("ex1")
	run := tr.Block(2)
	tr.ID(4, "ex1", 2, run, point{X: 1, Y: 2}, "p", After)
	tr.Error("bad")

	d := tr.Dump()
	d.Evaluation = "eval-1"
	require.Len(t, d.Records, 1)
	assert.Equal(t, `{X: 1, Y: 2}`, d.Records[0].After.Text)

	var buf bytes.Buffer
	require.NoError(t, WriteDump(&buf, d))
	back, err := ReadDump(&buf)
	require.NoError(t, err)

	assert.Equal(t, "eval-1", back.Evaluation)
	assert.Equal(t, []int{2}, back.Executed)
	assert.Equal(t, "bad", back.Errors["ex1"])
	require.Len(t, back.Records, 1)
	assert.Equal(t, 4, back.Records[0].Node)
	assert.Equal(t, "point", back.Records[0].After.Type)
	assert.Equal(t, `{X: 1, Y: 2}`, back.Records[0].After.Text)
}
