// evaluate.go runs one evaluation cycle: instrument, execute, collect.
package main

import (
	"bytes"
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/kolkov/babylon/cmd/babylon/instrument"
	"github.com/kolkov/babylon/cmd/babylon/runtime"
	"github.com/kolkov/babylon/trace"
)

// evaluation is the outcome of one evaluation cycle. Every evaluation owns
// its tracker and interpreter, so evaluations may run concurrently.
type evaluation struct {
	ID      string
	File    string
	Result  *instrument.Result
	Tracker *trace.Tracker

	// Output is what the program wrote to stdout and stderr.
	Output []byte

	// Err is the execution error, if any: a timeout, a compile error of the
	// instrumented program, or a panic outside of every example.
	Err error

	Elapsed time.Duration
}

// evaluate instruments s.File with s's markers and runs it under budget.
//
// Only failures that leave nothing to report are returned as errors: an
// unreadable or unparsable source. Execution errors land in evaluation.Err.
func evaluate(ctx context.Context, s *session, budget time.Duration, log *zap.Logger) (*evaluation, error) {
	ev := &evaluation{ID: uuid.NewString(), File: s.File}
	log = log.With(zap.String("evaluation", ev.ID), zap.String("file", s.File))

	res, err := instrumentSession(s, log)
	if err != nil {
		return nil, err
	}
	ev.Result = res
	log.Debug("instrumented",
		zap.Int("probes", res.Stats.ProbesInserted),
		zap.Int("examples", res.Stats.ExamplesExpanded),
		zap.Int("skipped", res.Stats.TotalSkipped()))

	ev.Tracker = trace.New(trace.WithTimeout(budget))
	var out bytes.Buffer
	start := time.Now()
	ev.Err = runtime.Execute(ctx, res.Code, ev.Tracker, s.Connections, runtime.ExecOptions{
		Stdout: &out,
		Stderr: &out,
		Logger: log,
	})
	ev.Elapsed = time.Since(start)
	ev.Output = out.Bytes()

	switch {
	case ev.Err == nil:
		log.Debug("evaluated", zap.Duration("elapsed", ev.Elapsed))
	case trace.IsTimeout(ev.Err):
		log.Info("evaluation timed out", zap.Duration("budget", budget))
	case errors.Is(ev.Err, context.Canceled):
		log.Info("evaluation cancelled")
	default:
		log.Debug("evaluation failed", zap.Error(ev.Err))
	}
	return ev, nil
}

// dump is the tracker's dump labelled with the evaluation id.
func (ev *evaluation) dump() *trace.Dump {
	d := ev.Tracker.Dump()
	d.Evaluation = ev.ID
	return d
}
