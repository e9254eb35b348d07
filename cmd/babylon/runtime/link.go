// Package runtime links instrumented programs to the trace runtime and runs
// them.
//
// Programs run in-process under the yaegi interpreter. The trace package is
// exported to the interpreter as a binary package, so the Tracker the host
// passes to BabylonRun is the very object interpreted code calls into.
package runtime

import (
	"context"
	"errors"
	"fmt"
	"go/constant"
	"go/token"
	"io"
	"reflect"

	"github.com/traefik/yaegi/interp"
	"github.com/traefik/yaegi/stdlib"
	"go.uber.org/zap"

	"github.com/kolkov/babylon/cmd/babylon/instrument"
	"github.com/kolkov/babylon/trace"
)

// GetRuntimePackagePath returns the import path instrumented code uses for
// the tracker.
//
// Returns: "github.com/kolkov/babylon/trace"
func GetRuntimePackagePath() string {
	return instrument.TracePackageImportPath
}

// Symbols exports the trace package to the interpreter. Keys follow the
// yaegi convention "importpath/pkgname".
var Symbols = interp.Exports{
	GetRuntimePackagePath() + "/trace": {
		"Tracker":      reflect.ValueOf((*trace.Tracker)(nil)),
		"Record":       reflect.ValueOf((*trace.Record)(nil)),
		"Snapshot":     reflect.ValueOf((*trace.Snapshot)(nil)),
		"TimeoutError": reflect.ValueOf((*trace.TimeoutError)(nil)),
		"Option":       reflect.ValueOf((*trace.Option)(nil)),

		"New":         reflect.ValueOf(trace.New),
		"WithTimeout": reflect.ValueOf(trace.WithTimeout),
		"IsTimeout":   reflect.ValueOf(trace.IsTimeout),

		"Before":           reflect.ValueOf(constant.MakeFromLiteral(`"before"`, token.STRING, 0)),
		"After":            reflect.ValueOf(constant.MakeFromLiteral(`"after"`, token.STRING, 0)),
		"DefaultExampleID": reflect.ValueOf(constant.MakeFromLiteral(`"default"`, token.STRING, 0)),
	},
}

// CompileError is returned when the interpreter rejects an instrumented
// program. Nothing ran.
type CompileError struct {
	Err error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("failed to compile instrumented program: %v", e.Err)
}

func (e *CompileError) Unwrap() error { return e.Err }

// PanicError is a panic that escaped every example wrapper, e.g. one raised
// by package initialization or by the global prescript.
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("instrumented program panicked: %v", e.Value)
}

// ExecOptions configures Execute.
type ExecOptions struct {
	// Stdout and Stderr receive the program's output. Nil discards it.
	Stdout io.Writer
	Stderr io.Writer

	// Logger records the run. Nil means no logging.
	Logger *zap.Logger
}

// Execute loads an instrumented program and calls its entry point with sink
// and connections. It returns when the program returns, the tracker's time
// budget is exhausted, or ctx is done.
//
// Returns:
//   - nil when every example ran (examples that panicked are recorded in
//     sink, not returned)
//   - *CompileError when the program does not load
//   - an error satisfying trace.IsTimeout when the budget ran out
//   - *PanicError for a panic outside of any example
//   - ctx.Err() (wrapped) on cancellation
//
// Thread Safety: Safe for concurrent use with distinct sinks.
func Execute(ctx context.Context, code string, sink *trace.Tracker, connections map[string]interface{}, opts ExecOptions) error {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = io.Discard
	}
	if stderr == nil {
		stderr = io.Discard
	}
	if connections == nil {
		connections = map[string]interface{}{}
	}

	run, err := load(ctx, code, stdout, stderr)
	if err != nil {
		return err
	}

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- panicToError(r)
			}
		}()
		run(sink, connections)
		done <- nil
	}()

	select {
	case err := <-done:
		if te := sink.Timeout(); te != nil {
			logger.Info("execution timed out", zap.Error(te), zap.Strings("examples", sink.Examples()))
			return te
		}
		if err != nil {
			logger.Warn("execution failed", zap.Error(err))
			return err
		}
		logger.Debug("execution finished", zap.Strings("examples", sink.Examples()))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("execution cancelled: %w", ctx.Err())
	}
}

type entryPoint = func(*trace.Tracker, map[string]interface{})

func load(ctx context.Context, code string, stdout, stderr io.Writer) (run entryPoint, err error) {
	// The interpreter may panic on constructs it does not support.
	defer func() {
		if r := recover(); r != nil {
			err = &CompileError{Err: fmt.Errorf("%v", r)}
		}
	}()

	i := interp.New(interp.Options{Stdout: stdout, Stderr: stderr})
	if err := i.Use(stdlib.Symbols); err != nil {
		return nil, fmt.Errorf("failed to load stdlib: %w", err)
	}
	if err := i.Use(Symbols); err != nil {
		return nil, fmt.Errorf("failed to load trace runtime: %w", err)
	}

	if _, err := i.EvalWithContext(ctx, code); err != nil {
		return nil, &CompileError{Err: err}
	}

	v, err := i.Eval("main." + instrument.EntryPoint)
	if err != nil {
		return nil, &CompileError{Err: fmt.Errorf("%s not found: %w", instrument.EntryPoint, err)}
	}
	run, ok := v.Interface().(entryPoint)
	if !ok {
		return nil, &CompileError{Err: fmt.Errorf("%s has type %s", instrument.EntryPoint, v.Type())}
	}
	return run, nil
}

func panicToError(r any) error {
	if err, ok := r.(error); ok {
		var te *trace.TimeoutError
		if errors.As(err, &te) {
			return te
		}
	}
	return &PanicError{Value: r}
}
