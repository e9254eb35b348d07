// run.go implements the 'babylon run' command.
package main

import (
	"context"
	"fmt"
	"io"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// runConfig holds configuration for the run command.
type runConfig struct {
	// Program files; each is one evaluation.
	files []string

	// Session file; "" means each file's default session.
	session string

	// Extra probes from --probe.
	probes []string

	timeout time.Duration
	format  string
	color   string
	jobs    int
}

func newRunCmd() *cobra.Command {
	rc := &runConfig{}
	cmd := &cobra.Command{
		Use:   "run [flags] file.go...",
		Short: "Evaluate programs and report the observed values",
		Long: `Evaluates each program with its session: instruments the probes,
runs the examples in-process and reports a trace per program.

Flow:
  1. Read the session (markers and context)
  2. Instrument the program
  3. Execute it with a fresh tracker under the time budget
  4. Report probes, runs, values, unexecuted blocks and errors

Programs are evaluated concurrently. Reports are written in argument order.`,
		Example: `  babylon run square.go
  babylon run -s session.yaml
  babylon run --probe 3:12-3:13 --timeout 250ms square.go
  babylon run --format json a.go b.go`,
		RunE: func(cmd *cobra.Command, args []string) error {
			rc.files = args
			if err := rc.complete(cmd); err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return runEvaluations(ctx, rc, cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVarP(&rc.session, "session", "s", "", "Session file (default: <file>.babylon.yaml)")
	cmd.Flags().StringSliceVarP(&rc.probes, "probe", "p", nil, "Additional probe location L:C-L:C (repeatable)")
	cmd.Flags().DurationVar(&rc.timeout, "timeout", 0, "Evaluation budget (default from babylon.toml, else 1s)")
	cmd.Flags().StringVarP(&rc.format, "format", "f", "", "Report format: text, json or msgpack")
	cmd.Flags().StringVar(&rc.color, "color", "", "Color mode: auto, always or never")
	cmd.Flags().IntVarP(&rc.jobs, "jobs", "j", 0, "Concurrent evaluations (default: GOMAXPROCS)")
	return cmd
}

// complete fills unset flags from the settings and validates them.
func (rc *runConfig) complete(cmd *cobra.Command) error {
	if len(rc.files) == 0 && rc.session == "" {
		return fmt.Errorf("no program file or session specified")
	}
	if !cmd.Flags().Changed("timeout") {
		rc.timeout = cfg.Run.Timeout.Duration
	}
	if rc.timeout <= 0 {
		return fmt.Errorf("--timeout must be positive")
	}
	if rc.format == "" {
		rc.format = cfg.Run.Format
	}
	f, err := parseFormat(rc.format)
	if err != nil {
		return err
	}
	rc.format = f
	if rc.color == "" {
		rc.color = cfg.Run.Color
	}
	if !cmd.Flags().Changed("jobs") {
		rc.jobs = cfg.Run.Jobs
	}
	for _, file := range rc.files {
		if filepath.Ext(file) != ".go" {
			return fmt.Errorf("%s is not a Go source file", file)
		}
	}
	return nil
}

// runEvaluations evaluates every file concurrently and reports in order.
// The first failure to read or parse a program cancels the others.
func runEvaluations(ctx context.Context, rc *runConfig, out io.Writer) error {
	sessions, err := rc.sessions()
	if err != nil {
		return err
	}

	results := make([]*evaluation, len(sessions))
	g, gctx := errgroup.WithContext(ctx)
	if rc.jobs > 0 {
		g.SetLimit(rc.jobs)
	}
	for i, s := range sessions {
		g.Go(func() error {
			ev, err := evaluate(gctx, s, rc.timeout, logger)
			if err != nil {
				return err
			}
			results[i] = ev
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}

	rp := newReporter(out, rc.format, colorEnabled(rc.color))
	failed := 0
	for _, ev := range results {
		if err := rp.write(ev); err != nil {
			return err
		}
		if ev.Err != nil {
			failed++
		}
	}
	logger.Debug("run finished", zap.Int("evaluations", len(results)), zap.Int("failed", failed))
	return nil
}

// sessions resolves one session per file, or the single explicit session
// when no file is given.
func (rc *runConfig) sessions() ([]*session, error) {
	if len(rc.files) == 0 {
		s, err := resolveSession("", rc.session)
		if err != nil {
			return nil, err
		}
		if err := s.addProbes(rc.probes); err != nil {
			return nil, err
		}
		return []*session{s}, nil
	}

	out := make([]*session, 0, len(rc.files))
	for _, file := range rc.files {
		s, err := resolveSession(file, rc.session)
		if err != nil {
			return nil, err
		}
		if err := s.addProbes(rc.probes); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, nil
}
