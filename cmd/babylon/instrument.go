// instrument.go implements the 'babylon instrument' command.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kolkov/babylon/cmd/babylon/instrument"
)

// instrumentConfig holds configuration for the instrument command.
type instrumentConfig struct {
	session    string
	probes     []string
	outputFile string

	// stats prints the statistics block to stderr.
	stats bool
}

func newInstrumentCmd() *cobra.Command {
	ic := &instrumentConfig{}
	cmd := &cobra.Command{
		Use:   "instrument [flags] file.go",
		Short: "Print the instrumented program",
		Long: `Instruments one program with its session's markers and prints the
result: the program as the interpreter runs it.`,
		Example: `  babylon instrument square.go
  babylon instrument --stats -o square.instrumented.go square.go`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSession(args[0], ic.session)
			if err != nil {
				return err
			}
			if err := s.addProbes(ic.probes); err != nil {
				return err
			}
			res, err := instrumentSession(s, logger)
			if err != nil {
				return err
			}

			if ic.stats {
				statsSummary(cmd.ErrOrStderr(), s.File, res)
			}
			if ic.outputFile == "" {
				_, err := fmt.Fprint(cmd.OutOrStdout(), res.Code)
				return err
			}
			if err := os.WriteFile(ic.outputFile, []byte(res.Code), 0644); err != nil {
				return fmt.Errorf("failed to write instrumented file %s: %w", ic.outputFile, err)
			}
			logger.Info("instrumented", zap.String("file", s.File), zap.String("output", ic.outputFile))
			return nil
		},
	}

	cmd.Flags().StringVarP(&ic.session, "session", "s", "", "Session file (default: <file>.babylon.yaml)")
	cmd.Flags().StringSliceVarP(&ic.probes, "probe", "p", nil, "Additional probe location L:C-L:C (repeatable)")
	cmd.Flags().StringVarP(&ic.outputFile, "output", "o", "", "Write the program to a file instead of stdout")
	cmd.Flags().BoolVar(&ic.stats, "stats", false, "Print instrumentation statistics to stderr")
	return cmd
}

// instrumentSession reads and instruments the session's program.
func instrumentSession(s *session, log *zap.Logger) (*instrument.Result, error) {
	src, err := os.ReadFile(s.File)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", s.File, err)
	}
	res, err := instrument.Instrument(s.File, src, s.Markers, instrument.Options{
		Logger:  log,
		Context: s.Context,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to instrument %s: %w", s.File, err)
	}
	return res, nil
}
