// Package main implements the babylon CLI tool.
//
// babylon evaluates Go programs the way an example-centric editor does: it
// instruments one source file with value probes, runs the user's examples
// in-process and reports every observed value per example and iteration.
// It works by:
//
//  1. Parsing the Go source file using go/ast
//  2. Instrumenting probed expressions with tracker calls and expanding
//     examples into a synthesized program block
//  3. Loading the instrumented program into an in-process interpreter
//     bound to a fresh trace sink
//  4. Reporting the recorded trace
//
// Usage:
//
//	babylon run square.go                  # Evaluate with square.babylon.yaml
//	babylon run -s session.yaml square.go  # Evaluate with an explicit session
//	babylon instrument square.go           # Print the instrumented program
//	babylon export -o out square.go        # Write a standalone module
//	babylon locate square.go 3:5-3:11      # Classify the node at a location
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	// Global flags
	verbose    bool
	configPath string

	// Logger
	logger = zap.NewNop()

	// settings are the babylon.toml values, loaded before every command.
	cfg = defaultSettings()
)

// newRootCmd builds the base command with every subcommand attached.
func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "babylon",
		Short: "babylon - example-driven live evaluation for Go",
		Long: `babylon instruments a Go source file with value probes, runs the
examples attached to its functions and methods, and reports the value of every
probed expression per example and loop iteration.

Markers (probes, examples, instances, replacements) are read from a session
file, by default <file>.babylon.yaml next to the program.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			config := zap.NewProductionConfig()
			if verbose {
				config.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
			}
			l, err := config.Build()
			if err != nil {
				return fmt.Errorf("failed to initialize logger: %w", err)
			}
			logger = l

			s, path, err := loadSettings(configPath)
			if err != nil {
				return err
			}
			cfg = s
			if path != "" {
				logger.Debug("settings loaded", zap.String("path", path))
			}
			return nil
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			_ = logger.Sync()
		},
	}

	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Settings file (default: nearest babylon.toml)")

	rootCmd.AddCommand(newRunCmd())
	rootCmd.AddCommand(newInstrumentCmd())
	rootCmd.AddCommand(newExportCmd())
	rootCmd.AddCommand(newLocateCmd())
	rootCmd.AddCommand(newVersionCmd())
	return rootCmd
}

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
