// export.go implements the 'babylon export' command.
package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/kolkov/babylon/cmd/babylon/runtime"
)

func newExportCmd() *cobra.Command {
	var (
		sessionPath string
		outputDir   string
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "export [flags] file.go",
		Short: "Write the instrumented program as a standalone Go module",
		Long: `Writes the instrumented program, a runner and a go.mod to a directory.
Building and running the module prints the msgpack trace dump to stdout:

  babylon export -o out square.go
  (cd out && go run .) > trace.msgpack

The go.mod carries the require and replace directives of the program's own
module, so its imports resolve as they do in the original tree.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := resolveSession(args[0], sessionPath)
			if err != nil {
				return err
			}
			if len(s.Connections) > 0 {
				logger.Warn("connections are not available to exported programs",
					zap.Int("connections", len(s.Connections)))
			}
			res, err := instrumentSession(s, logger)
			if err != nil {
				return err
			}

			if outputDir == "" {
				outputDir = cfg.Export.Dir
			}
			if !cmd.Flags().Changed("timeout") {
				timeout = cfg.Run.Timeout.Duration
			}
			srcDir, err := filepath.Abs(filepath.Dir(s.File))
			if err != nil {
				return fmt.Errorf("failed to resolve source directory: %w", err)
			}
			if err := runtime.Export(outputDir, res.Code, srcDir, timeout); err != nil {
				return fmt.Errorf("failed to export %s: %w", s.File, err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Exported: %s -> %s\n", s.File, outputDir)
			return nil
		},
	}

	cmd.Flags().StringVarP(&sessionPath, "session", "s", "", "Session file (default: <file>.babylon.yaml)")
	cmd.Flags().StringVarP(&outputDir, "output", "o", "", "Output directory (default from babylon.toml, else babylon-out)")
	cmd.Flags().DurationVar(&timeout, "timeout", 0, "Evaluation budget of the exported runner")
	return cmd
}
