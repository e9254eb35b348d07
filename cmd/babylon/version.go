package main

import (
	"encoding/json"
	"fmt"
	"io"
	goruntime "runtime"
	"runtime/debug"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kolkov/babylon/trace"
)

type versionPayload struct {
	Tool     string `json:"tool"`
	Version  string `json:"version"`
	Protocol string `json:"protocol"`
	Go       string `json:"go"`
	Yaegi    string `json:"yaegi,omitempty"`
}

func newVersionCmd() *cobra.Command {
	var format string
	cmd := &cobra.Command{
		Use:   "version",
		Short: "Show the babylon version and tracing protocol",
		RunE: func(cmd *cobra.Command, args []string) error {
			p := collectVersion()
			switch strings.ToLower(format) {
			case "pretty":
				renderVersionPretty(cmd.OutOrStdout(), p)
				return nil
			case "json":
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(p)
			default:
				return fmt.Errorf("unsupported format %q (must be pretty or json)", format)
			}
		},
	}
	cmd.Flags().StringVar(&format, "format", "pretty", "output format (pretty|json)")
	return cmd
}

func collectVersion() versionPayload {
	info := trace.GetInfo()
	p := versionPayload{
		Tool:     "babylon",
		Version:  info.Version,
		Protocol: info.Protocol,
		Go:       goruntime.Version(),
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, dep := range bi.Deps {
			if dep.Path == "github.com/traefik/yaegi" {
				p.Yaegi = dep.Version
			}
		}
	}
	return p
}

func renderVersionPretty(w io.Writer, p versionPayload) {
	pal := newPalette(colorEnabled(cfg.Run.Color))
	fmt.Fprintf(w, "%s %s\n", pal.header.Sprint(p.Tool), p.Version)
	fmt.Fprintf(w, "  %s %s\n", pal.meta.Sprint("protocol:"), p.Protocol)
	fmt.Fprintf(w, "  %s %s\n", pal.meta.Sprint("go:"), p.Go)
	if p.Yaegi != "" {
		fmt.Fprintf(w, "  %s %s\n", pal.meta.Sprint("yaegi:"), p.Yaegi)
	}
}
