// locate.go implements the 'babylon locate' command: the node classification
// an editor needs to decide which markers a selection may carry.
package main

import (
	"encoding/json"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"go/types"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/kolkov/babylon/cmd/babylon/instrument"
)

// located is the classification of the node at one location.
type located struct {
	Query    string `json:"query"`
	Location string `json:"location"`
	Node     string `json:"node"`
	Kind     string `json:"kind"`
	Text     string `json:"text,omitempty"`

	Probe       bool `json:"probe"`
	Example     bool `json:"example"`
	Instance    bool `json:"instance"`
	Replacement bool `json:"replacement"`
	Slider      bool `json:"slider"`

	// Params are the constructor parameters of a type name, "name type".
	Params []string `json:"params,omitempty"`
}

func newLocateCmd() *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "locate [flags] file.go L:C-L:C...",
		Short: "Classify the nodes at source locations",
		Long: `Resolves each location to the innermost enclosing node and reports which
markers it may carry: probe, example, instance, replacement or slider.`,
		Example: `  babylon locate square.go 3:5-3:11 3:12-3:13
  babylon locate --json square.go 4:1-4:7`,
		Args: cobra.MinimumNArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			results, err := locateFile(args[0], args[1:])
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(cmd.OutOrStdout())
				enc.SetIndent("", "  ")
				return enc.Encode(results)
			}
			writeLocated(cmd.OutOrStdout(), results)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print JSON")
	return cmd
}

func locateFile(file string, keys []string) ([]located, error) {
	src, err := os.ReadFile(file)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", file, err)
	}
	fset := token.NewFileSet()
	f, err := parser.ParseFile(fset, file, src, parser.SkipObjectResolution)
	if err != nil {
		return nil, &instrument.SourceParseError{File: file, Err: err}
	}
	idx := instrument.BuildIndex(fset, f)
	cls := instrument.NewClassifier(idx)

	out := make([]located, 0, len(keys))
	for _, key := range keys {
		if _, err := instrument.ParseLocation(key); err != nil {
			return nil, err
		}
		n, path, ok := idx.Enclosing(key)
		if !ok {
			return nil, fmt.Errorf("%s: no node at %s", file, key)
		}
		l := located{
			Query:       key,
			Node:        fmt.Sprintf("%T", n),
			Kind:        instrument.KindOf(path).String(),
			Probe:       cls.Probeable(path),
			Example:     cls.ExampleEntry(path),
			Instance:    cls.InstanceEntry(path),
			Replacement: cls.ReplacementTarget(path),
			Slider:      cls.SliderEntry(path),
		}
		if loc, ok := idx.LocationOf(n); ok {
			l.Location = loc.Key()
		}
		if e, ok := n.(ast.Expr); ok {
			l.Text = types.ExprString(e)
		}
		if id, ok := n.(*ast.Ident); ok && l.Instance {
			params, _ := instrument.ConstructorParams(idx, id.Name)
			for _, p := range params {
				l.Params = append(l.Params, strings.TrimSpace(p.Name+" "+types.ExprString(p.Type)))
			}
		}
		out = append(out, l)
	}
	return out, nil
}

func writeLocated(w io.Writer, results []located) {
	for _, l := range results {
		var allowed []string
		for _, m := range []struct {
			name string
			ok   bool
		}{
			{"probe", l.Probe},
			{"example", l.Example},
			{"instance", l.Instance},
			{"replacement", l.Replacement},
			{"slider", l.Slider},
		} {
			if m.ok {
				allowed = append(allowed, m.name)
			}
		}
		markers := "none"
		if len(allowed) > 0 {
			markers = strings.Join(allowed, ", ")
		}
		fmt.Fprintf(w, "%s  %s %s", l.Location, l.Node, l.Kind)
		if l.Text != "" {
			fmt.Fprintf(w, " %q", l.Text)
		}
		fmt.Fprintf(w, "\n  markers: %s\n", markers)
		if len(l.Params) > 0 {
			fmt.Fprintf(w, "  params: %s\n", strings.Join(l.Params, ", "))
		}
	}
}
