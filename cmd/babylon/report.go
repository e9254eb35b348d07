// report.go renders evaluations as text, JSON or msgpack.
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/kolkov/babylon/cmd/babylon/instrument"
	"github.com/kolkov/babylon/trace"
)

const (
	formatText    = "text"
	formatJSON    = "json"
	formatMsgpack = "msgpack"
)

func parseFormat(s string) (string, error) {
	switch f := strings.ToLower(strings.TrimSpace(s)); f {
	case formatText, formatJSON, formatMsgpack:
		return f, nil
	}
	return "", fmt.Errorf("unknown format %q (want text, json or msgpack)", s)
}

// report is the machine-readable form of one evaluation.
type report struct {
	File     string        `json:"file" msgpack:"file"`
	Trace    *trace.Dump   `json:"trace" msgpack:"trace"`
	Probes   []reportProbe `json:"probes" msgpack:"probes"`
	Blocks   []reportBlock `json:"blocks" msgpack:"blocks"`
	Examples []string      `json:"examples" msgpack:"examples"`
	Problems []string      `json:"problems,omitempty" msgpack:"problems,omitempty"`
	Error    string        `json:"error,omitempty" msgpack:"error,omitempty"`
	TimedOut bool          `json:"timedOut,omitempty" msgpack:"timedOut,omitempty"`
	Output   string        `json:"output,omitempty" msgpack:"output,omitempty"`
}

type reportProbe struct {
	Node     int    `json:"node" msgpack:"node"`
	Location string `json:"location" msgpack:"location"`
	Name     string `json:"name" msgpack:"name"`
	Kind     string `json:"kind" msgpack:"kind"`
}

type reportBlock struct {
	Block     int    `json:"block" msgpack:"block"`
	Location  string `json:"location,omitempty" msgpack:"location,omitempty"`
	Synthetic bool   `json:"synthetic,omitempty" msgpack:"synthetic,omitempty"`
	Executed  bool   `json:"executed" msgpack:"executed"`
}

func newReport(ev *evaluation) *report {
	d := ev.dump()
	executed := make(map[int]bool, len(d.Executed))
	for _, b := range d.Executed {
		executed[b] = true
	}

	r := &report{
		File:   ev.File,
		Trace:  d,
		Output: string(ev.Output),
	}
	for _, p := range ev.Result.Probes {
		r.Probes = append(r.Probes, reportProbe{Node: p.NodeID, Location: p.Location, Name: p.Name, Kind: p.Kind.String()})
	}
	for _, b := range ev.Result.Blocks {
		r.Blocks = append(r.Blocks, reportBlock{Block: b.BlockID, Location: b.Location, Synthetic: b.Synthetic, Executed: executed[b.BlockID]})
	}
	for _, ex := range ev.Result.Examples {
		r.Examples = append(r.Examples, ex.ID)
	}
	for _, p := range ev.Result.Problems {
		r.Problems = append(r.Problems, p.Error())
	}
	if ev.Err != nil {
		r.Error = ev.Err.Error()
		r.TimedOut = trace.IsTimeout(ev.Err)
	}
	return r
}

// palette holds the report colors. They are switched on or off per palette,
// never through color.NoColor.
type palette struct {
	header, location, value, meta, failure, warning *color.Color
}

func newPalette(enabled bool) palette {
	p := palette{
		header:   color.New(color.FgCyan, color.Bold),
		location: color.New(color.FgBlue),
		value:    color.New(color.FgGreen),
		meta:     color.New(color.Faint),
		failure:  color.New(color.FgRed, color.Bold),
		warning:  color.New(color.FgYellow),
	}
	for _, c := range []*color.Color{p.header, p.location, p.value, p.meta, p.failure, p.warning} {
		if enabled {
			c.EnableColor()
		} else {
			c.DisableColor()
		}
	}
	return p
}

// colorEnabled maps the color setting to on or off. "auto" follows
// fatih/color's terminal detection.
func colorEnabled(mode string) bool {
	switch strings.ToLower(mode) {
	case "always":
		return true
	case "never":
		return false
	}
	return !color.NoColor
}

// reporter writes evaluations in one format.
type reporter struct {
	w      io.Writer
	format string
	colors palette
}

func newReporter(w io.Writer, format string, colored bool) *reporter {
	return &reporter{w: w, format: format, colors: newPalette(colored && format == formatText)}
}

func (rp *reporter) write(ev *evaluation) error {
	r := newReport(ev)
	switch rp.format {
	case formatJSON:
		enc := json.NewEncoder(rp.w)
		enc.SetIndent("", "  ")
		if err := enc.Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return nil
	case formatMsgpack:
		if err := msgpack.NewEncoder(rp.w).Encode(r); err != nil {
			return fmt.Errorf("failed to encode report: %w", err)
		}
		return nil
	}
	return rp.text(ev, r)
}

// text renders:
//
//	== square.go (evaluation 0b9d…, 1.2ms)
//	x 3:12-3:13
//	  three  run 0  after  3 int
//	return 4:1-4:7
//	  three  run 0  after  9 int
//	blocks: 1 of 1 executed
func (rp *reporter) text(ev *evaluation, r *report) error {
	c := rp.colors
	var b strings.Builder

	fmt.Fprintf(&b, "%s %s\n", c.header.Sprintf("== %s", r.File),
		c.meta.Sprintf("(evaluation %s, %s)", r.Trace.Evaluation, ev.Elapsed.Round(time.Microsecond)))

	byNode := make(map[int][]trace.DumpRecord)
	for _, rec := range r.Trace.Records {
		byNode[rec.Node] = append(byNode[rec.Node], rec)
	}
	probes := append([]reportProbe(nil), r.Probes...)
	sort.SliceStable(probes, func(i, j int) bool { return probes[i].Node < probes[j].Node })

	for _, p := range probes {
		fmt.Fprintf(&b, "%s %s\n", c.header.Sprint(p.Name), c.location.Sprint(p.Location))
		recs := byNode[p.Node]
		if len(recs) == 0 {
			fmt.Fprintf(&b, "  %s\n", c.meta.Sprint("not reached"))
			continue
		}
		for _, rec := range recs {
			rp.textValue(&b, rec, trace.Before, rec.Before)
			rp.textValue(&b, rec, trace.After, rec.After)
		}
	}

	executed := 0
	var dead []string
	for _, blk := range r.Blocks {
		if blk.Executed {
			executed++
			continue
		}
		dead = append(dead, blk.Location)
	}
	fmt.Fprintf(&b, "%s %d of %d executed\n", c.header.Sprint("blocks:"), executed, len(r.Blocks))
	if len(dead) > 0 {
		fmt.Fprintf(&b, "  %s %s\n", c.meta.Sprint("not executed:"), c.location.Sprint(strings.Join(dead, " ")))
	}

	errs := r.Trace.Errors
	if len(errs) > 0 {
		ids := make([]string, 0, len(errs))
		for id := range errs {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		fmt.Fprintln(&b, c.header.Sprint("errors:"))
		for _, id := range ids {
			fmt.Fprintf(&b, "  %s %s\n", id, c.failure.Sprint(errs[id]))
		}
	}
	for _, p := range r.Problems {
		fmt.Fprintf(&b, "%s %s\n", c.warning.Sprint("skipped:"), p)
	}
	if r.Error != "" {
		fmt.Fprintf(&b, "%s %s\n", c.failure.Sprint("error:"), r.Error)
	}
	if r.Output != "" {
		fmt.Fprintln(&b, c.header.Sprint("output:"))
		for _, line := range strings.Split(strings.TrimRight(r.Output, "\n"), "\n") {
			fmt.Fprintf(&b, "  %s\n", line)
		}
	}

	_, err := io.WriteString(rp.w, b.String())
	return err
}

func (rp *reporter) textValue(b *strings.Builder, rec trace.DumpRecord, keyword string, v *trace.DumpValue) {
	if v == nil {
		return
	}
	c := rp.colors
	typ := v.Type
	if v.Identity != "" {
		typ += " " + v.Identity
	}
	fmt.Fprintf(b, "  %s  run %d  %-6s %s %s\n",
		rec.Example, rec.Run, keyword, c.value.Sprint(v.Text), c.meta.Sprint(typ))
}

// statsSummary prints the statistics block of `babylon instrument -v`.
func statsSummary(w io.Writer, file string, res *instrument.Result) {
	s := res.Stats
	fmt.Fprintf(w, "Instrumented %s:\n", file)
	fmt.Fprintf(w, "  - %d probes inserted (%d returns rewritten)\n", s.ProbesInserted, s.ReturnsRewritten)
	fmt.Fprintf(w, "  - %d blocks tracked\n", s.BlocksTracked)
	fmt.Fprintf(w, "  - %d examples expanded, %d instances generated, %d replacements applied\n",
		s.ExamplesExpanded, s.InstancesGenerated, s.ReplacementsApplied)
	if res.Coalescing.CoalescedMarkers > 0 {
		fmt.Fprintf(w, "  - %d duplicate markers coalesced\n", res.Coalescing.CoalescedMarkers)
	}
	fmt.Fprintf(w, "  - %d markers skipped, %d fragments dropped\n", s.MarkersSkipped, s.FragmentsDropped)
	for _, p := range res.Problems {
		fmt.Fprintf(w, "    %v\n", p)
	}
}
