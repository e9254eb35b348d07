package main

import (
	"bytes"
	"context"
	"encoding/json"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vmihailenco/msgpack/v5"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"

	"github.com/kolkov/babylon/trace"
)

// useTestLogger routes the package logger to t until the test ends.
func useTestLogger(t *testing.T) {
	t.Helper()
	logger = zaptest.NewLogger(t)
	t.Cleanup(func() { logger = zap.NewNop() })
}

func squareEvaluation(t *testing.T) *evaluation {
	t.Helper()
	program, _ := squareFixture(t)
	s, err := resolveSession(program, "")
	require.NoError(t, err)

	ev, err := evaluate(context.Background(), s, 5*time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, ev.Err)
	return ev
}

func TestEvaluate(t *testing.T) {
	ev := squareEvaluation(t)
	assert.NotEmpty(t, ev.ID)
	require.Len(t, ev.Result.Probes, 2)

	d := ev.dump()
	assert.Equal(t, ev.ID, d.Evaluation)
	assert.Contains(t, d.Examples, "three")
	assert.Contains(t, d.Executed, ev.Result.ProgramBlock)

	id, ok := ev.Result.NodeID("4:1-4:7")
	require.True(t, ok)
	rec, ok := ev.Tracker.Record(id, "three", 0)
	require.True(t, ok)
	require.NotNil(t, rec.After)
	assert.Equal(t, 9, rec.After.Value)
}

func TestEvaluate_Timeout(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, filepath.Join(dir, "spin.go"), `package main

func spin() {
	for {
	}
}
`)
	writeFile(t, defaultSessionPath(program), "examples:\n  - id: spin\n    location: \"3:5-3:9\"\n")
	s, err := resolveSession(program, "")
	require.NoError(t, err)

	ev, err := evaluate(context.Background(), s, 50*time.Millisecond, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Error(t, ev.Err)
	assert.True(t, trace.IsTimeout(ev.Err))

	r := newReport(ev)
	assert.True(t, r.TimedOut)
	assert.Contains(t, r.Trace.Errors["spin"], "timeout reached")
}

func TestEvaluate_CompileErrorIsReported(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, filepath.Join(dir, "undefined.go"), "package main\n\nfunc f() int {\n\treturn missing()\n}\n")
	s, err := resolveSession(program, "")
	require.NoError(t, err)

	ev, err := evaluate(context.Background(), s, time.Second, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.Error(t, ev.Err)
	assert.Contains(t, newReport(ev).Error, "failed to compile")
}

func TestReporter_Text(t *testing.T) {
	ev := squareEvaluation(t)

	var buf bytes.Buffer
	require.NoError(t, newReporter(&buf, formatText, false).write(ev))
	out := buf.String()

	assert.True(t, strings.HasPrefix(out, "== "+ev.File+" (evaluation "+ev.ID))
	assert.Contains(t, out, "x 3:12-3:13\n")
	assert.Contains(t, out, "  three  run 0  after  3 int\n")
	assert.Contains(t, out, "  three  run 0  after  9 int\n")
	assert.Contains(t, out, "blocks: ")
	assert.NotContains(t, out, "error:")
	assert.NotContains(t, out, "\x1b[", "colors must be off")
}

func TestReporter_JSON(t *testing.T) {
	ev := squareEvaluation(t)

	var buf bytes.Buffer
	require.NoError(t, newReporter(&buf, formatJSON, false).write(ev))

	var r report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &r))
	assert.Equal(t, ev.File, r.File)
	assert.Equal(t, []string{"three"}, r.Examples)
	assert.Len(t, r.Probes, 2)
	assert.Equal(t, ev.ID, r.Trace.Evaluation)
	assert.NotEmpty(t, r.Trace.Records)
}

func TestReporter_Msgpack(t *testing.T) {
	ev := squareEvaluation(t)

	var buf bytes.Buffer
	require.NoError(t, newReporter(&buf, formatMsgpack, false).write(ev))

	var r report
	require.NoError(t, msgpack.NewDecoder(&buf).Decode(&r))
	assert.Equal(t, ev.File, r.File)
	assert.Len(t, r.Trace.Records, len(ev.dump().Records))
}

func TestRunEvaluations_OrderAndConcurrency(t *testing.T) {
	dir := t.TempDir()
	var files []string
	for _, name := range []string{"a.go", "b.go", "c.go"} {
		program := writeFile(t, filepath.Join(dir, name), squareProgram)
		writeFile(t, defaultSessionPath(program), squareSession)
		files = append(files, program)
	}
	useTestLogger(t)

	rc := &runConfig{files: files, timeout: 5 * time.Second, format: formatText, color: "never", jobs: 2}
	var buf bytes.Buffer
	require.NoError(t, runEvaluations(context.Background(), rc, &buf))

	out := buf.String()
	ia := strings.Index(out, "== "+files[0])
	ib := strings.Index(out, "== "+files[1])
	ic := strings.Index(out, "== "+files[2])
	require.True(t, ia >= 0 && ib >= 0 && ic >= 0, out)
	assert.True(t, ia < ib && ib < ic, "reports must follow argument order")
}

func TestRunEvaluations_ExtraProbes(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, filepath.Join(dir, "square.go"), squareProgram)
	useTestLogger(t)

	rc := &runConfig{files: []string{program}, probes: []string{"4:1-4:7"}, timeout: time.Second, format: formatJSON}
	var buf bytes.Buffer
	require.NoError(t, runEvaluations(context.Background(), rc, &buf))

	var r report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &r))
	require.Len(t, r.Probes, 1)
	assert.Equal(t, "4:1-4:7", r.Probes[0].Location)
	// No example: the probe is never reached.
	assert.Empty(t, r.Trace.Records)
}

func TestRunEvaluations_UnreadableProgram(t *testing.T) {
	useTestLogger(t)
	rc := &runConfig{files: []string{filepath.Join(t.TempDir(), "missing.go")}, timeout: time.Second, format: formatText}
	err := runEvaluations(context.Background(), rc, &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read")
}

func TestRunConfigComplete(t *testing.T) {
	cfg = defaultSettings()
	cfg.Run.Jobs = 3
	t.Cleanup(func() { cfg = defaultSettings() })

	cmd := newRunCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--format", "JSON"}))
	rc := &runConfig{files: []string{"square.go"}, format: "JSON"}
	require.NoError(t, rc.complete(cmd))
	assert.Equal(t, formatJSON, rc.format)
	assert.Equal(t, time.Second, rc.timeout)
	assert.Equal(t, "auto", rc.color)
	assert.Equal(t, 3, rc.jobs)

	rc = &runConfig{files: []string{"square.py"}}
	assert.Error(t, rc.complete(newRunCmd()))

	rc = &runConfig{}
	assert.Error(t, rc.complete(newRunCmd()))
}
