package main

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/kolkov/babylon/trace"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

const squareProgram = `package main

func square(x int) int {
	return x * x
}
`

const squareSession = `probes:
  - location: "3:12-3:13"
  - location: "4:1-4:7"
examples:
  - id: three
    location: "3:5-3:11"
    values: ["3"]
`

// squareFixture writes square.go with its default session and an empty
// settings file, returning the program and settings paths.
func squareFixture(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	program := writeFile(t, filepath.Join(dir, "square.go"), squareProgram)
	writeFile(t, defaultSessionPath(program), squareSession)
	settingsPath := writeFile(t, filepath.Join(dir, settingsFileName), "[run]\ncolor = \"never\"\n")
	return program, settingsPath
}

// execute runs the CLI with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	cmd := newRootCmd()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestInstrumentCommand(t *testing.T) {
	program, settingsPath := squareFixture(t)

	stdout, stderr, err := execute(t, "--config", settingsPath, "instrument", "--stats", program)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "package main"))
	assert.Contains(t, stdout, "__tracker.ID(")
	assert.Contains(t, stdout, `__tracker.Example("three")`)
	assert.Contains(t, stderr, "Instrumented "+program+":")
	assert.Contains(t, stderr, "2 probes inserted")
}

func TestInstrumentCommand_OutputFile(t *testing.T) {
	program, settingsPath := squareFixture(t)
	out := filepath.Join(t.TempDir(), "square.instrumented.go")

	stdout, _, err := execute(t, "--config", settingsPath, "instrument", "-p", "4:1-4:7", "-o", out, program)
	require.NoError(t, err)
	assert.Empty(t, stdout)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Contains(t, string(data), "__tracker.ID(")
}

func TestInstrumentCommand_BadProbe(t *testing.T) {
	program, settingsPath := squareFixture(t)
	_, _, err := execute(t, "--config", settingsPath, "instrument", "-p", "four", program)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --probe")
}

func TestInstrumentCommand_SyntaxError(t *testing.T) {
	dir := t.TempDir()
	program := writeFile(t, filepath.Join(dir, "broken.go"), "package main\n\nfunc broken( {\n")
	settingsPath := writeFile(t, filepath.Join(dir, settingsFileName), "")

	_, _, err := execute(t, "--config", settingsPath, "instrument", program)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse")
}

func TestExportCommand(t *testing.T) {
	program, settingsPath := squareFixture(t)
	out := filepath.Join(t.TempDir(), "exported")

	stdout, _, err := execute(t, "--config", settingsPath, "export", "-o", out, "--timeout", "2s", program)
	require.NoError(t, err)
	assert.Contains(t, stdout, "Exported: "+program+" -> "+out)

	for _, name := range []string{"main.go", "babylon_main.go", "go.mod"} {
		_, err := os.Stat(filepath.Join(out, name))
		assert.NoError(t, err, name)
	}
	runner, err := os.ReadFile(filepath.Join(out, "babylon_main.go"))
	require.NoError(t, err)
	assert.Contains(t, string(runner), "time.Duration(2000000000)")
}

func TestLocateCommand(t *testing.T) {
	program, settingsPath := squareFixture(t)

	stdout, _, err := execute(t, "--config", settingsPath, "locate", "--json", program, "3:5-3:11", "3:12-3:13")
	require.NoError(t, err)

	var got []located
	require.NoError(t, json.Unmarshal([]byte(stdout), &got))
	require.Len(t, got, 2)

	assert.Equal(t, "3:5-3:11", got[0].Location)
	assert.Equal(t, "*ast.Ident", got[0].Node)
	assert.Equal(t, "square", got[0].Text)
	assert.True(t, got[0].Example)
	assert.False(t, got[0].Instance)

	assert.Equal(t, "x", got[1].Text)
	assert.True(t, got[1].Probe)
	assert.False(t, got[1].Example)
}

func TestLocateCommand_Text(t *testing.T) {
	program, settingsPath := squareFixture(t)

	stdout, _, err := execute(t, "--config", settingsPath, "locate", program, "3:12-3:13")
	require.NoError(t, err)
	assert.Contains(t, stdout, "3:12-3:13  *ast.Ident")
	assert.Contains(t, stdout, "markers: probe")
}

func TestLocateCommand_NoNode(t *testing.T) {
	program, settingsPath := squareFixture(t)
	_, _, err := execute(t, "--config", settingsPath, "locate", program, "40:0-40:1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no node at 40:0-40:1")
}

func TestVersionCommand(t *testing.T) {
	_, settingsPath := squareFixture(t)

	stdout, _, err := execute(t, "--config", settingsPath, "version", "--format", "json")
	require.NoError(t, err)

	var p versionPayload
	require.NoError(t, json.Unmarshal([]byte(stdout), &p))
	assert.Equal(t, "babylon", p.Tool)
	assert.Equal(t, trace.Version, p.Version)
	assert.Equal(t, trace.Protocol, p.Protocol)

	stdout, _, err = execute(t, "--config", settingsPath, "version")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(stdout, "babylon "+trace.Version))

	_, _, err = execute(t, "--config", settingsPath, "version", "--format", "xml")
	assert.Error(t, err)
}

func TestRootCommand_BadSettings(t *testing.T) {
	settingsPath := writeFile(t, filepath.Join(t.TempDir(), settingsFileName), "[run]\nformat = \"xml\"\n")
	_, _, err := execute(t, "--config", settingsPath, "version")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown format")
}
