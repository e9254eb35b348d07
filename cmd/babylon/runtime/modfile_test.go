package runtime

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/mod/modfile"
)

// TestFindProjectRoot verifies project root detection from inside the
// checkout.
func TestFindProjectRoot(t *testing.T) {
	root, err := findProjectRoot()
	if err != nil {
		t.Logf("findProjectRoot() error: %v (expected if not in project tree)", err)
		return
	}
	data, err := os.ReadFile(filepath.Join(root, "go.mod"))
	require.NoError(t, err)
	assert.Equal(t, ModulePath, modfile.ModulePath(data))
}

func TestFindOriginalGoMod(t *testing.T) {
	dir := t.TempDir()
	sub := filepath.Join(dir, "a", "b")
	require.NoError(t, os.MkdirAll(sub, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte("module example.com/user\n"), 0o644))

	assert.Equal(t, filepath.Join(dir, "go.mod"), findOriginalGoMod(sub))
}

func TestIsLocalPath(t *testing.T) {
	tests := []struct {
		path string
		want bool
	}{
		{"./local", true},
		{"../sibling", true},
		{"/abs/path", true},
		{`C:\mods\x`, true},
		{"subdir/module", true},
		{"github.com/foo/bar", false},
		{"golang.org/x/mod", false},
	}
	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			assert.Equal(t, tt.want, isLocalPath(tt.path))
		})
	}
}

func TestExportModFile(t *testing.T) {
	dir := t.TempDir()
	goMod := `module example.com/user

go 1.22

require github.com/google/uuid v1.6.0

replace example.com/lib => ../lib

replace example.com/pinned v1.0.0 => example.com/fork v1.0.1
`
	require.NoError(t, os.WriteFile(filepath.Join(dir, "go.mod"), []byte(goMod), 0o644))

	data, err := ExportModFile(dir)
	require.NoError(t, err)

	f, err := modfile.Parse("go.mod", data, nil)
	require.NoError(t, err)
	assert.Equal(t, ExportModule, f.Module.Mod.Path)

	requires := make(map[string]string)
	for _, r := range f.Require {
		requires[r.Mod.Path] = r.Mod.Version
	}
	assert.Contains(t, requires, ModulePath)
	assert.Equal(t, "v1.6.0", requires["github.com/google/uuid"])

	replaces := make(map[string]*modfile.Replace)
	for _, r := range f.Replace {
		replaces[r.Old.Path] = r
	}
	require.Contains(t, replaces, "example.com/lib")
	assert.True(t, filepath.IsAbs(replaces["example.com/lib"].New.Path))
	assert.Equal(t, filepath.Join(filepath.Dir(dir), "lib"), replaces["example.com/lib"].New.Path)

	require.Contains(t, replaces, "example.com/pinned")
	assert.Equal(t, "v1.0.0", replaces["example.com/pinned"].Old.Version)
	assert.Equal(t, "example.com/fork", replaces["example.com/pinned"].New.Path)
	assert.Equal(t, "v1.0.1", replaces["example.com/pinned"].New.Version)
}

func TestExportModFileNoSource(t *testing.T) {
	data, err := ExportModFile("")
	require.NoError(t, err)
	assert.Equal(t, ExportModule, modfile.ModulePath(data))
	assert.Contains(t, string(data), ModulePath)
}

func TestRunnerSource(t *testing.T) {
	src := RunnerSource(2 * time.Second)
	assert.Contains(t, src, "package main")
	assert.Contains(t, src, `__trace "github.com/kolkov/babylon/trace"`)
	assert.Contains(t, src, "time.Duration(2000000000)")
	assert.Contains(t, src, "BabylonRun(t, nil)")
	assert.Contains(t, src, "WriteDump(os.Stdout")
}

func TestExport(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "out")
	code := "package main\n\nfunc BabylonRun() {}\n"
	require.NoError(t, Export(dir, code, "", time.Second))

	for _, name := range []string{"main.go", "babylon_main.go", "go.mod"} {
		data, err := os.ReadFile(filepath.Join(dir, name))
		require.NoError(t, err, name)
		assert.NotEmpty(t, data, name)
	}
	got, err := os.ReadFile(filepath.Join(dir, "main.go"))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(string(got), "package main"))
}
