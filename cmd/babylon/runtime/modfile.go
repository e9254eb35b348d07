package runtime

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"golang.org/x/mod/modfile"

	"github.com/kolkov/babylon/cmd/babylon/instrument"
	"github.com/kolkov/babylon/trace"
)

// ModulePath is the module that provides the trace runtime.
const ModulePath = "github.com/kolkov/babylon"

// ExportModule is the module path of an exported program.
const ExportModule = "babylonexport"

// findProjectRoot finds the root of a babylon source checkout.
//
// This walks up from the working directory looking for a go.mod that
// declares ModulePath. Any other go.mod is the user's project and is
// passed over.
//
// Returns:
//   - Project root path
//   - Error if no checkout encloses the working directory or the executable
func findProjectRoot() (string, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	if root, ok := walkUpToModule(cwd); ok {
		return root, nil
	}

	// The binary may live in the checkout or its bin/ directory.
	if exePath, err := os.Executable(); err == nil {
		if root, ok := walkUpToModule(filepath.Dir(exePath)); ok {
			return root, nil
		}
	}

	return "", fmt.Errorf("could not find babylon project root")
}

func walkUpToModule(dir string) (string, bool) {
	for {
		if data, err := os.ReadFile(filepath.Join(dir, "go.mod")); err == nil {
			if modfile.ModulePath(data) == ModulePath {
				return dir, true
			}
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return "", false
		}
		dir = parent
	}
}

// findOriginalGoMod finds the go.mod of the project that owns startDir.
//
// Returns:
//   - Path to go.mod file
//   - Empty string if no go.mod found
func findOriginalGoMod(startDir string) string {
	dir := startDir
	for {
		modPath := filepath.Join(dir, "go.mod")
		if _, err := os.Stat(modPath); err == nil {
			return modPath
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return ""
}

// ExportModFile builds the go.mod of an exported program.
//
// The module requires the trace runtime. Inside a babylon checkout the
// requirement is replaced by the checkout; otherwise the published release
// matching trace.Version is required. Requirements and replace directives of
// the project owning sourceDir are carried over, with relative replacement
// paths made absolute, since the exported module lives elsewhere.
//
// Parameters:
//   - sourceDir: Directory of the source file being exported ("" for none)
//
// Returns:
//   - go.mod content
//   - Error if the original go.mod is malformed
func ExportModFile(sourceDir string) ([]byte, error) {
	f := new(modfile.File)
	if err := f.AddModuleStmt(ExportModule); err != nil {
		return nil, fmt.Errorf("failed to build go.mod: %w", err)
	}
	if err := f.AddGoStmt("1.24"); err != nil {
		return nil, fmt.Errorf("failed to build go.mod: %w", err)
	}

	if root, err := findProjectRoot(); err == nil {
		f.AddNewRequire(ModulePath, "v0.0.0", false)
		if err := f.AddReplace(ModulePath, "", root, ""); err != nil {
			return nil, fmt.Errorf("failed to build go.mod: %w", err)
		}
	} else {
		f.AddNewRequire(ModulePath, "v"+trace.Version, false)
	}

	if sourceDir != "" {
		if original := findOriginalGoMod(sourceDir); original != "" {
			if err := copyDirectives(f, original); err != nil {
				return nil, err
			}
		}
	}

	f.Cleanup()
	data, err := f.Format()
	if err != nil {
		return nil, fmt.Errorf("failed to format go.mod: %w", err)
	}
	return data, nil
}

// copyDirectives copies require and replace directives of the go.mod at
// goModPath into f, converting relative replacement paths to absolute ones.
func copyDirectives(f *modfile.File, goModPath string) error {
	data, err := os.ReadFile(goModPath)
	if err != nil {
		return fmt.Errorf("failed to read %s: %w", goModPath, err)
	}
	orig, err := modfile.Parse(goModPath, data, nil)
	if err != nil {
		return fmt.Errorf("failed to parse %s: %w", goModPath, err)
	}

	// The user's project may be babylon itself.
	if orig.Module != nil && orig.Module.Mod.Path == ModulePath {
		return nil
	}

	for _, req := range orig.Require {
		if req.Mod.Path == ModulePath {
			continue
		}
		f.AddNewRequire(req.Mod.Path, req.Mod.Version, req.Indirect)
	}

	goModDir := filepath.Dir(goModPath)
	for _, rep := range orig.Replace {
		if rep.Old.Path == ModulePath {
			continue
		}
		newPath := rep.New.Path
		if rep.New.Version == "" && isLocalPath(newPath) && !filepath.IsAbs(newPath) {
			if abs, err := filepath.Abs(filepath.Join(goModDir, newPath)); err == nil {
				newPath = abs
			}
		}
		if err := f.AddReplace(rep.Old.Path, rep.Old.Version, newPath, rep.New.Version); err != nil {
			return fmt.Errorf("failed to copy replace %s: %w", rep.Old.Path, err)
		}
	}
	return nil
}

// isLocalPath checks if a path is a local filesystem path (not a module path).
//
// Local paths start with ./, ../, /, or a drive letter on Windows.
func isLocalPath(path string) bool {
	if strings.HasPrefix(path, "./") || strings.HasPrefix(path, "../") {
		return true
	}
	if filepath.IsAbs(path) {
		return true
	}
	if len(path) >= 2 && path[1] == ':' {
		return true
	}
	return strings.ContainsAny(path, `/\`) && !strings.Contains(path, ".")
}

// RunnerSource returns the main file of an exported program. It runs the
// program under a fresh tracker with the given budget and writes the trace
// dump (msgpack) to stdout. A timeout still produces a dump.
func RunnerSource(budget time.Duration) string {
	return fmt.Sprintf(`package main

import (
	"os"
	"time"

	__trace %q
)

func main() {
	t := __trace.New(__trace.WithTimeout(time.Duration(%d)))
	func() {
		defer func() { _ = recover() }()
		%s(t, nil)
	}()
	if err := __trace.WriteDump(os.Stdout, t.Dump()); err != nil {
		os.Exit(1)
	}
}
`, GetRuntimePackagePath(), int64(budget), instrument.EntryPoint)
}

// Export writes an instrumented program to dir as a standalone module:
// main.go (the program), babylon_main.go (RunnerSource) and go.mod.
func Export(dir, code, sourceDir string, budget time.Duration) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create export directory: %w", err)
	}
	mod, err := ExportModFile(sourceDir)
	if err != nil {
		return err
	}
	files := map[string][]byte{
		"main.go":         []byte(code),
		"babylon_main.go": []byte(RunnerSource(budget)),
		"go.mod":          mod,
	}
	for name, data := range files {
		if err := os.WriteFile(filepath.Join(dir, name), data, 0o644); err != nil {
			return fmt.Errorf("failed to write %s: %w", name, err)
		}
	}
	return nil
}
