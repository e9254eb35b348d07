// config.go loads babylon.toml tool settings.
package main

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
	"go.uber.org/zap"
)

const settingsFileName = "babylon.toml"

// settings are the tool settings of babylon.toml:
//
//	[run]
//	timeout = "1s"    # evaluation budget
//	format = "text"   # text, json or msgpack
//	color = "auto"    # auto, always or never
//	jobs = 4          # concurrent evaluations
//
//	[export]
//	dir = "babylon-out"
type settings struct {
	Run    runSettings    `toml:"run"`
	Export exportSettings `toml:"export"`
}

type runSettings struct {
	Timeout duration `toml:"timeout"`
	Format  string   `toml:"format"`
	Color   string   `toml:"color"`
	Jobs    int      `toml:"jobs"`
}

type exportSettings struct {
	Dir string `toml:"dir"`
}

// duration decodes TOML strings such as "1500ms".
type duration struct {
	time.Duration
}

func (d *duration) UnmarshalText(text []byte) error {
	v, err := time.ParseDuration(string(text))
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", text, err)
	}
	d.Duration = v
	return nil
}

func defaultSettings() settings {
	return settings{
		Run: runSettings{
			Timeout: duration{time.Second},
			Format:  formatText,
			Color:   "auto",
		},
		Export: exportSettings{Dir: "babylon-out"},
	}
}

// findSettings walks up from startDir to the nearest babylon.toml.
func findSettings(startDir string) (string, bool, error) {
	if startDir == "" {
		startDir = "."
	}
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return "", false, fmt.Errorf("failed to resolve start directory: %w", err)
	}
	for {
		candidate := filepath.Join(dir, settingsFileName)
		if _, err := os.Stat(candidate); err == nil {
			return candidate, true, nil
		} else if !errors.Is(err, os.ErrNotExist) {
			return "", false, fmt.Errorf("failed to stat %q: %w", candidate, err)
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return "", false, nil
}

// loadSettings reads explicit if set, else the nearest babylon.toml. Without
// a file the defaults apply. It returns the path read ("" for defaults).
func loadSettings(explicit string) (settings, string, error) {
	path := explicit
	if path == "" {
		found, ok, err := findSettings(".")
		if err != nil {
			return settings{}, "", err
		}
		if !ok {
			return defaultSettings(), "", nil
		}
		path = found
	}
	s, err := decodeSettings(path)
	if err != nil {
		return settings{}, "", err
	}
	return s, path, nil
}

func decodeSettings(path string) (settings, error) {
	s := defaultSettings()
	meta, err := toml.DecodeFile(path, &s)
	if err != nil {
		return settings{}, fmt.Errorf("%s: failed to parse TOML: %w", path, err)
	}
	for _, key := range meta.Undecoded() {
		logger.Warn("unknown setting", zap.String("path", path), zap.String("key", key.String()))
	}
	if err := s.validate(); err != nil {
		return settings{}, fmt.Errorf("%s: %w", path, err)
	}
	return s, nil
}

func (s settings) validate() error {
	if s.Run.Timeout.Duration <= 0 {
		return fmt.Errorf("[run].timeout must be positive, got %s", s.Run.Timeout.Duration)
	}
	if _, err := parseFormat(s.Run.Format); err != nil {
		return fmt.Errorf("[run].format: %w", err)
	}
	switch strings.ToLower(s.Run.Color) {
	case "auto", "always", "never":
	default:
		return fmt.Errorf("[run].color must be auto, always or never, got %q", s.Run.Color)
	}
	if s.Run.Jobs < 0 {
		return fmt.Errorf("[run].jobs must not be negative, got %d", s.Run.Jobs)
	}
	return nil
}
