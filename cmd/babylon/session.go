// session.go reads session files: the markers and context an editor would
// send with each evaluation.
package main

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kolkov/babylon/cmd/babylon/instrument"
)

const sessionSuffix = ".babylon.yaml"

// session is one evaluation request:
//
//	file: square.go
//	probes:
//	  - location: "3:12-3:13"
//	examples:
//	  - id: three
//	    location: "3:5-3:11"
//	    values: ["3"]
//	context:
//	  prescript: limit := 10
//	connections:
//	  db: 42
type session struct {
	// File is the program, relative to the session file.
	File string `yaml:"file,omitempty"`

	instrument.Markers `yaml:",inline"`

	Context     instrument.Context     `yaml:"context,omitempty"`
	Connections map[string]interface{} `yaml:"connections,omitempty"`

	// Path is where the session was read from ("" for an implicit session).
	Path string `yaml:"-"`
}

// defaultSessionPath is <file without .go>.babylon.yaml.
func defaultSessionPath(file string) string {
	return strings.TrimSuffix(file, ".go") + sessionSuffix
}

// decodeSession strictly decodes one session document. Unknown keys are
// errors so that a misspelled marker list is never silently ignored.
func decodeSession(r io.Reader) (*session, error) {
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	var s session
	if err := dec.Decode(&s); err != nil {
		if errors.Is(err, io.EOF) {
			return &session{}, nil
		}
		return nil, err
	}
	return &s, nil
}

func loadSession(path string) (*session, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read session: %w", err)
	}
	s, err := decodeSession(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%s: invalid session: %w", path, err)
	}
	s.Path = path
	if s.File != "" && !filepath.IsAbs(s.File) {
		s.File = filepath.Join(filepath.Dir(path), s.File)
	}
	return s, nil
}

// resolveSession finds the session for one evaluation. An explicit session
// path must exist. Otherwise file's default session is used when present,
// else an empty session. file overrides the session's own file entry.
func resolveSession(file, explicit string) (*session, error) {
	path := explicit
	if path == "" {
		if file == "" {
			return nil, fmt.Errorf("no program file or session specified")
		}
		path = defaultSessionPath(file)
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return &session{File: file}, nil
		}
	}

	s, err := loadSession(path)
	if err != nil {
		return nil, err
	}
	if file != "" {
		s.File = file
	}
	if s.File == "" {
		return nil, fmt.Errorf("%s: session names no program file", path)
	}
	return s, nil
}

// addProbes appends probes given on the command line.
func (s *session) addProbes(keys []string) error {
	for _, key := range keys {
		if _, err := instrument.ParseLocation(key); err != nil {
			return fmt.Errorf("invalid --probe: %w", err)
		}
		s.Probes = append(s.Probes, instrument.Probe{Location: key})
	}
	return nil
}
