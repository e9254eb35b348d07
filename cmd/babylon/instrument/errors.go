// Package instrument - Error types for instrumentation.
//
// Errors carry a file position (file:line:column) and, where one exists, a
// suggestion for the user.
//
// Example output:
//
//	main.go:7:9: cannot probe a variable declared in a switch header
//
//	Suggestion: Move the declaration above the switch statement
package instrument

import (
	"fmt"
	"go/token"
)

// InstrumentationError is a marker that could not be honored.
//
// Instrument never fails on an InstrumentationError: the marker is skipped,
// logged and reported in Result.Problems. The rest of the rewrite proceeds.
//
// Fields:
//   - File: Source file path
//   - Line: Line number (1-indexed)
//   - Column: Column number (1-indexed)
//   - Location: Location key of the offending marker ("" if none)
//   - Message: Human-readable error description
//   - Suggestion: Optional hint for fixing the error
//
// Thread Safety: Immutable after creation, safe for concurrent use.
type InstrumentationError struct {
	File       string
	Line       int
	Column     int
	Location   string
	Message    string
	Suggestion string
}

// Error implements the error interface.
//
// Format: file:line:column: message
//
// If Suggestion is non-empty, it's appended on a new line with "Suggestion: " prefix.
func (e *InstrumentationError) Error() string {
	var result string
	if e.Line > 0 {
		result = fmt.Sprintf("%s:%d:%d: %s", e.File, e.Line, e.Column, e.Message)
	} else {
		result = fmt.Sprintf("%s: %s", e.File, e.Message)
	}
	if e.Location != "" {
		result += fmt.Sprintf(" (marker %s)", e.Location)
	}
	if e.Suggestion != "" {
		result += fmt.Sprintf("\n\nSuggestion: %s", e.Suggestion)
	}
	return result
}

// NewInstrumentationError creates an error with file position from an AST
// node position. An invalid pos yields an error without line information.
func NewInstrumentationError(fset *token.FileSet, pos token.Pos, msg string) *InstrumentationError {
	if !pos.IsValid() {
		return &InstrumentationError{Message: msg}
	}
	position := fset.Position(pos)
	return &InstrumentationError{
		File:    position.Filename,
		Line:    position.Line,
		Column:  position.Column,
		Message: msg,
	}
}

// NewInstrumentationErrorWithSuggestion creates an error with suggestion.
func NewInstrumentationErrorWithSuggestion(fset *token.FileSet, pos token.Pos, msg, suggestion string) *InstrumentationError {
	err := NewInstrumentationError(fset, pos, msg)
	err.Suggestion = suggestion
	return err
}

// SourceParseError is returned when the program itself does not parse.
// The evaluation cycle is aborted.
type SourceParseError struct {
	File string
	Err  error
}

func (e *SourceParseError) Error() string {
	return fmt.Sprintf("failed to parse %s: %v", e.File, e.Err)
}

func (e *SourceParseError) Unwrap() error { return e.Err }

// FragmentParseError is a user-supplied value, prescript or postscript that
// does not parse. Only the fragment is dropped.
type FragmentParseError struct {
	// Location is the key of the marker owning the fragment.
	Location string

	// Role names the fragment: "value", "prescript", "postscript", ...
	Role string

	Fragment string
	Err      error
}

func (e *FragmentParseError) Error() string {
	return fmt.Sprintf("marker %s: invalid %s %q: %v", e.Location, e.Role, e.Fragment, e.Err)
}

func (e *FragmentParseError) Unwrap() error { return e.Err }
