package manifest

import (
	"errors"
	"fmt"
)

// Sentinel matched by errors.Is for any invalid or inconsistent build input.
var ErrManifest = errors.New("invalid build input")

// Describes an invalid or inconsistent build input.
//
// Path names the offending file. Field names the offending entry or field
// when one can be identified, and is empty for whole-file failures such as
// unreadable or syntactically invalid input.
type Error struct {
	Path  string // File the problem was found in.
	Field string // Offending field or entry, when known.
	Err   error  // Underlying cause.
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s: %v", e.Path, e.Field, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Path, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// All manifest errors match ErrManifest via errors.Is.
func (e *Error) Is(target error) bool {
	return target == ErrManifest
}

// Returns a new [Error] for a whole-file failure.
func fileError(path string, err error) *Error {
	return &Error{Path: path, Err: err}
}

// Returns a new [Error] for a specific field or entry.
func fieldError(path, field, format string, args ...any) *Error {
	return &Error{Path: path, Field: field, Err: fmt.Errorf(format, args...)}
}
