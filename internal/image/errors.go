package image

import (
	"errors"
	"fmt"
)

var (
	ErrExport       = errors.New("image export failed")
	ErrInconsistent = errors.New("internal inconsistency")
)

// Reports a violated assembler precondition: the delta sequence handed over
// by the planner does not match the step sequence. Always indicates a
// defect, never a user error, and is always fatal.
type InconsistencyError struct {
	Reason string
}

func (e *InconsistencyError) Error() string {
	return "internal inconsistency: " + e.Reason
}

// All inconsistency errors match ErrInconsistent via errors.Is.
func (e *InconsistencyError) Is(target error) bool {
	return target == ErrInconsistent
}

// Returns a new [InconsistencyError].
func inconsistency(format string, args ...any) *InconsistencyError {
	return &InconsistencyError{Reason: fmt.Sprintf(format, args...)}
}
