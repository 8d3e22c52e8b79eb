package build

import (
	"errors"
	"fmt"
	"strings"

	"github.com/cruciblehq/strata/internal/manifest"
)

var (
	ErrBuild               = errors.New("build failed")
	ErrFileSystemOperation = errors.New("file system operation failed")
	ErrCopy                = errors.New("copy failed")
)

// Exit code reported for step failures that did not come from a process
// exit, such as copy errors or an unstartable command.
const NoExitCode = -1

// Describes a failed step execution.
//
// Carries everything needed to diagnose an external command failure: the
// step kind, the command line, the process exit status, and the captured
// combined output. Step failures are fatal and never retried.
type StepError struct {
	Kind     manifest.StepKind // Kind of the failed step.
	Command  string            // Command line that was executed.
	ExitCode int               // Process exit status, or NoExitCode.
	Output   string            // Captured stdout and stderr.
}

func (e *StepError) Error() string {
	msg := fmt.Sprintf("%s step failed (exit code %d): %s", e.Kind, e.ExitCode, e.Command)
	if out := strings.TrimSpace(e.Output); out != "" {
		msg += "\n" + out
	}
	return msg
}

// All step errors match ErrBuild via errors.Is.
func (e *StepError) Is(target error) bool {
	return target == ErrBuild
}
