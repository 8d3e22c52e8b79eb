package build

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/cruciblehq/strata/internal/manifest"
	"github.com/cruciblehq/strata/internal/paths"
)

// Default shell used for run steps.
const defaultShell = "/bin/sh"

// Outcome of one external command invocation.
type RunResult struct {
	ExitCode int    // Exit status of the process.
	Output   string // Combined stdout and stderr.
}

// Abstracts external process invocation so the pipeline can be exercised
// with a scripted fake instead of real package managers.
type Runner interface {
	Run(ctx context.Context, command, workdir string) (*RunResult, error)
}

// Runs commands through a shell as "shell -c command" with the step's
// working directory as both the process cwd and $STRATA_ROOT.
type ShellRunner struct {
	Shell string // Shell binary; defaults to /bin/sh when empty.
}

func (r *ShellRunner) Run(ctx context.Context, command, workdir string) (*RunResult, error) {
	shell := r.Shell
	if shell == "" {
		shell = defaultShell
	}

	cmd := exec.CommandContext(ctx, shell, "-c", command)
	cmd.Dir = workdir
	cmd.Env = append(os.Environ(), "STRATA_ROOT="+workdir)

	var output bytes.Buffer
	cmd.Stdout = &output
	cmd.Stderr = &output

	err := cmd.Run()

	// Cancellation takes priority over the exit status of the killed
	// process, so callers see context.Canceled rather than a StepError.
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	var exitErr *exec.ExitError
	switch {
	case err == nil:
		return &RunResult{ExitCode: 0, Output: output.String()}, nil
	case errors.As(err, &exitErr):
		return &RunResult{ExitCode: exitErr.ExitCode(), Output: output.String()}, nil
	default:
		return nil, err
	}
}

// Executes single build steps in isolated working copies.
type Executor struct {
	Runner  Runner // External process abstraction.
	Scratch string // Directory for workdirs and delta files.
}

// Executes one step against a working copy of root and returns the path of
// the resulting delta tar in the scratch directory.
//
// The step mutates only its isolated working copy; root is never touched.
// On command failure the working copy is discarded and a [StepError] with
// the captured output is returned. On cancellation the subprocess is torn
// down and the context error is returned. Either way, no delta exists for
// a step that did not complete.
func (e *Executor) Execute(ctx context.Context, step manifest.Step, root string) (string, error) {
	workdir := filepath.Join(e.Scratch, "work-"+uuid.NewString())
	if err := os.MkdirAll(workdir, paths.DefaultDirMode); err != nil {
		return "", fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	defer os.RemoveAll(workdir)

	if err := cloneTree(root, workdir); err != nil {
		return "", err
	}

	before, err := snapshot(workdir)
	if err != nil {
		return "", err
	}

	if err := e.executeStep(ctx, step, workdir); err != nil {
		return "", err
	}

	delta, err := os.CreateTemp(e.Scratch, "delta-*.tar")
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	if err := writeDelta(delta, workdir, before); err != nil {
		delta.Close()
		os.Remove(delta.Name())
		return "", err
	}
	if err := delta.Close(); err != nil {
		os.Remove(delta.Name())
		return "", fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	return delta.Name(), nil
}

// Dispatches a step to command execution or file copy.
func (e *Executor) executeStep(ctx context.Context, step manifest.Step, workdir string) error {
	switch {
	case step.Copy != nil:
		return executeCopy(step, workdir)
	case step.Command != "":
		return e.executeCommand(ctx, step, workdir)
	default:
		return fmt.Errorf("%w: step %q has no command and no copy spec", ErrBuild, step.Name)
	}
}

// Runs a step's command and converts a non-zero exit into a [StepError].
func (e *Executor) executeCommand(ctx context.Context, step manifest.Step, workdir string) error {
	slog.Debug("run", "step", step.Name, "command", step.Command)

	result, err := e.Runner.Run(ctx, step.Command, workdir)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return &StepError{
			Kind:     step.Kind,
			Command:  step.Command,
			ExitCode: result.ExitCode,
			Output:   result.Output,
		}
	}

	return nil
}

// Copies the step's source tree into the working copy at the copy
// destination. Copy failures carry the same diagnostics as command
// failures, with no exit status.
func executeCopy(step manifest.Step, workdir string) error {
	dest := filepath.Join(workdir, filepath.FromSlash(strings.TrimPrefix(step.Copy.Dest, "/")))

	slog.Debug("copy", "step", step.Name, "src", step.Copy.Src, "dest", step.Copy.Dest)

	if err := os.MkdirAll(dest, paths.DefaultDirMode); err != nil {
		return stepCopyError(step, err)
	}
	if err := cloneTree(step.Copy.Src, dest); err != nil {
		return stepCopyError(step, err)
	}

	return nil
}

// Wraps a copy failure as a [StepError].
func stepCopyError(step manifest.Step, err error) error {
	return &StepError{
		Kind:     step.Kind,
		Command:  "copy " + step.Copy.Src + " " + step.Copy.Dest,
		ExitCode: NoExitCode,
		Output:   fmt.Sprintf("%v: %v", ErrCopy, err),
	}
}
