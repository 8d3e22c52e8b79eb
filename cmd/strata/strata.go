package main

import (
	"errors"
	"log/slog"
	"os"

	"github.com/cruciblehq/strata/internal"
	"github.com/cruciblehq/strata/internal/build"
	"github.com/cruciblehq/strata/internal/cli"
	"github.com/cruciblehq/strata/internal/image"
	"github.com/cruciblehq/strata/internal/manifest"
)

// Exit codes, one per error class in the build taxonomy.
const (
	exitOK           = 0
	exitManifest     = 1
	exitStep         = 2
	exitInconsistent = 3
)

// The entry point for the strata CLI.
//
// Initializes logging, executes the root command, and maps the error
// taxonomy to exit codes: 1 for invalid build inputs, 2 for failed step
// executions, 3 for internal inconsistencies.
func main() {
	slog.SetDefault(logger())

	slog.Debug("build", "version", internal.VersionString())

	slog.Debug("strata is running",
		"pid", os.Getpid(),
		"cwd", cwd(),
		"args", os.Args,
	)

	if err := cli.Execute(); err != nil {
		slog.Error(err.Error())
		os.Exit(exitCode(err))
	}
}

// Maps an error to its exit code.
//
// Inconsistency is checked first: a defect outranks whatever it was
// wrapped with. Unclassified errors report as manifest-class failures.
func exitCode(err error) int {
	var (
		manifestErr *manifest.Error
		stepErr     *build.StepError
		inconsist   *image.InconsistencyError
	)
	switch {
	case errors.As(err, &inconsist):
		return exitInconsistent
	case errors.As(err, &stepErr):
		return exitStep
	case errors.As(err, &manifestErr):
		return exitManifest
	default:
		return exitManifest
	}
}

// Creates a logger seeded from build-time linker flags.
//
// The logger is reconfigured after flag parsing via cli.Execute.
func logger() *slog.Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: logLevel(),
	})
	return slog.New(handler)
}

// Returns the log level derived from build-time linker flags.
func logLevel() slog.Level {
	if internal.IsDebug() {
		return slog.LevelDebug
	}
	if internal.IsQuiet() {
		return slog.LevelWarn
	}
	return slog.LevelInfo
}

// Returns the current working directory or "(unknown)".
func cwd() string {
	cwd, err := os.Getwd()
	if err != nil {
		return "(unknown)"
	}
	return cwd
}
