package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/google/uuid"
	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/strata/internal/cache"
	"github.com/cruciblehq/strata/internal/image"
	"github.com/cruciblehq/strata/internal/manifest"
	"github.com/cruciblehq/strata/internal/paths"
)

// Controls build execution.
type Options struct {
	Spec    *manifest.BuildSpec // Build spec to execute.
	Cache   *cache.Cache        // Layer cache shared across builds.
	Output  string              // Directory for the exported image; empty skips export.
	Runner  Runner              // External process abstraction. Defaults to a /bin/sh runner.
	Scratch string              // Parent directory for per-build scratch space. Defaults to the platform work dir.
}

// Returned after successful build execution.
type Result struct {
	Image  *image.Image    // Assembled image.
	Keys   []digest.Digest // Cache key per step, in step order.
	Cached []bool          // Whether each step was served from the cache.
	Output string          // Directory containing the exported image, when exported.
}

// Executes a build spec against the layer cache.
//
// Steps run strictly sequentially; each starts from the filesystem state
// the previous one produced. Cache hits skip execution entirely. After the
// last step the deltas are assembled into an image and, when an output
// directory is set, exported as an OCI layout.
func Run(ctx context.Context, opts Options) (*Result, error) {
	id := uuid.NewString()[:8]

	slog.Info("executing build",
		"id", id,
		"base", opts.Spec.Base,
		"steps", len(opts.Spec.Steps),
		"output", opts.Output,
	)

	scratch, cleanup, err := makeScratch(opts.Scratch, id)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	runner := opts.Runner
	if runner == nil {
		runner = &ShellRunner{}
	}

	pl := &pipeline{
		spec:    opts.Spec,
		cache:   opts.Cache,
		exec:    &Executor{Runner: runner, Scratch: scratch},
		scratch: scratch,
		id:      id,
	}

	deltas, keys, cached, err := pl.run(ctx)
	if err != nil {
		return nil, err
	}

	img, err := image.Assemble(opts.Spec, deltas)
	if err != nil {
		return nil, err
	}

	if opts.Output != "" {
		if err := os.MkdirAll(opts.Output, paths.DefaultDirMode); err != nil {
			return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
		}
		if err := image.Export(img, opts.Output); err != nil {
			return nil, err
		}
	}

	return &Result{Image: img, Keys: keys, Cached: cached, Output: opts.Output}, nil
}

// Creates a per-build scratch directory and returns its cleanup func.
func makeScratch(parent, id string) (string, func(), error) {
	if parent == "" {
		parent = paths.Work()
	}
	if err := os.MkdirAll(parent, paths.DefaultDirMode); err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	scratch, err := os.MkdirTemp(parent, "build-"+id+"-")
	if err != nil {
		return "", nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	return scratch, func() { os.RemoveAll(scratch) }, nil
}
