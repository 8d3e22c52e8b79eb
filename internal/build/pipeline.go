package build

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/strata/internal/cache"
	"github.com/cruciblehq/strata/internal/manifest"
	"github.com/cruciblehq/strata/internal/paths"
)

// Planner execution phase.
type phase int

const (
	phasePending phase = iota
	phaseResolving
	phaseExecuting
	phaseAdvancing
	phaseAssembled
	phaseFailed
)

func (p phase) String() string {
	switch p {
	case phasePending:
		return "pending"
	case phaseResolving:
		return "resolving"
	case phaseExecuting:
		return "executing"
	case phaseAdvancing:
		return "advancing"
	case phaseAssembled:
		return "assembled"
	case phaseFailed:
		return "failed"
	default:
		return fmt.Sprintf("phase(%d)", int(p))
	}
}

// Drives one build through its steps in declaration order.
//
// For each step the planner derives the chained cache key, then either
// replays the cached delta or executes the step and stores the result;
// both paths apply the delta to the build root so the next step starts
// from the correct filesystem state. The first error moves the pipeline
// to the failed phase and aborts all remaining steps.
type pipeline struct {
	spec    *manifest.BuildSpec
	cache   *cache.Cache
	exec    *Executor
	scratch string
	id      string
	phase   phase
}

// Runs all steps and returns the ordered deltas, their cache keys, and
// which steps were served from the cache.
func (p *pipeline) run(ctx context.Context) ([]cache.Delta, []digest.Digest, []bool, error) {
	root := filepath.Join(p.scratch, "root")
	if err := os.MkdirAll(root, paths.DefaultDirMode); err != nil {
		return nil, nil, nil, p.fail(fmt.Errorf("%w: %w", ErrFileSystemOperation, err))
	}

	var (
		deltas []cache.Delta
		keys   []digest.Digest
		cached []bool
		prev   = BaseKey(p.spec.Base)
	)

	for i, step := range p.spec.Steps {
		delta, key, hit, err := p.resolveStep(ctx, step, prev, root)
		if err != nil {
			return nil, nil, nil, p.fail(fmt.Errorf("%w: step %d (%s): %w", ErrBuild, i+1, step.Name, err))
		}

		deltas = append(deltas, delta)
		keys = append(keys, key)
		cached = append(cached, hit)
		prev = key
		p.transition(phaseAdvancing)
	}

	p.transition(phaseAssembled)
	return deltas, keys, cached, nil
}

// Resolves one step: derive the key, consult the cache (coalescing with any
// concurrent build of the same key), execute on a miss, and apply the delta
// to the build root.
func (p *pipeline) resolveStep(ctx context.Context, step manifest.Step, prev digest.Digest, root string) (cache.Delta, digest.Digest, bool, error) {
	p.transition(phaseResolving)

	key, err := StepKey(prev, step)
	if err != nil {
		return cache.Delta{}, "", false, err
	}

	start := time.Now()

	delta, hit, err := p.cache.Do(ctx, key, string(step.Kind), func(ctx context.Context) (string, error) {
		p.transition(phaseExecuting)
		return p.exec.Execute(ctx, step, root)
	})
	if err != nil {
		return cache.Delta{}, "", false, err
	}

	slog.Info("step resolved",
		"build", p.id,
		"step", step.Name,
		"key", key,
		"cached", hit,
		"duration", time.Since(start).Round(time.Millisecond),
	)

	if err := p.applyToRoot(root, delta); err != nil {
		return cache.Delta{}, "", false, err
	}

	return delta, key, hit, nil
}

// Applies a delta tar to the build root.
func (p *pipeline) applyToRoot(root string, delta cache.Delta) error {
	f, err := os.Open(delta.Blob)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	defer f.Close()

	return applyDelta(root, f)
}

// Records a phase transition.
func (p *pipeline) transition(next phase) {
	slog.Debug("pipeline transition", "build", p.id, "from", p.phase, "to", next)
	p.phase = next
}

// Moves the pipeline to the failed phase and returns err unchanged in
// meaning. No partial image is ever assembled from a failed pipeline.
func (p *pipeline) fail(err error) error {
	p.transition(phaseFailed)
	return err
}
