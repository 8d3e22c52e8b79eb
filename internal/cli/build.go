package cli

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/docker/go-units"

	"github.com/cruciblehq/strata/internal/build"
	"github.com/cruciblehq/strata/internal/cache"
	"github.com/cruciblehq/strata/internal/manifest"
	"github.com/cruciblehq/strata/internal/paths"
)

// Represents the 'strata build' command.
type BuildCmd struct {
	Manifest    string `required:"" help:"Path to the dependency manifest." placeholder:"PATH" type:"existingfile"`
	Lock        string `required:"" help:"Path to the lock file with pinned dependency versions." placeholder:"PATH" type:"existingfile"`
	SysPackages string `required:"" help:"Path to the system-package list." placeholder:"PATH" type:"existingfile"`
	Source      string `required:"" help:"Path to the application source root." placeholder:"DIR" type:"existingdir"`
	CacheDir    string `help:"Override the default layer cache directory." placeholder:"DIR"`
	CacheSize   string `help:"Layer cache size budget for LRU eviction." default:"10GB"`
	NoCache     bool   `help:"Skip cache lookups. Fresh results are still stored."`
	Output      string `short:"o" help:"Directory for the exported image." default:"dist"`
}

// Executes the build command.
func (c *BuildCmd) Run(ctx context.Context) error {
	spec, err := manifest.Load(manifest.Inputs{
		Manifest:    c.Manifest,
		Lock:        c.Lock,
		SysPackages: c.SysPackages,
		Source:      c.Source,
	})
	if err != nil {
		return err
	}

	budget, err := units.RAMInBytes(c.CacheSize)
	if err != nil {
		return fmt.Errorf("invalid --cache-size %q: %w", c.CacheSize, err)
	}

	cacheDir := c.CacheDir
	if cacheDir == "" {
		cacheDir = paths.Cache()
	}

	layerCache, err := cache.Open(cache.Options{
		Dir:     cacheDir,
		Budget:  budget,
		NoCache: c.NoCache,
	})
	if err != nil {
		return err
	}

	result, err := build.Run(ctx, build.Options{
		Spec:   spec,
		Cache:  layerCache,
		Output: c.Output,
	})
	if err != nil {
		return err
	}

	slog.Info("build complete",
		"layers", len(result.Image.Layers),
		"output", result.Output,
	)

	return nil
}
