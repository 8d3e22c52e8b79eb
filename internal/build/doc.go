// Package build orchestrates the layered, cache-aware build pipeline.
//
// A build executes the steps of a [manifest.BuildSpec] strictly in order:
// system packages, then pinned dependencies, then the application source.
// Each step's cache key chains from the previous step's key and the content
// of its declared inputs, so an edit at any position invalidates that step
// and everything after it while leaving earlier layers reusable.
//
// On a cache hit the stored delta is replayed onto the build root; on a
// miss the step runs in an isolated working copy, its filesystem change set
// is captured as a delta tar, and the delta is stored before the pipeline
// advances. Failed or cancelled steps store nothing and abort the build.
// The completed delta sequence is assembled by the image package.
//
// External commands (package managers) are invoked through the narrow
// [Runner] interface; tests drive the pipeline with scripted runners
// instead of real subprocesses.
//
// Example usage:
//
//	result, err := build.Run(ctx, build.Options{
//	    Spec:   spec,
//	    Cache:  layerCache,
//	    Output: "dist",
//	})
//	if err != nil {
//	    return err
//	}
package build
