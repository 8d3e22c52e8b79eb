package image

import (
	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/strata/internal/cache"
	"github.com/cruciblehq/strata/internal/manifest"
)

// One layer of an assembled image.
type Layer struct {
	Key  digest.Digest // Cache key of the producing step.
	Diff digest.Digest // Content digest of the uncompressed delta tar.
	Size int64         // Delta tar size in bytes.
	Kind string        // Kind of the producing step, for history records.
	blob string        // Source path of the delta tar.
}

// An assembled image: the ordered layer sequence atop a base image
// reference. The value lives only until it is exported or the process
// exits; nothing is persisted beyond an explicit Export.
type Image struct {
	Base   string // Base image identity.
	Layers []Layer
}

// Composes the deltas produced by a completed pipeline into an Image.
//
// The delta sequence must correspond one-to-one, in order, with the spec's
// steps. Any mismatch is a planner bug and fails with an
// [InconsistencyError].
func Assemble(spec *manifest.BuildSpec, deltas []cache.Delta) (*Image, error) {
	if len(deltas) != len(spec.Steps) {
		return nil, inconsistency("%d deltas for %d steps", len(deltas), len(spec.Steps))
	}

	img := &Image{Base: spec.Base}

	for i, delta := range deltas {
		step := spec.Steps[i]
		if delta.Kind != string(step.Kind) {
			return nil, inconsistency("delta %d is %s, step is %s", i, delta.Kind, step.Kind)
		}
		if delta.Blob == "" || delta.Checksum == "" {
			return nil, inconsistency("delta %d (%s) is incomplete", i, step.Kind)
		}

		img.Layers = append(img.Layers, Layer{
			Key:  delta.Key,
			Diff: delta.Checksum,
			Size: delta.Size,
			Kind: delta.Kind,
			blob: delta.Blob,
		})
	}

	return img, nil
}
