package image

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	goruntime "runtime"

	"github.com/opencontainers/go-digest"
	specs "github.com/opencontainers/image-spec/specs-go"
	ocispec "github.com/opencontainers/image-spec/specs-go/v1"

	"github.com/cruciblehq/strata/internal/paths"
)

// Writes the image as an OCI image layout directory.
//
// Layer blobs are copied into the layout verbatim (uncompressed tar), the
// image config records the diff IDs and one history entry per step, and the
// manifest carries the base image reference as an annotation. The output is
// deterministic: identical layers produce identical layouts.
func Export(img *Image, dir string) error {
	blobs := filepath.Join(dir, ocispec.ImageBlobsDir, digest.Canonical.String())
	if err := os.MkdirAll(blobs, paths.DefaultDirMode); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}

	var (
		diffIDs []digest.Digest
		layers  []ocispec.Descriptor
		history []ocispec.History
	)
	for _, layer := range img.Layers {
		if err := copyBlob(layer.blob, filepath.Join(blobs, layer.Diff.Encoded())); err != nil {
			return fmt.Errorf("%w: layer %s: %w", ErrExport, layer.Diff, err)
		}

		diffIDs = append(diffIDs, layer.Diff)
		layers = append(layers, ocispec.Descriptor{
			MediaType: ocispec.MediaTypeImageLayer,
			Digest:    layer.Diff,
			Size:      layer.Size,
		})
		history = append(history, ocispec.History{
			CreatedBy: "strata " + layer.Kind,
		})
	}

	config := ocispec.Image{
		Platform: ocispec.Platform{
			Architecture: goruntime.GOARCH,
			OS:           "linux",
		},
		RootFS: ocispec.RootFS{
			Type:    "layers",
			DiffIDs: diffIDs,
		},
		History: history,
	}

	configDesc, err := writeJSONBlob(blobs, ocispec.MediaTypeImageConfig, config)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}

	manifest := ocispec.Manifest{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageManifest,
		Config:    configDesc,
		Layers:    layers,
		Annotations: map[string]string{
			ocispec.AnnotationBaseImageName: img.Base,
		},
	}

	manifestDesc, err := writeJSONBlob(blobs, ocispec.MediaTypeImageManifest, manifest)
	if err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}

	index := ocispec.Index{
		Versioned: specs.Versioned{SchemaVersion: 2},
		MediaType: ocispec.MediaTypeImageIndex,
		Manifests: []ocispec.Descriptor{manifestDesc},
	}
	if err := writeJSONFile(filepath.Join(dir, ocispec.ImageIndexFile), index); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}

	layout := ocispec.ImageLayout{Version: ocispec.ImageLayoutVersion}
	if err := writeJSONFile(filepath.Join(dir, ocispec.ImageLayoutFile), layout); err != nil {
		return fmt.Errorf("%w: %w", ErrExport, err)
	}

	slog.Debug("image exported",
		"output", dir,
		"layers", len(img.Layers),
		"manifest", manifestDesc.Digest,
	)

	return nil
}

// Marshals v, writes it as a content-addressed blob, and returns its
// descriptor.
func writeJSONBlob(blobs, mediaType string, v any) (ocispec.Descriptor, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return ocispec.Descriptor{}, err
	}

	dgst := digest.FromBytes(data)
	if err := os.WriteFile(filepath.Join(blobs, dgst.Encoded()), data, paths.DefaultFileMode); err != nil {
		return ocispec.Descriptor{}, err
	}

	return ocispec.Descriptor{
		MediaType: mediaType,
		Digest:    dgst,
		Size:      int64(len(data)),
	}, nil
}

// Marshals v to a named file in the layout root.
func writeJSONFile(path string, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, paths.DefaultFileMode)
}

// Copies one layer blob into the layout.
func copyBlob(src, dst string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, paths.DefaultFileMode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
