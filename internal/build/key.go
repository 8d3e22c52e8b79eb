package build

import (
	"encoding/binary"
	"fmt"
	"hash"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"

	"github.com/opencontainers/go-digest"

	"github.com/cruciblehq/strata/internal/manifest"
)

// Returns the cache key for position zero: the digest of the base image
// identity. Every step key chains from this value, so two builds on
// different bases never share cache entries.
func BaseKey(base string) digest.Digest {
	d := digest.Canonical.Digester()
	writeField(d.Hash(), []byte(base))
	return d.Digest()
}

// Derives the cache key for a step from the previous step's key.
//
// The key covers the previous key, the step kind, the step's action (the
// command line, or the copy destination for copy steps), and the content
// digest of all declared inputs. Chaining through the previous key is the
// invalidation rule: a change at position i produces a different key at
// every position at or after i, because the filesystem state later steps
// start from has changed.
//
// Keys are pure functions of content. Nothing position- or time-dependent
// (paths are hashed relative to their input root, never absolute) enters
// the digest, so identical inputs yield identical keys across runs and
// machines.
func StepKey(prev digest.Digest, step manifest.Step) (digest.Digest, error) {
	inputs, err := hashInputs(step.Inputs)
	if err != nil {
		return "", err
	}

	d := digest.Canonical.Digester()
	w := d.Hash()
	writeField(w, []byte(prev))
	writeField(w, []byte(step.Kind))
	writeField(w, []byte(stepAction(step)))
	writeField(w, []byte(inputs))

	return d.Digest(), nil
}

// Returns the string that identifies what a step does, independent of its
// inputs' content.
func stepAction(step manifest.Step) string {
	if step.Copy != nil {
		return "copy " + step.Copy.Dest
	}
	return step.Command
}

// Computes a single content digest over a step's declared inputs.
//
// Inputs are processed in sorted order. Regular files contribute their
// content; directories contribute every entry in a deterministic walk, each
// identified by its path relative to the input root. Symlinks contribute
// their target. File modification times, owners, and absolute locations are
// deliberately excluded: only content invalidates.
func hashInputs(paths []string) (digest.Digest, error) {
	sorted := slices.Clone(paths)
	slices.Sort(sorted)

	d := digest.Canonical.Digester()
	w := d.Hash()

	for _, p := range sorted {
		info, err := os.Lstat(p)
		if err != nil {
			return "", fmt.Errorf("hashing input %s: %w", p, err)
		}

		if info.IsDir() {
			if err := hashTree(w, p); err != nil {
				return "", fmt.Errorf("hashing input %s: %w", p, err)
			}
			continue
		}

		if err := hashEntry(w, p, ".", info); err != nil {
			return "", fmt.Errorf("hashing input %s: %w", p, err)
		}
	}

	return d.Digest(), nil
}

// Hashes every entry of a directory tree in walk order, which WalkDir
// guarantees is lexical and therefore stable.
func hashTree(w hash.Hash, root string) error {
	return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		info, err := d.Info()
		if err != nil {
			return err
		}

		return hashEntry(w, path, filepath.ToSlash(rel), info)
	})
}

// Hashes one filesystem entry: its root-relative name, entry type, and
// content (file bytes or symlink target; directories have none). Content is
// length-prefixed like every other field.
func hashEntry(w hash.Hash, path, rel string, info fs.FileInfo) error {
	mode := info.Mode()

	writeField(w, []byte(rel))
	writeField(w, []byte(mode.Type().String()))

	switch {
	case mode.IsRegular():
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(info.Size()))
		w.Write(n[:])

		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(w, f); err != nil {
			return err
		}
	case mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return err
		}
		writeField(w, []byte(target))
	}

	return nil
}

// Writes a length-prefixed field so adjacent fields can never be confused
// for one another regardless of their content.
func writeField(w io.Writer, b []byte) {
	var n [8]byte
	binary.BigEndian.PutUint64(n[:], uint64(len(b)))
	w.Write(n[:])
	w.Write(b)
}
