package build

import (
	"archive/tar"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"time"

	"github.com/opencontainers/go-digest"
)

// Prefix marking a deleted path in a delta tar, per the OCI layer format.
const whiteoutPrefix = ".wh."

// Fixed timestamp for delta tar headers. Deltas must be byte-for-byte
// reproducible from identical inputs, so wall-clock times never enter them.
var epoch = time.Unix(0, 0)

// Identity of one file in a snapshot: everything that makes two states of
// the same path distinguishable.
type fileState struct {
	mode   fs.FileMode
	size   int64
	target string        // Symlink target, when applicable.
	sum    digest.Digest // Content digest for regular files.
}

// Records the state of every entry under root, keyed by slash-separated
// root-relative path.
func snapshot(root string) (map[string]fileState, error) {
	states := make(map[string]fileState)

	err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == root {
			return nil
		}

		rel, err := filepath.Rel(root, path)
		if err != nil {
			return err
		}

		state, err := stateOf(path, d)
		if err != nil {
			return err
		}

		states[filepath.ToSlash(rel)] = state
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}

	return states, nil
}

// Captures the comparable state of a single entry.
func stateOf(path string, d fs.DirEntry) (fileState, error) {
	info, err := d.Info()
	if err != nil {
		return fileState{}, err
	}

	state := fileState{mode: info.Mode()}

	switch {
	case state.mode.IsRegular():
		state.size = info.Size()
		f, err := os.Open(path)
		if err != nil {
			return fileState{}, err
		}
		defer f.Close()
		sum, err := digest.Canonical.FromReader(f)
		if err != nil {
			return fileState{}, err
		}
		state.sum = sum
	case state.mode&fs.ModeSymlink != 0:
		target, err := os.Readlink(path)
		if err != nil {
			return fileState{}, err
		}
		state.target = target
	}

	return state, nil
}

// Compares a prior snapshot against the current state of workdir and writes
// the change set as a delta tar to w.
//
// Added and modified entries are written with their content; removed entries
// become whiteout markers. Entries are sorted so identical changes always
// produce identical bytes.
func writeDelta(w io.Writer, workdir string, before map[string]fileState) error {
	after, err := snapshot(workdir)
	if err != nil {
		return err
	}

	var changed, removed []string

	for rel, state := range after {
		prev, ok := before[rel]
		if !ok || prev != state {
			changed = append(changed, rel)
		}
	}
	for rel := range before {
		if _, ok := after[rel]; !ok {
			removed = append(removed, rel)
		}
	}

	slices.Sort(changed)
	slices.Sort(removed)

	tw := tar.NewWriter(w)

	for _, rel := range removed {
		if err := writeWhiteout(tw, rel); err != nil {
			return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
		}
	}
	for _, rel := range changed {
		if err := writeDeltaEntry(tw, filepath.Join(workdir, filepath.FromSlash(rel)), rel); err != nil {
			return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
		}
	}

	return tw.Close()
}

// Writes a whiteout marker for a removed path.
func writeWhiteout(tw *tar.Writer, rel string) error {
	dir, base := filepath.Split(rel)
	return tw.WriteHeader(&tar.Header{
		Typeflag: tar.TypeReg,
		Name:     dir + whiteoutPrefix + base,
		ModTime:  epoch,
		Format:   tar.FormatPAX,
	})
}

// Writes one added or modified entry to the delta tar with normalized
// metadata (fixed timestamp, no owner information).
func writeDeltaEntry(tw *tar.Writer, path, rel string) error {
	info, err := os.Lstat(path)
	if err != nil {
		return err
	}

	var link string
	if info.Mode()&fs.ModeSymlink != 0 {
		if link, err = os.Readlink(path); err != nil {
			return err
		}
	}

	header, err := tar.FileInfoHeader(info, link)
	if err != nil {
		return err
	}
	header.Name = rel
	if info.IsDir() {
		header.Name += "/"
	}
	header.ModTime = epoch
	header.AccessTime = time.Time{}
	header.ChangeTime = time.Time{}
	header.Uid = 0
	header.Gid = 0
	header.Uname = ""
	header.Gname = ""
	header.Format = tar.FormatPAX

	if err := tw.WriteHeader(header); err != nil {
		return err
	}

	if info.Mode().IsRegular() {
		f, err := os.Open(path)
		if err != nil {
			return err
		}
		defer f.Close()
		if _, err := io.Copy(tw, f); err != nil {
			return err
		}
	}

	return nil
}

// Applies a delta tar to root: whiteout markers delete, everything else is
// extracted in place. The inverse of writeDelta.
func applyDelta(root string, r io.Reader) error {
	tr := tar.NewReader(r)

	for {
		header, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
		}

		if err := applyDeltaEntry(root, tr, header); err != nil {
			return fmt.Errorf("%w: %s: %w", ErrFileSystemOperation, header.Name, err)
		}
	}
}

// Applies a single delta tar entry under root.
func applyDeltaEntry(root string, tr *tar.Reader, header *tar.Header) error {
	rel := filepath.FromSlash(strings.TrimSuffix(header.Name, "/"))

	dir, base := filepath.Split(rel)
	if deleted, ok := strings.CutPrefix(base, whiteoutPrefix); ok {
		return os.RemoveAll(filepath.Join(root, dir, deleted))
	}

	dest := filepath.Join(root, rel)
	mode := header.FileInfo().Mode()

	switch header.Typeflag {
	case tar.TypeDir:
		if err := clearConflicting(dest, fs.ModeDir); err != nil {
			return err
		}
		return os.MkdirAll(dest, mode.Perm())
	case tar.TypeSymlink:
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := os.RemoveAll(dest); err != nil {
			return err
		}
		return os.Symlink(header.Linkname, dest)
	case tar.TypeReg:
		if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
			return err
		}
		if err := clearConflicting(dest, 0); err != nil {
			return err
		}
		f, err := os.OpenFile(dest, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, mode.Perm())
		if err != nil {
			return err
		}
		if _, err := io.Copy(f, tr); err != nil {
			f.Close()
			return err
		}
		return f.Close()
	default:
		return fmt.Errorf("unsupported tar entry type %d", header.Typeflag)
	}
}

// Removes an existing entry at dest unless it already has the wanted type.
// A step may replace a directory with a file or a file with a directory, and
// extraction must not collide with the old entry.
func clearConflicting(dest string, want fs.FileMode) error {
	info, err := os.Lstat(dest)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	if info.Mode().Type() == want {
		return nil
	}
	return os.RemoveAll(dest)
}

// Copies an entire tree from src to dst, preserving modes and symlinks.
// Used to give each step an isolated working copy of the build root.
func cloneTree(src, dst string) error {
	err := filepath.WalkDir(src, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}

		rel, err := filepath.Rel(src, path)
		if err != nil {
			return err
		}
		dest := filepath.Join(dst, rel)

		info, err := d.Info()
		if err != nil {
			return err
		}

		switch {
		case info.IsDir():
			return os.MkdirAll(dest, info.Mode().Perm())
		case info.Mode()&fs.ModeSymlink != 0:
			target, err := os.Readlink(path)
			if err != nil {
				return err
			}
			return os.Symlink(target, dest)
		case info.Mode().IsRegular():
			return copyFile(path, dest, info.Mode().Perm())
		default:
			return fmt.Errorf("unsupported file type at %s", path)
		}
	})
	if err != nil {
		return fmt.Errorf("%w: %w", ErrFileSystemOperation, err)
	}
	return nil
}

// Copies one regular file.
func copyFile(src, dst string, perm fs.FileMode) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, perm)
	if err != nil {
		return err
	}

	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	return out.Close()
}
