package build

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"
)

func mustWrite(t *testing.T, path, content string) {
	t.Helper()
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func TestDeltaRoundTrip(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "keep.txt"), "keep")
	mustWrite(t, filepath.Join(root, "change.txt"), "old")
	mustWrite(t, filepath.Join(root, "gone.txt"), "bye")

	workdir := t.TempDir()
	if err := cloneTree(root, workdir); err != nil {
		t.Fatal(err)
	}
	before, err := snapshot(workdir)
	if err != nil {
		t.Fatal(err)
	}

	// Mutate the working copy: add, modify, delete.
	mustWrite(t, filepath.Join(workdir, "new", "added.txt"), "new")
	mustWrite(t, filepath.Join(workdir, "change.txt"), "new content")
	if err := os.Remove(filepath.Join(workdir, "gone.txt")); err != nil {
		t.Fatal(err)
	}

	var delta bytes.Buffer
	if err := writeDelta(&delta, workdir, before); err != nil {
		t.Fatal(err)
	}

	// Applying the delta to a fresh copy of root must reproduce workdir.
	target := t.TempDir()
	if err := cloneTree(root, target); err != nil {
		t.Fatal(err)
	}
	if err := applyDelta(target, bytes.NewReader(delta.Bytes())); err != nil {
		t.Fatal(err)
	}

	if got := mustRead(t, filepath.Join(target, "keep.txt")); got != "keep" {
		t.Fatalf("keep.txt = %q", got)
	}
	if got := mustRead(t, filepath.Join(target, "change.txt")); got != "new content" {
		t.Fatalf("change.txt = %q", got)
	}
	if got := mustRead(t, filepath.Join(target, "new", "added.txt")); got != "new" {
		t.Fatalf("added.txt = %q", got)
	}
	if _, err := os.Stat(filepath.Join(target, "gone.txt")); !os.IsNotExist(err) {
		t.Fatalf("gone.txt still present (err = %v)", err)
	}
}

func TestDeltaTypeChange(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "d", "x"), "nested")
	mustWrite(t, filepath.Join(root, "f"), "flat")

	workdir := t.TempDir()
	if err := cloneTree(root, workdir); err != nil {
		t.Fatal(err)
	}
	before, err := snapshot(workdir)
	if err != nil {
		t.Fatal(err)
	}

	// Replace the directory with a file and the file with a directory.
	if err := os.RemoveAll(filepath.Join(workdir, "d")); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(workdir, "d"), "now a file")
	if err := os.Remove(filepath.Join(workdir, "f")); err != nil {
		t.Fatal(err)
	}
	mustWrite(t, filepath.Join(workdir, "f", "inner"), "now a dir")

	var delta bytes.Buffer
	if err := writeDelta(&delta, workdir, before); err != nil {
		t.Fatal(err)
	}

	target := t.TempDir()
	if err := cloneTree(root, target); err != nil {
		t.Fatal(err)
	}
	if err := applyDelta(target, bytes.NewReader(delta.Bytes())); err != nil {
		t.Fatalf("delta with type changes did not apply: %v", err)
	}

	if got := mustRead(t, filepath.Join(target, "d")); got != "now a file" {
		t.Fatalf("d = %q, want file content", got)
	}
	if got := mustRead(t, filepath.Join(target, "f", "inner")); got != "now a dir" {
		t.Fatalf("f/inner = %q", got)
	}
	if _, err := os.Stat(filepath.Join(target, "d", "x")); !os.IsNotExist(err) {
		t.Fatalf("d/x survived the type change (err = %v)", err)
	}
}

func TestDeltaLongPaths(t *testing.T) {
	workdir := t.TempDir()
	before, err := snapshot(workdir)
	if err != nil {
		t.Fatal(err)
	}

	// Deep enough that the member name exceeds the classic 256-byte tar
	// name limit.
	deep := workdir
	for i := 0; i < 12; i++ {
		deep = filepath.Join(deep, "deeply-nested-package-directory")
	}
	mustWrite(t, filepath.Join(deep, "module.py"), "content")

	var delta bytes.Buffer
	if err := writeDelta(&delta, workdir, before); err != nil {
		t.Fatalf("long path was not representable: %v", err)
	}

	target := t.TempDir()
	if err := applyDelta(target, bytes.NewReader(delta.Bytes())); err != nil {
		t.Fatal(err)
	}

	rel, err := filepath.Rel(workdir, filepath.Join(deep, "module.py"))
	if err != nil {
		t.Fatal(err)
	}
	if got := mustRead(t, filepath.Join(target, rel)); got != "content" {
		t.Fatalf("deep file = %q", got)
	}
}

func TestDeltaDeterminism(t *testing.T) {
	root := t.TempDir()
	mustWrite(t, filepath.Join(root, "base.txt"), "base")

	capture := func() []byte {
		t.Helper()
		workdir := t.TempDir()
		if err := cloneTree(root, workdir); err != nil {
			t.Fatal(err)
		}
		before, err := snapshot(workdir)
		if err != nil {
			t.Fatal(err)
		}
		mustWrite(t, filepath.Join(workdir, "b.txt"), "b")
		mustWrite(t, filepath.Join(workdir, "a.txt"), "a")

		var buf bytes.Buffer
		if err := writeDelta(&buf, workdir, before); err != nil {
			t.Fatal(err)
		}
		return buf.Bytes()
	}

	if !bytes.Equal(capture(), capture()) {
		t.Fatal("identical changes produced different delta bytes")
	}
}

func TestDeltaEmptyChange(t *testing.T) {
	workdir := t.TempDir()
	mustWrite(t, filepath.Join(workdir, "file.txt"), "content")

	before, err := snapshot(workdir)
	if err != nil {
		t.Fatal(err)
	}

	var delta bytes.Buffer
	if err := writeDelta(&delta, workdir, before); err != nil {
		t.Fatal(err)
	}

	// An unchanged tree produces an empty (headers-only) tar.
	target := t.TempDir()
	if err := applyDelta(target, bytes.NewReader(delta.Bytes())); err != nil {
		t.Fatal(err)
	}
	entries, err := os.ReadDir(target)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 0 {
		t.Fatalf("empty delta created %d entries", len(entries))
	}
}

func TestCloneTreeSymlink(t *testing.T) {
	src := t.TempDir()
	mustWrite(t, filepath.Join(src, "target.txt"), "x")
	if err := os.Symlink("target.txt", filepath.Join(src, "link")); err != nil {
		t.Fatal(err)
	}

	dst := t.TempDir()
	if err := cloneTree(src, dst); err != nil {
		t.Fatal(err)
	}

	target, err := os.Readlink(filepath.Join(dst, "link"))
	if err != nil {
		t.Fatal(err)
	}
	if target != "target.txt" {
		t.Fatalf("link target = %q", target)
	}
}
