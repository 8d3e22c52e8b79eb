package manifest

import (
	"errors"
	"testing"
)

const validLock = `version = 1

[[package]]
name = "requests"
version = "2.32.0"
checksum = "sha256:9d5a6e0ee1c0a590672c9cf5d0db8a2dcf9e8a8c4f2e9b9a6cc90ac0e94d1854"

[[package]]
name = "psycopg2"
version = "2.9.9"
checksum = "sha256:0e081e7a8e0b52ad677a75e2fbc0da8f08cca0bcbd2b463c8e7c72e1d82e3d5b"
`

func TestParseLock(t *testing.T) {
	path := writeFile(t, t.TempDir(), "strata.lock", validLock)

	lock, err := ParseLock(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if len(lock.Packages) != 2 {
		t.Fatalf("packages = %d, want 2", len(lock.Packages))
	}
	if !lock.Covers("requests") || !lock.Covers("psycopg2") {
		t.Fatal("lock does not cover pinned packages")
	}
	if lock.Covers("flask") {
		t.Fatal("lock covers a package it does not pin")
	}
}

func TestParseLockInvalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
	}{
		{
			name:    "unsupported version",
			content: "version = 2\n",
		},
		{
			name:    "missing name",
			content: "version = 1\n[[package]]\nversion = \"1.0\"\nchecksum = \"sha256:9d5a6e0ee1c0a590672c9cf5d0db8a2dcf9e8a8c4f2e9b9a6cc90ac0e94d1854\"\n",
		},
		{
			name:    "missing pinned version",
			content: "version = 1\n[[package]]\nname = \"requests\"\nchecksum = \"sha256:9d5a6e0ee1c0a590672c9cf5d0db8a2dcf9e8a8c4f2e9b9a6cc90ac0e94d1854\"\n",
		},
		{
			name:    "bad checksum",
			content: "version = 1\n[[package]]\nname = \"requests\"\nversion = \"2.32.0\"\nchecksum = \"not-a-digest\"\n",
		},
		{
			name:    "duplicate package",
			content: validLock + "\n[[package]]\nname = \"requests\"\nversion = \"2.31.0\"\nchecksum = \"sha256:9d5a6e0ee1c0a590672c9cf5d0db8a2dcf9e8a8c4f2e9b9a6cc90ac0e94d1854\"\n",
		},
		{
			name:    "invalid toml",
			content: "version = [[\n",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "strata.lock", tt.content)
			_, err := ParseLock(path)
			if err == nil {
				t.Fatal("expected error, got nil")
			}
			if !errors.Is(err, ErrManifest) {
				t.Fatalf("error %v does not match ErrManifest", err)
			}
		})
	}
}
