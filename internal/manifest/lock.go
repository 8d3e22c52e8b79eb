package manifest

import (
	"fmt"
	"os"

	"github.com/opencontainers/go-digest"
	"github.com/pelletier/go-toml"
)

// The only lock file format version this build understands.
const lockVersion = 1

// A fully resolved, pinned dependency set produced by the external resolver.
//
// Each entry pins one package to an exact version and the content hash of
// its resolved artifact. The lock file is the reproducibility contract: the
// build never resolves versions itself.
type Lock struct {
	Version  int   `toml:"version"`
	Packages []Pin `toml:"package"`
}

// One pinned package in the lock file.
type Pin struct {
	Name     string `toml:"name"`
	Version  string `toml:"version"`
	Checksum string `toml:"checksum"` // Content hash of the resolved artifact, "sha256:..." form.
}

// Parses and validates a lock file.
func ParseLock(filePath string) (*Lock, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fileError(filePath, err)
	}

	var l Lock
	if err := toml.Unmarshal(data, &l); err != nil {
		return nil, fileError(filePath, err)
	}

	if l.Version != lockVersion {
		return nil, fieldError(filePath, "version", "unsupported lock version %d, want %d", l.Version, lockVersion)
	}

	seen := make(map[string]bool, len(l.Packages))
	for i, pin := range l.Packages {
		field := fmt.Sprintf("package[%d]", i)
		if pin.Name == "" {
			return nil, fieldError(filePath, field, "missing package name")
		}
		if pin.Version == "" {
			return nil, fieldError(filePath, field, "package %q has no pinned version", pin.Name)
		}
		if _, err := digest.Parse(pin.Checksum); err != nil {
			return nil, fieldError(filePath, field, "package %q: invalid checksum: %v", pin.Name, err)
		}
		if seen[pin.Name] {
			return nil, fieldError(filePath, field, "duplicate package %q", pin.Name)
		}
		seen[pin.Name] = true
	}

	return &l, nil
}

// Reports whether the lock pins a package with the given name.
func (l *Lock) Covers(name string) bool {
	for _, pin := range l.Packages {
		if pin.Name == name {
			return true
		}
	}
	return false
}
