package manifest

import (
	"errors"
	"os"
	"path"
	"strings"

	"gopkg.in/yaml.v3"
)

// Destination for the application source when the manifest does not set one.
const defaultAppDir = "/app"

// The dependency manifest, as declared by the user.
//
// Dependencies are declared by name with an optional opaque constraint
// ("name" or "name@constraint"). Constraints are consumed by the external
// resolver that produces the lock file; the build pipeline only uses the
// name to check lock coverage.
type Manifest struct {
	Base         string   `yaml:"base"`         // Base image identity (required).
	AppDir       string   `yaml:"appdir"`       // Copy destination for the source tree.
	Dependencies []string `yaml:"dependencies"` // Declared dependency names, optionally "name@constraint".
}

// Parses and validates a dependency manifest file.
func ParseManifest(filePath string) (*Manifest, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fileError(filePath, err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fileError(filePath, err)
	}

	if err := m.validate(filePath); err != nil {
		return nil, err
	}

	return &m, nil
}

// Validates required fields and normalizes defaults.
func (m *Manifest) validate(filePath string) error {
	if strings.TrimSpace(m.Base) == "" {
		return fieldError(filePath, "base", "base image identity is required")
	}

	if m.AppDir == "" {
		m.AppDir = defaultAppDir
	}
	if !path.IsAbs(m.AppDir) {
		return fieldError(filePath, "appdir", "must be an absolute path, got %q", m.AppDir)
	}

	seen := make(map[string]bool, len(m.Dependencies))
	for _, dep := range m.Dependencies {
		name := DependencyName(dep)
		if name == "" {
			return fieldError(filePath, "dependencies", "empty dependency name in %q", dep)
		}
		if seen[name] {
			return fieldError(filePath, "dependencies", "duplicate dependency %q", name)
		}
		seen[name] = true
	}

	return nil
}

// Returns the bare dependency name, stripping an optional "@constraint"
// suffix.
func DependencyName(dep string) string {
	name, _, _ := strings.Cut(dep, "@")
	return strings.TrimSpace(name)
}

// Reports whether err wraps a file-not-found condition, used by callers to
// distinguish missing inputs from malformed ones in diagnostics.
func IsNotExist(err error) bool {
	return errors.Is(err, os.ErrNotExist)
}
