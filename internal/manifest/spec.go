package manifest

import (
	"fmt"
	"os"
	"slices"
	"strings"
)

// Classifies a build step by the kind of work it performs.
type StepKind string

const (
	StepSystemPackages StepKind = "system-package-install"
	StepDependencies   StepKind = "dependency-install"
	StepFileCopy       StepKind = "file-copy"
)

// One unit of work in the build pipeline.
//
// A step either runs a shell command or performs a file copy, never both.
// Inputs list the files and directories whose content determines the step's
// cache key. Steps are owned by their BuildSpec and never mutated after
// Load returns.
type Step struct {
	Name    string    // Human-readable step label for logs and diagnostics.
	Kind    StepKind  // What kind of work this step performs.
	Inputs  []string  // Files or directories whose content keys the step.
	Command string    // Shell command to execute (empty for file-copy steps).
	Copy    *CopySpec // Copy source and destination (file-copy steps only).
}

// Source and destination of a file-copy step. Src is a host path; Dest is
// an absolute path inside the image filesystem.
type CopySpec struct {
	Src  string
	Dest string
}

// The normalized, immutable description of one build.
//
// Steps are ordered by invalidation domain: system packages, then language
// dependencies, then application source. All parsing and consistency
// checking happens in Load; a BuildSpec in hand is always internally
// consistent.
type BuildSpec struct {
	Base  string // Base image identity.
	Steps []Step
}

// Paths to the four build inputs.
type Inputs struct {
	Manifest    string // Dependency manifest file.
	Lock        string // Lock file with pinned dependency versions.
	SysPackages string // System-package list file.
	Source      string // Application source root.
}

// Parses all build inputs and derives the ordered step sequence.
//
// Every manifest-declared dependency must have a lock entry; a lock file
// that does not cover the manifest is a hard failure. Extra lock entries
// (transitive pins) are permitted. Steps with nothing to do (no system
// packages, no dependencies) are omitted.
func Load(in Inputs) (*BuildSpec, error) {
	m, err := ParseManifest(in.Manifest)
	if err != nil {
		return nil, err
	}

	lock, err := ParseLock(in.Lock)
	if err != nil {
		return nil, err
	}

	for _, dep := range m.Dependencies {
		name := DependencyName(dep)
		if !lock.Covers(name) {
			return nil, fieldError(in.Lock, name, "dependency declared in %s has no lock entry", in.Manifest)
		}
	}

	sysPkgs, err := ParseSystemPackages(in.SysPackages)
	if err != nil {
		return nil, err
	}

	info, err := os.Stat(in.Source)
	if err != nil {
		return nil, fileError(in.Source, err)
	}
	if !info.IsDir() {
		return nil, fileError(in.Source, fmt.Errorf("source root must be a directory"))
	}

	spec := &BuildSpec{Base: m.Base}

	if len(sysPkgs) > 0 {
		spec.Steps = append(spec.Steps, Step{
			Name:    "system packages",
			Kind:    StepSystemPackages,
			Inputs:  []string{in.SysPackages},
			Command: systemInstallCommand(sysPkgs),
		})
	}

	if len(m.Dependencies) > 0 {
		spec.Steps = append(spec.Steps, Step{
			Name:    "dependencies",
			Kind:    StepDependencies,
			Inputs:  []string{in.Manifest, in.Lock},
			Command: dependencyInstallCommand(lock),
		})
	}

	spec.Steps = append(spec.Steps, Step{
		Name:   "application source",
		Kind:   StepFileCopy,
		Inputs: []string{in.Source},
		Copy:   &CopySpec{Src: in.Source, Dest: m.AppDir},
	})

	return spec, nil
}

// Builds the system-package install command.
//
// Packages are sorted so the command, and therefore the step's cache key,
// does not depend on declaration order.
func systemInstallCommand(pkgs []string) string {
	sorted := slices.Clone(pkgs)
	slices.Sort(sorted)
	return "apt-get update && apt-get install -y --no-install-recommends " + strings.Join(sorted, " ")
}

// Builds the dependency install command from the lock pins.
//
// Every package is installed at its exact pinned version with resolution
// disabled, sorted by name for a stable command string.
func dependencyInstallCommand(lock *Lock) string {
	pins := slices.Clone(lock.Packages)
	slices.SortFunc(pins, func(a, b Pin) int {
		return strings.Compare(a.Name, b.Name)
	})

	var sb strings.Builder
	sb.WriteString("pip install --no-deps")
	for _, pin := range pins {
		fmt.Fprintf(&sb, " %s==%s", pin.Name, pin.Version)
	}
	return sb.String()
}
