package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

// Writes a complete, consistent set of build inputs and returns them.
func writeInputs(t *testing.T) Inputs {
	t.Helper()
	dir := t.TempDir()

	source := filepath.Join(dir, "src")
	if err := os.MkdirAll(source, 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(source, "main.py"), []byte("print('hi')\n"), 0644); err != nil {
		t.Fatal(err)
	}

	return Inputs{
		Manifest:    writeFile(t, dir, "strata.yaml", "base: python:3.12-slim\ndependencies:\n  - requests\n  - psycopg2\n"),
		Lock:        writeFile(t, dir, "strata.lock", validLock),
		SysPackages: writeFile(t, dir, "packages.txt", "# build deps\nlibpq-dev\ngcc\n"),
		Source:      source,
	}
}

func TestLoad(t *testing.T) {
	spec, err := Load(writeInputs(t))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if spec.Base != "python:3.12-slim" {
		t.Fatalf("base = %q", spec.Base)
	}
	if len(spec.Steps) != 3 {
		t.Fatalf("steps = %d, want 3", len(spec.Steps))
	}

	wantKinds := []StepKind{StepSystemPackages, StepDependencies, StepFileCopy}
	for i, kind := range wantKinds {
		if spec.Steps[i].Kind != kind {
			t.Fatalf("step %d kind = %s, want %s", i, spec.Steps[i].Kind, kind)
		}
	}

	// Packages are sorted in the command regardless of file order.
	sys := spec.Steps[0].Command
	if !strings.Contains(sys, "gcc libpq-dev") {
		t.Fatalf("system command %q does not sort packages", sys)
	}

	deps := spec.Steps[1].Command
	if !strings.Contains(deps, "psycopg2==2.9.9") || !strings.Contains(deps, "requests==2.32.0") {
		t.Fatalf("dependency command %q missing pins", deps)
	}
	if strings.Index(deps, "psycopg2") > strings.Index(deps, "requests") {
		t.Fatalf("dependency command %q does not sort pins", deps)
	}

	copyStep := spec.Steps[2]
	if copyStep.Copy == nil || copyStep.Copy.Dest != "/app" {
		t.Fatalf("copy step = %+v, want dest /app", copyStep.Copy)
	}
	if copyStep.Command != "" {
		t.Fatalf("copy step has command %q", copyStep.Command)
	}
}

func TestLoadLockMissingDependency(t *testing.T) {
	in := writeInputs(t)
	in.Manifest = writeFile(t, t.TempDir(), "strata.yaml",
		"base: python:3.12-slim\ndependencies:\n  - requests\n  - flask\n")

	_, err := Load(in)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrManifest) {
		t.Fatalf("error %v does not match ErrManifest", err)
	}

	var mErr *Error
	if !errors.As(err, &mErr) {
		t.Fatalf("error %T is not *Error", err)
	}
	if mErr.Field != "flask" {
		t.Fatalf("field = %q, want flask", mErr.Field)
	}
}

func TestLoadEmptySystemPackages(t *testing.T) {
	in := writeInputs(t)
	in.SysPackages = writeFile(t, t.TempDir(), "packages.txt", "# nothing\n\n")

	spec, err := Load(in)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(spec.Steps) != 2 {
		t.Fatalf("steps = %d, want 2 (no system step)", len(spec.Steps))
	}
	if spec.Steps[0].Kind != StepDependencies {
		t.Fatalf("first step = %s, want %s", spec.Steps[0].Kind, StepDependencies)
	}
}

func TestLoadSourceNotADirectory(t *testing.T) {
	in := writeInputs(t)
	in.Source = in.Manifest

	_, err := Load(in)
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !errors.Is(err, ErrManifest) {
		t.Fatalf("error %v does not match ErrManifest", err)
	}
}

func TestParseSystemPackages(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    int
		wantErr bool
	}{
		{
			name:    "comments and blanks",
			content: "# header\n\nlibpq-dev\n  gcc  \n",
			want:    2,
		},
		{
			name:    "whitespace in name",
			content: "libpq dev\n",
			wantErr: true,
		},
		{
			name:    "duplicate",
			content: "gcc\ngcc\n",
			wantErr: true,
		},
		{
			name:    "empty",
			content: "",
			want:    0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "packages.txt", tt.content)
			pkgs, err := ParseSystemPackages(path)
			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(pkgs) != tt.want {
				t.Fatalf("packages = %d, want %d", len(pkgs), tt.want)
			}
		})
	}
}
