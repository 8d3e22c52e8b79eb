package manifest

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
)

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return path
}

func TestParseManifest(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
	}{
		{
			name:    "minimal",
			content: "base: python:3.12-slim\n",
		},
		{
			name:    "full",
			content: "base: python:3.12-slim\nappdir: /srv/app\ndependencies:\n  - requests\n  - psycopg2@>=2.9\n",
		},
		{
			name:    "missing base",
			content: "dependencies:\n  - requests\n",
			wantErr: true,
		},
		{
			name:    "relative appdir",
			content: "base: python:3.12-slim\nappdir: app\n",
			wantErr: true,
		},
		{
			name:    "duplicate dependency",
			content: "base: python:3.12-slim\ndependencies:\n  - requests\n  - requests@>=2\n",
			wantErr: true,
		},
		{
			name:    "invalid yaml",
			content: "base: [unterminated\n",
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFile(t, t.TempDir(), "strata.yaml", tt.content)
			m, err := ParseManifest(path)

			if tt.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				if !errors.Is(err, ErrManifest) {
					t.Fatalf("error %v does not match ErrManifest", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if m.Base == "" {
				t.Fatal("base not parsed")
			}
		})
	}
}

func TestParseManifestMissingFile(t *testing.T) {
	_, err := ParseManifest(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("expected error, got nil")
	}

	var mErr *Error
	if !errors.As(err, &mErr) {
		t.Fatalf("error %T is not *Error", err)
	}
	if !IsNotExist(err) {
		t.Fatalf("error %v does not report not-exist", err)
	}
}

func TestParseManifestDefaultAppDir(t *testing.T) {
	path := writeFile(t, t.TempDir(), "strata.yaml", "base: debian:12\n")
	m, err := ParseManifest(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if m.AppDir != "/app" {
		t.Fatalf("appdir = %q, want /app", m.AppDir)
	}
}

func TestDependencyName(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"requests", "requests"},
		{"requests@>=2.31", "requests"},
		{"  spaced  ", "spaced"},
		{"@constraint-only", ""},
		{"", ""},
	}

	for _, tt := range tests {
		if got := DependencyName(tt.input); got != tt.want {
			t.Errorf("DependencyName(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
