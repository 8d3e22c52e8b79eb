// Package manifest parses build inputs into an executable build spec.
//
// A build is described by four inputs: a dependency manifest (YAML), a lock
// file with fully pinned, content-hashed dependency versions (TOML), a
// system-package list (one package per line), and a source tree. Load parses
// and cross-checks all four, then derives the ordered step sequence that the
// build pipeline executes: system packages first, then pinned dependencies,
// then the application source copy.
//
// Parsing is pure: no file outside the given inputs is read and nothing is
// written. A lock file that does not cover every manifest-declared dependency
// is a hard failure; the pipeline never falls back to unpinned resolution.
package manifest
