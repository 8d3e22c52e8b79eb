package cache

import (
	"errors"
	"fmt"

	"github.com/opencontainers/go-digest"
)

var (
	ErrCache     = errors.New("cache operation failed")
	ErrCorrupted = errors.New("cache entry corrupted")
)

// Describes a cache entry whose stored blob no longer matches its recorded
// checksum (or is missing entirely). Never fatal: the caller drops the
// entry and recomputes.
type CorruptionError struct {
	Key    digest.Digest // Cache key of the corrupt entry.
	Reason string        // What failed to verify.
}

func (e *CorruptionError) Error() string {
	return fmt.Sprintf("cache entry %s corrupted: %s", e.Key, e.Reason)
}

// All corruption errors match ErrCorrupted via errors.Is.
func (e *CorruptionError) Is(target error) bool {
	return target == ErrCorrupted
}
