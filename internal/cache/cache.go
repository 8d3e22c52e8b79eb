package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/gofrs/flock"
	"github.com/opencontainers/go-digest"
	bolt "go.etcd.io/bbolt"
	"resenje.org/singleflight"

	"github.com/cruciblehq/strata/internal/paths"
)

const (
	indexFile = "index.db"
	lockFile  = "strata.lock"
	blobsDir  = "blobs"
)

// Bucket holding one metadata record per cache entry.
var bucketEntries = []byte("entries")

// A layer delta held by the cache: the filesystem change set one build step
// produced, plus the metadata needed to verify and diagnose it. Immutable
// once stored. Kind is a back-reference to the producing step's kind, for
// diagnostics only.
type Delta struct {
	Key      digest.Digest // Cache key the delta is stored under.
	Kind     string        // Kind of the step that produced it.
	Blob     string        // Path of the delta tar within the cache.
	Checksum digest.Digest // Content digest of the blob.
	Size     int64         // Blob size in bytes.
}

// Persisted per-entry metadata, stored as JSON in the index.
type entry struct {
	Checksum digest.Digest `json:"checksum"`
	Size     int64         `json:"size"`
	Kind     string        `json:"kind"`
	Created  time.Time     `json:"created"`
	LastUsed time.Time     `json:"lastUsed"`
}

// Configures a cache.
type Options struct {
	Dir     string // Cache directory.
	Budget  int64  // Total blob byte budget for LRU eviction; <= 0 disables eviction.
	NoCache bool   // Skip lookups (fresh results are still stored).
}

// Result of one coalesced Do computation: the delta plus whether it came
// from the cache, so singleflight waiters report the leader's outcome.
type outcome struct {
	delta Delta
	hit   bool
}

// A persistent, directory-backed layer cache.
type Cache struct {
	dir     string
	budget  int64
	noCache bool
	flk     *flock.Flock
	group   singleflight.Group[digest.Digest, outcome]
}

// Opens (creating if necessary) the cache directory.
func Open(opts Options) (*Cache, error) {
	if err := os.MkdirAll(filepath.Join(opts.Dir, blobsDir, digest.Canonical.String()), paths.DefaultDirMode); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrCache, err)
	}

	return &Cache{
		dir:     opts.Dir,
		budget:  opts.Budget,
		noCache: opts.NoCache,
		flk:     flock.New(filepath.Join(opts.Dir, lockFile)),
	}, nil
}

// Returns the cached delta for key, or computes and stores it.
//
// compute must return the path of a finished delta tar; it is only called
// on a miss, and concurrent calls for the same key within the process are
// coalesced so it runs at most once. The returned hit flag reports whether
// the delta came from the cache. A compute that fails or is cancelled
// stores nothing.
func (c *Cache) Do(ctx context.Context, key digest.Digest, kind string, compute func(ctx context.Context) (string, error)) (Delta, bool, error) {
	res, _, err := c.group.Do(ctx, key, func(ctx context.Context) (outcome, error) {
		if !c.noCache {
			delta, ok, err := c.lookup(ctx, key)
			if err != nil {
				// Corruption is self-healing: warn and fall through to
				// recompute. Anything else is a real cache failure.
				var corrupt *CorruptionError
				if !errors.As(err, &corrupt) {
					return outcome{}, err
				}
				slog.Warn("discarding corrupt cache entry", "key", key, "reason", corrupt.Reason)
			} else if ok {
				return outcome{delta: delta, hit: true}, nil
			}
		}

		blob, err := compute(ctx)
		if err != nil {
			return outcome{}, err
		}

		delta, err := c.store(ctx, key, kind, blob)
		if err != nil {
			return outcome{}, err
		}
		return outcome{delta: delta}, nil
	})
	if err != nil {
		return Delta{}, false, err
	}

	return res.delta, res.hit, nil
}

// Looks up a cache entry and verifies its blob against the recorded
// checksum. A verification failure removes the entry and returns a
// [CorruptionError].
func (c *Cache) lookup(ctx context.Context, key digest.Digest) (Delta, bool, error) {
	if err := c.lock(ctx); err != nil {
		return Delta{}, false, fmt.Errorf("%w: %w", ErrCache, err)
	}
	defer c.flk.Unlock()

	var (
		found bool
		ent   entry
	)
	err := c.withIndex(func(b *bolt.Bucket) error {
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &ent)
	})
	if err != nil {
		return Delta{}, false, fmt.Errorf("%w: %w", ErrCache, err)
	}
	if !found {
		return Delta{}, false, nil
	}

	blob := c.blobPath(key)
	if reason, ok := verifyBlob(blob, ent.Checksum, ent.Size); !ok {
		c.removeLocked(key)
		return Delta{}, false, &CorruptionError{Key: key, Reason: reason}
	}

	ent.LastUsed = time.Now().UTC()
	err = c.withIndex(func(b *bolt.Bucket) error {
		raw, err := json.Marshal(ent)
		if err != nil {
			return err
		}
		return b.Put([]byte(key), raw)
	})
	if err != nil {
		return Delta{}, false, fmt.Errorf("%w: %w", ErrCache, err)
	}

	return Delta{
		Key:      key,
		Kind:     ent.Kind,
		Blob:     blob,
		Checksum: ent.Checksum,
		Size:     ent.Size,
	}, true, nil
}

// Stores a finished delta tar under key and evicts down to the byte budget.
//
// The source file is consumed. If another process stored the key first, the
// existing entry wins and the source is discarded.
func (c *Cache) store(ctx context.Context, key digest.Digest, kind, src string) (Delta, error) {
	checksum, size, err := digestFile(src)
	if err != nil {
		return Delta{}, fmt.Errorf("%w: %w", ErrCache, err)
	}

	if err := c.lock(ctx); err != nil {
		return Delta{}, fmt.Errorf("%w: %w", ErrCache, err)
	}
	defer c.flk.Unlock()

	// Another process may have stored this key while we were executing.
	if existing, ok, err := c.lookupExisting(key); err == nil && ok {
		os.Remove(src)
		return existing, nil
	}

	blob := c.blobPath(key)
	if err := moveFile(src, blob); err != nil {
		return Delta{}, fmt.Errorf("%w: %w", ErrCache, err)
	}

	now := time.Now().UTC()
	ent := entry{
		Checksum: checksum,
		Size:     size,
		Kind:     kind,
		Created:  now,
		LastUsed: now,
	}

	err = c.withIndex(func(b *bolt.Bucket) error {
		raw, err := json.Marshal(ent)
		if err != nil {
			return err
		}
		if err := b.Put([]byte(key), raw); err != nil {
			return err
		}
		return c.evict(b, key)
	})
	if err != nil {
		os.Remove(blob)
		return Delta{}, fmt.Errorf("%w: %w", ErrCache, err)
	}

	return Delta{Key: key, Kind: kind, Blob: blob, Checksum: checksum, Size: size}, nil
}

// Reads an existing verified entry without updating recency. Caller holds
// the file lock.
func (c *Cache) lookupExisting(key digest.Digest) (Delta, bool, error) {
	var (
		found bool
		ent   entry
	)
	err := c.withIndex(func(b *bolt.Bucket) error {
		raw := b.Get([]byte(key))
		if raw == nil {
			return nil
		}
		found = true
		return json.Unmarshal(raw, &ent)
	})
	if err != nil || !found {
		return Delta{}, false, err
	}

	blob := c.blobPath(key)
	if _, ok := verifyBlob(blob, ent.Checksum, ent.Size); !ok {
		return Delta{}, false, nil
	}

	return Delta{
		Key:      key,
		Kind:     ent.Kind,
		Blob:     blob,
		Checksum: ent.Checksum,
		Size:     ent.Size,
	}, true, nil
}

// Removes an entry and its blob. Caller holds the file lock.
func (c *Cache) removeLocked(key digest.Digest) {
	_ = c.withIndex(func(b *bolt.Bucket) error {
		return b.Delete([]byte(key))
	})
	_ = os.Remove(c.blobPath(key))
}

// Acquires the cross-process file lock, giving up when ctx is cancelled so
// a signal can interrupt a wait on another process.
func (c *Cache) lock(ctx context.Context) error {
	ok, err := c.flk.TryLockContext(ctx, 50*time.Millisecond)
	if err != nil {
		return err
	}
	if !ok {
		return ctx.Err()
	}
	return nil
}

// Opens the index briefly for one transaction. The index is opened per
// operation rather than held for the process lifetime so that concurrent
// strata invocations are serialized by the outer file lock instead of
// deadlocking on bbolt's own exclusive file lock.
func (c *Cache) withIndex(fn func(b *bolt.Bucket) error) error {
	db, err := bolt.Open(filepath.Join(c.dir, indexFile), paths.DefaultFileMode, &bolt.Options{
		Timeout: 10 * time.Second,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	return db.Update(func(tx *bolt.Tx) error {
		b, err := tx.CreateBucketIfNotExists(bucketEntries)
		if err != nil {
			return err
		}
		return fn(b)
	})
}

// Returns the blob path for a cache key.
func (c *Cache) blobPath(key digest.Digest) string {
	return filepath.Join(c.dir, blobsDir, key.Algorithm().String(), key.Encoded())
}

// Verifies a blob file against its recorded checksum and size. Returns a
// human-readable reason when verification fails.
func verifyBlob(path string, checksum digest.Digest, size int64) (string, bool) {
	sum, n, err := digestFile(path)
	switch {
	case err != nil:
		return fmt.Sprintf("blob unreadable: %v", err), false
	case n != size:
		return fmt.Sprintf("blob size %d, recorded %d", n, size), false
	case sum != checksum:
		return fmt.Sprintf("blob checksum %s, recorded %s", sum, checksum), false
	}
	return "", true
}

// Computes the content digest and size of a file.
func digestFile(path string) (digest.Digest, int64, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	d := digest.Canonical.Digester()
	n, err := io.Copy(d.Hash(), f)
	if err != nil {
		return "", 0, err
	}

	return d.Digest(), n, nil
}

// Moves a file into place, falling back to copy-and-remove when src and dst
// are on different filesystems.
func moveFile(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}

	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.OpenFile(dst, os.O_WRONLY|os.O_CREATE|os.O_TRUNC, paths.DefaultFileMode)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		os.Remove(dst)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}

	return os.Remove(src)
}
