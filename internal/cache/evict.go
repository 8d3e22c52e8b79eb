package cache

import (
	"encoding/json"
	"log/slog"
	"os"
	"slices"

	"github.com/opencontainers/go-digest"
	bolt "go.etcd.io/bbolt"
)

// An index record paired with its key, for eviction ordering.
type indexed struct {
	key digest.Digest
	ent entry
}

// Evicts least-recently-used entries until total blob bytes fit the budget.
// The entry stored under keep is never evicted by its own store, so the
// caller always gets back a delta whose blob still exists. Runs inside the
// store transaction; the caller holds the file lock.
func (c *Cache) evict(b *bolt.Bucket, keep digest.Digest) error {
	if c.budget <= 0 {
		return nil
	}

	var (
		total int64
		recs  []indexed
	)
	err := b.ForEach(func(k, v []byte) error {
		var ent entry
		if err := json.Unmarshal(v, &ent); err != nil {
			return err
		}
		total += ent.Size
		recs = append(recs, indexed{key: digest.Digest(k), ent: ent})
		return nil
	})
	if err != nil {
		return err
	}

	if total <= c.budget {
		return nil
	}

	slices.SortFunc(recs, func(a, b indexed) int {
		return a.ent.LastUsed.Compare(b.ent.LastUsed)
	})

	for _, rec := range recs {
		if total <= c.budget {
			break
		}
		if rec.key == keep {
			continue
		}

		if err := b.Delete([]byte(rec.key)); err != nil {
			return err
		}
		if err := os.Remove(c.blobPath(rec.key)); err != nil && !os.IsNotExist(err) {
			return err
		}

		total -= rec.ent.Size
		slog.Warn("evicted cache entry",
			"key", rec.key,
			"kind", rec.ent.Kind,
			"size", rec.ent.Size,
			"lastUsed", rec.ent.LastUsed,
		)
	}

	return nil
}
