// Package cache implements the persistent layer cache.
//
// The cache maps content-derived cache keys to layer deltas, stored as tar
// blobs under the cache directory with their metadata in a bbolt index.
// Every entry records a checksum of its blob; a mismatch on lookup marks
// the entry corrupt, which is self-healing: the entry is dropped and the
// build recomputes it.
//
// Concurrency follows two rings. Within a process, Do coalesces concurrent
// computations of the same key through singleflight, so N builds missing
// the same key execute the step once and share the result. Across
// processes, a file lock on the cache directory serializes the
// lookup/store/evict critical sections, so a second process observes the
// first one's stored entry instead of racing it.
//
// Eviction is least-recently-used, bounded by a configurable total byte
// budget. A delta is only ever stored after its step completed
// successfully; failed or cancelled executions leave no trace.
package cache
