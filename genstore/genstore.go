// Package genstore holds the per-entry generation counters of the cache store.
//
// A generation only moves forward. Deleting an entry or its namespace bumps it;
// writers that observed an older value lose. Stored entries carry the
// generation they were written under so readers can spot entries that outlived
// a delete.
package genstore

import (
	"context"
	"time"
)

// GenStore abstracts where generations live.
// Use LocalGenStore (default) for in-process gens, or RedisGenStore when
// several workers share one Redis-backed cache.
type GenStore interface {
	// Snapshot returns the current generation; missing => 0.
	Snapshot(ctx context.Context, storageKey string) (uint64, error)
	// Bump atomically increments and returns the new generation.
	Bump(ctx context.Context, storageKey string) (uint64, error)
	// Cleanup prunes old metadata if applicable (no-op for Redis).
	Cleanup(retention time.Duration)
	// Close releases resources (no-op ok).
	Close(context.Context) error
}
