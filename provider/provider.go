// Package provider defines the byte store behind the fieldsync Cache Store.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation).
//
// Important: the keyspaces "idx:" and "entry:" are owned by fieldsync. External
// code MUST NOT write values under these prefixes. Foreign writes are treated as
// corruption by the strict wire-format validation and deleted.
//
// A Set must be visible to the next Get from the same process: the store reads
// its namespace indexes back right after writing them.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs, safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL (0 => no expiry). May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key. Deleting a missing key is not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}

// Pinger is implemented by providers that sit on something that can go away
// (a Redis server, a database file). The daemon's health check uses it.
type Pinger interface {
	Ping(ctx context.Context) error
}
