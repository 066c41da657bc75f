package fieldsync

import (
	"context"
	"time"

	c "github.com/unkn0wn-root/fieldsync/codec"
	gen "github.com/unkn0wn-root/fieldsync/genstore"
	pr "github.com/unkn0wn-root/fieldsync/provider"
)

// Store is the Cache Store: named namespaces of response snapshots keyed by
// normalized request keys (see RequestKey).
//
// Writes are guarded by per-entry generations: Delete and DeleteNamespace bump
// them, so a background refresh that observed an older generation via
// SnapshotGen cannot resurrect a purged entry through PutWithGen.
//
// Only Open registers a namespace. Writes into a namespace that is not open
// fail with ErrUnknownNamespace, so a request that outlives its version's
// namespaces cannot bring them back.
type Store interface {
	Enabled() bool
	Close(context.Context) error

	// Namespaces
	Open(ctx context.Context, ns string) error
	Namespaces(ctx context.Context) ([]string, error)
	DeleteNamespace(ctx context.Context, ns string) error
	Keys(ctx context.Context, ns string) ([]string, error)

	// Entries
	Match(ctx context.Context, ns, key string) (Snapshot, bool, error)
	// MatchAny searches every namespace in registration order.
	MatchAny(ctx context.Context, key string) (Snapshot, bool, error)
	Put(ctx context.Context, ns, key string, snap Snapshot) error
	PutWithGen(ctx context.Context, ns, key string, snap Snapshot, observedGen uint64) error
	Delete(ctx context.Context, ns, key string) error

	SnapshotGen(ctx context.Context, ns, key string) uint64
}

// Options configure the store. Only Provider is required.
type Options struct {
	Provider pr.Provider
	Codec    c.Codec[Snapshot] // nil => codec.Msgpack[Snapshot]

	Logger          Logger        // if nil, NopLogger is used
	Hooks           Hooks         // if nil, NopHooks is used
	TTL             time.Duration // per entry; 0 => entries live until their namespace is deleted
	CleanupInterval time.Duration // 0 => 1h
	GenRetention    time.Duration // 0 => 30d
	GenStore        gen.GenStore  // nil => LocalGenStore (in-process)
	Disabled        bool          // default false (enabled)
}

func New(opts Options) (Store, error) {
	return newStore(opts)
}
