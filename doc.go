// Package fieldsync implements the cache side of an offline-first sync worker:
// versioned, named namespaces of HTTP response snapshots over a pluggable byte
// store.
//
// Components:
//   - Provider: byte store with TTL (e.g. Ristretto, BigCache, Redis, Badger).
//   - Codec[Snapshot]: (de)serializes snapshots <-> []byte (msgpack default).
//   - GenStore: generation counter per entry. Deletes bump the generation so a
//     background revalidation that started earlier cannot resurrect a purged entry.
//
// Keys:
//
//	idx:              - list of namespaces
//	idx:<ns>          - list of request keys in <ns>
//	entry:<ns>:<hash> - one framed snapshot (hash over the request key)
//
// Namespaces are immutable, version-suffixed names (see Versioned). Migrating
// to a new version means opening the new names and deleting every other one;
// entries are never rewritten in place.
//
// The strategies, lifecycle and sync coordinator built on top of the store live
// in the classify, strategy, lifecycle, queue and coordinator packages.
package fieldsync
