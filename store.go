package fieldsync

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	c "github.com/unkn0wn-root/fieldsync/codec"
	gen "github.com/unkn0wn-root/fieldsync/genstore"
	"github.com/unkn0wn-root/fieldsync/internal/util"
	"github.com/unkn0wn-root/fieldsync/internal/wire"
	pr "github.com/unkn0wn-root/fieldsync/provider"
)

const (
	defaultGenRetention = 30 * 24 * time.Hour
	defaultSweep        = time.Hour

	rootIndexKey = "idx:"
)

var (
	ErrNilProvider    = errors.New("fieldsync: provider is required")
	ErrEmptyNamespace = errors.New("fieldsync: namespace is required")
	// ErrUnknownNamespace is returned by Put and PutWithGen when ns was never
	// opened or has been deleted since.
	ErrUnknownNamespace = errors.New("fieldsync: namespace is not open")
	errIndexRejected    = errors.New("fieldsync: provider rejected index write")
)

type store struct {
	// mu serializes every read-modify-write of the indexes and the entry
	// writes that go with them.
	mu sync.Mutex

	provider pr.Provider
	codec    c.Codec[Snapshot]
	gen      gen.GenStore
	log      Logger
	hooks    Hooks
	ttl      time.Duration
	enabled  bool
}

func newStore(opts Options) (*store, error) {
	if opts.Provider == nil {
		return nil, ErrNilProvider
	}

	s := &store{
		provider: opts.Provider,
		enabled:  !opts.Disabled,
		ttl:      opts.TTL,
	}

	s.log = coalesce[Logger](opts.Logger, NopLogger{})
	s.hooks = coalesce[Hooks](opts.Hooks, NopHooks{})
	s.codec = coalesce[c.Codec[Snapshot]](opts.Codec, c.Msgpack[Snapshot]{})

	if opts.GenStore != nil {
		s.gen = opts.GenStore
	} else {
		s.gen = gen.NewLocalGenStore(
			coalesce(opts.CleanupInterval, defaultSweep),
			coalesce(opts.GenRetention, defaultGenRetention),
		)
	}
	return s, nil
}

func (s *store) Enabled() bool { return s.enabled }

func (s *store) Close(ctx context.Context) error {
	// Close gen store first (best effort)
	if s.gen != nil {
		_ = s.gen.Close(ctx)
	}
	return s.provider.Close(ctx)
}

func (s *store) Open(ctx context.Context, ns string) error {
	if ns == "" {
		return ErrEmptyNamespace
	}
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.register(ctx, ns)
}

func (s *store) Namespaces(ctx context.Context) ([]string, error) {
	if !s.enabled {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex(ctx, rootIndexKey)
}

func (s *store) DeleteNamespace(ctx context.Context, ns string) error {
	if ns == "" {
		return ErrEmptyNamespace
	}
	if !s.enabled {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	keys, err := s.readIndex(ctx, indexKey(ns))
	if err != nil {
		return &DeleteError{Namespace: ns, IndexErr: err}
	}

	var delErrs []error
	for _, k := range keys {
		sk := entryKey(ns, k)
		s.bumpGen(ctx, sk)
		if err := s.provider.Del(ctx, sk); err != nil {
			delErrs = append(delErrs, err)
		}
	}

	var idxErr error
	if err := s.provider.Del(ctx, indexKey(ns)); err != nil {
		idxErr = err
	}
	names, err := s.readIndex(ctx, rootIndexKey)
	if err == nil {
		if i := slices.Index(names, ns); i >= 0 {
			err = s.writeIndex(ctx, rootIndexKey, slices.Delete(names, i, i+1))
		}
	}
	idxErr = errors.Join(idxErr, err)

	if idxErr != nil || len(delErrs) > 0 {
		derr := &DeleteError{Namespace: ns, IndexErr: idxErr, DelErr: errors.Join(delErrs...)}
		s.hooks.CacheIOError("delete", ns, derr)
		return derr
	}
	s.hooks.NamespaceDeleted(ns)
	s.log.Debug("namespace deleted", Fields{"ns": ns, "entries": len(keys)})
	return nil
}

func (s *store) Keys(ctx context.Context, ns string) ([]string, error) {
	if !s.enabled {
		return nil, nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.readIndex(ctx, indexKey(ns))
}

func (s *store) Match(ctx context.Context, ns, key string) (Snapshot, bool, error) {
	if !s.enabled {
		return Snapshot{}, false, nil
	}
	sk := entryKey(ns, key)
	raw, ok, err := s.provider.Get(ctx, sk)
	if err != nil {
		s.hooks.CacheIOError("get", ns, err)
		return Snapshot{}, false, err
	}
	if !ok {
		return Snapshot{}, false, nil
	}

	storedGen, captured, payload, err := wire.DecodeEntry(raw)
	if err != nil {
		s.heal(ctx, ns, key, "corrupt")
		return Snapshot{}, false, nil
	}
	// An older stored generation means a delete happened after the write.
	// Newer ones are fine: the in-process generation store starts from zero
	// while a durable provider keeps its entries across restarts.
	if storedGen < s.snapshotGen(ctx, sk) {
		s.heal(ctx, ns, key, "stale_gen")
		return Snapshot{}, false, nil
	}
	snap, err := s.codec.Decode(payload)
	if err != nil {
		s.heal(ctx, ns, key, "value_decode")
		return Snapshot{}, false, nil
	}
	if !captured.IsZero() {
		snap.CapturedAt = captured
	}
	return snap, true, nil
}

func (s *store) MatchAny(ctx context.Context, key string) (Snapshot, bool, error) {
	names, err := s.Namespaces(ctx)
	if err != nil {
		return Snapshot{}, false, err
	}
	var errs []error
	for _, ns := range names {
		snap, ok, err := s.Match(ctx, ns, key)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if ok {
			return snap, true, nil
		}
	}
	return Snapshot{}, false, errors.Join(errs...)
}

func (s *store) Put(ctx context.Context, ns, key string, snap Snapshot) error {
	if !s.enabled {
		return nil
	}
	if !snap.Cacheable() {
		s.hooks.CacheWriteRejected(ns, key, "not_cacheable")
		return ErrNotCacheable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.write(ctx, ns, key, snap, s.snapshotGen(ctx, entryKey(ns, key)))
}

func (s *store) PutWithGen(ctx context.Context, ns, key string, snap Snapshot, observedGen uint64) error {
	if !s.enabled {
		return nil
	}
	if !snap.Cacheable() {
		s.hooks.CacheWriteRejected(ns, key, "not_cacheable")
		return ErrNotCacheable
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.snapshotGen(ctx, entryKey(ns, key)); cur != observedGen {
		// generation moved; skip stale write
		s.hooks.CacheWriteRejected(ns, key, "gen_mismatch")
		s.log.Debug("PutWithGen skipped (gen mismatch)", Fields{"ns": ns, "key": key, "obs": observedGen, "cur": cur})
		return nil
	}
	return s.write(ctx, ns, key, snap, observedGen)
}

func (s *store) Delete(ctx context.Context, ns, key string) error {
	if !s.enabled {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	sk := entryKey(ns, key)
	newGen := s.bumpGen(ctx, sk)
	delErr := s.provider.Del(ctx, sk)
	idxErr := s.unindex(ctx, ns, key)
	if delErr != nil || idxErr != nil {
		derr := &DeleteError{Namespace: ns, Key: key, IndexErr: idxErr, DelErr: delErr}
		s.hooks.CacheIOError("delete", ns, derr)
		return derr
	}
	s.log.Debug("deleted entry (bumped gen + cleared entry)", Fields{"ns": ns, "key": key, "newGen": newGen})
	return nil
}

func (s *store) SnapshotGen(ctx context.Context, ns, key string) uint64 {
	return s.snapshotGen(ctx, entryKey(ns, key))
}

// write must be called with mu held.
func (s *store) write(ctx context.Context, ns, key string, snap Snapshot, g uint64) error {
	if ns == "" {
		return ErrEmptyNamespace
	}
	names, err := s.readIndex(ctx, rootIndexKey)
	if err != nil {
		return err
	}
	if !slices.Contains(names, ns) {
		s.hooks.CacheWriteRejected(ns, key, "unknown_namespace")
		return ErrUnknownNamespace
	}
	payload, err := s.codec.Encode(snap)
	if err != nil {
		return fmt.Errorf("fieldsync: encode snapshot: %w", err)
	}
	raw := wire.EncodeEntry(g, snap.CapturedAt, payload)

	ok, err := s.provider.Set(ctx, entryKey(ns, key), raw, int64(len(raw)), s.ttl)
	if err != nil {
		s.hooks.CacheIOError("put", ns, err)
		return err
	}
	if !ok {
		s.hooks.CacheWriteRejected(ns, key, "provider_rejected")
		s.log.Debug("Put rejected by provider (pressure)", Fields{"ns": ns, "key": key})
		return nil
	}

	keys, err := s.readIndex(ctx, indexKey(ns))
	if err != nil {
		return err
	}
	if slices.Contains(keys, key) {
		return nil
	}
	return s.writeIndex(ctx, indexKey(ns), append(keys, key))
}

// register adds ns to the root index; mu must be held.
func (s *store) register(ctx context.Context, ns string) error {
	names, err := s.readIndex(ctx, rootIndexKey)
	if err != nil {
		return err
	}
	if slices.Contains(names, ns) {
		return nil
	}
	return s.writeIndex(ctx, rootIndexKey, append(names, ns))
}

// unindex removes key from the index of ns; mu must be held.
func (s *store) unindex(ctx context.Context, ns, key string) error {
	keys, err := s.readIndex(ctx, indexKey(ns))
	if err != nil {
		return err
	}
	i := slices.Index(keys, key)
	if i < 0 {
		return nil
	}
	return s.writeIndex(ctx, indexKey(ns), slices.Delete(keys, i, i+1))
}

func (s *store) readIndex(ctx context.Context, k string) ([]string, error) {
	raw, ok, err := s.provider.Get(ctx, k)
	if err != nil {
		s.hooks.CacheIOError("index", k, err)
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	keys, err := wire.DecodeIndex(raw)
	if err != nil {
		// self-heal corrupt index; entries it listed become unreachable
		_ = s.provider.Del(ctx, k)
		s.hooks.SelfHeal(k, "", "corrupt")
		s.log.Warn("dropped corrupt index", Fields{"key": k})
		return nil, nil
	}
	return keys, nil
}

func (s *store) writeIndex(ctx context.Context, k string, keys []string) error {
	if len(keys) == 0 {
		if err := s.provider.Del(ctx, k); err != nil {
			s.hooks.CacheIOError("index", k, err)
			return err
		}
		return nil
	}
	raw, err := wire.EncodeIndex(keys)
	if err != nil {
		return err
	}
	// indexes never expire
	ok, err := s.provider.Set(ctx, k, raw, int64(len(raw)), 0)
	if err != nil {
		s.hooks.CacheIOError("index", k, err)
		return err
	}
	if !ok {
		return errIndexRejected
	}
	return nil
}

// heal drops an unreadable entry without bumping its generation.
func (s *store) heal(ctx context.Context, ns, key, reason string) {
	_ = s.provider.Del(ctx, entryKey(ns, key))
	s.mu.Lock()
	_ = s.unindex(ctx, ns, key)
	s.mu.Unlock()
	s.hooks.SelfHeal(ns, key, reason)
}

func (s *store) snapshotGen(ctx context.Context, sk string) uint64 {
	g, err := s.gen.Snapshot(ctx, sk)
	if err != nil {
		s.log.Warn("gen snapshot failed; treating as 0", Fields{"key": sk, "err": err})
		return 0
	}
	return g
}

func (s *store) bumpGen(ctx context.Context, sk string) uint64 {
	g, err := s.gen.Bump(ctx, sk)
	if err != nil {
		s.log.Error("gen bump failed", Fields{"key": sk, "err": err})
		return 0
	}
	return g
}

func indexKey(ns string) string { return rootIndexKey + ns }

func entryKey(ns, key string) string { return util.HashKey("entry:"+ns, key) }
