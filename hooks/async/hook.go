// Package asynchook moves Hooks calls off the hot path: events are queued to a
// bounded channel and dropped when it is full.
//
// usage:
//
//	raw := sloghooks.New(slog.Default(), sloghooks.Options{SelfHealEvery: 10})
//	hooks := asynchook.New(raw, 1, 1000) // 1 worker; queue 1000 events
//	defer hooks.Close()
//
//	store, _ := fieldsync.New(fieldsync.Options{Provider: p, Hooks: hooks})
package asynchook

import (
	"sync"
	"sync/atomic"

	"github.com/unkn0wn-root/fieldsync"
)

type Hooks struct {
	inner   fieldsync.Hooks
	q       chan func()
	wg      sync.WaitGroup
	once    sync.Once
	dropped atomic.Uint64
}

var _ fieldsync.Hooks = (*Hooks)(nil)

func New(inner fieldsync.Hooks, workers, qlen int) *Hooks {
	if workers <= 0 {
		workers = 1
	}
	if qlen <= 0 {
		qlen = 1024
	}

	h := &Hooks{inner: inner, q: make(chan func(), qlen)}
	h.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer h.wg.Done()
			for f := range h.q {
				f()
			}
		}()
	}
	return h
}

// Close drains queued events and stops the workers. Events raised after Close
// are dropped.
func (h *Hooks) Close() {
	h.once.Do(func() {
		close(h.q)
		h.wg.Wait()
	})
}

// Dropped reports how many events were discarded because the queue was full.
func (h *Hooks) Dropped() uint64 { return h.dropped.Load() }

func (h *Hooks) try(f func()) {
	defer func() {
		// send on closed channel after Close
		if recover() != nil {
			h.dropped.Add(1)
		}
	}()
	select {
	case h.q <- f:
	default:
		h.dropped.Add(1)
	}
}

func (h *Hooks) SelfHeal(ns, k, r string) { h.try(func() { h.inner.SelfHeal(ns, k, r) }) }
func (h *Hooks) CacheWriteRejected(ns, k, r string) {
	h.try(func() { h.inner.CacheWriteRejected(ns, k, r) })
}
func (h *Hooks) Served(kind, status string) { h.try(func() { h.inner.Served(kind, status) }) }
func (h *Hooks) CacheIOError(op, ns string, err error) {
	h.try(func() { h.inner.CacheIOError(op, ns, err) })
}
func (h *Hooks) NamespaceDeleted(ns string)        { h.try(func() { h.inner.NamespaceDeleted(ns) }) }
func (h *Hooks) EntryPurged(ns, k string)          { h.try(func() { h.inner.EntryPurged(ns, k) }) }
func (h *Hooks) SyncSettled(tag string, err error) { h.try(func() { h.inner.SyncSettled(tag, err) }) }
func (h *Hooks) MutationFailed(id string, n int, final bool, err error) {
	h.try(func() { h.inner.MutationFailed(id, n, final, err) })
}
