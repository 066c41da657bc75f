// Package sloghooks logs fieldsync events with log/slog. Request keys contain
// URLs that may carry ids, so they are redacted to a SHA-256 prefix by default.
package sloghooks

import (
	"crypto/sha256"
	"encoding/hex"
	"log/slog"
	"sync/atomic"

	"github.com/unkn0wn-root/fieldsync"
)

type Options struct {
	// Sampling to avoid floods; 0/1 = log all.
	SelfHealEvery    uint64
	WriteRejectEvery uint64
	// Optional key redactor. Defaults to SHA-256 prefix.
	Redact func(string) string
}

type Hooks struct {
	l    *slog.Logger
	opts Options

	selfHealCtr    atomic.Uint64
	writeRejectCtr atomic.Uint64
}

var _ fieldsync.Hooks = (*Hooks)(nil)

func New(l *slog.Logger, opts Options) *Hooks {
	return &Hooks{l: l, opts: opts}
}

func (h *Hooks) redact(k string) string {
	if h.opts.Redact != nil {
		return h.opts.Redact(k)
	}
	sum := sha256.Sum256([]byte(k))
	return hex.EncodeToString(sum[:8])
}

func sample(n uint64, ctr *atomic.Uint64) bool {
	if n == 0 || n == 1 {
		return true
	}
	return ctr.Add(1)%n == 0
}

func (h *Hooks) SelfHeal(ns, key, reason string) {
	if h.l == nil || !sample(h.opts.SelfHealEvery, &h.selfHealCtr) {
		return
	}
	h.l.Debug("fieldsync.self_heal",
		"ns", ns,
		"key", h.redact(key),
		"reason", reason)
}

func (h *Hooks) CacheWriteRejected(ns, key, reason string) {
	if h.l == nil || !sample(h.opts.WriteRejectEvery, &h.writeRejectCtr) {
		return
	}
	h.l.Debug("fieldsync.cache_write_rejected",
		"ns", ns,
		"key", h.redact(key),
		"reason", reason)
}

// Served is not logged; use promhooks for hit ratios.
func (h *Hooks) Served(string, string) {}

func (h *Hooks) CacheIOError(op, ns string, err error) {
	if h.l == nil {
		return
	}
	h.l.Warn("fieldsync.cache_io_error",
		"op", op,
		"ns", ns,
		"err", err)
}

func (h *Hooks) NamespaceDeleted(ns string) {
	if h.l == nil {
		return
	}
	h.l.Info("fieldsync.namespace_deleted", "ns", ns)
}

func (h *Hooks) EntryPurged(ns, key string) {
	if h.l == nil {
		return
	}
	h.l.Debug("fieldsync.entry_purged",
		"ns", ns,
		"key", h.redact(key))
}

func (h *Hooks) SyncSettled(tag string, err error) {
	if h.l == nil {
		return
	}
	if err != nil {
		h.l.Warn("fieldsync.sync_rejected", "tag", tag, "err", err)
		return
	}
	h.l.Info("fieldsync.sync_resolved", "tag", tag)
}

func (h *Hooks) MutationFailed(id string, attempts int, final bool, err error) {
	if h.l == nil {
		return
	}
	if final {
		h.l.Error("fieldsync.mutation_stuck",
			"id", id,
			"attempts", attempts,
			"err", err)
		return
	}
	h.l.Warn("fieldsync.mutation_failed",
		"id", id,
		"attempts", attempts,
		"err", err)
}
