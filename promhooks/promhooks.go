// Package promhooks counts fieldsync events with Prometheus counters.
package promhooks

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/unkn0wn-root/fieldsync"
)

type Hooks struct {
	served        *prometheus.CounterVec
	selfHeal      *prometheus.CounterVec
	writeRejected *prometheus.CounterVec
	ioErrors      *prometheus.CounterVec
	nsDeleted     prometheus.Counter
	purged        prometheus.Counter
	syncs         *prometheus.CounterVec
	mutations     *prometheus.CounterVec
}

var _ fieldsync.Hooks = (*Hooks)(nil)

// New registers the counters on reg (prometheus.DefaultRegisterer when nil).
// Registering twice on the same registry panics.
func New(reg prometheus.Registerer) *Hooks {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Hooks{
		served: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_requests_served_total",
			Help: "Requests answered by the strategy executor by request kind and cache status",
		}, []string{"kind", "status"}),
		selfHeal: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_cache_self_heal_total",
			Help: "Cache entries dropped on read by reason",
		}, []string{"reason"}),
		writeRejected: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_cache_write_rejected_total",
			Help: "Snapshots not written by reason",
		}, []string{"reason"}),
		ioErrors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_cache_io_errors_total",
			Help: "Failed provider operations by operation",
		}, []string{"op"}),
		nsDeleted: f.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_cache_namespaces_deleted_total",
			Help: "Namespaces deleted by lifecycle cleanup",
		}),
		purged: f.NewCounter(prometheus.CounterOpts{
			Name: "fieldsync_cache_entries_purged_total",
			Help: "Dynamic entries purged from retained namespaces",
		}),
		syncs: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_sync_sessions_total",
			Help: "Sync sessions by tag and result",
		}, []string{"tag", "result"}),
		mutations: f.NewCounterVec(prometheus.CounterOpts{
			Name: "fieldsync_mutation_failures_total",
			Help: "Failed mutation replays; final=true once the attempt ceiling is hit",
		}, []string{"final"}),
	}
}

func (h *Hooks) Served(kind, status string) { h.served.WithLabelValues(kind, status).Inc() }

func (h *Hooks) SelfHeal(_, _, reason string) { h.selfHeal.WithLabelValues(reason).Inc() }

func (h *Hooks) CacheWriteRejected(_, _, reason string) {
	h.writeRejected.WithLabelValues(reason).Inc()
}

func (h *Hooks) CacheIOError(op, _ string, _ error) { h.ioErrors.WithLabelValues(op).Inc() }

func (h *Hooks) NamespaceDeleted(string) { h.nsDeleted.Inc() }

func (h *Hooks) EntryPurged(string, string) { h.purged.Inc() }

func (h *Hooks) SyncSettled(tag string, err error) {
	result := "resolved"
	if err != nil {
		result = "rejected"
	}
	h.syncs.WithLabelValues(tag, result).Inc()
}

func (h *Hooks) MutationFailed(_ string, _ int, final bool, _ error) {
	h.mutations.WithLabelValues(strconv.FormatBool(final)).Inc()
}
