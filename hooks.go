package fieldsync

// Hooks lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking: the store, strategies and
// coordinator call them on hot paths.
type Hooks interface {
	// An entry was deleted by the store on read.
	// reason ∈ {"corrupt", "stale_gen", "value_decode"}
	SelfHeal(namespace, key, reason string)

	// A snapshot was not written.
	// reason ∈ {"not_cacheable", "provider_rejected", "gen_mismatch"}
	CacheWriteRejected(namespace, key, reason string)

	// The strategy executor answered a request. kind is the request class,
	// status ∈ {"hit", "miss", "fallback", "bypass"}.
	Served(kind, status string)

	// A provider or index operation failed. op ∈ {"get", "put", "delete", "index"}.
	CacheIOError(op, namespace string, err error)

	// Lifecycle cleanup removed a whole namespace or a single dynamic entry.
	NamespaceDeleted(namespace string)
	EntryPurged(namespace, key string)

	// A coordinator round finished. err is nil when the tag resolved.
	SyncSettled(tag string, err error)

	// A queued mutation failed to apply. final is true when it reached the
	// attempt ceiling and now needs manual intervention.
	MutationFailed(id string, attempts int, final bool, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) SelfHeal(string, string, string)           {}
func (NopHooks) CacheWriteRejected(string, string, string) {}
func (NopHooks) Served(string, string)                     {}
func (NopHooks) CacheIOError(string, string, error)        {}
func (NopHooks) NamespaceDeleted(string)                   {}
func (NopHooks) EntryPurged(string, string)                {}
func (NopHooks) SyncSettled(string, error)                 {}
func (NopHooks) MutationFailed(string, int, bool, error)   {}
