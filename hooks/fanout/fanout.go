// Package fanout delivers every event to several Hooks in order.
package fanout

import "github.com/unkn0wn-root/fieldsync"

type Hooks []fieldsync.Hooks

var _ fieldsync.Hooks = Hooks(nil)

// New drops nil entries. With a single hook left it returns that hook.
func New(hs ...fieldsync.Hooks) fieldsync.Hooks {
	out := make(Hooks, 0, len(hs))
	for _, h := range hs {
		if h != nil {
			out = append(out, h)
		}
	}
	switch len(out) {
	case 0:
		return fieldsync.NopHooks{}
	case 1:
		return out[0]
	}
	return out
}

func (m Hooks) SelfHeal(ns, key, reason string) {
	for _, h := range m {
		h.SelfHeal(ns, key, reason)
	}
}

func (m Hooks) CacheWriteRejected(ns, key, reason string) {
	for _, h := range m {
		h.CacheWriteRejected(ns, key, reason)
	}
}

func (m Hooks) Served(kind, status string) {
	for _, h := range m {
		h.Served(kind, status)
	}
}

func (m Hooks) CacheIOError(op, ns string, err error) {
	for _, h := range m {
		h.CacheIOError(op, ns, err)
	}
}

func (m Hooks) NamespaceDeleted(ns string) {
	for _, h := range m {
		h.NamespaceDeleted(ns)
	}
}

func (m Hooks) EntryPurged(ns, key string) {
	for _, h := range m {
		h.EntryPurged(ns, key)
	}
}

func (m Hooks) SyncSettled(tag string, err error) {
	for _, h := range m {
		h.SyncSettled(tag, err)
	}
}

func (m Hooks) MutationFailed(id string, attempts int, final bool, err error) {
	for _, h := range m {
		h.MutationFailed(id, attempts, final, err)
	}
}
