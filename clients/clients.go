// Package clients tracks the foreground contexts a worker can talk to.
package clients

import (
	"errors"
	"sync"

	"github.com/unkn0wn-root/fieldsync/message"
)

// Client is an open foreground context.
type Client interface {
	ID() string
	// PostMessage delivers m. Requests carry a reply port; the client answers
	// on it at most once. PostMessage must not block on the answer.
	PostMessage(m message.Message, reply *message.Port) error
}

var ErrDuplicate = errors.New("clients: duplicate client id")

type entry struct {
	c          Client
	controller string
}

// Registry is an ordered set of clients. Order is registration order.
type Registry struct {
	mu    sync.RWMutex
	order []string
	byID  map[string]*entry
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*entry)}
}

func (r *Registry) Add(c Client) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	id := c.ID()
	if _, ok := r.byID[id]; ok {
		return ErrDuplicate
	}
	r.byID[id] = &entry{c: c}
	r.order = append(r.order, id)
	return nil
}

// Remove forgets a client. Unknown ids are ignored.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; !ok {
		return
	}
	delete(r.byID, id)
	for i, v := range r.order {
		if v == id {
			r.order = append(r.order[:i:i], r.order[i+1:]...)
			break
		}
	}
}

func (r *Registry) Get(id string) (Client, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return e.c, true
}

// MatchAll returns open clients in registration order. Without
// includeUncontrolled only clients claimed by some worker version are listed.
func (r *Registry) MatchAll(includeUncontrolled bool) []Client {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Client, 0, len(r.order))
	for _, id := range r.order {
		e := r.byID[id]
		if !includeUncontrolled && e.controller == "" {
			continue
		}
		out = append(out, e.c)
	}
	return out
}

// Claim makes controller the controller of every open client and returns how
// many changed hands.
func (r *Registry) Claim(controller string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, e := range r.byID {
		if e.controller != controller {
			e.controller = controller
			n++
		}
	}
	return n
}

// Controller returns the version controlling id, "" when uncontrolled or gone.
func (r *Registry) Controller(id string) string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if e, ok := r.byID[id]; ok {
		return e.controller
	}
	return ""
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.order)
}

// Func adapts a function into a Client.
type Func struct {
	Name string
	Fn   func(m message.Message, reply *message.Port) error
}

func (f Func) ID() string { return f.Name }

func (f Func) PostMessage(m message.Message, reply *message.Port) error {
	return f.Fn(m, reply)
}
