package worker

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sync"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/lifecycle"
	"github.com/unkn0wn-root/fieldsync/message"
)

var (
	ErrNoWaiting = errors.New("worker: no waiting version")
	ErrNoActive  = errors.New("worker: no active version")
)

type RegistrationOptions struct {
	// WaitForActivation keeps a newly installed version waiting while another
	// one is active, until SkipWaiting. The first version is always activated.
	WaitForActivation bool
	// Network serves requests while no version is active. nil => http.DefaultTransport.
	Network http.RoundTripper
	Logger  fieldsync.Logger
}

// Registration holds the active and the waiting version.
type Registration struct {
	wait bool
	net  http.RoundTripper
	log  fieldsync.Logger

	amu sync.Mutex // serializes activations

	mu      sync.RWMutex
	active  *Worker
	waiting *Worker
}

func NewRegistration(opts RegistrationOptions) *Registration {
	r := &Registration{
		wait: opts.WaitForActivation,
		net:  opts.Network,
		log:  fieldsync.Coalesce[fieldsync.Logger](opts.Logger, fieldsync.NopLogger{}),
	}
	if r.net == nil {
		r.net = http.DefaultTransport
	}
	return r
}

// Register installs w. It becomes the waiting version, replacing any earlier
// waiting one, and is activated right away unless activation has to wait.
func (r *Registration) Register(ctx context.Context, w *Worker) (lifecycle.Report, error) {
	rep, err := w.life.Install(ctx)
	if err != nil {
		return rep, fmt.Errorf("worker: install %s: %w", w.version, err)
	}

	r.mu.Lock()
	if prev := r.waiting; prev != nil {
		prev.life.Retire()
		r.log.Info("waiting version replaced", fieldsync.Fields{"old": prev.version, "new": w.version})
	}
	r.waiting = w
	now := !r.wait || r.active == nil
	r.mu.Unlock()

	if !now {
		r.log.Info("version waiting", fieldsync.Fields{"version": w.version})
		return rep, nil
	}
	act, err := r.activate(ctx)
	act.Precached, act.PrecacheFailed = rep.Precached, rep.PrecacheFailed
	return act, err
}

// SkipWaiting activates the waiting version now.
func (r *Registration) SkipWaiting(ctx context.Context) (lifecycle.Report, error) {
	return r.activate(ctx)
}

func (r *Registration) activate(ctx context.Context) (lifecycle.Report, error) {
	r.amu.Lock()
	defer r.amu.Unlock()

	r.mu.Lock()
	w := r.waiting
	r.waiting = nil
	r.mu.Unlock()
	if w == nil {
		return lifecycle.Report{}, ErrNoWaiting
	}

	rep, err := w.life.Activate(ctx)
	if err != nil {
		return rep, fmt.Errorf("worker: activate %s: %w", w.version, err)
	}

	r.mu.Lock()
	prev := r.active
	r.active = w
	r.mu.Unlock()

	if prev != nil {
		prev.life.Retire()
		r.log.Info("version retired", fieldsync.Fields{"version": prev.version})
	}
	return rep, nil
}

// HandleMessage accepts unsolicited messages from foreground contexts.
func (r *Registration) HandleMessage(ctx context.Context, m message.Message) error {
	if m.Type != message.SkipWaiting {
		return fmt.Errorf("worker: unexpected message %s", m.Type)
	}
	_, err := r.SkipWaiting(ctx)
	if errors.Is(err, ErrNoWaiting) {
		r.log.Debug("skip waiting with nothing waiting", nil)
		return nil
	}
	return err
}

func (r *Registration) Active() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.active
}

func (r *Registration) Waiting() *Worker {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.waiting
}

// RoundTrip routes through the active version, or straight to the network
// when none is active.
func (r *Registration) RoundTrip(req *http.Request) (*http.Response, error) {
	if w := r.Active(); w != nil {
		return w.RoundTrip(req)
	}
	return r.net.RoundTrip(req)
}

// Sync runs a coordinator session on the active version.
func (r *Registration) Sync(ctx context.Context, tag string) error {
	w := r.Active()
	if w == nil {
		return ErrNoActive
	}
	return w.Sync(ctx, tag)
}
