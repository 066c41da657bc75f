// Package lifecycle brings one worker version online: it installs the version's
// namespaces, pre-populates the shell, and on activation deletes every other
// namespace and purges dynamic entries so nothing is served across versions.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/classify"
)

type State uint8

const (
	New State = iota
	Installing
	Installed
	Activating
	Active
	Redundant
)

func (s State) String() string {
	switch s {
	case New:
		return "new"
	case Installing:
		return "installing"
	case Installed:
		return "installed"
	case Activating:
		return "activating"
	case Active:
		return "active"
	case Redundant:
		return "redundant"
	default:
		return "unknown"
	}
}

var ErrInvalidTransition = errors.New("lifecycle: invalid state transition")

const (
	defaultPrecacheConcurrency = 4
	defaultPrecacheTimeout     = 15 * time.Second
)

// Claimer takes control of every open client. clients.Registry implements it.
type Claimer interface {
	Claim(controller string) int
}

type Options struct {
	Store fieldsync.Store // required
	Names fieldsync.Namespaces
	// Version identifies this worker when claiming clients.
	Version string

	// Precache lists absolute URLs of the essential documents fetched into the
	// shell namespace at install.
	Precache            []string
	Fetch               http.RoundTripper // nil => http.DefaultTransport
	PrecacheConcurrency int               // 0 => 4
	PrecacheTimeout     time.Duration     // per fetch; 0 => 15s

	Rules   classify.Rules // decides which runtime entries are dynamic
	Keys    *fieldsync.KeyOptions
	Clients Claimer // optional

	Logger fieldsync.Logger
	Hooks  fieldsync.Hooks
}

// Report summarizes one install or activation. Cleanup failures are collected
// rather than returned; see Err.
type Report struct {
	Precached         int
	PrecacheFailed    int
	NamespacesDeleted []string
	EntriesPurged     int
	Claimed           int
	Errors            []error
}

// Err returns a *CleanupError when any step failed, nil otherwise.
func (r Report) Err() error {
	if len(r.Errors) == 0 {
		return nil
	}
	return &CleanupError{Errs: r.Errors}
}

// CleanupError collects every failed step of a best-effort cleanup.
type CleanupError struct {
	Errs []error
}

func (e *CleanupError) Error() string {
	if len(e.Errs) == 1 {
		return "lifecycle: cleanup step failed: " + e.Errs[0].Error()
	}
	return fmt.Sprintf("lifecycle: %d cleanup steps failed; first: %v", len(e.Errs), e.Errs[0])
}

func (e *CleanupError) Unwrap() []error { return e.Errs }

type Manager struct {
	mu    sync.Mutex
	state State

	store    fieldsync.Store
	names    fieldsync.Namespaces
	version  string
	precache []string
	fetch    http.RoundTripper
	limit    int
	timeout  time.Duration
	rules    classify.Rules
	keys     fieldsync.KeyOptions
	clients  Claimer
	log      fieldsync.Logger
	hooks    fieldsync.Hooks
}

func NewManager(opts Options) (*Manager, error) {
	if opts.Store == nil {
		return nil, errors.New("lifecycle: store is required")
	}
	if opts.Names.Shell == "" || opts.Names.Runtime == "" || opts.Names.API == "" {
		return nil, errors.New("lifecycle: all three namespace names are required")
	}
	m := &Manager{
		store:    opts.Store,
		names:    opts.Names,
		version:  opts.Version,
		precache: append([]string(nil), opts.Precache...),
		fetch:    opts.Fetch,
		limit:    fieldsync.Coalesce(opts.PrecacheConcurrency, defaultPrecacheConcurrency),
		timeout:  fieldsync.Coalesce(opts.PrecacheTimeout, defaultPrecacheTimeout),
		rules:    opts.Rules,
		keys:     fieldsync.DefaultKeyOptions,
		clients:  opts.Clients,
		log:      fieldsync.Coalesce[fieldsync.Logger](opts.Logger, fieldsync.NopLogger{}),
		hooks:    fieldsync.Coalesce[fieldsync.Hooks](opts.Hooks, fieldsync.NopHooks{}),
	}
	if m.fetch == nil {
		m.fetch = http.DefaultTransport
	}
	if opts.Keys != nil {
		m.keys = *opts.Keys
	}
	return m, nil
}

func (m *Manager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

func (m *Manager) transition(from, to State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.state != from {
		return fmt.Errorf("%w: %s -> %s (current %s)", ErrInvalidTransition, from, to, m.state)
	}
	m.state = to
	return nil
}

func (m *Manager) set(s State) {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
}

// Install opens the current namespaces and pre-populates the shell. A failed
// pre-population fetch is logged and counted, never returned. Failing to open
// a namespace makes the version redundant.
func (m *Manager) Install(ctx context.Context) (Report, error) {
	if err := m.transition(New, Installing); err != nil {
		return Report{}, err
	}

	for _, ns := range m.names.Names() {
		if err := m.store.Open(ctx, ns); err != nil {
			m.set(Redundant)
			return Report{}, fmt.Errorf("lifecycle: open %s: %w", ns, err)
		}
	}

	var (
		rep Report
		mu  sync.Mutex
	)
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(m.limit)
	for _, u := range m.precache {
		g.Go(func() error {
			err := m.precacheOne(gctx, u)
			mu.Lock()
			if err != nil {
				rep.PrecacheFailed++
			} else {
				rep.Precached++
			}
			mu.Unlock()
			if err != nil {
				m.log.Warn("precache failed", fieldsync.Fields{"url": u, "err": err})
			}
			return nil // swallowed: one missing document must not fail install
		})
	}
	_ = g.Wait()

	m.set(Installed)
	m.log.Info("installed", fieldsync.Fields{
		"version":   m.version,
		"precached": rep.Precached,
		"failed":    rep.PrecacheFailed,
	})
	return rep, nil
}

func (m *Manager) precacheOne(ctx context.Context, u string) error {
	ctx, cancel := context.WithTimeout(ctx, m.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return err
	}
	req.Header.Set("Cache-Control", "no-cache")
	resp, err := m.fetch.RoundTrip(req)
	if err != nil {
		return err
	}
	snap, err := fieldsync.Capture(req, resp, time.Now())
	if err != nil {
		return err
	}
	if !snap.Cacheable() {
		return fmt.Errorf("unexpected status %d", snap.Status)
	}
	return m.store.Put(ctx, m.names.Shell, fieldsync.RequestKey(req, m.keys), snap)
}

// Activate reconciles the cache and claims every client. Cleanup failures are
// reported in Report.Errors and never stop activation.
func (m *Manager) Activate(ctx context.Context) (Report, error) {
	if err := m.transition(Installed, Activating); err != nil {
		return Report{}, err
	}
	rep := m.Reconcile(ctx)
	if m.clients != nil {
		rep.Claimed = m.clients.Claim(m.version)
	}
	m.set(Active)

	fields := fieldsync.Fields{
		"version":   m.version,
		"deleted":   len(rep.NamespacesDeleted),
		"purged":    rep.EntriesPurged,
		"claimed":   rep.Claimed,
		"cleanupOK": len(rep.Errors) == 0,
	}
	if err := rep.Err(); err != nil {
		fields["err"] = err
		m.log.Warn("activated with cleanup errors", fields)
	} else {
		m.log.Info("activated", fields)
	}
	return rep, nil
}

// Retire marks a replaced version redundant. Terminal.
func (m *Manager) Retire() { m.set(Redundant) }

// Reconcile deletes every namespace that is not current and purges dynamic
// entries (API responses and HTML documents) from the runtime namespace. Each
// step is independent; with nothing stale it changes nothing.
func (m *Manager) Reconcile(ctx context.Context) Report {
	var rep Report

	names, err := m.store.Namespaces(ctx)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Errorf("list namespaces: %w", err))
	}
	for _, ns := range names {
		if m.names.Current(ns) {
			continue
		}
		if err := m.store.DeleteNamespace(ctx, ns); err != nil {
			m.log.Warn("delete stale namespace failed", fieldsync.Fields{"ns": ns, "err": err})
			rep.Errors = append(rep.Errors, err)
			continue
		}
		rep.NamespacesDeleted = append(rep.NamespacesDeleted, ns)
	}

	keys, err := m.store.Keys(ctx, m.names.Runtime)
	if err != nil {
		rep.Errors = append(rep.Errors, fmt.Errorf("list %s: %w", m.names.Runtime, err))
	}
	for _, k := range keys {
		dynamic, err := m.dynamic(ctx, k)
		if err != nil {
			rep.Errors = append(rep.Errors, err)
			continue
		}
		if !dynamic {
			continue
		}
		if err := m.store.Delete(ctx, m.names.Runtime, k); err != nil {
			m.log.Warn("purge failed", fieldsync.Fields{"key": k, "err": err})
			rep.Errors = append(rep.Errors, err)
			continue
		}
		m.hooks.EntryPurged(m.names.Runtime, k)
		rep.EntriesPurged++
	}
	return rep
}

// dynamic reports whether a runtime entry must not survive a deploy: its path
// is an API path or an HTML document, or its stored Content-Type is HTML.
func (m *Manager) dynamic(ctx context.Context, key string) (bool, error) {
	if u, err := url.Parse(fieldsync.KeyURL(key)); err == nil {
		if m.rules.IsAPIPath(u.Path) || classify.IsDocumentPath(u.Path) {
			return true, nil
		}
	}
	snap, ok, err := m.store.Match(ctx, m.names.Runtime, key)
	if err != nil {
		return false, fmt.Errorf("inspect %s: %w", key, err)
	}
	return ok && strings.Contains(snap.ContentType(), "text/html"), nil
}
