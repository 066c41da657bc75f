// Package strategy serves intercepted requests with the caching strategy their
// class calls for:
//
//	API query (cacheable)  network-first, cached snapshot when offline
//	document               network-first with HTTP caching disabled
//	static asset           cache-first, stale-while-revalidate
//	everything else        straight to the network, never cached
//
// Caching is a side channel: cache failures are logged and never change what
// the caller receives.
package strategy

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/classify"
)

const defaultRefreshTimeout = 30 * time.Second

// Cache status values written to fieldsync.CacheStatusHeader.
const (
	StatusHit      = "hit"      // served from cache
	StatusMiss     = "miss"     // served from the network, cache consulted or filled
	StatusFallback = "fallback" // network failed, served from cache
	StatusBypass   = "bypass"   // never intercepted
)

// Classifier is satisfied by classify.Rules.
type Classifier interface {
	Classify(*http.Request) classify.Result
}

type Options struct {
	Store      fieldsync.Store // required
	Names      fieldsync.Namespaces
	Classifier Classifier        // nil => classify.Rules{}
	Next       http.RoundTripper // network; nil => http.DefaultTransport
	Keys       *fieldsync.KeyOptions

	Logger fieldsync.Logger
	Hooks  fieldsync.Hooks

	// RefreshTimeout bounds background fetches. 0 => 30s.
	RefreshTimeout time.Duration
	Now            func() time.Time
}

// Executor is an http.RoundTripper. Background refreshes keep running after
// RoundTrip returns; Wait blocks until they finish.
type Executor struct {
	store      fieldsync.Store
	names      fieldsync.Namespaces
	classifier Classifier
	next       http.RoundTripper
	keys       fieldsync.KeyOptions
	log        fieldsync.Logger
	hooks      fieldsync.Hooks
	refresh    time.Duration
	now        func() time.Time

	bg sync.WaitGroup
}

var _ http.RoundTripper = (*Executor)(nil)

var ErrNilStore = errors.New("strategy: store is required")

func New(opts Options) (*Executor, error) {
	if opts.Store == nil {
		return nil, ErrNilStore
	}
	e := &Executor{
		store:   opts.Store,
		names:   opts.Names,
		keys:    fieldsync.DefaultKeyOptions,
		log:     fieldsync.Coalesce[fieldsync.Logger](opts.Logger, fieldsync.NopLogger{}),
		hooks:   fieldsync.Coalesce[fieldsync.Hooks](opts.Hooks, fieldsync.NopHooks{}),
		refresh: fieldsync.Coalesce(opts.RefreshTimeout, defaultRefreshTimeout),
		now:     opts.Now,
	}
	e.classifier = opts.Classifier
	if e.classifier == nil {
		e.classifier = classify.Rules{}
	}
	e.next = opts.Next
	if e.next == nil {
		e.next = http.DefaultTransport
	}
	if opts.Keys != nil {
		e.keys = *opts.Keys
	}
	if e.now == nil {
		e.now = time.Now
	}
	return e, nil
}

// Wait blocks until all background refreshes started so far have finished.
func (e *Executor) Wait() { e.bg.Wait() }

func (e *Executor) RoundTrip(req *http.Request) (*http.Response, error) {
	res := e.classifier.Classify(req)
	switch {
	case res.Kind == classify.APIQuery && res.Cacheable:
		return e.networkFirst(req, res.Kind)
	case res.Kind == classify.Document:
		return e.document(req)
	case res.Kind == classify.StaticAsset:
		return e.cacheFirst(req)
	default:
		// NoIntercept, APIMutation and volatile queries never touch the cache
		resp, err := e.next.RoundTrip(req)
		return e.served(res.Kind, resp, err, StatusBypass)
	}
}

// networkFirst serves API queries: live when possible, last snapshot otherwise.
func (e *Executor) networkFirst(req *http.Request, kind classify.Kind) (*http.Response, error) {
	ctx := req.Context()
	key := fieldsync.RequestKey(req, e.keys)

	resp, err := e.next.RoundTrip(req)
	if err == nil {
		if resp.StatusCode != http.StatusOK {
			return e.served(kind, resp, nil, StatusMiss)
		}
		snap, cerr := fieldsync.Capture(req, resp, e.now())
		if cerr == nil {
			e.put(ctx, e.names.API, key, snap)
			return e.served(kind, resp, nil, StatusMiss)
		}
		// body broke mid-read; the live response is unusable
		err = cerr
	}
	if ctx.Err() != nil {
		return nil, err
	}

	snap, ok, merr := e.store.Match(ctx, e.names.API, key)
	if merr != nil {
		e.log.Warn("api fallback lookup failed", fieldsync.Fields{"key": key, "err": merr})
	}
	if !ok {
		return nil, err
	}
	e.log.Debug("serving cached api response", fieldsync.Fields{"key": key, "cause": err.Error()})
	return e.served(kind, snap.Response(req), nil, StatusFallback)
}

// document fetches navigations with every HTTP cache layer disabled. A
// successful body is copied into the runtime namespace once the caller has
// read it; failures fall back to any namespace.
func (e *Executor) document(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := fieldsync.RequestKey(req, e.keys)
	obs := e.store.SnapshotGen(ctx, e.names.Runtime, key)

	netReq := req.Clone(ctx)
	netReq.Header.Set("Cache-Control", "no-cache, no-store, must-revalidate")
	netReq.Header.Set("Pragma", "no-cache")
	netReq.Header.Del("If-None-Match")
	netReq.Header.Del("If-Modified-Since")

	resp, err := e.next.RoundTrip(netReq)
	if err == nil {
		if storable(resp) {
			resp.Body = e.captureOnEOF(req, resp, func(snap fieldsync.Snapshot) {
				e.putWithGen(context.WithoutCancel(ctx), e.names.Runtime, key, snap, obs)
			})
		}
		return e.served(classify.Document, resp, nil, StatusMiss)
	}
	if ctx.Err() != nil {
		return nil, err
	}

	snap, ok, merr := e.store.MatchAny(ctx, key)
	if merr != nil {
		e.log.Warn("document fallback lookup failed", fieldsync.Fields{"key": key, "err": merr})
	}
	if !ok {
		return nil, err
	}
	return e.served(classify.Document, snap.Response(req), nil, StatusFallback)
}

// cacheFirst serves static assets from the runtime or shell namespace and
// refreshes hits in the background.
func (e *Executor) cacheFirst(req *http.Request) (*http.Response, error) {
	ctx := req.Context()
	key := fieldsync.RequestKey(req, e.keys)

	for _, ns := range []string{e.names.Runtime, e.names.Shell} {
		if ns == "" {
			continue
		}
		snap, ok, err := e.store.Match(ctx, ns, key)
		if err != nil {
			e.log.Warn("cache lookup failed", fieldsync.Fields{"ns": ns, "key": key, "err": err})
			continue
		}
		if ok {
			e.revalidate(req, key)
			return e.served(classify.StaticAsset, snap.Response(req), nil, StatusHit)
		}
	}

	obs := e.store.SnapshotGen(ctx, e.names.Runtime, key)
	resp, err := e.next.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if storable(resp) {
		snap, err := fieldsync.Capture(req, resp, e.now())
		if err != nil {
			return nil, err
		}
		e.putWithGen(ctx, e.names.Runtime, key, snap, obs)
	}
	return e.served(classify.StaticAsset, resp, nil, StatusMiss)
}

// revalidate refetches req in the background and replaces the cached copy
// unless the entry was deleted in the meantime. Failures are ignored.
func (e *Executor) revalidate(req *http.Request, key string) {
	base := context.WithoutCancel(req.Context())
	obs := e.store.SnapshotGen(base, e.names.Runtime, key)

	e.spawn(func() {
		ctx, cancel := context.WithTimeout(base, e.refresh)
		defer cancel()

		resp, err := e.next.RoundTrip(req.Clone(ctx))
		if err != nil {
			e.log.Debug("background refresh failed", fieldsync.Fields{"key": key, "err": err})
			return
		}
		if !storable(resp) {
			drain(resp)
			return
		}
		snap, err := fieldsync.Capture(req, resp, e.now())
		if err != nil {
			return
		}
		e.putWithGen(ctx, e.names.Runtime, key, snap, obs)
	})
}

func (e *Executor) spawn(f func()) {
	e.bg.Add(1)
	go func() {
		defer e.bg.Done()
		f()
	}()
}

func (e *Executor) put(ctx context.Context, ns, key string, snap fieldsync.Snapshot) {
	e.putDone(ns, key, e.store.Put(ctx, ns, key, snap))
}

func (e *Executor) putWithGen(ctx context.Context, ns, key string, snap fieldsync.Snapshot, obs uint64) {
	e.putDone(ns, key, e.store.PutWithGen(ctx, ns, key, snap, obs))
}

func (e *Executor) putDone(ns, key string, err error) {
	switch {
	case err == nil, errors.Is(err, fieldsync.ErrNotCacheable):
	case errors.Is(err, fieldsync.ErrUnknownNamespace):
		// our version was retired while the request was in flight
		e.log.Debug("cache write dropped", fieldsync.Fields{"ns": ns, "key": key})
	default:
		e.log.Warn("cache write failed", fieldsync.Fields{"ns": ns, "key": key, "err": err})
	}
}

func (e *Executor) served(kind classify.Kind, resp *http.Response, err error, status string) (*http.Response, error) {
	if err != nil {
		return nil, err
	}
	if resp.Header == nil {
		resp.Header = make(http.Header)
	}
	resp.Header.Set(fieldsync.CacheStatusHeader, status)
	e.hooks.Served(kind.String(), status)
	return resp, nil
}

// storable: complete 2xx responses only.
func storable(resp *http.Response) bool {
	return resp.StatusCode >= 200 && resp.StatusCode < 300 && resp.StatusCode != http.StatusPartialContent
}
