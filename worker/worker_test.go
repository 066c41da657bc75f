package worker

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"slices"
	"sync/atomic"
	"testing"

	"github.com/unkn0wn-root/fieldsync"
	"github.com/unkn0wn-root/fieldsync/clients"
	"github.com/unkn0wn-root/fieldsync/internal/memprovider"
	"github.com/unkn0wn-root/fieldsync/lifecycle"
	"github.com/unkn0wn-root/fieldsync/message"
)

type site struct{ hits atomic.Int32 }

func (s *site) RoundTrip(req *http.Request) (*http.Response, error) {
	s.hits.Add(1)
	rec := httptest.NewRecorder()
	switch {
	case req.URL.Path == "/" || req.URL.Path == "/index.html":
		rec.Header().Set("Content-Type", "text/html")
		_, _ = io.WriteString(rec, "<html>shell</html>")
	default:
		rec.Header().Set("Content-Type", "application/json")
		_, _ = io.WriteString(rec, `{"ok":true}`)
	}
	resp := rec.Result()
	resp.Request = req
	return resp, nil
}

type fixture struct {
	store fieldsync.Store
	reg   *clients.Registry
	net   *site
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	st, err := fieldsync.New(fieldsync.Options{Provider: memprovider.New()})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = st.Close(context.Background()) })
	return &fixture{store: st, reg: clients.NewRegistry(), net: &site{}}
}

func (f *fixture) worker(t *testing.T, version string) *Worker {
	t.Helper()
	w, err := New(Config{
		Version:  version,
		Store:    f.store,
		Clients:  f.reg,
		Network:  f.net,
		Precache: []string{"https://app.test/index.html"},
	})
	if err != nil {
		t.Fatal(err)
	}
	return w
}

func TestNewValidates(t *testing.T) {
	if _, err := New(Config{Clients: clients.NewRegistry()}); !errors.Is(err, ErrNoVersion) {
		t.Fatalf("err = %v", err)
	}
	if _, err := New(Config{Version: "v1"}); !errors.Is(err, ErrNoClients) {
		t.Fatalf("err = %v", err)
	}
}

func TestFirstVersionActivatesImmediately(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.reg.Add(clients.Func{Name: "tab-1", Fn: func(message.Message, *message.Port) error { return nil }})

	r := NewRegistration(RegistrationOptions{WaitForActivation: true, Network: f.net})
	w := f.worker(t, "v1")
	rep, err := r.Register(ctx, w)
	if err != nil {
		t.Fatal(err)
	}
	if r.Active() != w || w.State() != lifecycle.Active {
		t.Fatalf("not active: %v", w.State())
	}
	if rep.Precached != 1 || rep.Claimed != 1 || f.reg.Controller("tab-1") != "v1" {
		t.Fatalf("report = %+v", rep)
	}
	if w.Names().Shell != "fieldsync-shell-v1" {
		t.Fatalf("names = %+v", w.Names())
	}
}

func TestWaitingVersionActivatesOnSkipWaiting(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := NewRegistration(RegistrationOptions{WaitForActivation: true, Network: f.net})

	v1 := f.worker(t, "v1")
	if _, err := r.Register(ctx, v1); err != nil {
		t.Fatal(err)
	}
	v2 := f.worker(t, "v2")
	if _, err := r.Register(ctx, v2); err != nil {
		t.Fatal(err)
	}
	if r.Active() != v1 || r.Waiting() != v2 || v2.State() != lifecycle.Installed {
		t.Fatalf("v2 should wait: active=%v waiting=%v", r.Active().Version(), v2.State())
	}

	if err := r.HandleMessage(ctx, message.Message{Type: message.SkipWaiting}); err != nil {
		t.Fatal(err)
	}
	if r.Active() != v2 || r.Waiting() != nil || v1.State() != lifecycle.Redundant {
		t.Fatalf("skip waiting not applied")
	}
	names, _ := f.store.Namespaces(ctx)
	for _, ns := range names {
		if !v2.Names().Current(ns) {
			t.Fatalf("stale namespace %s survived activation", ns)
		}
	}
	if !slices.Contains(names, "fieldsync-shell-v2") {
		t.Fatalf("namespaces = %v", names)
	}

	// nothing waiting any more
	if err := r.HandleMessage(ctx, message.Message{Type: message.SkipWaiting}); err != nil {
		t.Fatalf("idle skip waiting: %v", err)
	}
	if err := r.HandleMessage(ctx, message.Message{Type: message.RequestSync}); err == nil {
		t.Fatalf("unexpected message accepted")
	}
}

func TestNewerWaitingReplacesOlder(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := NewRegistration(RegistrationOptions{WaitForActivation: true, Network: f.net})
	_, _ = r.Register(ctx, f.worker(t, "v1"))
	v2 := f.worker(t, "v2")
	_, _ = r.Register(ctx, v2)
	v3 := f.worker(t, "v3")
	_, _ = r.Register(ctx, v3)
	if r.Waiting() != v3 || v2.State() != lifecycle.Redundant {
		t.Fatalf("waiting=%v v2=%v", r.Waiting().Version(), v2.State())
	}
}

func TestWithoutWaitingEachVersionActivates(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	r := NewRegistration(RegistrationOptions{Network: f.net})
	v1 := f.worker(t, "v1")
	_, _ = r.Register(ctx, v1)
	v2 := f.worker(t, "v2")
	if _, err := r.Register(ctx, v2); err != nil {
		t.Fatal(err)
	}
	if r.Active() != v2 || v1.State() != lifecycle.Redundant {
		t.Fatalf("v2 not active")
	}
}

func TestRoundTripAndSyncWithoutActive(t *testing.T) {
	f := newFixture(t)
	r := NewRegistration(RegistrationOptions{Network: f.net})

	req := httptest.NewRequest(http.MethodGet, "https://app.test/api/properties", nil)
	resp, err := r.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	resp.Body.Close()
	if resp.Header.Get(fieldsync.CacheStatusHeader) != "" || f.net.hits.Load() != 1 {
		t.Fatalf("request was intercepted without an active version")
	}
	if err := r.Sync(context.Background(), "sync-inspections"); !errors.Is(err, ErrNoActive) {
		t.Fatalf("err = %v", err)
	}
}

func TestActiveVersionServesAndSyncs(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t)
	_ = f.reg.Add(clients.Func{Name: "tab-1", Fn: func(_ message.Message, p *message.Port) error {
		p.Post(message.Result(message.SyncResult, 1, 0))
		return nil
	}})
	r := NewRegistration(RegistrationOptions{Network: f.net})
	w := f.worker(t, "v1")
	if _, err := r.Register(ctx, w); err != nil {
		t.Fatal(err)
	}

	req := httptest.NewRequest(http.MethodGet, "https://app.test/api/properties", nil)
	resp, err := r.RoundTrip(req)
	if err != nil {
		t.Fatal(err)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	resp.Body.Close()
	w.Wait()
	if got := resp.Header.Get(fieldsync.CacheStatusHeader); got == "" {
		t.Fatalf("no cache status on intercepted request")
	}
	if err := r.Sync(ctx, "sync-inspections"); err != nil {
		t.Fatalf("Sync: %v", err)
	}
}

// gatedSite holds requests for one path at the network until released.
type gatedSite struct {
	site
	path    string
	entered chan struct{}
	release chan struct{}
	offline atomic.Bool
}

func (g *gatedSite) RoundTrip(req *http.Request) (*http.Response, error) {
	if g.offline.Load() {
		return nil, errors.New("dial tcp: network is unreachable")
	}
	if req.URL.Path == g.path {
		g.entered <- struct{}{}
		<-g.release
	}
	return g.site.RoundTrip(req)
}

func TestLateResponseCannotReviveRetiredNamespaces(t *testing.T) {
	for _, path := range []string{"/api/reports", "/report.html"} {
		t.Run(path, func(t *testing.T) {
			ctx := context.Background()
			f := newFixture(t)
			net := &gatedSite{path: path, entered: make(chan struct{}, 1), release: make(chan struct{})}
			mk := func(version string) *Worker {
				w, err := New(Config{Version: version, Store: f.store, Clients: f.reg, Network: net})
				if err != nil {
					t.Fatal(err)
				}
				return w
			}
			r := NewRegistration(RegistrationOptions{Network: net})
			v1 := mk("v1")
			if _, err := r.Register(ctx, v1); err != nil {
				t.Fatal(err)
			}

			done := make(chan error, 1)
			go func() {
				resp, err := v1.RoundTrip(httptest.NewRequest(http.MethodGet, "https://app.test"+path, nil))
				if err == nil {
					_, _ = io.Copy(io.Discard, resp.Body)
					err = resp.Body.Close()
				}
				done <- err
			}()
			<-net.entered

			// v2 activates and deletes v1's namespaces while v1's request is in flight
			v2 := mk("v2")
			if _, err := r.Register(ctx, v2); err != nil {
				t.Fatal(err)
			}
			close(net.release)
			if err := <-done; err != nil {
				t.Fatal(err)
			}
			v1.Wait()

			names, _ := f.store.Namespaces(ctx)
			if !slices.Equal(names, v2.Names().Names()) {
				t.Fatalf("namespaces after v2 activation = %v", names)
			}

			net.offline.Store(true)
			resp, err := r.RoundTrip(httptest.NewRequest(http.MethodGet, "https://app.test"+path, nil))
			if err == nil {
				body, _ := io.ReadAll(resp.Body)
				resp.Body.Close()
				t.Fatalf("v2 served %q from v1's cache", body)
			}
		})
	}
}
