package ws

import (
	"context"
	"errors"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/unkn0wn-root/fieldsync/clients"
	"github.com/unkn0wn-root/fieldsync/coordinator"
	"github.com/unkn0wn-root/fieldsync/message"
)

// answer replies to every request with a fixed message.
type answer struct{ reply message.Message }

func (a answer) PostMessage(_ message.Message, p *message.Port) error {
	go p.Post(a.reply)
	return nil
}

type sink struct {
	mu  sync.Mutex
	got []message.Type
}

func (s *sink) HandleMessage(_ context.Context, m message.Message) error {
	s.mu.Lock()
	s.got = append(s.got, m.Type)
	s.mu.Unlock()
	return nil
}

func (s *sink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.got)
}

func eventually(t *testing.T, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("condition not met in time")
		}
		time.Sleep(5 * time.Millisecond)
	}
}

func setup(t *testing.T) (*clients.Registry, *sink, string) {
	t.Helper()
	reg := clients.NewRegistry()
	sk := &sink{}
	srv, err := NewServer(ServerOptions{Clients: reg, Worker: sk})
	if err != nil {
		t.Fatal(err)
	}
	hs := httptest.NewServer(srv)
	t.Cleanup(hs.Close)
	return reg, sk, "ws://" + strings.TrimPrefix(hs.URL, "http://")
}

func connect(t *testing.T, ctx context.Context, url, id string, h Handler) *Link {
	t.Helper()
	l, err := Dial(ctx, url, id, nil)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	go func() { _ = l.Serve(ctx, h) }()
	t.Cleanup(func() { _ = l.Close() })
	return l
}

func TestRemoteClientAnswersSync(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg, _, url := setup(t)

	connect(t, ctx, url, "remote-1", answer{reply: message.Result(message.SyncResult, 2, 0)})
	eventually(t, func() bool { return reg.Len() == 1 })

	c, _ := coordinator.New(coordinator.Options{Clients: reg})
	s, err := c.Run(ctx, coordinator.TagInspections)
	if err != nil {
		t.Fatalf("Sync: %v", err)
	}
	if s.Client != "remote-1" || s.Reply.Success != 2 {
		t.Fatalf("session = %+v", s)
	}
}

func TestRemotePartialFailureRejects(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg, _, url := setup(t)

	connect(t, ctx, url, "remote-1", answer{reply: message.Result(message.FileSyncResult, 1, 1)})
	eventually(t, func() bool { return reg.Len() == 1 })

	c, _ := coordinator.New(coordinator.Options{Clients: reg})
	if err := c.Sync(ctx, coordinator.TagFiles); !errors.Is(err, coordinator.ErrPartialFailure) {
		t.Fatalf("err = %v", err)
	}
}

func TestSkipWaitingReachesWorker(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, sk, url := setup(t)

	l := connect(t, ctx, url, "", answer{})
	if err := l.Send(ctx, message.Message{Type: message.SkipWaiting}); err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return sk.count() == 1 })
}

func TestDisconnectUnregisters(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg, _, url := setup(t)

	l, err := Dial(ctx, url, "gone", nil)
	if err != nil {
		t.Fatal(err)
	}
	eventually(t, func() bool { return reg.Len() == 1 })
	_ = l.Close()
	eventually(t, func() bool { return reg.Len() == 0 })
}

// silent accepts every request and never answers.
type silent struct{}

func (silent) PostMessage(message.Message, *message.Port) error { return nil }

// refusing turns every request away, like a foreground whose inbox is full.
type refusing struct{}

func (refusing) PostMessage(message.Message, *message.Port) error {
	return errors.New("foreground: inbox full")
}

func TestRefusedRequestRejectsWithoutWaiting(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg, _, url := setup(t)

	connect(t, ctx, url, "busy", refusing{})
	eventually(t, func() bool { return reg.Len() == 1 })

	c, _ := coordinator.New(coordinator.Options{Clients: reg})
	start := time.Now()
	s, err := c.Run(ctx, coordinator.TagInspections)
	if !errors.Is(err, coordinator.ErrReplyError) {
		t.Fatalf("err = %v", err)
	}
	if waited := time.Since(start); waited > 2*time.Second {
		t.Fatalf("rejection took %v", waited)
	}
	if s.Reply.Type != message.SyncError || !strings.Contains(s.Reply.Error, "inbox full") {
		t.Fatalf("reply = %+v", s.Reply)
	}
}

func TestAbandonedPortsAreForgotten(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	reg, _, url := setup(t)

	connect(t, ctx, url, "slow", silent{})
	eventually(t, func() bool { return reg.Len() == 1 })
	cl, _ := reg.Get("slow")
	rc := cl.(*remote)

	for i := 0; i < 3; i++ {
		p := message.NewPort()
		if err := rc.PostMessage(message.Message{Type: message.RequestSync}, p); err != nil {
			t.Fatal(err)
		}
		wctx, wcancel := context.WithTimeout(ctx, 10*time.Millisecond)
		_, err := p.Await(wctx)
		wcancel()
		if !errors.Is(err, context.DeadlineExceeded) {
			t.Fatalf("err = %v", err)
		}
	}
	if n := rc.pending(); n != 0 {
		t.Fatalf("%d ports still pending after timeouts", n)
	}
}
