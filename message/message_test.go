package message

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

func TestPortFirstPostWins(t *testing.T) {
	p := NewPort()
	if !p.Post(Result(SyncResult, 3, 0)) {
		t.Fatalf("first post rejected")
	}
	if p.Post(Result(SyncResult, 0, 9)) {
		t.Fatalf("second post accepted")
	}
	m, err := p.Await(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if m.Success != 3 || m.Failed != 0 {
		t.Fatalf("got %+v", m)
	}
}

func TestPortConcurrentPosts(t *testing.T) {
	p := NewPort()
	var (
		wg  sync.WaitGroup
		mu  sync.Mutex
		won int
	)
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			if p.Post(Result(SyncResult, i, 0)) {
				mu.Lock()
				won++
				mu.Unlock()
			}
		}(i)
	}
	wg.Wait()
	if won != 1 {
		t.Fatalf("%d posts accepted", won)
	}
}

func TestPortLateReplyDropped(t *testing.T) {
	p := NewPort()
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, err := p.Await(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("err = %v", err)
	}
	if p.Post(Result(SyncResult, 1, 0)) {
		t.Fatalf("post after timeout accepted")
	}
}

func TestPortOnSettle(t *testing.T) {
	var calls int
	p := NewPort()
	p.OnSettle(func() { calls++ })
	p.Post(Result(SyncResult, 1, 0))
	p.Close()
	if calls != 1 {
		t.Fatalf("callback ran %d times", calls)
	}

	closed := NewPort()
	closed.Close()
	closed.OnSettle(func() { calls++ })
	if calls != 2 {
		t.Fatalf("callback on a settled port did not run")
	}
}

func TestErrorReply(t *testing.T) {
	if e, ok := RequestSync.ErrorReply(); !ok || e != SyncError {
		t.Fatalf("REQUEST_SYNC -> %q %v", e, ok)
	}
	if e, ok := RequestFileSync.ErrorReply(); !ok || e != FileSyncError {
		t.Fatalf("REQUEST_FILE_SYNC -> %q %v", e, ok)
	}
	if _, ok := SkipWaiting.ErrorReply(); ok {
		t.Fatalf("SKIP_WAITING has no error reply")
	}
}

func TestDecode(t *testing.T) {
	cases := []struct {
		name string
		in   string
		ok   bool
	}{
		{"result", `{"type":"SYNC_RESULT","success":2,"failed":1}`, true},
		{"zero result", `{"type":"FILE_SYNC_RESULT"}`, true},
		{"error", `{"type":"SYNC_ERROR","error":"db locked"}`, true},
		{"request", `{"type":"REQUEST_SYNC","port":"p1"}`, true},
		{"skip", `{"type":"SKIP_WAITING"}`, true},
		{"error without text", `{"type":"FILE_SYNC_ERROR"}`, false},
		{"negative", `{"type":"SYNC_RESULT","success":-1}`, false},
		{"unknown", `{"type":"PING"}`, false},
		{"not json", `nope`, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.in))
			if tc.ok && err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !tc.ok && !errors.Is(err, ErrMalformed) {
				t.Fatalf("want ErrMalformed, got %v", err)
			}
		})
	}
}

func TestEncodeKeepsPort(t *testing.T) {
	b, err := Encode(Message{Type: RequestFileSync, Port: "abc"})
	if err != nil {
		t.Fatal(err)
	}
	m, err := Decode(b)
	if err != nil {
		t.Fatal(err)
	}
	if m.Type != RequestFileSync || m.Port != "abc" {
		t.Fatalf("got %+v", m)
	}
}
