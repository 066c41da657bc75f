package genstore

import (
	"context"
	"testing"
	"time"
)

func TestLocalBumpIsMonotonicPerKey(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	for want := uint64(1); want <= 3; want++ {
		got, err := s.Bump(ctx, "entry:rt:a")
		if err != nil {
			t.Fatal(err)
		}
		if got != want {
			t.Fatalf("Bump = %d want %d", got, want)
		}
	}
	if g, _ := s.Snapshot(ctx, "entry:rt:a"); g != 3 {
		t.Fatalf("Snapshot = %d want 3", g)
	}
	if g, _ := s.Snapshot(ctx, "entry:rt:b"); g != 0 {
		t.Fatalf("missing key = %d want 0", g)
	}
}

func TestLocalCleanupPrunesOld(t *testing.T) {
	ctx := context.Background()
	s := NewLocalGenStore(0, 0)
	t.Cleanup(func() { _ = s.Close(ctx) })

	now := time.Unix(1700000000, 0)
	s.now = func() time.Time { return now }

	if _, err := s.Bump(ctx, "old"); err != nil {
		t.Fatal(err)
	}
	now = now.Add(2 * time.Hour)
	if _, err := s.Bump(ctx, "fresh"); err != nil {
		t.Fatal(err)
	}
	s.Cleanup(time.Hour)

	if g, _ := s.Snapshot(ctx, "old"); g != 0 {
		t.Fatalf("expected pruned -> 0, got %d", g)
	}
	if g, _ := s.Snapshot(ctx, "fresh"); g != 1 {
		t.Fatalf("fresh pruned: %d", g)
	}
}

func TestLocalCloseTwice(t *testing.T) {
	s := NewLocalGenStore(time.Millisecond, time.Hour)
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
}
