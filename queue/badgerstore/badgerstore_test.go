package badgerstore

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/fieldsync/internal/badgerdb"
	"github.com/unkn0wn-root/fieldsync/queue"
)

func openTemp(t *testing.T, dir string) *Store {
	t.Helper()
	cfg := badgerdb.DefaultConfig(dir)
	cfg.GCInterval = 0
	s, err := Open(cfg, "inspections")
	require.NoError(t, err)
	return s
}

func mutation(id string) queue.Mutation {
	return queue.Mutation{
		ID:             id,
		IdempotencyKey: "idem-" + id,
		EntityType:     "inspection",
		Method:         "POST",
		Path:           "/api/inspections",
		Payload:        json.RawMessage(`{"room":"kitchen"}`),
		CreatedAt:      time.Unix(1700000000, 0).UTC(),
		Status:         queue.StatusPending,
	}
}

func TestAppendListKeepsOrder(t *testing.T) {
	ctx := context.Background()
	s, err := Open(badgerdb.InMemoryConfig(), "inspections")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for _, id := range []string{"a", "b", "c"} {
		_, err := s.Append(ctx, mutation(id))
		require.NoError(t, err)
	}
	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "a", all[0].ID)
	assert.Equal(t, "b", all[1].ID)
	assert.Equal(t, "c", all[2].ID)
	assert.Less(t, all[0].Seq, all[1].Seq)
	assert.JSONEq(t, `{"room":"kitchen"}`, string(all[0].Payload))
	assert.True(t, all[0].CreatedAt.Equal(time.Unix(1700000000, 0)))
}

func TestUpdateGetDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Open(badgerdb.InMemoryConfig(), "files")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m, err := s.Append(ctx, mutation("x"))
	require.NoError(t, err)

	m.Attempts = 3
	m.Status = queue.StatusFailed
	m.LastError = "502 Bad Gateway"
	require.NoError(t, s.Update(ctx, m))

	got, err := s.Get(ctx, "x")
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Equal(t, m.Seq, got.Seq)

	require.NoError(t, s.Delete(ctx, "x"))
	require.NoError(t, s.Delete(ctx, "x"))
	_, err = s.Get(ctx, "x")
	assert.ErrorIs(t, err, queue.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, m), queue.ErrNotFound)
}

func TestQueuesAreIsolated(t *testing.T) {
	ctx := context.Background()
	db, err := badgerdb.Open(badgerdb.InMemoryConfig())
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	a, err := New(db, "inspections")
	require.NoError(t, err)
	b, err := New(db, "files")
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close(); _ = b.Close() })

	_, err = a.Append(ctx, mutation("1"))
	require.NoError(t, err)

	got, err := b.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, got)
}

func TestSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s := openTemp(t, dir)
	first, err := s.Append(ctx, mutation("keep"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s = openTemp(t, dir)
	t.Cleanup(func() { _ = s.Close() })
	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "keep", all[0].ID)

	next, err := s.Append(ctx, mutation("after"))
	require.NoError(t, err)
	assert.Greater(t, next.Seq, first.Seq, "sequence must not restart after reopen")
}

func TestFlushAgainstBadger(t *testing.T) {
	ctx := context.Background()
	s, err := Open(badgerdb.InMemoryConfig(), "inspections")
	require.NoError(t, err)

	var sent []string
	q, err := queue.New(queue.Options{
		Store: s,
		Sender: queue.SenderFunc(func(_ context.Context, m queue.Mutation) error {
			sent = append(sent, m.EntityType)
			return nil
		}),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })

	_, err = q.Enqueue(ctx, queue.Draft{EntityType: "inspection", Path: "/api/inspections", Payload: map[string]string{"a": "1"}})
	require.NoError(t, err)
	_, err = q.Enqueue(ctx, queue.Draft{EntityType: "maintenance", Path: "/api/maintenance"})
	require.NoError(t, err)

	res, err := q.Flush(ctx)
	require.NoError(t, err)
	assert.Equal(t, queue.Result{Success: 2}, res)
	assert.Equal(t, []string{"inspection", "maintenance"}, sent)

	n, err := q.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
