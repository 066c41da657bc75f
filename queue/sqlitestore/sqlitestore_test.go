package sqlitestore

import (
	"context"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/fieldsync/queue"
)

func mutation(id string) queue.Mutation {
	return queue.Mutation{
		ID:             id,
		IdempotencyKey: "idem-" + id,
		EntityType:     "maintenance_request",
		Method:         "POST",
		Path:           "/api/maintenance",
		Payload:        json.RawMessage(`{"unit":"4B"}`),
		CreatedAt:      time.Unix(1700000000, 42),
		Status:         queue.StatusPending,
	}
}

func TestRoundTripAndOrder(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:", "data")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	for _, id := range []string{"1", "2", "3"} {
		_, err := s.Append(ctx, mutation(id))
		require.NoError(t, err)
	}
	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, []string{"1", "2", "3"}, []string{all[0].ID, all[1].ID, all[2].ID})
	assert.JSONEq(t, `{"unit":"4B"}`, string(all[0].Payload))
	assert.True(t, all[0].CreatedAt.Equal(time.Unix(1700000000, 42)))
	assert.Equal(t, "idem-1", all[0].IdempotencyKey)
}

func TestUpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	s, err := Open(":memory:", "data")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	m, err := s.Append(ctx, mutation("a"))
	require.NoError(t, err)
	m.Attempts, m.Status, m.LastError = 5, queue.StatusFailed, "timeout"
	require.NoError(t, s.Update(ctx, m))

	got, err := s.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, queue.StatusFailed, got.Status)
	assert.Equal(t, 5, got.Attempts)
	assert.Equal(t, "timeout", got.LastError)

	require.NoError(t, s.Delete(ctx, "a"))
	_, err = s.Get(ctx, "a")
	assert.ErrorIs(t, err, queue.ErrNotFound)
	assert.ErrorIs(t, s.Update(ctx, m), queue.ErrNotFound)
}

func TestQueuesSharingAFile(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	db, err := OpenDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	data, err := New(db, "data")
	require.NoError(t, err)
	files, err := New(db, "files")
	require.NoError(t, err)
	require.NoError(t, data.Close()) // shared db stays open

	_, err = data.Append(ctx, mutation("d1"))
	require.NoError(t, err)
	_, err = files.Append(ctx, mutation("f1"))
	require.NoError(t, err)

	d, err := data.List(ctx)
	require.NoError(t, err)
	f, err := files.List(ctx)
	require.NoError(t, err)
	require.Len(t, d, 1)
	require.Len(t, f, 1)
	assert.Equal(t, "f1", f[0].ID)
}

func TestPersistsAcrossReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "queue.db")

	s, err := Open(path, "data")
	require.NoError(t, err)
	_, err = s.Append(ctx, mutation("survivor"))
	require.NoError(t, err)
	require.NoError(t, s.Close())

	s, err = Open(path, "data")
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	all, err := s.List(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, "survivor", all[0].ID)
}
