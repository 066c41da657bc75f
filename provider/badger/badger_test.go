package badger

import (
	"context"
	"testing"
	"time"

	bg "github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/unkn0wn-root/fieldsync/internal/badgerdb"
)

func TestProviderSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	p, err := New(Config{DB: badgerdb.Config{Path: dir, SyncWrites: true}})
	require.NoError(t, err)
	_, err = p.Set(ctx, "entry:fieldsync-runtime-v1:/", []byte("shell"), 5, 0)
	require.NoError(t, err)
	require.NoError(t, p.Ping(ctx))
	require.NoError(t, p.Close(ctx))
	assert.Error(t, p.Ping(ctx))

	p, err = New(Config{DB: badgerdb.Config{Path: dir}})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(ctx) })

	got, ok, err := p.Get(ctx, "entry:fieldsync-runtime-v1:/")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, []byte("shell"), got)
}

func TestPrefixAndDelete(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{DB: badgerdb.InMemoryConfig(), Prefix: "c/"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(ctx) })

	_, err = p.Set(ctx, "k", []byte("v"), 1, time.Hour)
	require.NoError(t, err)
	require.NoError(t, p.db.View(func(txn *bg.Txn) error {
		_, err := txn.Get([]byte("c/k"))
		return err
	}))

	require.NoError(t, p.Del(ctx, "k"))
	require.NoError(t, p.Del(ctx, "k"))
	_, ok, err := p.Get(ctx, "k")
	require.NoError(t, err)
	assert.False(t, ok)
}
