package bigcache

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProviderRoundTrip(t *testing.T) {
	ctx := context.Background()
	p, err := New(Config{LifeWindow: time.Hour, HardMaxCacheSizeMB: 8})
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close(ctx) })

	_, ok, err := p.Get(ctx, "entry:fieldsync-api-v1:x")
	require.NoError(t, err)
	assert.False(t, ok)

	want := []byte{'F', 'S', 'Y', 'N', 0, 1}
	stored, err := p.Set(ctx, "entry:fieldsync-api-v1:x", want, 6, time.Minute)
	require.NoError(t, err)
	assert.True(t, stored)

	got, ok, err := p.Get(ctx, "entry:fieldsync-api-v1:x")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, want, got)

	require.NoError(t, p.Del(ctx, "entry:fieldsync-api-v1:x"))
	require.NoError(t, p.Del(ctx, "entry:fieldsync-api-v1:x"), "deleting a missing key is not an error")
	_, ok, _ = p.Get(ctx, "entry:fieldsync-api-v1:x")
	assert.False(t, ok)
}
