package memory

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/prn-tf/imagevault/internal/repository"
)

func TestCache_SetGetDelete(t *testing.T) {
	c := NewCache(0)
	defer c.Close()
	ctx := context.Background()

	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, repository.ErrCacheMiss)

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 0))
	got, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), got)

	got[0] = 'x'
	again, err := c.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v"), again)

	require.NoError(t, c.Delete(ctx, "k", "missing"))
	_, err = c.Get(ctx, "k")
	require.ErrorIs(t, err, repository.ErrCacheMiss)
}

func TestCache_TTL(t *testing.T) {
	c := NewCache(0)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "k", []byte("v"), 10*time.Millisecond))
	time.Sleep(20 * time.Millisecond)

	_, err := c.Get(ctx, "k")
	require.ErrorIs(t, err, repository.ErrCacheMiss)
}

func TestCache_MaxEntries(t *testing.T) {
	c := NewCache(2)
	defer c.Close()
	ctx := context.Background()

	require.NoError(t, c.Set(ctx, "a", []byte("1"), time.Minute))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), time.Hour))
	require.NoError(t, c.Set(ctx, "c", []byte("3"), time.Hour))

	assert.Equal(t, 2, c.Len())
	_, err := c.Get(ctx, "a")
	require.ErrorIs(t, err, repository.ErrCacheMiss)

	// Overwriting an existing key does not evict.
	require.NoError(t, c.Set(ctx, "b", []byte("22"), time.Hour))
	assert.Equal(t, 2, c.Len())
}
