package server

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryCacheEvictsLeastRecentlyUsed(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(2)

	require.NoError(t, c.Set(ctx, "a", []byte("1"), 0))
	require.NoError(t, c.Set(ctx, "b", []byte("2"), 0))

	// Touch a so b becomes the oldest.
	_, ok, err := c.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, c.Set(ctx, "c", []byte("3"), 0))
	assert.Equal(t, 2, c.Len())

	_, ok, _ = c.Get(ctx, "b")
	assert.False(t, ok)
	v, ok, _ := c.Get(ctx, "a")
	assert.True(t, ok)
	assert.Equal(t, []byte("1"), v)
}

func TestMemoryCacheTTL(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(4)
	now := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	c.now = func() time.Time { return now }

	require.NoError(t, c.Set(ctx, "short", []byte("x"), time.Minute))
	require.NoError(t, c.Set(ctx, "forever", []byte("y"), 0))

	now = now.Add(30 * time.Second)
	_, ok, _ := c.Get(ctx, "short")
	assert.True(t, ok)

	now = now.Add(time.Minute)
	_, ok, _ = c.Get(ctx, "short")
	assert.False(t, ok)
	_, ok, _ = c.Get(ctx, "forever")
	assert.True(t, ok)
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCacheOverwrite(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(0)

	require.NoError(t, c.Set(ctx, "k", []byte("old"), 0))
	require.NoError(t, c.Set(ctx, "k", []byte("new"), 0))

	v, ok, err := c.Get(ctx, "k")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "new", string(v))
	assert.Equal(t, 1, c.Len())
}

func TestMemoryCacheDeletePrefix(t *testing.T) {
	ctx := context.Background()
	c := NewMemoryCache(8)

	for _, k := range []string{"map:Astacus_astacus:g0:aa", "map:Astacus_astacus:g0:bb", "map:Astacus_leptodactylus:g0:aa", "hydro:1,2,3,4"} {
		require.NoError(t, c.Set(ctx, k, []byte(k), 0))
	}

	require.NoError(t, c.DeletePrefix(ctx, "map:Astacus_astacus:"))
	assert.Equal(t, 2, c.Len())

	_, ok, _ := c.Get(ctx, "map:Astacus_leptodactylus:g0:aa")
	assert.True(t, ok)
	_, ok, _ = c.Get(ctx, "hydro:1,2,3,4")
	assert.True(t, ok)
}

func TestValkeyCacheIntegration(t *testing.T) {
	requireIntegration(t)

	addr := os.Getenv("CRAYFISHMAP_VALKEY_ADDR")
	if addr == "" {
		addr = "127.0.0.1:6379"
	}
	c, err := NewValkeyCache(addr, "crayfishmap-test:")
	require.NoError(t, err)
	defer c.Close()

	ctx := context.Background()
	require.NoError(t, c.Set(ctx, "map:Astacus_astacus:g0:aa", []byte("doc"), time.Minute))

	v, ok, err := c.Get(ctx, "map:Astacus_astacus:g0:aa")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "doc", string(v))

	require.NoError(t, c.DeletePrefix(ctx, "map:Astacus_astacus:"))
	_, ok, err = c.Get(ctx, "map:Astacus_astacus:g0:aa")
	require.NoError(t, err)
	assert.False(t, ok)
}

func requireIntegration(t *testing.T) {
	t.Helper()
	if os.Getenv("CRAYFISHMAP_INTEGRATION") != "1" {
		t.Skip("set CRAYFISHMAP_INTEGRATION=1 to run integration tests")
	}
}
