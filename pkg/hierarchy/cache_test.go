package hierarchy

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) *Cache {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	return NewCache(client, time.Minute)
}

func TestCache_SetGetRoundTrip(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	_, ok := c.GetAncestors(ctx, "agent-1")
	require.False(t, ok, "cache should miss before any Set")

	c.SetAncestors(ctx, "agent-1", []string{"parent-1", "grandparent-1"})

	got, ok := c.GetAncestors(ctx, "agent-1")
	require.True(t, ok)
	require.Equal(t, []string{"parent-1", "grandparent-1"}, got)
}

func TestCache_Invalidate(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.SetAncestors(ctx, "agent-1", []string{"parent-1"})
	c.Invalidate(ctx, "agent-1")

	_, ok := c.GetAncestors(ctx, "agent-1")
	require.False(t, ok)
}

func TestCache_NilCacheAlwaysMisses(t *testing.T) {
	var c *Cache
	ctx := context.Background()

	c.SetAncestors(ctx, "agent-1", []string{"parent-1"}) // must not panic
	_, ok := c.GetAncestors(ctx, "agent-1")
	require.False(t, ok)
}

func TestCache_EmptyAncestorChain(t *testing.T) {
	c := newTestCache(t)
	ctx := context.Background()

	c.SetAncestors(ctx, "root", []string{})

	got, ok := c.GetAncestors(ctx, "root")
	require.True(t, ok)
	require.Empty(t, got)
}
