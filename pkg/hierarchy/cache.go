package hierarchy

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is an optional read-through cache for ancestor lookups, fronting
// the recursive CTE with a Redis string (the comma-joined ancestor ids)
// keyed by agent id. A nil *Cache
// (returned when no Redis client is configured) makes every hierarchy
// lookup fall straight through to the store, so Redis is never a hard
// dependency of the orchestration core.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewCache wraps an existing redis.Client. Pass a nil client to get a cache
// that always misses (useful when Redis is not configured but the caller
// doesn't want a nil check at every call site).
func NewCache(client *redis.Client, ttl time.Duration) *Cache {
	return &Cache{client: client, ttl: ttl}
}

func ancestorsKey(id string) string { return "fleet:hierarchy:ancestors:" + id }

// GetAncestors returns the cached ancestor chain for id, nearest-first.
func (c *Cache) GetAncestors(ctx context.Context, id string) ([]string, bool) {
	if c == nil || c.client == nil {
		return nil, false
	}
	v, err := c.client.Get(ctx, ancestorsKey(id)).Result()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("hierarchy cache get failed", "agent_id", id, "error", err)
		}
		return nil, false
	}
	if v == "" {
		return []string{}, true
	}
	return strings.Split(v, ","), true
}

// SetAncestors caches the ancestor chain for id.
func (c *Cache) SetAncestors(ctx context.Context, id string, ancestors []string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Set(ctx, ancestorsKey(id), strings.Join(ancestors, ","), c.ttl).Err(); err != nil {
		slog.Warn("hierarchy cache set failed", "agent_id", id, "error", err)
	}
}

// Invalidate drops the cached entry for id. Spawning a child or
// terminating a subtree changes the forest shape, so any entry touching an
// affected id must be dropped rather than served stale.
func (c *Cache) Invalidate(ctx context.Context, id string) {
	if c == nil || c.client == nil {
		return
	}
	if err := c.client.Del(ctx, ancestorsKey(id)).Err(); err != nil {
		slog.Warn("hierarchy cache invalidate failed", "agent_id", id, "error", err)
	}
}
