package idempotency

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache is a best-effort duplicate filter for consumed events, keyed by
// (consumer group, event id). It is a fast path only: the authoritative
// idempotency check lives in domain state, so losing Redis merely costs a
// handler invocation that short-circuits there.
type RedisCache struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedisCache(rdb *redis.Client, ttl time.Duration) *RedisCache {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &RedisCache{rdb: rdb, ttl: ttl}
}

func key(group, eventID string) string { return "idem:" + group + ":" + eventID }

func (c *RedisCache) Seen(ctx context.Context, group, eventID string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key(group, eventID)).Result()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (c *RedisCache) Mark(ctx context.Context, group, eventID string) error {
	return c.rdb.Set(ctx, key(group, eventID), 1, c.ttl).Err()
}
