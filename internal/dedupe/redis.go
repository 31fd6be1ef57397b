package dedupe

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisCache shares the report-id cache across service instances.
// Params: Redis client, key prefix, and entry TTL.
// Returns: cache implementation backed by SETNX keys.
type RedisCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisCache creates a Redis-backed report-id cache.
// Params: connection settings, key prefix, and entry TTL.
// Returns: initialized cache; connection errors surface on first use.
func NewRedisCache(addr, password string, db int, prefix string, ttl time.Duration) *RedisCache {
	return &RedisCache{
		client: redis.NewClient(&redis.Options{
			Addr:     addr,
			Password: password,
			DB:       db,
		}),
		prefix: prefix,
		ttl:    ttl,
	}
}

// Seen atomically marks the report id and reports prior presence.
// Params: context and report id.
// Returns: true when another intake already recorded the id.
func (c *RedisCache) Seen(ctx context.Context, reportID string) (bool, error) {
	stored, err := c.client.SetNX(ctx, c.prefix+reportID, 1, c.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedupe setnx %q: %w", reportID, err)
	}
	return !stored, nil
}

// Close closes the Redis client.
// Params: none.
// Returns: close error.
func (c *RedisCache) Close() error {
	return c.client.Close()
}
