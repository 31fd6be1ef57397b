package dedupe

import (
	"context"
	"sync"
	"time"

	"healthwatch/internal/clock"
)

// Cache records processed report ids so redeliveries are dropped.
// Params: report id per call.
// Returns: whether the id was already seen within the TTL.
type Cache interface {
	Seen(ctx context.Context, reportID string) (bool, error)
	Close() error
}

// MemoryCache is a TTL report-id cache for single-instance intake.
// Params: id map with first-seen timestamps, TTL, and clock.
// Returns: cache implementation without external dependencies.
type MemoryCache struct {
	mu    sync.Mutex
	items map[string]time.Time
	ttl   time.Duration
	clock clock.Clock
}

// NewMemoryCache creates an in-memory report-id cache.
// Params: entry TTL and clock.
// Returns: initialized cache.
func NewMemoryCache(ttl time.Duration, clk clock.Clock) *MemoryCache {
	return &MemoryCache{
		items: make(map[string]time.Time),
		ttl:   ttl,
		clock: clk,
	}
}

// Seen marks the report id and reports whether it was already present.
// Params: context (unused) and report id.
// Returns: true when the id was recorded within the TTL.
func (c *MemoryCache) Seen(_ context.Context, reportID string) (bool, error) {
	now := c.clock.Now()
	c.mu.Lock()
	defer c.mu.Unlock()
	if ts, ok := c.items[reportID]; ok {
		if now.Sub(ts) <= c.ttl {
			return true, nil
		}
	}
	c.items[reportID] = now
	if len(c.items) > 10000 {
		c.compact(now)
	}
	return false, nil
}

// compact drops expired entries; caller holds the lock.
// Params: current time.
// Returns: none.
func (c *MemoryCache) compact(now time.Time) {
	for id, ts := range c.items {
		if now.Sub(ts) > c.ttl {
			delete(c.items, id)
		}
	}
}

// Close releases cache resources.
// Params: none.
// Returns: nil.
func (c *MemoryCache) Close() error {
	return nil
}
