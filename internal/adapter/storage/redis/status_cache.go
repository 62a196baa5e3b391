package redis

import (
	"context"
	"fmt"
	"time"

	goredis "github.com/redis/go-redis/v9"
)

// StatusCache implements ports.StatusCache using Redis. It holds marshalled
// payment-status snapshots for a short TTL to absorb polling from checkout
// pages; the database stays authoritative.
type StatusCache struct {
	client *goredis.Client
	prefix string
}

// NewStatusCache creates a new Redis-backed status cache.
func NewStatusCache(client *goredis.Client) *StatusCache {
	return &StatusCache{
		client: client,
		prefix: "payment_status:",
	}
}

// Get retrieves a cached snapshot by session id.
// Returns nil, nil if the key does not exist.
func (c *StatusCache) Get(ctx context.Context, sessionID string) ([]byte, error) {
	val, err := c.client.Get(ctx, c.prefix+sessionID).Bytes()
	if err != nil {
		if err == goredis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("redis status get: %w", err)
	}
	return val, nil
}

// Set stores a snapshot with TTL.
func (c *StatusCache) Set(ctx context.Context, sessionID string, snapshot []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, c.prefix+sessionID, snapshot, ttl).Err(); err != nil {
		return fmt.Errorf("redis status set: %w", err)
	}
	return nil
}
