// Package cache provides shared cache backends for screening lookups.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/rt-technologie/freightd/core/dispatch"
)

// VigilanceCache stores carrier screening statuses in Redis so multiple
// dispatcher instances share one TTL window per carrier.
type VigilanceCache struct {
	client *redis.Client
	prefix string
}

// NewVigilanceCache connects to Redis at addr and verifies the connection.
func NewVigilanceCache(ctx context.Context, addr, password string, db int) (*VigilanceCache, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}
	return &VigilanceCache{client: client, prefix: "vigilance:"}, nil
}

// NewVigilanceCacheFromClient wraps an existing client, used by tests.
func NewVigilanceCacheFromClient(client *redis.Client) *VigilanceCache {
	return &VigilanceCache{client: client, prefix: "vigilance:"}
}

// Get returns the cached status of a carrier. A missing key is not an error.
func (c *VigilanceCache) Get(ctx context.Context, carrierID string) (dispatch.VigilanceStatus, bool, error) {
	val, err := c.client.Get(ctx, c.prefix+carrierID).Result()
	if errors.Is(err, redis.Nil) {
		return dispatch.VigilanceUnknown, false, nil
	}
	if err != nil {
		return dispatch.VigilanceUnknown, false, err
	}
	return dispatch.VigilanceStatus(val), true, nil
}

// Set stores the status of a carrier with the given TTL.
func (c *VigilanceCache) Set(ctx context.Context, carrierID string, st dispatch.VigilanceStatus, ttl time.Duration) error {
	return c.client.Set(ctx, c.prefix+carrierID, string(st), ttl).Err()
}

// Close releases the Redis connection.
func (c *VigilanceCache) Close() error { return c.client.Close() }
