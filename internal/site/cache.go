package site

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"pixelgate/internal/constants"
)

// Cache stores resolved sites by tracking code. A miss returns (nil, nil).
type Cache interface {
	Get(ctx context.Context, trackingCode string) (*Site, error)
	Set(ctx context.Context, s *Site) error
	Delete(ctx context.Context, trackingCodes ...string) error
}

type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisCache returns a cache whose entries expire after ttl. A cache built
// with a non-positive ttl never stores entries and serves only Delete, which
// is how the management service evicts collector entries.
func NewRedisCache(client *redis.Client, ttl time.Duration) *RedisCache {
	return &RedisCache{client: client, ttl: ttl}
}

// NewCollectorCache returns the site cache a collector may read from, or nil.
// Caching needs a redis client, a positive ttl and a way for configuration
// changes to evict entries; without one a paused rule or a deactivated site
// would keep being served from the cache.
func NewCollectorCache(client *redis.Client, ttl time.Duration, invalidated bool) Cache {
	if client == nil || ttl <= 0 || !invalidated {
		return nil
	}
	return NewRedisCache(client, ttl)
}

func cacheKey(trackingCode string) string {
	return constants.CacheKeyPrefixSite + trackingCode
}

func (c *RedisCache) Get(ctx context.Context, trackingCode string) (*Site, error) {
	val, err := c.client.Get(ctx, cacheKey(trackingCode)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("redis get failed: %w", err)
	}

	var s Site
	if err := json.Unmarshal(val, &s); err != nil {
		return nil, fmt.Errorf("failed to decode cached site: %w", err)
	}
	return &s, nil
}

func (c *RedisCache) Set(ctx context.Context, s *Site) error {
	if c.ttl <= 0 {
		return nil
	}
	data, err := json.Marshal(s)
	if err != nil {
		return fmt.Errorf("failed to encode site: %w", err)
	}
	if err := c.client.Set(ctx, cacheKey(s.TrackingCode), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("redis set failed: %w", err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, trackingCodes ...string) error {
	keys := make([]string, 0, len(trackingCodes))
	for _, code := range trackingCodes {
		if code != "" {
			keys = append(keys, cacheKey(code))
		}
	}
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del failed: %w", err)
	}
	return nil
}
