package geo

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"pixelgate/internal/constants"
	"pixelgate/internal/logger"
)

// CachedLocator serves repeated lookups from redis. Cache failures fall
// through to the wrapped locator and are never returned.
type CachedLocator struct {
	next   Locator
	client *redis.Client
	ttl    time.Duration
	logger logger.Logger
}

func NewCachedLocator(next Locator, client *redis.Client, ttl time.Duration, log logger.Logger) *CachedLocator {
	return &CachedLocator{
		next:   next,
		client: client,
		ttl:    ttl,
		logger: log,
	}
}

func (l *CachedLocator) Lookup(ctx context.Context, ip string) (Location, error) {
	key := constants.CacheKeyPrefixGeo + ip

	val, err := l.client.Get(ctx, key).Result()
	switch {
	case err == nil:
		var loc Location
		if jsonErr := json.Unmarshal([]byte(val), &loc); jsonErr == nil {
			return loc, nil
		}
	case !errors.Is(err, redis.Nil):
		l.logger.DebugwCtx(ctx, "Geo cache read failed", "error", err)
	}

	loc, err := l.next.Lookup(ctx, ip)
	if err != nil {
		return Location{}, err
	}

	if data, err := json.Marshal(loc); err == nil {
		if err := l.client.Set(ctx, key, data, l.ttl).Err(); err != nil {
			l.logger.DebugwCtx(ctx, "Geo cache write failed", "error", err)
		}
	}

	return loc, nil
}
