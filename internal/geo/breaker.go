package geo

import (
	"context"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sony/gobreaker"

	"pixelgate/internal/config"
	"pixelgate/internal/logger"
	"pixelgate/pkg/circuitbreaker"
)

type CircuitBreakerLocator struct {
	next Locator
	cb   *circuitbreaker.Wrapper
}

func NewCircuitBreakerLocator(next Locator, cfg circuitbreaker.Config) *CircuitBreakerLocator {
	return &CircuitBreakerLocator{
		next: next,
		cb:   circuitbreaker.NewWrapper(cfg),
	}
}

func (l *CircuitBreakerLocator) Lookup(ctx context.Context, ip string) (Location, error) {
	return circuitbreaker.Execute(ctx, l.cb, func(ctx context.Context) (Location, error) {
		return l.next.Lookup(ctx, ip)
	})
}

func (l *CircuitBreakerLocator) State() string {
	return l.cb.State().String()
}

// NewLocator assembles the configured lookup chain: redis cache, then circuit
// breaker, then the HTTP API. It returns nil when geolocation is disabled.
func NewLocator(cfg config.GeoConfig, cbCfg config.CircuitBreakerConfig, client *redis.Client, log logger.Logger) Locator {
	if !cfg.Enabled {
		return nil
	}

	var locator Locator = NewHTTPLocator(cfg.Endpoint, cfg.Timeout())

	if cbCfg.Enabled {
		breaker := circuitbreaker.DefaultConfig("geo-api")
		if cbCfg.MaxRequests > 0 {
			breaker.MaxRequests = cbCfg.MaxRequests
		}
		if cbCfg.IntervalSeconds > 0 {
			breaker.Interval = time.Duration(cbCfg.IntervalSeconds) * time.Second
		}
		if cbCfg.TimeoutSeconds > 0 {
			breaker.Timeout = time.Duration(cbCfg.TimeoutSeconds) * time.Second
		}
		if cbCfg.FailureRatio > 0 {
			breaker.FailureRatio = cbCfg.FailureRatio
		}
		if cbCfg.MinRequests > 0 {
			breaker.MinRequests = cbCfg.MinRequests
		}
		breaker.OnStateChange = func(name string, from, to gobreaker.State) {
			log.Warnw("Circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		}
		locator = NewCircuitBreakerLocator(locator, breaker)
	}

	if client != nil && cfg.CacheTTLSeconds > 0 {
		locator = NewCachedLocator(locator, client, cfg.CacheTTL(), log)
	}

	return locator
}
