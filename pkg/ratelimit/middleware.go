package ratelimit

import (
	"context"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"golang.org/x/time/rate"

	"pixelgate/internal/config"
	"pixelgate/pkg/metrics"
)

type entry struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

type RateLimitConfig struct {
	RPS             float64
	Burst           int
	CleanupInterval time.Duration
	MaxAge          time.Duration
}

func DefaultConfig() RateLimitConfig {
	return RateLimitConfig{
		RPS:             10.0,
		Burst:           20,
		CleanupInterval: 5 * time.Minute,
		MaxAge:          10 * time.Minute,
	}
}

func FromConfig(cfg config.RateLimitConfig) RateLimitConfig {
	return RateLimitConfig{
		RPS:             cfg.RPS,
		Burst:           cfg.Burst,
		CleanupInterval: time.Duration(cfg.CleanupIntervalSeconds) * time.Second,
		MaxAge:          time.Duration(cfg.MaxAgeSeconds) * time.Second,
	}
}

// KeyFunc selects the bucket a request is charged to.
type KeyFunc func(c *gin.Context) string

func ClientIPKey(c *gin.Context) string {
	if ip := c.ClientIP(); ip != "" {
		return ip
	}
	return c.RemoteIP()
}

// Store keeps one token bucket per key and evicts idle keys.
type Store struct {
	cfg      RateLimitConfig
	mu       sync.Mutex
	limiters map[string]*entry
}

func NewStore(cfg RateLimitConfig) *Store {
	if cfg.CleanupInterval <= 0 || cfg.MaxAge <= 0 {
		def := DefaultConfig()
		cfg.CleanupInterval, cfg.MaxAge = def.CleanupInterval, def.MaxAge
	}
	return &Store{cfg: cfg, limiters: make(map[string]*entry)}
}

// Allow charges one token to key.
func (s *Store) Allow(key string) bool {
	s.mu.Lock()
	e, ok := s.limiters[key]
	if !ok {
		e = &entry{limiter: rate.NewLimiter(rate.Limit(s.cfg.RPS), s.cfg.Burst)}
		s.limiters[key] = e
	}
	e.lastSeen = time.Now()
	s.mu.Unlock()

	return e.limiter.Allow()
}

func (s *Store) cleanup(now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key, e := range s.limiters {
		if now.Sub(e.lastSeen) > s.cfg.MaxAge {
			delete(s.limiters, key)
		}
	}
}

// Run evicts idle buckets until ctx is done.
func (s *Store) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.CleanupInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			s.cleanup(now)
		}
	}
}

func RateLimitMiddleware(store *Store, key KeyFunc) gin.HandlerFunc {
	limit := strconv.Itoa(int(store.cfg.RPS))
	return func(c *gin.Context) {
		c.Header("X-RateLimit-Limit", limit)

		if !store.Allow(key(c)) {
			metrics.RateLimitRequestsTotal.WithLabelValues("limited").Inc()
			c.Header("Retry-After", "1")
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{
				"error":      "rate limit exceeded",
				"error_code": "RATE_LIMIT_EXCEEDED",
			})
			return
		}

		metrics.RateLimitRequestsTotal.WithLabelValues("allowed").Inc()
		c.Next()
	}
}
