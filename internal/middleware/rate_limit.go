package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/redis/go-redis/v9"
)

// Rate limit defaults.
const (
	DefaultRateLimit       = 120
	DefaultRateLimitWindow = time.Minute
	DefaultBurstSize       = 20

	defaultRateLimitMessage = "Too many requests. Please try again later."
	defaultRedisKeyPrefix   = "dashhost:ratelimit:"
)

// RateLimitStore counts requests per key within a fixed window.
type RateLimitStore interface {
	// Increment bumps the counter for key and returns the new count and the
	// time left in the current window.
	Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error)
}

// RateLimitConfig holds configuration for the rate limit middleware.
type RateLimitConfig struct {
	Logger *slog.Logger

	// Store is the counter backend. A nil store disables limiting.
	Store RateLimitStore

	// Limit is the maximum number of requests allowed per window.
	Limit int

	Window time.Duration

	// BurstSize is added to Limit.
	BurstSize int

	// KeyFunc derives the counter key. Defaults to route and client IP.
	KeyFunc func(c echo.Context) string

	Message string
}

// DefaultRateLimitConfig returns a RateLimitConfig with sensible defaults.
func DefaultRateLimitConfig() RateLimitConfig {
	return RateLimitConfig{
		Logger:    slog.Default(),
		Limit:     DefaultRateLimit,
		Window:    DefaultRateLimitWindow,
		BurstSize: DefaultBurstSize,
		Message:   defaultRateLimitMessage,
	}
}

// RateLimit returns a fixed-window rate limiting middleware. Store failures
// let the request through.
func RateLimit(config RateLimitConfig) echo.MiddlewareFunc {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Limit <= 0 {
		config.Limit = DefaultRateLimit
	}
	if config.Window <= 0 {
		config.Window = DefaultRateLimitWindow
	}
	if config.Message == "" {
		config.Message = defaultRateLimitMessage
	}
	if config.KeyFunc == nil {
		config.KeyFunc = routeAndIPKey
	}

	totalLimit := int64(config.Limit + config.BurstSize)

	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			if config.Store == nil {
				return next(c)
			}

			key := config.KeyFunc(c)
			count, ttl, err := config.Store.Increment(c.Request().Context(), key, config.Window)
			if err != nil {
				config.Logger.Error("failed to increment rate limit counter",
					slog.String("key", key),
					slog.String("error", err.Error()),
				)
				return next(c)
			}

			header := c.Response().Header()
			header.Set("X-Ratelimit-Limit", strconv.FormatInt(totalLimit, 10))
			header.Set("X-Ratelimit-Remaining", strconv.FormatInt(max(totalLimit-count, 0), 10))
			if ttl > 0 {
				header.Set("X-Ratelimit-Reset", strconv.FormatInt(time.Now().Add(ttl).Unix(), 10))
			}

			if count > totalLimit {
				config.Logger.Warn("rate limit exceeded",
					slog.String("key", key),
					slog.Int64("count", count),
					slog.Int64("limit", totalLimit),
					slog.String("remote_ip", c.RealIP()),
				)
				return respondRateLimitError(c, config.Message, ttl)
			}

			return next(c)
		}
	}
}

func routeAndIPKey(c echo.Context) string {
	return fmt.Sprintf("%s:%s:%s", c.Request().Method, c.Path(), c.RealIP())
}

func respondRateLimitError(c echo.Context, message string, retryAfter time.Duration) error {
	seconds := int64(retryAfter.Seconds())
	if retryAfter > 0 {
		c.Response().Header().Set("Retry-After", strconv.FormatInt(seconds, 10))
	}

	return c.JSON(http.StatusTooManyRequests, map[string]any{
		"success": false,
		"error": map[string]any{
			"code":        "RATE_LIMIT_EXCEEDED",
			"message":     message,
			"retry_after": seconds,
		},
	})
}

// MemoryRateLimitStore keeps counters in process.
type MemoryRateLimitStore struct {
	mu     sync.Mutex
	counts map[string]*rateLimitEntry
}

type rateLimitEntry struct {
	count     int64
	expiresAt time.Time
}

// NewMemoryRateLimitStore creates a new in-memory rate limit store.
func NewMemoryRateLimitStore() *MemoryRateLimitStore {
	return &MemoryRateLimitStore{
		counts: make(map[string]*rateLimitEntry),
	}
}

// Increment implements RateLimitStore.
func (s *MemoryRateLimitStore) Increment(_ context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now()
	entry, exists := s.counts[key]
	if !exists || !now.Before(entry.expiresAt) {
		entry = &rateLimitEntry{expiresAt: now.Add(window)}
		s.counts[key] = entry
	}
	entry.count++

	return entry.count, entry.expiresAt.Sub(now), nil
}

// RedisRateLimitStore shares counters between replicas through Redis.
type RedisRateLimitStore struct {
	client    *redis.Client
	keyPrefix string
}

// NewRedisRateLimitStore creates a new Redis-based rate limit store.
func NewRedisRateLimitStore(client *redis.Client, keyPrefix string) *RedisRateLimitStore {
	if keyPrefix == "" {
		keyPrefix = defaultRedisKeyPrefix
	}
	return &RedisRateLimitStore{
		client:    client,
		keyPrefix: keyPrefix,
	}
}

// Increment implements RateLimitStore. The window starts with the first
// request of a key.
func (s *RedisRateLimitStore) Increment(ctx context.Context, key string, window time.Duration) (int64, time.Duration, error) {
	fullKey := s.keyPrefix + key

	var incr *redis.IntCmd
	var ttl *redis.DurationCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, fullKey)
		pipe.ExpireNX(ctx, fullKey, window)
		ttl = pipe.PTTL(ctx, fullKey)
		return nil
	})
	if err != nil {
		return 0, 0, fmt.Errorf("failed to increment counter: %w", err)
	}

	return incr.Val(), ttl.Val(), nil
}
