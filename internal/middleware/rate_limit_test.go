package middleware_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/dashhost/internal/middleware"
	"github.com/lllypuk/dashhost/internal/testutil"
)

type failingStore struct{}

func (failingStore) Increment(context.Context, string, time.Duration) (int64, time.Duration, error) {
	return 0, 0, errors.New("redis down")
}

func newLimitedEcho(config middleware.RateLimitConfig) *echo.Echo {
	e := echo.New()
	e.POST("/events/:name", func(c echo.Context) error {
		return c.NoContent(http.StatusAccepted)
	}, middleware.RateLimit(config))
	return e
}

func post(e *echo.Echo, path, ip string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, nil)
	req.Header.Set(echo.HeaderXRealIP, ip)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestDefaultRateLimitConfig(t *testing.T) {
	config := middleware.DefaultRateLimitConfig()

	assert.NotNil(t, config.Logger)
	assert.Nil(t, config.Store)
	assert.Equal(t, middleware.DefaultRateLimit, config.Limit)
	assert.Equal(t, middleware.DefaultRateLimitWindow, config.Window)
	assert.Equal(t, middleware.DefaultBurstSize, config.BurstSize)
	assert.NotEmpty(t, config.Message)
}

func TestRateLimit(t *testing.T) {
	t.Run("no store passes through", func(t *testing.T) {
		e := newLimitedEcho(middleware.RateLimitConfig{Limit: 1})

		for range 5 {
			assert.Equal(t, http.StatusAccepted, post(e, "/events/a", "10.0.0.1").Code)
		}
	})

	t.Run("limit plus burst then 429", func(t *testing.T) {
		e := newLimitedEcho(middleware.RateLimitConfig{
			Store:     middleware.NewMemoryRateLimitStore(),
			Limit:     2,
			BurstSize: 1,
			Window:    time.Minute,
		})

		for i := range 3 {
			rec := post(e, "/events/a", "10.0.0.1")
			require.Equal(t, http.StatusAccepted, rec.Code)
			assert.Equal(t, "3", rec.Header().Get("X-Ratelimit-Limit"))
			assert.Equal(t, strconv.Itoa(2-i), rec.Header().Get("X-Ratelimit-Remaining"))
		}

		rec := post(e, "/events/a", "10.0.0.1")
		assert.Equal(t, http.StatusTooManyRequests, rec.Code)
		assert.Equal(t, "0", rec.Header().Get("X-Ratelimit-Remaining"))
		assert.NotEmpty(t, rec.Header().Get("Retry-After"))

		var body struct {
			Success bool `json:"success"`
			Error   struct {
				Code string `json:"code"`
			} `json:"error"`
		}
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
		assert.False(t, body.Success)
		assert.Equal(t, "RATE_LIMIT_EXCEEDED", body.Error.Code)
	})

	t.Run("default key is route pattern and client ip", func(t *testing.T) {
		e := newLimitedEcho(middleware.RateLimitConfig{
			Store: middleware.NewMemoryRateLimitStore(),
			Limit: 1,
		})

		assert.Equal(t, http.StatusAccepted, post(e, "/events/a", "10.0.0.1").Code)
		assert.Equal(t, http.StatusTooManyRequests, post(e, "/events/b", "10.0.0.1").Code)
		assert.Equal(t, http.StatusAccepted, post(e, "/events/a", "10.0.0.2").Code)
	})

	t.Run("custom key", func(t *testing.T) {
		e := newLimitedEcho(middleware.RateLimitConfig{
			Store:   middleware.NewMemoryRateLimitStore(),
			Limit:   1,
			KeyFunc: func(c echo.Context) string { return c.Param("name") },
		})

		assert.Equal(t, http.StatusAccepted, post(e, "/events/a", "10.0.0.1").Code)
		assert.Equal(t, http.StatusAccepted, post(e, "/events/b", "10.0.0.1").Code)
		assert.Equal(t, http.StatusTooManyRequests, post(e, "/events/a", "10.0.0.2").Code)
	})

	t.Run("store failure lets requests through", func(t *testing.T) {
		e := newLimitedEcho(middleware.RateLimitConfig{Store: failingStore{}, Limit: 1})

		for range 3 {
			assert.Equal(t, http.StatusAccepted, post(e, "/events/a", "10.0.0.1").Code)
		}
	})
}

func TestMemoryRateLimitStore(t *testing.T) {
	ctx := context.Background()

	t.Run("window expiry resets the counter", func(t *testing.T) {
		store := middleware.NewMemoryRateLimitStore()

		count, ttl, err := store.Increment(ctx, "k", 20*time.Millisecond)
		require.NoError(t, err)
		assert.Equal(t, int64(1), count)
		assert.Positive(t, ttl)

		count, _, _ = store.Increment(ctx, "k", 20*time.Millisecond)
		assert.Equal(t, int64(2), count)

		time.Sleep(30 * time.Millisecond)

		count, _, _ = store.Increment(ctx, "k", 20*time.Millisecond)
		assert.Equal(t, int64(1), count)
	})

	t.Run("concurrent increments", func(t *testing.T) {
		store := middleware.NewMemoryRateLimitStore()

		var wg sync.WaitGroup
		for range 50 {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, _, _ = store.Increment(ctx, "k", time.Minute)
			}()
		}
		wg.Wait()

		count, _, err := store.Increment(ctx, "k", time.Minute)
		require.NoError(t, err)
		assert.Equal(t, int64(51), count)
	})
}

func TestRedisRateLimitStore(t *testing.T) {
	client, prefix := testutil.SetupTestRedisWithPrefix(t)
	store := middleware.NewRedisRateLimitStore(client, prefix)
	ctx := context.Background()

	count, ttl, err := store.Increment(ctx, "POST:/events/:name:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(1), count)
	assert.Greater(t, ttl, 50*time.Second)

	count, ttl2, err := store.Increment(ctx, "POST:/events/:name:10.0.0.1", time.Minute)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
	assert.LessOrEqual(t, ttl2, ttl)

	exists, err := client.Exists(ctx, prefix+"POST:/events/:name:10.0.0.1").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}

func TestNewRedisRateLimitStore_DefaultPrefix(t *testing.T) {
	client, _ := testutil.SetupTestRedisWithPrefix(t)
	store := middleware.NewRedisRateLimitStore(client, "")

	_, _, err := store.Increment(context.Background(), "client-a", time.Minute)
	require.NoError(t, err)

	exists, err := client.Exists(context.Background(), "dashhost:ratelimit:client-a").Result()
	require.NoError(t, err)
	assert.Equal(t, int64(1), exists)
}
