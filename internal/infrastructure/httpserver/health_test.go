package httpserver_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/dashhost/internal/infrastructure/httpserver"
)

func ok(context.Context) error { return nil }

func failing(msg string) httpserver.CheckFunc {
	return func(context.Context) error { return errors.New(msg) }
}

func decodeHealth(t *testing.T, body []byte) httpserver.HealthResponse {
	t.Helper()

	var resp httpserver.HealthResponse
	require.NoError(t, json.Unmarshal(body, &resp))
	return resp
}

func TestChecks(t *testing.T) {
	t.Run("all healthy", func(t *testing.T) {
		checks := httpserver.NewChecks(time.Second).
			Critical("redis", ok).
			Optional("sync", ok)

		assert.True(t, checks.IsReady(context.Background()))
		assert.Equal(t, []httpserver.ComponentStatus{
			{Name: "redis", Status: httpserver.StatusHealthy},
			{Name: "sync", Status: httpserver.StatusHealthy},
		}, checks.GetHealthStatus(context.Background()))
	})

	t.Run("optional failure degrades but stays ready", func(t *testing.T) {
		checks := httpserver.NewChecks(time.Second).
			Critical("storage", ok).
			Optional("sync", failing("Product Manager not responding"))

		assert.True(t, checks.IsReady(context.Background()))
		statuses := checks.GetHealthStatus(context.Background())
		assert.Equal(t, httpserver.StatusDegraded, statuses[1].Status)
		assert.Equal(t, "Product Manager not responding", statuses[1].Message)
	})

	t.Run("critical failure is not ready", func(t *testing.T) {
		checks := httpserver.NewChecks(time.Second).Critical("mongodb", failing("connection refused"))

		assert.False(t, checks.IsReady(context.Background()))
		assert.Equal(t, httpserver.StatusUnhealthy, checks.GetHealthStatus(context.Background())[0].Status)
	})

	t.Run("check is bounded by the timeout", func(t *testing.T) {
		checks := httpserver.NewChecks(10*time.Millisecond).Critical("slow", func(ctx context.Context) error {
			<-ctx.Done()
			return ctx.Err()
		})

		statuses := checks.GetHealthStatus(context.Background())

		assert.Equal(t, httpserver.StatusUnhealthy, statuses[0].Status)
		assert.Equal(t, context.DeadlineExceeded.Error(), statuses[0].Message)
	})
}

func TestHealthEndpoints(t *testing.T) {
	newEcho := func(checker httpserver.HealthChecker) *echo.Echo {
		e := echo.New()
		httpserver.NewHealthEndpoints(checker).Register(e)
		return e
	}

	t.Run("liveness always healthy", func(t *testing.T) {
		e := newEcho(httpserver.NewChecks(0).Critical("db", failing("down")))

		rec := serve(e, http.MethodGet, "/health")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"healthy"}`, rec.Body.String())
	})

	t.Run("ready without checker", func(t *testing.T) {
		rec := serve(newEcho(nil), http.MethodGet, "/ready")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.JSONEq(t, `{"status":"ready"}`, rec.Body.String())
	})

	t.Run("not ready on critical failure", func(t *testing.T) {
		e := newEcho(httpserver.NewChecks(0).Critical("db", failing("down")))

		rec := serve(e, http.MethodGet, "/ready")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		resp := decodeHealth(t, rec.Body.Bytes())
		assert.Equal(t, httpserver.StatusNotReady, resp.Status)
		require.Len(t, resp.Components, 1)
		assert.Equal(t, "down", resp.Components[0].Message)
	})

	t.Run("details report degraded", func(t *testing.T) {
		e := newEcho(httpserver.NewChecks(0).
			Critical("db", ok).
			Optional("remote:product-manager", failing("failed")))

		rec := serve(e, http.MethodGet, "/health/details")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.Equal(t, httpserver.StatusDegraded, decodeHealth(t, rec.Body.Bytes()).Status)
	})

	t.Run("details report unhealthy over degraded", func(t *testing.T) {
		e := newEcho(httpserver.NewChecks(0).
			Optional("sync", failing("late")).
			Critical("db", failing("down")))

		rec := serve(e, http.MethodGet, "/health/details")

		assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
		assert.Equal(t, httpserver.StatusUnhealthy, decodeHealth(t, rec.Body.Bytes()).Status)
	})
}
