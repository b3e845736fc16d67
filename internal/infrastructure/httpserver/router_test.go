package httpserver_test

import (
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"testing/fstest"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/dashhost/internal/infrastructure/httpserver"
	"github.com/lllypuk/dashhost/internal/middleware"
)

type testRegistrar struct {
	called bool
}

func (r *testRegistrar) RegisterRoutes(router *httpserver.Router) {
	r.called = true
	router.API().GET("/registered", func(c echo.Context) error {
		return c.String(http.StatusOK, "registered")
	})
}

func serve(e *echo.Echo, method, path string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, nil)
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func TestDefaultRouterConfig(t *testing.T) {
	config := httpserver.DefaultRouterConfig()

	assert.NotNil(t, config.Logger)
	assert.Equal(t, "/api/v1", config.APIPrefix)
	assert.NotNil(t, config.CORSConfig.AllowOrigins)
	assert.NotNil(t, config.LoggingConfig.SkipPaths)
	assert.NotNil(t, config.RecoveryConfig.Logger)
}

func TestNewRouter(t *testing.T) {
	t.Run("exposes echo and api group", func(t *testing.T) {
		e := echo.New()

		router := httpserver.NewRouter(e, httpserver.DefaultRouterConfig())

		assert.Equal(t, e, router.Echo())
		assert.NotNil(t, router.API())
	})

	t.Run("empty prefix and nil logger use defaults", func(t *testing.T) {
		e := echo.New()
		config := httpserver.DefaultRouterConfig()
		config.APIPrefix = ""
		config.Logger = nil

		router := httpserver.NewRouter(e, config)
		router.API().GET("/ping", func(c echo.Context) error {
			return c.String(http.StatusOK, "pong")
		})

		rec := serve(e, http.MethodGet, "/api/v1/ping")
		assert.Equal(t, http.StatusOK, rec.Code)
	})
}

func TestRouter_GlobalMiddleware(t *testing.T) {
	t.Run("request id is set", func(t *testing.T) {
		e := echo.New()
		router := httpserver.NewRouter(e, httpserver.DefaultRouterConfig())
		router.API().GET("/test", func(c echo.Context) error {
			return c.String(http.StatusOK, middleware.GetRequestID(c))
		})

		rec := serve(e, http.MethodGet, "/api/v1/test")

		assert.Equal(t, http.StatusOK, rec.Code)
		assert.NotEmpty(t, rec.Header().Get(middleware.RequestIDHeader))
		assert.Equal(t, rec.Header().Get(middleware.RequestIDHeader), rec.Body.String())
	})

	t.Run("panics are recovered", func(t *testing.T) {
		e := echo.New()
		config := httpserver.DefaultRouterConfig()
		config.RecoveryConfig = middleware.RecoveryConfig{Logger: slog.Default()}
		router := httpserver.NewRouter(e, config)
		router.API().GET("/panic", func(_ echo.Context) error {
			panic("test panic")
		})

		var rec *httptest.ResponseRecorder
		assert.NotPanics(t, func() {
			rec = serve(e, http.MethodGet, "/api/v1/panic")
		})
		assert.Equal(t, http.StatusInternalServerError, rec.Code)
	})
}

func TestRouter_RegisterAll(t *testing.T) {
	e := echo.New()
	router := httpserver.NewRouter(e, httpserver.DefaultRouterConfig())

	first := &testRegistrar{}
	second := &testRegistrar{}
	router.RegisterAll(first)
	router.RegisterAll(second)

	assert.True(t, first.called)
	assert.True(t, second.called)

	rec := serve(e, http.MethodGet, "/api/v1/registered")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "registered", rec.Body.String())
}

func TestRouter_RegisterMetricsEndpoint(t *testing.T) {
	e := echo.New()
	router := httpserver.NewRouter(e, httpserver.DefaultRouterConfig())

	reg := prometheus.NewRegistry()
	counter := prometheus.NewCounter(prometheus.CounterOpts{
		Name: "dashhost_test_total",
		Help: "Test counter.",
	})
	reg.MustRegister(counter)
	counter.Inc()

	router.RegisterMetricsEndpoint("/metrics", reg)

	rec := serve(e, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "dashhost_test_total 1")
}

func TestRouter_RegisterStatic(t *testing.T) {
	e := echo.New()
	router := httpserver.NewRouter(e, httpserver.DefaultRouterConfig())

	router.RegisterStatic("/static", fstest.MapFS{
		"dashboard.js": &fstest.MapFile{Data: []byte("console.log('ok')")},
	})

	rec := serve(e, http.MethodGet, "/static/dashboard.js")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "console.log('ok')", rec.Body.String())

	rec = serve(e, http.MethodGet, "/static/missing.js")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestRouter_PrintRoutes(t *testing.T) {
	e := echo.New()
	router := httpserver.NewRouter(e, httpserver.DefaultRouterConfig())
	router.API().GET("/test", func(c echo.Context) error {
		return c.String(http.StatusOK, "ok")
	})

	require.NotPanics(t, router.PrintRoutes)
}
