package httpserver_test

import (
	"context"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/dashhost/internal/infrastructure/httpserver"
)

func TestDefaultServerConfig(t *testing.T) {
	config := httpserver.DefaultServerConfig()

	assert.Equal(t, httpserver.DefaultHost, config.Host)
	assert.Equal(t, httpserver.DefaultPort, config.Port)
	assert.Equal(t, httpserver.DefaultReadTimeout, config.ReadTimeout)
	assert.Equal(t, httpserver.DefaultWriteTimeout, config.WriteTimeout)
	assert.Equal(t, httpserver.DefaultShutdownTimeout, config.ShutdownTimeout)
	assert.Equal(t, httpserver.DefaultBodyLimit, config.BodyLimit)
}

func TestNewServer(t *testing.T) {
	tests := []struct {
		name   string
		config httpserver.ServerConfig
		logger *slog.Logger
	}{
		{
			name:   "with default config and nil logger",
			config: httpserver.DefaultServerConfig(),
		},
		{
			name: "with custom config and logger",
			config: httpserver.ServerConfig{
				Host:            "127.0.0.1",
				Port:            3000,
				ReadTimeout:     15 * time.Second,
				WriteTimeout:    20 * time.Second,
				ShutdownTimeout: 5 * time.Second,
				BodyLimit:       "1M",
			},
			logger: slog.Default(),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httpserver.NewServer(tt.config, tt.logger)

			require.NotNil(t, server)
			e := server.Echo()
			assert.True(t, e.HideBanner)
			assert.True(t, e.HidePort)
			assert.Equal(t, tt.config.ReadTimeout, e.Server.ReadTimeout)
			assert.Equal(t, tt.config.WriteTimeout, e.Server.WriteTimeout)
			assert.Equal(t, httpserver.DefaultMaxHeaderBytes, e.Server.MaxHeaderBytes)
		})
	}
}

func TestServerBodyLimit(t *testing.T) {
	config := httpserver.DefaultServerConfig()
	config.BodyLimit = "1K"
	server := httpserver.NewServer(config, nil)
	server.Echo().POST("/events", func(c echo.Context) error {
		return c.NoContent(http.StatusAccepted)
	})

	small := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(`{}`))
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, small)
	assert.Equal(t, http.StatusAccepted, rec.Code)

	large := httptest.NewRequest(http.MethodPost, "/events", strings.NewReader(strings.Repeat("x", 4096)))
	rec = httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, large)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
}

func TestServerUse(t *testing.T) {
	server := httpserver.NewServer(httpserver.DefaultServerConfig(), nil)

	order := []string{}
	mw := func(name string) echo.MiddlewareFunc {
		return func(next echo.HandlerFunc) echo.HandlerFunc {
			return func(c echo.Context) error {
				order = append(order, name+"-before")
				err := next(c)
				order = append(order, name+"-after")
				return err
			}
		}
	}
	server.Use(mw("m1"), mw("m2"))

	server.Echo().GET("/test", func(c echo.Context) error {
		order = append(order, "handler")
		return c.String(http.StatusOK, "ok")
	})

	req := httptest.NewRequest(http.MethodGet, "/test", nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, []string{"m1-before", "m2-before", "handler", "m2-after", "m1-after"}, order)
}

func TestServerAddress(t *testing.T) {
	tests := []struct {
		name     string
		config   httpserver.ServerConfig
		expected string
	}{
		{
			name:     "default config",
			config:   httpserver.DefaultServerConfig(),
			expected: "0.0.0.0:8080",
		},
		{
			name:     "custom config",
			config:   httpserver.ServerConfig{Host: "localhost", Port: 3000},
			expected: "localhost:3000",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httpserver.NewServer(tt.config, nil)
			assert.Equal(t, tt.expected, server.Address())
		})
	}
}

func TestServerShutdown(t *testing.T) {
	t.Run("shutdown without start", func(t *testing.T) {
		server := httpserver.NewServer(httpserver.ServerConfig{Host: "127.0.0.1"}, nil)

		assert.NoError(t, server.Shutdown(context.Background()))
	})

	t.Run("run stops when context is cancelled", func(t *testing.T) {
		server := httpserver.NewServer(httpserver.ServerConfig{
			Host:            "127.0.0.1",
			Port:            0,
			ShutdownTimeout: time.Second,
		}, nil)

		ctx, cancel := context.WithCancel(context.Background())
		done := make(chan error, 1)
		go func() {
			done <- server.Run(ctx)
		}()

		require.Eventually(t, func() bool {
			return server.Echo().ListenerAddr() != nil
		}, time.Second, 5*time.Millisecond)

		cancel()

		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(2 * time.Second):
			t.Fatal("server did not stop in time")
		}
	})
}

func TestServerNotFoundRoute(t *testing.T) {
	server := httpserver.NewServer(httpserver.DefaultServerConfig(), nil)

	req := httptest.NewRequest(http.MethodGet, "/nonexistent", nil)
	rec := httptest.NewRecorder()
	server.Echo().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
