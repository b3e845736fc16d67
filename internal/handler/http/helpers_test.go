package httphandler_test

import (
	"context"
	"errors"
	"html/template"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/require"

	"github.com/lllypuk/dashhost/internal/aggregator"
	"github.com/lllypuk/dashhost/internal/domain/event"
	"github.com/lllypuk/dashhost/internal/domain/product"
	"github.com/lllypuk/dashhost/internal/infrastructure/httpserver"
	"github.com/lllypuk/dashhost/internal/remote"
)

type staticSnapshots struct {
	snapshot aggregator.Snapshot
}

func (s staticSnapshots) Snapshot() aggregator.Snapshot { return s.snapshot }

func sampleSnapshot() aggregator.Snapshot {
	created := time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)
	return aggregator.Snapshot{
		Metrics: product.Metrics{Total: 2, Active: 1, Inactive: 1},
		Products: []product.Product{
			{ID: "p-1", Title: "Lamp", SKU: "LMP-1", Price: 19.5, Status: product.StatusActive, CreatedAt: created},
			{ID: "p-2", Title: "Desk", SKU: "DSK-1", Price: 120, Status: product.StatusInactive, CreatedAt: created},
		},
		SyncState: aggregator.SyncLoaded,
		UpdatedAt: created,
	}
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []event.Event
	err    error
}

func (p *recordingPublisher) Dispatch(_ context.Context, evt event.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.err != nil {
		return p.err
	}
	p.events = append(p.events, evt)
	return nil
}

func readyProvider(html string) remote.Provider {
	return remote.ProviderFunc(func(context.Context, string) (remote.Component, error) {
		return remote.ComponentFunc(func(context.Context, any) (template.HTML, error) {
			return template.HTML(html), nil //nolint:gosec // test fixture
		}), nil
	})
}

func failingProvider(msg string) remote.Provider {
	return remote.ProviderFunc(func(context.Context, string) (remote.Component, error) {
		return nil, errors.New(msg)
	})
}

// settledBoundary mounts a boundary and waits for it to settle.
func settledBoundary(t *testing.T, name string, provider remote.Provider) *remote.Boundary {
	t.Helper()

	b := remote.NewBoundary(name, provider,
		remote.WithDisplayName("Product Manager"),
		remote.WithLogger(slog.New(slog.DiscardHandler)),
	)
	b.Mount(context.Background())
	t.Cleanup(b.Close)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	_, err := b.Wait(ctx)
	require.NoError(t, err)
	return b
}

func newRegistry(boundaries ...*remote.Boundary) *remote.Registry {
	registry := remote.NewRegistry()
	for _, b := range boundaries {
		registry.Register(b)
	}
	return registry
}

func newRouter() (*echo.Echo, *httpserver.Router) {
	e := echo.New()
	config := httpserver.DefaultRouterConfig()
	config.Logger = slog.New(slog.DiscardHandler)
	config.LoggingConfig.Logger = config.Logger
	config.RecoveryConfig.Logger = config.Logger
	return e, httpserver.NewRouter(e, config)
}

func do(e *echo.Echo, method, path string, body io.Reader) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, body)
	if body != nil {
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func jsonBody(s string) io.Reader {
	return strings.NewReader(s)
}
