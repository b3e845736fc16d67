package httphandler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/lllypuk/dashhost/internal/aggregator"
	"github.com/lllypuk/dashhost/internal/domain/product"
	"github.com/lllypuk/dashhost/internal/infrastructure/httpserver"
	"github.com/lllypuk/dashhost/internal/remote"
)

// DefaultRemountWait bounds how long a remount request with ?wait=true
// blocks for the module to settle.
const DefaultRemountWait = 10 * time.Second

// MetricsResponse is the API view of the aggregator snapshot.
type MetricsResponse struct {
	Metrics   product.Metrics      `json:"metrics"`
	SyncState aggregator.SyncState `json:"syncState"`
	Error     string               `json:"error,omitempty"`
	Reported  *product.Metrics     `json:"reported,omitempty"`
	UpdatedAt *time.Time           `json:"updatedAt,omitempty"`
	Products  []product.Product    `json:"products,omitempty"`
}

// DashboardHandler serves the aggregated metrics and the remote module
// states as JSON.
type DashboardHandler struct {
	snapshots  SnapshotSource
	remotes    RemoteRegistry
	remountMW  []echo.MiddlewareFunc
	remountMax time.Duration
}

// NewDashboardHandler creates a new DashboardHandler. Middleware in remountMW
// guards the remount route only.
func NewDashboardHandler(
	snapshots SnapshotSource,
	remotes RemoteRegistry,
	remountMW ...echo.MiddlewareFunc,
) *DashboardHandler {
	return &DashboardHandler{
		snapshots:  snapshots,
		remotes:    remotes,
		remountMW:  remountMW,
		remountMax: DefaultRemountWait,
	}
}

// RegisterRoutes registers dashboard routes with the router.
func (h *DashboardHandler) RegisterRoutes(r *httpserver.Router) {
	r.API().GET("/metrics", h.Metrics)
	r.API().GET("/remotes", h.ListRemotes)
	r.API().GET("/remotes/:name", h.GetRemote)
	r.API().POST("/remotes/:name/remount", h.Remount, h.remountMW...)
}

// Metrics handles GET /api/v1/metrics.
// Products are included with ?products=true.
func (h *DashboardHandler) Metrics(c echo.Context) error {
	s := h.snapshots.Snapshot()

	resp := MetricsResponse{
		Metrics:   s.Metrics,
		SyncState: s.SyncState,
		Error:     s.Error,
		Reported:  s.Reported,
	}
	if !s.UpdatedAt.IsZero() {
		resp.UpdatedAt = &s.UpdatedAt
	}
	if c.QueryParam("products") == "true" {
		resp.Products = s.Products
	}

	return httpserver.RespondOK(c, resp)
}

// ListRemotes handles GET /api/v1/remotes.
func (h *DashboardHandler) ListRemotes(c echo.Context) error {
	all := h.remotes.All()
	views := make([]remote.View, 0, len(all))
	for _, b := range all {
		views = append(views, b.View())
	}
	return httpserver.RespondOK(c, views)
}

// GetRemote handles GET /api/v1/remotes/:name.
func (h *DashboardHandler) GetRemote(c echo.Context) error {
	b, ok := h.remotes.Get(c.Param("name"))
	if !ok {
		return respondUnknownRemote(c)
	}
	return httpserver.RespondOK(c, b.View())
}

// Remount handles POST /api/v1/remotes/:name/remount.
// Loading restarts in the background and the response is 202 with the
// pending view. With ?wait=true the handler waits for the module to settle
// and answers 200 with the final view.
func (h *DashboardHandler) Remount(c echo.Context) error {
	b, ok := h.remotes.Get(c.Param("name"))
	if !ok {
		return respondUnknownRemote(c)
	}

	ctx := c.Request().Context()
	b.Remount(context.WithoutCancel(ctx))

	if c.QueryParam("wait") != "true" {
		return httpserver.RespondAccepted(c, b.View())
	}

	waitCtx, cancel := context.WithTimeout(ctx, h.remountMax)
	defer cancel()

	if _, err := b.Wait(waitCtx); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		return httpserver.RespondError(c, err)
	}
	if b.State() == remote.StatePending {
		return httpserver.RespondAccepted(c, b.View())
	}
	return httpserver.RespondOK(c, b.View())
}

func respondUnknownRemote(c echo.Context) error {
	return httpserver.RespondErrorWithCode(c, http.StatusNotFound, "REMOTE_NOT_FOUND",
		"remote module "+c.Param("name")+" is not configured")
}
