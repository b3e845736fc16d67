// Package httpserver provides HTTP server infrastructure components.
package httpserver

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"
)

// Health status constants - single source of truth for all health endpoints.
const (
	StatusHealthy   = "healthy"
	StatusUnhealthy = "unhealthy"
	StatusDegraded  = "degraded"
	StatusReady     = "ready"
	StatusNotReady  = "not_ready"
)

// DefaultCheckTimeout bounds a single component check.
const DefaultCheckTimeout = 2 * time.Second

// ComponentStatus represents the health status of a single component.
type ComponentStatus struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// HealthResponse represents the response for health endpoints.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components []ComponentStatus `json:"components,omitempty"`
}

// HealthChecker reports readiness and per-component health.
type HealthChecker interface {
	// IsReady checks if all critical components can serve traffic.
	IsReady(ctx context.Context) bool

	// GetHealthStatus returns detailed health status of all components.
	GetHealthStatus(ctx context.Context) []ComponentStatus
}

// CheckFunc checks one component. A nil error means healthy.
type CheckFunc func(ctx context.Context) error

type namedCheck struct {
	name     string
	critical bool
	fn       CheckFunc
}

// Checks is a HealthChecker built from checks. A failing critical check
// makes the service unhealthy and not ready; a failing optional check only
// degrades it.
type Checks struct {
	mu      sync.RWMutex
	checks  []namedCheck
	timeout time.Duration
}

// NewChecks creates an empty set of checks, each bounded by timeout.
func NewChecks(timeout time.Duration) *Checks {
	if timeout <= 0 {
		timeout = DefaultCheckTimeout
	}
	return &Checks{timeout: timeout}
}

// Critical adds a check that gates readiness.
func (c *Checks) Critical(name string, fn CheckFunc) *Checks {
	return c.add(name, true, fn)
}

// Optional adds a check that can only degrade health.
func (c *Checks) Optional(name string, fn CheckFunc) *Checks {
	return c.add(name, false, fn)
}

func (c *Checks) add(name string, critical bool, fn CheckFunc) *Checks {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.checks = append(c.checks, namedCheck{name: name, critical: critical, fn: fn})
	return c
}

// IsReady implements HealthChecker.
func (c *Checks) IsReady(ctx context.Context) bool {
	for _, status := range c.GetHealthStatus(ctx) {
		if status.Status == StatusUnhealthy {
			return false
		}
	}
	return true
}

// GetHealthStatus implements HealthChecker. Checks run in registration order.
func (c *Checks) GetHealthStatus(ctx context.Context) []ComponentStatus {
	c.mu.RLock()
	checks := append([]namedCheck(nil), c.checks...)
	c.mu.RUnlock()

	statuses := make([]ComponentStatus, 0, len(checks))
	for _, check := range checks {
		statuses = append(statuses, c.run(ctx, check))
	}
	return statuses
}

func (c *Checks) run(ctx context.Context, check namedCheck) ComponentStatus {
	checkCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	err := check.fn(checkCtx)
	if err == nil {
		return ComponentStatus{Name: check.name, Status: StatusHealthy}
	}

	status := StatusDegraded
	if check.critical {
		status = StatusUnhealthy
	}
	return ComponentStatus{Name: check.name, Status: status, Message: err.Error()}
}

// HealthEndpoints manages health check endpoint registration.
type HealthEndpoints struct {
	checker HealthChecker
}

// NewHealthEndpoints creates a new HealthEndpoints instance.
func NewHealthEndpoints(checker HealthChecker) *HealthEndpoints {
	return &HealthEndpoints{
		checker: checker,
	}
}

// Register registers all health endpoints on the Echo instance.
// Endpoints registered:
//   - GET /health - Liveness check (always returns 200 if app is running)
//   - GET /ready - Readiness check (returns 200 if ready, 503 if not)
//   - GET /health/details - Detailed health status of all components
func (h *HealthEndpoints) Register(e *echo.Echo) {
	e.GET("/health", h.handleHealth)
	e.GET("/ready", h.handleReady)
	e.GET("/health/details", h.handleHealthDetails)
}

func (h *HealthEndpoints) handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, HealthResponse{
		Status: StatusHealthy,
	})
}

func (h *HealthEndpoints) handleReady(c echo.Context) error {
	ctx := c.Request().Context()

	if h.checker == nil {
		return c.JSON(http.StatusOK, HealthResponse{Status: StatusReady})
	}

	components := h.checker.GetHealthStatus(ctx)
	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			return c.JSON(http.StatusServiceUnavailable, HealthResponse{
				Status:     StatusNotReady,
				Components: components,
			})
		}
	}

	return c.JSON(http.StatusOK, HealthResponse{
		Status:     StatusReady,
		Components: components,
	})
}

func (h *HealthEndpoints) handleHealthDetails(c echo.Context) error {
	var components []ComponentStatus
	if h.checker != nil {
		components = h.checker.GetHealthStatus(c.Request().Context())
	}

	overallStatus := StatusHealthy
	statusCode := http.StatusOK

	for _, comp := range components {
		if comp.Status == StatusUnhealthy {
			overallStatus = StatusUnhealthy
			statusCode = http.StatusServiceUnavailable
			break
		}
		if comp.Status == StatusDegraded {
			// unhealthy takes precedence
			overallStatus = StatusDegraded
		}
	}

	return c.JSON(statusCode, HealthResponse{
		Status:     overallStatus,
		Components: components,
	})
}
