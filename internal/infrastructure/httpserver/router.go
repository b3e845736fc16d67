package httpserver

import (
	"io/fs"
	"log/slog"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/lllypuk/dashhost/internal/middleware"
)

// DefaultAPIPrefix is the prefix for JSON API routes.
const DefaultAPIPrefix = "/api/v1"

// RouterConfig holds configuration for the router.
type RouterConfig struct {
	Logger         *slog.Logger
	CORSConfig     middleware.CORSConfig
	LoggingConfig  middleware.LoggingConfig
	RecoveryConfig middleware.RecoveryConfig

	// APIPrefix is the prefix for all API routes.
	// Default is "/api/v1".
	APIPrefix string
}

// DefaultRouterConfig returns a RouterConfig with sensible defaults.
func DefaultRouterConfig() RouterConfig {
	return RouterConfig{
		Logger:         slog.Default(),
		CORSConfig:     middleware.DefaultCORSConfig(),
		LoggingConfig:  middleware.DefaultLoggingConfig(),
		RecoveryConfig: middleware.DefaultRecoveryConfig(),
		APIPrefix:      DefaultAPIPrefix,
	}
}

// Router applies the global middleware chain and owns the route groups.
type Router struct {
	echo   *echo.Echo
	config RouterConfig
	logger *slog.Logger

	api *echo.Group
}

// NewRouter creates a new router with the given configuration.
func NewRouter(e *echo.Echo, config RouterConfig) *Router {
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.APIPrefix == "" {
		config.APIPrefix = DefaultAPIPrefix
	}

	r := &Router{
		echo:   e,
		config: config,
		logger: config.Logger,
	}

	// Recovery must be first to catch all panics
	r.echo.Use(middleware.RecoveryWithConfig(r.config.RecoveryConfig))
	r.echo.Use(middleware.CORS(r.config.CORSConfig))
	r.echo.Use(middleware.Logging(r.config.LoggingConfig))

	r.api = r.echo.Group(r.config.APIPrefix)

	return r
}

// Echo returns the underlying Echo instance. Pages and the WebSocket
// endpoint are registered on it directly.
func (r *Router) Echo() *echo.Echo {
	return r.echo
}

// API returns the JSON API route group.
func (r *Router) API() *echo.Group {
	return r.api
}

// RouteRegistrar defines the interface for registering routes.
type RouteRegistrar interface {
	RegisterRoutes(r *Router)
}

// RegisterAll registers all route registrars with the router.
func (r *Router) RegisterAll(registrars ...RouteRegistrar) {
	for _, registrar := range registrars {
		registrar.RegisterRoutes(r)
	}
}

// RegisterHealthEndpoints registers /health, /ready and /health/details.
func (r *Router) RegisterHealthEndpoints(checker HealthChecker) {
	NewHealthEndpoints(checker).Register(r.echo)
}

// RegisterMetricsEndpoint registers the Prometheus metrics endpoint for gatherer.
func (r *Router) RegisterMetricsEndpoint(path string, gatherer prometheus.Gatherer) {
	if gatherer == nil {
		gatherer = prometheus.DefaultGatherer
	}
	r.echo.GET(path, echo.WrapHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}

// RegisterStatic serves the files of fsys under prefix.
func (r *Router) RegisterStatic(prefix string, fsys fs.FS) {
	r.echo.StaticFS(prefix, fsys)
}

// PrintRoutes logs all registered routes (for debugging).
func (r *Router) PrintRoutes() {
	for _, route := range r.echo.Routes() {
		r.logger.Debug("registered route",
			slog.String("method", route.Method),
			slog.String("path", route.Path),
			slog.String("name", route.Name),
		)
	}
}
