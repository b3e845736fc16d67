package main

import (
	"github.com/labstack/echo/v4"

	"github.com/lllypuk/dashhost/internal/infrastructure/httpserver"
	"github.com/lllypuk/dashhost/internal/middleware"
	"github.com/lllypuk/dashhost/web"
)

// metricsPath serves the Prometheus metrics of the host process. The
// dashboard metrics live under the API prefix.
const metricsPath = "/metrics"

// SetupRoutes configures all routes and middleware chains on e.
func SetupRoutes(c *Container, e *echo.Echo) *httpserver.Router {
	loggingConfig := middleware.DefaultLoggingConfig()
	loggingConfig.Logger = c.Logger
	recoveryConfig := middleware.DefaultRecoveryConfig()
	recoveryConfig.Logger = c.Logger

	router := httpserver.NewRouter(e, httpserver.RouterConfig{
		Logger:         c.Logger,
		CORSConfig:     middleware.DefaultCORSConfig(),
		LoggingConfig:  loggingConfig,
		RecoveryConfig: recoveryConfig,
		APIPrefix:      httpserver.DefaultAPIPrefix,
	})

	e.Renderer = c.TemplateRenderer

	router.RegisterStatic("/static", web.StaticFS())
	router.RegisterHealthEndpoints(c.Health)
	router.RegisterMetricsEndpoint(metricsPath, c.Metrics)

	// HTML pages
	c.TemplateHandler.SetupPageRoutes(e)

	// JSON API
	router.RegisterAll(
		c.DashboardHandler,
		c.EventHandler,
	)

	// WebSocket
	c.WSHandler.RegisterRoutes(e)

	if c.Config.IsDevelopment() {
		router.PrintRoutes()
	}

	return router
}
