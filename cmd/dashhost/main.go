package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/lllypuk/dashhost/internal/config"
	"github.com/lllypuk/dashhost/internal/infrastructure/httpserver"
)

const version = "0.1.0"

func main() {
	cfg, err := config.Load()
	if err != nil {
		//nolint:sloglint // No context available before logger setup
		slog.Error("failed to load configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	logger := setupLogger(cfg)

	if runErr := run(cfg, logger); runErr != nil {
		logger.Error("dashboard host stopped with error", slog.String("error", runErr.Error()))
		os.Exit(1)
	}
}

// run builds the container, serves HTTP until a shutdown signal arrives and
// releases every resource on the way out.
func run(cfg *config.Config, logger *slog.Logger) error {
	logger.Info("starting dashboard host",
		slog.String("app", cfg.App.Name),
		slog.String("version", version),
		slog.String("environment", getEnvironment(cfg)),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	container, err := NewContainer(cfg, WithLogger(logger))
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := container.Close(); closeErr != nil {
			logger.Error("container close error", slog.String("error", closeErr.Error()))
		}
	}()

	if startErr := container.Start(ctx); startErr != nil {
		return startErr
	}

	server := httpserver.NewServer(httpserver.ServerConfig{
		Host:            cfg.Server.Host,
		Port:            cfg.Server.Port,
		ReadTimeout:     cfg.Server.ReadTimeout,
		WriteTimeout:    cfg.Server.WriteTimeout,
		ShutdownTimeout: cfg.Server.ShutdownTimeout,
		BodyLimit:       httpserver.DefaultBodyLimit,
	}, logger)
	SetupRoutes(container, server.Echo())

	if serveErr := server.Run(ctx); serveErr != nil {
		return serveErr
	}

	logger.Info("dashboard host shutdown complete")
	return nil
}

// setupLogger creates and configures the structured logger based on configuration.
func setupLogger(cfg *config.Config) *slog.Logger {
	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level:     parseLogLevel(cfg.Log.Level),
		AddSource: cfg.IsDevelopment(),
	}

	switch strings.ToLower(cfg.Log.Format) {
	case "text":
		handler = slog.NewTextHandler(os.Stdout, opts)
	default:
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	logger := slog.New(handler).With(slog.String("app", cfg.App.Name))
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts a string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// getEnvironment returns the environment name based on configuration.
func getEnvironment(cfg *config.Config) string {
	if cfg.IsDevelopment() {
		return "development"
	}
	return "production"
}
