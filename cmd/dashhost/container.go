// Package main provides the dashboard host entry point.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/v2/mongo"
	"go.mongodb.org/mongo-driver/v2/mongo/options"

	"github.com/lllypuk/dashhost/internal/aggregator"
	"github.com/lllypuk/dashhost/internal/config"
	httphandler "github.com/lllypuk/dashhost/internal/handler/http"
	wshandler "github.com/lllypuk/dashhost/internal/handler/websocket"
	"github.com/lllypuk/dashhost/internal/infrastructure/eventbus"
	"github.com/lllypuk/dashhost/internal/infrastructure/httpserver"
	"github.com/lllypuk/dashhost/internal/infrastructure/metrics"
	"github.com/lllypuk/dashhost/internal/infrastructure/storage"
	"github.com/lllypuk/dashhost/internal/infrastructure/websocket"
	"github.com/lllypuk/dashhost/internal/middleware"
	"github.com/lllypuk/dashhost/internal/remote"
	"github.com/lllypuk/dashhost/web"
)

// Container initialization timeouts.
const (
	containerInitTimeout   = 30 * time.Second
	redisPingTimeout       = 5 * time.Second
	mongoDisconnectTimeout = 10 * time.Second
	bridgeReadyTimeout     = 5 * time.Second
	healthCheckTimeout     = 2 * time.Second
)

// Container holds all application dependencies and manages their lifecycle.
type Container struct {
	// Configuration
	Config *config.Config
	Logger *slog.Logger

	// Infrastructure
	Metrics     *prometheus.Registry
	MongoDB     *mongo.Client
	Redis       *redis.Client
	EventBus    *eventbus.LocalBus
	Bridge      *eventbus.RedisBridge
	Store       storage.Store
	Hub         *websocket.Hub
	Broadcaster *websocket.Broadcaster

	// Dashboard
	Aggregator *aggregator.Aggregator
	Remotes    *remote.Registry
	Health     *httpserver.Checks

	// HTTP Handlers
	TemplateRenderer *httphandler.TemplateRenderer
	TemplateHandler  *httphandler.TemplateHandler
	DashboardHandler *httphandler.DashboardHandler
	EventHandler     *httphandler.EventHandler
	WSHandler        *wshandler.Handler

	bridgeDone chan error
}

// ContainerOption configures the Container.
type ContainerOption func(*Container)

// WithLogger sets a custom logger for the container.
func WithLogger(logger *slog.Logger) ContainerOption {
	return func(c *Container) {
		if logger != nil {
			c.Logger = logger
		}
	}
}

// NewContainer creates a new dependency injection container. Nothing is
// started until Start is called.
func NewContainer(cfg *config.Config, opts ...ContainerOption) (*Container, error) {
	c := &Container{
		Config: cfg,
		Logger: slog.Default(),
	}

	for _, opt := range opts {
		opt(c)
	}

	c.Logger.Info("building container",
		slog.String("eventbus", cfg.EventBus.Type),
		slog.String("storage", cfg.StorageType()),
		slog.Int("remotes", len(cfg.Remotes.Modules)),
		slog.Bool("sync", cfg.Sync.Enabled),
	)

	if err := c.setupInfrastructure(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup infrastructure: %w", err)
	}

	c.setupDashboard()

	if err := c.setupTemplateRenderer(); err != nil {
		_ = c.Close()
		return nil, fmt.Errorf("failed to setup template renderer: %w", err)
	}

	c.setupHTTPHandlers()
	c.setupHealthChecks()

	return c, nil
}

// setupInfrastructure initializes connections, the event bus and the hub.
func (c *Container) setupInfrastructure() error {
	ctx, cancel := context.WithTimeout(context.Background(), containerInitTimeout)
	defer cancel()

	c.Metrics = prometheus.NewRegistry()
	c.Metrics.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	if c.Config.UsesMongoDB() {
		if err := c.setupMongoDB(ctx); err != nil {
			return fmt.Errorf("mongodb: %w", err)
		}
	}

	if c.Config.UsesRedis() {
		if err := c.setupRedis(ctx); err != nil {
			return fmt.Errorf("redis: %w", err)
		}
	}

	c.setupEventBus()

	store, err := c.newStore()
	if err != nil {
		return fmt.Errorf("storage: %w", err)
	}
	c.Store = store

	c.Hub = websocket.NewHub(websocket.WithHubLogger(c.Logger))
	c.Broadcaster = websocket.NewBroadcaster(c.Hub, c.EventBus,
		websocket.WithBroadcasterLogger(c.Logger),
	)

	return nil
}

// setupMongoDB initializes the MongoDB client.
func (c *Container) setupMongoDB(ctx context.Context) error {
	clientOpts := options.Client().
		ApplyURI(c.Config.MongoDB.URI).
		SetMaxPoolSize(c.Config.MongoDB.MaxPoolSize)

	client, connectErr := mongo.Connect(clientOpts)
	if connectErr != nil {
		return fmt.Errorf("failed to connect: %w", connectErr)
	}
	c.MongoDB = client

	pingCtx, cancel := context.WithTimeout(ctx, c.Config.MongoDB.Timeout)
	defer cancel()

	if pingErr := client.Ping(pingCtx, nil); pingErr != nil {
		return fmt.Errorf("failed to ping: %w", pingErr)
	}

	c.Logger.InfoContext(ctx, "connected to MongoDB",
		slog.String("database", c.Config.MongoDB.Database),
	)

	return nil
}

// setupRedis initializes the Redis client.
func (c *Container) setupRedis(ctx context.Context) error {
	c.Redis = redis.NewClient(&redis.Options{
		Addr:     c.Config.Redis.Addr,
		Password: c.Config.Redis.Password,
		DB:       c.Config.Redis.DB,
		PoolSize: c.Config.Redis.PoolSize,
	})

	pingCtx, cancel := context.WithTimeout(ctx, redisPingTimeout)
	defer cancel()

	if pingErr := c.Redis.Ping(pingCtx).Err(); pingErr != nil {
		return fmt.Errorf("failed to ping: %w", pingErr)
	}

	c.Logger.InfoContext(ctx, "connected to Redis",
		slog.String("addr", c.Config.Redis.Addr),
	)

	return nil
}

// setupEventBus creates the local bus and, with a Redis bus, the bridge
// that carries events to and from remotes in other processes.
func (c *Container) setupEventBus() {
	c.EventBus = eventbus.NewLocalBus(
		eventbus.WithLogger(c.Logger),
		eventbus.WithObserver(metrics.NewBusMetrics(c.Metrics)),
	)

	if c.Config.EventBus.IsRedis() {
		c.Bridge = eventbus.NewRedisBridge(c.Redis, c.EventBus,
			eventbus.WithBridgeLogger(c.Logger),
			eventbus.WithChannelPrefix(c.Config.EventBus.RedisChannelPrefix),
		)
	}

	c.Logger.Debug("event bus initialized", slog.Bool("redis_bridge", c.Bridge != nil))
}

// newStore builds the storage slot selected by configuration.
func (c *Container) newStore() (storage.Store, error) {
	switch c.Config.StorageType() {
	case storage.TypeMemory:
		return storage.NewMemoryStore(), nil
	case storage.TypeFile:
		return storage.NewFileStore(c.Config.Storage.Path), nil
	case storage.TypeRedis:
		return storage.NewRedisStore(c.Redis, c.Config.Storage.Slot), nil
	case storage.TypeMongoDB:
		collection := c.MongoDB.
			Database(c.Config.MongoDB.Database).
			Collection(c.Config.Storage.Collection)
		return storage.NewMongoStore(collection, c.Config.Storage.Slot), nil
	default:
		return nil, fmt.Errorf("%w: %q", config.ErrInvalidStorageType, c.Config.Storage.Type)
	}
}

// setupDashboard wires the aggregator and the remote module boundaries.
func (c *Container) setupDashboard() {
	c.Aggregator = aggregator.New(c.EventBus, c.Store,
		aggregator.WithLogger(c.Logger),
		aggregator.WithObserver(metrics.NewAggregatorMetrics(c.Metrics)),
		aggregator.WithSync(c.Config.Sync.Enabled, c.Config.Sync.Timeout),
	)
	c.Aggregator.OnChange(c.Broadcaster.SnapshotChanged)

	provider := remote.NewHTTPProvider(c.Config.Remotes.Entries(),
		remote.WithFetchTimeout(c.Config.Remotes.FetchTimeout),
		remote.WithProviderLogger(c.Logger),
	)
	observer := remote.Observers{metrics.NewLoaderMetrics(c.Metrics), c.Broadcaster}

	c.Remotes = remote.NewRegistry()
	for _, m := range c.Config.Remotes.Modules {
		displayName := m.DisplayName
		if displayName == "" {
			displayName = m.Name
		}
		c.Remotes.Register(remote.NewBoundary(m.Name, provider,
			remote.WithDisplayName(displayName),
			remote.WithProps(httphandler.DefaultRemoteProps()),
			remote.WithLogger(c.Logger),
			remote.WithObserver(observer),
		))
	}
}

// setupTemplateRenderer initializes the template renderer for HTML pages.
func (c *Container) setupTemplateRenderer() error {
	renderer, err := httphandler.NewTemplateRenderer(httphandler.TemplateRendererConfig{
		FS:      web.TemplatesFS,
		Logger:  c.Logger,
		DevMode: c.Config.App.DevMode,
	})
	if err != nil {
		return err
	}
	c.TemplateRenderer = renderer
	return nil
}

// setupHTTPHandlers initializes the page, API and WebSocket handlers.
func (c *Container) setupHTTPHandlers() {
	limiter := c.rateLimiter()

	c.TemplateHandler = httphandler.NewTemplateHandler(c.TemplateRenderer, c.Logger, c.Aggregator, c.Remotes)
	c.DashboardHandler = httphandler.NewDashboardHandler(c.Aggregator, c.Remotes, limiter...)
	c.EventHandler = httphandler.NewEventHandler(c.EventBus, c.Logger, limiter...)

	clientConfig := websocket.DefaultClientConfig()
	clientConfig.ReadBufferSize = c.Config.WebSocket.ReadBufferSize
	clientConfig.WriteBufferSize = c.Config.WebSocket.WriteBufferSize
	clientConfig.PingInterval = c.Config.WebSocket.PingInterval
	clientConfig.PongWait = c.Config.WebSocket.PongTimeout

	c.WSHandler = wshandler.NewHandler(c.Hub,
		wshandler.WithHandlerConfig(wshandler.HandlerConfig{
			ReadBufferSize:  c.Config.WebSocket.ReadBufferSize,
			WriteBufferSize: c.Config.WebSocket.WriteBufferSize,
			AllowedOrigins:  c.Config.WebSocket.AllowedOrigins,
			Logger:          c.Logger,
			ClientConfig:    clientConfig,
		}),
		wshandler.WithEventPublisher(c.EventBus),
		wshandler.WithSnapshotSource(c.Aggregator),
		wshandler.WithSyncRequester(c.Aggregator),
	)
}

// rateLimiter returns the middleware guarding event ingestion and remounts.
// Counters live in Redis when a connection exists so replicas share them.
func (c *Container) rateLimiter() []echo.MiddlewareFunc {
	if !c.Config.RateLimit.Enabled {
		return nil
	}

	var store middleware.RateLimitStore = middleware.NewMemoryRateLimitStore()
	if c.Redis != nil {
		store = middleware.NewRedisRateLimitStore(c.Redis, "")
	}

	return []echo.MiddlewareFunc{middleware.RateLimit(middleware.RateLimitConfig{
		Logger:    c.Logger,
		Store:     store,
		Limit:     c.Config.RateLimit.Limit,
		Window:    c.Config.RateLimit.Window,
		BurstSize: c.Config.RateLimit.Burst,
	})}
}

// setupHealthChecks registers component checks. Connections and the hub
// are critical; a silent remote module only degrades the service since the
// dashboard keeps serving local data.
func (c *Container) setupHealthChecks() {
	c.Health = httpserver.NewChecks(healthCheckTimeout)

	if c.Redis != nil {
		c.Health.Critical("redis", func(ctx context.Context) error {
			return c.Redis.Ping(ctx).Err()
		})
	}
	if c.MongoDB != nil {
		c.Health.Critical("mongodb", func(ctx context.Context) error {
			return c.MongoDB.Ping(ctx, nil)
		})
	}
	c.Health.Critical("websocket_hub", func(context.Context) error {
		if !c.Hub.IsRunning() {
			return errors.New("hub not running")
		}
		return nil
	})
	if c.Bridge != nil {
		c.Health.Optional("eventbus_bridge", func(context.Context) error {
			if !c.Bridge.IsRunning() {
				return errors.New("redis bridge not running")
			}
			return nil
		})
	}
	c.Health.Optional("aggregator", func(context.Context) error {
		if !c.Aggregator.IsActive() {
			return errors.New("aggregator not active")
		}
		if s := c.Aggregator.Snapshot(); s.SyncState == aggregator.SyncNotResponding {
			return errors.New(s.Error)
		}
		return nil
	})
	for _, b := range c.Remotes.All() {
		c.Health.Optional("remote:"+b.Name(), func(context.Context) error {
			if loadErr := b.Err(); loadErr != nil {
				return loadErr
			}
			return nil
		})
	}
}

// Start runs the background services: the Redis bridge, the hub, the
// broadcaster, the aggregator and the remote module mounts.
func (c *Container) Start(ctx context.Context) error {
	if err := c.StartEventBus(ctx); err != nil {
		return fmt.Errorf("event bus: %w", err)
	}

	c.StartHub(ctx)

	if err := c.Broadcaster.Start(ctx); err != nil {
		return fmt.Errorf("broadcaster: %w", err)
	}

	if err := c.Aggregator.Activate(ctx); err != nil {
		return fmt.Errorf("aggregator: %w", err)
	}

	c.Remotes.MountAll(ctx)
	c.Logger.InfoContext(ctx, "remote modules mounting", slog.Int("count", len(c.Remotes.All())))

	return nil
}

// StartEventBus starts the Redis bridge, if any, and waits for its
// subscription so the initial metrics request is not lost.
func (c *Container) StartEventBus(ctx context.Context) error {
	if c.Bridge == nil {
		return nil
	}

	c.bridgeDone = make(chan error, 1)
	go func() {
		c.bridgeDone <- c.Bridge.Start(ctx)
	}()

	timer := time.NewTimer(bridgeReadyTimeout)
	defer timer.Stop()

	select {
	case <-c.Bridge.Ready():
		c.Logger.InfoContext(ctx, "redis bridge started", slog.String("origin", c.Bridge.Origin()))
		return nil
	case err := <-c.bridgeDone:
		return err
	case <-timer.C:
		return errors.New("redis bridge did not become ready")
	case <-ctx.Done():
		return ctx.Err()
	}
}

// StartHub runs the WebSocket hub loop in the background.
func (c *Container) StartHub(ctx context.Context) {
	go c.Hub.Run(ctx)
	c.Logger.InfoContext(ctx, "websocket hub started")
}

// Close releases all resources held by the container.
func (c *Container) Close() error {
	c.Logger.Info("closing container resources...")

	var errs []error

	if c.Remotes != nil {
		c.Remotes.Close()
	}

	if c.Aggregator != nil {
		c.Aggregator.Deactivate()
	}

	if c.Broadcaster != nil {
		c.Broadcaster.Stop()
	}

	if c.Hub != nil {
		c.Hub.Stop()
		c.Logger.Debug("websocket hub stopped")
	}

	if c.Bridge != nil {
		if err := c.Bridge.Shutdown(); err != nil {
			errs = append(errs, fmt.Errorf("redis bridge shutdown: %w", err))
		} else {
			c.Logger.Debug("redis bridge stopped")
		}
	}

	if c.Redis != nil {
		if err := c.Redis.Close(); err != nil {
			errs = append(errs, fmt.Errorf("redis close: %w", err))
		} else {
			c.Logger.Debug("redis connection closed")
		}
	}

	if c.MongoDB != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mongoDisconnectTimeout)
		defer cancel()

		if err := c.MongoDB.Disconnect(ctx); err != nil {
			errs = append(errs, fmt.Errorf("mongodb disconnect: %w", err))
		} else {
			c.Logger.Debug("mongodb connection closed")
		}
	}

	if len(errs) > 0 {
		return errors.Join(errs...)
	}

	c.Logger.Info("all container resources closed")
	return nil
}
