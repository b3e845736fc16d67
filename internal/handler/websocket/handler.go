// Package websocket provides HTTP handlers for WebSocket connections.
package websocket

import (
	"context"
	"log/slog"
	"net/http"
	"slices"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/lllypuk/dashhost/internal/aggregator"
	ws "github.com/lllypuk/dashhost/internal/infrastructure/websocket"
)

const (
	defaultHandlerReadBufferSize  = 1024
	defaultHandlerWriteBufferSize = 1024
)

// SnapshotSource provides the current dashboard state sent to a client
// right after it connects.
// Declared on the consumer side per project guidelines.
type SnapshotSource interface {
	Snapshot() aggregator.Snapshot
}

// SyncRequester re-requests the remote module's metrics when a client joins.
// Declared on the consumer side per project guidelines.
type SyncRequester interface {
	RequestSync(ctx context.Context)
}

// Handler upgrades dashboard connections and attaches them to the hub.
type Handler struct {
	hub          *ws.Hub
	upgrader     websocket.Upgrader
	publisher    ws.Publisher
	snapshots    SnapshotSource
	sync         SyncRequester
	logger       *slog.Logger
	clientConfig ws.ClientConfig
}

// HandlerConfig holds configuration for the WebSocket handler.
type HandlerConfig struct {
	ReadBufferSize  int
	WriteBufferSize int

	// AllowedOrigins restricts the Origin header of upgrade requests.
	// Empty or "*" allows every origin.
	AllowedOrigins []string

	Logger       *slog.Logger
	ClientConfig ws.ClientConfig
}

// DefaultHandlerConfig returns a default configuration.
func DefaultHandlerConfig() HandlerConfig {
	return HandlerConfig{
		ReadBufferSize:  defaultHandlerReadBufferSize,
		WriteBufferSize: defaultHandlerWriteBufferSize,
		Logger:          slog.Default(),
		ClientConfig:    ws.DefaultClientConfig(),
	}
}

// HandlerOption configures the Handler.
type HandlerOption func(*Handler)

// WithHandlerLogger sets the logger for the handler.
func WithHandlerLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// WithHandlerConfig sets the handler configuration.
func WithHandlerConfig(config HandlerConfig) HandlerOption {
	return func(h *Handler) {
		if config.ReadBufferSize > 0 {
			h.upgrader.ReadBufferSize = config.ReadBufferSize
		}
		if config.WriteBufferSize > 0 {
			h.upgrader.WriteBufferSize = config.WriteBufferSize
		}
		h.upgrader.CheckOrigin = originChecker(config.AllowedOrigins)
		if config.Logger != nil {
			h.logger = config.Logger
		}
		h.clientConfig = config.ClientConfig
	}
}

// WithEventPublisher lets connected clients publish remote module events.
func WithEventPublisher(publisher ws.Publisher) HandlerOption {
	return func(h *Handler) {
		h.publisher = publisher
	}
}

// WithSnapshotSource greets every new client with the current snapshot.
func WithSnapshotSource(source SnapshotSource) HandlerOption {
	return func(h *Handler) {
		h.snapshots = source
	}
}

// WithSyncRequester asks for fresh metrics every time a client connects, so
// a remote module that joined after startup gets to answer.
func WithSyncRequester(requester SyncRequester) HandlerOption {
	return func(h *Handler) {
		h.sync = requester
	}
}

// NewHandler creates a new WebSocket handler.
func NewHandler(hub *ws.Hub, opts ...HandlerOption) *Handler {
	h := &Handler{
		hub: hub,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  defaultHandlerReadBufferSize,
			WriteBufferSize: defaultHandlerWriteBufferSize,
			CheckOrigin:     originChecker(nil),
		},
		logger:       slog.Default(),
		clientConfig: ws.DefaultClientConfig(),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

func originChecker(allowed []string) func(r *http.Request) bool {
	if len(allowed) == 0 || slices.Contains(allowed, "*") {
		return func(*http.Request) bool { return true }
	}
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		return origin == "" || slices.Contains(allowed, origin)
	}
}

// HandleWebSocket upgrades the request, registers the client with the hub
// and starts its pumps. Topics can be preselected with repeated ?topic=
// query parameters.
func (h *Handler) HandleWebSocket(c echo.Context) error {
	topics := c.QueryParams()["topic"]
	for _, topic := range topics {
		if !ws.IsKnownTopic(topic) {
			return c.JSON(http.StatusBadRequest, map[string]any{
				"success": false,
				"error": map[string]string{
					"code":    "INVALID_INPUT",
					"message": "unknown topic: " + topic,
				},
			})
		}
	}

	conn, err := h.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed",
			slog.String("remote_ip", c.RealIP()),
			slog.String("error", err.Error()),
		)
		return nil // Upgrade already sent an error response
	}

	opts := []ws.ClientOption{
		ws.WithClientConfig(h.clientConfig),
		ws.WithClientLogger(h.logger),
	}
	if h.publisher != nil {
		opts = append(opts, ws.WithPublisher(h.publisher))
	}
	if len(topics) > 0 {
		opts = append(opts, ws.WithTopics(topics...))
	}
	client := ws.NewClient(h.hub, conn, opts...)

	h.hub.Register(client)
	h.greet(client)

	h.logger.Info("websocket connection established",
		slog.String("client_id", client.ID()),
		slog.Any("topics", client.Topics()),
		slog.String("remote_ip", c.RealIP()),
	)

	go client.WritePump()
	go client.ReadPump(context.WithoutCancel(c.Request().Context()))

	// after Register: the request is broadcast to this client as well
	if h.sync != nil {
		h.sync.RequestSync(context.WithoutCancel(c.Request().Context()))
	}

	return nil
}

func (h *Handler) greet(client *ws.Client) {
	if h.snapshots == nil || !client.Follows(ws.TopicMetrics) {
		return
	}
	data, err := ws.MetricsMessage(h.snapshots.Snapshot())
	if err != nil {
		h.logger.Error("failed to encode initial snapshot", slog.String("error", err.Error()))
		return
	}
	client.Send(data)
}

// RegisterRoutes registers the WebSocket handler with the Echo router.
func (h *Handler) RegisterRoutes(e *echo.Echo) {
	e.GET("/ws", h.HandleWebSocket)
}
