package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/lllypuk/dashhost/internal/domain/event"
)

// Default client configuration constants.
const (
	defaultReadBufferSize  = 1024
	defaultWriteBufferSize = 1024
	defaultPingInterval    = 30 * time.Second
	defaultPongWait        = 60 * time.Second
	defaultWriteWait       = 10 * time.Second
	defaultMaxMessageSize  = 65536
	defaultSendBufferSize  = 256
)

// Client message types.
const (
	MessageSubscribe   = "subscribe"
	MessageUnsubscribe = "unsubscribe"
	MessagePublish     = "publish"
	MessagePing        = "ping"
)

// ClientConfig holds configuration for WebSocket clients.
type ClientConfig struct {
	ReadBufferSize  int
	WriteBufferSize int

	// PingInterval is the interval for sending ping messages.
	PingInterval time.Duration

	// PongWait is the maximum time to wait for a pong response.
	PongWait time.Duration

	// WriteWait is the maximum time to wait for a write operation.
	WriteWait time.Duration

	// MaxMessageSize is the maximum allowed message size.
	MaxMessageSize int64
}

// DefaultClientConfig returns sensible default configuration.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ReadBufferSize:  defaultReadBufferSize,
		WriteBufferSize: defaultWriteBufferSize,
		PingInterval:    defaultPingInterval,
		PongWait:        defaultPongWait,
		WriteWait:       defaultWriteWait,
		MaxMessageSize:  defaultMaxMessageSize,
	}
}

// Publisher dispatches events received from a browser. Satisfied by
// eventbus.LocalBus.
type Publisher interface {
	Dispatch(ctx context.Context, evt event.Event) error
}

// ClientMessage represents a message from client to server.
type ClientMessage struct {
	Type          string          `json:"type"`
	Topic         string          `json:"topic,omitempty"`
	Event         string          `json:"event,omitempty"`
	Payload       json.RawMessage `json:"payload,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// Client represents a single WebSocket connection.
type Client struct {
	id        string
	hub       *Hub
	conn      *websocket.Conn
	publisher Publisher

	// send is the channel for outgoing messages.
	send chan []byte

	topics map[string]bool
	mu     sync.RWMutex

	config ClientConfig
	logger *slog.Logger

	closed   bool
	closedMu sync.RWMutex
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithClientConfig sets the client configuration.
func WithClientConfig(config ClientConfig) ClientOption {
	return func(c *Client) {
		c.config = config
	}
}

// WithClientLogger sets the logger for the client.
func WithClientLogger(logger *slog.Logger) ClientOption {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithPublisher lets the client publish remote module events. Without it
// publish messages are rejected.
func WithPublisher(publisher Publisher) ClientOption {
	return func(c *Client) {
		c.publisher = publisher
	}
}

// WithTopics replaces the topics the client follows once registered.
func WithTopics(topics ...string) ClientOption {
	return func(c *Client) {
		c.topics = make(map[string]bool, len(topics))
		for _, topic := range topics {
			c.topics[topic] = true
		}
	}
}

// NewClient creates a new WebSocket client following DefaultTopics.
func NewClient(hub *Hub, conn *websocket.Conn, opts ...ClientOption) *Client {
	c := &Client{
		id:     uuid.NewString(),
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, defaultSendBufferSize),
		topics: make(map[string]bool),
		config: DefaultClientConfig(),
		logger: slog.Default(),
	}
	for _, topic := range DefaultTopics() {
		c.topics[topic] = true
	}

	for _, opt := range opts {
		opt(c)
	}

	return c
}

// ID returns the connection id.
func (c *Client) ID() string {
	return c.id
}

// Topics returns the followed topics, sorted.
func (c *Client) Topics() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	topics := make([]string, 0, len(c.topics))
	for topic := range c.topics {
		topics = append(topics, topic)
	}
	slices.Sort(topics)
	return topics
}

// Follows reports whether the client follows topic.
func (c *Client) Follows(topic string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.topics[topic]
}

func (c *Client) addTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics[topic] = true
}

func (c *Client) removeTopic(topic string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.topics, topic)
}

// IsClosed returns whether the client connection has been closed.
func (c *Client) IsClosed() bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()
	return c.closed
}

// ReadPump reads messages from the WebSocket connection until it fails.
// It should be run as a goroutine.
func (c *Client) ReadPump(ctx context.Context) {
	defer func() {
		c.hub.Unregister(c)
	}()

	c.conn.SetReadLimit(c.config.MaxMessageSize)

	if err := c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait)); err != nil {
		c.logger.ErrorContext(ctx, "failed to set read deadline", slog.String("error", err.Error()))
		return
	}

	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(c.config.PongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.WarnContext(ctx, "websocket read error",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
			}
			return
		}

		c.handleClientMessage(ctx, message)
	}
}

// WritePump writes messages to the WebSocket connection.
// It should be run as a goroutine.
func (c *Client) WritePump() {
	ticker := time.NewTicker(c.config.PingInterval)
	defer func() {
		ticker.Stop()
		c.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline", slog.String("error", err.Error()))
				return
			}

			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Warn("websocket write error",
					slog.String("client_id", c.id),
					slog.String("error", err.Error()),
				)
				return
			}

		case <-ticker.C:
			if err := c.conn.SetWriteDeadline(time.Now().Add(c.config.WriteWait)); err != nil {
				c.logger.Error("failed to set write deadline", slog.String("error", err.Error()))
				return
			}

			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) handleClientMessage(ctx context.Context, message []byte) {
	var msg ClientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		c.logger.WarnContext(ctx, "invalid client message",
			slog.String("client_id", c.id),
			slog.String("error", err.Error()),
		)
		c.sendError("invalid message format")
		return
	}

	switch msg.Type {
	case MessageSubscribe:
		if !IsKnownTopic(msg.Topic) {
			c.sendError("unknown topic: " + msg.Topic)
			return
		}
		c.hub.Subscribe(c, msg.Topic)
		c.sendAck("subscribed", map[string]string{"topic": msg.Topic})

	case MessageUnsubscribe:
		if !IsKnownTopic(msg.Topic) {
			c.sendError("unknown topic: " + msg.Topic)
			return
		}
		c.hub.Unsubscribe(c, msg.Topic)
		c.sendAck("unsubscribed", map[string]string{"topic": msg.Topic})

	case MessagePublish:
		c.handlePublish(ctx, msg)

	case MessagePing:
		c.sendPong()

	default:
		c.logger.DebugContext(ctx, "unknown message type",
			slog.String("client_id", c.id),
			slog.String("type", msg.Type),
		)
		c.sendError("unknown message type: " + msg.Type)
	}
}

// handlePublish accepts only events a remote module emits; host events are
// never taken from a browser.
func (c *Client) handlePublish(ctx context.Context, msg ClientMessage) {
	if c.publisher == nil {
		c.sendError("publishing is disabled")
		return
	}
	if !event.IsRemoteEvent(msg.Event) {
		c.sendError("event cannot be published: " + msg.Event)
		return
	}

	evt, err := event.New(msg.Event, msg.Payload)
	if err != nil {
		c.sendError("invalid payload")
		return
	}
	evt = evt.WithMetadata(event.Metadata{
		Source:        event.SourceWebSocket,
		CorrelationID: msg.CorrelationID,
	})

	if err = c.publisher.Dispatch(ctx, evt); err != nil {
		c.logger.WarnContext(ctx, "failed to dispatch client event",
			slog.String("client_id", c.id),
			slog.String("event_name", msg.Event),
			slog.String("error", err.Error()),
		)
		c.sendError("failed to publish event")
		return
	}

	c.sendAck("published", map[string]string{"event": msg.Event, "id": evt.ID})
}

func (c *Client) sendError(message string) {
	response := map[string]any{
		"type":    "error",
		"message": message,
	}
	data, _ := json.Marshal(response)
	c.Send(data)
}

func (c *Client) sendAck(action string, fields map[string]string) {
	response := map[string]any{
		"type":   "ack",
		"action": action,
	}
	for k, v := range fields {
		response[k] = v
	}
	data, _ := json.Marshal(response)
	c.Send(data)
}

func (c *Client) sendPong() {
	data, _ := json.Marshal(map[string]string{"type": "pong"})
	c.Send(data)
}

// Send queues a message without blocking. It reports false when the client
// is closed or its buffer is full.
func (c *Client) Send(message []byte) bool {
	c.closedMu.RLock()
	defer c.closedMu.RUnlock()

	if c.closed {
		return false
	}

	select {
	case c.send <- message:
		return true
	default:
		c.logger.Warn("client send buffer full", slog.String("client_id", c.id))
		return false
	}
}

// Close closes the client connection.
func (c *Client) Close() {
	c.closedMu.Lock()
	defer c.closedMu.Unlock()

	if c.closed {
		return
	}
	c.closed = true

	close(c.send)
	if c.conn != nil {
		_ = c.conn.Close()
	}

	c.logger.Debug("client connection closed", slog.String("client_id", c.id))
}
