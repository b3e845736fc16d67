// Package websocket pushes dashboard updates to browsers and accepts remote
// module events from them.
package websocket

import (
	"context"
	"log/slog"
	"sync"
)

// Hub configuration constants.
const (
	defaultBroadcastBufferSize = 256
)

// Topics a client can follow.
const (
	TopicMetrics = "metrics"
	TopicEvents  = "events"
	TopicRemotes = "remotes"
)

// DefaultTopics returns the topics a new client follows.
func DefaultTopics() []string {
	return []string{TopicMetrics, TopicEvents, TopicRemotes}
}

// IsKnownTopic reports whether topic can be subscribed to.
func IsKnownTopic(topic string) bool {
	switch topic {
	case TopicMetrics, TopicEvents, TopicRemotes:
		return true
	default:
		return false
	}
}

// Hub manages all WebSocket connections and their topic subscriptions.
type Hub struct {
	// clients holds all connected clients.
	clients map[*Client]bool

	// topics maps a topic to its subscribed clients.
	topics map[string]map[*Client]bool

	register   chan *Client
	unregister chan *Client
	broadcast  chan *broadcastMessage

	// mu protects concurrent access to maps.
	mu sync.RWMutex

	logger *slog.Logger

	// done signals when the hub should stop.
	done chan struct{}

	running   bool
	runningMu sync.RWMutex
}

type broadcastMessage struct {
	topic   string
	message []byte
}

// HubOption configures the Hub.
type HubOption func(*Hub)

// WithHubLogger sets the logger for the hub.
func WithHubLogger(logger *slog.Logger) HubOption {
	return func(h *Hub) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// NewHub creates a new Hub with the given options.
func NewHub(opts ...HubOption) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		topics:     make(map[string]map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		broadcast:  make(chan *broadcastMessage, defaultBroadcastBufferSize),
		logger:     slog.Default(),
		done:       make(chan struct{}),
	}

	for _, opt := range opts {
		opt(h)
	}

	return h
}

// Run starts the hub's main event loop.
// It should be run as a goroutine.
func (h *Hub) Run(ctx context.Context) {
	h.runningMu.Lock()
	if h.running {
		h.runningMu.Unlock()
		return
	}
	h.running = true
	h.runningMu.Unlock()

	h.logger.InfoContext(ctx, "websocket hub started")

	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return

		case <-h.done:
			h.shutdown()
			return

		case client := <-h.register:
			h.registerClient(client)

		case client := <-h.unregister:
			h.unregisterClient(client)

		case msg := <-h.broadcast:
			h.handleBroadcast(msg)
		}
	}
}

// Stop signals the hub to stop.
func (h *Hub) Stop() {
	h.runningMu.Lock()
	defer h.runningMu.Unlock()

	if !h.running {
		return
	}

	select {
	case <-h.done:
	default:
		close(h.done)
	}
}

// shutdown closes every connection.
func (h *Hub) shutdown() {
	h.runningMu.Lock()
	h.running = false
	h.runningMu.Unlock()

	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		client.Close()
	}

	h.clients = make(map[*Client]bool)
	h.topics = make(map[string]map[*Client]bool)

	h.logger.Info("websocket hub stopped")
}

// Register registers a new client with the hub.
func (h *Hub) Register(client *Client) {
	select {
	case h.register <- client:
	case <-h.done:
		client.Close()
	}
}

// Unregister unregisters a client from the hub.
func (h *Hub) Unregister(client *Client) {
	select {
	case h.unregister <- client:
	case <-h.done:
	}
}

func (h *Hub) registerClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.clients[client] = true
	for _, topic := range client.Topics() {
		h.joinLocked(client, topic)
	}

	h.logger.Debug("client registered",
		slog.String("client_id", client.ID()),
		slog.Int("total_clients", len(h.clients)),
	)
}

func (h *Hub) unregisterClient(client *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}

	for _, topic := range client.Topics() {
		h.leaveLocked(client, topic)
	}

	delete(h.clients, client)
	client.Close()

	h.logger.Debug("client unregistered",
		slog.String("client_id", client.ID()),
		slog.Int("total_clients", len(h.clients)),
	)
}

// Subscribe adds a registered client to a topic.
func (h *Hub) Subscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if _, ok := h.clients[client]; !ok {
		return
	}
	h.joinLocked(client, topic)
	client.addTopic(topic)
}

// Unsubscribe removes a client from a topic.
func (h *Hub) Unsubscribe(client *Client, topic string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.leaveLocked(client, topic)
	client.removeTopic(topic)
}

func (h *Hub) joinLocked(client *Client, topic string) {
	if h.topics[topic] == nil {
		h.topics[topic] = make(map[*Client]bool)
	}
	h.topics[topic][client] = true
}

func (h *Hub) leaveLocked(client *Client, topic string) {
	if room, ok := h.topics[topic]; ok {
		delete(room, client)
		if len(room) == 0 {
			delete(h.topics, topic)
		}
	}
}

// Publish queues message for every client following topic. When the hub is
// stopped or its queue is full the message is dropped.
func (h *Hub) Publish(topic string, message []byte) {
	msg := &broadcastMessage{topic: topic, message: message}

	select {
	case <-h.done:
		return
	default:
	}

	select {
	case h.broadcast <- msg:
	default:
		h.logger.Warn("broadcast queue full, dropping message", slog.String("topic", topic))
	}
}

func (h *Hub) handleBroadcast(msg *broadcastMessage) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	for client := range h.topics[msg.topic] {
		if !client.Send(msg.message) {
			h.logger.Warn("client send buffer full, dropping message",
				slog.String("client_id", client.ID()),
				slog.String("topic", msg.topic),
			)
		}
	}
}

// ClientCount returns the total number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// SubscriberCount returns the number of clients following topic.
func (h *Hub) SubscriberCount(topic string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.topics[topic])
}

// IsRunning returns whether the hub is currently running.
func (h *Hub) IsRunning() bool {
	h.runningMu.RLock()
	defer h.runningMu.RUnlock()
	return h.running
}
