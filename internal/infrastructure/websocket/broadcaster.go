package websocket

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/lllypuk/dashhost/internal/aggregator"
	"github.com/lllypuk/dashhost/internal/domain/event"
	"github.com/lllypuk/dashhost/internal/infrastructure/eventbus"
)

// Outbound message types.
const (
	OutboundEvent   = "event"
	OutboundMetrics = "metrics"
	OutboundRemote  = "remote"
)

// EventBus defines the interface for subscribing to events.
// Declared on the consumer side per project guidelines.
type EventBus interface {
	Subscribe(name string, handler eventbus.Handler) (func(), error)
}

// OutboundMessage represents a message to be sent over WebSocket.
type OutboundMessage struct {
	Type  string `json:"type"`
	Event string `json:"event,omitempty"`
	Data  any    `json:"data,omitempty"`
}

// RemoteStatus is pushed whenever a remote module changes state.
type RemoteStatus struct {
	Module string `json:"module"`
	State  string `json:"state"`
}

// Broadcaster pushes bus events, metric snapshots and remote module states
// to the hub.
type Broadcaster struct {
	hub      *Hub
	eventBus EventBus
	logger   *slog.Logger

	// eventNames lists which events are forwarded to the events topic.
	eventNames []string

	unsubscribe []func()
	running     bool
	runningMu   sync.Mutex
}

// BroadcasterOption configures a Broadcaster.
type BroadcasterOption func(*Broadcaster)

// WithBroadcasterLogger sets the logger for the broadcaster.
func WithBroadcasterLogger(logger *slog.Logger) BroadcasterOption {
	return func(b *Broadcaster) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithEventNames sets which events to forward.
func WithEventNames(names []string) BroadcasterOption {
	return func(b *Broadcaster) {
		b.eventNames = names
	}
}

// DefaultEventNames returns every event exchanged between host and remote.
func DefaultEventNames() []string {
	return append(event.RemoteEvents(), event.HostEvents()...)
}

// NewBroadcaster creates a new Broadcaster.
func NewBroadcaster(hub *Hub, eventBus EventBus, opts ...BroadcasterOption) *Broadcaster {
	b := &Broadcaster{
		hub:        hub,
		eventBus:   eventBus,
		logger:     slog.Default(),
		eventNames: DefaultEventNames(),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Start subscribes to the event bus. It does not block.
func (b *Broadcaster) Start(ctx context.Context) error {
	b.runningMu.Lock()
	defer b.runningMu.Unlock()

	if b.running {
		return nil
	}

	for _, name := range b.eventNames {
		unsubscribe, err := b.eventBus.Subscribe(name, b.handleEvent)
		if err != nil {
			b.logger.ErrorContext(ctx, "failed to subscribe to event",
				slog.String("event_name", name),
				slog.String("error", err.Error()),
			)
			b.detachLocked()
			return err
		}
		b.unsubscribe = append(b.unsubscribe, unsubscribe)
	}
	b.running = true

	b.logger.InfoContext(ctx, "websocket broadcaster started",
		slog.Int("event_names", len(b.eventNames)),
	)

	return nil
}

// Stop detaches from the event bus.
func (b *Broadcaster) Stop() {
	b.runningMu.Lock()
	defer b.runningMu.Unlock()

	b.detachLocked()
	b.running = false
}

func (b *Broadcaster) detachLocked() {
	for _, unsubscribe := range b.unsubscribe {
		unsubscribe()
	}
	b.unsubscribe = nil
}

// IsRunning returns whether the broadcaster is running.
func (b *Broadcaster) IsRunning() bool {
	b.runningMu.Lock()
	defer b.runningMu.Unlock()
	return b.running
}

func (b *Broadcaster) handleEvent(ctx context.Context, evt event.Event) error {
	b.logger.DebugContext(ctx, "broadcasting event",
		slog.String("event_name", evt.Name),
		slog.String("source", evt.Metadata.Source),
	)

	b.publish(TopicEvents, OutboundMessage{
		Type:  OutboundEvent,
		Event: evt.Name,
		Data:  evt,
	})
	return nil
}

// SnapshotChanged is registered with aggregator.Aggregator.OnChange.
func (b *Broadcaster) SnapshotChanged(s aggregator.Snapshot) {
	b.publish(TopicMetrics, OutboundMessage{Type: OutboundMetrics, Data: s})
}

// MetricsMessage encodes s the way SnapshotChanged broadcasts it.
func MetricsMessage(s aggregator.Snapshot) ([]byte, error) {
	return json.Marshal(OutboundMessage{Type: OutboundMetrics, Data: s})
}

// StateChanged implements remote.Observer.
func (b *Broadcaster) StateChanged(module, state string) {
	b.publish(TopicRemotes, OutboundMessage{
		Type: OutboundRemote,
		Data: RemoteStatus{Module: module, State: state},
	})
}

// LoadFailed implements remote.Observer. The failed state itself arrives
// through StateChanged.
func (b *Broadcaster) LoadFailed(string, string) {}

func (b *Broadcaster) publish(topic string, msg OutboundMessage) {
	data, err := json.Marshal(msg)
	if err != nil {
		b.logger.Error("failed to marshal websocket message",
			slog.String("type", msg.Type),
			slog.String("error", err.Error()),
		)
		return
	}
	b.hub.Publish(topic, data)
}
