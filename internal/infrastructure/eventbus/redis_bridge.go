package eventbus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/dashhost/internal/domain/event"
)

const defaultChannelPrefix = "events:"

// Bridge lifecycle errors.
var (
	// ErrBridgeRunning is returned when Start is called on a running bridge.
	ErrBridgeRunning = errors.New("redis bridge is already running")

	// ErrBridgeStopped is returned when Start is called after Shutdown.
	// A bridge is not restartable; create a new one instead.
	ErrBridgeStopped = errors.New("redis bridge is stopped")
)

// envelope is the wire form of an event on a Redis channel.
type envelope struct {
	ID            string          `json:"id"`
	Name          string          `json:"name"`
	Origin        string          `json:"origin"`
	CorrelationID string          `json:"correlation_id,omitempty"`
	OccurredAt    time.Time       `json:"occurred_at"`
	Payload       json.RawMessage `json:"payload"`
}

// RedisBridge relays events between Redis Pub/Sub and a LocalBus.
// Inbound names are read from Redis and dispatched locally; outbound names
// published locally are written to Redis. Messages carrying the bridge's own
// origin are dropped so a name relayed both ways never loops.
type RedisBridge struct {
	client        *redis.Client
	bus           *LocalBus
	origin        string
	channelPrefix string
	inbound       []string
	outbound      []string
	logger        *slog.Logger

	pubsub   *redis.PubSub
	pubsubMu sync.Mutex

	running      bool
	stopped      bool
	runningMu    sync.RWMutex
	shutdown     chan struct{}
	shutdownOnce sync.Once
	ready     chan struct{}
	unsubs    []func()
}

// BridgeOption configures a RedisBridge.
type BridgeOption func(*RedisBridge)

// WithBridgeLogger sets the logger for the bridge.
func WithBridgeLogger(logger *slog.Logger) BridgeOption {
	return func(b *RedisBridge) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithChannelPrefix sets a prefix for Redis channel names.
func WithChannelPrefix(prefix string) BridgeOption {
	return func(b *RedisBridge) {
		b.channelPrefix = prefix
	}
}

// WithInbound overrides the names read from Redis.
func WithInbound(names ...string) BridgeOption {
	return func(b *RedisBridge) {
		b.inbound = names
	}
}

// WithOutbound overrides the names forwarded to Redis.
func WithOutbound(names ...string) BridgeOption {
	return func(b *RedisBridge) {
		b.outbound = names
	}
}

// WithOrigin sets the origin id stamped on outgoing envelopes.
func WithOrigin(origin string) BridgeOption {
	return func(b *RedisBridge) {
		if origin != "" {
			b.origin = origin
		}
	}
}

// NewRedisBridge creates a bridge that, by default, reads the remote module's
// events and forwards the host's.
func NewRedisBridge(client *redis.Client, bus *LocalBus, opts ...BridgeOption) *RedisBridge {
	b := &RedisBridge{
		client:        client,
		bus:           bus,
		origin:        uuid.New().String(),
		channelPrefix: defaultChannelPrefix,
		inbound:       event.RemoteEvents(),
		outbound:      event.HostEvents(),
		logger:        slog.Default(),
		shutdown:      make(chan struct{}),
		ready:         make(chan struct{}),
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Origin returns the id this bridge stamps on outgoing envelopes.
func (b *RedisBridge) Origin() string {
	return b.origin
}

// ChannelName returns the Redis channel used for an event name.
func (b *RedisBridge) ChannelName(name string) string {
	return b.channelPrefix + name
}

// Ready is closed once the Redis subscription is confirmed.
func (b *RedisBridge) Ready() <-chan struct{} {
	return b.ready
}

// Start subscribes to Redis and relays events until Shutdown is called or
// ctx is cancelled.
func (b *RedisBridge) Start(ctx context.Context) error {
	b.runningMu.Lock()
	if b.stopped {
		b.runningMu.Unlock()
		return ErrBridgeStopped
	}
	if b.running {
		b.runningMu.Unlock()
		return ErrBridgeRunning
	}
	b.running = true
	b.runningMu.Unlock()

	if err := b.attachOutbound(); err != nil {
		b.runningMu.Lock()
		b.running = false
		b.runningMu.Unlock()
		return err
	}
	defer b.detachOutbound()

	channels := make([]string, 0, len(b.inbound))
	for _, name := range b.inbound {
		channels = append(channels, b.ChannelName(name))
	}

	if len(channels) == 0 {
		b.logger.WarnContext(ctx, "starting redis bridge with no inbound events")
		close(b.ready)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-b.shutdown:
			return nil
		}
	}

	pubsub := b.client.Subscribe(ctx, channels...)

	if _, err := pubsub.Receive(ctx); err != nil {
		_ = pubsub.Close()
		// ready is still open, so a later Start may retry
		b.runningMu.Lock()
		b.running = false
		b.runningMu.Unlock()
		return fmt.Errorf("failed to subscribe to channels: %w", err)
	}

	b.pubsubMu.Lock()
	b.pubsub = pubsub
	b.pubsubMu.Unlock()

	b.logger.InfoContext(ctx, "redis bridge started",
		slog.String("origin", b.origin),
		slog.Any("inbound", b.inbound),
		slog.Any("outbound", b.outbound),
	)
	close(b.ready)

	msgCh := pubsub.Channel()

	for {
		select {
		case <-ctx.Done():
			b.logger.InfoContext(ctx, "redis bridge stopping due to context cancellation")
			return ctx.Err()

		case <-b.shutdown:
			b.logger.InfoContext(ctx, "redis bridge stopping due to shutdown signal")
			return nil

		case msg, ok := <-msgCh:
			if !ok {
				b.logger.WarnContext(ctx, "message channel closed")
				return nil
			}
			b.handleMessage(ctx, msg)
		}
	}
}

// Shutdown stops the bridge and closes its Redis subscription. A bridge is
// not restartable: Start after Shutdown returns ErrBridgeStopped.
func (b *RedisBridge) Shutdown() error {
	b.runningMu.Lock()
	b.running = false
	b.stopped = true
	b.runningMu.Unlock()

	b.shutdownOnce.Do(func() { close(b.shutdown) })

	b.pubsubMu.Lock()
	pubsub := b.pubsub
	b.pubsub = nil
	b.pubsubMu.Unlock()

	if pubsub != nil {
		if err := pubsub.Close(); err != nil {
			return fmt.Errorf("failed to close pubsub: %w", err)
		}
	}

	return nil
}

// IsRunning returns true if the bridge is currently running.
func (b *RedisBridge) IsRunning() bool {
	b.runningMu.RLock()
	defer b.runningMu.RUnlock()
	return b.running
}

// Forward writes evt to its Redis channel.
func (b *RedisBridge) Forward(ctx context.Context, evt event.Event) error {
	data, err := json.Marshal(envelope{
		ID:            evt.ID,
		Name:          evt.Name,
		Origin:        b.origin,
		CorrelationID: evt.Metadata.CorrelationID,
		OccurredAt:    evt.OccurredAt,
		Payload:       evt.Payload,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal event: %w", err)
	}

	channel := b.ChannelName(evt.Name)
	if err := b.client.Publish(ctx, channel, data).Err(); err != nil {
		return fmt.Errorf("failed to publish event to Redis: %w", err)
	}

	b.logger.DebugContext(ctx, "event forwarded",
		slog.String("event_id", evt.ID),
		slog.String("event_name", evt.Name),
		slog.String("channel", channel),
	)

	return nil
}

func (b *RedisBridge) attachOutbound() error {
	for _, name := range b.outbound {
		unsub, err := b.bus.Subscribe(name, b.forwardLocal)
		if err != nil {
			b.detachOutbound()
			return fmt.Errorf("failed to attach outbound %s: %w", name, err)
		}
		b.unsubs = append(b.unsubs, unsub)
	}
	return nil
}

func (b *RedisBridge) detachOutbound() {
	for _, unsub := range b.unsubs {
		unsub()
	}
	b.unsubs = nil
}

// forwardLocal sends locally published events out. Events that arrived
// through Redis are not sent back.
func (b *RedisBridge) forwardLocal(ctx context.Context, evt event.Event) error {
	if evt.Metadata.Source == event.SourceRedis {
		return nil
	}
	return b.Forward(ctx, evt)
}

// handleMessage decodes an envelope and dispatches it on the local bus.
func (b *RedisBridge) handleMessage(ctx context.Context, msg *redis.Message) {
	var env envelope
	if err := json.Unmarshal([]byte(msg.Payload), &env); err != nil {
		b.logger.WarnContext(ctx, "failed to unmarshal event",
			slog.String("channel", msg.Channel),
			slog.String("error", err.Error()),
		)
		return
	}

	if env.Origin == b.origin {
		return
	}

	if env.Name == "" {
		env.Name = strings.TrimPrefix(msg.Channel, b.channelPrefix)
	}
	if b.ChannelName(env.Name) != msg.Channel {
		b.logger.WarnContext(ctx, "event name does not match channel",
			slog.String("channel", msg.Channel),
			slog.String("event_name", env.Name),
		)
		return
	}
	if len(env.Payload) == 0 {
		env.Payload = json.RawMessage("{}")
	}
	if env.ID == "" {
		env.ID = uuid.New().String()
	}
	if env.OccurredAt.IsZero() {
		env.OccurredAt = time.Now().UTC()
	}

	evt := event.Event{
		ID:         env.ID,
		Name:       env.Name,
		Payload:    env.Payload,
		OccurredAt: env.OccurredAt,
		Metadata: event.Metadata{
			Origin:        env.Origin,
			Source:        event.SourceRedis,
			CorrelationID: env.CorrelationID,
		},
	}

	if err := b.bus.Dispatch(ctx, evt); err != nil {
		b.logger.WarnContext(ctx, "failed to dispatch bridged event",
			slog.String("channel", msg.Channel),
			slog.String("error", err.Error()),
		)
	}
}
