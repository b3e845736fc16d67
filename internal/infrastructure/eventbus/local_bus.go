// Package eventbus provides the publish/subscribe surface shared by the host
// and the remote module, plus bridges to external channels.
package eventbus

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime"
	"sync"

	"github.com/lllypuk/dashhost/internal/domain/event"
)

const panicStackSize = 4 << 10

// ErrNilHandler is returned when subscribing a nil handler.
var ErrNilHandler = errors.New("handler cannot be nil")

// Handler handles a delivered event. A returned error is logged; it never
// stops delivery to other handlers.
type Handler func(ctx context.Context, evt event.Event) error

// Observer receives delivery statistics. Implemented by the metrics package.
type Observer interface {
	EventPublished(name, source string)
	HandlerFailed(name string)
}

type noopObserver struct{}

func (noopObserver) EventPublished(string, string) {}
func (noopObserver) HandlerFailed(string)          {}

type subscription struct {
	id      uint64
	handler Handler
}

// LocalBus is an in-process bus. Delivery is synchronous, on the publishing
// goroutine, in registration order. There is no replay: a handler registered
// after an event was published never sees it.
type LocalBus struct {
	mu       sync.RWMutex
	handlers map[string][]subscription
	nextID   uint64
	logger   *slog.Logger
	observer Observer
}

// Option configures a LocalBus.
type Option func(*LocalBus)

// WithLogger sets the logger for the bus.
func WithLogger(logger *slog.Logger) Option {
	return func(b *LocalBus) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithObserver sets the delivery observer.
func WithObserver(observer Observer) Option {
	return func(b *LocalBus) {
		if observer != nil {
			b.observer = observer
		}
	}
}

// NewLocalBus creates an empty bus.
func NewLocalBus(opts ...Option) *LocalBus {
	b := &LocalBus{
		handlers: make(map[string][]subscription),
		logger:   slog.Default(),
		observer: noopObserver{},
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Subscribe registers handler for name and returns a function that removes it.
// The returned function is safe to call more than once.
func (b *LocalBus) Subscribe(name string, handler Handler) (func(), error) {
	if err := event.ValidateName(name); err != nil {
		return nil, err
	}
	if handler == nil {
		return nil, ErrNilHandler
	}

	b.mu.Lock()
	b.nextID++
	id := b.nextID
	b.handlers[name] = append(b.handlers[name], subscription{id: id, handler: handler})
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() { b.unsubscribe(name, id) })
	}, nil
}

func (b *LocalBus) unsubscribe(name string, id uint64) {
	b.mu.Lock()
	defer b.mu.Unlock()

	subs := b.handlers[name]
	for i, s := range subs {
		if s.id != id {
			continue
		}
		// copy so an in-flight dispatch keeps its own snapshot intact
		next := make([]subscription, 0, len(subs)-1)
		next = append(next, subs[:i]...)
		next = append(next, subs[i+1:]...)
		if len(next) == 0 {
			delete(b.handlers, name)
		} else {
			b.handlers[name] = next
		}
		return
	}
}

// Publish builds an event from payload and dispatches it.
func (b *LocalBus) Publish(ctx context.Context, name string, payload any) error {
	evt, err := event.New(name, payload)
	if err != nil {
		return fmt.Errorf("failed to create event: %w", err)
	}
	return b.Dispatch(ctx, evt)
}

// Dispatch delivers an already built event, e.g. one received from a bridge.
func (b *LocalBus) Dispatch(ctx context.Context, evt event.Event) error {
	if err := event.ValidateName(evt.Name); err != nil {
		return err
	}

	b.mu.RLock()
	subs := b.handlers[evt.Name]
	b.mu.RUnlock()

	b.observer.EventPublished(evt.Name, evt.Metadata.Source)

	b.logger.DebugContext(ctx, "event published",
		slog.String("event_id", evt.ID),
		slog.String("event_name", evt.Name),
		slog.String("source", evt.Metadata.Source),
		slog.Int("handlers", len(subs)),
	)

	for i, s := range subs {
		b.deliver(ctx, s.handler, evt, i)
	}

	return nil
}

// deliver runs one handler, isolating its errors and panics from the rest.
func (b *LocalBus) deliver(ctx context.Context, handler Handler, evt event.Event, index int) {
	defer func() {
		if r := recover(); r != nil {
			stack := make([]byte, panicStackSize)
			stack = stack[:runtime.Stack(stack, false)]

			b.observer.HandlerFailed(evt.Name)
			b.logger.ErrorContext(ctx, "event handler panicked",
				slog.String("event_name", evt.Name),
				slog.Int("handler_index", index),
				slog.Any("panic", r),
				slog.String("stack", string(stack)),
			)
		}
	}()

	if err := handler(ctx, evt); err != nil {
		b.observer.HandlerFailed(evt.Name)
		b.logger.WarnContext(ctx, "event handler failed",
			slog.String("event_name", evt.Name),
			slog.String("event_id", evt.ID),
			slog.Int("handler_index", index),
			slog.String("error", err.Error()),
		)
	}
}

// HandlerCount returns the number of handlers registered for name.
func (b *LocalBus) HandlerCount(name string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers[name])
}
