// Package aggregator maintains the host's view of the remote module's
// products and derives the dashboard metrics from it.
//
// The aggregator never owns product data. It folds the remote module's
// events into a local copy, persists that copy to a storage slot and
// recomputes the metrics from it on every read.
package aggregator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/lllypuk/dashhost/internal/domain/errs"
	"github.com/lllypuk/dashhost/internal/domain/event"
	"github.com/lllypuk/dashhost/internal/domain/product"
	"github.com/lllypuk/dashhost/internal/infrastructure/eventbus"
	"github.com/lllypuk/dashhost/internal/infrastructure/storage"
)

// DefaultSyncTimeout bounds the wait for a metrics response after activation.
const DefaultSyncTimeout = 3 * time.Second

// NotRespondingMessage is shown when the remote module misses the sync deadline.
const NotRespondingMessage = "Product Manager not responding"

const persistTimeout = 5 * time.Second

// SyncState describes the initial-sync handshake with the remote module.
type SyncState string

// Sync states.
const (
	SyncDisabled      SyncState = "disabled"
	SyncLoading       SyncState = "loading"
	SyncLoaded        SyncState = "loaded"
	SyncNotResponding SyncState = "not_responding"
)

// Drop reasons reported to the observer.
const (
	DropMalformed      = "malformed"
	DropInvalid        = "invalid"
	DropDuplicate      = "duplicate"
	DropUnknownProduct = "unknown_product"
	DropUnchanged      = "unchanged"
)

// Bus is the part of the event bus the aggregator needs.
type Bus interface {
	Subscribe(name string, handler eventbus.Handler) (func(), error)
	Publish(ctx context.Context, name string, payload any) error
}

// Observer receives aggregation statistics. Implemented by the metrics package.
type Observer interface {
	EventApplied(name string)
	EventDropped(name, reason string)
	SyncStateChanged(state string)
	PersistFailed()
	ProductsTracked(m product.Metrics)
}

type noopObserver struct{}

func (noopObserver) EventApplied(string)             {}
func (noopObserver) EventDropped(string, string)     {}
func (noopObserver) SyncStateChanged(string)         {}
func (noopObserver) PersistFailed()                  {}
func (noopObserver) ProductsTracked(product.Metrics) {}

// Snapshot is a consistent read of the aggregator state.
type Snapshot struct {
	Metrics   product.Metrics   `json:"metrics"`
	Products  []product.Product `json:"products"`
	SyncState SyncState         `json:"syncState"`
	Error     string            `json:"error,omitempty"`
	// Reported holds the metrics last reported by the remote module. A
	// response without products is displayed as Metrics until the next
	// folded change; after that Metrics is derived from Products again.
	Reported  *product.Metrics `json:"reported,omitempty"`
	UpdatedAt time.Time        `json:"updatedAt"`
}

// Listener is called after every applied change, in change order. It must
// not call back into the Aggregator.
type Listener func(Snapshot)

// Aggregator folds product events into a collection.
type Aggregator struct {
	bus         Bus
	store       storage.Store
	logger      *slog.Logger
	observer    Observer
	syncEnabled bool
	syncTimeout time.Duration

	mu         sync.Mutex
	collection *product.Collection
	state      SyncState
	reported   *product.Metrics
	adopted    *product.Metrics
	updatedAt  time.Time
	active     bool
	unsubs     []func()
	timer      *time.Timer
	generation uint64

	notifyMu  sync.Mutex
	listeners []Listener
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(a *Aggregator) {
		if logger != nil {
			a.logger = logger
		}
	}
}

// WithObserver sets the statistics observer.
func WithObserver(observer Observer) Option {
	return func(a *Aggregator) {
		if observer != nil {
			a.observer = observer
		}
	}
}

// WithSync enables or disables the initial metrics request and sets its deadline.
// A non-positive timeout keeps the default.
func WithSync(enabled bool, timeout time.Duration) Option {
	return func(a *Aggregator) {
		a.syncEnabled = enabled
		if timeout > 0 {
			a.syncTimeout = timeout
		}
	}
}

// New creates an inactive aggregator. Call Activate to hydrate and subscribe.
func New(bus Bus, store storage.Store, opts ...Option) *Aggregator {
	a := &Aggregator{
		bus:         bus,
		store:       store,
		logger:      slog.Default(),
		observer:    noopObserver{},
		syncEnabled: true,
		syncTimeout: DefaultSyncTimeout,
		collection:  product.NewCollection(),
		state:       SyncDisabled,
	}

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// OnChange registers a listener. Listeners run synchronously on the goroutine
// that applied the change and receive the state as of that change.
func (a *Aggregator) OnChange(l Listener) {
	a.notifyMu.Lock()
	defer a.notifyMu.Unlock()
	a.listeners = append(a.listeners, l)
}

// Activate hydrates from storage, subscribes to the remote module's events
// and, when sync is enabled, requests the current metrics. Calling it on an
// active aggregator does nothing.
func (a *Aggregator) Activate(ctx context.Context) error {
	a.mu.Lock()
	if a.active {
		a.mu.Unlock()
		return nil
	}

	a.hydrate(ctx)
	a.adopted = nil

	handlers := map[string]eventbus.Handler{
		event.ProductAdded:         a.handleProductAdded,
		event.ProductStatusToggled: a.handleStatusToggled,
		event.ProductUpdated:       a.handleProductUpdated,
		event.ProductRemoved:       a.handleProductRemoved,
		event.MetricsResponse:      a.handleMetricsResponse,
	}
	for _, name := range event.RemoteEvents() {
		unsub, err := a.bus.Subscribe(name, handlers[name])
		if err != nil {
			a.detachLocked()
			a.mu.Unlock()
			return fmt.Errorf("failed to subscribe to %s: %w", name, err)
		}
		a.unsubs = append(a.unsubs, unsub)
	}

	a.active = true
	a.generation++
	a.updatedAt = time.Now().UTC()

	total := a.collection.Len()

	if !a.syncEnabled {
		a.setStateLocked(SyncDisabled)
		a.finishLocked()
		a.logger.InfoContext(ctx, "aggregator activated", slog.Int("products", total))
		return nil
	}

	a.armSyncLocked()
	a.finishLocked()

	a.logger.InfoContext(ctx, "aggregator activated",
		slog.Int("products", total),
		slog.Duration("sync_timeout", a.syncTimeout),
	)

	a.requestMetrics(ctx)
	return nil
}

// RequestSync asks the remote module for its metrics again, typically when a
// dashboard client connects. Unless the handshake already completed, the
// bounded wait restarts. Does nothing when inactive or sync is disabled.
func (a *Aggregator) RequestSync(ctx context.Context) {
	a.mu.Lock()
	if !a.active || !a.syncEnabled {
		a.mu.Unlock()
		return
	}

	if a.state == SyncLoaded {
		a.mu.Unlock()
	} else {
		a.armSyncLocked()
		a.updatedAt = time.Now().UTC()
		a.finishLocked()
	}

	a.requestMetrics(ctx)
}

// armSyncLocked moves to loading and starts a fresh deadline. Timers of
// earlier attempts are invalidated by the generation bump.
func (a *Aggregator) armSyncLocked() {
	a.stopTimerLocked()
	a.generation++
	gen := a.generation
	a.setStateLocked(SyncLoading)
	a.timer = time.AfterFunc(a.syncTimeout, func() { a.syncTimedOut(gen) })
}

// requestMetrics must be called without the lock: a local responder may
// answer synchronously.
func (a *Aggregator) requestMetrics(ctx context.Context) {
	if err := a.bus.Publish(ctx, event.RequestMetrics, event.RequestMetricsPayload{}); err != nil {
		a.logger.WarnContext(ctx, "failed to request metrics",
			slog.String("error", err.Error()),
		)
	}
}

// Deactivate detaches every handler and stops the sync timer. The collection
// is kept and re-hydrated on the next Activate.
func (a *Aggregator) Deactivate() {
	a.mu.Lock()
	defer a.mu.Unlock()

	if !a.active {
		return
	}
	a.detachLocked()
	a.active = false
	a.generation++
}

// IsActive reports whether the aggregator is subscribed.
func (a *Aggregator) IsActive() bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.active
}

// Snapshot returns the current state. Metrics are recomputed from the
// products unless a metrics-only response is still being displayed.
func (a *Aggregator) Snapshot() Snapshot {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.snapshotLocked()
}

// Metrics returns the displayed metrics.
func (a *Aggregator) Metrics() product.Metrics {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.metricsLocked()
}

func (a *Aggregator) metricsLocked() product.Metrics {
	if a.adopted != nil {
		return *a.adopted
	}
	return a.collection.Metrics()
}

func (a *Aggregator) snapshotLocked() Snapshot {
	s := Snapshot{
		Metrics:   a.metricsLocked(),
		Products:  a.collection.Items(),
		SyncState: a.state,
		UpdatedAt: a.updatedAt,
	}
	if a.state == SyncNotResponding {
		s.Error = NotRespondingMessage
	}
	if a.reported != nil {
		r := *a.reported
		s.Reported = &r
	}
	return s
}

func (a *Aggregator) detachLocked() {
	for _, unsub := range a.unsubs {
		unsub()
	}
	a.unsubs = nil
	a.stopTimerLocked()
}

func (a *Aggregator) stopTimerLocked() {
	if a.timer != nil {
		a.timer.Stop()
		a.timer = nil
	}
}

func (a *Aggregator) setStateLocked(state SyncState) {
	if a.state == state {
		return
	}
	a.state = state
	a.observer.SyncStateChanged(string(state))
}

// hydrate replaces the collection with the stored one. Any failure leaves an
// empty collection.
func (a *Aggregator) hydrate(ctx context.Context) {
	value, err := a.store.Load(ctx)
	if err != nil {
		if errors.Is(err, errs.ErrNotFound) {
			a.logger.DebugContext(ctx, "no stored products")
		} else {
			a.logger.WarnContext(ctx, "failed to load stored products",
				slog.String("error", err.Error()),
			)
		}
		a.collection.Replace(nil)
		return
	}

	products, dropped, err := DecodeProducts(value)
	if err != nil {
		a.logger.WarnContext(ctx, "stored products are malformed",
			slog.String("error", err.Error()),
		)
		a.collection.Replace(nil)
		return
	}
	if dropped > 0 {
		a.logger.WarnContext(ctx, "dropped invalid stored products",
			slog.Int("dropped", dropped),
		)
	}

	a.collection.Replace(products)
}

// finishLocked records a change, persists when products changed and
// notifies listeners in order. It releases a.mu.
func (a *Aggregator) finishLocked() {
	snap := a.snapshotLocked()
	a.notifyMu.Lock()
	a.mu.Unlock()
	defer a.notifyMu.Unlock()

	a.observer.ProductsTracked(snap.Metrics)
	for _, l := range a.listeners {
		l(snap)
	}
}

// persistLocked writes the collection to the storage slot. Failures are
// logged; the in-memory state stays authoritative.
func (a *Aggregator) persistLocked(ctx context.Context) {
	value, err := EncodeProducts(a.collection.Items())
	if err == nil {
		saveCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), persistTimeout)
		err = a.store.Save(saveCtx, value)
		cancel()
	}
	if err != nil {
		a.observer.PersistFailed()
		a.logger.WarnContext(ctx, "failed to persist products",
			slog.String("error", err.Error()),
		)
	}
}

// markAliveLocked treats any remote event as proof the remote is up, also
// after the deadline passed.
func (a *Aggregator) markAliveLocked() {
	if a.state == SyncLoading || a.state == SyncNotResponding {
		a.stopTimerLocked()
		a.setStateLocked(SyncLoaded)
	}
}

func (a *Aggregator) syncTimedOut(gen uint64) {
	a.mu.Lock()
	if gen != a.generation || a.state != SyncLoading {
		a.mu.Unlock()
		return
	}
	a.timer = nil
	a.setStateLocked(SyncNotResponding)
	a.updatedAt = time.Now().UTC()
	a.logger.Warn("remote module did not answer metrics request",
		slog.Duration("timeout", a.syncTimeout),
	)
	a.finishLocked()
}

// apply runs mutate under the lock. mutate returns whether products changed
// and, for a dropped event, the reason. An event that is neither dropped nor
// changes products still notifies listeners.
func (a *Aggregator) apply(ctx context.Context, name string, mutate func() (bool, string)) {
	a.mu.Lock()
	if !a.active {
		a.mu.Unlock()
		return
	}

	prevState := a.state
	a.markAliveLocked()

	changed, reason := mutate()
	if reason != "" {
		a.observer.EventDropped(name, reason)
		a.logger.DebugContext(ctx, "event dropped",
			slog.String("event_name", name),
			slog.String("reason", reason),
		)
		if a.state == prevState {
			a.mu.Unlock()
			return
		}
	} else {
		a.observer.EventApplied(name)
		if changed {
			a.adopted = nil
			a.persistLocked(ctx)
		}
	}

	a.updatedAt = time.Now().UTC()
	a.finishLocked()
}

// drop records a payload that could not be used at all.
func (a *Aggregator) drop(ctx context.Context, name, reason string, err error) {
	a.observer.EventDropped(name, reason)
	a.logger.WarnContext(ctx, "event dropped",
		slog.String("event_name", name),
		slog.String("reason", reason),
		slog.String("error", err.Error()),
	)
}

func (a *Aggregator) handleProductAdded(ctx context.Context, evt event.Event) error {
	payload, err := event.Decode[event.ProductAddedPayload](evt)
	if err != nil {
		a.drop(ctx, evt.Name, DropMalformed, err)
		return nil
	}
	if err = payload.Product.Validate(); err != nil {
		a.drop(ctx, evt.Name, DropInvalid, err)
		return nil
	}

	a.apply(ctx, evt.Name, func() (bool, string) {
		if !a.collection.Add(payload.Product) {
			return false, DropDuplicate
		}
		return true, ""
	})
	return nil
}

func (a *Aggregator) handleStatusToggled(ctx context.Context, evt event.Event) error {
	payload, err := event.Decode[event.ProductStatusToggledPayload](evt)
	if err != nil {
		a.drop(ctx, evt.Name, DropMalformed, err)
		return nil
	}
	if payload.ProductID == "" || !payload.NewStatus.IsValid() {
		a.drop(ctx, evt.Name, DropInvalid,
			fmt.Errorf("%w: product %q new status %q", errs.ErrInvalidInput, payload.ProductID, payload.NewStatus))
		return nil
	}

	a.apply(ctx, evt.Name, func() (bool, string) {
		if _, ok := a.collection.Get(payload.ProductID); !ok {
			return false, DropUnknownProduct
		}
		if !a.collection.SetStatus(payload.ProductID, payload.NewStatus) {
			return false, DropUnchanged
		}
		return true, ""
	})
	return nil
}

func (a *Aggregator) handleProductUpdated(ctx context.Context, evt event.Event) error {
	payload, err := event.Decode[event.ProductUpdatedPayload](evt)
	if err != nil {
		a.drop(ctx, evt.Name, DropMalformed, err)
		return nil
	}
	if err = payload.Product.Validate(); err != nil {
		a.drop(ctx, evt.Name, DropInvalid, err)
		return nil
	}

	a.apply(ctx, evt.Name, func() (bool, string) {
		if !a.collection.Upsert(payload.Product) {
			return false, DropUnchanged
		}
		return true, ""
	})
	return nil
}

func (a *Aggregator) handleProductRemoved(ctx context.Context, evt event.Event) error {
	payload, err := event.Decode[event.ProductRemovedPayload](evt)
	if err != nil {
		a.drop(ctx, evt.Name, DropMalformed, err)
		return nil
	}

	a.apply(ctx, evt.Name, func() (bool, string) {
		if !a.collection.Remove(payload.ProductID) {
			return false, DropUnknownProduct
		}
		return true, ""
	})
	return nil
}

// adoptLocked displays reported counts in place of the fold. Counts that
// break total = active + inactive are ignored.
func (a *Aggregator) adoptLocked(ctx context.Context, m *product.Metrics) {
	if m == nil {
		return
	}
	if m.Total != m.Active+m.Inactive || m.Active < 0 || m.Inactive < 0 {
		a.logger.WarnContext(ctx, "ignoring inconsistent reported metrics",
			slog.Int("total", m.Total),
			slog.Int("active", m.Active),
			slog.Int("inactive", m.Inactive),
		)
		return
	}
	if *m != a.collection.Metrics() {
		a.logger.InfoContext(ctx, "adopting reported metrics",
			slog.Int("reported_total", m.Total),
			slog.Int("local_total", a.collection.Len()),
		)
	}
	adopted := *m
	a.adopted = &adopted
}

// handleMetricsResponse completes the sync handshake. A response that
// carries products resynchronizes the whole collection.
func (a *Aggregator) handleMetricsResponse(ctx context.Context, evt event.Event) error {
	payload, err := event.Decode[event.MetricsResponsePayload](evt)
	if err != nil {
		a.drop(ctx, evt.Name, DropMalformed, err)
		return nil
	}

	a.apply(ctx, evt.Name, func() (bool, string) {
		a.stopTimerLocked()
		a.setStateLocked(SyncLoaded)

		if payload.Metrics != nil {
			m := *payload.Metrics
			a.reported = &m
		}

		if payload.Products == nil {
			a.adoptLocked(ctx, payload.Metrics)
			return false, ""
		}

		valid := make([]product.Product, 0, len(payload.Products))
		for _, p := range payload.Products {
			if p.ID == "" || !p.Status.IsValid() {
				continue
			}
			valid = append(valid, p)
		}
		a.collection.Replace(valid)
		return true, ""
	})
	return nil
}
