package remote

import (
	"context"
	"fmt"
	"html/template"
	"log/slog"
	"runtime"
	"sync"

	"github.com/lllypuk/dashhost/internal/domain/errs"
)

const panicStackSize = 4 << 10

// State of a mounted remote module.
type State string

// Boundary states. Failed is terminal until Remount.
const (
	StatePending State = "pending"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Fallback text prefixes.
const (
	LoadingPrefix = "Loading Remote Module: "
	FailedPrefix  = "Failed to Load Remote Module: "
)

// ErrNotMounted is returned by Wait before the first Mount.
var ErrNotMounted = fmt.Errorf("remote module is not mounted: %w", errs.ErrUnavailable)

// Observer receives loader state transitions. Implemented by the metrics package.
type Observer interface {
	StateChanged(module, state string)
	LoadFailed(module, phase string)
}

type noopObserver struct{}

func (noopObserver) StateChanged(string, string) {}
func (noopObserver) LoadFailed(string, string)   {}

// Observers fans transitions out to several observers in order.
type Observers []Observer

// StateChanged implements Observer.
func (o Observers) StateChanged(module, state string) {
	for _, obs := range o {
		obs.StateChanged(module, state)
	}
}

// LoadFailed implements Observer.
func (o Observers) LoadFailed(module, phase string) {
	for _, obs := range o {
		obs.LoadFailed(module, phase)
	}
}

// View is what the host shows in the module's slot.
type View struct {
	Module      string        `json:"module"`
	DisplayName string        `json:"displayName"`
	State       State         `json:"state"`
	Message     string        `json:"message,omitempty"`
	Error       string        `json:"error,omitempty"`
	Phase       Phase         `json:"phase,omitempty"`
	Generation  uint64        `json:"generation"`
	HTML        template.HTML `json:"-"`
}

// Boundary mounts one remote module and captures every failure of fetching,
// evaluating or rendering it. A failed boundary stays failed until Remount;
// nothing is retried automatically.
type Boundary struct {
	name        string
	displayName string
	provider    Provider
	props       any
	logger      *slog.Logger
	observer    Observer

	mu         sync.RWMutex
	state      State
	loadErr    *LoadError
	component  Component
	html       template.HTML
	generation uint64
	settled    chan struct{}
	cancel     context.CancelFunc
}

// BoundaryOption configures a Boundary.
type BoundaryOption func(*Boundary)

// WithDisplayName sets the name used in fallback messages.
func WithDisplayName(displayName string) BoundaryOption {
	return func(b *Boundary) {
		if displayName != "" {
			b.displayName = displayName
		}
	}
}

// WithProps sets the data passed to the first render.
func WithProps(props any) BoundaryOption {
	return func(b *Boundary) {
		b.props = props
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) BoundaryOption {
	return func(b *Boundary) {
		if logger != nil {
			b.logger = logger
		}
	}
}

// WithObserver sets the state observer.
func WithObserver(observer Observer) BoundaryOption {
	return func(b *Boundary) {
		if observer != nil {
			b.observer = observer
		}
	}
}

// NewBoundary creates an unmounted boundary for module name.
func NewBoundary(name string, provider Provider, opts ...BoundaryOption) *Boundary {
	b := &Boundary{
		name:        name,
		displayName: name,
		provider:    provider,
		logger:      slog.Default(),
		observer:    noopObserver{},
		state:       StatePending,
	}

	for _, opt := range opts {
		opt(b)
	}

	return b
}

// Name returns the module's logical name.
func (b *Boundary) Name() string {
	return b.name
}

// Mount starts loading the module in the background. Mounting an already
// mounted boundary does nothing; use Remount to start over.
func (b *Boundary) Mount(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.generation > 0 {
		return
	}
	b.startLocked(ctx)
}

// Remount discards the current mount, including any load still in flight,
// and starts again from pending.
func (b *Boundary) Remount(ctx context.Context) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.logger.InfoContext(ctx, "remounting remote module",
		slog.String("module", b.name),
		slog.String("previous_state", string(b.state)),
	)
	b.startLocked(ctx)
}

// Close cancels any load in flight.
func (b *Boundary) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.cancel != nil {
		b.cancel()
		b.cancel = nil
	}
}

func (b *Boundary) startLocked(ctx context.Context) {
	if b.cancel != nil {
		b.cancel()
	}

	// the superseded load never settles; release its waiters
	if b.settled != nil {
		select {
		case <-b.settled:
		default:
			close(b.settled)
		}
	}

	b.generation++
	b.component = nil
	b.html = ""
	b.loadErr = nil
	b.settled = make(chan struct{})
	b.setStateLocked(StatePending)

	loadCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	b.cancel = cancel

	go b.load(loadCtx, b.generation, b.settled)
}

func (b *Boundary) setStateLocked(state State) {
	b.state = state
	b.observer.StateChanged(b.name, string(state))
}

// load resolves and first-renders the module. Results of a superseded
// generation are discarded.
func (b *Boundary) load(ctx context.Context, gen uint64, settled chan struct{}) {
	component, err := b.resolve(ctx)
	if err != nil {
		b.settle(ctx, gen, settled, nil, "", err)
		return
	}

	html, err := b.render(ctx, component, b.props)
	if err != nil {
		b.settle(ctx, gen, settled, nil, "", asLoadError(b.name, PhaseRender, err))
		return
	}

	b.settle(ctx, gen, settled, component, html, nil)
}

func (b *Boundary) resolve(ctx context.Context) (component Component, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logPanic(ctx, r)
			component = nil
			err = &LoadError{Module: b.name, Phase: PhaseEvaluate, Err: panicError(r)}
		}
	}()

	component, err = b.provider.Resolve(ctx, b.name)
	if err != nil {
		return nil, asLoadError(b.name, PhaseFetch, err)
	}
	if component == nil {
		return nil, &LoadError{Module: b.name, Phase: PhaseEvaluate, Err: ErrEmptyArtifact}
	}
	return component, nil
}

// render runs the component with panics turned into errors.
func (b *Boundary) render(ctx context.Context, component Component, data any) (html template.HTML, err error) {
	defer func() {
		if r := recover(); r != nil {
			b.logPanic(ctx, r)
			html = ""
			err = panicError(r)
		}
	}()

	return component.Render(ctx, data)
}

func (b *Boundary) logPanic(ctx context.Context, r any) {
	stack := make([]byte, panicStackSize)
	stack = stack[:runtime.Stack(stack, false)]

	b.logger.ErrorContext(ctx, "remote module panicked",
		slog.String("module", b.name),
		slog.Any("panic", r),
		slog.String("stack", string(stack)),
	)
}

func (b *Boundary) settle(
	ctx context.Context,
	gen uint64,
	settled chan struct{},
	component Component,
	html template.HTML,
	err error,
) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if gen != b.generation {
		b.logger.DebugContext(ctx, "discarding stale remote module load",
			slog.String("module", b.name),
		)
		return
	}

	if err != nil {
		b.failLocked(ctx, asLoadError(b.name, PhaseFetch, err))
	} else {
		b.component = component
		b.html = html
		b.setStateLocked(StateReady)
		b.logger.InfoContext(ctx, "remote module ready", slog.String("module", b.name))
	}

	close(settled)
}

func (b *Boundary) failLocked(ctx context.Context, le *LoadError) {
	b.component = nil
	b.html = ""
	b.loadErr = le
	b.setStateLocked(StateFailed)
	b.observer.LoadFailed(b.name, string(le.Phase))

	b.logger.WarnContext(ctx, "remote module failed",
		slog.String("module", b.name),
		slog.String("phase", string(le.Phase)),
		slog.String("error", le.Err.Error()),
	)
}

// Wait blocks until the current mount settles or ctx ends, and returns the
// resulting state. A mount superseded by Remount hands its waiters over to
// the new one.
func (b *Boundary) Wait(ctx context.Context) (State, error) {
	b.mu.RLock()
	settled := b.settled
	b.mu.RUnlock()

	if settled == nil {
		return StatePending, ErrNotMounted
	}

	for {
		select {
		case <-settled:
		case <-ctx.Done():
			return b.State(), ctx.Err()
		}

		b.mu.RLock()
		current, state := b.settled, b.state
		b.mu.RUnlock()
		if current == settled {
			return state, nil
		}
		settled = current
	}
}

// State returns the current state.
func (b *Boundary) State() State {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.state
}

// Err returns the failure detail, or nil unless failed.
func (b *Boundary) Err() *LoadError {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.loadErr
}

// Render re-renders a ready module with data under the boundary. An error or
// panic moves the boundary to failed. For any other state it returns the
// fallback view.
func (b *Boundary) Render(ctx context.Context, data any) View {
	b.mu.RLock()
	component := b.component
	gen := b.generation
	ready := b.state == StateReady
	b.mu.RUnlock()

	if !ready {
		return b.View()
	}

	html, err := b.render(ctx, component, data)

	b.mu.Lock()
	if gen == b.generation && b.state == StateReady {
		if err != nil {
			b.failLocked(ctx, asLoadError(b.name, PhaseRender, err))
		} else {
			b.html = html
		}
	}
	b.mu.Unlock()

	return b.View()
}

// View returns the slot content for the current state without rendering.
func (b *Boundary) View() View {
	b.mu.RLock()
	defer b.mu.RUnlock()

	v := View{
		Module:      b.name,
		DisplayName: b.displayName,
		State:       b.state,
		Generation:  b.generation,
	}

	switch b.state {
	case StatePending:
		v.Message = LoadingPrefix + b.displayName
	case StateFailed:
		v.Message = FailedPrefix + b.displayName
		if b.loadErr != nil {
			v.Error = b.loadErr.Err.Error()
			v.Phase = b.loadErr.Phase
		}
	case StateReady:
		v.HTML = b.html
	}

	return v
}
