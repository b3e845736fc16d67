package remote

import (
	"context"
	"sync"
)

// Registry holds one boundary per configured remote module, in
// registration order.
type Registry struct {
	mu         sync.RWMutex
	boundaries map[string]*Boundary
	order      []string
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{boundaries: make(map[string]*Boundary)}
}

// Register adds b, replacing any boundary with the same name.
func (r *Registry) Register(b *Boundary) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.boundaries[b.Name()]; ok {
		old.Close()
	} else {
		r.order = append(r.order, b.Name())
	}
	r.boundaries[b.Name()] = b
}

// Get returns the boundary for name.
func (r *Registry) Get(name string) (*Boundary, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	b, ok := r.boundaries[name]
	return b, ok
}

// All returns every boundary in registration order.
func (r *Registry) All() []*Boundary {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Boundary, 0, len(r.order))
	for _, name := range r.order {
		out = append(out, r.boundaries[name])
	}
	return out
}

// MountAll mounts every registered boundary.
func (r *Registry) MountAll(ctx context.Context) {
	for _, b := range r.All() {
		b.Mount(ctx)
	}
}

// Views returns the current view of every boundary.
func (r *Registry) Views() []View {
	all := r.All()
	views := make([]View, 0, len(all))
	for _, b := range all {
		views = append(views, b.View())
	}
	return views
}

// Close cancels every load in flight.
func (r *Registry) Close() {
	for _, b := range r.All() {
		b.Close()
	}
}
