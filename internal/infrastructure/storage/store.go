// Package storage provides the single-slot key/value stores the aggregator
// persists its product collection to.
package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/lllypuk/dashhost/internal/domain/errs"
)

// Storage types accepted by the configuration.
const (
	TypeMemory  = "memory"
	TypeFile    = "file"
	TypeRedis   = "redis"
	TypeMongoDB = "mongodb"
)

// Store reads and writes one serialized value. Load returns errs.ErrNotFound
// when nothing has been saved yet.
type Store interface {
	Load(ctx context.Context) (string, error)
	Save(ctx context.Context, value string) error
}

// MemoryStore keeps the slot in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	value string
	set   bool
}

// NewMemoryStore creates an empty memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// NewMemoryStoreWith creates a memory store holding value.
func NewMemoryStoreWith(value string) *MemoryStore {
	return &MemoryStore{value: value, set: true}
}

// Load implements Store.
func (s *MemoryStore) Load(_ context.Context) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if !s.set {
		return "", fmt.Errorf("memory slot: %w", errs.ErrNotFound)
	}
	return s.value, nil
}

// Save implements Store.
func (s *MemoryStore) Save(_ context.Context, value string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.value = value
	s.set = true
	return nil
}
