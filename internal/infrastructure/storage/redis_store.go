package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/lllypuk/dashhost/internal/domain/errs"
)

// RedisStore keeps the slot under a single Redis key with no expiry.
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore creates a store for key.
func NewRedisStore(client *redis.Client, key string) *RedisStore {
	return &RedisStore{client: client, key: key}
}

// Load implements Store.
func (s *RedisStore) Load(ctx context.Context) (string, error) {
	value, err := s.client.Get(ctx, s.key).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return "", fmt.Errorf("redis slot %s: %w", s.key, errs.ErrNotFound)
		}
		return "", fmt.Errorf("failed to get redis slot: %w", err)
	}
	return value, nil
}

// Save implements Store.
func (s *RedisStore) Save(ctx context.Context, value string) error {
	if err := s.client.Set(ctx, s.key, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to set redis slot: %w", err)
	}
	return nil
}
