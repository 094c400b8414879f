// Package redis persists queue state in Redis, for clients that share
// a durable store across hosts.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	backend "github.com/redis/go-redis/v9"

	"github.com/canopyhq/canopy/pkg/domain"
	"github.com/canopyhq/canopy/pkg/ports"
)

// Store implements ports.QueueStore using Redis.
type Store struct {
	client *backend.Client
	prefix string
	ttl    time.Duration
}

type Option func(*Store)

// WithTTL sets the expiration for persisted queue state.
func WithTTL(ttl time.Duration) Option {
	return func(s *Store) {
		s.ttl = ttl
	}
}

// WithPrefix sets the key prefix for queue state.
func WithPrefix(prefix string) Option {
	return func(s *Store) {
		s.prefix = prefix
	}
}

// New creates a new Redis store with options.
func New(address, password string, db int, opts ...Option) *Store {
	rdb := backend.NewClient(&backend.Options{
		Addr:     address,
		Password: password,
		DB:       db,
	})
	return NewFromClient(rdb, opts...)
}

// NewFromClient creates a new Redis store from an existing client.
func NewFromClient(client *backend.Client, opts ...Option) *Store {
	store := &Store{
		client: client,
		prefix: "canopy:queue:",
		ttl:    0, // No expiration by default
	}
	for _, opt := range opts {
		opt(store)
	}
	return store
}

func (s *Store) key(treeID string) string {
	return s.prefix + treeID
}

// Save persists the queue state to Redis.
func (s *Store) Save(ctx context.Context, treeID string, state *ports.QueueState) error {
	data, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("failed to marshal queue state: %w", err)
	}
	if err := s.client.Set(ctx, s.key(treeID), data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to save queue state: %w", err)
	}
	return nil
}

// Load retrieves the queue state from Redis.
func (s *Store) Load(ctx context.Context, treeID string) (*ports.QueueState, error) {
	data, err := s.client.Get(ctx, s.key(treeID)).Bytes()
	if err != nil {
		if err == backend.Nil {
			return nil, domain.ErrStateNotFound
		}
		return nil, fmt.Errorf("failed to load queue state: %w", err)
	}

	var state ports.QueueState
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("failed to unmarshal queue state: %w", err)
	}
	return &state, nil
}

// Delete removes the persisted state.
func (s *Store) Delete(ctx context.Context, treeID string) error {
	if err := s.client.Del(ctx, s.key(treeID)).Err(); err != nil {
		return fmt.Errorf("failed to delete queue state: %w", err)
	}
	return nil
}
