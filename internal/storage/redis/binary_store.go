// Package redis provides a Redis-backed shared store for the computation cache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"risk-view-engine/internal/storage"
)

// scanBatch is the COUNT hint used when scanning keys for deletion.
const scanBatch = 500

// BinaryStore implements storage.BinaryStore using Redis.
type BinaryStore struct {
	client *redis.Client
	ttl    time.Duration
}

// NewBinaryStore connects to Redis and pings it. ttl bounds the lifetime of
// entries whose cycle is never released; zero keeps them until deleted.
func NewBinaryStore(ctx context.Context, addr string, db int, ttl time.Duration) (*BinaryStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr: addr,
		DB:   db,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("ping redis %s: %w", addr, err)
	}
	return &BinaryStore{client: client, ttl: ttl}, nil
}

// NewBinaryStoreWithClient wraps an existing client.
func NewBinaryStoreWithClient(client *redis.Client, ttl time.Duration) *BinaryStore {
	return &BinaryStore{client: client, ttl: ttl}
}

// Get returns the value stored under key.
func (s *BinaryStore) Get(ctx context.Context, key string) ([]byte, error) {
	data, err := s.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("redis get %s: %w", key, err)
	}
	return data, nil
}

// Put stores all entries in one pipeline.
func (s *BinaryStore) Put(ctx context.Context, entries map[string][]byte) error {
	if len(entries) == 0 {
		return nil
	}

	pipe := s.client.Pipeline()
	for key, value := range entries {
		pipe.Set(ctx, key, value, s.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("redis put %d entries: %w", len(entries), err)
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (s *BinaryStore) DeletePrefix(ctx context.Context, prefix string) error {
	iter := s.client.Scan(ctx, 0, prefix+"*", scanBatch).Iterator()

	batch := make([]string, 0, scanBatch)
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) == scanBatch {
			if err := s.client.Del(ctx, batch...).Err(); err != nil {
				return fmt.Errorf("redis delete %s*: %w", prefix, err)
			}
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("redis scan %s*: %w", prefix, err)
	}
	if len(batch) > 0 {
		if err := s.client.Del(ctx, batch...).Err(); err != nil {
			return fmt.Errorf("redis delete %s*: %w", prefix, err)
		}
	}
	return nil
}

// Close closes the client.
func (s *BinaryStore) Close() error {
	return s.client.Close()
}

var _ storage.BinaryStore = (*BinaryStore)(nil)
