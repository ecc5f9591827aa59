package memory

import (
	"context"
	"strings"
	"sync"

	"risk-view-engine/internal/storage"
)

// BinaryStore is an in-memory implementation of storage.BinaryStore.
type BinaryStore struct {
	mu   sync.RWMutex
	data map[string][]byte
}

// NewBinaryStore creates a new in-memory binary store.
func NewBinaryStore() *BinaryStore {
	return &BinaryStore{
		data: make(map[string][]byte),
	}
}

// Get returns a copy of the stored bytes. Returns ErrNotFound if absent.
func (s *BinaryStore) Get(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	v, ok := s.data[key]
	if !ok {
		return nil, storage.ErrNotFound
	}
	out := make([]byte, len(v))
	copy(out, v)
	return out, nil
}

// Put stores copies of all entries.
func (s *BinaryStore) Put(_ context.Context, entries map[string][]byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k, v := range entries {
		c := make([]byte, len(v))
		copy(c, v)
		s.data[k] = c
	}
	return nil
}

// DeletePrefix removes every key starting with prefix.
func (s *BinaryStore) DeletePrefix(_ context.Context, prefix string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for k := range s.data {
		if strings.HasPrefix(k, prefix) {
			delete(s.data, k)
		}
	}
	return nil
}

// Len returns the number of stored keys.
func (s *BinaryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.data)
}

// Verify interface compliance at compile time.
var _ storage.BinaryStore = (*BinaryStore)(nil)
