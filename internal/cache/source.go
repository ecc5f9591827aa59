package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"risk-view-engine/internal/idhash"
	"risk-view-engine/internal/storage"
)

// Source hands out computation caches per cycle and configuration and
// releases them when a cycle ends.
type Source struct {
	private storage.BinaryStore
	shared  storage.BinaryStore

	mu     sync.Mutex
	caches map[string]map[string]*ViewComputationCache
}

// NewSource creates a cache source. private is node-local; shared is visible
// to every calculation node of the cluster. They may be the same store.
func NewSource(private, shared storage.BinaryStore) *Source {
	return &Source{
		private: private,
		shared:  shared,
		caches:  make(map[string]map[string]*ViewComputationCache),
	}
}

// Cache returns the cache for (cycleID, configuration), creating it on first
// use.
func (s *Source) Cache(cycleID, configuration string) *ViewComputationCache {
	s.mu.Lock()
	defer s.mu.Unlock()

	byConfig, ok := s.caches[cycleID]
	if !ok {
		byConfig = make(map[string]*ViewComputationCache)
		s.caches[cycleID] = byConfig
	}
	c, ok := byConfig[configuration]
	if !ok {
		c = NewViewComputationCache(cycleID, configuration, s.private, s.shared)
		byConfig[configuration] = c
	}
	return c
}

// ReleaseCaches drops every cache of the cycle and deletes its entries from
// both stores.
func (s *Source) ReleaseCaches(ctx context.Context, cycleID string) error {
	s.mu.Lock()
	delete(s.caches, cycleID)
	s.mu.Unlock()

	prefix := idhash.CyclePrefix(cycleID)
	var errs []error
	if err := s.private.DeletePrefix(ctx, prefix); err != nil {
		errs = append(errs, fmt.Errorf("release private cache: %w", err))
	}
	if s.shared != s.private {
		if err := s.shared.DeletePrefix(ctx, prefix); err != nil {
			errs = append(errs, fmt.Errorf("release shared cache: %w", err))
		}
	}
	return errors.Join(errs...)
}
