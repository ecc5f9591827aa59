package memory

import (
	"context"
	"sync"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

// MarketDataStore is an in-memory implementation of storage.MarketDataSource.
type MarketDataStore struct {
	mu   sync.RWMutex
	data map[string]domain.ComputedValue // keyed by ValueSpecification.Key()
}

// NewMarketDataStore creates a new in-memory market data store.
func NewMarketDataStore() *MarketDataStore {
	return &MarketDataStore{
		data: make(map[string]domain.ComputedValue),
	}
}

// Put sets (or replaces) a market data value.
func (s *MarketDataStore) Put(spec domain.ValueSpecification, value any) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.data[spec.Key()] = domain.ComputedValue{Specification: spec, Value: value}
}

// Snapshot returns the stored values for the requested specifications.
func (s *MarketDataStore) Snapshot(_ context.Context, specs []domain.ValueSpecification) ([]domain.ComputedValue, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]domain.ComputedValue, 0, len(specs))
	for _, spec := range specs {
		if v, ok := s.data[spec.Key()]; ok {
			result = append(result, v)
		}
	}
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.MarketDataSource = (*MarketDataStore)(nil)
