package memory

import (
	"context"
	"sort"
	"sync"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

// StatisticsStore is an in-memory implementation of storage.StatisticsStore.
type StatisticsStore struct {
	mu   sync.RWMutex
	data map[string]*domain.FunctionCosts // keyed by configuration|function
}

// NewStatisticsStore creates a new in-memory statistics store.
func NewStatisticsStore() *StatisticsStore {
	return &StatisticsStore{
		data: make(map[string]*domain.FunctionCosts),
	}
}

// Save upserts records.
func (s *StatisticsStore) Save(_ context.Context, records []*domain.FunctionCosts) error {
	for _, r := range records {
		if r == nil || r.FunctionID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		c := *r
		s.data[r.Configuration+"|"+r.FunctionID] = &c
	}
	return nil
}

// Load returns all records ordered by configuration, then function.
func (s *StatisticsStore) Load(_ context.Context) ([]*domain.FunctionCosts, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make([]*domain.FunctionCosts, 0, len(s.data))
	for _, r := range s.data {
		c := *r
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Configuration != result[j].Configuration {
			return result[i].Configuration < result[j].Configuration
		}
		return result[i].FunctionID < result[j].FunctionID
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.StatisticsStore = (*StatisticsStore)(nil)
