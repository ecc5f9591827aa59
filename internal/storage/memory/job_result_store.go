package memory

import (
	"context"
	"sort"
	"sync"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

// JobResultStore is an in-memory implementation of storage.JobResultStore.
type JobResultStore struct {
	mu   sync.RWMutex
	data map[string][]*domain.JobItemRecord // keyed by cycle_id
}

// NewJobResultStore creates a new in-memory job result store.
func NewJobResultStore() *JobResultStore {
	return &JobResultStore{
		data: make(map[string][]*domain.JobItemRecord),
	}
}

// InsertBulk appends records.
func (s *JobResultStore) InsertBulk(_ context.Context, records []*domain.JobItemRecord) error {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.CycleID == "" || r.JobID == "" {
			return storage.ErrInvalidInput
		}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range records {
		c := *r
		s.data[r.CycleID] = append(s.data[r.CycleID], &c)
	}
	return nil
}

// GetByCycle returns the records of one cycle ordered by job, then target.
func (s *JobResultStore) GetByCycle(_ context.Context, cycleID string) ([]*domain.JobItemRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	records := s.data[cycleID]
	result := make([]*domain.JobItemRecord, 0, len(records))
	for _, r := range records {
		c := *r
		result = append(result, &c)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].JobID != result[j].JobID {
			return result[i].JobID < result[j].JobID
		}
		return result[i].Target < result[j].Target
	})
	return result, nil
}

// Verify interface compliance at compile time.
var _ storage.JobResultStore = (*JobResultStore)(nil)
