package memory

import (
	"context"
	"sync"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

// SecurityStore is an in-memory implementation of storage.SecurityMaster.
type SecurityStore struct {
	mu   sync.RWMutex
	data map[domain.UniqueID]*domain.Security
}

// NewSecurityStore creates a new in-memory security store.
func NewSecurityStore() *SecurityStore {
	return &SecurityStore{
		data: make(map[domain.UniqueID]*domain.Security),
	}
}

// InsertSecurity adds a security. Returns ErrDuplicateKey if the id exists.
func (s *SecurityStore) InsertSecurity(_ context.Context, sec *domain.Security) error {
	if sec == nil || sec.ID.IsZero() {
		return storage.ErrInvalidInput
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data[sec.ID]; exists {
		return storage.ErrDuplicateKey
	}
	s.data[sec.ID] = sec.Clone()
	return nil
}

// GetSecurity retrieves a security by id. Returns ErrNotFound if not exists.
func (s *SecurityStore) GetSecurity(_ context.Context, id domain.UniqueID) (*domain.Security, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sec, exists := s.data[id]
	if !exists {
		return nil, storage.ErrNotFound
	}
	return sec.Clone(), nil
}

// Verify interface compliance at compile time.
var _ storage.SecurityMaster = (*SecurityStore)(nil)
