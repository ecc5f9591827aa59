package postgres

import (
	"context"
	"fmt"
	"time"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

// SecurityStore implements storage.SecurityMaster using PostgreSQL.
type SecurityStore struct {
	pool *Pool
}

// NewSecurityStore creates a new SecurityStore.
func NewSecurityStore(pool *Pool) *SecurityStore {
	return &SecurityStore{pool: pool}
}

// Compile-time interface check.
var _ storage.SecurityMaster = (*SecurityStore)(nil)

// InsertSecurity adds a security. Returns ErrDuplicateKey if the id exists.
func (s *SecurityStore) InsertSecurity(ctx context.Context, sec *domain.Security) (err error) {
	if sec == nil || sec.ID.IsZero() {
		return storage.ErrInvalidInput
	}
	start := time.Now()
	defer func() { observe("insert_security", start, err) }()

	identifiers := sec.Identifiers
	if identifiers == nil {
		identifiers = map[string]string{}
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO securities (id, name, security_type, currency, identifiers)
		VALUES ($1, $2, $3, $4, $5)
	`, sec.ID.String(), sec.Name, sec.SecurityType, sec.Currency, identifiers)
	if err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return fmt.Errorf("insert security: %w", err)
	}
	return nil
}

// GetSecurity retrieves a security by id. Returns ErrNotFound if not exists.
func (s *SecurityStore) GetSecurity(ctx context.Context, id domain.UniqueID) (_ *domain.Security, err error) {
	start := time.Now()
	defer func() { observe("get_security", start, err) }()

	var (
		rawID string
		sec   domain.Security
	)
	err = s.pool.QueryRow(ctx, `
		SELECT id, name, security_type, currency, identifiers
		FROM securities
		WHERE id = $1
	`, id.String()).Scan(&rawID, &sec.Name, &sec.SecurityType, &sec.Currency, &sec.Identifiers)
	if err != nil {
		if isNotFoundError(err) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("get security: %w", err)
	}
	if sec.ID, err = parseID(rawID); err != nil {
		return nil, fmt.Errorf("get security: %w", err)
	}
	if len(sec.Identifiers) == 0 {
		sec.Identifiers = nil
	}
	return &sec, nil
}
