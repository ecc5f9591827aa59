// Package storage defines the sources and stores the engine reads from and
// writes to. Backends live in the subpackages.
package storage

import (
	"context"
	"errors"

	"risk-view-engine/internal/domain"
)

// Sentinels every backend maps its native errors to.
var (
	ErrNotFound     = errors.New("not found")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrInvalidInput = errors.New("invalid input")
)

// SecuritySource looks up securities by identifier.
type SecuritySource interface {
	// GetSecurity returns ErrNotFound if the security does not exist.
	GetSecurity(ctx context.Context, id domain.UniqueID) (*domain.Security, error)
}

// SecurityMaster is a writable SecuritySource.
type SecurityMaster interface {
	SecuritySource

	// InsertSecurity adds a security. Returns ErrDuplicateKey if the id exists.
	InsertSecurity(ctx context.Context, s *domain.Security) error
}

// PositionSource looks up positions, trades and portfolio structure.
// All lookups return ErrNotFound when the entity does not exist.
type PositionSource interface {
	GetPosition(ctx context.Context, id domain.UniqueID) (*domain.Position, error)
	GetTrade(ctx context.Context, id domain.UniqueID) (*domain.Trade, error)

	// GetPortfolioNode returns the node with its full subtree.
	GetPortfolioNode(ctx context.Context, id domain.UniqueID) (*domain.PortfolioNode, error)

	// GetPortfolio returns the portfolio with its root node and full tree.
	GetPortfolio(ctx context.Context, id domain.UniqueID) (*domain.Portfolio, error)
}

// PositionMaster is a writable PositionSource.
type PositionMaster interface {
	PositionSource

	// InsertPortfolio stores the portfolio and every node, position and trade
	// under it. Returns ErrDuplicateKey if any identifier exists.
	InsertPortfolio(ctx context.Context, p *domain.Portfolio) error
}

// MarketDataSource provides market data leaves of the dependency graph.
type MarketDataSource interface {
	// Snapshot returns the available values for the requested specifications.
	// Missing values are omitted, not reported as errors.
	Snapshot(ctx context.Context, specs []domain.ValueSpecification) ([]domain.ComputedValue, error)
}

// StatisticsStore persists function cost estimates.
type StatisticsStore interface {
	// Save upserts the records; the latest write per (configuration, function) wins.
	Save(ctx context.Context, records []*domain.FunctionCosts) error

	// Load returns all stored records.
	Load(ctx context.Context) ([]*domain.FunctionCosts, error)
}

// JobResultStore persists per-item execution telemetry.
type JobResultStore interface {
	// InsertBulk appends records. Empty input is a no-op.
	InsertBulk(ctx context.Context, records []*domain.JobItemRecord) error

	// GetByCycle returns the records of one cycle ordered by job then target.
	GetByCycle(ctx context.Context, cycleID string) ([]*domain.JobItemRecord, error)
}

// BinaryStore is a key/value byte store backing the computation cache.
type BinaryStore interface {
	// Get returns ErrNotFound when the key is absent.
	Get(ctx context.Context, key string) ([]byte, error)

	// Put stores all entries.
	Put(ctx context.Context, entries map[string][]byte) error

	// DeletePrefix removes every key starting with prefix.
	DeletePrefix(ctx context.Context, prefix string) error
}
