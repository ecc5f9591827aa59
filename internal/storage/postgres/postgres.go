// Package postgres implements the security master, position master and
// statistics store on PostgreSQL.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/observability"
	"risk-view-engine/internal/storage"
)

// Pool is the shared connection pool of every store in this package.
type Pool struct {
	*pgxpool.Pool
}

// PoolOption tunes the pool before it connects.
type PoolOption func(*pgxpool.Config)

// WithMaxConns caps the number of open connections.
func WithMaxConns(n int32) PoolOption {
	return func(c *pgxpool.Config) {
		if n > 0 {
			c.MaxConns = n
		}
	}
}

// NewPool connects to dsn and pings the server.
func NewPool(ctx context.Context, dsn string, opts ...PoolOption) (*Pool, error) {
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	for _, opt := range opts {
		opt(cfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, fmt.Errorf("connect to postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &Pool{Pool: pool}, nil
}

// inTx runs fn in a transaction, committing only if fn succeeds. A unique
// violation anywhere in fn becomes storage.ErrDuplicateKey.
func (p *Pool) inTx(ctx context.Context, fn func(pgx.Tx) error) error {
	tx, err := p.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		if isDuplicateKeyError(err) {
			return storage.ErrDuplicateKey
		}
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

const pgErrUniqueViolation = "23505"

func isDuplicateKeyError(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgErrUniqueViolation
}

func isNotFoundError(err error) bool {
	return errors.Is(err, pgx.ErrNoRows)
}

// observe records a query; a miss is a normal outcome, not an error.
func observe(operation string, start time.Time, err error) {
	if isNotFoundError(err) || errors.Is(err, storage.ErrNotFound) {
		err = nil
	}
	observability.RecordDBQuery("postgres", operation, time.Since(start).Seconds(), err)
}

// parseID parses a stored "Scheme~Value" identifier. Empty input is the
// zero identifier.
func parseID(s string) (domain.UniqueID, error) {
	if s == "" {
		return domain.UniqueID{}, nil
	}
	return domain.ParseUniqueID(s)
}

// nullableID maps the zero identifier to SQL NULL.
func nullableID(id domain.UniqueID) *string {
	if id.IsZero() {
		return nil
	}
	s := id.String()
	return &s
}
