package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

// StatisticsStore implements storage.StatisticsStore using PostgreSQL.
type StatisticsStore struct {
	pool *Pool
}

// NewStatisticsStore creates a new StatisticsStore.
func NewStatisticsStore(pool *Pool) *StatisticsStore {
	return &StatisticsStore{pool: pool}
}

// Compile-time interface check.
var _ storage.StatisticsStore = (*StatisticsStore)(nil)

// Save upserts all records in one transaction.
func (s *StatisticsStore) Save(ctx context.Context, records []*domain.FunctionCosts) (err error) {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.FunctionID == "" {
			return storage.ErrInvalidInput
		}
	}
	start := time.Now()
	defer func() { observe("save_statistics", start, err) }()

	return s.pool.inTx(ctx, func(tx pgx.Tx) error {
		for _, r := range records {
			updated := r.UpdatedAt
			if updated.IsZero() {
				updated = time.Now()
			}
			if _, err := tx.Exec(ctx, `
				INSERT INTO function_statistics (
					configuration, function_id, invocation_cost, data_input_cost, data_output_cost, updated_at
				) VALUES ($1, $2, $3, $4, $5, $6)
				ON CONFLICT (configuration, function_id) DO UPDATE SET
					invocation_cost = EXCLUDED.invocation_cost,
					data_input_cost = EXCLUDED.data_input_cost,
					data_output_cost = EXCLUDED.data_output_cost,
					updated_at = EXCLUDED.updated_at
			`, r.Configuration, r.FunctionID, r.InvocationCost, r.DataInputCost, r.DataOutputCost, updated.UTC()); err != nil {
				return fmt.Errorf("upsert statistics %s/%s: %w", r.Configuration, r.FunctionID, err)
			}
		}
		return nil
	})
}

// Load returns all records ordered by configuration, then function.
func (s *StatisticsStore) Load(ctx context.Context) (_ []*domain.FunctionCosts, err error) {
	start := time.Now()
	defer func() { observe("load_statistics", start, err) }()

	rows, err := s.pool.Query(ctx, `
		SELECT configuration, function_id, invocation_cost, data_input_cost, data_output_cost, updated_at
		FROM function_statistics
		ORDER BY configuration ASC, function_id ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("load statistics: %w", err)
	}
	defer rows.Close()

	var result []*domain.FunctionCosts
	for rows.Next() {
		r := &domain.FunctionCosts{}
		if err = rows.Scan(&r.Configuration, &r.FunctionID, &r.InvocationCost,
			&r.DataInputCost, &r.DataOutputCost, &r.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scan statistics: %w", err)
		}
		result = append(result, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate statistics: %w", err)
	}
	return result, nil
}
