package clickhouse

import (
	"context"
	"fmt"
	"time"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

// JobResultStore implements storage.JobResultStore using ClickHouse.
type JobResultStore struct {
	conn *Conn
}

// NewJobResultStore creates a new JobResultStore.
func NewJobResultStore(conn *Conn) *JobResultStore {
	return &JobResultStore{conn: conn}
}

// Compile-time interface check.
var _ storage.JobResultStore = (*JobResultStore)(nil)

// InsertBulk appends records in one batch. Telemetry is append-only; rows
// are never deduplicated.
func (s *JobResultStore) InsertBulk(ctx context.Context, records []*domain.JobItemRecord) (err error) {
	if len(records) == 0 {
		return nil
	}
	for _, r := range records {
		if r == nil || r.CycleID == "" || r.JobID == "" {
			return storage.ErrInvalidInput
		}
	}

	start := time.Now()
	defer func() { observe("insert_job_results", start, err) }()

	batch, err := s.conn.PrepareBatch(ctx, `
		INSERT INTO job_item_results (
			cycle_id, job_id, calc_node_id, configuration, function_id,
			target, status, error, duration_nanos, executed_at
		)
	`)
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for _, r := range records {
		err = batch.Append(
			r.CycleID, r.JobID, r.CalcNodeID, r.Configuration, r.FunctionID,
			r.Target, r.Status, r.Error, r.DurationNanos, r.ExecutedAt.UTC(),
		)
		if err != nil {
			return fmt.Errorf("append to batch: %w", err)
		}
	}

	if err = batch.Send(); err != nil {
		return fmt.Errorf("send batch: %w", err)
	}
	return nil
}

// GetByCycle returns the records of one cycle ordered by job, then target.
func (s *JobResultStore) GetByCycle(ctx context.Context, cycleID string) (_ []*domain.JobItemRecord, err error) {
	start := time.Now()
	defer func() { observe("get_job_results", start, err) }()

	rows, err := s.conn.Query(ctx, `
		SELECT
			cycle_id, job_id, calc_node_id, configuration, function_id,
			target, status, error, duration_nanos, executed_at
		FROM job_item_results
		WHERE cycle_id = ?
		ORDER BY job_id ASC, target ASC
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("query job results: %w", err)
	}
	defer rows.Close()

	var result []*domain.JobItemRecord
	for rows.Next() {
		r := &domain.JobItemRecord{}
		if err = rows.Scan(
			&r.CycleID, &r.JobID, &r.CalcNodeID, &r.Configuration, &r.FunctionID,
			&r.Target, &r.Status, &r.Error, &r.DurationNanos, &r.ExecutedAt,
		); err != nil {
			return nil, fmt.Errorf("scan job result: %w", err)
		}
		result = append(result, r)
	}
	if err = rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate job results: %w", err)
	}
	return result, nil
}

// CountByStatus aggregates a cycle's items by status.
func (s *JobResultStore) CountByStatus(ctx context.Context, cycleID string) (map[string]uint64, error) {
	rows, err := s.conn.Query(ctx, `
		SELECT status, count() FROM job_item_results
		WHERE cycle_id = ?
		GROUP BY status
	`, cycleID)
	if err != nil {
		return nil, fmt.Errorf("count job results: %w", err)
	}
	defer rows.Close()

	counts := make(map[string]uint64)
	for rows.Next() {
		var status string
		var n uint64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan job result count: %w", err)
		}
		counts[status] = n
	}
	return counts, rows.Err()
}
