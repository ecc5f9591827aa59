package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"strings"

	"go.uber.org/zap"

	"risk-view-engine/internal/storage/postgres"
)

const createLedger = `
	CREATE TABLE IF NOT EXISTS schema_migrations (
		name        TEXT PRIMARY KEY,
		applied_at  TIMESTAMPTZ NOT NULL DEFAULT now()
	)
`

// RunPostgresMigrations applies the embedded files not yet recorded in
// schema_migrations, each in its own transaction. Returns the applied names.
func RunPostgresMigrations(ctx context.Context, pool *postgres.Pool, logger *zap.Logger) ([]string, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if _, err := pool.Exec(ctx, createLedger); err != nil {
		return nil, fmt.Errorf("create migration ledger: %w", err)
	}

	files, err := migrationFiles(PostgresFS, "postgres")
	if err != nil {
		return nil, err
	}

	var applied []string
	for _, file := range files {
		var done bool
		if err := pool.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)`, file,
		).Scan(&done); err != nil {
			return applied, fmt.Errorf("check migration %s: %w", file, err)
		}
		if done {
			continue
		}

		data, err := fs.ReadFile(PostgresFS, "postgres/"+file)
		if err != nil {
			return applied, fmt.Errorf("read migration %s: %w", file, err)
		}
		if err := applyPostgres(ctx, pool, file, string(data)); err != nil {
			return applied, err
		}
		logger.Info("applied postgres migration", zap.String("file", file))
		applied = append(applied, file)
	}
	return applied, nil
}

func applyPostgres(ctx context.Context, pool *postgres.Pool, file, sql string) error {
	tx, err := pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin migration %s: %w", file, err)
	}
	defer tx.Rollback(ctx)

	if strings.TrimSpace(sql) != "" {
		if _, err := tx.Exec(ctx, sql); err != nil {
			return fmt.Errorf("apply migration %s: %w", file, err)
		}
	}
	if _, err := tx.Exec(ctx, `INSERT INTO schema_migrations (name) VALUES ($1)`, file); err != nil {
		return fmt.Errorf("record migration %s: %w", file, err)
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit migration %s: %w", file, err)
	}
	return nil
}
