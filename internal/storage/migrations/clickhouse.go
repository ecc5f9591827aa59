package migrations

import (
	"context"
	"fmt"
	"io/fs"
	"net/url"
	"strings"

	"go.uber.org/zap"

	chstore "risk-view-engine/internal/storage/clickhouse"
)

// RunClickhouseMigrations creates the DSN's database if needed and applies
// every embedded file. ClickHouse migrations must be idempotent. Returns a
// connection to the target database.
func RunClickhouseMigrations(ctx context.Context, dsn string, logger *zap.Logger) (*chstore.Conn, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	dbName, err := databaseFromDSN(dsn)
	if err != nil {
		return nil, err
	}

	adminConn, err := chstore.NewConnWithDatabase(ctx, dsn, "")
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse admin: %w", err)
	}
	if err := adminConn.Exec(ctx, fmt.Sprintf("CREATE DATABASE IF NOT EXISTS `%s`", dbName)); err != nil {
		adminConn.Close()
		return nil, fmt.Errorf("create database %s: %w", dbName, err)
	}
	if err := adminConn.Close(); err != nil {
		return nil, fmt.Errorf("close admin connection: %w", err)
	}

	conn, err := chstore.NewConnWithDatabase(ctx, dsn, dbName)
	if err != nil {
		return nil, fmt.Errorf("connect clickhouse db: %w", err)
	}
	if err := applyClickhouse(ctx, conn, ClickhouseFS, "clickhouse", logger); err != nil {
		conn.Close()
		return nil, err
	}
	return conn, nil
}

type execer interface {
	Exec(ctx context.Context, query string, args ...any) error
}

func applyClickhouse(ctx context.Context, conn execer, fsys fs.FS, dir string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	files, err := migrationFiles(fsys, dir)
	if err != nil {
		return err
	}
	for _, file := range files {
		data, err := fs.ReadFile(fsys, dir+"/"+file)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", file, err)
		}
		stmts, err := splitStatements(string(data))
		if err != nil {
			return fmt.Errorf("parse migration %s: %w", file, err)
		}
		// The native protocol runs one statement per Exec.
		for _, stmt := range stmts {
			if err := conn.Exec(ctx, stmt); err != nil {
				return fmt.Errorf("apply migration %s: %w", file, err)
			}
		}
		logger.Info("applied clickhouse migration", zap.String("file", file), zap.Int("statements", len(stmts)))
	}
	return nil
}

// splitStatements splits SQL on semicolons outside single-quoted literals
// and drops "--" line comments.
func splitStatements(sql string) ([]string, error) {
	var (
		stmts   []string
		current strings.Builder
		quoted  bool
	)
	flush := func() {
		if s := strings.TrimSpace(current.String()); s != "" {
			stmts = append(stmts, s)
		}
		current.Reset()
	}

	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case quoted:
			current.WriteByte(ch)
			if ch == '\'' {
				if i+1 < len(sql) && sql[i+1] == '\'' {
					current.WriteByte('\'')
					i++
					continue
				}
				quoted = false
			}
		case ch == '\'':
			quoted = true
			current.WriteByte(ch)
		case ch == '-' && i+1 < len(sql) && sql[i+1] == '-':
			for i < len(sql) && sql[i] != '\n' {
				i++
			}
			current.WriteByte('\n')
		case ch == ';':
			flush()
		default:
			current.WriteByte(ch)
		}
	}
	if quoted {
		return nil, fmt.Errorf("unterminated string literal")
	}
	flush()
	return stmts, nil
}

func databaseFromDSN(dsn string) (string, error) {
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("parse clickhouse dsn: %w", err)
	}
	db := strings.TrimPrefix(u.Path, "/")
	if db == "" {
		return "", fmt.Errorf("clickhouse dsn missing database")
	}
	return db, nil
}
