// Package badger persists function statistics in an embedded BadgerDB so a
// calculation node keeps its cost estimates across restarts without a
// database server.
package badger

import (
	"errors"
	"fmt"
	"os"

	"github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

// Config holds configuration for a BadgerDB instance.
type Config struct {
	// Path is the database directory. Ignored when InMemory is set.
	Path string

	// InMemory keeps everything in RAM; used by tests.
	InMemory bool

	// SyncWrites fsyncs every write.
	SyncWrites bool

	// Logger receives BadgerDB's internal logging. Nil disables it.
	Logger *zap.Logger
}

// Open creates and opens a BadgerDB instance.
func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}

	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&zapLogger{s: cfg.Logger.Named("badger").Sugar()})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// zapLogger adapts zap to badger.Logger.
type zapLogger struct {
	s *zap.SugaredLogger
}

func (l *zapLogger) Errorf(format string, args ...interface{})   { l.s.Errorf(format, args...) }
func (l *zapLogger) Warningf(format string, args ...interface{}) { l.s.Warnf(format, args...) }
func (l *zapLogger) Infof(format string, args ...interface{})    { l.s.Infof(format, args...) }
func (l *zapLogger) Debugf(format string, args ...interface{})   { l.s.Debugf(format, args...) }
