package stats

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"risk-view-engine/internal/storage"
)

// Persister moves estimates between a Store and a storage.StatisticsStore.
type Persister struct {
	store    *Store
	backend  storage.StatisticsStore
	interval time.Duration
	logger   *zap.Logger
}

// NewPersister creates a Persister flushing every interval.
func NewPersister(store *Store, backend storage.StatisticsStore, interval time.Duration, logger *zap.Logger) *Persister {
	if logger == nil {
		logger = zap.NewNop()
	}
	if interval <= 0 {
		interval = time.Minute
	}
	return &Persister{store: store, backend: backend, interval: interval, logger: logger}
}

// Restore loads persisted estimates into the store.
func (p *Persister) Restore(ctx context.Context) (int, error) {
	records, err := p.backend.Load(ctx)
	if err != nil {
		return 0, fmt.Errorf("load statistics: %w", err)
	}
	p.store.Load(records)
	p.logger.Info("restored function statistics", zap.Int("records", len(records)))
	return len(records), nil
}

// Flush writes the current estimates to the backend.
func (p *Persister) Flush(ctx context.Context) error {
	records := p.store.Snapshot()
	if len(records) == 0 {
		return nil
	}
	if err := p.backend.Save(ctx, records); err != nil {
		return fmt.Errorf("save statistics: %w", err)
	}
	p.logger.Debug("flushed function statistics", zap.Int("records", len(records)))
	return nil
}

// Run flushes periodically until ctx is done, then flushes once more.
func (p *Persister) Run(ctx context.Context) {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			flushCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			if err := p.Flush(flushCtx); err != nil {
				p.logger.Warn("final statistics flush failed", zap.Error(err))
			}
			cancel()
			return
		case <-ticker.C:
			if err := p.Flush(ctx); err != nil {
				p.logger.Warn("statistics flush failed", zap.Error(err))
			}
		}
	}
}
