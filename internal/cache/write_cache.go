package cache

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.uber.org/zap"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/observability"
	"risk-view-engine/internal/stats"
)

// ErrClosed is returned when writing to a closed deferred cache.
var ErrClosed = errors.New("write cache closed")

// WriteCache is the view of the computation cache handed to a calculation
// node. Writes go to the placement chosen by the cache's hint and report the
// encoded size of each value to the invocation's statistics.
type WriteCache interface {
	// GetValue reads a value, consulting the hinted store first.
	GetValue(ctx context.Context, spec domain.ValueSpecification) (domain.ComputedValue, bool, error)

	// PutValues stores the outputs of one invocation. statistics may be nil.
	PutValues(ctx context.Context, values []domain.ComputedValue, statistics *stats.DeferredInvocationStatistics) error

	// WaitForPendingWrites blocks until every write issued before the call
	// has landed, returning the first write failure since the last barrier.
	WaitForPendingWrites(ctx context.Context) error
}

// WriteError reports values a deferred write failed to store.
type WriteError struct {
	Failed []domain.ValueSpecification
	Err    error
}

func (e *WriteError) Error() string {
	names := make([]string, 0, len(e.Failed))
	for _, s := range e.Failed {
		names = append(names, s.String())
	}
	return fmt.Sprintf("write %s: %v", strings.Join(names, ", "), e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// ImmediateWriteCache writes synchronously.
type ImmediateWriteCache struct {
	cache *ViewComputationCache
	hint  CacheSelectHint
}

// NewImmediateWriteCache creates a synchronous write cache.
func NewImmediateWriteCache(cache *ViewComputationCache, hint CacheSelectHint) *ImmediateWriteCache {
	return &ImmediateWriteCache{cache: cache, hint: hint}
}

// GetValue implements WriteCache.
func (w *ImmediateWriteCache) GetValue(ctx context.Context, spec domain.ValueSpecification) (domain.ComputedValue, bool, error) {
	return w.cache.getValue(ctx, spec, w.hint.IsPrivate(spec))
}

// PutValues writes the values and then reports each encoded size.
func (w *ImmediateWriteCache) PutValues(ctx context.Context, values []domain.ComputedValue, statistics *stats.DeferredInvocationStatistics) error {
	sizes, err := w.cache.PutValues(ctx, values, w.hint)
	if err != nil {
		return &WriteError{Failed: specsOf(values), Err: err}
	}
	if statistics != nil {
		for _, size := range sizes {
			statistics.AddDataOutputBytes(size)
		}
	}
	return nil
}

// WaitForPendingWrites returns immediately; every write has already landed.
func (w *ImmediateWriteCache) WaitForPendingWrites(context.Context) error {
	return nil
}

type writeBatch struct {
	values     []domain.ComputedValue
	statistics *stats.DeferredInvocationStatistics
}

// DeferredWriteCache queues writes for a background writer. A value put but
// not yet landed may be invisible to readers until WaitForPendingWrites.
type DeferredWriteCache struct {
	cache  *ViewComputationCache
	hint   CacheSelectHint
	logger *zap.Logger

	queue chan writeBatch

	// closeMu orders sends on queue against closing it.
	closeMu sync.RWMutex
	closed  bool

	mu      sync.Mutex
	pending int
	idle    chan struct{}
	failed  []domain.ValueSpecification
	errs    []error

	wg sync.WaitGroup
}

// NewDeferredWriteCache creates a deferred write cache and starts its writer.
// queueSize bounds how many batches may wait before PutValues blocks.
func NewDeferredWriteCache(cache *ViewComputationCache, hint CacheSelectHint, queueSize int, logger *zap.Logger) *DeferredWriteCache {
	if queueSize <= 0 {
		queueSize = 64
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &DeferredWriteCache{
		cache:  cache,
		hint:   hint,
		logger: logger,
		queue:  make(chan writeBatch, queueSize),
	}
	w.wg.Add(1)
	go w.writeLoop()
	return w
}

// GetValue implements WriteCache.
func (w *DeferredWriteCache) GetValue(ctx context.Context, spec domain.ValueSpecification) (domain.ComputedValue, bool, error) {
	return w.cache.getValue(ctx, spec, w.hint.IsPrivate(spec))
}

// PutValues enqueues the values. Sizes are reported to statistics by the
// writer once the write lands.
func (w *DeferredWriteCache) PutValues(ctx context.Context, values []domain.ComputedValue, statistics *stats.DeferredInvocationStatistics) error {
	if len(values) == 0 {
		return nil
	}

	w.closeMu.RLock()
	defer w.closeMu.RUnlock()
	if w.closed {
		return ErrClosed
	}

	w.mu.Lock()
	if w.pending == 0 {
		w.idle = make(chan struct{})
	}
	w.pending++
	w.mu.Unlock()
	observability.DefaultMetrics.CachePendingWrites.Inc()

	batch := writeBatch{values: values, statistics: statistics}
	select {
	case w.queue <- batch:
		return nil
	case <-ctx.Done():
		w.done()
		return ctx.Err()
	}
}

// WaitForPendingWrites implements WriteCache.
func (w *DeferredWriteCache) WaitForPendingWrites(ctx context.Context) error {
	for {
		w.mu.Lock()
		if w.pending == 0 {
			err := w.takeError()
			w.mu.Unlock()
			return err
		}
		idle := w.idle
		w.mu.Unlock()

		select {
		case <-idle:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close drains the queue and stops the writer.
func (w *DeferredWriteCache) Close() error {
	w.closeMu.Lock()
	if w.closed {
		w.closeMu.Unlock()
		return nil
	}
	w.closed = true
	close(w.queue)
	w.closeMu.Unlock()

	w.wg.Wait()

	w.mu.Lock()
	defer w.mu.Unlock()
	return w.takeError()
}

func (w *DeferredWriteCache) writeLoop() {
	defer w.wg.Done()

	for batch := range w.queue {
		sizes, err := w.cache.PutValues(context.Background(), batch.values, w.hint)
		if err != nil {
			w.logger.Warn("deferred cache write failed",
				zap.String("cycle", w.cache.CycleID()),
				zap.Int("values", len(batch.values)),
				zap.Error(err))
			w.mu.Lock()
			w.failed = append(w.failed, specsOf(batch.values)...)
			w.errs = append(w.errs, err)
			w.mu.Unlock()
		} else if batch.statistics != nil {
			for _, size := range sizes {
				batch.statistics.AddDataOutputBytes(size)
			}
		}
		w.done()
	}
}

func (w *DeferredWriteCache) done() {
	observability.DefaultMetrics.CachePendingWrites.Dec()
	w.mu.Lock()
	w.pending--
	if w.pending == 0 {
		close(w.idle)
	}
	w.mu.Unlock()
}

// takeError returns and clears the accumulated failures. Caller holds mu.
func (w *DeferredWriteCache) takeError() error {
	if len(w.errs) == 0 {
		return nil
	}
	err := &WriteError{Failed: w.failed, Err: errors.Join(w.errs...)}
	w.failed, w.errs = nil, nil
	return err
}

func specsOf(values []domain.ComputedValue) []domain.ValueSpecification {
	out := make([]domain.ValueSpecification, len(values))
	for i, v := range values {
		out[i] = v.Specification
	}
	return out
}

var (
	_ WriteCache = (*ImmediateWriteCache)(nil)
	_ WriteCache = (*DeferredWriteCache)(nil)
)
