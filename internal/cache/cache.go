// Package cache implements the view computation cache shared by calculation
// nodes within a cycle.
//
// Values are encoded once with the value codec. Each value lives in either a
// node-local private store or a cluster-wide shared store, chosen by a
// CacheSelectHint. Reads consult both stores so placement never changes what
// a reader sees.
package cache

import (
	"context"
	"errors"
	"fmt"

	"risk-view-engine/internal/codec"
	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/idhash"
	"risk-view-engine/internal/observability"
	"risk-view-engine/internal/storage"
)

const (
	placementPrivate = "private"
	placementShared  = "shared"
)

// ComputationCache holds the values of one cycle and calculation
// configuration.
type ComputationCache interface {
	// GetValue returns the value for spec and whether it was found.
	GetValue(ctx context.Context, spec domain.ValueSpecification) (domain.ComputedValue, bool, error)

	// GetValues returns the values found for specs; misses are omitted.
	GetValues(ctx context.Context, specs []domain.ValueSpecification) ([]domain.ComputedValue, error)

	// PutValue stores one value and returns its encoded size.
	PutValue(ctx context.Context, value domain.ComputedValue, hint CacheSelectHint) (int, error)

	// PutValues stores values and returns the encoded size of each, in order.
	PutValues(ctx context.Context, values []domain.ComputedValue, hint CacheSelectHint) ([]int, error)
}

// ViewComputationCache is the default ComputationCache over a private and a
// shared binary store.
type ViewComputationCache struct {
	cycleID       string
	configuration string
	private       storage.BinaryStore
	shared        storage.BinaryStore
}

// NewViewComputationCache creates a cache for one cycle and configuration.
func NewViewComputationCache(cycleID, configuration string, private, shared storage.BinaryStore) *ViewComputationCache {
	return &ViewComputationCache{
		cycleID:       cycleID,
		configuration: configuration,
		private:       private,
		shared:        shared,
	}
}

// CycleID returns the owning cycle.
func (c *ViewComputationCache) CycleID() string { return c.cycleID }

// Configuration returns the calculation configuration name.
func (c *ViewComputationCache) Configuration() string { return c.configuration }

func (c *ViewComputationCache) key(spec domain.ValueSpecification) string {
	return idhash.ComputeCacheKey(c.cycleID, c.configuration, spec)
}

// GetValue reads the private store first, then the shared store.
func (c *ViewComputationCache) GetValue(ctx context.Context, spec domain.ValueSpecification) (domain.ComputedValue, bool, error) {
	return c.getValue(ctx, spec, true)
}

func (c *ViewComputationCache) getValue(ctx context.Context, spec domain.ValueSpecification, privateFirst bool) (domain.ComputedValue, bool, error) {
	stores := []storage.BinaryStore{c.private, c.shared}
	if !privateFirst {
		stores[0], stores[1] = stores[1], stores[0]
	}

	key := c.key(spec)
	for _, store := range stores {
		data, err := store.Get(ctx, key)
		if errors.Is(err, storage.ErrNotFound) {
			continue
		}
		if err != nil {
			return domain.ComputedValue{}, false, fmt.Errorf("cache get %s: %w", spec, err)
		}
		v, err := codec.Decode(data)
		if err != nil {
			return domain.ComputedValue{}, false, fmt.Errorf("cache decode %s: %w", spec, err)
		}
		observability.RecordCacheRead(true)
		return domain.ComputedValue{Specification: spec, Value: v}, true, nil
	}

	observability.RecordCacheRead(false)
	return domain.ComputedValue{}, false, nil
}

// GetValues returns the values found for specs, in request order.
func (c *ViewComputationCache) GetValues(ctx context.Context, specs []domain.ValueSpecification) ([]domain.ComputedValue, error) {
	out := make([]domain.ComputedValue, 0, len(specs))
	for _, spec := range specs {
		v, ok, err := c.GetValue(ctx, spec)
		if err != nil {
			return nil, err
		}
		if ok {
			out = append(out, v)
		}
	}
	return out, nil
}

// PutValue stores a single value.
func (c *ViewComputationCache) PutValue(ctx context.Context, value domain.ComputedValue, hint CacheSelectHint) (int, error) {
	sizes, err := c.PutValues(ctx, []domain.ComputedValue{value}, hint)
	if err != nil {
		return 0, err
	}
	return sizes[0], nil
}

// PutValues encodes every value, then writes the private and shared batches.
// Nothing is written if any value fails to encode.
func (c *ViewComputationCache) PutValues(ctx context.Context, values []domain.ComputedValue, hint CacheSelectHint) ([]int, error) {
	sizes := make([]int, len(values))
	private := make(map[string][]byte)
	shared := make(map[string][]byte)
	var privateBytes, sharedBytes int

	for i, v := range values {
		data, err := codec.Encode(v.Value)
		if err != nil {
			return nil, fmt.Errorf("cache encode %s: %w", v.Specification, err)
		}
		sizes[i] = len(data)
		if hint.IsPrivate(v.Specification) {
			private[c.key(v.Specification)] = data
			privateBytes += len(data)
		} else {
			shared[c.key(v.Specification)] = data
			sharedBytes += len(data)
		}
	}

	if len(private) > 0 {
		if err := c.private.Put(ctx, private); err != nil {
			return nil, fmt.Errorf("cache put private: %w", err)
		}
		observability.RecordCacheWrite(placementPrivate, len(private), privateBytes)
	}
	if len(shared) > 0 {
		if err := c.shared.Put(ctx, shared); err != nil {
			return nil, fmt.Errorf("cache put shared: %w", err)
		}
		observability.RecordCacheWrite(placementShared, len(shared), sharedBytes)
	}
	return sizes, nil
}

var _ ComputationCache = (*ViewComputationCache)(nil)
