package resolver

import (
	"context"
	"sync"

	"golang.org/x/sync/singleflight"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/observability"
)

// CachingResolver memoises resolved targets. Misses are not cached, so an
// entity that appears later is picked up. Concurrent resolutions of the same
// specification share one underlying call.
type CachingResolver struct {
	underlying Resolver

	mu    sync.RWMutex
	cache map[domain.TargetSpecification]*domain.ComputationTarget

	group singleflight.Group
}

// NewCachingResolver wraps underlying.
func NewCachingResolver(underlying Resolver) *CachingResolver {
	return &CachingResolver{
		underlying: underlying,
		cache:      make(map[domain.TargetSpecification]*domain.ComputationTarget),
	}
}

// Caching is a Decorator installing a CachingResolver. If sink is non-nil
// the created resolver is stored there so the caller can purge it.
func Caching(sink **CachingResolver) Decorator {
	return func(r Resolver) Resolver {
		c := NewCachingResolver(r)
		if sink != nil {
			*sink = c
		}
		return c
	}
}

// Resolve implements Resolver.
func (c *CachingResolver) Resolve(ctx context.Context, spec domain.TargetSpecification) (*domain.ComputationTarget, error) {
	c.mu.RLock()
	target, ok := c.cache[spec]
	c.mu.RUnlock()
	if ok {
		observability.RecordResolverCache(true)
		return target, nil
	}
	observability.RecordResolverCache(false)

	// The shared lookup outlives any single caller; each caller still
	// stops waiting when its own context ends.
	shared := context.WithoutCancel(ctx)
	ch := c.group.DoChan(spec.String(), func() (any, error) {
		t, err := c.underlying.Resolve(shared, spec)
		if err != nil || t == nil {
			return t, err
		}
		c.mu.Lock()
		c.cache[spec] = t
		c.mu.Unlock()
		return t, nil
	})
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*domain.ComputationTarget), nil
	}
}

// Invalidate drops one cached target.
func (c *CachingResolver) Invalidate(spec domain.TargetSpecification) {
	c.mu.Lock()
	delete(c.cache, spec)
	c.mu.Unlock()
}

// Purge drops every cached target.
func (c *CachingResolver) Purge() {
	c.mu.Lock()
	c.cache = make(map[domain.TargetSpecification]*domain.ComputationTarget)
	c.mu.Unlock()
}

// Len returns the number of cached targets.
func (c *CachingResolver) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cache)
}

// Verify interface compliance at compile time.
var _ Resolver = (*CachingResolver)(nil)
