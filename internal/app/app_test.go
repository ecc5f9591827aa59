package app

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-view-engine/internal/config"
	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/fixtures"
	"risk-view-engine/internal/storage/memory"
)

func TestOpenStores_MemoryDefaults(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	stores, err := OpenStores(ctx, cfg, nil)
	require.NoError(t, err)
	defer stores.Close()

	assert.IsType(t, &memory.SecurityStore{}, stores.Securities)
	assert.IsType(t, &memory.PositionStore{}, stores.Positions)
	assert.IsType(t, &memory.JobResultStore{}, stores.JobResults)
	assert.IsType(t, &memory.StatisticsStore{}, stores.Statistics)
	assert.IsType(t, &memory.BinaryStore{}, stores.Shared)
}

func TestOpenStores_Badger(t *testing.T) {
	cfg := config.Default()
	cfg.Statistics.Backend = "badger"
	cfg.Statistics.BadgerPath = t.TempDir()

	stores, err := OpenStores(context.Background(), cfg, nil)
	require.NoError(t, err)
	defer stores.Close()

	records, err := stores.Statistics.Load(context.Background())
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestLoadFixtures_Idempotent(t *testing.T) {
	ctx := context.Background()
	stores, err := OpenStores(ctx, config.Default(), nil)
	require.NoError(t, err)
	defer stores.Close()

	require.NoError(t, stores.LoadFixtures(ctx))
	require.NoError(t, stores.LoadFixtures(ctx))

	values, err := stores.MarketData.Snapshot(ctx, []domain.ValueSpecification{fixtures.PriceSpec("AAPL")})
	require.NoError(t, err)
	require.Len(t, values, 1)
}

func TestNewComponents_ResolvesFixtures(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	stores, err := OpenStores(ctx, cfg, nil)
	require.NoError(t, err)
	defer stores.Close()
	require.NoError(t, stores.LoadFixtures(ctx))

	c, err := NewComponents(cfg, stores, "node-test", nil)
	require.NoError(t, err)
	assert.Equal(t, "node-test", c.Node.ID())

	target, err := c.Resolver.Resolve(ctx, domain.TargetSpecification{
		Type: domain.TargetSecurity,
		ID:   fixtures.ID("AAPL"),
	})
	require.NoError(t, err)
	require.NotNil(t, target)
	assert.Equal(t, domain.TargetSecurity, target.Type())
}

func TestNewComponents_TargetCacheIsWired(t *testing.T) {
	ctx := context.Background()
	cfg := config.Default()

	stores, err := OpenStores(ctx, cfg, nil)
	require.NoError(t, err)
	defer stores.Close()
	require.NoError(t, stores.LoadFixtures(ctx))

	c, err := NewComponents(cfg, stores, "node-test", nil)
	require.NoError(t, err)
	require.NotNil(t, c.TargetCache)

	_, err = c.Resolver.Resolve(ctx, domain.NewTargetSpecification(domain.TargetSecurity, fixtures.ID("IBM")))
	require.NoError(t, err)
	assert.Equal(t, 1, c.TargetCache.Len())

	c.TargetCache.Purge()
	assert.Equal(t, 0, c.TargetCache.Len())
}
