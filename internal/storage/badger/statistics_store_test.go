package badger

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/stats"
	"risk-view-engine/internal/storage"
)

func openTestStore(t *testing.T) *StatisticsStore {
	t.Helper()
	db, err := Open(Config{InMemory: true})
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return NewStatisticsStore(db)
}

func TestOpen_RequiresPath(t *testing.T) {
	_, err := Open(Config{})
	assert.Error(t, err)
}

func TestStatisticsStore_SaveAndLoad(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []*domain.FunctionCosts{
		{Configuration: "Default", FunctionID: "fnB", InvocationCost: 200, DataInputCost: 2, DataOutputCost: 4},
		{Configuration: "Alt", FunctionID: "fnZ", InvocationCost: 1},
		{Configuration: "Default", FunctionID: "fnA", InvocationCost: 100, DataInputCost: 1, DataOutputCost: 2},
	}))
	require.NoError(t, store.Save(ctx, []*domain.FunctionCosts{
		{Configuration: "Default", FunctionID: "fnB", InvocationCost: 250, DataInputCost: 3, DataOutputCost: 5},
	}))

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)

	assert.Equal(t, "Alt", records[0].Configuration)
	assert.Equal(t, "fnA", records[1].FunctionID)
	assert.Equal(t, "fnB", records[2].FunctionID)
	assert.Equal(t, 250.0, records[2].InvocationCost)
	assert.False(t, records[2].UpdatedAt.IsZero())
}

func TestStatisticsStore_PrefixConfigurationsDoNotInterleave(t *testing.T) {
	store := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []*domain.FunctionCosts{
		{Configuration: "A-1", FunctionID: "fn"},
		{Configuration: "A", FunctionID: "zz"},
		{Configuration: "A", FunctionID: "aa"},
	}))

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, []string{"A/aa", "A/zz", "A-1/fn"}, []string{
		records[0].Configuration + "/" + records[0].FunctionID,
		records[1].Configuration + "/" + records[1].FunctionID,
		records[2].Configuration + "/" + records[2].FunctionID,
	})
}

func TestStatisticsStore_InvalidInput(t *testing.T) {
	store := openTestStore(t)

	err := store.Save(context.Background(), []*domain.FunctionCosts{{Configuration: "Default"}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
}

func TestStatisticsStore_PersisterRoundTrip(t *testing.T) {
	backend := openTestStore(t)
	ctx := context.Background()

	src := stats.NewStore(0)
	src.FunctionInvoked("Default", "fn", 1, 900, 3, 6)
	require.NoError(t, stats.NewPersister(src, backend, 0, nil).Flush(ctx))

	restored := stats.NewStore(0)
	n, err := stats.NewPersister(restored, backend, 0, nil).Restore(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.Equal(t, 900.0, restored.Estimate("Default", "fn").InvocationCost)
}
