package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

func TestStatisticsStore_SaveUpsertsAndLoadOrders(t *testing.T) {
	pool := newTestPool(t)

	store := NewStatisticsStore(pool)
	ctx := context.Background()

	require.NoError(t, store.Save(ctx, []*domain.FunctionCosts{
		{Configuration: "Default", FunctionID: "fnB", InvocationCost: 200, DataInputCost: 2, DataOutputCost: 4},
		{Configuration: "Default", FunctionID: "fnA", InvocationCost: 100, DataInputCost: 1, DataOutputCost: 2},
	}))
	require.NoError(t, store.Save(ctx, []*domain.FunctionCosts{
		{Configuration: "Default", FunctionID: "fnB", InvocationCost: 250, DataInputCost: 3, DataOutputCost: 5},
	}))

	records, err := store.Load(ctx)
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, "fnA", records[0].FunctionID)
	assert.Equal(t, "fnB", records[1].FunctionID)
	assert.Equal(t, 250.0, records[1].InvocationCost)
	assert.Equal(t, 5.0, records[1].DataOutputCost)
	assert.False(t, records[1].UpdatedAt.IsZero())
}

func TestStatisticsStore_InvalidInput(t *testing.T) {
	pool := newTestPool(t)

	store := NewStatisticsStore(pool)

	err := store.Save(context.Background(), []*domain.FunctionCosts{{Configuration: "Default"}})
	assert.ErrorIs(t, err, storage.ErrInvalidInput)
	assert.NoError(t, store.Save(context.Background(), nil))
}
