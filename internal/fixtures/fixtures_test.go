package fixtures

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage/memory"
)

func TestLoad_Idempotent(t *testing.T) {
	ctx := context.Background()
	secs := memory.NewSecurityStore()
	positions := memory.NewPositionStore()
	prices := memory.NewMarketDataStore()

	require.NoError(t, Load(ctx, secs, positions, prices))
	require.NoError(t, Load(ctx, secs, positions, prices))

	sec, err := secs.GetSecurity(ctx, ID("IBM"))
	require.NoError(t, err)
	assert.Equal(t, "USD", sec.Currency)

	node, err := positions.GetPortfolioNode(ctx, ID("VALUE"))
	require.NoError(t, err)
	assert.Len(t, node.Positions, 2)
	assert.Equal(t, ID("EQ-ROOT"), node.ParentNodeID)

	values, err := prices.Snapshot(ctx, []domain.ValueSpecification{PriceSpec("AAPL"), PriceSpec("NOPE")})
	require.NoError(t, err)
	require.Len(t, values, 1)
	assert.Equal(t, "190.25", values[0].Value.(decimal.Decimal).String())
}

func TestRequirements_ReferenceFixtureTargets(t *testing.T) {
	ids := map[domain.UniqueID]bool{}
	for _, s := range Securities() {
		ids[s.ID] = true
	}
	var walk func(n *domain.PortfolioNode)
	walk = func(n *domain.PortfolioNode) {
		ids[n.ID] = true
		for _, c := range n.Children {
			walk(c)
		}
	}
	walk(Portfolio().Root)

	for _, r := range Requirements() {
		assert.True(t, ids[r.Target.ID], "requirement %s targets unknown id", r)
	}
}
