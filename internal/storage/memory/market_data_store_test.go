package memory

import (
	"context"
	"testing"

	"risk-view-engine/internal/domain"
)

func TestMarketDataStore_SnapshotOmitsMissing(t *testing.T) {
	store := NewMarketDataStore()
	ctx := context.Background()

	target := domain.NewTargetSpecification(domain.TargetSecurity, uid("SEC1"))
	price := domain.NewValueSpecification(domain.ValueMarketPrice, target, nil)
	store.Put(price, 101.5)

	missing := domain.NewValueSpecification(domain.ValueMarketPrice,
		domain.NewTargetSpecification(domain.TargetSecurity, uid("SEC2")), nil)

	got, err := store.Snapshot(ctx, []domain.ValueSpecification{price, missing})
	if err != nil {
		t.Fatalf("Snapshot failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("Snapshot returned %d values, want 1", len(got))
	}
	if got[0].Value != 101.5 {
		t.Errorf("value = %v, want 101.5", got[0].Value)
	}
}
