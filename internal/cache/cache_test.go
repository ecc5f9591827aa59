package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/stats"
	"risk-view-engine/internal/storage"
	"risk-view-engine/internal/storage/memory"
)

func valueSpec(name, id string) domain.ValueSpecification {
	target := domain.NewTargetSpecification(domain.TargetSecurity, domain.NewUniqueID("Test", id))
	return domain.NewValueSpecification(name, target, domain.ValueProperties{domain.PropertyCurrency: "USD"})
}

func computed(spec domain.ValueSpecification, v any) domain.ComputedValue {
	return domain.ComputedValue{Specification: spec, Value: v}
}

type observation struct {
	function string
	output   float64
}

type recordingGatherer struct {
	mu   sync.Mutex
	seen []observation
}

func (g *recordingGatherer) FunctionInvoked(_, functionID string, _ int, _, _, dataOutputBytes float64) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seen = append(g.seen, observation{function: functionID, output: dataOutputBytes})
}

func (g *recordingGatherer) observations() []observation {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]observation(nil), g.seen...)
}

// failingStore rejects every write.
type failingStore struct {
	*memory.BinaryStore
}

func (failingStore) Put(context.Context, map[string][]byte) error {
	return errors.New("disk full")
}

// gatedStore blocks writes until the gate is closed.
type gatedStore struct {
	*memory.BinaryStore
	gate chan struct{}
}

func (s gatedStore) Put(ctx context.Context, entries map[string][]byte) error {
	<-s.gate
	return s.BinaryStore.Put(ctx, entries)
}

func deferredStats(g stats.Gatherer, expected int) *stats.DeferredInvocationStatistics {
	d := stats.NewDeferredInvocationStatistics(g, "Default")
	d.SetFunctionID("fn")
	d.SetExpectedDataOutputSamples(expected)
	return d
}

func TestCacheSelectHint(t *testing.T) {
	a, b := valueSpec("A", "1"), valueSpec("B", "1")

	tests := []struct {
		name     string
		hint     CacheSelectHint
		aPrivate bool
		bPrivate bool
	}{
		{"all private", AllPrivate(), true, true},
		{"all shared", AllShared(), false, false},
		{"private list", PrivateValues(a), true, false},
		{"shared list", SharedValues(a), false, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.hint.IsPrivate(a); got != tt.aPrivate {
				t.Errorf("IsPrivate(A) = %v, want %v", got, tt.aPrivate)
			}
			if got := tt.hint.IsPrivate(b); got != tt.bPrivate {
				t.Errorf("IsPrivate(B) = %v, want %v", got, tt.bPrivate)
			}
		})
	}
}

func TestViewComputationCache_PlacementAndReads(t *testing.T) {
	ctx := context.Background()
	private, shared := memory.NewBinaryStore(), memory.NewBinaryStore()
	c := NewViewComputationCache("c1", "Default", private, shared)

	a, b := valueSpec("A", "1"), valueSpec("B", "1")
	sizes, err := c.PutValues(ctx, []domain.ComputedValue{computed(a, 1.5), computed(b, "x")}, PrivateValues(a))
	if err != nil {
		t.Fatalf("PutValues: %v", err)
	}
	if len(sizes) != 2 || sizes[0] <= 0 || sizes[1] <= 0 {
		t.Fatalf("sizes = %v", sizes)
	}
	if private.Len() != 1 || shared.Len() != 1 {
		t.Fatalf("private=%d shared=%d, want 1/1", private.Len(), shared.Len())
	}

	for _, spec := range []domain.ValueSpecification{a, b} {
		if _, ok, err := c.GetValue(ctx, spec); err != nil || !ok {
			t.Errorf("GetValue(%s) ok=%v err=%v", spec, ok, err)
		}
	}

	got, err := c.GetValues(ctx, []domain.ValueSpecification{a, valueSpec("C", "1"), b})
	if err != nil {
		t.Fatalf("GetValues: %v", err)
	}
	if len(got) != 2 || got[0].Value != 1.5 || got[1].Value != "x" {
		t.Errorf("GetValues = %+v", got)
	}
}

func TestViewComputationCache_EncodeFailureWritesNothing(t *testing.T) {
	store := memory.NewBinaryStore()
	c := NewViewComputationCache("c1", "Default", store, store)

	_, err := c.PutValues(context.Background(), []domain.ComputedValue{
		computed(valueSpec("A", "1"), 1.0),
		computed(valueSpec("B", "1"), struct{}{}),
	}, AllShared())
	if err == nil {
		t.Fatal("expected encode error")
	}
	if store.Len() != 0 {
		t.Errorf("store has %d entries after failed put", store.Len())
	}
}

func TestImmediateWriteCache_VisibleAndReported(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBinaryStore()
	w := NewImmediateWriteCache(NewViewComputationCache("c1", "Default", store, store), AllShared())
	g := &recordingGatherer{}

	a, b := valueSpec("A", "1"), valueSpec("B", "1")
	if err := w.PutValues(ctx, []domain.ComputedValue{computed(a, 1.0), computed(b, 2.0)}, deferredStats(g, 2)); err != nil {
		t.Fatalf("PutValues: %v", err)
	}

	if _, ok, _ := w.GetValue(ctx, a); !ok {
		t.Error("value not visible after immediate write")
	}
	if obs := g.observations(); len(obs) != 1 || obs[0].output <= 0 {
		t.Errorf("observations = %+v, want one with positive output size", obs)
	}
	if err := w.WaitForPendingWrites(ctx); err != nil {
		t.Errorf("WaitForPendingWrites: %v", err)
	}
}

func TestImmediateWriteCache_FailureNamesValues(t *testing.T) {
	store := failingStore{memory.NewBinaryStore()}
	w := NewImmediateWriteCache(NewViewComputationCache("c1", "Default", store, store), AllShared())

	a := valueSpec("A", "1")
	err := w.PutValues(context.Background(), []domain.ComputedValue{computed(a, 1.0)}, nil)

	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("err = %v, want *WriteError", err)
	}
	if len(we.Failed) != 1 || !we.Failed[0].Equal(a) {
		t.Errorf("Failed = %v", we.Failed)
	}
}

func TestDeferredWriteCache_BarrierMakesWritesVisible(t *testing.T) {
	ctx := context.Background()
	store := gatedStore{BinaryStore: memory.NewBinaryStore(), gate: make(chan struct{})}
	w := NewDeferredWriteCache(NewViewComputationCache("c1", "Default", store, store), AllShared(), 4, nil)
	defer w.Close()
	g := &recordingGatherer{}

	a := valueSpec("A", "1")
	if err := w.PutValues(ctx, []domain.ComputedValue{computed(a, 3.0)}, deferredStats(g, 1)); err != nil {
		t.Fatalf("PutValues: %v", err)
	}

	if _, ok, _ := w.GetValue(ctx, a); ok {
		t.Error("value visible before the write landed")
	}
	if n := len(g.observations()); n != 0 {
		t.Errorf("statistics reported before write landed: %d", n)
	}

	close(store.gate)
	if err := w.WaitForPendingWrites(ctx); err != nil {
		t.Fatalf("WaitForPendingWrites: %v", err)
	}

	if _, ok, _ := w.GetValue(ctx, a); !ok {
		t.Error("value not visible after barrier")
	}
	if n := len(g.observations()); n != 1 {
		t.Errorf("observations = %d, want 1", n)
	}
}

func TestDeferredWriteCache_WaitHonoursContext(t *testing.T) {
	store := gatedStore{BinaryStore: memory.NewBinaryStore(), gate: make(chan struct{})}
	w := NewDeferredWriteCache(NewViewComputationCache("c1", "Default", store, store), AllShared(), 4, nil)

	if err := w.PutValues(context.Background(), []domain.ComputedValue{computed(valueSpec("A", "1"), 1.0)}, nil); err != nil {
		t.Fatalf("PutValues: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := w.WaitForPendingWrites(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("WaitForPendingWrites = %v, want deadline exceeded", err)
	}

	close(store.gate)
	if err := w.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestDeferredWriteCache_FailureSurfacesAtBarrier(t *testing.T) {
	ctx := context.Background()
	store := failingStore{memory.NewBinaryStore()}
	w := NewDeferredWriteCache(NewViewComputationCache("c1", "Default", store, store), AllShared(), 4, nil)
	defer w.Close()

	a, b := valueSpec("A", "1"), valueSpec("B", "1")
	if err := w.PutValues(ctx, []domain.ComputedValue{computed(a, 1.0)}, nil); err != nil {
		t.Fatalf("PutValues: %v", err)
	}
	if err := w.PutValues(ctx, []domain.ComputedValue{computed(b, 2.0)}, nil); err != nil {
		t.Fatalf("PutValues: %v", err)
	}

	err := w.WaitForPendingWrites(ctx)
	var we *WriteError
	if !errors.As(err, &we) {
		t.Fatalf("err = %v, want *WriteError", err)
	}
	if len(we.Failed) != 2 {
		t.Errorf("Failed = %v, want both values", we.Failed)
	}

	if err := w.WaitForPendingWrites(ctx); err != nil {
		t.Errorf("second barrier returned %v, want nil", err)
	}
}

func TestDeferredWriteCache_PutAfterClose(t *testing.T) {
	store := memory.NewBinaryStore()
	w := NewDeferredWriteCache(NewViewComputationCache("c1", "Default", store, store), AllShared(), 1, nil)
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	err := w.PutValues(context.Background(), []domain.ComputedValue{computed(valueSpec("A", "1"), 1.0)}, nil)
	if !errors.Is(err, ErrClosed) {
		t.Errorf("PutValues after Close = %v, want ErrClosed", err)
	}
}

func TestDeferredWriteCache_ConcurrentWriters(t *testing.T) {
	ctx := context.Background()
	store := memory.NewBinaryStore()
	w := NewDeferredWriteCache(NewViewComputationCache("c1", "Default", store, store), AllShared(), 2, nil)
	defer w.Close()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			spec := valueSpec("V", string(rune('a'+i)))
			if err := w.PutValues(ctx, []domain.ComputedValue{computed(spec, float64(i))}, nil); err != nil {
				t.Errorf("PutValues: %v", err)
			}
		}(i)
	}
	wg.Wait()

	if err := w.WaitForPendingWrites(ctx); err != nil {
		t.Fatalf("WaitForPendingWrites: %v", err)
	}
	if store.Len() != 16 {
		t.Errorf("store has %d entries, want 16", store.Len())
	}
}

func TestSource_CyclesAreDisjoint(t *testing.T) {
	ctx := context.Background()
	private, shared := memory.NewBinaryStore(), memory.NewBinaryStore()
	src := NewSource(private, shared)

	spec := valueSpec("A", "1")
	c1 := src.Cache("cycle-1", "Default")
	c2 := src.Cache("cycle-2", "Default")
	if src.Cache("cycle-1", "Default") != c1 {
		t.Error("Cache should return the same instance per cycle and configuration")
	}

	if _, err := c1.PutValue(ctx, computed(spec, 1.0), AllPrivate()); err != nil {
		t.Fatalf("PutValue: %v", err)
	}
	if _, err := c2.PutValue(ctx, computed(spec, 2.0), AllShared()); err != nil {
		t.Fatalf("PutValue: %v", err)
	}

	if v, _, _ := c1.GetValue(ctx, spec); v.Value != 1.0 {
		t.Errorf("cycle-1 value = %v", v.Value)
	}
	if v, _, _ := c2.GetValue(ctx, spec); v.Value != 2.0 {
		t.Errorf("cycle-2 value = %v", v.Value)
	}

	if err := src.ReleaseCaches(ctx, "cycle-1"); err != nil {
		t.Fatalf("ReleaseCaches: %v", err)
	}
	if _, ok, _ := c1.GetValue(ctx, spec); ok {
		t.Error("cycle-1 value survived release")
	}
	if _, ok, _ := c2.GetValue(ctx, spec); !ok {
		t.Error("cycle-2 value lost on cycle-1 release")
	}
}

var _ storage.BinaryStore = failingStore{}
