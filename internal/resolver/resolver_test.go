package resolver

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
	"risk-view-engine/internal/storage/memory"
)

func uid(v string) domain.UniqueID { return domain.NewUniqueID("Test", v) }

func spec(t domain.TargetType, v string) domain.TargetSpecification {
	return domain.NewTargetSpecification(t, uid(v))
}

// fakePositions serves a hand-built tree whose children may be missing from
// the node index.
type fakePositions struct {
	nodes      map[domain.UniqueID]*domain.PortfolioNode
	portfolios map[domain.UniqueID]*domain.Portfolio
	positions  map[domain.UniqueID]*domain.Position
	trades     map[domain.UniqueID]*domain.Trade
	err        error
}

func newFakePositions() *fakePositions {
	return &fakePositions{
		nodes:      map[domain.UniqueID]*domain.PortfolioNode{},
		portfolios: map[domain.UniqueID]*domain.Portfolio{},
		positions:  map[domain.UniqueID]*domain.Position{},
		trades:     map[domain.UniqueID]*domain.Trade{},
	}
}

func (f *fakePositions) GetPosition(_ context.Context, id domain.UniqueID) (*domain.Position, error) {
	if f.err != nil {
		return nil, f.err
	}
	if p, ok := f.positions[id]; ok {
		return p.Clone(), nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakePositions) GetTrade(_ context.Context, id domain.UniqueID) (*domain.Trade, error) {
	if t, ok := f.trades[id]; ok {
		return t.Clone(), nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakePositions) GetPortfolioNode(_ context.Context, id domain.UniqueID) (*domain.PortfolioNode, error) {
	if f.err != nil {
		return nil, f.err
	}
	if n, ok := f.nodes[id]; ok {
		return n.Clone(), nil
	}
	return nil, storage.ErrNotFound
}

func (f *fakePositions) GetPortfolio(_ context.Context, id domain.UniqueID) (*domain.Portfolio, error) {
	if p, ok := f.portfolios[id]; ok {
		return &domain.Portfolio{ID: p.ID, Name: p.Name, Root: p.Root.Clone()}, nil
	}
	return nil, storage.ErrNotFound
}

func securities(t *testing.T) *memory.SecurityStore {
	t.Helper()
	s := memory.NewSecurityStore()
	if err := s.InsertSecurity(context.Background(), &domain.Security{ID: uid("SEC1"), Name: "ACME"}); err != nil {
		t.Fatalf("insert security: %v", err)
	}
	return s
}

func TestResolve_Primitive(t *testing.T) {
	r := New(nil, nil)
	target, err := r.Resolve(context.Background(), spec(domain.TargetPrimitive, "X"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if target.Type() != domain.TargetPrimitive || target.ID() != uid("X") {
		t.Errorf("unexpected target: %v %v", target.Type(), target.ID())
	}
}

func TestResolve_Security(t *testing.T) {
	ctx := context.Background()
	r := New(securities(t), nil)

	target, err := r.Resolve(ctx, spec(domain.TargetSecurity, "SEC1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	sec, err := target.Security()
	if err != nil || sec.Name != "ACME" {
		t.Errorf("Security() = %+v, %v", sec, err)
	}

	missing, err := r.Resolve(ctx, spec(domain.TargetSecurity, "MISSING"))
	if err != nil {
		t.Fatalf("Resolve(MISSING): %v", err)
	}
	if missing != nil {
		t.Errorf("expected nil target for missing security, got %v", missing)
	}
}

func TestResolve_SecurityWithoutSourceIsConfigError(t *testing.T) {
	r := New(nil, nil)
	_, err := r.Resolve(context.Background(), spec(domain.TargetSecurity, "SEC1"))

	if !errors.Is(err, ErrConfiguration) {
		t.Fatalf("expected ErrConfiguration, got %v", err)
	}
	var cfgErr *ConfigError
	if !errors.As(err, &cfgErr) || cfgErr.Type != domain.TargetSecurity {
		t.Errorf("expected *ConfigError for SECURITY, got %v", err)
	}
}

func TestResolve_UnknownTypeIsConfigError(t *testing.T) {
	r := New(securities(t), newFakePositions())
	_, err := r.Resolve(context.Background(), domain.NewTargetSpecification("CURVE", uid("X")))
	if !errors.Is(err, ErrConfiguration) {
		t.Errorf("expected ErrConfiguration, got %v", err)
	}
}

func TestResolve_PositionEmbedsSecurity(t *testing.T) {
	ctx := context.Background()
	positions := newFakePositions()
	positions.positions[uid("P1")] = &domain.Position{ID: uid("P1"), Quantity: decimal.NewFromInt(10), SecurityKey: uid("SEC1")}
	positions.positions[uid("P2")] = &domain.Position{ID: uid("P2"), Quantity: decimal.NewFromInt(5), SecurityKey: uid("GONE")}

	r := New(securities(t), positions)

	target, err := r.Resolve(ctx, spec(domain.TargetPosition, "P1"))
	if err != nil {
		t.Fatalf("Resolve(P1): %v", err)
	}
	pos, _ := target.Position()
	if pos.Security == nil || pos.Security.Name != "ACME" {
		t.Errorf("security not embedded: %+v", pos.Security)
	}

	// A missing security is only a warning.
	target, err = r.Resolve(ctx, spec(domain.TargetPosition, "P2"))
	if err != nil {
		t.Fatalf("Resolve(P2): %v", err)
	}
	pos, _ = target.Position()
	if pos.Security != nil {
		t.Errorf("unexpected security on P2: %+v", pos.Security)
	}
}

func TestResolve_PositionRequiresBothSources(t *testing.T) {
	positions := newFakePositions()
	for _, r := range []Resolver{New(nil, positions), New(securities(t), nil)} {
		_, err := r.Resolve(context.Background(), spec(domain.TargetPosition, "P1"))
		if !errors.Is(err, ErrConfiguration) {
			t.Errorf("expected ErrConfiguration, got %v", err)
		}
	}
}

func TestResolve_SourceFailureIsWrapped(t *testing.T) {
	positions := newFakePositions()
	boom := errors.New("connection reset")
	positions.err = boom

	r := New(securities(t), positions)
	_, err := r.Resolve(context.Background(), spec(domain.TargetPosition, "P1"))
	if !errors.Is(err, boom) {
		t.Errorf("expected wrapped source error, got %v", err)
	}
	if errors.Is(err, ErrConfiguration) {
		t.Error("infrastructure failure reported as configuration error")
	}
}

func TestResolve_Trade(t *testing.T) {
	positions := newFakePositions()
	positions.trades[uid("T1")] = &domain.Trade{ID: uid("T1"), Quantity: decimal.NewFromInt(3), SecurityKey: uid("SEC1")}

	r := New(securities(t), positions)
	target, err := r.Resolve(context.Background(), spec(domain.TargetTrade, "T1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	trade, err := target.Trade()
	if err != nil || trade.Security == nil {
		t.Errorf("Trade() = %+v, %v", trade, err)
	}
}

func treeFixture() *fakePositions {
	f := newFakePositions()
	p1 := &domain.Position{ID: uid("P1"), Quantity: decimal.NewFromInt(10), SecurityKey: uid("SEC1")}
	f.positions[p1.ID] = p1

	childA := &domain.PortfolioNode{ID: uid("A"), ParentNodeID: uid("ROOT"), Name: "A", Positions: []*domain.Position{p1}}
	childB := &domain.PortfolioNode{ID: uid("B"), ParentNodeID: uid("ROOT"), Name: "B"} // not indexed
	root := &domain.PortfolioNode{ID: uid("ROOT"), Name: "Root", Children: []*domain.PortfolioNode{childA, childB}}

	f.nodes[root.ID] = root
	f.nodes[childA.ID] = childA
	f.portfolios[uid("PF")] = &domain.Portfolio{ID: uid("PF"), Name: "Fund", Root: root}
	return f
}

func TestResolve_PortfolioNodeDropsUnresolvedChild(t *testing.T) {
	r := New(securities(t), treeFixture())

	target, err := r.Resolve(context.Background(), spec(domain.TargetPortfolioNode, "ROOT"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	node, _ := target.PortfolioNode()
	if len(node.Children) != 1 || node.Children[0].ID != uid("A") {
		t.Fatalf("expected only child A, got %+v", node.Children)
	}
	a := node.Children[0]
	if len(a.Positions) != 1 || a.Positions[0].Security == nil {
		t.Errorf("child A positions not resolved: %+v", a.Positions)
	}
}

func TestResolve_PortfolioIDResolvesRoot(t *testing.T) {
	r := New(securities(t), treeFixture())

	target, err := r.Resolve(context.Background(), spec(domain.TargetPortfolioNode, "PF"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if got, want := target.Specification(), spec(domain.TargetPortfolioNode, "PF"); got != want {
		t.Errorf("Specification() = %v, want %v", got, want)
	}
	node, _ := target.PortfolioNode()
	if node.ID != uid("PF") {
		t.Errorf("node ID = %v, want the portfolio ID", node.ID)
	}
	if len(node.Children) != 1 || node.Children[0].ID != uid("A") {
		t.Errorf("expected the root's resolvable children, got %+v", node.Children)
	}

	// The stored root keeps its own identity.
	rootTarget, err := r.Resolve(context.Background(), spec(domain.TargetPortfolioNode, "ROOT"))
	if err != nil {
		t.Fatalf("Resolve(ROOT): %v", err)
	}
	if rootTarget.ID() != uid("ROOT") {
		t.Errorf("root ID = %v", rootTarget.ID())
	}
}

func TestResolve_RecursiveDelegateIsDecorated(t *testing.T) {
	var seen []domain.TargetSpecification
	var mu sync.Mutex
	recording := func(next Resolver) Resolver {
		return Func(func(ctx context.Context, s domain.TargetSpecification) (*domain.ComputationTarget, error) {
			mu.Lock()
			seen = append(seen, s)
			mu.Unlock()
			return next.Resolve(ctx, s)
		})
	}

	r := New(securities(t), treeFixture(), WithDecorator(recording))
	if _, err := r.Resolve(context.Background(), spec(domain.TargetPortfolioNode, "ROOT")); err != nil {
		t.Fatalf("Resolve: %v", err)
	}

	want := map[domain.TargetSpecification]bool{
		spec(domain.TargetPortfolioNode, "ROOT"): false,
		spec(domain.TargetPortfolioNode, "A"):    false,
		spec(domain.TargetPortfolioNode, "B"):    false,
		spec(domain.TargetPosition, "P1"):        false,
	}
	for _, s := range seen {
		want[s] = true
	}
	for s, ok := range want {
		if !ok {
			t.Errorf("decorator did not observe %s", s)
		}
	}
}

func TestCachingResolver_Idempotent(t *testing.T) {
	var cache *CachingResolver
	r := New(securities(t), treeFixture(), WithDecorator(Caching(&cache)))
	ctx := context.Background()

	first, err := r.Resolve(ctx, spec(domain.TargetSecurity, "SEC1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	second, err := r.Resolve(ctx, spec(domain.TargetSecurity, "SEC1"))
	if err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if first.Specification() != second.Specification() {
		t.Errorf("resolutions differ: %v vs %v", first.Specification(), second.Specification())
	}

	if _, err := r.Resolve(ctx, spec(domain.TargetSecurity, "MISSING")); err != nil {
		t.Fatalf("Resolve(MISSING): %v", err)
	}
	if cache.Len() != 1 {
		t.Errorf("cache Len() = %d, want 1 (misses are not cached)", cache.Len())
	}

	cache.Invalidate(spec(domain.TargetSecurity, "SEC1"))
	if cache.Len() != 0 {
		t.Errorf("Invalidate left %d entries", cache.Len())
	}
}

func TestCachingResolver_RecursiveResolutionUsesCache(t *testing.T) {
	var cache *CachingResolver
	r := New(securities(t), treeFixture(), WithDecorator(Caching(&cache)))

	if _, err := r.Resolve(context.Background(), spec(domain.TargetPortfolioNode, "ROOT")); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	// ROOT, A and P1 cached; B missed.
	if cache.Len() != 3 {
		t.Errorf("cache Len() = %d, want 3", cache.Len())
	}
	cache.Purge()
	if cache.Len() != 0 {
		t.Errorf("Purge left %d entries", cache.Len())
	}
}

func TestCachingResolver_DeduplicatesConcurrentCalls(t *testing.T) {
	var calls atomic.Int32
	slow := Func(func(_ context.Context, s domain.TargetSpecification) (*domain.ComputationTarget, error) {
		calls.Add(1)
		time.Sleep(50 * time.Millisecond)
		return domain.NewPrimitiveTarget(s.ID), nil
	})
	c := NewCachingResolver(slow)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := c.Resolve(context.Background(), spec(domain.TargetPrimitive, "X")); err != nil {
				t.Errorf("Resolve: %v", err)
			}
		}()
	}
	wg.Wait()

	if got := calls.Load(); got != 1 {
		t.Errorf("underlying called %d times, want 1", got)
	}
}

func TestCachingResolver_CancelledCallerDoesNotFailOthers(t *testing.T) {
	var calls atomic.Int32
	started := make(chan struct{})
	release := make(chan struct{})
	blocking := Func(func(ctx context.Context, s domain.TargetSpecification) (*domain.ComputationTarget, error) {
		if calls.Add(1) == 1 {
			close(started)
		}
		<-release
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		return domain.NewPrimitiveTarget(s.ID), nil
	})
	c := NewCachingResolver(blocking)
	target := spec(domain.TargetPrimitive, "X")

	ctx, cancel := context.WithCancel(context.Background())
	firstErr := make(chan error, 1)
	go func() {
		_, err := c.Resolve(ctx, target)
		firstErr <- err
	}()
	<-started
	cancel()
	if err := <-firstErr; !errors.Is(err, context.Canceled) {
		t.Fatalf("cancelled caller err = %v, want context.Canceled", err)
	}

	second := make(chan error, 1)
	go func() {
		got, err := c.Resolve(context.Background(), target)
		if err == nil && got.ID() != target.ID {
			err = errors.New("wrong target")
		}
		second <- err
	}()
	time.Sleep(50 * time.Millisecond)
	close(release)

	if err := <-second; err != nil {
		t.Fatalf("waiting caller: %v", err)
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("underlying called %d times, want 1", got)
	}
	if c.Len() != 1 {
		t.Errorf("cache Len() = %d, want 1", c.Len())
	}
}
