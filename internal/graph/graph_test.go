package graph

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/function"
	"risk-view-engine/internal/resolver"
	"risk-view-engine/internal/storage/memory"
)

func uid(v string) domain.UniqueID { return domain.NewUniqueID("Test", v) }

func vspec(name, id string) domain.ValueSpecification {
	return domain.NewValueSpecification(name, domain.NewTargetSpecification(domain.TargetPrimitive, uid(id)), nil)
}

func node(id string, inputs []domain.ValueSpecification, outputs ...domain.ValueSpecification) *DependencyNode {
	return &DependencyNode{ID: id, FunctionID: "fn-" + id, Inputs: inputs, Outputs: outputs}
}

func TestValidate_ChainOrderAndMarketData(t *testing.T) {
	g := New("Default")
	a, b, c := vspec("A", "x"), vspec("B", "x"), vspec("C", "x")
	md := vspec("Price", "x")

	// Added consumers first to check ordering does not depend on insertion.
	for _, n := range []*DependencyNode{
		node("C", []domain.ValueSpecification{b}, c),
		node("B", []domain.ValueSpecification{a, md}, b),
		node("A", []domain.ValueSpecification{md}, a),
	} {
		if err := g.AddNode(n); err != nil {
			t.Fatalf("AddNode: %v", err)
		}
	}

	if err := g.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}

	order := g.TopologicalOrder()
	want := []string{"A", "B", "C"}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("TopologicalOrder = %v, want %v", order, want)
		}
	}

	if deps := g.Dependencies("B"); len(deps) != 1 || deps[0] != "A" {
		t.Errorf("Dependencies(B) = %v", deps)
	}
	if deps := g.Dependents("A"); len(deps) != 1 || deps[0] != "B" {
		t.Errorf("Dependents(A) = %v", deps)
	}
	if mdReqs := g.MarketDataRequirements(); len(mdReqs) != 1 || !mdReqs[0].Equal(md) {
		t.Errorf("MarketDataRequirements = %v", mdReqs)
	}
	if p, ok := g.Producer(b); !ok || p != "B" {
		t.Errorf("Producer(B) = %q, %v", p, ok)
	}
}

func TestValidate_DetectsCycle(t *testing.T) {
	g := New("Default")
	a, b := vspec("A", "x"), vspec("B", "x")
	_ = g.AddNode(node("A", []domain.ValueSpecification{b}, a))
	_ = g.AddNode(node("B", []domain.ValueSpecification{a}, b))

	if err := g.Validate(); !errors.Is(err, ErrCycle) {
		t.Errorf("Validate = %v, want ErrCycle", err)
	}
	if g.Validated() {
		t.Error("cyclic graph marked validated")
	}
}

func TestAddNode_Duplicates(t *testing.T) {
	g := New("Default")
	a := vspec("A", "x")
	if err := g.AddNode(node("A", nil, a)); err != nil {
		t.Fatalf("AddNode: %v", err)
	}
	if err := g.AddNode(node("A", nil)); !errors.Is(err, ErrDuplicateNode) {
		t.Errorf("duplicate id = %v", err)
	}
	if err := g.AddNode(node("A2", nil, a)); !errors.Is(err, ErrDuplicateProducer) {
		t.Errorf("duplicate producer = %v", err)
	}
}

func buildFixture(t *testing.T) (*Builder, *function.ExecutionContext) {
	t.Helper()
	ctx := context.Background()

	secs := memory.NewSecurityStore()
	for _, s := range []*domain.Security{
		{ID: uid("SEC1"), Name: "ACME", Currency: "USD"},
		{ID: uid("SEC2"), Name: "Globex", Currency: "USD"},
	} {
		if err := secs.InsertSecurity(ctx, s); err != nil {
			t.Fatalf("InsertSecurity: %v", err)
		}
	}

	positions := memory.NewPositionStore()
	err := positions.InsertPortfolio(ctx, &domain.Portfolio{
		ID: uid("PF"),
		Root: &domain.PortfolioNode{
			ID: uid("ROOT"),
			Positions: []*domain.Position{
				{ID: uid("P1"), Quantity: decimal.NewFromInt(10), SecurityKey: uid("SEC1")},
				{ID: uid("P2"), Quantity: decimal.NewFromInt(5), SecurityKey: uid("SEC2")},
			},
			Children: []*domain.PortfolioNode{
				{ID: uid("CHILD"), Positions: []*domain.Position{
					{ID: uid("P3"), Quantity: decimal.NewFromInt(1), SecurityKey: uid("SEC1")},
				}},
			},
		},
	})
	if err != nil {
		t.Fatalf("InsertPortfolio: %v", err)
	}

	repo, err := function.NewRepository(function.DemoFunctions()...)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}
	r := resolver.New(secs, positions)
	return NewBuilder(repo, r, []string{domain.ValueMarketPrice}, nil),
		&function.ExecutionContext{Configuration: "Default", Resolver: r}
}

func TestBuilder_PortfolioPresentValue(t *testing.T) {
	b, ectx := buildFixture(t)

	root := domain.NewTargetSpecification(domain.TargetPortfolioNode, uid("ROOT"))
	g, err := b.Build(context.Background(), ectx, []domain.ValueRequirement{
		{ValueName: domain.ValuePresentValue, Target: root},
		{ValueName: domain.ValuePositionCount, Target: root},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	// 2 securities + 3 positions + 2 portfolio nodes + 1 count.
	if g.Len() != 8 {
		t.Errorf("nodes = %d, want 8", g.Len())
	}
	if md := g.MarketDataRequirements(); len(md) != 2 {
		t.Errorf("market data = %v, want 2 prices", md)
	}
	if len(g.TerminalOutputs()) != 2 || len(g.Unsatisfied()) != 0 {
		t.Errorf("terminal=%d unsatisfied=%d", len(g.TerminalOutputs()), len(g.Unsatisfied()))
	}

	rootPV := NodeID(function.PortfolioPresentValueID, root)
	order := g.TopologicalOrder()
	if order[len(order)-1] != rootPV && order[len(order)-1] != NodeID(function.PositionCountID, root) {
		t.Errorf("unexpected last node %s", order[len(order)-1])
	}
	if deps := g.Dependencies(rootPV); len(deps) != 3 {
		t.Errorf("root PV dependencies = %v, want 2 positions + 1 child", deps)
	}

	sec1MV := NodeID(function.SecurityMarketValueID, domain.NewTargetSpecification(domain.TargetSecurity, uid("SEC1")))
	if deps := g.Dependents(sec1MV); len(deps) != 2 {
		t.Errorf("SEC1 market value consumers = %v, want P1 and P3", deps)
	}
	if !g.IsTerminal(g.TerminalOutputs()[0].Specification) {
		t.Error("IsTerminal false for terminal output")
	}
}

func TestBuilder_RecordsUnsatisfied(t *testing.T) {
	b, ectx := buildFixture(t)

	g, err := b.Build(context.Background(), ectx, []domain.ValueRequirement{
		{ValueName: domain.ValuePresentValue, Target: domain.NewTargetSpecification(domain.TargetPortfolioNode, uid("MISSING"))},
		{ValueName: "Vega", Target: domain.NewTargetSpecification(domain.TargetSecurity, uid("SEC1"))},
	})
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	u := g.Unsatisfied()
	if len(u) != 2 {
		t.Fatalf("unsatisfied = %v", u)
	}
	if !u[0].TargetNotFound {
		t.Error("missing portfolio not flagged as target not found")
	}
	if u[1].TargetNotFound {
		t.Error("unknown value flagged as target not found")
	}
	if g.Len() != 0 {
		t.Errorf("nodes = %d, want 0", g.Len())
	}
}
