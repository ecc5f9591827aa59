package function

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"risk-view-engine/internal/domain"
)

func uid(v string) domain.UniqueID { return domain.NewUniqueID("Test", v) }

func security() *domain.Security {
	return &domain.Security{ID: uid("SEC1"), Name: "ACME", SecurityType: "EQUITY", Currency: "USD"}
}

func position(id string, qty int64) *domain.Position {
	return &domain.Position{ID: uid(id), Quantity: decimal.NewFromInt(qty), SecurityKey: uid("SEC1"), Security: security()}
}

func TestRepository(t *testing.T) {
	repo, err := NewRepository(DemoFunctions()...)
	if err != nil {
		t.Fatalf("NewRepository: %v", err)
	}

	if _, err := repo.Get(PositionPresentValueID); err != nil {
		t.Errorf("Get: %v", err)
	}
	if _, err := repo.Get("nope"); !errors.Is(err, ErrUnknownFunction) {
		t.Errorf("Get(nope) = %v, want ErrUnknownFunction", err)
	}

	nodeFns := repo.ForTarget(domain.TargetPortfolioNode)
	if len(nodeFns) != 2 || nodeFns[0].ID() != PositionCountID || nodeFns[1].ID() != PortfolioPresentValueID {
		t.Errorf("ForTarget(PORTFOLIO_NODE) order unexpected")
	}
	if len(repo.IDs()) != 4 {
		t.Errorf("IDs() = %v", repo.IDs())
	}

	if _, err := NewRepository(PositionCount{}, PositionCount{}); err == nil {
		t.Error("expected duplicate registration error")
	}
}

func TestSecurityMarketValue(t *testing.T) {
	target := domain.NewSecurityTarget(security())
	f := SecurityMarketValue{}

	results := f.Results(nil, target)
	if len(results) != 1 || results[0].Properties[domain.PropertyCurrency] != "USD" {
		t.Fatalf("Results = %v", results)
	}

	price := domain.NewValueSpecification(domain.ValueMarketPrice, target.Specification(), nil)
	out, err := f.Execute(context.Background(), nil, target, Inputs{{Specification: price, Value: 12.5}}, results)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out[0].Value.(decimal.Decimal); !got.Equal(decimal.RequireFromString("12.5")) {
		t.Errorf("market value = %s", got)
	}

	if _, err := f.Execute(context.Background(), nil, target, nil, results); !errors.Is(err, ErrMissingInput) {
		t.Errorf("Execute without price = %v, want ErrMissingInput", err)
	}
}

func TestPositionPresentValue(t *testing.T) {
	target := domain.NewPositionTarget(position("P1", 100))
	f := PositionPresentValue{}

	results := f.Results(nil, target)
	if len(results) != 1 {
		t.Fatalf("Results = %v", results)
	}

	reqs, err := f.Requirements(nil, target, results[0])
	if err != nil {
		t.Fatalf("Requirements: %v", err)
	}
	if len(reqs) != 1 || reqs[0].Target.Type != domain.TargetSecurity || reqs[0].Constraints[domain.PropertyCurrency] != "USD" {
		t.Fatalf("Requirements = %v", reqs)
	}

	mv := domain.NewValueSpecification(domain.ValueMarketValue, reqs[0].Target, domain.ValueProperties{domain.PropertyCurrency: "USD"})
	out, err := f.Execute(context.Background(), nil, target, Inputs{{Specification: mv, Value: decimal.RequireFromString("2.5")}}, results)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out[0].Value.(decimal.Decimal); !got.Equal(decimal.NewFromInt(250)) {
		t.Errorf("present value = %s, want 250", got)
	}

	unresolved := domain.NewPositionTarget(&domain.Position{ID: uid("P2"), SecurityKey: uid("SEC9")})
	if got := f.Results(nil, unresolved); len(got) != 0 {
		t.Errorf("Results for unresolved security = %v", got)
	}
}

func TestPortfolioPresentValue_SumsAndRejectsMixedCurrencies(t *testing.T) {
	node := &domain.PortfolioNode{
		ID:        uid("ROOT"),
		Positions: []*domain.Position{position("P1", 1), position("P2", 1)},
		Children:  []*domain.PortfolioNode{{ID: uid("CHILD")}},
	}
	target := domain.NewPortfolioNodeTarget(node)
	f := PortfolioPresentValue{}

	reqs, err := f.Requirements(nil, target, f.Results(nil, target)[0])
	if err != nil {
		t.Fatalf("Requirements: %v", err)
	}
	if len(reqs) != 3 {
		t.Fatalf("Requirements = %d, want 3", len(reqs))
	}

	pv := func(tt domain.TargetType, id, ccy string, v int64) domain.ComputedValue {
		props := domain.ValueProperties{}
		if ccy != "" {
			props = props.With(domain.PropertyCurrency, ccy)
		}
		spec := domain.NewValueSpecification(domain.ValuePresentValue, domain.NewTargetSpecification(tt, uid(id)), props)
		return domain.ComputedValue{Specification: spec, Value: decimal.NewFromInt(v)}
	}

	desired := f.Results(nil, target)
	out, err := f.Execute(context.Background(), nil, target, Inputs{
		pv(domain.TargetPosition, "P1", "USD", 10),
		pv(domain.TargetPosition, "P2", "USD", 20),
		pv(domain.TargetPortfolioNode, "CHILD", "", 5),
	}, desired)
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if got := out[0].Value.(decimal.Decimal); !got.Equal(decimal.NewFromInt(35)) {
		t.Errorf("sum = %s, want 35", got)
	}

	_, err = f.Execute(context.Background(), nil, target, Inputs{
		pv(domain.TargetPosition, "P1", "USD", 10),
		pv(domain.TargetPosition, "P2", "EUR", 20),
	}, desired)
	if err == nil {
		t.Error("expected mixed currency error")
	}
}

func TestPositionCount(t *testing.T) {
	node := &domain.PortfolioNode{
		ID:        uid("ROOT"),
		Positions: []*domain.Position{position("P1", 1)},
		Children: []*domain.PortfolioNode{
			{ID: uid("A"), Positions: []*domain.Position{position("P2", 1), position("P3", 1)}},
		},
	}
	target := domain.NewPortfolioNodeTarget(node)
	f := PositionCount{}

	out, err := f.Execute(context.Background(), &ExecutionContext{}, target, nil, f.Results(nil, target))
	if err != nil {
		t.Fatalf("Execute: %v", err)
	}
	if out[0].Value != int64(3) {
		t.Errorf("count = %v, want 3", out[0].Value)
	}

	if _, err := f.Execute(context.Background(), nil, domain.NewSecurityTarget(security()), nil, nil); !errors.Is(err, domain.ErrWrongTargetKind) {
		t.Errorf("Execute on security = %v, want ErrWrongTargetKind", err)
	}
}
