// Package fixtures seeds a small equity book with prices so the engine can
// run a cycle without external data.
package fixtures

import (
	"context"
	"errors"
	"fmt"

	"github.com/shopspring/decimal"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/storage"
)

// Scheme is the identifier scheme of every fixture entity.
const Scheme = "Demo"

// Configuration is the calculation configuration name used by the demo.
const Configuration = "Default"

// PriceSink receives market data values.
type PriceSink interface {
	Put(spec domain.ValueSpecification, value any)
}

// ID returns a fixture identifier.
func ID(value string) domain.UniqueID {
	return domain.NewUniqueID(Scheme, value)
}

// Securities returns the fixture securities.
func Securities() []*domain.Security {
	return []*domain.Security{
		equity("AAPL", "Apple Inc.", "US0378331005"),
		equity("MSFT", "Microsoft Corp.", "US5949181045"),
		equity("GOOG", "Alphabet Inc.", "US02079K1079"),
		equity("IBM", "International Business Machines", "US4592001014"),
	}
}

func equity(ticker, name, isin string) *domain.Security {
	return &domain.Security{
		ID:           ID(ticker),
		Name:         name,
		SecurityType: "EQUITY",
		Currency:     "USD",
		Identifiers:  map[string]string{"TICKER": ticker, "ISIN": isin},
	}
}

// Prices returns the fixture closing prices keyed by ticker.
func Prices() map[string]decimal.Decimal {
	return map[string]decimal.Decimal{
		"AAPL": decimal.RequireFromString("190.25"),
		"MSFT": decimal.RequireFromString("410.10"),
		"GOOG": decimal.RequireFromString("140.50"),
		"IBM":  decimal.RequireFromString("165.00"),
	}
}

// Portfolio returns the fixture book:
//
//	EQ-ROOT        AAPL x100, MSFT x50
//	├── GROWTH     GOOG x20
//	└── VALUE      IBM x75, AAPL x10
func Portfolio() *domain.Portfolio {
	return &domain.Portfolio{
		ID:   ID("EQUITY"),
		Name: "Equity Book",
		Root: &domain.PortfolioNode{
			ID:   ID("EQ-ROOT"),
			Name: "Equity Book",
			Positions: []*domain.Position{
				position("P-AAPL", "AAPL", 100),
				position("P-MSFT", "MSFT", 50),
			},
			Children: []*domain.PortfolioNode{
				{
					ID:        ID("GROWTH"),
					Name:      "Growth",
					Positions: []*domain.Position{position("P-GOOG", "GOOG", 20)},
				},
				{
					ID:   ID("VALUE"),
					Name: "Value",
					Positions: []*domain.Position{
						position("P-IBM", "IBM", 75),
						position("P-AAPL-V", "AAPL", 10),
					},
				},
			},
		},
	}
}

func position(id, ticker string, qty int64) *domain.Position {
	return &domain.Position{
		ID:          ID(id),
		Quantity:    decimal.NewFromInt(qty),
		SecurityKey: ID(ticker),
	}
}

// PriceSpec is the specification under which a security's price is
// published.
func PriceSpec(ticker string) domain.ValueSpecification {
	target := domain.NewTargetSpecification(domain.TargetSecurity, ID(ticker))
	return domain.NewValueSpecification(domain.ValueMarketPrice, target, domain.ValueProperties{})
}

// Requirements returns the values the demo configuration asks for.
func Requirements() []domain.ValueRequirement {
	root := domain.NewTargetSpecification(domain.TargetPortfolioNode, ID("EQ-ROOT"))
	growth := domain.NewTargetSpecification(domain.TargetPortfolioNode, ID("GROWTH"))
	aapl := domain.NewTargetSpecification(domain.TargetSecurity, ID("AAPL"))
	return []domain.ValueRequirement{
		{ValueName: domain.ValuePresentValue, Target: root},
		{ValueName: domain.ValuePresentValue, Target: growth},
		{ValueName: domain.ValuePositionCount, Target: root},
		{ValueName: domain.ValueMarketValue, Target: aapl, Constraints: domain.ValueProperties{"Currency": "USD"}},
	}
}

// Load writes the securities, the portfolio and the prices. Entities that
// already exist are left untouched.
func Load(ctx context.Context, securities storage.SecurityMaster, positions storage.PositionMaster, prices PriceSink) error {
	for _, s := range Securities() {
		if err := securities.InsertSecurity(ctx, s); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
			return fmt.Errorf("insert security %s: %w", s.ID, err)
		}
	}
	if err := positions.InsertPortfolio(ctx, Portfolio()); err != nil && !errors.Is(err, storage.ErrDuplicateKey) {
		return fmt.Errorf("insert portfolio: %w", err)
	}
	if prices != nil {
		for ticker, px := range Prices() {
			prices.Put(PriceSpec(ticker), px)
		}
	}
	return nil
}
