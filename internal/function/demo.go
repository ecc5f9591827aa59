package function

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/portfolio"
)

// Identifiers of the demo functions.
const (
	SecurityMarketValueID   = "SecurityMarketValue"
	PositionPresentValueID  = "PositionPresentValue"
	PortfolioPresentValueID = "PortfolioPresentValue"
	PositionCountID         = "PortfolioPositionCount"

	aggregationSum = "Sum"
)

// DemoFunctions returns the built-in demo pricing functions.
func DemoFunctions() []Function {
	return []Function{
		SecurityMarketValue{},
		PositionPresentValue{},
		PortfolioPresentValue{},
		PositionCount{},
	}
}

// SecurityMarketValue converts a security's market price into its unit
// market value in the security's currency.
type SecurityMarketValue struct{}

func (SecurityMarketValue) ID() string                    { return SecurityMarketValueID }
func (SecurityMarketValue) TargetType() domain.TargetType { return domain.TargetSecurity }

func (f SecurityMarketValue) Results(_ *ExecutionContext, target *domain.ComputationTarget) []domain.ValueSpecification {
	sec, err := target.Security()
	if err != nil {
		return nil
	}
	props := domain.ValueProperties{
		domain.PropertyCurrency: sec.Currency,
		domain.PropertyFunction: f.ID(),
	}
	return []domain.ValueSpecification{
		domain.NewValueSpecification(domain.ValueMarketValue, target.Specification(), props),
	}
}

func (SecurityMarketValue) Requirements(_ *ExecutionContext, target *domain.ComputationTarget, _ domain.ValueSpecification) ([]domain.ValueRequirement, error) {
	return []domain.ValueRequirement{
		{ValueName: domain.ValueMarketPrice, Target: target.Specification()},
	}, nil
}

func (f SecurityMarketValue) Execute(_ context.Context, _ *ExecutionContext, target *domain.ComputationTarget, inputs Inputs, desired []domain.ValueSpecification) ([]domain.ComputedValue, error) {
	price, ok := inputs.Find(domain.ValueMarketPrice, target.Specification())
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrMissingInput, domain.ValueMarketPrice, target.Specification())
	}
	d, err := toDecimal(price.Value)
	if err != nil {
		return nil, err
	}
	return valuesFor(desired, d), nil
}

// PositionPresentValue is quantity times the unit market value of the
// position's security.
type PositionPresentValue struct{}

func (PositionPresentValue) ID() string                    { return PositionPresentValueID }
func (PositionPresentValue) TargetType() domain.TargetType { return domain.TargetPosition }

func (f PositionPresentValue) Results(_ *ExecutionContext, target *domain.ComputationTarget) []domain.ValueSpecification {
	pos, err := target.Position()
	if err != nil || pos.Security == nil {
		return nil
	}
	props := domain.ValueProperties{
		domain.PropertyCurrency: pos.Security.Currency,
		domain.PropertyFunction: f.ID(),
	}
	return []domain.ValueSpecification{
		domain.NewValueSpecification(domain.ValuePresentValue, target.Specification(), props),
	}
}

func (PositionPresentValue) Requirements(_ *ExecutionContext, target *domain.ComputationTarget, desired domain.ValueSpecification) ([]domain.ValueRequirement, error) {
	pos, err := target.Position()
	if err != nil {
		return nil, err
	}
	if pos.Security == nil {
		return nil, fmt.Errorf("position %s: security %s not resolved", pos.ID, pos.SecurityKey)
	}
	return []domain.ValueRequirement{{
		ValueName:   domain.ValueMarketValue,
		Target:      domain.NewTargetSpecification(domain.TargetSecurity, pos.Security.ID),
		Constraints: domain.ValueProperties{domain.PropertyCurrency: desired.Properties[domain.PropertyCurrency]},
	}}, nil
}

func (f PositionPresentValue) Execute(_ context.Context, _ *ExecutionContext, target *domain.ComputationTarget, inputs Inputs, desired []domain.ValueSpecification) ([]domain.ComputedValue, error) {
	pos, err := target.Position()
	if err != nil {
		return nil, err
	}
	if pos.Security == nil {
		return nil, fmt.Errorf("position %s: security %s not resolved", pos.ID, pos.SecurityKey)
	}
	secSpec := domain.NewTargetSpecification(domain.TargetSecurity, pos.Security.ID)
	mv, ok := inputs.Find(domain.ValueMarketValue, secSpec)
	if !ok {
		return nil, fmt.Errorf("%w: %s on %s", ErrMissingInput, domain.ValueMarketValue, secSpec)
	}
	unit, err := toDecimal(mv.Value)
	if err != nil {
		return nil, err
	}
	return valuesFor(desired, pos.Quantity.Mul(unit)), nil
}

// PortfolioPresentValue sums the present values of a node's positions and
// child nodes. All position inputs must share one currency.
type PortfolioPresentValue struct{}

func (PortfolioPresentValue) ID() string                    { return PortfolioPresentValueID }
func (PortfolioPresentValue) TargetType() domain.TargetType { return domain.TargetPortfolioNode }

func (f PortfolioPresentValue) Results(_ *ExecutionContext, target *domain.ComputationTarget) []domain.ValueSpecification {
	props := domain.ValueProperties{
		domain.PropertyAggregation: aggregationSum,
		domain.PropertyFunction:    f.ID(),
	}
	return []domain.ValueSpecification{
		domain.NewValueSpecification(domain.ValuePresentValue, target.Specification(), props),
	}
}

func (PortfolioPresentValue) Requirements(_ *ExecutionContext, target *domain.ComputationTarget, _ domain.ValueSpecification) ([]domain.ValueRequirement, error) {
	node, err := target.PortfolioNode()
	if err != nil {
		return nil, err
	}
	reqs := make([]domain.ValueRequirement, 0, len(node.Positions)+len(node.Children))
	for _, p := range node.Positions {
		reqs = append(reqs, domain.ValueRequirement{
			ValueName:   domain.ValuePresentValue,
			Target:      domain.NewTargetSpecification(domain.TargetPosition, p.ID),
			Constraints: domain.ValueProperties{domain.PropertyCurrency: ""},
		})
	}
	for _, c := range node.Children {
		reqs = append(reqs, domain.ValueRequirement{
			ValueName:   domain.ValuePresentValue,
			Target:      domain.NewTargetSpecification(domain.TargetPortfolioNode, c.ID),
			Constraints: domain.ValueProperties{domain.PropertyAggregation: aggregationSum},
		})
	}
	return reqs, nil
}

func (f PortfolioPresentValue) Execute(_ context.Context, _ *ExecutionContext, _ *domain.ComputationTarget, inputs Inputs, desired []domain.ValueSpecification) ([]domain.ComputedValue, error) {
	total := decimal.Zero
	currency := ""
	for _, in := range inputs.Named(domain.ValuePresentValue) {
		if c, ok := in.Specification.Properties[domain.PropertyCurrency]; ok {
			if currency != "" && c != currency {
				return nil, fmt.Errorf("cannot sum present values in %s and %s", currency, c)
			}
			currency = c
		}
		d, err := toDecimal(in.Value)
		if err != nil {
			return nil, err
		}
		total = total.Add(d)
	}
	return valuesFor(desired, total), nil
}

// PositionCount counts every position under a portfolio node.
type PositionCount struct{}

func (PositionCount) ID() string                    { return PositionCountID }
func (PositionCount) TargetType() domain.TargetType { return domain.TargetPortfolioNode }

func (f PositionCount) Results(_ *ExecutionContext, target *domain.ComputationTarget) []domain.ValueSpecification {
	props := domain.ValueProperties{domain.PropertyFunction: f.ID()}
	return []domain.ValueSpecification{
		domain.NewValueSpecification(domain.ValuePositionCount, target.Specification(), props),
	}
}

func (PositionCount) Requirements(*ExecutionContext, *domain.ComputationTarget, domain.ValueSpecification) ([]domain.ValueRequirement, error) {
	return nil, nil
}

func (f PositionCount) Execute(_ context.Context, ectx *ExecutionContext, target *domain.ComputationTarget, _ Inputs, desired []domain.ValueSpecification) ([]domain.ComputedValue, error) {
	node, err := target.PortfolioNode()
	if err != nil {
		return nil, err
	}
	var positions []*domain.Position
	if ectx != nil && ectx.Structure != nil {
		positions = ectx.Structure.AllPositions(node)
	} else {
		positions = portfolio.AllPositions(node)
	}
	return valuesFor(desired, int64(len(positions))), nil
}

func valuesFor(desired []domain.ValueSpecification, v any) []domain.ComputedValue {
	out := make([]domain.ComputedValue, len(desired))
	for i, spec := range desired {
		out[i] = domain.ComputedValue{Specification: spec, Value: v}
	}
	return out
}

func toDecimal(v any) (decimal.Decimal, error) {
	switch x := v.(type) {
	case decimal.Decimal:
		return x, nil
	case float64:
		return decimal.NewFromFloat(x), nil
	case int64:
		return decimal.NewFromInt(x), nil
	case int:
		return decimal.NewFromInt(int64(x)), nil
	case string:
		return decimal.NewFromString(x)
	default:
		return decimal.Decimal{}, fmt.Errorf("value of type %T is not numeric", v)
	}
}
