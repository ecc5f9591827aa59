package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrUnsupportedTarget is returned when a target carries a type no
	// component knows how to handle.
	ErrUnsupportedTarget = errors.New("unsupported computation target type")

	// ErrWrongTargetKind is returned when a variant accessor does not match
	// the target's type.
	ErrWrongTargetKind = errors.New("computation target is of a different kind")
)

// ComputationTarget is a resolved target: a closed variant over PRIMITIVE,
// SECURITY, POSITION, TRADE and PORTFOLIO_NODE. Exactly one payload is set,
// selected by Type(); PRIMITIVE carries only its identifier.
type ComputationTarget struct {
	typ      TargetType
	id       UniqueID
	security *Security
	position *Position
	trade    *Trade
	node     *PortfolioNode
}

// NewPrimitiveTarget wraps a bare identifier.
func NewPrimitiveTarget(id UniqueID) *ComputationTarget {
	return &ComputationTarget{typ: TargetPrimitive, id: id}
}

// NewSecurityTarget wraps a security.
func NewSecurityTarget(s *Security) *ComputationTarget {
	return &ComputationTarget{typ: TargetSecurity, id: s.ID, security: s}
}

// NewPositionTarget wraps a position.
func NewPositionTarget(p *Position) *ComputationTarget {
	return &ComputationTarget{typ: TargetPosition, id: p.ID, position: p}
}

// NewTradeTarget wraps a trade.
func NewTradeTarget(t *Trade) *ComputationTarget {
	return &ComputationTarget{typ: TargetTrade, id: t.ID, trade: t}
}

// NewPortfolioNodeTarget wraps a portfolio node.
func NewPortfolioNodeTarget(n *PortfolioNode) *ComputationTarget {
	return &ComputationTarget{typ: TargetPortfolioNode, id: n.ID, node: n}
}

// Type returns the variant tag.
func (t *ComputationTarget) Type() TargetType { return t.typ }

// ID returns the identifier of the wrapped entity.
func (t *ComputationTarget) ID() UniqueID { return t.id }

// Specification returns the (type, id) reference for this target.
func (t *ComputationTarget) Specification() TargetSpecification {
	return TargetSpecification{Type: t.typ, ID: t.id}
}

// Security returns the SECURITY payload.
func (t *ComputationTarget) Security() (*Security, error) {
	if t.typ != TargetSecurity {
		return nil, fmt.Errorf("%w: want %s, have %s", ErrWrongTargetKind, TargetSecurity, t.typ)
	}
	return t.security, nil
}

// Position returns the POSITION payload.
func (t *ComputationTarget) Position() (*Position, error) {
	if t.typ != TargetPosition {
		return nil, fmt.Errorf("%w: want %s, have %s", ErrWrongTargetKind, TargetPosition, t.typ)
	}
	return t.position, nil
}

// Trade returns the TRADE payload.
func (t *ComputationTarget) Trade() (*Trade, error) {
	if t.typ != TargetTrade {
		return nil, fmt.Errorf("%w: want %s, have %s", ErrWrongTargetKind, TargetTrade, t.typ)
	}
	return t.trade, nil
}

// PortfolioNode returns the PORTFOLIO_NODE payload.
func (t *ComputationTarget) PortfolioNode() (*PortfolioNode, error) {
	if t.typ != TargetPortfolioNode {
		return nil, fmt.Errorf("%w: want %s, have %s", ErrWrongTargetKind, TargetPortfolioNode, t.typ)
	}
	return t.node, nil
}

// Name returns a display name for the target.
func (t *ComputationTarget) Name() (string, error) {
	switch t.typ {
	case TargetPrimitive:
		return t.id.String(), nil
	case TargetSecurity:
		return t.security.Name, nil
	case TargetPosition:
		if t.position.Security != nil {
			return t.position.Quantity.String() + " x " + t.position.Security.Name, nil
		}
		return t.position.Quantity.String() + " x " + t.position.SecurityKey.String(), nil
	case TargetTrade:
		return t.trade.Quantity.String() + " x " + t.trade.SecurityKey.String(), nil
	case TargetPortfolioNode:
		return t.node.Name, nil
	default:
		return "", fmt.Errorf("%w: %s", ErrUnsupportedTarget, t.typ)
	}
}

// Validate checks that the payload matches the variant tag.
func (t *ComputationTarget) Validate() error {
	var ok bool
	switch t.typ {
	case TargetPrimitive:
		ok = !t.id.IsZero()
	case TargetSecurity:
		ok = t.security != nil
	case TargetPosition:
		ok = t.position != nil
	case TargetTrade:
		ok = t.trade != nil
	case TargetPortfolioNode:
		ok = t.node != nil
	default:
		return fmt.Errorf("%w: %s", ErrUnsupportedTarget, t.typ)
	}
	if !ok {
		return fmt.Errorf("computation target %s: missing payload", t.Specification())
	}
	return nil
}
