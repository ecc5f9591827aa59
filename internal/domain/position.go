package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Position is a holding of a quantity of one security within a portfolio node.
type Position struct {
	ID           UniqueID
	ParentNodeID UniqueID        // owning portfolio node (zero if detached)
	Quantity     decimal.Decimal // signed, negative for short
	SecurityKey  UniqueID        // reference used when Security is not embedded
	Security     *Security       // nil until resolved
	Trades       []*Trade
}

// WithSecurity returns a copy of the position with the security attached.
func (p *Position) WithSecurity(sec *Security) *Position {
	c := p.Clone()
	c.Security = sec.Clone()
	return c
}

// Clone returns a deep copy of the position.
func (p *Position) Clone() *Position {
	if p == nil {
		return nil
	}
	c := *p
	c.Security = p.Security.Clone()
	if p.Trades != nil {
		c.Trades = make([]*Trade, len(p.Trades))
		for i, t := range p.Trades {
			c.Trades[i] = t.Clone()
		}
	}
	return &c
}

// Trade is a single transaction that contributed to a position.
type Trade struct {
	ID               UniqueID
	ParentPositionID UniqueID
	Quantity         decimal.Decimal
	SecurityKey      UniqueID
	Security         *Security
	TradeDate        time.Time
	Counterparty     string
}

// WithSecurity returns a copy of the trade with the security attached.
func (t *Trade) WithSecurity(sec *Security) *Trade {
	c := t.Clone()
	c.Security = sec.Clone()
	return c
}

// Clone returns a deep copy of the trade.
func (t *Trade) Clone() *Trade {
	if t == nil {
		return nil
	}
	c := *t
	c.Security = t.Security.Clone()
	return &c
}
