package domain

// Security is a tradable instrument.
type Security struct {
	ID           UniqueID
	Name         string
	SecurityType string            // e.g. EQUITY, BOND, FX_FORWARD
	Currency     string            // ISO 4217
	Identifiers  map[string]string // external ids keyed by scheme (ISIN, TICKER, ...)
}

// Clone returns a deep copy of the security.
func (s *Security) Clone() *Security {
	if s == nil {
		return nil
	}
	c := *s
	if s.Identifiers != nil {
		c.Identifiers = make(map[string]string, len(s.Identifiers))
		for k, v := range s.Identifiers {
			c.Identifiers[k] = v
		}
	}
	return &c
}
