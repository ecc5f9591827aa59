package domain

import (
	"sort"
	"strings"
)

// Well-known value names.
const (
	ValueMarketPrice    = "MarketPrice"
	ValueMarketValue    = "MarketValue"
	ValuePresentValue   = "PresentValue"
	ValuePositionCount  = "PositionCount"
	PropertyCurrency    = "Currency"
	PropertyFunction    = "Function"
	PropertyAggregation = "Aggregation"
)

// ValueProperties qualify a value specification (currency, producing
// function, ...). A nil map is an empty property set.
type ValueProperties map[string]string

// With returns a copy with key set to value.
func (p ValueProperties) With(key, value string) ValueProperties {
	c := make(ValueProperties, len(p)+1)
	for k, v := range p {
		c[k] = v
	}
	c[key] = value
	return c
}

// String renders the properties in canonical (key-sorted) order.
func (p ValueProperties) String() string {
	if len(p) == 0 {
		return "{}"
	}
	keys := make([]string, 0, len(p))
	for k := range p {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	b.WriteByte('{')
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(p[k])
	}
	b.WriteByte('}')
	return b.String()
}

// Equal reports whether both sets hold the same pairs.
func (p ValueProperties) Equal(other ValueProperties) bool {
	if len(p) != len(other) {
		return false
	}
	for k, v := range p {
		if ov, ok := other[k]; !ok || ov != v {
			return false
		}
	}
	return true
}

// ValueRequirement asks for a named value on a target. An empty constraint
// value means "any value, but the property must be present".
type ValueRequirement struct {
	ValueName   string
	Target      TargetSpecification
	Constraints ValueProperties
}

// String returns a readable form.
func (r ValueRequirement) String() string {
	return r.ValueName + "@" + r.Target.String() + r.Constraints.String()
}

// ValueSpecification identifies a concrete value produced by a function.
// Two specifications are equal iff target, name and properties are equal.
type ValueSpecification struct {
	ValueName  string
	Target     TargetSpecification
	Properties ValueProperties
}

// NewValueSpecification creates a ValueSpecification.
func NewValueSpecification(name string, target TargetSpecification, props ValueProperties) ValueSpecification {
	return ValueSpecification{ValueName: name, Target: target, Properties: props}
}

// Key returns the canonical identity string, suitable as a map key.
func (s ValueSpecification) Key() string {
	return s.Target.String() + "/" + s.ValueName + s.Properties.String()
}

// String returns the canonical identity string.
func (s ValueSpecification) String() string {
	return s.Key()
}

// Equal reports value-specification equality.
func (s ValueSpecification) Equal(other ValueSpecification) bool {
	return s.ValueName == other.ValueName &&
		s.Target == other.Target &&
		s.Properties.Equal(other.Properties)
}

// Satisfies reports whether this specification fulfils the requirement.
func (s ValueSpecification) Satisfies(req ValueRequirement) bool {
	if s.ValueName != req.ValueName || s.Target != req.Target {
		return false
	}
	for k, want := range req.Constraints {
		have, ok := s.Properties[k]
		if !ok {
			return false
		}
		if want != "" && want != have {
			return false
		}
	}
	return true
}

// ComputedValue pairs a specification with its computed payload.
type ComputedValue struct {
	Specification ValueSpecification
	Value         any
}
