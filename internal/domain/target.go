package domain

import (
	"errors"
	"fmt"
	"strings"
)

// TargetType identifies the kind of entity a computation runs against.
type TargetType string

const (
	TargetPrimitive     TargetType = "PRIMITIVE"
	TargetSecurity      TargetType = "SECURITY"
	TargetPosition      TargetType = "POSITION"
	TargetTrade         TargetType = "TRADE"
	TargetPortfolioNode TargetType = "PORTFOLIO_NODE"
)

// String returns the string representation of TargetType.
func (t TargetType) String() string {
	return string(t)
}

// IsValid checks if the target type is one of the known values.
func (t TargetType) IsValid() bool {
	switch t {
	case TargetPrimitive, TargetSecurity, TargetPosition, TargetTrade, TargetPortfolioNode:
		return true
	default:
		return false
	}
}

// ErrInvalidUniqueID is returned when a unique identifier cannot be parsed.
var ErrInvalidUniqueID = errors.New("invalid unique id")

// uniqueIDSeparator separates scheme and value in the textual form.
const uniqueIDSeparator = "~"

// UniqueID identifies an entity within a scheme (e.g. "DbSec~1234").
type UniqueID struct {
	Scheme string
	Value  string
}

// NewUniqueID creates a UniqueID.
func NewUniqueID(scheme, value string) UniqueID {
	return UniqueID{Scheme: scheme, Value: value}
}

// ParseUniqueID parses the "Scheme~Value" textual form.
func ParseUniqueID(s string) (UniqueID, error) {
	scheme, value, ok := strings.Cut(s, uniqueIDSeparator)
	if !ok || scheme == "" || value == "" {
		return UniqueID{}, fmt.Errorf("%w: %q", ErrInvalidUniqueID, s)
	}
	return UniqueID{Scheme: scheme, Value: value}, nil
}

// String returns "Scheme~Value".
func (id UniqueID) String() string {
	return id.Scheme + uniqueIDSeparator + id.Value
}

// IsZero reports whether the identifier is unset.
func (id UniqueID) IsZero() bool {
	return id.Scheme == "" && id.Value == ""
}

// TargetSpecification is the abstract (type, identifier) reference to a
// computation target. It is comparable and safe to use as a map key.
type TargetSpecification struct {
	Type TargetType
	ID   UniqueID
}

// NewTargetSpecification creates a TargetSpecification.
func NewTargetSpecification(t TargetType, id UniqueID) TargetSpecification {
	return TargetSpecification{Type: t, ID: id}
}

// String returns "TYPE:Scheme~Value".
func (s TargetSpecification) String() string {
	return string(s.Type) + ":" + s.ID.String()
}

// ParseTargetSpecification parses the "TYPE:Scheme~Value" textual form.
func ParseTargetSpecification(s string) (TargetSpecification, error) {
	typ, rest, ok := strings.Cut(s, ":")
	if !ok {
		return TargetSpecification{}, fmt.Errorf("%w: missing target type in %q", ErrInvalidUniqueID, s)
	}
	t := TargetType(typ)
	if !t.IsValid() {
		return TargetSpecification{}, fmt.Errorf("%w: unknown target type %q", ErrInvalidUniqueID, typ)
	}
	id, err := ParseUniqueID(rest)
	if err != nil {
		return TargetSpecification{}, err
	}
	return TargetSpecification{Type: t, ID: id}, nil
}
