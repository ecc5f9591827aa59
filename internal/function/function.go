// Package function defines the contract between the engine and the pricing
// functions it invokes, plus a small set of demo functions.
package function

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/portfolio"
	"risk-view-engine/internal/resolver"
)

var (
	// ErrUnknownFunction is returned for a function identifier missing from
	// the repository.
	ErrUnknownFunction = errors.New("unknown function")

	// ErrMissingInput is returned by a function whose required input is absent.
	ErrMissingInput = errors.New("missing function input")
)

// ExecutionContext carries everything a function may consult while it runs.
// It is built once per cycle and passed explicitly; there is no global
// registry of collaborators.
type ExecutionContext struct {
	Configuration string
	ValuationTime time.Time
	Resolver      resolver.Resolver
	Structure     *portfolio.Structure
	Logger        *zap.Logger
}

// Function computes values on targets of one type.
type Function interface {
	// ID uniquely names the function.
	ID() string

	// TargetType is the only target type the function accepts.
	TargetType() domain.TargetType

	// Results lists every value the function produces on target.
	Results(ectx *ExecutionContext, target *domain.ComputationTarget) []domain.ValueSpecification

	// Requirements lists the inputs needed to produce desired on target.
	Requirements(ectx *ExecutionContext, target *domain.ComputationTarget, desired domain.ValueSpecification) ([]domain.ValueRequirement, error)

	// Execute computes the desired values from inputs.
	Execute(ctx context.Context, ectx *ExecutionContext, target *domain.ComputationTarget, inputs Inputs, desired []domain.ValueSpecification) ([]domain.ComputedValue, error)
}

// Inputs are the values a function was given.
type Inputs []domain.ComputedValue

// Find returns the first input named name on target.
func (in Inputs) Find(name string, target domain.TargetSpecification) (domain.ComputedValue, bool) {
	for _, v := range in {
		if v.Specification.ValueName == name && v.Specification.Target == target {
			return v, true
		}
	}
	return domain.ComputedValue{}, false
}

// Named returns every input named name.
func (in Inputs) Named(name string) []domain.ComputedValue {
	var out []domain.ComputedValue
	for _, v := range in {
		if v.Specification.ValueName == name {
			out = append(out, v)
		}
	}
	return out
}

// Repository is an immutable set of functions keyed by identifier.
type Repository struct {
	byID     map[string]Function
	byTarget map[domain.TargetType][]Function
}

// NewRepository indexes fns. Duplicate identifiers are an error.
func NewRepository(fns ...Function) (*Repository, error) {
	r := &Repository{
		byID:     make(map[string]Function, len(fns)),
		byTarget: make(map[domain.TargetType][]Function),
	}
	for _, fn := range fns {
		if _, dup := r.byID[fn.ID()]; dup {
			return nil, fmt.Errorf("function %s registered twice", fn.ID())
		}
		r.byID[fn.ID()] = fn
		r.byTarget[fn.TargetType()] = append(r.byTarget[fn.TargetType()], fn)
	}
	for _, list := range r.byTarget {
		sort.Slice(list, func(i, j int) bool { return list[i].ID() < list[j].ID() })
	}
	return r, nil
}

// Get returns the function with the identifier.
func (r *Repository) Get(id string) (Function, error) {
	fn, ok := r.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownFunction, id)
	}
	return fn, nil
}

// ForTarget returns the functions accepting t, ordered by identifier.
func (r *Repository) ForTarget(t domain.TargetType) []Function {
	return r.byTarget[t]
}

// IDs returns every registered identifier in sorted order.
func (r *Repository) IDs() []string {
	ids := make([]string, 0, len(r.byID))
	for id := range r.byID {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}
