package graph

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/function"
	"risk-view-engine/internal/resolver"
)

var (
	// ErrTargetNotFound is returned when a requirement's target does not resolve.
	ErrTargetNotFound = errors.New("target not found")

	// ErrNoFunction is returned when no function can satisfy a requirement.
	ErrNoFunction = errors.New("no function satisfies requirement")
)

// Builder compiles value requirements into a dependency graph. A
// requirement is satisfied by market data when its value name is a market
// data name, otherwise by the first function (in identifier order) that
// applies to the target and lists a matching result.
type Builder struct {
	functions  *function.Repository
	resolver   resolver.Resolver
	marketData map[string]struct{}
	logger     *zap.Logger
}

// NewBuilder creates a builder. marketDataNames lists the value names
// provided by the market data source.
func NewBuilder(functions *function.Repository, r resolver.Resolver, marketDataNames []string, logger *zap.Logger) *Builder {
	if logger == nil {
		logger = zap.NewNop()
	}
	md := make(map[string]struct{}, len(marketDataNames))
	for _, n := range marketDataNames {
		md[n] = struct{}{}
	}
	return &Builder{functions: functions, resolver: r, marketData: md, logger: logger}
}

type buildState struct {
	ectx     *function.ExecutionContext
	graph    *DependencyGraph
	targets  map[domain.TargetSpecification]*domain.ComputationTarget
	visiting map[string]bool
}

// Build plans every requirement. Requirements that cannot be planned are
// recorded on the graph as unsatisfied; only infrastructure failures and
// cycles are returned as errors.
func (b *Builder) Build(ctx context.Context, ectx *function.ExecutionContext, reqs []domain.ValueRequirement) (*DependencyGraph, error) {
	st := &buildState{
		ectx:     ectx,
		graph:    New(ectx.Configuration),
		targets:  make(map[domain.TargetSpecification]*domain.ComputationTarget),
		visiting: make(map[string]bool),
	}

	for _, req := range reqs {
		spec, err := b.satisfy(ctx, st, req)
		switch {
		case err == nil:
			st.graph.AddTerminalOutput(req, spec)
		case errors.Is(err, ErrTargetNotFound):
			st.graph.AddUnsatisfied(Unsatisfied{Requirement: req, TargetNotFound: true, Reason: err.Error()})
		case errors.Is(err, ErrNoFunction):
			b.logger.Warn("requirement cannot be satisfied",
				zap.String("configuration", ectx.Configuration),
				zap.String("requirement", req.String()),
				zap.Error(err))
			st.graph.AddUnsatisfied(Unsatisfied{Requirement: req, Reason: err.Error()})
		default:
			return nil, fmt.Errorf("plan %s: %w", req, err)
		}
	}

	if err := st.graph.Validate(); err != nil {
		return nil, err
	}
	b.logger.Debug("dependency graph built",
		zap.String("configuration", ectx.Configuration),
		zap.Int("nodes", st.graph.Len()),
		zap.Int("market_data", len(st.graph.MarketDataRequirements())),
		zap.Int("unsatisfied", len(st.graph.Unsatisfied())))
	return st.graph, nil
}

func (b *Builder) satisfy(ctx context.Context, st *buildState, req domain.ValueRequirement) (domain.ValueSpecification, error) {
	if _, ok := b.marketData[req.ValueName]; ok {
		return marketDataSpec(req), nil
	}

	target, err := b.target(ctx, st, req.Target)
	if err != nil {
		return domain.ValueSpecification{}, err
	}

	for _, fn := range b.functions.ForTarget(target.Type()) {
		for _, out := range fn.Results(st.ectx, target) {
			if !out.Satisfies(req) {
				continue
			}
			if err := b.plan(ctx, st, fn, target, out); err != nil {
				if errors.Is(err, ErrNoFunction) || errors.Is(err, ErrTargetNotFound) {
					b.logger.Debug("function cannot be planned",
						zap.String("function", fn.ID()),
						zap.String("target", target.Specification().String()),
						zap.Error(err))
					break
				}
				return domain.ValueSpecification{}, err
			}
			return out, nil
		}
	}
	return domain.ValueSpecification{}, fmt.Errorf("%w: %s", ErrNoFunction, req)
}

// plan adds the node producing out and, recursively, its inputs.
func (b *Builder) plan(ctx context.Context, st *buildState, fn function.Function, target *domain.ComputationTarget, out domain.ValueSpecification) error {
	id := NodeID(fn.ID(), target.Specification())
	if _, exists := st.graph.Node(id); exists {
		return nil
	}
	if st.visiting[id] {
		return fmt.Errorf("%w: %s requires itself", ErrCycle, id)
	}
	st.visiting[id] = true
	defer delete(st.visiting, id)

	reqs, err := fn.Requirements(st.ectx, target, out)
	if err != nil {
		return fmt.Errorf("%w: %s requirements: %v", ErrNoFunction, id, err)
	}

	inputs := make([]domain.ValueSpecification, 0, len(reqs))
	for _, r := range reqs {
		in, err := b.satisfy(ctx, st, r)
		if err != nil {
			return err
		}
		inputs = append(inputs, in)
	}

	return st.graph.AddNode(&DependencyNode{
		ID:         id,
		FunctionID: fn.ID(),
		Target:     target.Specification(),
		Inputs:     inputs,
		Outputs:    fn.Results(st.ectx, target),
	})
}

func (b *Builder) target(ctx context.Context, st *buildState, spec domain.TargetSpecification) (*domain.ComputationTarget, error) {
	if t, ok := st.targets[spec]; ok {
		if t == nil {
			return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, spec)
		}
		return t, nil
	}
	t, err := b.resolver.Resolve(ctx, spec)
	if err != nil {
		return nil, fmt.Errorf("resolve %s: %w", spec, err)
	}
	st.targets[spec] = t
	if t == nil {
		return nil, fmt.Errorf("%w: %s", ErrTargetNotFound, spec)
	}
	return t, nil
}

// marketDataSpec is the specification under which the market data source
// publishes a value: the requirement's concrete constraints become
// properties, wildcards are dropped.
func marketDataSpec(req domain.ValueRequirement) domain.ValueSpecification {
	props := domain.ValueProperties{}
	for k, v := range req.Constraints {
		if v != "" {
			props[k] = v
		}
	}
	return domain.NewValueSpecification(req.ValueName, req.Target, props)
}
