// Package resolver turns target specifications into resolved computation
// targets using the security and position sources.
package resolver

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/observability"
	"risk-view-engine/internal/storage"
)

// ErrConfiguration is matched by every *ConfigError.
var ErrConfiguration = errors.New("target resolver misconfigured")

// ConfigError reports a resolver that cannot handle a target type, either
// because a required source is missing or because the type is unknown.
type ConfigError struct {
	Type   domain.TargetType
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("resolve %s: %s", e.Type, e.Reason)
}

// Unwrap allows errors.Is(err, ErrConfiguration).
func (e *ConfigError) Unwrap() error {
	return ErrConfiguration
}

// Resolver resolves a specification to a target. A specification that does
// not match any entity yields (nil, nil).
type Resolver interface {
	Resolve(ctx context.Context, spec domain.TargetSpecification) (*domain.ComputationTarget, error)
}

// Func adapts a function to Resolver.
type Func func(ctx context.Context, spec domain.TargetSpecification) (*domain.ComputationTarget, error)

// Resolve implements Resolver.
func (f Func) Resolve(ctx context.Context, spec domain.TargetSpecification) (*domain.ComputationTarget, error) {
	return f(ctx, spec)
}

// Decorator wraps a resolver.
type Decorator func(Resolver) Resolver

type options struct {
	logger     *zap.Logger
	decorators []Decorator
}

// Option configures New.
type Option func(*options)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithDecorator wraps the resolver. Decorators are applied in order, the
// last one outermost, and the result is also used to resolve portfolio
// node children and positions.
func WithDecorator(d Decorator) Option {
	return func(o *options) { o.decorators = append(o.decorators, d) }
}

// New builds the default resolver over the given sources. Either source may
// be nil; resolving a type that needs a missing source returns a *ConfigError.
func New(securities storage.SecuritySource, positions storage.PositionSource, opts ...Option) Resolver {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.logger == nil {
		o.logger = zap.NewNop()
	}

	base := &DefaultResolver{
		securities: securities,
		positions:  positions,
		logger:     o.logger,
	}

	var outer Resolver = base
	for _, d := range o.decorators {
		outer = d(outer)
	}
	base.recursive = outer
	return outer
}

// DefaultResolver resolves targets against the sources. Its recursive
// delegate is fixed when New returns.
type DefaultResolver struct {
	securities storage.SecuritySource
	positions  storage.PositionSource
	recursive  Resolver
	logger     *zap.Logger
}

// Resolve implements Resolver.
func (r *DefaultResolver) Resolve(ctx context.Context, spec domain.TargetSpecification) (*domain.ComputationTarget, error) {
	var (
		target *domain.ComputationTarget
		err    error
	)
	switch spec.Type {
	case domain.TargetPrimitive:
		target = domain.NewPrimitiveTarget(spec.ID)
	case domain.TargetSecurity:
		target, err = r.resolveSecurity(ctx, spec)
	case domain.TargetPosition:
		target, err = r.resolvePosition(ctx, spec)
	case domain.TargetTrade:
		target, err = r.resolveTrade(ctx, spec)
	case domain.TargetPortfolioNode:
		target, err = r.resolvePortfolioNode(ctx, spec)
	default:
		err = &ConfigError{Type: spec.Type, Reason: "unhandled computation target type"}
	}

	switch {
	case err != nil:
		observability.RecordTargetResolution(string(spec.Type), "error")
	case target == nil:
		observability.RecordTargetResolution(string(spec.Type), "miss")
	default:
		observability.RecordTargetResolution(string(spec.Type), "hit")
	}
	return target, err
}

func (r *DefaultResolver) requireSecuritySource(t domain.TargetType) error {
	if r.securities == nil {
		return &ConfigError{Type: t, Reason: fmt.Sprintf(
			"access to a security source is required in order to resolve computation targets of type %s", t)}
	}
	return nil
}

func (r *DefaultResolver) requirePositionSource(t domain.TargetType) error {
	if r.positions == nil {
		return &ConfigError{Type: t, Reason: fmt.Sprintf(
			"access to a position source is required in order to resolve computation targets of type %s", t)}
	}
	return nil
}

func (r *DefaultResolver) resolveSecurity(ctx context.Context, spec domain.TargetSpecification) (*domain.ComputationTarget, error) {
	if err := r.requireSecuritySource(spec.Type); err != nil {
		return nil, err
	}

	sec, err := r.securities.GetSecurity(ctx, spec.ID)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Info("unable to resolve security", zap.Stringer("id", spec.ID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve security %s: %w", spec.ID, err)
	}

	r.logger.Info("resolved security", zap.Stringer("id", spec.ID), zap.String("name", sec.Name))
	return domain.NewSecurityTarget(sec), nil
}

func (r *DefaultResolver) resolvePosition(ctx context.Context, spec domain.TargetSpecification) (*domain.ComputationTarget, error) {
	if err := r.requirePositionSource(spec.Type); err != nil {
		return nil, err
	}
	if err := r.requireSecuritySource(spec.Type); err != nil {
		return nil, err
	}

	pos, err := r.positions.GetPosition(ctx, spec.ID)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Info("unable to resolve position", zap.Stringer("id", spec.ID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve position %s: %w", spec.ID, err)
	}

	if pos.Security == nil && !pos.SecurityKey.IsZero() {
		sec, err := r.lookupSecurity(ctx, pos.SecurityKey)
		if err != nil {
			return nil, fmt.Errorf("resolve security of position %s: %w", spec.ID, err)
		}
		if sec == nil {
			r.logger.Warn("unable to resolve security of position",
				zap.Stringer("position", spec.ID), zap.Stringer("security", pos.SecurityKey))
		} else {
			pos = pos.WithSecurity(sec)
		}
	}
	return domain.NewPositionTarget(pos), nil
}

func (r *DefaultResolver) resolveTrade(ctx context.Context, spec domain.TargetSpecification) (*domain.ComputationTarget, error) {
	if err := r.requirePositionSource(spec.Type); err != nil {
		return nil, err
	}
	if err := r.requireSecuritySource(spec.Type); err != nil {
		return nil, err
	}

	trade, err := r.positions.GetTrade(ctx, spec.ID)
	if errors.Is(err, storage.ErrNotFound) {
		r.logger.Info("unable to resolve trade", zap.Stringer("id", spec.ID))
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("resolve trade %s: %w", spec.ID, err)
	}

	if trade.Security == nil && !trade.SecurityKey.IsZero() {
		sec, err := r.lookupSecurity(ctx, trade.SecurityKey)
		if err != nil {
			return nil, fmt.Errorf("resolve security of trade %s: %w", spec.ID, err)
		}
		if sec == nil {
			r.logger.Warn("unable to resolve security of trade",
				zap.Stringer("trade", spec.ID), zap.Stringer("security", trade.SecurityKey))
		} else {
			trade = trade.WithSecurity(sec)
		}
	}
	return domain.NewTradeTarget(trade), nil
}

// lookupSecurity returns (nil, nil) when the security does not exist.
func (r *DefaultResolver) lookupSecurity(ctx context.Context, id domain.UniqueID) (*domain.Security, error) {
	sec, err := r.securities.GetSecurity(ctx, id)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, nil
	}
	return sec, err
}

func (r *DefaultResolver) resolvePortfolioNode(ctx context.Context, spec domain.TargetSpecification) (*domain.ComputationTarget, error) {
	if err := r.requirePositionSource(spec.Type); err != nil {
		return nil, err
	}

	node, err := r.positions.GetPortfolioNode(ctx, spec.ID)
	if errors.Is(err, storage.ErrNotFound) {
		portfolio, perr := r.positions.GetPortfolio(ctx, spec.ID)
		if errors.Is(perr, storage.ErrNotFound) {
			r.logger.Info("unable to resolve portfolio node", zap.Stringer("id", spec.ID))
			return nil, nil
		}
		if perr != nil {
			return nil, fmt.Errorf("resolve portfolio %s: %w", spec.ID, perr)
		}
		node = portfolio.Root
	} else if err != nil {
		return nil, fmt.Errorf("resolve portfolio node %s: %w", spec.ID, err)
	}

	resolved, err := r.rebuildNode(ctx, node)
	if err != nil {
		return nil, err
	}
	// A portfolio resolves to its root tree under the portfolio's identity.
	resolved.ID = spec.ID
	return domain.NewPortfolioNodeTarget(resolved), nil
}

// rebuildNode resolves every child node and position of node through the
// recursive resolver. Children that cannot be resolved are dropped.
func (r *DefaultResolver) rebuildNode(ctx context.Context, node *domain.PortfolioNode) (*domain.PortfolioNode, error) {
	rebuilt := &domain.PortfolioNode{
		ID:           node.ID,
		ParentNodeID: node.ParentNodeID,
		Name:         node.Name,
		Children:     make([]*domain.PortfolioNode, 0, len(node.Children)),
		Positions:    make([]*domain.Position, 0, len(node.Positions)),
	}

	for _, child := range node.Children {
		childSpec := domain.NewTargetSpecification(domain.TargetPortfolioNode, child.ID)
		target, err := r.recursive.Resolve(ctx, childSpec)
		if err != nil {
			return nil, err
		}
		if target == nil {
			r.logger.Warn("could not resolve child node, omitting",
				zap.Stringer("node", node.ID), zap.Stringer("child", child.ID))
			continue
		}
		resolved, err := target.PortfolioNode()
		if err != nil {
			return nil, err
		}
		rebuilt.Children = append(rebuilt.Children, resolved)
	}

	for _, pos := range node.Positions {
		posSpec := domain.NewTargetSpecification(domain.TargetPosition, pos.ID)
		target, err := r.recursive.Resolve(ctx, posSpec)
		if err != nil {
			return nil, err
		}
		if target == nil {
			r.logger.Warn("could not resolve position, omitting",
				zap.Stringer("node", node.ID), zap.Stringer("position", pos.ID))
			continue
		}
		resolved, err := target.Position()
		if err != nil {
			return nil, err
		}
		rebuilt.Positions = append(rebuilt.Positions, resolved)
	}

	return rebuilt, nil
}

// Verify interface compliance at compile time.
var (
	_ Resolver = (*DefaultResolver)(nil)
	_ Resolver = Func(nil)
)
