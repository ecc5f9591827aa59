// Package cycle runs computation cycles.
// Flow per calculation configuration: resolve targets → build graph →
// publish market data → execute → barrier → assemble results.
package cycle

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"risk-view-engine/internal/cache"
	"risk-view-engine/internal/calc"
	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/function"
	"risk-view-engine/internal/graph"
	"risk-view-engine/internal/observability"
	"risk-view-engine/internal/portfolio"
	"risk-view-engine/internal/resolver"
	"risk-view-engine/internal/storage"
)

// Cycle statuses.
const (
	StatusCompleted = "COMPLETED"
	StatusFailed    = "FAILED"
	StatusCancelled = "CANCELLED"
)

// ResultStatus is the outcome of one requested value.
type ResultStatus string

const (
	ResultValue           ResultStatus = "VALUE"
	ResultCouldNotCompute ResultStatus = "COULD_NOT_COMPUTE"
	ResultTargetNotFound  ResultStatus = "TARGET_NOT_FOUND"
)

// Configuration is a named set of value requirements.
type Configuration struct {
	Name         string
	Requirements []domain.ValueRequirement
}

// ComputedResult answers one requested value.
type ComputedResult struct {
	Requirement   domain.ValueRequirement
	Specification domain.ValueSpecification
	Status        ResultStatus
	Value         any
	Error         string
	// FailedNode is the node whose failure caused COULD_NOT_COMPUTE.
	FailedNode string
}

// ConfigurationResult holds the results of one configuration.
type ConfigurationResult struct {
	Name      string
	State     calc.State
	Results   []ComputedResult
	Execution *calc.GraphExecutionResult
	Error     string
}

// RunResult is the outcome of one cycle.
type RunResult struct {
	CycleID        string
	ValuationTime  time.Time
	Status         string
	Configurations []ConfigurationResult
	Duration       time.Duration
}

// Result returns the configuration result by name.
func (r *RunResult) Result(name string) (*ConfigurationResult, bool) {
	for i := range r.Configurations {
		if r.Configurations[i].Name == name {
			return &r.Configurations[i], true
		}
	}
	return nil, false
}

// ResultListener is notified when a cycle finishes.
type ResultListener interface {
	CycleCompleted(ctx context.Context, result *RunResult)
}

// ListenerFunc adapts a function to ResultListener.
type ListenerFunc func(ctx context.Context, result *RunResult)

// CycleCompleted implements ResultListener.
func (f ListenerFunc) CycleCompleted(ctx context.Context, result *RunResult) { f(ctx, result) }

// CycleReleaser drops the state a calculation node keeps for a finished
// cycle.
type CycleReleaser interface {
	ReleaseCycle(ctx context.Context, cycleID string) error
}

// Options for creating a Runner.
type Options struct {
	// Required
	Builder    *graph.Builder
	Resolver   resolver.Resolver
	MarketData storage.MarketDataSource
	Caches     *cache.Source
	Executors  calc.ExecutorFactory

	// Optional
	Structure      *portfolio.Structure
	JobResults     storage.JobResultStore
	Listeners      []ResultListener
	Configurations []Configuration
	// Releasers are told when a cycle ends so remote nodes drop its caches.
	Releasers []CycleReleaser
	// ResolveWorkers bounds concurrent target pre-resolution.
	ResolveWorkers int
	Logger         *zap.Logger
	Now            func() time.Time
}

// Runner executes computation cycles.
type Runner struct {
	opts   Options
	logger *zap.Logger
}

// New creates a Runner.
func New(opts Options) (*Runner, error) {
	if opts.Builder == nil || opts.Resolver == nil || opts.MarketData == nil || opts.Caches == nil || opts.Executors == nil {
		return nil, errors.New("cycle: builder, resolver, market data, caches and executors are required")
	}
	if opts.ResolveWorkers <= 0 {
		opts.ResolveWorkers = 8
	}
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Runner{opts: opts, logger: opts.Logger}, nil
}

// Run executes one cycle over every configuration. Per-value failures are
// reported in the result; the error is reserved for failures that stop the
// cycle from producing a result at all.
func (r *Runner) Run(ctx context.Context) (*RunResult, error) {
	start := time.Now()
	result := &RunResult{
		CycleID:       uuid.NewString(),
		ValuationTime: r.opts.Now().UTC(),
	}
	logger := r.logger.With(zap.String("cycle_id", result.CycleID))
	logger.Info("cycle started", zap.Int("configurations", len(r.opts.Configurations)))

	for _, cfg := range r.opts.Configurations {
		if ctx.Err() != nil {
			result.Configurations = append(result.Configurations, ConfigurationResult{
				Name:  cfg.Name,
				State: calc.StateCancelled,
				Error: ctx.Err().Error(),
			})
			continue
		}
		cr := r.runConfiguration(ctx, logger, result, cfg)
		result.Configurations = append(result.Configurations, cr)
	}

	// Cleanup must happen even when the cycle was cancelled.
	cleanupCtx := context.WithoutCancel(ctx)
	if err := r.opts.Caches.ReleaseCaches(cleanupCtx, result.CycleID); err != nil {
		logger.Warn("release caches failed", zap.Error(err))
	}
	for _, rel := range r.opts.Releasers {
		if err := rel.ReleaseCycle(cleanupCtx, result.CycleID); err != nil {
			logger.Warn("release remote caches failed", zap.Error(err))
		}
	}

	result.Status = StatusCompleted
	for _, cr := range result.Configurations {
		switch cr.State {
		case calc.StateCancelled:
			result.Status = StatusCancelled
		case calc.StateFailed:
			if result.Status != StatusCancelled {
				result.Status = StatusFailed
			}
		}
	}
	result.Duration = time.Since(start)
	observability.RecordCycle(result.Status, result.Duration.Seconds(), time.Now().Unix())

	logger.Info("cycle finished",
		zap.String("status", result.Status),
		zap.Duration("duration", result.Duration),
	)

	for _, l := range r.opts.Listeners {
		l.CycleCompleted(cleanupCtx, result)
	}
	return result, nil
}

// RunEvery runs cycles back to back, one per interval, until ctx is done.
func (r *Runner) RunEvery(ctx context.Context, interval time.Duration) error {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if _, err := r.Run(ctx); err != nil {
			r.logger.Error("cycle failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

func (r *Runner) runConfiguration(ctx context.Context, logger *zap.Logger, run *RunResult, cfg Configuration) ConfigurationResult {
	logger = logger.With(zap.String("configuration", cfg.Name))
	cr := ConfigurationResult{Name: cfg.Name}
	fail := func(err error) ConfigurationResult {
		logger.Error("configuration failed", zap.Error(err))
		cr.State = calc.StateFailed
		cr.Error = err.Error()
		for _, req := range cfg.Requirements {
			cr.Results = append(cr.Results, ComputedResult{
				Requirement: req,
				Status:      ResultCouldNotCompute,
				Error:       err.Error(),
			})
		}
		return cr
	}

	ectx := &function.ExecutionContext{
		Configuration: cfg.Name,
		ValuationTime: run.ValuationTime,
		Resolver:      r.opts.Resolver,
		Structure:     r.opts.Structure,
		Logger:        logger,
	}

	// Phase 1: resolve targets
	if err := r.preResolve(ctx, cfg.Requirements); err != nil {
		return fail(fmt.Errorf("resolve targets: %w", err))
	}

	// Phase 2: build graph
	g, err := r.opts.Builder.Build(ctx, ectx, cfg.Requirements)
	if err != nil {
		return fail(fmt.Errorf("build graph: %w", err))
	}

	// Phase 3: publish market data
	vc := r.opts.Caches.Cache(run.CycleID, cfg.Name)
	writer := cache.NewImmediateWriteCache(vc, cache.AllShared())
	if md := g.MarketDataRequirements(); len(md) > 0 {
		values, err := r.opts.MarketData.Snapshot(ctx, md)
		if err != nil {
			return fail(fmt.Errorf("market data snapshot: %w", err))
		}
		if len(values) < len(md) {
			logger.Warn("market data incomplete", zap.Int("requested", len(md)), zap.Int("available", len(values)))
		}
		if err := writer.PutValues(ctx, values, nil); err != nil {
			return fail(fmt.Errorf("publish market data: %w", err))
		}
	}

	// Phase 4: execute
	exec := r.opts.Executors.CreateExecutor(calc.CycleContext{
		CycleID:       run.CycleID,
		ValuationTime: run.ValuationTime,
		Graph:         g,
	})
	res, err := exec.Execute(ctx)
	if err != nil {
		return fail(fmt.Errorf("execute graph: %w", err))
	}
	cr.State = res.State
	cr.Execution = res

	// Phase 5: barrier, then assemble
	readCtx := context.WithoutCancel(ctx)
	if err := writer.WaitForPendingWrites(readCtx); err != nil {
		return fail(fmt.Errorf("wait for pending writes: %w", err))
	}
	cr.Results = inRequestOrder(cfg.Requirements, r.assemble(readCtx, logger, g, res, vc))

	r.recordJobItems(readCtx, logger, run, g, res)
	return cr
}

// preResolve resolves the requested targets concurrently so that the graph
// builder finds them in the resolver cache. Misses are left to the builder.
func (r *Runner) preResolve(ctx context.Context, reqs []domain.ValueRequirement) error {
	seen := make(map[domain.TargetSpecification]struct{}, len(reqs))
	eg, egCtx := errgroup.WithContext(ctx)
	eg.SetLimit(r.opts.ResolveWorkers)
	for _, req := range reqs {
		spec := req.Target
		if _, dup := seen[spec]; dup {
			continue
		}
		seen[spec] = struct{}{}
		eg.Go(func() error {
			if _, err := r.opts.Resolver.Resolve(egCtx, spec); err != nil {
				return fmt.Errorf("%s: %w", spec, err)
			}
			return nil
		})
	}
	return eg.Wait()
}

func (r *Runner) assemble(
	ctx context.Context,
	logger *zap.Logger,
	g *graph.DependencyGraph,
	res *calc.GraphExecutionResult,
	vc *cache.ViewComputationCache,
) []ComputedResult {
	terminal := g.TerminalOutputs()
	results := make([]ComputedResult, 0, len(terminal)+len(g.Unsatisfied()))

	for _, t := range terminal {
		cr := ComputedResult{Requirement: t.Requirement, Specification: t.Specification}

		nodeID, produced := g.Producer(t.Specification)
		outcome, ran := res.Outcomes[nodeID]
		switch {
		case produced && ran && outcome.Status == calc.NodeTargetNotFound:
			cr.Status = ResultTargetNotFound
			cr.Error = outcome.Error
		case produced && ran && outcome.Status != calc.NodeSuccess:
			cr.Status = ResultCouldNotCompute
			cr.Error = outcome.Error
			cr.FailedNode = nodeID
			if outcome.FailedDependency != "" {
				cr.FailedNode = outcome.FailedDependency
			}
		default:
			v, ok, err := vc.GetValue(ctx, t.Specification)
			switch {
			case err != nil:
				logger.Warn("read result failed", zap.String("value", t.Specification.String()), zap.Error(err))
				cr.Status = ResultCouldNotCompute
				cr.Error = err.Error()
			case !ok:
				cr.Status = ResultCouldNotCompute
				cr.Error = "value not in cache"
				if produced {
					cr.FailedNode = nodeID
				}
			default:
				cr.Status = ResultValue
				cr.Value = v.Value
			}
		}
		results = append(results, cr)
	}

	for _, u := range g.Unsatisfied() {
		cr := ComputedResult{Requirement: u.Requirement, Status: ResultCouldNotCompute, Error: u.Reason}
		if u.TargetNotFound {
			cr.Status = ResultTargetNotFound
		}
		results = append(results, cr)
	}
	return results
}

// inRequestOrder arranges results to follow reqs. Results whose requirement
// is not in reqs keep their relative order at the end.
func inRequestOrder(reqs []domain.ValueRequirement, results []ComputedResult) []ComputedResult {
	byReq := make(map[string][]ComputedResult, len(results))
	for _, res := range results {
		key := res.Requirement.String()
		byReq[key] = append(byReq[key], res)
	}

	out := make([]ComputedResult, 0, len(results))
	for _, req := range reqs {
		key := req.String()
		if queued := byReq[key]; len(queued) > 0 {
			out = append(out, queued[0])
			byReq[key] = queued[1:]
		}
	}
	for _, res := range results {
		key := res.Requirement.String()
		if queued := byReq[key]; len(queued) > 0 {
			out = append(out, queued[0])
			byReq[key] = queued[1:]
		}
	}
	return out
}

func (r *Runner) recordJobItems(
	ctx context.Context,
	logger *zap.Logger,
	run *RunResult,
	g *graph.DependencyGraph,
	res *calc.GraphExecutionResult,
) {
	if r.opts.JobResults == nil {
		return
	}

	executedAt := time.Now().UTC()
	var records []*domain.JobItemRecord
	for _, id := range g.TopologicalOrder() {
		o, ok := res.Outcomes[id]
		if !ok || o.JobID == "" {
			continue
		}
		n, _ := g.Node(id)
		records = append(records, &domain.JobItemRecord{
			CycleID:       run.CycleID,
			JobID:         o.JobID,
			CalcNodeID:    o.Invoker,
			Configuration: g.Configuration(),
			FunctionID:    n.FunctionID,
			Target:        n.Target.String(),
			Status:        string(o.Status),
			Error:         o.Error,
			DurationNanos: o.DurationNanos,
			ExecutedAt:    executedAt,
		})
	}
	if err := r.opts.JobResults.InsertBulk(ctx, records); err != nil {
		logger.Warn("persist job telemetry failed", zap.Int("records", len(records)), zap.Error(err))
	}
}
