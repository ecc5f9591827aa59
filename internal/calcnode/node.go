// Package calcnode executes calculation jobs: it resolves each item's
// target, reads inputs from the computation cache, invokes the function and
// writes the outputs back, feeding invocation statistics along the way.
package calcnode

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"risk-view-engine/internal/cache"
	"risk-view-engine/internal/codec"
	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/function"
	"risk-view-engine/internal/observability"
	"risk-view-engine/internal/portfolio"
	"risk-view-engine/internal/resolver"
	"risk-view-engine/internal/stats"
)

// Write modes.
const (
	WriteImmediate = "immediate"
	WriteDeferred  = "deferred"
)

// Config configures a Node.
type Config struct {
	ID        string
	Functions *function.Repository
	Resolver  resolver.Resolver
	Structure *portfolio.Structure
	Caches    *cache.Source
	Gatherer  stats.Gatherer
	WriteMode string
	QueueSize int
	Logger    *zap.Logger
}

// Node executes jobs against a cache source.
type Node struct {
	cfg    Config
	logger *zap.Logger
}

// NewNode creates a calculation node.
func NewNode(cfg Config) *Node {
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}
	if cfg.Gatherer == nil {
		cfg.Gatherer = stats.DiscardingGatherer{}
	}
	if cfg.WriteMode == "" {
		cfg.WriteMode = WriteImmediate
	}
	return &Node{cfg: cfg, logger: cfg.Logger.With(zap.String("calc_node", cfg.ID))}
}

// ID returns the node identifier.
func (n *Node) ID() string { return n.cfg.ID }

// ReleaseCycle drops the node's caches for a finished cycle.
func (n *Node) ReleaseCycle(ctx context.Context, cycleID string) error {
	if err := n.cfg.Caches.ReleaseCaches(ctx, cycleID); err != nil {
		return fmt.Errorf("release cycle %s: %w", cycleID, err)
	}
	n.logger.Debug("released cycle caches", zap.String("cycle_id", cycleID))
	return nil
}

// ExecuteJob runs every item in order and returns once all of the job's
// writes have landed. Item failures are reported in the result; the error
// is reserved for failures that prevent running the job at all.
func (n *Node) ExecuteJob(ctx context.Context, job *CalculationJob) (*CalculationJobResult, error) {
	if job == nil || len(job.Items) == 0 {
		return nil, errors.New("empty calculation job")
	}
	start := time.Now()
	spec := job.Specification

	vc := n.cfg.Caches.Cache(spec.CycleID, spec.Configuration)
	hint := cache.PrivateValues(job.PrivateOutputs...)

	var wc cache.WriteCache
	switch n.cfg.WriteMode {
	case WriteDeferred:
		deferred := cache.NewDeferredWriteCache(vc, hint, n.cfg.QueueSize, n.logger)
		defer deferred.Close()
		wc = deferred
	case WriteImmediate:
		wc = cache.NewImmediateWriteCache(vc, hint)
	default:
		return nil, fmt.Errorf("unknown cache write mode %q", n.cfg.WriteMode)
	}

	ectx := &function.ExecutionContext{
		Configuration: spec.Configuration,
		ValuationTime: spec.ValuationTime,
		Resolver:      n.cfg.Resolver,
		Structure:     n.cfg.Structure,
		Logger:        n.logger,
	}

	result := &CalculationJobResult{
		Specification: spec,
		Items:         make([]JobResultItem, len(job.Items)),
		CalcNodeID:    n.cfg.ID,
	}
	for i, item := range job.Items {
		if err := ctx.Err(); err != nil {
			result.Items[i] = JobResultItem{NodeID: item.NodeID, Status: StatusNotExecuted, Error: err.Error()}
			continue
		}
		result.Items[i] = n.executeItem(ctx, ectx, wc, item)
	}

	if err := wc.WaitForPendingWrites(ctx); err != nil {
		n.failUnwritten(job, result, err)
	}

	for _, it := range result.Items {
		observability.RecordJobItem(it.Status.String())
	}
	result.DurationNanos = time.Since(start).Nanoseconds()

	n.logger.Debug("job executed",
		zap.String("cycle", spec.CycleID),
		zap.String("job", spec.JobID),
		zap.Int("items", len(job.Items)),
		zap.Int("failed", len(result.Failed())),
		zap.Duration("duration", time.Duration(result.DurationNanos)))
	return result, nil
}

func (n *Node) executeItem(ctx context.Context, ectx *function.ExecutionContext, wc cache.WriteCache, item JobItem) JobResultItem {
	start := time.Now()
	res := JobResultItem{NodeID: item.NodeID}
	finish := func(status ItemStatus, err error) JobResultItem {
		res.Status = status
		if err != nil {
			res.Error = err.Error()
		}
		res.DurationNanos = time.Since(start).Nanoseconds()
		return res
	}

	fn, err := n.cfg.Functions.Get(item.FunctionID)
	if err != nil {
		return finish(StatusFailure, err)
	}

	target, err := n.cfg.Resolver.Resolve(ctx, item.Target)
	if err != nil {
		return finish(StatusFailure, err)
	}
	if target == nil {
		return finish(StatusTargetNotFound, fmt.Errorf("target %s not found", item.Target))
	}

	inputs := make(function.Inputs, 0, len(item.Inputs))
	var inputBytes int64
	for _, spec := range item.Inputs {
		v, ok, err := wc.GetValue(ctx, spec)
		if err != nil {
			return finish(StatusFailure, err)
		}
		if !ok {
			res.MissingInputs = append(res.MissingInputs, spec)
			continue
		}
		if size, err := codec.Size(v.Value); err == nil {
			inputBytes += int64(size)
		}
		inputs = append(inputs, v)
	}
	if len(res.MissingInputs) > 0 {
		return finish(StatusMissingInputs, fmt.Errorf("%d of %d inputs missing", len(res.MissingInputs), len(item.Inputs)))
	}

	statistics := stats.NewDeferredInvocationStatistics(n.cfg.Gatherer, ectx.Configuration)
	statistics.SetFunctionID(fn.ID())
	statistics.SetDataInputBytes(inputBytes, len(inputs))

	statistics.BeginInvocation()
	values, err := invoke(ctx, fn, ectx, target, inputs, item.Outputs)
	statistics.EndInvocation()
	if err != nil {
		return finish(StatusFailure, fmt.Errorf("%s on %s: %w", fn.ID(), item.Target, err))
	}

	values, err = selectOutputs(values, item.Outputs)
	if err != nil {
		return finish(StatusFailure, fmt.Errorf("%s on %s: %w", fn.ID(), item.Target, err))
	}

	statistics.SetExpectedDataOutputSamples(len(values))
	if err := wc.PutValues(ctx, values, statistics); err != nil {
		return finish(StatusFailure, err)
	}
	return finish(StatusSuccess, nil)
}

// invoke calls the function, turning a panic into an error.
func invoke(
	ctx context.Context,
	fn function.Function,
	ectx *function.ExecutionContext,
	target *domain.ComputationTarget,
	inputs function.Inputs,
	desired []domain.ValueSpecification,
) (values []domain.ComputedValue, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("function panicked: %v", r)
		}
	}()
	return fn.Execute(ctx, ectx, target, inputs, desired)
}

// selectOutputs returns the desired values in desired order and fails if the
// function did not produce one of them.
func selectOutputs(values []domain.ComputedValue, desired []domain.ValueSpecification) ([]domain.ComputedValue, error) {
	byKey := make(map[string]domain.ComputedValue, len(values))
	for _, v := range values {
		byKey[v.Specification.Key()] = v
	}
	out := make([]domain.ComputedValue, 0, len(desired))
	for _, spec := range desired {
		v, ok := byKey[spec.Key()]
		if !ok {
			return nil, fmt.Errorf("output %s not produced", spec)
		}
		out = append(out, v)
	}
	return out, nil
}

// failUnwritten marks items whose outputs never landed as failed.
func (n *Node) failUnwritten(job *CalculationJob, result *CalculationJobResult, err error) {
	var we *cache.WriteError
	if !errors.As(err, &we) {
		for i := range result.Items {
			if result.Items[i].Status.IsSuccess() {
				result.Items[i].Status = StatusFailure
				result.Items[i].Error = fmt.Sprintf("write barrier: %v", err)
			}
		}
		return
	}

	failed := make(map[string]struct{}, len(we.Failed))
	for _, s := range we.Failed {
		failed[s.Key()] = struct{}{}
	}
	for i, item := range job.Items {
		if !result.Items[i].Status.IsSuccess() {
			continue
		}
		for _, out := range item.Outputs {
			if _, bad := failed[out.Key()]; bad {
				result.Items[i].Status = StatusFailure
				result.Items[i].Error = we.Error()
				break
			}
		}
	}
	n.logger.Warn("cache writes failed", zap.String("job", job.Specification.JobID), zap.Error(err))
}
