package calc

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"risk-view-engine/internal/calcnode"
	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/graph"
	"risk-view-engine/internal/idhash"
	"risk-view-engine/internal/observability"
	"risk-view-engine/internal/transport"
)

var tracer = otel.Tracer("risk-view-engine/calc")

// graphExecutor drives one graph to completion. Only the coordinating
// goroutine in Execute touches the run state; job goroutines report back
// over a channel.
type graphExecutor struct {
	cycle    CycleContext
	invokers []transport.Invoker
	opts     Options
	// privateIntermediates keeps values nobody requested in the calculation
	// node's private cache.
	privateIntermediates bool

	mu    sync.Mutex
	state State
}

func newGraphExecutor(cycle CycleContext, invokers []transport.Invoker, opts Options, privateIntermediates bool) *graphExecutor {
	return &graphExecutor{
		cycle:                cycle,
		invokers:             invokers,
		opts:                 opts,
		privateIntermediates: privateIntermediates,
		state:                StateCreated,
	}
}

// State implements Executor.
func (e *graphExecutor) State() State {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.state
}

func (e *graphExecutor) transition(from, to State) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.state != from {
		return false
	}
	e.state = to
	return true
}

func (e *graphExecutor) setState(s State) {
	e.mu.Lock()
	e.state = s
	e.mu.Unlock()
}

// Execute implements Executor.
func (e *graphExecutor) Execute(ctx context.Context) (*GraphExecutionResult, error) {
	if !e.transition(StateCreated, StateExecuting) {
		return nil, ErrAlreadyStarted
	}

	g := e.cycle.Graph
	if g == nil || len(e.invokers) == 0 {
		e.setState(StateFailed)
		return nil, fmt.Errorf("graph executor: missing graph or invokers")
	}
	if !g.Validated() {
		if err := g.Validate(); err != nil {
			e.setState(StateFailed)
			return nil, fmt.Errorf("validate graph %s: %w", g.Configuration(), err)
		}
	}

	ctx, span := tracer.Start(ctx, "graph.execute",
		trace.WithAttributes(
			attribute.String("cycle_id", e.cycle.CycleID),
			attribute.String("configuration", g.Configuration()),
			attribute.Int("nodes", g.Len()),
		),
	)
	defer span.End()

	start := time.Now()
	r := newRun(e, g)
	r.loop(ctx)

	result := &GraphExecutionResult{
		Outcomes: r.outcomes,
		Jobs:     r.jobs,
		Duration: time.Since(start),
	}
	switch {
	case r.cancelled:
		result.State = StateCancelled
	case len(result.Failed()) > 0:
		result.State = StateFailed
	default:
		result.State = StateCompleted
	}
	e.setState(result.State)

	span.SetAttributes(
		attribute.String("state", string(result.State)),
		attribute.Int("jobs", len(result.Jobs)),
	)
	if result.State == StateCompleted {
		span.SetStatus(codes.Ok, "")
	} else {
		span.SetStatus(codes.Error, string(result.State))
	}
	observability.RecordGraphExecution(string(result.State), result.Duration.Seconds())

	e.opts.Logger.Info("graph execution finished",
		zap.String("cycle_id", e.cycle.CycleID),
		zap.String("configuration", g.Configuration()),
		zap.String("state", string(result.State)),
		zap.Int("nodes", g.Len()),
		zap.Int("jobs", len(result.Jobs)),
		zap.Int("failed", len(result.Failed())),
		zap.Duration("duration", result.Duration),
	)
	return result, nil
}

type jobDone struct {
	plan     plannedJob
	jobID    string
	result   *calcnode.CalculationJobResult
	err      error
	duration time.Duration
}

// run is the mutable state of one execution.
type run struct {
	e *graphExecutor
	g *graph.DependencyGraph

	pending  map[string]int
	ready    []string
	outcomes map[string]NodeOutcome
	loads    []float64
	inFlight int
	results  chan jobDone
	jobs     []JobSummary

	jobCtx     context.Context
	cancelJobs context.CancelFunc
	cancelled  bool
}

func newRun(e *graphExecutor, g *graph.DependencyGraph) *run {
	r := &run{
		e:        e,
		g:        g,
		pending:  make(map[string]int, g.Len()),
		outcomes: make(map[string]NodeOutcome, g.Len()),
		loads:    make([]float64, len(e.invokers)),
		results:  make(chan jobDone, g.Len()+1),
	}
	for _, id := range g.TopologicalOrder() {
		n := len(g.Dependencies(id))
		r.pending[id] = n
		if n == 0 {
			r.ready = append(r.ready, id)
		}
	}
	return r
}

func (r *run) loop(ctx context.Context) {
	// In-flight jobs outlive cancellation of ctx until the abandon timeout.
	r.jobCtx, r.cancelJobs = context.WithCancel(context.WithoutCancel(ctx))
	defer r.cancelJobs()

	for {
		if ctx.Err() == nil {
			r.dispatch()
		}
		if r.inFlight == 0 {
			break
		}
		select {
		case d := <-r.results:
			r.complete(d)
		case <-ctx.Done():
			r.drain()
		}
		if ctx.Err() != nil && r.inFlight == 0 {
			break
		}
	}

	if ctx.Err() != nil {
		for _, id := range r.g.TopologicalOrder() {
			if _, done := r.outcomes[id]; !done {
				r.cancelled = true
				r.outcomes[id] = NodeOutcome{
					NodeID: id,
					Status: NodeNotExecuted,
					Error:  "cancelled",
				}
			}
		}
	}
}

// drain waits for in-flight jobs up to the abandon timeout, then abandons
// whatever is left. Abandoned jobs still send to the buffered channel.
func (r *run) drain() {
	if r.inFlight == 0 {
		return
	}
	r.e.opts.Logger.Info("graph execution cancelled, waiting for in-flight jobs",
		zap.String("cycle_id", r.e.cycle.CycleID),
		zap.Int("in_flight", r.inFlight),
	)

	timer := time.NewTimer(r.e.opts.AbandonTimeout)
	defer timer.Stop()
	for r.inFlight > 0 {
		select {
		case d := <-r.results:
			r.complete(d)
		case <-timer.C:
			r.e.opts.Logger.Warn("abandoning in-flight jobs",
				zap.String("cycle_id", r.e.cycle.CycleID),
				zap.Int("in_flight", r.inFlight),
			)
			r.cancelJobs()
			r.inFlight = 0
			return
		}
	}
}

func (r *run) dispatch() {
	if len(r.ready) == 0 {
		return
	}

	nodes := make([]*graph.DependencyNode, 0, len(r.ready))
	for _, id := range r.ready {
		if _, done := r.outcomes[id]; done {
			continue
		}
		n, _ := r.g.Node(id)
		nodes = append(nodes, n)
	}
	r.ready = r.ready[:0]

	capacities := make([]int, len(r.e.invokers))
	for i, inv := range r.e.invokers {
		capacities[i] = inv.Capacity()
	}
	plans := schedule(nodes, capacities, r.loads, r.e.opts.Costs, r.g.Configuration(), r.e.opts.MaxJobItems)
	for _, p := range plans {
		r.start(p)
	}
}

func (r *run) start(p plannedJob) {
	ids := make([]string, len(p.nodes))
	items := make([]calcnode.JobItem, len(p.nodes))
	var private []domain.ValueSpecification
	for i, n := range p.nodes {
		ids[i] = n.ID
		items[i] = calcnode.JobItem{
			NodeID:     n.ID,
			FunctionID: n.FunctionID,
			Target:     n.Target,
			Inputs:     n.Inputs,
			Outputs:    n.Outputs,
		}
		if r.e.privateIntermediates {
			for _, out := range n.Outputs {
				if !r.g.IsTerminal(out) {
					private = append(private, out)
				}
			}
		}
	}

	jobID := idhash.ComputeJobID(r.e.cycle.CycleID, r.g.Configuration(), ids)
	job := &calcnode.CalculationJob{
		Specification: calcnode.JobSpecification{
			CycleID:       r.e.cycle.CycleID,
			Configuration: r.g.Configuration(),
			JobID:         jobID,
			ValuationTime: r.e.cycle.ValuationTime,
		},
		Items:          items,
		PrivateOutputs: private,
	}

	inv := r.e.invokers[p.invoker]
	r.loads[p.invoker] += p.cost
	r.inFlight++

	r.e.opts.Logger.Debug("dispatching job",
		zap.String("job_id", jobID),
		zap.String("invoker", inv.Name()),
		zap.Int("items", len(items)),
		zap.Float64("estimated_cost", p.cost),
	)

	ctx := r.jobCtx
	results := r.results
	go func() {
		ctx, span := tracer.Start(ctx, "graph.job",
			trace.WithAttributes(
				attribute.String("job_id", jobID),
				attribute.String("invoker", inv.Name()),
				attribute.Int("items", len(items)),
			),
		)
		defer span.End()

		start := time.Now()
		res, err := inv.Invoke(ctx, job)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, err.Error())
		} else {
			span.SetStatus(codes.Ok, "")
		}
		results <- jobDone{plan: p, jobID: jobID, result: res, err: err, duration: time.Since(start)}
	}()
}

func (r *run) complete(d jobDone) {
	r.inFlight--
	r.loads[d.plan.invoker] -= d.plan.cost
	invName := r.e.invokers[d.plan.invoker].Name()

	summary := JobSummary{
		JobID:         d.jobID,
		Invoker:       invName,
		Items:         len(d.plan.nodes),
		EstimatedCost: d.plan.cost,
		DurationNanos: d.duration.Nanoseconds(),
	}
	if d.err != nil {
		summary.Error = d.err.Error()
		r.e.opts.Logger.Warn("job failed",
			zap.String("job_id", d.jobID),
			zap.String("invoker", invName),
			zap.Error(d.err),
		)
	}
	r.jobs = append(r.jobs, summary)

	byNode := make(map[string]calcnode.JobResultItem)
	if d.result != nil {
		for _, it := range d.result.Items {
			byNode[it.NodeID] = it
		}
	}

	for _, n := range d.plan.nodes {
		outcome := NodeOutcome{NodeID: n.ID, Invoker: invName, JobID: d.jobID}
		item, ok := byNode[n.ID]
		switch {
		case d.err != nil:
			outcome.Status = NodeFailure
			outcome.Error = d.err.Error()
		case !ok:
			outcome.Status = NodeFailure
			outcome.Error = "no result reported for node"
		default:
			outcome.Status = NodeStatus(item.Status)
			outcome.Error = item.Error
			outcome.DurationNanos = item.DurationNanos
		}
		r.outcomes[n.ID] = outcome

		if outcome.Status == NodeSuccess {
			r.release(n.ID)
		} else {
			r.failDependents(n.ID)
		}
	}
}

// release decrements the pending count of every dependent of id and queues
// those that became ready.
func (r *run) release(id string) {
	for _, dep := range r.g.Dependents(id) {
		r.pending[dep]--
		if r.pending[dep] == 0 {
			if _, done := r.outcomes[dep]; !done {
				r.ready = append(r.ready, dep)
			}
		}
	}
}

// failDependents marks the whole downstream subtree of origin as failed by
// dependency so none of it is dispatched.
func (r *run) failDependents(origin string) {
	queue := append([]string(nil), r.g.Dependents(origin)...)
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		if _, done := r.outcomes[id]; done {
			continue
		}
		r.outcomes[id] = NodeOutcome{
			NodeID:           id,
			Status:           NodeFailedByDependency,
			Error:            "dependency " + origin + " failed",
			FailedDependency: origin,
		}
		queue = append(queue, r.g.Dependents(id)...)
	}
}
