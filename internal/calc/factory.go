package calc

import (
	"time"

	"go.uber.org/zap"

	"risk-view-engine/internal/stats"
	"risk-view-engine/internal/transport"
)

// DefaultMaxJobItems is the job batch size used when none is configured.
const DefaultMaxJobItems = 16

// Options tune graph execution.
type Options struct {
	// MaxJobItems caps the number of nodes batched into one job.
	MaxJobItems int
	// AbandonTimeout bounds the wait for in-flight jobs after cancellation.
	AbandonTimeout time.Duration
	// Costs provides per-function cost estimates. Nil uses defaults.
	Costs  stats.CostSource
	Logger *zap.Logger
}

func (o Options) withDefaults() Options {
	if o.MaxJobItems <= 0 {
		o.MaxJobItems = DefaultMaxJobItems
	}
	if o.AbandonTimeout <= 0 {
		o.AbandonTimeout = 30 * time.Second
	}
	if o.Costs == nil {
		o.Costs = defaultCosts{}
	}
	if o.Logger == nil {
		o.Logger = zap.NewNop()
	}
	return o
}

type defaultCosts struct{}

func (defaultCosts) Estimate(string, string) stats.Costs { return stats.DefaultCosts }

// SingleNodeExecutorFactory runs every node on one calculation node, one
// node per job. Intermediate values stay in that node's private cache;
// requested values are written to the shared cache.
type SingleNodeExecutorFactory struct {
	invoker transport.Invoker
	opts    Options
}

// NewSingleNodeExecutorFactory creates a single-node factory.
func NewSingleNodeExecutorFactory(invoker transport.Invoker, opts Options) *SingleNodeExecutorFactory {
	opts = opts.withDefaults()
	opts.MaxJobItems = 1
	return &SingleNodeExecutorFactory{invoker: invoker, opts: opts}
}

// CreateExecutor implements ExecutorFactory.
func (f *SingleNodeExecutorFactory) CreateExecutor(cycle CycleContext) Executor {
	return newGraphExecutor(cycle, []transport.Invoker{f.invoker}, f.opts, true)
}

// MultiNodeExecutorFactory spreads nodes over several invokers by estimated
// cost. Every value goes to the shared cache so any node can consume it.
type MultiNodeExecutorFactory struct {
	invokers []transport.Invoker
	opts     Options
}

// NewMultiNodeExecutorFactory creates a multi-node factory.
func NewMultiNodeExecutorFactory(invokers []transport.Invoker, opts Options) *MultiNodeExecutorFactory {
	return &MultiNodeExecutorFactory{invokers: invokers, opts: opts.withDefaults()}
}

// CreateExecutor implements ExecutorFactory.
func (f *MultiNodeExecutorFactory) CreateExecutor(cycle CycleContext) Executor {
	return newGraphExecutor(cycle, f.invokers, f.opts, false)
}

var (
	_ ExecutorFactory = (*SingleNodeExecutorFactory)(nil)
	_ ExecutorFactory = (*MultiNodeExecutorFactory)(nil)
)
