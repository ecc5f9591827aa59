package stats

import (
	"sort"
	"sync"
	"time"

	"risk-view-engine/internal/domain"
	"risk-view-engine/internal/observability"
)

// Gatherer receives invocation observations.
type Gatherer interface {
	// FunctionInvoked records count invocations of functionID under the named
	// calculation configuration. invocationNanos is the total time; data costs
	// are per-invocation byte averages (dataInputBytes may be NaN).
	FunctionInvoked(configuration, functionID string, count int, invocationNanos, dataInputBytes, dataOutputBytes float64)
}

// CostSource provides estimates for scheduling.
type CostSource interface {
	// Estimate returns the current costs, or DefaultCosts if unobserved.
	Estimate(configuration, functionID string) Costs
}

// DiscardingGatherer drops all observations.
type DiscardingGatherer struct{}

// FunctionInvoked implements Gatherer.
func (DiscardingGatherer) FunctionInvoked(string, string, int, float64, float64, float64) {}

// MultiGatherer fans observations out to several gatherers.
type MultiGatherer []Gatherer

// FunctionInvoked implements Gatherer.
func (m MultiGatherer) FunctionInvoked(configuration, functionID string, count int, invocationNanos, dataInputBytes, dataOutputBytes float64) {
	for _, g := range m {
		g.FunctionInvoked(configuration, functionID, count, invocationNanos, dataInputBytes, dataOutputBytes)
	}
}

// MetricsGatherer exports observations as Prometheus metrics.
type MetricsGatherer struct {
	metrics *observability.Metrics
}

// NewMetricsGatherer creates a MetricsGatherer. A nil metrics uses the defaults.
func NewMetricsGatherer(m *observability.Metrics) *MetricsGatherer {
	if m == nil {
		m = observability.DefaultMetrics
	}
	return &MetricsGatherer{metrics: m}
}

// FunctionInvoked implements Gatherer.
func (g *MetricsGatherer) FunctionInvoked(configuration, functionID string, count int, invocationNanos, _, dataOutputBytes float64) {
	if count <= 0 {
		return
	}
	g.metrics.FunctionInvocations.WithLabelValues(configuration, functionID).Add(float64(count))
	g.metrics.FunctionInvocationSeconds.WithLabelValues(functionID).
		Observe(time.Duration(invocationNanos / float64(count)).Seconds())
	g.metrics.FunctionOutputBytes.WithLabelValues(functionID).Observe(dataOutputBytes)
}

// Store keeps estimates per calculation configuration and function.
// Entries are created on first use; each entry has its own lock so
// concurrent observations of different functions never contend.
type Store struct {
	window  int
	configs sync.Map // configuration -> *sync.Map (functionID -> *FunctionInvocationStatistics)
}

// NewStore creates an empty Store. A window of zero uses DefaultWindow.
func NewStore(window int) *Store {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Store{window: window}
}

// Statistics returns the estimate for (configuration, functionID), creating
// it if needed.
func (s *Store) Statistics(configuration, functionID string) *FunctionInvocationStatistics {
	fns := s.functions(configuration)
	if v, ok := fns.Load(functionID); ok {
		return v.(*FunctionInvocationStatistics)
	}
	v, _ := fns.LoadOrStore(functionID, newFunctionInvocationStatistics(functionID, s.window))
	return v.(*FunctionInvocationStatistics)
}

func (s *Store) functions(configuration string) *sync.Map {
	if v, ok := s.configs.Load(configuration); ok {
		return v.(*sync.Map)
	}
	v, _ := s.configs.LoadOrStore(configuration, &sync.Map{})
	return v.(*sync.Map)
}

// FunctionInvoked implements Gatherer.
func (s *Store) FunctionInvoked(configuration, functionID string, count int, invocationNanos, dataInputBytes, dataOutputBytes float64) {
	s.Statistics(configuration, functionID).RecordInvocation(count, invocationNanos, dataInputBytes, dataOutputBytes)
}

// Estimate implements CostSource.
func (s *Store) Estimate(configuration, functionID string) Costs {
	v, ok := s.configs.Load(configuration)
	if !ok {
		return DefaultCosts
	}
	fs, ok := v.(*sync.Map).Load(functionID)
	if !ok {
		return DefaultCosts
	}
	return fs.(*FunctionInvocationStatistics).Costs()
}

// Snapshot returns persistable records for every observed function, ordered
// by configuration then function.
func (s *Store) Snapshot() []*domain.FunctionCosts {
	var records []*domain.FunctionCosts
	s.configs.Range(func(k, v any) bool {
		configuration := k.(string)
		v.(*sync.Map).Range(func(_, fv any) bool {
			fs := fv.(*FunctionInvocationStatistics)
			if fs.Samples() == 0 {
				return true
			}
			r := ToRecord(fs)
			r.Configuration = configuration
			records = append(records, r)
			return true
		})
		return true
	})

	sort.Slice(records, func(i, j int) bool {
		if records[i].Configuration != records[j].Configuration {
			return records[i].Configuration < records[j].Configuration
		}
		return records[i].FunctionID < records[j].FunctionID
	})
	return records
}

// Load seeds the store from persisted records. Each record counts as a single
// observation, so live observations quickly take over.
func (s *Store) Load(records []*domain.FunctionCosts) {
	for _, r := range records {
		s.Statistics(r.Configuration, r.FunctionID).
			RecordInvocation(1, r.InvocationCost, r.DataInputCost, r.DataOutputCost)
	}
}

// Verify interface compliance at compile time.
var (
	_ Gatherer   = (*Store)(nil)
	_ CostSource = (*Store)(nil)
	_ Gatherer   = DiscardingGatherer{}
	_ Gatherer   = MultiGatherer(nil)
	_ Gatherer   = (*MetricsGatherer)(nil)
)
