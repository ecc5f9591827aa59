// Package stats maintains per-function cost estimates used to schedule
// dependency graph execution.
//
// Each estimate blends observations in two phases. While fewer than Window
// invocations have been seen the estimate is the exact cumulative mean. After
// that it is an exponentially weighted moving average with weight
// count/Window per observation (capped at 1):
//
//	mean' = mean + (x - mean) * count/(n+count)   while n+count <= Window
//	mean' = mean + (x - mean) * min(1, count/Window) otherwise
//
// A stream of identical observations therefore leaves the estimate exactly at
// that value, and a shift in behaviour is followed with a time constant of
// roughly Window invocations.
package stats

import (
	"math"
	"sync"
	"time"
)

// DefaultWindow is the number of invocations averaged exactly before the
// estimate switches to exponential smoothing.
const DefaultWindow = 100

// Conservative estimates for functions that have never been observed.
const (
	DefaultInvocationCost = float64(time.Millisecond) // nanoseconds
	DefaultDataInputCost  = 1024                      // bytes
	DefaultDataOutputCost = 1024                      // bytes
)

// Costs is a point-in-time estimate for one function.
type Costs struct {
	InvocationCost float64 // nanoseconds per invocation
	DataInputCost  float64 // bytes per input
	DataOutputCost float64 // bytes per output
}

// DefaultCosts is returned for unobserved functions.
var DefaultCosts = Costs{
	InvocationCost: DefaultInvocationCost,
	DataInputCost:  DefaultDataInputCost,
	DataOutputCost: DefaultDataOutputCost,
}

// FunctionInvocationStatistics is the running cost estimate of one function.
// Safe for concurrent use.
type FunctionInvocationStatistics struct {
	functionID string
	window     int

	mu           sync.Mutex
	samples      int64
	inputSamples int64
	costs        Costs
	lastUpdate   time.Time
}

// NewFunctionInvocationStatistics creates an empty estimate with DefaultWindow.
func NewFunctionInvocationStatistics(functionID string) *FunctionInvocationStatistics {
	return newFunctionInvocationStatistics(functionID, DefaultWindow)
}

func newFunctionInvocationStatistics(functionID string, window int) *FunctionInvocationStatistics {
	if window <= 0 {
		window = DefaultWindow
	}
	return &FunctionInvocationStatistics{functionID: functionID, window: window}
}

// FunctionID returns the function this estimate belongs to.
func (s *FunctionInvocationStatistics) FunctionID() string {
	return s.functionID
}

// RecordInvocation folds count invocations into the estimate.
// invocationNanos is the total time of all count invocations; dataInputBytes
// and dataOutputBytes are per-invocation averages. A NaN input cost (no inputs
// sampled) leaves the input estimate unchanged.
func (s *FunctionInvocationStatistics) RecordInvocation(count int, invocationNanos, dataInputBytes, dataOutputBytes float64) {
	if count <= 0 {
		return
	}
	perInvocation := invocationNanos / float64(count)

	s.mu.Lock()
	defer s.mu.Unlock()

	w := s.weight(s.samples, count)
	s.costs.InvocationCost = blend(s.costs.InvocationCost, perInvocation, w)
	s.costs.DataOutputCost = blend(s.costs.DataOutputCost, dataOutputBytes, w)
	s.samples += int64(count)

	if !math.IsNaN(dataInputBytes) {
		s.costs.DataInputCost = blend(s.costs.DataInputCost, dataInputBytes, s.weight(s.inputSamples, count))
		s.inputSamples += int64(count)
	}
	s.lastUpdate = time.Now()
}

// weight returns the blending weight of a new observation of count samples
// given n previous samples.
func (s *FunctionInvocationStatistics) weight(n int64, count int) float64 {
	total := n + int64(count)
	if total <= int64(s.window) {
		return float64(count) / float64(total)
	}
	return math.Min(1, float64(count)/float64(s.window))
}

func blend(mean, x, w float64) float64 {
	return mean + (x-mean)*w
}

// Costs returns the current estimate, or DefaultCosts if nothing has been
// recorded. An unobserved input cost falls back to DefaultDataInputCost.
func (s *FunctionInvocationStatistics) Costs() Costs {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.samples == 0 {
		return DefaultCosts
	}
	c := s.costs
	if s.inputSamples == 0 {
		c.DataInputCost = DefaultDataInputCost
	}
	return c
}

// InvocationCost returns the estimated nanoseconds per invocation.
func (s *FunctionInvocationStatistics) InvocationCost() float64 { return s.Costs().InvocationCost }

// DataInputCost returns the estimated bytes per input.
func (s *FunctionInvocationStatistics) DataInputCost() float64 { return s.Costs().DataInputCost }

// DataOutputCost returns the estimated bytes per output.
func (s *FunctionInvocationStatistics) DataOutputCost() float64 { return s.Costs().DataOutputCost }

// Samples returns the number of invocations folded in so far.
func (s *FunctionInvocationStatistics) Samples() int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.samples
}

// LastUpdate returns the time of the most recent observation.
func (s *FunctionInvocationStatistics) LastUpdate() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastUpdate
}
