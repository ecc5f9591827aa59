// Package calc executes a cycle's dependency graph on calculation nodes.
package calc

import (
	"context"
	"errors"
	"time"

	"risk-view-engine/internal/graph"
)

// State is the lifecycle state of a graph execution.
type State string

const (
	StateCreated   State = "CREATED"
	StateExecuting State = "EXECUTING"
	StateCompleted State = "COMPLETED"
	StateFailed    State = "FAILED"
	StateCancelled State = "CANCELLED"
)

// IsTerminal reports whether no further transition is possible.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateFailed || s == StateCancelled
}

// NodeStatus is the outcome of one dependency node.
type NodeStatus string

const (
	NodeSuccess            NodeStatus = "SUCCESS"
	NodeFailure            NodeStatus = "FAILURE"
	NodeMissingInputs      NodeStatus = "MISSING_INPUTS"
	NodeTargetNotFound     NodeStatus = "TARGET_NOT_FOUND"
	NodeNotExecuted        NodeStatus = "NOT_EXECUTED"
	NodeFailedByDependency NodeStatus = "FAILED_BY_DEPENDENCY"
)

// ErrAlreadyStarted is returned when Execute is called twice.
var ErrAlreadyStarted = errors.New("graph execution already started")

// NodeOutcome is the terminal state of one node.
type NodeOutcome struct {
	NodeID string
	Status NodeStatus
	Error  string
	// FailedDependency names the node whose failure prevented this one from
	// running. Set only for NodeFailedByDependency.
	FailedDependency string
	Invoker          string
	JobID            string
	DurationNanos    int64
}

// JobSummary describes one dispatched job.
type JobSummary struct {
	JobID         string
	Invoker       string
	Items         int
	EstimatedCost float64
	DurationNanos int64
	Error         string
}

// GraphExecutionResult is the outcome of executing one graph.
type GraphExecutionResult struct {
	State    State
	Outcomes map[string]NodeOutcome
	Jobs     []JobSummary
	Duration time.Duration
}

// Failed returns the outcomes that are not successful, in no particular order.
func (r *GraphExecutionResult) Failed() []NodeOutcome {
	var out []NodeOutcome
	for _, o := range r.Outcomes {
		if o.Status != NodeSuccess {
			out = append(out, o)
		}
	}
	return out
}

// CycleContext is what an executor needs to know about the running cycle.
type CycleContext struct {
	CycleID       string
	ValuationTime time.Time
	Graph         *graph.DependencyGraph
}

// Executor runs one dependency graph once.
type Executor interface {
	// Execute blocks until every node has an outcome or the context is
	// cancelled. Node failures are reported in the result, not as an error.
	Execute(ctx context.Context) (*GraphExecutionResult, error)

	// State returns the current lifecycle state.
	State() State
}

// ExecutorFactory creates an executor per cycle.
type ExecutorFactory interface {
	CreateExecutor(cycle CycleContext) Executor
}
