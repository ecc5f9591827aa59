package calcnode

import (
	"time"

	"risk-view-engine/internal/domain"
)

// ItemStatus is the outcome of one job item.
type ItemStatus string

const (
	StatusSuccess        ItemStatus = "SUCCESS"
	StatusFailure        ItemStatus = "FAILURE"
	StatusMissingInputs  ItemStatus = "MISSING_INPUTS"
	StatusTargetNotFound ItemStatus = "TARGET_NOT_FOUND"
	StatusNotExecuted    ItemStatus = "NOT_EXECUTED"
)

// String returns the string representation.
func (s ItemStatus) String() string {
	return string(s)
}

// IsSuccess reports whether the item produced all of its outputs.
func (s ItemStatus) IsSuccess() bool {
	return s == StatusSuccess
}

// JobSpecification identifies a calculation job.
type JobSpecification struct {
	CycleID       string    `json:"cycle_id"`
	Configuration string    `json:"configuration"`
	JobID         string    `json:"job_id"`
	ValuationTime time.Time `json:"valuation_time"`
}

// JobItem is one function invocation within a job.
type JobItem struct {
	NodeID     string                      `json:"node_id"`
	FunctionID string                      `json:"function_id"`
	Target     domain.TargetSpecification  `json:"target"`
	Inputs     []domain.ValueSpecification `json:"inputs"`
	Outputs    []domain.ValueSpecification `json:"outputs"`
}

// CalculationJob is a batch of independent items executed together on one
// calculation node. Outputs listed in PrivateOutputs stay in the node-local
// cache; everything else is written to the shared cache.
type CalculationJob struct {
	Specification  JobSpecification            `json:"specification"`
	Items          []JobItem                   `json:"items"`
	PrivateOutputs []domain.ValueSpecification `json:"private_outputs,omitempty"`
}

// JobResultItem is the outcome of one item.
type JobResultItem struct {
	NodeID        string                      `json:"node_id"`
	Status        ItemStatus                  `json:"status"`
	Error         string                      `json:"error,omitempty"`
	MissingInputs []domain.ValueSpecification `json:"missing_inputs,omitempty"`
	DurationNanos int64                       `json:"duration_nanos"`
}

// CalculationJobResult reports every item of a job in submission order.
type CalculationJobResult struct {
	Specification JobSpecification `json:"specification"`
	Items         []JobResultItem  `json:"items"`
	CalcNodeID    string           `json:"calc_node_id"`
	DurationNanos int64            `json:"duration_nanos"`
}

// Failed returns the items that did not succeed.
func (r *CalculationJobResult) Failed() []JobResultItem {
	var out []JobResultItem
	for _, it := range r.Items {
		if !it.Status.IsSuccess() {
			out = append(out, it)
		}
	}
	return out
}
