package domain

import "time"

// FunctionCosts is the persisted cost estimate of one function under one
// calculation configuration.
type FunctionCosts struct {
	Configuration  string    `json:"configuration,omitempty"`
	FunctionID     string    `json:"functionIdentifier"`
	InvocationCost float64   `json:"invocationCost"` // nanoseconds per invocation
	DataInputCost  float64   `json:"dataInputCost"`  // bytes per input
	DataOutputCost float64   `json:"dataOutputCost"` // bytes per output
	UpdatedAt      time.Time `json:"updatedAt,omitempty"`
}
