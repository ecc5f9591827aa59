package stats

import (
	"encoding/json"
	"fmt"

	"risk-view-engine/internal/domain"
)

// ToRecord converts an estimate into its persisted form.
func ToRecord(s *FunctionInvocationStatistics) *domain.FunctionCosts {
	c := s.Costs()
	return &domain.FunctionCosts{
		FunctionID:     s.FunctionID(),
		InvocationCost: c.InvocationCost,
		DataInputCost:  c.DataInputCost,
		DataOutputCost: c.DataOutputCost,
		UpdatedAt:      s.LastUpdate(),
	}
}

// FromRecord rebuilds an estimate from its persisted form, applying it as a
// single observation.
func FromRecord(r *domain.FunctionCosts) *FunctionInvocationStatistics {
	s := NewFunctionInvocationStatistics(r.FunctionID)
	s.RecordInvocation(1, r.InvocationCost, r.DataInputCost, r.DataOutputCost)
	return s
}

// EncodeRecord serializes an estimate to JSON with the fields
// functionIdentifier, invocationCost, dataInputCost and dataOutputCost.
func EncodeRecord(s *FunctionInvocationStatistics) ([]byte, error) {
	r := ToRecord(s)
	data, err := json.Marshal(recordJSON{
		FunctionID:     r.FunctionID,
		InvocationCost: r.InvocationCost,
		DataInputCost:  r.DataInputCost,
		DataOutputCost: r.DataOutputCost,
	})
	if err != nil {
		return nil, fmt.Errorf("encode statistics %s: %w", r.FunctionID, err)
	}
	return data, nil
}

// DecodeRecord parses the JSON produced by EncodeRecord.
func DecodeRecord(data []byte) (*FunctionInvocationStatistics, error) {
	var r recordJSON
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("decode statistics: %w", err)
	}
	if r.FunctionID == "" {
		return nil, fmt.Errorf("decode statistics: missing functionIdentifier")
	}
	return FromRecord(&domain.FunctionCosts{
		FunctionID:     r.FunctionID,
		InvocationCost: r.InvocationCost,
		DataInputCost:  r.DataInputCost,
		DataOutputCost: r.DataOutputCost,
	}), nil
}

type recordJSON struct {
	FunctionID     string  `json:"functionIdentifier"`
	InvocationCost float64 `json:"invocationCost"`
	DataInputCost  float64 `json:"dataInputCost"`
	DataOutputCost float64 `json:"dataOutputCost"`
}
