package domain

import "time"

// JobItemRecord is the telemetry row written for every executed job item.
type JobItemRecord struct {
	CycleID       string
	JobID         string
	CalcNodeID    string // calculation node that ran the job
	Configuration string
	FunctionID    string
	Target        string // TargetSpecification.String()
	Status        string // ItemStatus
	Error         string
	DurationNanos int64 // item execution time
	ExecutedAt    time.Time
}
