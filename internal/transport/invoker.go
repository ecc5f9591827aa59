// Package transport moves calculation jobs from the graph executor to
// calculation nodes, either in process or over a websocket.
package transport

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/semaphore"

	"risk-view-engine/internal/calcnode"
	"risk-view-engine/internal/observability"
)

// JobExecutor runs a job. *calcnode.Node implements it.
type JobExecutor interface {
	ExecuteJob(ctx context.Context, job *calcnode.CalculationJob) (*calcnode.CalculationJobResult, error)
}

// CycleReleaser drops the per-cycle state a calculation node keeps once the
// cycle has finished. *calcnode.Node and *RemoteInvoker implement it.
type CycleReleaser interface {
	ReleaseCycle(ctx context.Context, cycleID string) error
}

// Invoker dispatches jobs to calculation capacity.
type Invoker interface {
	// Name identifies the invoker in logs, metrics and job telemetry.
	Name() string

	// Capacity is the number of jobs the invoker runs concurrently.
	Capacity() int

	// Invoke runs the job and returns its result. An error means the job as
	// a whole could not be run.
	Invoke(ctx context.Context, job *calcnode.CalculationJob) (*calcnode.CalculationJobResult, error)
}

// LocalInvoker runs jobs in process, at most Capacity at a time.
type LocalInvoker struct {
	name     string
	exec     JobExecutor
	capacity int
	sem      *semaphore.Weighted
}

// NewLocalInvoker creates an in-process invoker.
func NewLocalInvoker(name string, exec JobExecutor, capacity int) *LocalInvoker {
	if capacity <= 0 {
		capacity = 1
	}
	return &LocalInvoker{
		name:     name,
		exec:     exec,
		capacity: capacity,
		sem:      semaphore.NewWeighted(int64(capacity)),
	}
}

// Name implements Invoker.
func (l *LocalInvoker) Name() string { return l.name }

// Capacity implements Invoker.
func (l *LocalInvoker) Capacity() int { return l.capacity }

// Invoke implements Invoker.
func (l *LocalInvoker) Invoke(ctx context.Context, job *calcnode.CalculationJob) (*calcnode.CalculationJobResult, error) {
	if err := l.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("local invoker %s: %w", l.name, err)
	}
	defer l.sem.Release(1)

	start := time.Now()
	res, err := l.exec.ExecuteJob(ctx, job)
	observability.RecordJob(l.name, time.Since(start).Seconds())
	return res, err
}

var (
	_ Invoker       = (*LocalInvoker)(nil)
	_ CycleReleaser = (*calcnode.Node)(nil)
)
