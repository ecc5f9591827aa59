// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Function statistics
	FunctionInvocations       *prometheus.CounterVec
	FunctionInvocationSeconds *prometheus.HistogramVec
	FunctionOutputBytes       *prometheus.HistogramVec

	// Target resolution
	TargetResolutions *prometheus.CounterVec
	ResolverCache     *prometheus.CounterVec

	// Computation cache
	CacheValuesWritten *prometheus.CounterVec
	CacheBytesWritten  *prometheus.CounterVec
	CacheReads         *prometheus.CounterVec
	CachePendingWrites prometheus.Gauge

	// Graph execution
	JobsDispatched        *prometheus.CounterVec
	JobDuration           *prometheus.HistogramVec
	JobItems              *prometheus.CounterVec
	GraphExecutions       *prometheus.CounterVec
	GraphExecutionSeconds prometheus.Histogram

	// Remote calculation nodes
	RemoteConnections prometheus.Gauge
	RemoteJobsServed  *prometheus.CounterVec

	// Cycles
	CyclesTotal   *prometheus.CounterVec
	CycleDuration prometheus.Histogram

	// Database metrics
	DBQueryDuration *prometheus.HistogramVec
	DBQueryErrors   *prometheus.CounterVec

	// Health metrics
	LastSuccessfulCycle prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "risk_view_engine"
	}

	return &Metrics{
		FunctionInvocations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "function",
			Name:      "invocations_total",
			Help:      "Total number of function invocations by configuration and function",
		}, []string{"configuration", "function"}),
		FunctionInvocationSeconds: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "function",
			Name:      "invocation_seconds",
			Help:      "Function invocation time in seconds",
			Buckets:   prometheus.ExponentialBuckets(0.00001, 4, 10),
		}, []string{"function"}),
		FunctionOutputBytes: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "function",
			Name:      "output_bytes",
			Help:      "Average encoded output size per invocation",
			Buckets:   prometheus.ExponentialBuckets(8, 4, 10),
		}, []string{"function"}),

		TargetResolutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "resolutions_total",
			Help:      "Total number of target resolutions by type and outcome",
		}, []string{"type", "outcome"}),
		ResolverCache: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "resolver",
			Name:      "cache_lookups_total",
			Help:      "Caching resolver lookups by result (hit, miss)",
		}, []string{"result"}),

		CacheValuesWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "values_written_total",
			Help:      "Total number of values written by placement (private, shared)",
		}, []string{"placement"}),
		CacheBytesWritten: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "bytes_written_total",
			Help:      "Total encoded bytes written by placement",
		}, []string{"placement"}),
		CacheReads: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "reads_total",
			Help:      "Total cache reads by result (hit, miss)",
		}, []string{"result"}),
		CachePendingWrites: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "cache",
			Name:      "pending_writes",
			Help:      "Number of deferred writes queued but not yet landed",
		}),

		JobsDispatched: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "jobs_dispatched_total",
			Help:      "Total number of calculation jobs dispatched by invoker",
		}, []string{"invoker"}),
		JobDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "job_duration_seconds",
			Help:      "Calculation job duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"invoker"}),
		JobItems: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "job_items_total",
			Help:      "Total number of job items by status",
		}, []string{"status"}),
		GraphExecutions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "graph_executions_total",
			Help:      "Total number of graph executions by terminal state",
		}, []string{"state"}),
		GraphExecutionSeconds: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "executor",
			Name:      "graph_execution_seconds",
			Help:      "Graph execution duration in seconds",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}),

		RemoteConnections: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "calcnode",
			Name:      "remote_connections",
			Help:      "Number of connected remote dispatchers",
		}),
		RemoteJobsServed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "calcnode",
			Name:      "jobs_served_total",
			Help:      "Total number of jobs served to remote dispatchers by outcome",
		}, []string{"outcome"}),

		CyclesTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "runs_total",
			Help:      "Total number of computation cycles by status",
		}, []string{"status"}),
		CycleDuration: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "cycle",
			Name:      "duration_seconds",
			Help:      "Computation cycle duration in seconds",
			Buckets:   []float64{0.1, 0.5, 1, 5, 10, 30, 60, 120, 300},
		}),

		DBQueryDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_duration_seconds",
			Help:      "Database query duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"database", "operation"}),
		DBQueryErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "database",
			Name:      "query_errors_total",
			Help:      "Total number of database query errors",
		}, []string{"database", "operation"}),

		LastSuccessfulCycle: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_successful_cycle_timestamp",
			Help:      "Unix timestamp of last successful computation cycle",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordTargetResolution records the outcome of resolving one target.
func RecordTargetResolution(targetType, outcome string) {
	DefaultMetrics.TargetResolutions.WithLabelValues(targetType, outcome).Inc()
}

// RecordResolverCache records a caching resolver hit or miss.
func RecordResolverCache(hit bool) {
	if hit {
		DefaultMetrics.ResolverCache.WithLabelValues("hit").Inc()
		return
	}
	DefaultMetrics.ResolverCache.WithLabelValues("miss").Inc()
}

// RecordCacheWrite records values written to the computation cache.
func RecordCacheWrite(placement string, values, bytes int) {
	DefaultMetrics.CacheValuesWritten.WithLabelValues(placement).Add(float64(values))
	DefaultMetrics.CacheBytesWritten.WithLabelValues(placement).Add(float64(bytes))
}

// RecordCacheRead records a computation cache read.
func RecordCacheRead(hit bool) {
	if hit {
		DefaultMetrics.CacheReads.WithLabelValues("hit").Inc()
		return
	}
	DefaultMetrics.CacheReads.WithLabelValues("miss").Inc()
}

// RecordJob records a completed calculation job.
func RecordJob(invoker string, seconds float64) {
	DefaultMetrics.JobsDispatched.WithLabelValues(invoker).Inc()
	DefaultMetrics.JobDuration.WithLabelValues(invoker).Observe(seconds)
}

// RecordJobItem records the terminal status of one job item.
func RecordJobItem(status string) {
	DefaultMetrics.JobItems.WithLabelValues(status).Inc()
}

// RecordGraphExecution records a finished graph execution.
func RecordGraphExecution(state string, seconds float64) {
	DefaultMetrics.GraphExecutions.WithLabelValues(state).Inc()
	DefaultMetrics.GraphExecutionSeconds.Observe(seconds)
}

// RecordCycle records a finished computation cycle.
func RecordCycle(status string, seconds float64, finishedUnix int64) {
	DefaultMetrics.CyclesTotal.WithLabelValues(status).Inc()
	DefaultMetrics.CycleDuration.Observe(seconds)
	if status == "COMPLETED" {
		DefaultMetrics.LastSuccessfulCycle.Set(float64(finishedUnix))
	}
}

// RecordDBQuery records database query metrics.
func RecordDBQuery(database, operation string, seconds float64, err error) {
	DefaultMetrics.DBQueryDuration.WithLabelValues(database, operation).Observe(seconds)
	if err != nil {
		DefaultMetrics.DBQueryErrors.WithLabelValues(database, operation).Inc()
	}
}
