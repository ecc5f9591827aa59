package stats

import (
	"math"
	"sync"
	"time"
)

// DeferredInvocationStatistics collects the measurements of a single function
// invocation whose output sizes only become known once the cache has encoded
// them, possibly on another goroutine. Exactly one aggregated observation is
// forwarded to the gatherer, when the last expected output size arrives.
type DeferredInvocationStatistics struct {
	gatherer      Gatherer
	configuration string

	mu              sync.Mutex
	functionID      string
	started         time.Time
	invocationNanos float64
	dataInputBytes  float64
	outputBytes     int64
	outputSamples   int
	expectedOutputs int
	reported        bool
}

// NewDeferredInvocationStatistics creates a collector reporting to gatherer
// under the given calculation configuration.
func NewDeferredInvocationStatistics(gatherer Gatherer, configuration string) *DeferredInvocationStatistics {
	if gatherer == nil {
		gatherer = DiscardingGatherer{}
	}
	return &DeferredInvocationStatistics{
		gatherer:       gatherer,
		configuration:  configuration,
		dataInputBytes: math.NaN(),
	}
}

// SetFunctionID sets the function being measured.
func (d *DeferredInvocationStatistics) SetFunctionID(functionID string) {
	d.mu.Lock()
	d.functionID = functionID
	d.mu.Unlock()
}

// BeginInvocation starts the invocation timer.
func (d *DeferredInvocationStatistics) BeginInvocation() {
	d.mu.Lock()
	d.started = time.Now()
	d.mu.Unlock()
}

// EndInvocation stops the invocation timer.
func (d *DeferredInvocationStatistics) EndInvocation() {
	d.mu.Lock()
	d.invocationNanos = float64(time.Since(d.started).Nanoseconds())
	d.mu.Unlock()
}

// SetInvocationNanos overrides the measured invocation time.
func (d *DeferredInvocationStatistics) SetInvocationNanos(nanos float64) {
	d.mu.Lock()
	d.invocationNanos = nanos
	d.mu.Unlock()
}

// SetDataInputBytes records the total input size over samples inputs. With
// no samples the input cost is unknown (NaN).
func (d *DeferredInvocationStatistics) SetDataInputBytes(bytes int64, samples int) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if samples > 0 {
		d.dataInputBytes = float64(bytes) / float64(samples)
	} else {
		d.dataInputBytes = math.NaN()
	}
}

// SetExpectedDataOutputSamples sets how many AddDataOutputBytes calls to wait
// for. Zero reports the invocation immediately with no output cost.
func (d *DeferredInvocationStatistics) SetExpectedDataOutputSamples(samples int) {
	d.mu.Lock()
	d.expectedOutputs = samples
	fire := samples <= 0 && !d.reported
	if fire {
		d.reported = true
	}
	d.mu.Unlock()

	if fire {
		d.report(0)
	}
}

// AddDataOutputBytes adds the encoded size of one output. It returns true
// when this was the last expected output, in which case the observation has
// been forwarded with an output cost of total bytes / expected outputs.
func (d *DeferredInvocationStatistics) AddDataOutputBytes(bytes int) bool {
	d.mu.Lock()
	d.outputBytes += int64(bytes)
	d.outputSamples++
	if d.reported || d.expectedOutputs <= 0 || d.outputSamples < d.expectedOutputs {
		d.mu.Unlock()
		return false
	}
	d.reported = true
	perOutput := float64(d.outputBytes) / float64(d.expectedOutputs)
	d.mu.Unlock()

	d.report(perOutput)
	return true
}

// Reported reports whether the observation has been forwarded.
func (d *DeferredInvocationStatistics) Reported() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.reported
}

func (d *DeferredInvocationStatistics) report(dataOutputBytes float64) {
	d.mu.Lock()
	functionID, nanos, input := d.functionID, d.invocationNanos, d.dataInputBytes
	d.mu.Unlock()

	d.gatherer.FunctionInvoked(d.configuration, functionID, 1, nanos, input, dataOutputBytes)
}
