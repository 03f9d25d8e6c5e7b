// Package metrics is a small, backend-agnostic layer for recording pipeline
// metrics.
//
//   - Backend is a narrow interface over counters and durations.
//   - The global backend defaults to a no-op, so instrumentation is always
//     safe to call even when no metrics system is configured.
//   - Concrete systems live in subpackages (prompush, datadog) so the rest of
//     the code never imports a metrics client library directly.
//
// Instrumented points are pipeline runs, time windows, and the extract,
// transform and load steps inside each window.
package metrics

import (
	"sync"
	"time"
)

// Metric names emitted by the helpers below.
const (
	StepTotal             = "skyetl_step_total"
	StepDurationSeconds   = "skyetl_step_duration_seconds"
	RecordsTotal          = "skyetl_records_total"
	BatchesTotal          = "skyetl_batches_total"
	RunsTotal             = "skyetl_runs_total"
	RunDurationSeconds    = "skyetl_run_duration_seconds"
	WindowsTotal          = "skyetl_windows_total"
	WindowDurationSeconds = "skyetl_window_duration_seconds"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal interface for metrics backends.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// Flush pushes or flushes metrics, if the backend needs it (e.g. Pushgateway).
	Flush() error
}

// nopBackend is used by default so metrics are optional.
type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

// SetBackend installs a concrete backend. Passing nil keeps the existing backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// Flush delegates to the current backend.
func Flush() error {
	return current().Flush()
}

func outcome(err error) string {
	if err != nil {
		return "failure"
	}
	return "success"
}

// RecordStep records the latency and outcome of one step (extract,
// transform, load) of a pipeline.
func RecordStep(pipeline, step string, err error, d time.Duration) {
	lbls := Labels{
		"pipeline": pipeline,
		"step":     step,
		"status":   outcome(err),
	}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDurationSeconds, d.Seconds(), lbls)
}

// RecordRow increments a record-level counter for the given pipeline and
// kind. Typical kinds:
//   - "extracted"
//   - "transformed"
//   - "deduplicated"
//   - "loaded"
func RecordRow(pipeline, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{
		"pipeline": pipeline,
		"kind":     kind,
	})
}

// RecordBatches increments the committed-batch counter for the given pipeline.
// Each successful load transaction counts as one batch.
func RecordBatches(pipeline string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{
		"pipeline": pipeline,
	})
}

// RecordRun records a finished run with its terminal status
// (SUCCESS or FAILURE).
func RecordRun(pipeline, status string, d time.Duration) {
	lbls := Labels{"pipeline": pipeline, "status": status}
	b := current()
	b.IncCounter(RunsTotal, 1, lbls)
	b.ObserveHistogram(RunDurationSeconds, d.Seconds(), lbls)
}

// RecordWindow records one processed time window.
func RecordWindow(pipeline string, err error, d time.Duration) {
	lbls := Labels{"pipeline": pipeline, "status": outcome(err)}
	b := current()
	b.IncCounter(WindowsTotal, 1, lbls)
	b.ObserveHistogram(WindowDurationSeconds, d.Seconds(), lbls)
}
