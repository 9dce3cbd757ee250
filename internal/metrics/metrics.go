// Package metrics records operational metrics of an ETL run through a
// pluggable backend.
//
// The default backend is a no-op, so instrumentation is always safe to call.
// Concrete backends (Prometheus Pushgateway, Datadog) live in subpackages and
// are installed once at startup with SetBackend.
package metrics

import (
	"sync"
	"time"
)

// Labels are string key/value pairs attached to a metric.
type Labels map[string]string

// Backend is the minimal surface a metrics system must provide.
type Backend interface {
	// IncCounter increments a counter by delta.
	IncCounter(name string, delta float64, labels Labels)
	// ObserveHistogram records a value in a duration style metric.
	ObserveHistogram(name string, value float64, labels Labels)
	// SetGauge sets a point-in-time value.
	SetGauge(name string, value float64, labels Labels)
	// Flush pushes buffered metrics, if the backend needs it.
	Flush() error
}

// Metric names.
const (
	StepTotal       = "etl_step_total"
	StepDuration    = "etl_step_duration_seconds"
	RecordsTotal    = "etl_records_total"
	BatchesTotal    = "etl_batches_total"
	TableRows       = "etl_table_rows"
	QualityTotal    = "etl_quality_checks_total"
	MappingGapTotal = "etl_mapping_gaps_total"
)

type nopBackend struct{}

func (nopBackend) IncCounter(string, float64, Labels)       {}
func (nopBackend) ObserveHistogram(string, float64, Labels) {}
func (nopBackend) SetGauge(string, float64, Labels)         {}
func (nopBackend) Flush() error                             { return nil }

var (
	mu      sync.RWMutex
	backend Backend = nopBackend{}
)

func current() Backend {
	mu.RLock()
	defer mu.RUnlock()
	return backend
}

// SetBackend installs b. A nil b keeps the current backend.
func SetBackend(b Backend) {
	if b == nil {
		return
	}
	mu.Lock()
	backend = b
	mu.Unlock()
}

// Reset restores the no-op backend.
func Reset() {
	mu.Lock()
	backend = nopBackend{}
	mu.Unlock()
}

// Flush delegates to the current backend.
func Flush() error { return current().Flush() }

func status(ok bool) string {
	if ok {
		return "success"
	}
	return "failure"
}

// RecordStep counts one execution of a pipeline stage and its latency.
func RecordStep(job, step string, err error, d time.Duration) {
	lbls := Labels{"job": job, "step": step, "status": status(err == nil)}
	b := current()
	b.IncCounter(StepTotal, 1, lbls)
	b.ObserveHistogram(StepDuration, d.Seconds(), lbls)
}

// RecordRow adds delta to the record counter of the given kind, e.g.
// "read", "excluded", "parse_errors", "label_warnings".
func RecordRow(job, kind string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(RecordsTotal, float64(delta), Labels{"job": job, "kind": kind})
}

// RecordBatches counts bulk-insert batches flushed by SQL sinks.
func RecordBatches(job string, delta int64) {
	if delta <= 0 {
		return
	}
	current().IncCounter(BatchesTotal, float64(delta), Labels{"job": job})
}

// RecordTable sets the row count of a produced table.
func RecordTable(job, table string, rows int) {
	current().SetGauge(TableRows, float64(rows), Labels{"job": job, "table": table})
}

// RecordQuality counts one quality check outcome.
func RecordQuality(job, table, check string, passed bool) {
	current().IncCounter(QualityTotal, 1, Labels{
		"job": job, "table": table, "check": check, "status": status(passed),
	})
}

// RecordMappingGap counts fact foreign keys left NULL for a column.
func RecordMappingGap(job, column string, n int) {
	if n <= 0 {
		return
	}
	current().IncCounter(MappingGapTotal, float64(n), Labels{"job": job, "column": column})
}
