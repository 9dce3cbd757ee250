// Package prompush implements a Prometheus Pushgateway backend for the
// metrics package. A batch job has no scrape endpoint, so the registry is
// pushed to the gateway on Flush at the end of the run.
package prompush

import (
	"fmt"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"

	"i94etl/internal/metrics"
)

// Backend is a Prometheus Pushgateway metrics backend. The job label travels
// as the Pushgateway grouping key, not as a metric label.
type Backend struct {
	gatewayURL string
	jobName    string
	reg        *prometheus.Registry

	stepCounter   *prometheus.CounterVec
	stepDuration  *prometheus.SummaryVec
	recordCounter *prometheus.CounterVec
	batchCounter  prometheus.Counter
	tableRows     *prometheus.GaugeVec
	qualityChecks *prometheus.CounterVec
	mappingGaps   *prometheus.CounterVec
}

// NewBackend builds a backend that pushes to gatewayURL under jobName.
func NewBackend(jobName, gatewayURL string) (*Backend, error) {
	if gatewayURL == "" {
		return nil, fmt.Errorf("prompush: gateway URL is required")
	}
	if jobName == "" {
		jobName = "etl"
	}

	b := &Backend{
		gatewayURL: gatewayURL,
		jobName:    jobName,
		reg:        prometheus.NewRegistry(),
		stepCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.StepTotal,
			Help: "Pipeline stage executions by step and status.",
		}, []string{"step", "status"}),
		stepDuration: prometheus.NewSummaryVec(prometheus.SummaryOpts{
			Name:       metrics.StepDuration,
			Help:       "Pipeline stage duration in seconds by step and status.",
			Objectives: map[float64]float64{0.5: 0.05, 0.9: 0.01, 0.99: 0.001},
		}, []string{"step", "status"}),
		recordCounter: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.RecordsTotal,
			Help: "Record counts by kind (read, excluded, parse_errors, ...).",
		}, []string{"kind"}),
		batchCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: metrics.BatchesTotal,
			Help: "Bulk insert batches flushed by SQL sinks.",
		}),
		tableRows: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: metrics.TableRows,
			Help: "Rows per produced table.",
		}, []string{"table"}),
		qualityChecks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.QualityTotal,
			Help: "Quality check outcomes by table, check and status.",
		}, []string{"table", "check", "status"}),
		mappingGaps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: metrics.MappingGapTotal,
			Help: "Fact foreign keys left NULL by column.",
		}, []string{"column"}),
	}

	for name, c := range map[string]prometheus.Collector{
		"step counter":   b.stepCounter,
		"step summary":   b.stepDuration,
		"record counter": b.recordCounter,
		"batch counter":  b.batchCounter,
		"table rows":     b.tableRows,
		"quality checks": b.qualityChecks,
		"mapping gaps":   b.mappingGaps,
	} {
		if err := b.reg.Register(c); err != nil {
			return nil, fmt.Errorf("prompush: register %s: %w", name, err)
		}
	}
	return b, nil
}

func (b *Backend) IncCounter(name string, delta float64, l metrics.Labels) {
	switch name {
	case metrics.StepTotal:
		b.stepCounter.WithLabelValues(l["step"], l["status"]).Add(delta)
	case metrics.RecordsTotal:
		b.recordCounter.WithLabelValues(l["kind"]).Add(delta)
	case metrics.BatchesTotal:
		b.batchCounter.Add(delta)
	case metrics.QualityTotal:
		b.qualityChecks.WithLabelValues(l["table"], l["check"], l["status"]).Add(delta)
	case metrics.MappingGapTotal:
		b.mappingGaps.WithLabelValues(l["column"]).Add(delta)
	}
}

func (b *Backend) ObserveHistogram(name string, value float64, l metrics.Labels) {
	if name != metrics.StepDuration {
		return
	}
	b.stepDuration.WithLabelValues(l["step"], l["status"]).Observe(value)
}

func (b *Backend) SetGauge(name string, value float64, l metrics.Labels) {
	if name != metrics.TableRows {
		return
	}
	b.tableRows.WithLabelValues(l["table"]).Set(value)
}

// Gatherer exposes the registry, mainly for tests.
func (b *Backend) Gatherer() prometheus.Gatherer { return b.reg }

// Flush pushes the registry to the Pushgateway.
func (b *Backend) Flush() error {
	if err := push.New(b.gatewayURL, b.jobName).Gatherer(b.reg).Push(); err != nil {
		return fmt.Errorf("prompush: push: %w", err)
	}
	return nil
}
