package prompush

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	dto "github.com/prometheus/client_model/go"

	"i94etl/internal/metrics"
)

func counterValue(t *testing.T, c prometheus.Counter) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := c.Write(m); err != nil {
		t.Fatalf("Counter.Write() error = %v", err)
	}
	return m.GetCounter().GetValue()
}

func gaugeValue(t *testing.T, g prometheus.Gauge) float64 {
	t.Helper()
	m := &dto.Metric{}
	if err := g.Write(m); err != nil {
		t.Fatalf("Gauge.Write() error = %v", err)
	}
	return m.GetGauge().GetValue()
}

func TestNewBackend(t *testing.T) {
	t.Parallel()

	if b, err := NewBackend("etl-job", ""); err == nil || b != nil {
		t.Fatalf("NewBackend without URL = (%v, %v); want error", b, err)
	}

	b, err := NewBackend("", "http://pushgateway:9091")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	if b.jobName != "etl" {
		t.Fatalf("jobName = %q; want default etl", b.jobName)
	}
}

func TestIncCounterRouting(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("etl", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}

	b.IncCounter(metrics.StepTotal, 3, metrics.Labels{"step": "build_facts", "status": "success"})
	b.IncCounter(metrics.RecordsTotal, 5, metrics.Labels{"kind": "excluded"})
	b.IncCounter(metrics.BatchesTotal, 2, nil)
	b.IncCounter(metrics.QualityTotal, 1, metrics.Labels{"table": "dim_country", "check": "unique_key", "status": "failure"})
	b.IncCounter(metrics.MappingGapTotal, 7, metrics.Labels{"column": "airport_id"})
	b.IncCounter("unknown_metric", 10, metrics.Labels{"foo": "bar"})

	if got := counterValue(t, b.stepCounter.WithLabelValues("build_facts", "success")); got != 3 {
		t.Fatalf("stepCounter = %v; want 3", got)
	}
	if got := counterValue(t, b.recordCounter.WithLabelValues("excluded")); got != 5 {
		t.Fatalf("recordCounter = %v; want 5", got)
	}
	if got := counterValue(t, b.batchCounter); got != 2 {
		t.Fatalf("batchCounter = %v; want 2", got)
	}
	if got := counterValue(t, b.qualityChecks.WithLabelValues("dim_country", "unique_key", "failure")); got != 1 {
		t.Fatalf("qualityChecks = %v; want 1", got)
	}
	if got := counterValue(t, b.mappingGaps.WithLabelValues("airport_id")); got != 7 {
		t.Fatalf("mappingGaps = %v; want 7", got)
	}
}

func TestSetGauge(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("etl", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.SetGauge(metrics.TableRows, 10, metrics.Labels{"table": "immigration_facts"})
	b.SetGauge(metrics.TableRows, 4, metrics.Labels{"table": "immigration_facts"})
	b.SetGauge("other", 99, metrics.Labels{"table": "immigration_facts"})

	if got := gaugeValue(t, b.tableRows.WithLabelValues("immigration_facts")); got != 4 {
		t.Fatalf("tableRows = %v; want 4 (last set wins)", got)
	}
}

func TestObserveHistogram(t *testing.T) {
	t.Parallel()

	b, err := NewBackend("etl", "http://example.com")
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.ObserveHistogram(metrics.StepDuration, 1.5, metrics.Labels{"step": "publish", "status": "success"})
	b.ObserveHistogram("other", 2, metrics.Labels{"step": "publish", "status": "success"})

	m := &dto.Metric{}
	obs, ok := b.stepDuration.WithLabelValues("publish", "success").(prometheus.Metric)
	if !ok {
		t.Fatalf("summary observer is not a prometheus.Metric")
	}
	if err := obs.Write(m); err != nil {
		t.Fatalf("Summary.Write() error = %v", err)
	}
	if m.GetSummary().GetSampleCount() != 1 || m.GetSummary().GetSampleSum() != 1.5 {
		t.Fatalf("summary = %v; want one sample of 1.5", m.GetSummary())
	}
}

func TestFlush(t *testing.T) {
	t.Parallel()

	type pushed struct {
		method  string
		path    string
		bodyLen int
	}
	reqCh := make(chan pushed, 1)

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer r.Body.Close()
		body, _ := io.ReadAll(r.Body)
		reqCh <- pushed{method: r.Method, path: r.URL.Path, bodyLen: len(body)}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	b, err := NewBackend("i94-job", server.URL)
	if err != nil {
		t.Fatalf("NewBackend() error = %v", err)
	}
	b.SetGauge(metrics.TableRows, 3, metrics.Labels{"table": "dim_country"})

	if err := b.Flush(); err != nil {
		t.Fatalf("Flush() error = %v", err)
	}

	select {
	case got := <-reqCh:
		if got.method != http.MethodPut {
			t.Fatalf("push method = %q; want PUT", got.method)
		}
		if got.path != "/metrics/job/i94-job" {
			t.Fatalf("push path = %q; want /metrics/job/i94-job", got.path)
		}
		if got.bodyLen == 0 {
			t.Fatalf("push body is empty")
		}
	default:
		t.Fatalf("Flush() did not reach the Pushgateway")
	}
}
