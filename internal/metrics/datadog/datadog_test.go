package datadog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"i94etl/internal/metrics"
)

type sent struct {
	kind  string
	name  string
	value float64
	tags  []string
}

type fakeClient struct {
	sent   []sent
	closed bool
}

func (f *fakeClient) Count(name string, value int64, tags []string, _ float64) error {
	f.sent = append(f.sent, sent{"count", name, float64(value), tags})
	return nil
}

func (f *fakeClient) Histogram(name string, value float64, tags []string, _ float64) error {
	f.sent = append(f.sent, sent{"histogram", name, value, tags})
	return nil
}

func (f *fakeClient) Gauge(name string, value float64, tags []string, _ float64) error {
	f.sent = append(f.sent, sent{"gauge", name, value, tags})
	return nil
}

func (f *fakeClient) Close() error {
	f.closed = true
	return nil
}

func TestNewBackendRequiresAddr(t *testing.T) {
	_, err := NewBackend(Config{})
	require.Error(t, err)
}

func TestBackendForwardsWithSortedTags(t *testing.T) {
	fc := &fakeClient{}
	b := &Backend{client: fc}

	b.IncCounter(metrics.RecordsTotal, 2.9, metrics.Labels{"kind": "read", "job": "j"})
	b.ObserveHistogram(metrics.StepDuration, 0.25, metrics.Labels{"step": "publish"})
	b.SetGauge(metrics.TableRows, 236, metrics.Labels{"table": "dim_country"})
	b.IncCounter(metrics.BatchesTotal, 1, nil)

	require.Len(t, fc.sent, 4)
	assert.Equal(t, sent{"count", metrics.RecordsTotal, 2, []string{"job:j", "kind:read"}}, fc.sent[0])
	assert.Equal(t, sent{"histogram", metrics.StepDuration, 0.25, []string{"step:publish"}}, fc.sent[1])
	assert.Equal(t, sent{"gauge", metrics.TableRows, 236, []string{"table:dim_country"}}, fc.sent[2])
	assert.Nil(t, fc.sent[3].tags)

	require.NoError(t, b.Flush())
	assert.True(t, fc.closed)
}
