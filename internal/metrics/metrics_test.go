package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Record(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.ObserveRequest("rightmove", 200, time.Millisecond)
	m.ObserveRequest("rightmove", 503, time.Millisecond)
	m.ObserveRequest("rightmove", 0, time.Millisecond)
	m.IncRetry("rightmove")
	m.ObserveTask("update-property", nil, time.Second)
	m.ObserveTask("update-property", errors.New("boom"), time.Second)
	m.SetSummariesWritten(42)
	m.IncLocationsSkipped()

	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("rightmove", "2xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("rightmove", "5xx")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RequestsTotal.WithLabelValues("rightmove", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RetriesTotal.WithLabelValues("rightmove")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskRunsTotal.WithLabelValues("update-property", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.TaskRunsTotal.WithLabelValues("update-property", "failure")))
	assert.Equal(t, 42.0, testutil.ToFloat64(m.SummariesWritten))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.LocationsSkipped))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObserveRequest("x", 200, time.Millisecond)
		m.IncRetry("x")
		m.AddInFlight(1)
		m.ObserveTask("x", nil, time.Second)
		m.SetSummariesWritten(1)
		m.IncLocationsSkipped()
	})
}
