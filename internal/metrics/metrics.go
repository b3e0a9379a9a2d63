// Package metrics provides Prometheus metrics for the fetch layer and batch tasks.
package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "propertysearch"

// Metrics holds all collectors. A nil *Metrics accepts every call and records nothing.
type Metrics struct {
	// Fetch metrics
	RequestsTotal    *prometheus.CounterVec
	RetriesTotal     *prometheus.CounterVec
	RequestsInFlight prometheus.Gauge
	RequestDuration  *prometheus.HistogramVec

	// Task metrics
	TaskRunsTotal      *prometheus.CounterVec
	TaskDuration       *prometheus.HistogramVec
	SummariesWritten   prometheus.Gauge
	LocationsSkipped   prometheus.Counter
	LastSuccessfulTask *prometheus.GaugeVec
}

// New registers all collectors on reg.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		RequestsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Outbound requests by client and status class",
		}, []string{"client", "status"}),
		RetriesTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "retries_total",
			Help:      "Retried outbound requests by client",
		}, []string{"client"}),
		RequestsInFlight: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Outbound requests currently holding a connection slot",
		}),
		RequestDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Outbound request latency by client",
			Buckets:   prometheus.DefBuckets,
		}, []string{"client"}),

		TaskRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "runs_total",
			Help:      "Batch task runs by task and result",
		}, []string{"task", "result"}),
		TaskDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "duration_seconds",
			Help:      "Batch task duration",
			Buckets:   []float64{1, 10, 30, 60, 300, 600, 1800, 3600},
		}, []string{"task"}),
		SummariesWritten: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "property_summaries_written",
			Help:      "Property summaries committed by the last successful property update",
		}),
		LocationsSkipped: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "locations_skipped_total",
			Help:      "Locations excluded from a run because they could not be resolved",
		}),
		LastSuccessfulTask: factory.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "task",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last successful run per task",
		}, []string{"task"}),
	}
}

// ObserveRequest records one finished request attempt. A zero status means a transport failure.
func (m *Metrics) ObserveRequest(client string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestsTotal.WithLabelValues(client, statusClass(status)).Inc()
	m.RequestDuration.WithLabelValues(client).Observe(d.Seconds())
}

func (m *Metrics) IncRetry(client string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(client).Inc()
}

func (m *Metrics) AddInFlight(delta float64) {
	if m == nil {
		return
	}
	m.RequestsInFlight.Add(delta)
}

// ObserveTask records the outcome of one batch task run.
func (m *Metrics) ObserveTask(task string, err error, d time.Duration) {
	if m == nil {
		return
	}
	result := "success"
	if err != nil {
		result = "failure"
	} else {
		m.LastSuccessfulTask.WithLabelValues(task).SetToCurrentTime()
	}
	m.TaskRunsTotal.WithLabelValues(task, result).Inc()
	m.TaskDuration.WithLabelValues(task).Observe(d.Seconds())
}

func (m *Metrics) SetSummariesWritten(n int) {
	if m == nil {
		return
	}
	m.SummariesWritten.Set(float64(n))
}

func (m *Metrics) IncLocationsSkipped() {
	if m == nil {
		return
	}
	m.LocationsSkipped.Inc()
}

func statusClass(status int) string {
	if status <= 0 {
		return "error"
	}
	return strconv.Itoa(status/100) + "xx"
}
