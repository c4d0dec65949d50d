// Package metrics exports prometheus collectors for the dispatch engine.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "autojs"

// Metrics groups the engine collectors. A nil *Metrics is valid and records nothing.
type Metrics struct {
	HeartbeatsTotal     *prometheus.CounterVec
	HeartbeatLatency    prometheus.Histogram
	InstructionsQueued  *prometheus.CounterVec
	InstructionsSent    *prometheus.CounterVec
	InstructionsExpired prometheus.Counter
	ReportsTotal        *prometheus.CounterVec
	ExecutionDuration   *prometheus.HistogramVec
	RetriesTotal        *prometheus.CounterVec
	TaskTransitions     *prometheus.CounterVec
	DevicesOffline      prometheus.Counter
	HTTPRequests        *prometheus.CounterVec
	HTTPDuration        *prometheus.HistogramVec

	registry *prometheus.Registry
}

// New registers the collectors on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	f := promauto.With(reg)

	return &Metrics{
		registry: reg,
		HeartbeatsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "heartbeats_total",
				Help:      "Device heartbeats by result",
			},
			[]string{"result"},
		),
		HeartbeatLatency: f.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "heartbeat_hold_seconds",
				Help:      "Time a heartbeat request was held open",
				Buckets:   []float64{0.01, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
		),
		InstructionsQueued: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instructions_queued_total",
				Help:      "Instructions pushed onto device queues by type",
			},
			[]string{"type"},
		),
		InstructionsSent: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instructions_delivered_total",
				Help:      "Instructions handed to devices by type",
			},
			[]string{"type"},
		),
		InstructionsExpired: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "instructions_expired_total",
				Help:      "Instructions discarded because they expired before delivery",
			},
		),
		ReportsTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "execution_reports_total",
				Help:      "Execution reports by response status",
			},
			[]string{"status"},
		),
		ExecutionDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "execution_duration_seconds",
				Help:      "Script execution duration reported by devices",
				Buckets:   []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
			},
			[]string{"status"},
		),
		RetriesTotal: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retries_total",
				Help:      "Retry decisions by outcome",
			},
			[]string{"outcome"},
		),
		TaskTransitions: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_transitions_total",
				Help:      "Task status transitions by target status",
			},
			[]string{"status"},
		),
		DevicesOffline: f.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "device_offline_transitions_total",
				Help:      "Observed online to offline transitions",
			},
		),
		HTTPRequests: f.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "http_requests_total",
				Help:      "HTTP requests by route pattern and status code",
			},
			[]string{"route", "code"},
		),
		HTTPDuration: f.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "http_request_duration_seconds",
				Help:      "HTTP request latency by route pattern",
				Buckets:   prometheus.DefBuckets,
			},
			[]string{"route"},
		),
	}
}

func (m *Metrics) RecordHeartbeat(result string, held time.Duration) {
	if m == nil {
		return
	}
	m.HeartbeatsTotal.WithLabelValues(result).Inc()
	m.HeartbeatLatency.Observe(held.Seconds())
}

func (m *Metrics) RecordQueued(instType string) {
	if m == nil {
		return
	}
	m.InstructionsQueued.WithLabelValues(instType).Inc()
}

func (m *Metrics) RecordDelivered(instType string) {
	if m == nil {
		return
	}
	m.InstructionsSent.WithLabelValues(instType).Inc()
}

func (m *Metrics) RecordExpired(n int) {
	if m == nil || n <= 0 {
		return
	}
	m.InstructionsExpired.Add(float64(n))
}

func (m *Metrics) RecordReport(status string) {
	if m == nil {
		return
	}
	m.ReportsTotal.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordExecution(status string, d time.Duration) {
	if m == nil {
		return
	}
	m.ExecutionDuration.WithLabelValues(status).Observe(d.Seconds())
}

func (m *Metrics) RecordRetry(outcome string) {
	if m == nil {
		return
	}
	m.RetriesTotal.WithLabelValues(outcome).Inc()
}

func (m *Metrics) RecordTaskTransition(status string) {
	if m == nil {
		return
	}
	m.TaskTransitions.WithLabelValues(status).Inc()
}

func (m *Metrics) RecordOffline() {
	if m == nil {
		return
	}
	m.DevicesOffline.Inc()
}

func (m *Metrics) RecordHTTP(route string, code int, d time.Duration) {
	if m == nil {
		return
	}
	if route == "" {
		route = "unmatched"
	}
	m.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	m.HTTPDuration.WithLabelValues(route).Observe(d.Seconds())
}

// Handler serves the registry in the prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
