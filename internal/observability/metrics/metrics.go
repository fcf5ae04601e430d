package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "kvmdash"

// Metrics holds the collectors reported by the scheduling engine and the
// device client. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	deviceRequests *prometheus.CounterVec
	deviceLatency  *prometheus.HistogramVec
	firings        *prometheus.CounterVec
	scheduleErrors *prometheus.CounterVec
	chainsInFlight prometheus.Gauge
	chainSteps     *prometheus.CounterVec
	passDuration   prometheus.Histogram
	schedules      prometheus.Gauge
}

// New builds a Metrics backed by its own registry, with Go runtime and
// process collectors attached.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		reg: reg,
		deviceRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "requests_total",
			Help:      "Device API requests by endpoint and result.",
		}, []string{"endpoint", "result"}),
		deviceLatency: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "device",
			Name:      "request_duration_seconds",
			Help:      "Device API request latency.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"endpoint"}),
		firings: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "firings_total",
			Help:      "Schedule firings by kind (scheduled, recurring).",
		}, []string{"kind"}),
		scheduleErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "errors_total",
			Help:      "Checker pass failures by reason.",
		}, []string{"reason"}),
		chainsInFlight: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "followup",
			Name:      "chains_in_flight",
			Help:      "Follow-up chains currently running.",
		}),
		chainSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "followup",
			Name:      "steps_total",
			Help:      "Executed follow-up steps by result.",
		}, []string{"result"}),
		passDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "pass_duration_seconds",
			Help:      "Duration of one checker pass, device calls included.",
			Buckets:   []float64{.001, .005, .01, .05, .1, .5, 1, 5, 15},
		}),
		schedules: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "scheduler",
			Name:      "schedules",
			Help:      "Schedules in the store after the last pass.",
		}),
	}
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.deviceRequests, m.deviceLatency, m.firings, m.scheduleErrors,
		m.chainsInFlight, m.chainSteps, m.passDuration, m.schedules,
	)
	return m
}

// Registry exposes the underlying registry (tests use it with testutil).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.reg
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

func (m *Metrics) ObserveDevice(endpoint string, d time.Duration, err error) {
	if m == nil {
		return
	}
	m.deviceRequests.WithLabelValues(endpoint, result(err)).Inc()
	m.deviceLatency.WithLabelValues(endpoint).Observe(d.Seconds())
}

func (m *Metrics) IncFiring(kind string) {
	if m == nil {
		return
	}
	m.firings.WithLabelValues(kind).Inc()
}

func (m *Metrics) IncScheduleError(reason string) {
	if m == nil {
		return
	}
	m.scheduleErrors.WithLabelValues(reason).Inc()
}

func (m *Metrics) ChainStarted() {
	if m == nil {
		return
	}
	m.chainsInFlight.Inc()
}

func (m *Metrics) ChainFinished() {
	if m == nil {
		return
	}
	m.chainsInFlight.Dec()
}

func (m *Metrics) ObserveStep(err error) {
	if m == nil {
		return
	}
	m.chainSteps.WithLabelValues(result(err)).Inc()
}

func (m *Metrics) ObservePass(d time.Duration, schedules int) {
	if m == nil {
		return
	}
	m.passDuration.Observe(d.Seconds())
	m.schedules.Set(float64(schedules))
}

func result(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
