// Package metrics exposes the engine's Prometheus instruments. A nil *Metrics
// is valid and records nothing.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Event outcomes.
const (
	OutcomeIgnored  = "ignored"
	OutcomeRejected = "rejected"
	OutcomeAccepted = "accepted"
	OutcomeFailed   = "failed"
	OutcomeCommand  = "command"
)

type Metrics struct {
	registry        *prometheus.Registry
	events          *prometheus.CounterVec
	handlerDuration *prometheus.HistogramVec
	activeFlows     prometheus.Gauge
}

func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "unrug_events_total",
			Help: "Inbound chat events by kind and dispatch outcome.",
		}, []string{"kind", "outcome"}),
		handlerDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "unrug_handler_duration_seconds",
			Help:    "Time spent processing one event, per flow.",
			Buckets: prometheus.ExponentialBuckets(0.005, 4, 8),
		}, []string{"flow"}),
		activeFlows: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "unrug_active_flows",
			Help: "Conversations with an active flow.",
		}),
	}
	m.registry.MustRegister(
		m.events,
		m.handlerDuration,
		m.activeFlows,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Metrics) ObserveEvent(kind, outcome string) {
	if m == nil {
		return
	}
	m.events.WithLabelValues(kind, outcome).Inc()
}

func (m *Metrics) ObserveHandler(flow string, d time.Duration) {
	if m == nil {
		return
	}
	if flow == "" {
		flow = "none"
	}
	m.handlerDuration.WithLabelValues(flow).Observe(d.Seconds())
}

func (m *Metrics) SetActiveFlows(n int) {
	if m == nil {
		return
	}
	m.activeFlows.Set(float64(n))
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Gatherer exposes the registry for tests.
func (m *Metrics) Gatherer() prometheus.Gatherer {
	return m.registry
}
