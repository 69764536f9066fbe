// Package metrics provides Prometheus instrumentation for the
// governance engine
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds the engine's Prometheus collectors
type Metrics struct {
	authorizeTotal   *prometheus.CounterVec
	mutationsTotal   *prometheus.CounterVec
	auditRecords     prometheus.Counter
	eventsPublished  prometheus.Counter
	opsDropped       prometheus.Counter
	subscribers      prometheus.Gauge
	mutationDuration prometheus.Histogram

	registry *prometheus.Registry
}

// New creates a metrics instance with its own registry
func New(namespace string) *Metrics {
	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	registry.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))

	m := &Metrics{
		authorizeTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "authorize_total",
				Help:      "Authorization decisions by effect",
			},
			[]string{"effect", "entity_type", "operation"},
		),
		mutationsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "mutations_total",
				Help:      "Accepted configuration mutations by kind",
			},
			[]string{"kind"},
		),
		auditRecords: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "audit",
				Name:      "records_total",
				Help:      "Audit records written",
			},
		),
		eventsPublished: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "propagate",
				Name:      "events_published_total",
				Help:      "Change events published to the bus",
			},
		),
		opsDropped: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Subsystem: "propagate",
				Name:      "ops_dropped_total",
				Help:      "Reconciliation ops dropped for slow subscribers",
			},
		),
		subscribers: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Subsystem: "propagate",
				Name:      "subscribers",
				Help:      "Currently connected subscribers",
			},
		),
		mutationDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "mutation_duration_seconds",
				Help:      "Latency of the resolve-authorize-apply-record sequence",
				Buckets:   prometheus.DefBuckets,
			},
		),
		registry: registry,
	}

	registry.MustRegister(
		m.authorizeTotal,
		m.mutationsTotal,
		m.auditRecords,
		m.eventsPublished,
		m.opsDropped,
		m.subscribers,
		m.mutationDuration,
	)
	return m
}

// RecordAuthorize counts one authorization decision
func (m *Metrics) RecordAuthorize(effect, entityType, operation string) {
	m.authorizeTotal.WithLabelValues(effect, entityType, operation).Inc()
}

// RecordMutation counts one accepted mutation
func (m *Metrics) RecordMutation(kind string) {
	m.mutationsTotal.WithLabelValues(kind).Inc()
}

// RecordAuditRecord counts one audit record written
func (m *Metrics) RecordAuditRecord() {
	m.auditRecords.Inc()
}

// RecordEventPublished counts one change event published
func (m *Metrics) RecordEventPublished() {
	m.eventsPublished.Inc()
}

// RecordOpDropped counts one dropped reconciliation op
func (m *Metrics) RecordOpDropped() {
	m.opsDropped.Inc()
}

// SubscriberConnected adjusts the subscriber gauge
func (m *Metrics) SubscriberConnected() { m.subscribers.Inc() }

// SubscriberDisconnected adjusts the subscriber gauge
func (m *Metrics) SubscriberDisconnected() { m.subscribers.Dec() }

// ObserveMutationDuration records one mutation's latency in seconds
func (m *Metrics) ObserveMutationDuration(seconds float64) {
	m.mutationDuration.Observe(seconds)
}

// Handler returns the HTTP handler exporting this registry
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
