// Package metrics exposes Prometheus counters for the chat core. Every
// method is safe on a nil *Metrics so components can run uninstrumented.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for ictchat
type Metrics struct {
	registry *prometheus.Registry

	// Authorization
	AuthVerdicts  *prometheus.CounterVec
	VerifyLatency prometheus.Histogram

	// Live channel
	SocketEvents      *prometheus.CounterVec
	SocketEmits       *prometheus.CounterVec
	ActiveConnections prometheus.Gauge

	// Synchronizer
	MessagesApplied *prometheus.CounterVec
	DedupCollapsed  prometheus.Counter
	StaleDiscarded  prometheus.Counter
	HistoryLatency  prometheus.Histogram

	// REST
	RequestErrors *prometheus.CounterVec
}

// New creates a Metrics instance registered on its own registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)

	return &Metrics{
		registry: reg,
		AuthVerdicts: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictchat_auth_verdicts_total",
				Help: "Authorization verdicts by terminal state and rejection code",
			},
			[]string{"state", "code"},
		),
		VerifyLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ictchat_verify_latency_seconds",
				Help:    "Remote token verification latency in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 15},
			},
		),
		SocketEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictchat_socket_events_total",
				Help: "Live channel events received, by event name",
			},
			[]string{"event"},
		),
		SocketEmits: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictchat_socket_emits_total",
				Help: "Live channel events emitted, by event name",
			},
			[]string{"event"},
		),
		ActiveConnections: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "ictchat_socket_connections",
				Help: "Open live channel connections",
			},
		),
		MessagesApplied: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictchat_messages_applied_total",
				Help: "Messages applied to the active log, by source (history, live, optimistic)",
			},
			[]string{"source"},
		),
		DedupCollapsed: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ictchat_dedup_collapsed_total",
				Help: "Incoming messages that replaced an existing entry in place",
			},
		),
		StaleDiscarded: factory.NewCounter(
			prometheus.CounterOpts{
				Name: "ictchat_stale_history_discarded_total",
				Help: "History responses dropped because the room was deselected",
			},
		),
		HistoryLatency: factory.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ictchat_history_latency_seconds",
				Help:    "History fetch latency in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
		RequestErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ictchat_request_errors_total",
				Help: "Failed REST calls by operation and error kind",
			},
			[]string{"op", "kind"},
		),
	}
}

// Registry returns the registry the metrics are registered on.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) ObserveVerdict(state, code string, took time.Duration) {
	if m == nil {
		return
	}
	m.AuthVerdicts.WithLabelValues(state, code).Inc()
	if took > 0 {
		m.VerifyLatency.Observe(took.Seconds())
	}
}

func (m *Metrics) SocketEvent(event string) {
	if m == nil {
		return
	}
	m.SocketEvents.WithLabelValues(event).Inc()
}

func (m *Metrics) SocketEmit(event string) {
	if m == nil {
		return
	}
	m.SocketEmits.WithLabelValues(event).Inc()
}

func (m *Metrics) ConnectionOpened() {
	if m == nil {
		return
	}
	m.ActiveConnections.Inc()
}

func (m *Metrics) ConnectionClosed() {
	if m == nil {
		return
	}
	m.ActiveConnections.Dec()
}

func (m *Metrics) MessageApplied(source string, collapsed bool) {
	if m == nil {
		return
	}
	m.MessagesApplied.WithLabelValues(source).Inc()
	if collapsed {
		m.DedupCollapsed.Inc()
	}
}

func (m *Metrics) StaleHistory() {
	if m == nil {
		return
	}
	m.StaleDiscarded.Inc()
}

func (m *Metrics) History(took time.Duration) {
	if m == nil {
		return
	}
	m.HistoryLatency.Observe(took.Seconds())
}

func (m *Metrics) RequestError(op, kind string) {
	if m == nil {
		return
	}
	m.RequestErrors.WithLabelValues(op, kind).Inc()
}
