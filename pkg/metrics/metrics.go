// Package metrics holds the Prometheus collectors of an enginehub Hub.
//
// A nil *Metrics is valid and records nothing, so components can carry one
// unconditionally.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "enginehub"

// Metrics groups the hub's collectors.
type Metrics struct {
	Instances       prometheus.Gauge
	Operations      *prometheus.CounterVec
	CleanupFailures prometheus.Counter
	Detections      prometheus.Counter
	ListenerPanics  prometheus.Counter
	ActiveSessions  *prometheus.GaugeVec
	ClusterPushes   prometheus.Counter
	PersistFailures prometheus.Counter
}

// New creates the collectors and registers them on reg. A nil reg leaves them
// unregistered.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Instances: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "instances",
			Help:      "Number of live engine instances.",
		}),
		Operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Hub operations by name and result.",
		}, []string{"op", "result"}),
		CleanupFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cleanup_failures_total",
			Help:      "Errors swallowed while destroying instances.",
		}),
		Detections: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "detections_total",
			Help:      "Detections delivered to the global listener.",
		}),
		ListenerPanics: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "listener_panics_total",
			Help:      "Panics recovered from the global listener.",
		}),
		ActiveSessions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "stream_sessions",
			Help:      "Streaming sessions currently held, by kind.",
		}, []string{"kind"}),
		ClusterPushes: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_pushes_total",
			Help:      "Embeddings pushed into clusters.",
		}),
		PersistFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cluster_persist_failures_total",
			Help:      "Cluster snapshots that could not be persisted.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.Instances,
			m.Operations,
			m.CleanupFailures,
			m.Detections,
			m.ListenerPanics,
			m.ActiveSessions,
			m.ClusterPushes,
			m.PersistFailures,
		)
	}
	return m
}

// Op counts one operation outcome.
func (m *Metrics) Op(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.Operations.WithLabelValues(op, result).Inc()
}

// InstanceAdded and InstanceRemoved track the live instance gauge.
func (m *Metrics) InstanceAdded() {
	if m != nil {
		m.Instances.Inc()
	}
}

func (m *Metrics) InstanceRemoved() {
	if m != nil {
		m.Instances.Dec()
	}
}

func (m *Metrics) CleanupFailed() {
	if m != nil {
		m.CleanupFailures.Inc()
	}
}

func (m *Metrics) Detected() {
	if m != nil {
		m.Detections.Inc()
	}
}

func (m *Metrics) ListenerPanicked() {
	if m != nil {
		m.ListenerPanics.Inc()
	}
}

// SessionDelta moves the session gauge of kind by d.
func (m *Metrics) SessionDelta(kind string, d float64) {
	if m != nil {
		m.ActiveSessions.WithLabelValues(kind).Add(d)
	}
}

func (m *Metrics) ClusterPushed() {
	if m != nil {
		m.ClusterPushes.Inc()
	}
}

func (m *Metrics) PersistFailed() {
	if m != nil {
		m.PersistFailures.Inc()
	}
}
