// Package metrics exposes Prometheus counters for bridge sessions.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	once     sync.Once
	registry *Registry
)

// Registry holds all bridge metrics.
type Registry struct {
	// Inbound (backend → front-end)
	MessagesReceived *prometheus.CounterVec
	MessagesDropped  *prometheus.CounterVec
	EventsPublished  *prometheus.CounterVec

	// Outbound (front-end → backend)
	MessagesSent *prometheus.CounterVec
	SendErrors   *prometheus.CounterVec
	SendLatency  *prometheus.HistogramVec

	// Lifecycle
	Sessions       *prometheus.GaugeVec
	LaunchFailures prometheus.Counter
	HandshakeTime  prometheus.Histogram
	ForcedQuits    prometheus.Counter
	BackendSignals *prometheus.CounterVec
}

// Get returns the global metrics registry, creating it if necessary.
func Get() *Registry {
	once.Do(func() {
		registry = newRegistry()
	})
	return registry
}

func newRegistry() *Registry {
	r := &Registry{}

	r.MessagesReceived = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvimbridge_messages_received_total",
		Help: "Messages received from the backend",
	}, []string{"opcode"})

	r.MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvimbridge_messages_dropped_total",
		Help: "Inbound messages dropped because their payload did not decode",
	}, []string{"opcode"})

	r.EventsPublished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvimbridge_events_published_total",
		Help: "Events published on session event streams",
	}, []string{"event"})

	r.MessagesSent = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvimbridge_messages_sent_total",
		Help: "Messages delivered to the backend",
	}, []string{"opcode"})

	r.SendErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvimbridge_send_errors_total",
		Help: "Outbound messages rejected or not delivered",
	}, []string{"opcode", "reason"})

	r.SendLatency = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "nvimbridge_send_duration_seconds",
		Help:    "Time from send to delivery acknowledgement",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 8),
	}, []string{"opcode"})

	r.Sessions = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "nvimbridge_sessions",
		Help: "Sessions by lifecycle state",
	}, []string{"state"})

	r.LaunchFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvimbridge_launch_failures_total",
		Help: "Sessions whose backend failed to start or complete the handshake",
	})

	r.HandshakeTime = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "nvimbridge_handshake_duration_seconds",
		Help:    "Time from backend launch to the ready handshake",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 10),
	})

	r.ForcedQuits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "nvimbridge_forced_quits_total",
		Help: "Sessions shut down with signals",
	})

	r.BackendSignals = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "nvimbridge_backend_signals_total",
		Help: "Signals sent to backend processes",
	}, []string{"signal"})

	return r
}

// SetState moves one session from one lifecycle state gauge to another.
// An empty from only increments.
func (r *Registry) SetState(from, to string) {
	if from != "" {
		r.Sessions.WithLabelValues(from).Dec()
	}
	if to != "" {
		r.Sessions.WithLabelValues(to).Inc()
	}
}
