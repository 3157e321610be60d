// Package metrics exposes Prometheus collectors for presence, messaging and
// call signaling. All methods are safe on a nil *Metrics.
package metrics

import (
	"net/http"

	"svyaz/internal/models"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const defaultNamespace = "svyaz"

// Call results recorded by CallEvent.
const (
	CallInitiated = "initiated"
	CallFailed    = "failed"
	CallAnswered  = "answered"
	CallDeclined  = "declined"
	CallEnded     = "ended"
	CallRejoined  = "rejoined"
)

type Metrics struct {
	registry            *prometheus.Registry
	onlineUsers         prometheus.Gauge
	activeCalls         prometheus.Gauge
	messages            *prometheus.CounterVec
	calls               *prometheus.CounterVec
	signalingDropped    *prometheus.CounterVec
	persistenceFailures prometheus.Counter
}

// New builds the collectors on a private registry. An empty namespace
// defaults to "svyaz".
func New(namespace string) (*Metrics, error) {
	if namespace == "" {
		namespace = defaultNamespace
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		onlineUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "online_users",
			Help:      "Users with a live connection",
		}),
		activeCalls: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "active_calls",
			Help:      "Call sessions currently in the registry",
		}),
		messages: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "messages_total",
			Help:      "Persisted chat messages and call records by kind",
		}, []string{"kind"}),
		calls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "calls_total",
			Help:      "Call state transitions by result",
		}, []string{"result"}),
		signalingDropped: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signaling_dropped_total",
			Help:      "Relayed events dropped because the target was not connected",
		}, []string{"event"}),
		persistenceFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "persistence_failures_total",
			Help:      "Failed message or call record saves",
		}),
	}

	for _, c := range []prometheus.Collector{
		prometheus.NewGoCollector(),
		m.onlineUsers,
		m.activeCalls,
		m.messages,
		m.calls,
		m.signalingDropped,
		m.persistenceFailures,
	} {
		if err := m.registry.Register(c); err != nil {
			return nil, err
		}
	}

	return m, nil
}

// Registry exposes the underlying Prometheus registry.
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusServiceUnavailable)
		})
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

func (m *Metrics) SetOnlineUsers(n int) {
	if m == nil {
		return
	}
	m.onlineUsers.Set(float64(n))
}

func (m *Metrics) SetActiveCalls(n int) {
	if m == nil {
		return
	}
	m.activeCalls.Set(float64(n))
}

func (m *Metrics) MessageStored(kind models.MessageKind) {
	if m == nil {
		return
	}
	m.messages.WithLabelValues(string(kind)).Inc()
}

func (m *Metrics) CallEvent(result string) {
	if m == nil {
		return
	}
	m.calls.WithLabelValues(result).Inc()
}

func (m *Metrics) SignalDropped(event models.ServerMessageType) {
	if m == nil {
		return
	}
	m.signalingDropped.WithLabelValues(string(event)).Inc()
}

func (m *Metrics) PersistenceFailed() {
	if m == nil {
		return
	}
	m.persistenceFailures.Inc()
}
