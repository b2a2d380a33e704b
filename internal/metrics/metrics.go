// internal/metrics/metrics.go
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "voicebattle"

// Metrics groups the coordinator's Prometheus collectors on a private registry.
type Metrics struct {
	Registry *prometheus.Registry

	ConnectedUsers    prometheus.Gauge
	Rooms             prometheus.Gauge
	QueueDepth        prometheus.Gauge
	PendingReconnects prometheus.Gauge

	InboundEvents  *prometheus.CounterVec
	DroppedEvents  *prometheus.CounterVec
	RateLimited    prometheus.Counter
	StoreErrors    *prometheus.CounterVec
	BattlesStarted prometheus.Counter
	BattlesEnded   *prometheus.CounterVec
	Reconnects     *prometheus.CounterVec
}

// New registers every collector on a fresh registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	m := &Metrics{
		Registry: reg,
		ConnectedUsers: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "connected_users",
			Help: "Distinct users with an active socket.",
		}),
		Rooms: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "rooms",
			Help: "Rooms currently held in memory.",
		}),
		QueueDepth: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "matchmaking_queue_depth",
			Help: "Players waiting for a random opponent.",
		}),
		PendingReconnects: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace, Name: "pending_reconnects",
			Help: "Disconnected players inside their grace period.",
		}),
		InboundEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "inbound_events_total",
			Help: "Client events received, by type.",
		}, []string{"type"}),
		DroppedEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "dropped_events_total",
			Help: "Outbound events dropped on a full or closed connection queue.",
		}, []string{"type"}),
		RateLimited: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "rate_limited_events_total",
			Help: "Client events rejected by the per-connection limiter.",
		}),
		StoreErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "session_store_errors_total",
			Help: "Session store failures that put a battle in degraded mode.",
		}, []string{"op"}),
		BattlesStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace, Name: "battles_started_total",
			Help: "Rooms moved from lobby to battle.",
		}),
		BattlesEnded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "battles_ended_total",
			Help: "Battle results finalized, by ranked flag.",
		}, []string{"ranked"}),
		Reconnects: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace, Name: "reconnects_total",
			Help: "Grace period outcomes.",
		}, []string{"outcome"}),
	}

	reg.MustRegister(
		collectors.NewGoCollector(),
		m.ConnectedUsers, m.Rooms, m.QueueDepth, m.PendingReconnects,
		m.InboundEvents, m.DroppedEvents, m.RateLimited, m.StoreErrors,
		m.BattlesStarted, m.BattlesEnded, m.Reconnects,
	)
	return m
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
