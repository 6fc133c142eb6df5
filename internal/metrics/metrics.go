// Package metrics provides Prometheus metrics for the signaling broker.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "drop_ws_connections_active",
		Help: "Number of currently open signaling connections.",
	})

	SessionsCreated = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drop_sessions_created_total",
		Help: "Total number of sessions created.",
	})

	SessionsClosed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drop_sessions_closed_total",
		Help: "Total number of sessions closed, by reason.",
	}, []string{"reason"})

	Joins = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drop_joins_total",
		Help: "Total number of successful joins.",
	})

	RequestErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drop_request_errors_total",
		Help: "Handler errors reported to clients, by event and kind.",
	}, []string{"event", "kind"})

	Relays = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drop_relays_total",
		Help: "Handshake messages forwarded, by kind.",
	}, []string{"kind"})

	RelaysDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "drop_relays_dropped_total",
		Help: "Handshake messages dropped, by reason.",
	}, []string{"reason"})

	ReconcileFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "drop_reconcile_failures_total",
		Help: "Disconnect cleanups that failed against the store.",
	})
)

func RecordSessionClosed(reason string) {
	SessionsClosed.WithLabelValues(reason).Inc()
}

func RecordRequestError(event, kind string) {
	RequestErrors.WithLabelValues(event, kind).Inc()
}
