// Package metrics provides Prometheus instrumentation for the chat server.
// It exposes gauges for connection, user, and room counts, counters for
// message throughput, and a histogram for event handling latency.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// ConnectionsTotal tracks the current number of active WebSocket connections.
	ConnectionsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_connections_total",
		Help: "Current number of active WebSocket connections",
	})

	// UsersOnline tracks the current number of authenticated users.
	UsersOnline = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_users_online",
		Help: "Current number of authenticated users",
	})

	// RoomsTotal tracks the number of known rooms.
	RoomsTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "chat_rooms_total",
		Help: "Current number of known rooms",
	})

	// MessagesTotal counts messages accepted by the coordinator, labeled by
	// kind: "room", "private", or "file".
	MessagesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "chat_messages_total",
		Help: "Total number of messages accepted",
	}, []string{"kind"})

	// EventLatency records inbound event handling latency in seconds.
	EventLatency = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "chat_event_latency_seconds",
		Help:    "Inbound event handling latency in seconds",
		Buckets: []float64{.0001, .0005, .001, .005, .01, .025, .05, .1, .25},
	})
)

func init() {
	prometheus.MustRegister(
		ConnectionsTotal,
		UsersOnline,
		RoomsTotal,
		MessagesTotal,
		EventLatency,
	)
}

// Handler returns the Prometheus metrics HTTP handler.
func Handler() http.Handler {
	return promhttp.Handler()
}
