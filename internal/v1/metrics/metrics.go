package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the signaling relay.
//
// Naming convention: namespace_subsystem_name
// - namespace: moli_relay
// - subsystem: websocket, room, admission
//
// Gauges track current state (connections, rooms); counters track cumulative
// events (relayed frames, drops, rejections).

var (
	// ActiveConnections tracks the current number of live WebSocket sessions
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "moli_relay",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of rooms in the registry
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "moli_relay",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// MessagesRelayed counts text frames accepted and published to a room
	MessagesRelayed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "moli_relay",
		Subsystem: "websocket",
		Name:      "messages_relayed_total",
		Help:      "Total text frames published to rooms",
	})

	// MessagesDropped counts inbound frames discarded without relaying.
	// Reasons: rate_soft, too_large, malformed, not_object, lag
	MessagesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moli_relay",
		Subsystem: "websocket",
		Name:      "messages_dropped_total",
		Help:      "Total frames dropped without relaying",
	}, []string{"reason"})

	// AdmissionRejections counts upgrade attempts denied before session start.
	// Reasons: origin, global, ip
	AdmissionRejections = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moli_relay",
		Subsystem: "admission",
		Name:      "rejections_total",
		Help:      "Total WebSocket upgrade attempts rejected",
	}, []string{"reason"})

	// RateLimitRequests counts requests evaluated by the HTTP rate limiter
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moli_relay",
		Subsystem: "admission",
		Name:      "http_requests_total",
		Help:      "Total HTTP requests evaluated by the API rate limiter",
	}, []string{"path"})

	// RateLimitExceeded counts requests rejected by the HTTP rate limiter
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "moli_relay",
		Subsystem: "admission",
		Name:      "http_requests_limited_total",
		Help:      "Total HTTP requests rejected by the API rate limiter",
	}, []string{"path"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
