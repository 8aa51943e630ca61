package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics for the collaboration server.
//
// Naming convention: namespace_subsystem_name
// - namespace: scrawl (application-level grouping)
// - subsystem: websocket, room, storage, http (feature-level grouping)
// - name: specific metric (connections_active, events_total, etc.)
//
// Metric Types:
// - Gauge: Current state (connections, rooms, members)
// - Counter: Cumulative events (frames relayed, errors)
// - Histogram: Latency distributions (processing time, storage calls)

var (
	// ActiveWebSocketConnections tracks the current number of active WebSocket connections
	ActiveWebSocketConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scrawl",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks the current number of active rooms
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "scrawl",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of active rooms",
	})

	// RoomMembers tracks the number of members in each room
	RoomMembers = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scrawl",
		Subsystem: "room",
		Name:      "members_count",
		Help:      "Number of members in each room",
	}, []string{"room_id"})

	// WebsocketEvents tracks the total number of WebSocket events processed
	WebsocketEvents = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrawl",
		Subsystem: "websocket",
		Name:      "events_total",
		Help:      "Total WebSocket events processed",
	}, []string{"event_type", "status"})

	// MessageProcessingDuration tracks the time spent processing WebSocket messages
	MessageProcessingDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scrawl",
		Subsystem: "websocket",
		Name:      "message_processing_seconds",
		Help:      "Time spent processing WebSocket messages",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"event_type"})

	// BroadcastFrames tracks relayed broadcast frames by delivery class
	BroadcastFrames = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrawl",
		Subsystem: "websocket",
		Name:      "broadcast_frames_total",
		Help:      "Total broadcast frames relayed to peers",
	}, []string{"kind"})

	// FramesDropped tracks outbound frames that never reached a peer queue
	FramesDropped = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrawl",
		Subsystem: "websocket",
		Name:      "frames_dropped_total",
		Help:      "Total outbound frames dropped before delivery",
	}, []string{"reason"})

	// ChatMessages tracks chat messages appended to room histories
	ChatMessages = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "scrawl",
		Subsystem: "room",
		Name:      "chat_messages_total",
		Help:      "Total chat messages appended to room histories",
	})

	// StorageOperationDuration tracks storage backend call latency
	StorageOperationDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "scrawl",
		Subsystem: "storage",
		Name:      "operation_seconds",
		Help:      "Time spent in storage backend operations",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5},
	}, []string{"backend", "operation"})

	// StorageErrors tracks failed storage backend operations
	StorageErrors = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrawl",
		Subsystem: "storage",
		Name:      "errors_total",
		Help:      "Total failed storage backend operations",
	}, []string{"backend", "operation"})

	// CircuitBreakerState reports breaker state (0 closed, 1 open, 2 half-open)
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "scrawl",
		Subsystem: "storage",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open)",
	}, []string{"name"})

	// CircuitBreakerFailures counts operations rejected or failed through the breaker
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrawl",
		Subsystem: "storage",
		Name:      "circuit_breaker_failures_total",
		Help:      "Total circuit breaker failures",
	}, []string{"name"})

	// RateLimitRequests counts requests that passed a rate limit check
	RateLimitRequests = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrawl",
		Subsystem: "http",
		Name:      "rate_limit_requests_total",
		Help:      "Total requests checked against rate limits",
	}, []string{"endpoint"})

	// RateLimitExceeded counts requests rejected by a rate limit
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "scrawl",
		Subsystem: "http",
		Name:      "rate_limit_exceeded_total",
		Help:      "Total requests rejected by rate limits",
	}, []string{"endpoint", "limit_type"})
)

func IncConnection() {
	ActiveWebSocketConnections.Inc()
}

func DecConnection() {
	ActiveWebSocketConnections.Dec()
}
