package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Naming convention: namespace_subsystem_name
// - namespace: syncroom (application-level grouping)
// - subsystem: websocket, room, bus, worker (feature-level grouping)

var (
	// ActiveConnections tracks the current number of open WebSocket connections.
	ActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "syncroom",
		Subsystem: "websocket",
		Name:      "connections_active",
		Help:      "Current number of active WebSocket connections",
	})

	// ActiveRooms tracks rooms this instance currently knows to exist.
	ActiveRooms = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: "syncroom",
		Subsystem: "room",
		Name:      "rooms_active",
		Help:      "Current number of rooms in the shared store",
	})

	// Commands counts processed client commands by type and outcome.
	Commands = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncroom",
		Subsystem: "websocket",
		Name:      "commands_total",
		Help:      "Total client commands processed",
	}, []string{"command", "status"})

	// CommandDuration tracks time spent processing a single command.
	CommandDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "syncroom",
		Subsystem: "websocket",
		Name:      "command_processing_seconds",
		Help:      "Time spent processing client commands",
		Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1},
	}, []string{"command"})

	// BroadcastsPublished counts events published on the bus.
	BroadcastsPublished = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncroom",
		Subsystem: "bus",
		Name:      "broadcasts_published_total",
		Help:      "Total room events published to the pub/sub channel",
	})

	// DroppedSends counts outbound frames dropped on slow or dead connections.
	DroppedSends = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "syncroom",
		Subsystem: "websocket",
		Name:      "dropped_sends_total",
		Help:      "Outbound frames dropped due to backpressure or closed connections",
	})

	// RateLimitExceeded counts HTTP requests rejected by the rate limiter.
	RateLimitExceeded = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncroom",
		Subsystem: "http",
		Name:      "rate_limit_exceeded_total",
		Help:      "Requests rejected by the per-IP rate limiter",
	}, []string{"path"})

	// WorkerRuns counts lifecycle worker job executions by job and outcome.
	WorkerRuns = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncroom",
		Subsystem: "worker",
		Name:      "job_runs_total",
		Help:      "Lifecycle worker job executions",
	}, []string{"job", "status"})

	// RoomsEvicted counts rooms closed by the lifecycle worker.
	RoomsEvicted = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncroom",
		Subsystem: "worker",
		Name:      "rooms_evicted_total",
		Help:      "Rooms closed by the inactivity sweep",
	}, []string{"reason"})

	// CircuitBreakerState reflects the shared-store breaker state (0 closed, 1 open, 2 half-open).
	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: "syncroom",
		Subsystem: "store",
		Name:      "circuit_breaker_state",
		Help:      "Circuit breaker state: 0=closed, 1=open, 2=half-open",
	}, []string{"name"})

	// CircuitBreakerFailures counts calls rejected by an open breaker.
	CircuitBreakerFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "syncroom",
		Subsystem: "store",
		Name:      "circuit_breaker_failures_total",
		Help:      "Calls rejected because the circuit breaker was open",
	}, []string{"name"})
)

func IncConnection() {
	ActiveConnections.Inc()
}

func DecConnection() {
	ActiveConnections.Dec()
}
