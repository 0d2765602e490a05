package observability

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Send-path metrics
	messagesSentTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_messages_sent_total",
			Help: "Total number of messages accepted by the send path",
		},
		[]string{"agent", "message"},
	)

	messagesDroppedTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_messages_dropped_total",
			Help: "Total number of messages dropped before dispatch",
		},
		[]string{"reason"},
	)

	// Dispatch metrics
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "agentgrid_dispatch_duration_seconds",
			Help:    "Handler execution duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"receiver"},
	)

	handlerPanicsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_handler_panics_total",
			Help: "Total number of recovered handler panics",
		},
		[]string{"receiver"},
	)

	queueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "agentgrid_queue_depth",
			Help: "Number of messages waiting in a receiver's queues",
		},
		[]string{"receiver"},
	)

	// Worker metrics
	replicationsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "agentgrid_replications_total",
			Help: "Total number of replica workers spawned",
		},
		[]string{"agent"},
	)

	inFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "agentgrid_messages_in_flight",
			Help: "Messages between enqueue and handler completion",
		},
	)

	initOnce sync.Once

	snapMu    sync.Mutex
	depths    = make(map[string]int)
	inFlightN int64
)

// InitMetrics registers the runtime metrics with the default registry.
func InitMetrics() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			messagesSentTotal,
			messagesDroppedTotal,
			dispatchDuration,
			handlerPanicsTotal,
			queueDepth,
			replicationsTotal,
			inFlight,
		)
	})
}

// MetricsHandler returns an HTTP handler for Prometheus metrics
func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

// RecordSend records a message accepted by the send path.
func RecordSend(agent, message string) {
	messagesSentTotal.WithLabelValues(agent, message).Inc()
}

// RecordDrop records a message dropped before dispatch.
func RecordDrop(reason string) {
	messagesDroppedTotal.WithLabelValues(reason).Inc()
}

// RecordDispatch records one handler invocation.
func RecordDispatch(receiver string, duration time.Duration) {
	dispatchDuration.WithLabelValues(receiver).Observe(duration.Seconds())
}

// RecordHandlerPanic records a recovered handler panic.
func RecordHandlerPanic(receiver string) {
	handlerPanicsTotal.WithLabelValues(receiver).Inc()
}

// SetQueueDepth sets the queue depth gauge for a receiver.
func SetQueueDepth(receiver string, depth int) {
	queueDepth.WithLabelValues(receiver).Set(float64(depth))
	snapMu.Lock()
	if depth == 0 {
		delete(depths, receiver)
	} else {
		depths[receiver] = depth
	}
	snapMu.Unlock()
}

// RecordReplication records a replica worker spawn.
func RecordReplication(agent string) {
	replicationsTotal.WithLabelValues(agent).Inc()
}

// SetInFlight sets the in-flight messages gauge.
func SetInFlight(n int64) {
	inFlight.Set(float64(n))
	snapMu.Lock()
	inFlightN = n
	snapMu.Unlock()
}

// QueuesHandler serves a JSON snapshot of queue depths and the in-flight
// count.
func QueuesHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		snapMu.Lock()
		snapshot := struct {
			InFlight int64          `json:"in_flight"`
			Queues   map[string]int `json:"queues"`
		}{InFlight: inFlightN, Queues: make(map[string]int, len(depths))}
		for k, v := range depths {
			snapshot.Queues[k] = v
		}
		snapMu.Unlock()

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(snapshot)
	}
}
