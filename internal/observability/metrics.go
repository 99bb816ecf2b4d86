package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce sync.Once

	droppedObservations = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yardcam",
			Name:      "dropped_observations_total",
			Help:      "Observations dropped before debouncing.",
		},
		[]string{"reason"},
	)
	regionTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yardcam",
			Subsystem: "registry",
			Name:      "transitions_total",
			Help:      "Settled region transitions applied to the registry.",
		},
		[]string{"kind"},
	)
	dispatchAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yardcam",
			Subsystem: "dispatch",
			Name:      "attempts_total",
			Help:      "Confirmed intents by outcome.",
		},
		[]string{"outcome", "reason"},
	)
	dispatchDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yardcam",
			Subsystem: "dispatch",
			Name:      "request_duration_seconds",
			Help:      "Outbound work-order request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"success"},
	)
	pendingIntents = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "yardcam",
			Subsystem: "dispatch",
			Name:      "pending_intents",
			Help:      "Intents waiting for their grace period or an in-flight call.",
		},
	)
	workerRestarts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yardcam",
			Subsystem: "supervisor",
			Name:      "worker_restarts_total",
			Help:      "Camera worker restarts after a failure.",
		},
		[]string{"camera"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "yardcam",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		},
		[]string{"node", "method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "yardcam",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"node", "method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			droppedObservations,
			regionTransitions,
			dispatchAttempts,
			dispatchDuration,
			pendingIntents,
			workerRestarts,
			httpRequests,
			httpDuration,
		)
	})
}

func RecordDroppedObservation(reason string) {
	RegisterMetrics()
	droppedObservations.WithLabelValues(reason).Inc()
}

func RecordTransition(kind string) {
	RegisterMetrics()
	regionTransitions.WithLabelValues(kind).Inc()
}

// RecordDispatchAttempt counts one confirmation outcome. reason is empty for
// successful dispatches.
func RecordDispatchAttempt(outcome, reason string) {
	RegisterMetrics()
	dispatchAttempts.WithLabelValues(outcome, reason).Inc()
}

func RecordDispatchRequest(duration time.Duration, success bool) {
	RegisterMetrics()
	dispatchDuration.WithLabelValues(strconv.FormatBool(success)).Observe(duration.Seconds())
}

func IntentOpened() {
	RegisterMetrics()
	pendingIntents.Inc()
}

func IntentClosed() {
	RegisterMetrics()
	pendingIntents.Dec()
}

func RecordWorkerRestart(camera string) {
	RegisterMetrics()
	workerRestarts.WithLabelValues(camera).Inc()
}

func RecordHTTPRequest(node, method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(node, method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(node, method, path, statusLabel).Observe(duration.Seconds())
}
