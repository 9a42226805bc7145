package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "bankwire"

// Request outcomes.
const (
	OutcomeOK            = "ok"
	OutcomeUserError     = "user_error"
	OutcomeProtocolError = "protocol_error"
	OutcomeInternalError = "internal_error"
)

var (
	registerOnce sync.Once

	sessionsActive = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Connection actors currently running.",
		},
	)
	sessionsTotal = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Connection actors started.",
		},
	)
	requests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_total",
			Help:      "Client requests by operation and outcome.",
		},
		[]string{"op", "outcome"},
	)
	requestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Client request handling duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"op"},
	)
	transportErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "transport_errors_total",
			Help:      "Transport send/receive failures.",
		},
		[]string{"direction"},
	)
	bestEffortDropped = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "besteffort_dropped_total",
			Help:      "Best-effort sends that could not be delivered.",
		},
	)
	registryEvictions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "registry_evictions_total",
			Help:      "Registry entries replaced or swept.",
		},
		[]string{"reason"},
	)
	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total admin HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)
	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Admin HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

func RegisterMetrics() {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			sessionsActive,
			sessionsTotal,
			requests,
			requestDuration,
			transportErrors,
			bestEffortDropped,
			registryEvictions,
			httpRequests,
			httpDuration,
		)
	})
}

func SessionStarted() {
	RegisterMetrics()
	sessionsTotal.Inc()
	sessionsActive.Inc()
}

func SessionEnded() {
	RegisterMetrics()
	sessionsActive.Dec()
}

func RecordRequest(op, outcome string, duration time.Duration) {
	RegisterMetrics()
	requests.WithLabelValues(op, outcome).Inc()
	requestDuration.WithLabelValues(op).Observe(duration.Seconds())
}

// RecordTransportError counts a failure in direction "send" or "recv".
func RecordTransportError(direction string) {
	RegisterMetrics()
	transportErrors.WithLabelValues(direction).Inc()
}

func RecordBestEffortDrop() {
	RegisterMetrics()
	bestEffortDropped.Inc()
}

// RecordEviction counts a registry removal with reason "replaced" or "swept".
func RecordEviction(reason string, n int) {
	RegisterMetrics()
	registryEvictions.WithLabelValues(reason).Add(float64(n))
}

func RecordHTTPRequest(method, path string, status int, duration time.Duration) {
	RegisterMetrics()
	statusLabel := strconv.Itoa(status)
	httpRequests.WithLabelValues(method, path, statusLabel).Inc()
	httpDuration.WithLabelValues(method, path, statusLabel).Observe(duration.Seconds())
}
