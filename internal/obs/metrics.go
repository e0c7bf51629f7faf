package obs

import (
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// HTTP metrics shared by every route.
var (
	httpInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "http_in_flight_requests",
		Help: "In-flight HTTP requests.",
	})

	httpRequestsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests.",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latencies in seconds.",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
)

// Access-control domain metrics.
var (
	accessDecisions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "access_decisions_total",
			Help: "Authorization decisions by access point, outcome and reason.",
		},
		[]string{"point", "outcome", "reason"},
	)

	actuatorCommandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "actuator_command_duration_seconds",
			Help:    "Actuator open/close round-trip latency.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5, 10},
		},
		[]string{"command"},
	)

	interlockQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "interlock_queue_depth",
			Help: "Requests waiting behind an airlock pair.",
		},
		[]string{"pair"},
	)

	credentialsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "credentials_active",
		Help: "Credentials currently in active status.",
	})
)

// Init registers all metrics in the default registry.
func Init() {
	prometheus.MustRegister(
		httpInFlight, httpRequestsTotal, httpRequestDuration,
		accessDecisions, actuatorCommandDuration, interlockQueueDepth,
		credentialsActive,
	)
}

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordDecision counts one authorization decision.
func RecordDecision(pointID string, allowed bool, reason string) {
	outcome := "deny"
	if allowed {
		outcome = "allow"
	}
	accessDecisions.WithLabelValues(pointID, outcome, reason).Inc()
}

// ObserveActuatorCommand records one actuator round trip.
func ObserveActuatorCommand(command string, d time.Duration) {
	actuatorCommandDuration.WithLabelValues(command).Observe(d.Seconds())
}

// SetInterlockQueueDepth publishes the current queue length for a pair.
func SetInterlockQueueDepth(pairKey string, depth int) {
	interlockQueueDepth.WithLabelValues(pairKey).Set(float64(depth))
}

// SetActiveCredentials publishes the active credential count.
func SetActiveCredentials(n int) {
	credentialsActive.Set(float64(n))
}

// CanonicalPath collapses resource identifiers so metric cardinality
// stays bounded.
func CanonicalPath(path string) string {
	if i := strings.IndexByte(path, '?'); i >= 0 {
		path = path[:i]
	}
	if path == "" {
		return "/"
	}
	for _, prefix := range []string{"/v1/credentials/", "/v1/points/", "/v1/groups/", "/v1/visits/"} {
		rest, ok := strings.CutPrefix(path, prefix)
		if !ok || rest == "" {
			continue
		}
		if sub, found := strings.CutSuffix(rest, "/heartbeat"); found && !strings.Contains(sub, "/") {
			return prefix + ":id/heartbeat"
		}
		if !strings.Contains(rest, "/") {
			return prefix + ":id"
		}
	}
	return path
}

// Instrument wraps next with RPS/latency/in-flight measurements.
func Instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		path := CanonicalPath(r.URL.Path)
		method := r.Method

		httpInFlight.Inc()
		start := time.Now()

		sw := &statusWriter{ResponseWriter: w, code: 200}
		next.ServeHTTP(sw, r)

		duration := time.Since(start).Seconds()
		status := strconv.Itoa(sw.code)

		httpRequestDuration.WithLabelValues(method, path, status).Observe(duration)
		httpRequestsTotal.WithLabelValues(method, path, status).Inc()
		httpInFlight.Dec()
	})
}

// statusWriter captures the response status code.
type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

// Flush forwards to the wrapped writer when it supports streaming (SSE).
func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
