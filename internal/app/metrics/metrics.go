package metrics

import (
	"bufio"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// Registry holds the application-specific Prometheus collectors.
	Registry = prometheus.NewRegistry()

	httpInFlight = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "idstore",
			Subsystem: "http",
			Name:      "inflight_requests",
			Help:      "Current number of in-flight HTTP requests.",
		},
	)

	httpRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "idstore",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled.",
		},
		[]string{"method", "path", "status"},
	)

	httpDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "idstore",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "Duration of HTTP requests.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 10), // 5ms to ~5s
		},
		[]string{"method", "path"},
	)

	ordersPlaced = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "idstore",
			Subsystem: "orders",
			Name:      "placed_total",
			Help:      "Total number of orders placed.",
		},
	)

	topupsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "idstore",
			Subsystem: "topups",
			Name:      "processed_total",
			Help:      "Total number of voucher redemptions by outcome.",
		},
		[]string{"status"},
	)

	linkJobs = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "idstore",
			Subsystem: "linker",
			Name:      "jobs_total",
			Help:      "Total number of device link jobs by outcome.",
		},
		[]string{"phase", "status"},
	)

	linkJobDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "idstore",
			Subsystem: "linker",
			Name:      "job_duration_seconds",
			Help:      "Duration of device link jobs.",
			Buckets:   prometheus.ExponentialBuckets(1, 2, 10), // 1s to ~17m
		},
		[]string{"phase"},
	)

	linkQueueDepth = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Namespace: "idstore",
			Subsystem: "linker",
			Name:      "queue_depth",
			Help:      "Number of link jobs waiting for the device worker.",
		},
	)
)

func init() {
	Registry.MustRegister(
		httpInFlight,
		httpRequests,
		httpDuration,
		ordersPlaced,
		topupsProcessed,
		linkJobs,
		linkJobDuration,
		linkQueueDepth,
		prometheus.NewProcessCollector(prometheus.ProcessCollectorOpts{}),
		prometheus.NewGoCollector(),
	)
}

// Handler returns an HTTP handler exposing the registered Prometheus metrics.
func Handler() http.Handler {
	return promhttp.HandlerFor(Registry, promhttp.HandlerOpts{})
}

// InstrumentHandler wraps the provided handler with HTTP metrics collection.
func InstrumentHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/metrics" {
			next.ServeHTTP(w, r)
			return
		}

		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		start := time.Now()

		httpInFlight.Inc()
		defer httpInFlight.Dec()

		next.ServeHTTP(rec, r)

		duration := time.Since(start)
		path := canonicalPath(r.URL.Path)
		method := strings.ToUpper(r.Method)

		httpRequests.WithLabelValues(method, path, strconv.Itoa(rec.status)).Inc()
		httpDuration.WithLabelValues(method, path).Observe(duration.Seconds())
	})
}

// RecordOrderPlaced counts a successful purchase.
func RecordOrderPlaced() {
	ordersPlaced.Inc()
}

// RecordTopUp counts a voucher redemption outcome.
func RecordTopUp(status string) {
	topupsProcessed.WithLabelValues(status).Inc()
}

// RecordLinkJob records the outcome and duration of a device link job.
func RecordLinkJob(phase, status string, duration time.Duration) {
	if duration <= 0 {
		duration = time.Millisecond
	}
	linkJobs.WithLabelValues(phase, status).Inc()
	linkJobDuration.WithLabelValues(phase).Observe(duration.Seconds())
}

// SetLinkQueueDepth publishes the current worker queue depth.
func SetLinkQueueDepth(n int) {
	linkQueueDepth.Set(float64(n))
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *statusRecorder) Write(b []byte) (int, error) {
	if r.status == 0 {
		r.status = http.StatusOK
	}
	return r.ResponseWriter.Write(b)
}

// Hijack passes through to the underlying writer so websocket upgrades work
// on instrumented routes.
func (r *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	hj, ok := r.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	r.status = http.StatusSwitchingProtocols
	return hj.Hijack()
}

func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// canonicalPath collapses resource IDs so metric cardinality stays bounded.
func canonicalPath(raw string) string {
	trimmed := strings.Trim(raw, "/")
	if trimmed == "" {
		return "/"
	}
	parts := strings.Split(trimmed, "/")
	// Paths look like /api/v1/<resource>/<id>/<action>, with an optional
	// admin segment in front of the resource.
	if len(parts) < 3 || parts[0] != "api" {
		return "/" + parts[0]
	}
	prefix := "/api/v1/"
	if parts[2] == "admin" {
		if len(parts) == 3 {
			return "/api/v1/admin"
		}
		prefix = "/api/v1/admin/"
		parts = parts[1:]
	}
	resource := parts[2]
	switch {
	case len(parts) == 3:
		return prefix + resource
	case len(parts) >= 5:
		return prefix + resource + "/:id/" + parts[4]
	default:
		return prefix + resource + "/:id"
	}
}
