package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aftercare_http_requests_total",
			Help: "Total HTTP requests by method, path, and status",
		},
		[]string{"method", "path", "status"},
	)

	httpRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aftercare_http_request_duration_seconds",
			Help:    "HTTP request latency distribution",
			Buckets: []float64{.005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"method", "path"},
	)

	emailsProcessed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aftercare_emails_processed_total",
			Help: "Email send attempts by task kind and outcome",
		},
		[]string{"kind", "outcome"},
	)

	tasksScheduled = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aftercare_tasks_scheduled_total",
			Help: "Email tasks created by kind",
		},
		[]string{"kind"},
	)

	duplicatesPrevented = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aftercare_duplicates_prevented_total",
			Help: "Task creations skipped because the task already existed",
		},
		[]string{"kind"},
	)

	jobRuns = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aftercare_job_runs_total",
			Help: "Workflow runs by script and result",
		},
		[]string{"script", "result"},
	)

	jobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "aftercare_job_duration_seconds",
			Help:    "Wall-clock duration of workflow runs",
			Buckets: []float64{.5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"script"},
	)

	batchesSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aftercare_batches_total",
			Help: "Send batches processed by task kind",
		},
		[]string{"kind"},
	)

	rateLimitRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "aftercare_rate_limit_rejections_total",
			Help: "Requests rejected by rate limiter",
		},
		[]string{"route"},
	)

	dbConnectionsActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "aftercare_db_connections_active",
			Help: "Active database connections",
		},
	)
)

// Handler returns the Prometheus metrics HTTP handler
func Handler() http.Handler {
	return promhttp.Handler()
}

// RecordRequest records HTTP request metrics
func RecordRequest(method, path string, status int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, path, strconv.Itoa(status)).Inc()
	httpRequestDuration.WithLabelValues(method, path).Observe(duration.Seconds())
}

// RecordEmailProcessed records one send attempt. outcome is sent, skipped or failed.
func RecordEmailProcessed(kind, outcome string) {
	emailsProcessed.WithLabelValues(kind, outcome).Inc()
}

// RecordTaskScheduled records a newly created email task
func RecordTaskScheduled(kind string) {
	tasksScheduled.WithLabelValues(kind).Inc()
}

// RecordDuplicatePrevented records a task creation skipped by the existence check
func RecordDuplicatePrevented(kind string) {
	duplicatesPrevented.WithLabelValues(kind).Inc()
}

// RecordBatch records one processed send batch
func RecordBatch(kind string) {
	batchesSent.WithLabelValues(kind).Inc()
}

// RecordJobRun records the result and duration of a workflow run
func RecordJobRun(script string, success bool, duration time.Duration) {
	result := "success"
	if !success {
		result = "failure"
	}
	jobRuns.WithLabelValues(script, result).Inc()
	jobDuration.WithLabelValues(script).Observe(duration.Seconds())
}

// RecordRateLimitRejection records a rate limit rejection
func RecordRateLimitRejection(route string) {
	rateLimitRejections.WithLabelValues(route).Inc()
}

// SetDBConnections sets active database connection count
func SetDBConnections(count int) {
	dbConnectionsActive.Set(float64(count))
}

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	status int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.status = code
	rw.ResponseWriter.WriteHeader(code)
}

// Middleware returns HTTP middleware that records request metrics
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, status: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		RecordRequest(r.Method, routePattern(r), wrapped.status, time.Since(start))
	})
}

// routePattern keeps path labels bounded: feedback tokens and script names are
// collapsed to the chi route pattern once routing has happened.
func routePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		if p := rctx.RoutePattern(); p != "" {
			return p
		}
	}
	return r.URL.Path
}
