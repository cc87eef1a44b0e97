// Package metrics registers the Prometheus instruments shared by the ingest
// server and the persistence worker.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	// SubmissionsAccepted counts submissions admitted and appended to the log.
	SubmissionsAccepted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_submissions_accepted_total",
		Help: "Total number of telemetry submissions accepted",
	})
	// SubmissionsRateLimited counts submissions rejected over budget.
	SubmissionsRateLimited = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_submissions_rate_limited_total",
		Help: "Total number of telemetry submissions rejected by the rate limiter",
	})
	// SubmissionsInvalid counts malformed submissions.
	SubmissionsInvalid = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_submissions_invalid_total",
		Help: "Total number of malformed telemetry submissions",
	})
	// SubmissionsUnavailable counts submissions turned away by infrastructure failures.
	SubmissionsUnavailable = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_submissions_unavailable_total",
		Help: "Total number of submissions rejected due to unavailable infrastructure",
	})

	// CommitsTotal counts rows committed to storage by the worker.
	CommitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_commits_total",
		Help: "Total number of telemetry events committed to storage",
	})
	// DuplicatesTotal counts redelivered events absorbed as no-ops.
	DuplicatesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_duplicate_commits_total",
		Help: "Total number of duplicate commits absorbed as no-ops",
	})
	// DeadLettersTotal counts records routed to the dead-letter sink.
	DeadLettersTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_dead_letters_total",
		Help: "Total number of records routed to the dead-letter sink",
	})
	// CommitRetriesTotal counts retried commit attempts.
	CommitRetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "telemetry_commit_retries_total",
		Help: "Total number of retried storage commit attempts",
	})

	httpRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "http_requests_total",
		Help: "Total number of HTTP requests",
	}, []string{"method", "path", "status"})
	httpRequestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name: "http_request_duration_seconds",
		Help: "Duration of HTTP requests",
	})
)

// Handler serves the Prometheus scrape endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

// Middleware tracks request counts and durations for every route.
func Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		httpRequestsTotal.WithLabelValues(r.Method, r.URL.Path, strconv.Itoa(rec.status)).Inc()
		httpRequestDuration.Observe(time.Since(start).Seconds())
	})
}
