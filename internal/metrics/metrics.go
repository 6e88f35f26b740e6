// Package metrics provides Prometheus metrics for the Kohaku backend.
package metrics

import (
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registered metric vectors. atomic.Pointer keeps the hot-path record calls
// lock-free and makes recording before Init a no-op.
var (
	requestsTotal     atomic.Pointer[prometheus.CounterVec]
	requestDuration   atomic.Pointer[prometheus.HistogramVec]
	authFailuresTotal atomic.Pointer[prometheus.CounterVec]
	jobRunsTotal      atomic.Pointer[prometheus.CounterVec]
	jobDuration       atomic.Pointer[prometheus.HistogramVec]
)

// Init registers all metrics with the given registry. Call once at startup.
func Init(reg prometheus.Registerer) error {
	requests := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kohaku",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests handled",
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(requests); err != nil {
		return fmt.Errorf("register requests_total: %w", err)
	}

	duration := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kohaku",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		},
		[]string{"method", "path", "status"},
	)
	if err := reg.Register(duration); err != nil {
		return fmt.Errorf("register request_duration_seconds: %w", err)
	}

	authFailures := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kohaku",
			Subsystem: "auth",
			Name:      "failures_total",
			Help:      "Total number of failed credential verifications",
		},
		[]string{"reason"},
	)
	if err := reg.Register(authFailures); err != nil {
		return fmt.Errorf("register auth failures_total: %w", err)
	}

	jobRuns := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "kohaku",
			Subsystem: "scheduler",
			Name:      "job_runs_total",
			Help:      "Total scheduled job executions by outcome",
		},
		[]string{"job", "status"},
	)
	if err := reg.Register(jobRuns); err != nil {
		return fmt.Errorf("register job_runs_total: %w", err)
	}

	jobDur := prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: "kohaku",
			Subsystem: "scheduler",
			Name:      "job_duration_seconds",
			Help:      "Scheduled job execution time in seconds",
			Buckets:   []float64{.1, .5, 1, 5, 15, 30, 60, 120, 300},
		},
		[]string{"job"},
	)
	if err := reg.Register(jobDur); err != nil {
		return fmt.Errorf("register job_duration_seconds: %w", err)
	}

	requestsTotal.Store(requests)
	requestDuration.Store(duration)
	authFailuresTotal.Store(authFailures)
	jobRunsTotal.Store(jobRuns)
	jobDuration.Store(jobDur)
	return nil
}

// Handler returns the HTTP handler for the /metrics endpoint.
func Handler(reg *prometheus.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{})
}

// RecordRequest records one handled HTTP request.
func RecordRequest(method, path string, status int, elapsed time.Duration) {
	if v := requestsTotal.Load(); v != nil {
		v.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Inc()
	}
	if v := requestDuration.Load(); v != nil {
		v.WithLabelValues(method, path, fmt.Sprintf("%d", status)).Observe(elapsed.Seconds())
	}
}

// RecordAuthFailure records one failed credential verification.
func RecordAuthFailure(reason string) {
	if v := authFailuresTotal.Load(); v != nil {
		v.WithLabelValues(reason).Inc()
	}
}

// RecordJobRun records one scheduled job execution and its outcome.
func RecordJobRun(job, status string, elapsed time.Duration) {
	if v := jobRunsTotal.Load(); v != nil {
		v.WithLabelValues(job, status).Inc()
	}
	if v := jobDuration.Load(); v != nil {
		v.WithLabelValues(job).Observe(elapsed.Seconds())
	}
}
