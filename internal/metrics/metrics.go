// Package metrics exposes Prometheus collectors for the jobstream service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	jobsTotal                  *prometheus.CounterVec
	eventsPublishedTotal       prometheus.Counter
	activeJobs                 prometheus.Gauge
	activeSubscribers          prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "jobstream_jobs_total",
				Help: "Total number of jobs, labeled by lifecycle outcome.",
			},
			[]string{"outcome"},
		)

		eventsPublishedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "jobstream_events_published_total",
				Help: "Total number of progress events published across all jobs.",
			},
		)

		activeJobs = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobstream_active_jobs",
				Help: "Number of jobs currently held by the registry.",
			},
		)

		activeSubscribers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "jobstream_active_subscribers",
				Help: "Number of currently attached progress stream subscribers.",
			},
		)
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveJob increments the job counter for the given outcome
// (created, completed, failed, evicted).
func ObserveJob(outcome string) {
	jobsTotal.WithLabelValues(outcome).Inc()
}

// ObserveEventPublished increments the published-event counter.
func ObserveEventPublished() {
	eventsPublishedTotal.Inc()
}

// SetActiveJobs records the current registry size.
func SetActiveJobs(n int) {
	activeJobs.Set(float64(n))
}

// IncActiveSubscribers increments the attached-subscriber gauge.
func IncActiveSubscribers() {
	activeSubscribers.Inc()
}

// DecActiveSubscribers decrements the attached-subscriber gauge.
func DecActiveSubscribers() {
	activeSubscribers.Dec()
}
