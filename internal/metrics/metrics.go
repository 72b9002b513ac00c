// Package metrics exposes Prometheus collectors for the ingestion pipeline and query API.
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
	etlPagesTotal              *prometheus.CounterVec
	etlRecordsTotal            *prometheus.CounterVec
	etlRunsTotal               *prometheus.CounterVec
	etlRunDurationSeconds      prometheus.Histogram
	etlFetchesInFlight         prometheus.Gauge
	rateLimitDelaysSeconds     *prometheus.HistogramVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		etlPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_pages_total",
				Help: "Total number of upstream page fetches, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		etlRecordsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_records_total",
				Help: "Total number of records processed by the loader, labeled by entity and result.",
			},
			[]string{"entity", "result"},
		)

		etlRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "etl_runs_total",
				Help: "Total number of ingestion runs, labeled by status.",
			},
			[]string{"status"},
		)

		etlRunDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "etl_run_duration_seconds",
				Help:    "Histogram of ingestion run durations.",
				Buckets: []float64{1, 5, 15, 30, 60, 120, 300, 600},
			},
		)

		etlFetchesInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "etl_fetches_in_flight",
				Help: "Number of upstream page fetches currently in flight.",
			},
		)

		rateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "upstream_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"host"},
		)

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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// ObservePage increments the page counter for a fetch outcome.
func ObservePage(outcome string) {
	Init()
	etlPagesTotal.WithLabelValues(outcome).Inc()
}

// ObserveRecord increments the record counter for an entity and result.
func ObserveRecord(entity, result string) {
	Init()
	etlRecordsTotal.WithLabelValues(entity, result).Inc()
}

// ObserveRun records a finished ingestion run.
func ObserveRun(status string, duration time.Duration) {
	Init()
	etlRunsTotal.WithLabelValues(status).Inc()
	etlRunDurationSeconds.Observe(duration.Seconds())
}

// IncFetchesInFlight increments the in-flight fetch gauge.
func IncFetchesInFlight() {
	Init()
	etlFetchesInFlight.Inc()
}

// DecFetchesInFlight decrements the in-flight fetch gauge.
func DecFetchesInFlight() {
	Init()
	etlFetchesInFlight.Dec()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(host string, duration time.Duration) {
	Init()
	rateLimitDelaysSeconds.WithLabelValues(host).Observe(duration.Seconds())
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
