// Package metrics exposes Prometheus collectors for the crawl engine.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerFetchAttemptsTotal     *prometheus.CounterVec
	crawlerRetriesTotal           *prometheus.CounterVec
	crawlerRobotsFetchesTotal     *prometheus.CounterVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlerStageOutcomesTotal     *prometheus.CounterVec
	crawlerDuplicatesTotal        prometheus.Counter
	crawlerStoreErrorsTotal       *prometheus.CounterVec
	crawlerSinkResultsTotal       *prometheus.CounterVec
	crawlerInFlight               prometheus.Gauge
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper calls it.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pages_total",
				Help: "Total number of dispatched pages, labeled by site and terminal outcome.",
			},
			[]string{"site", "outcome"},
		)

		crawlerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_bytes_total",
				Help: "Total number of body bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		crawlerFetchAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_fetch_attempts_total",
				Help: "Total number of HTTP attempts, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerRetriesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_retries_total",
				Help: "Total number of retried attempts, labeled by reason.",
			},
			[]string{"reason"},
		)

		crawlerRobotsFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_robots_fetches_total",
				Help: "Total number of robots.txt fetches, labeled by result.",
			},
			[]string{"result"},
		)

		crawlerRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "crawler_rate_limit_delays_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		crawlerStageOutcomesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_pipeline_stage_outcomes_total",
				Help: "Pipeline stage results, labeled by stage and outcome.",
			},
			[]string{"stage", "outcome"},
		)

		crawlerDuplicatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "crawler_duplicates_total",
				Help: "Total number of pages whose content hash was already recorded.",
			},
		)

		crawlerStoreErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_store_errors_total",
				Help: "Dedup/incremental store failures that were degraded, labeled by kind.",
			},
			[]string{"kind"},
		)

		crawlerSinkResultsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "crawler_sink_results_total",
				Help: "Artifacts handed to sinks, labeled by sink and result.",
			},
			[]string{"sink", "result"},
		)

		crawlerInFlight = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "crawler_in_flight",
				Help: "Number of frontier entries currently being processed.",
			},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of admin API requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of admin API latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records the terminal outcome of a dispatched page.
func ObservePage(site, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchAttempt counts one HTTP attempt.
func ObserveFetchAttempt(result string) {
	Init()
	crawlerFetchAttemptsTotal.WithLabelValues(result).Inc()
}

// ObserveRetry counts a retried attempt.
func ObserveRetry(reason string) {
	Init()
	crawlerRetriesTotal.WithLabelValues(reason).Inc()
}

// ObserveRobotsFetch counts a robots.txt fetch.
func ObserveRobotsFetch(result string) {
	Init()
	crawlerRobotsFetchesTotal.WithLabelValues(result).Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(SanitizeSite(domain)).Observe(duration.Seconds())
}

// ObserveStage records one pipeline stage result.
func ObserveStage(stage, outcome string) {
	Init()
	crawlerStageOutcomesTotal.WithLabelValues(stage, outcome).Inc()
}

// ObserveDuplicate counts a duplicate content hit.
func ObserveDuplicate() {
	Init()
	crawlerDuplicatesTotal.Inc()
}

// ObserveStoreError counts a degraded store failure.
func ObserveStoreError(kind string) {
	Init()
	crawlerStoreErrorsTotal.WithLabelValues(kind).Inc()
}

// ObserveSink records a sink delivery.
func ObserveSink(sink, result string) {
	Init()
	crawlerSinkResultsTotal.WithLabelValues(sink, result).Inc()
}

// IncInFlight increments the in-flight gauge.
func IncInFlight() {
	Init()
	crawlerInFlight.Inc()
}

// DecInFlight decrements the in-flight gauge.
func DecInFlight() {
	Init()
	crawlerInFlight.Dec()
}

// ObserveHTTPRequest increments the admin API request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
