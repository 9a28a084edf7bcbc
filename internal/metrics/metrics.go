// Package metrics exposes Prometheus collectors for the indexer service.
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
	indexerPagesTotal           *prometheus.CounterVec
	indexerBytesTotal           *prometheus.CounterVec
	indexerFetchFailuresTotal   *prometheus.CounterVec
	indexerFetchAttemptsTotal   prometheus.Counter
	indexerRunsTotal            *prometheus.CounterVec
	indexerSitesTotal           *prometheus.CounterVec
	indexerRunActive            prometheus.Gauge
	indexerArchiveFailuresTotal prometheus.Counter
	httpRequestsTotal           *prometheus.CounterVec
	httpRequestDurationSeconds  *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times; every Observe helper
// calls it so packages can record metrics without wiring order concerns.
func Init() {
	once.Do(func() {
		indexerPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_pages_total",
				Help: "Total number of pages recorded, labeled by site and HTTP status class.",
			},
			[]string{"site", "status_class"},
		)

		indexerBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_bytes_total",
				Help: "Total number of body bytes recorded, labeled by site.",
			},
			[]string{"site"},
		)

		indexerFetchFailuresTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_fetch_failures_total",
				Help: "Total number of URLs skipped after exhausting fetch attempts.",
			},
			[]string{"site"},
		)

		indexerFetchAttemptsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "indexer_fetch_attempts_total",
				Help: "Total number of individual HTTP fetch attempts, retries included.",
			},
		)

		indexerRunsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_runs_total",
				Help: "Total number of indexing runs, labeled by result.",
			},
			[]string{"result"},
		)

		indexerSitesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "indexer_sites_total",
				Help: "Total number of site crawls finalized, labeled by final status.",
			},
			[]string{"status"},
		)

		indexerRunActive = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "indexer_run_active",
				Help: "1 while an indexing run is in progress.",
			},
		)

		indexerArchiveFailuresTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "indexer_archive_failures_total",
				Help: "Total number of page bodies that could not be archived.",
			},
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

// StatusClass buckets an HTTP status code as "2xx", "3xx", "4xx", "5xx" or "other".
func StatusClass(code int) string {
	if code < 100 || code > 599 {
		return "other"
	}
	return strconv.Itoa(code/100) + "xx"
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage records a page written to the page store.
func ObservePage(site string, code int, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	indexerPagesTotal.WithLabelValues(sanitizedSite, StatusClass(code)).Inc()
	if bytesFetched > 0 {
		indexerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveFetchFailure records a URL dropped after its last attempt failed.
func ObserveFetchFailure(site string) {
	Init()
	indexerFetchFailuresTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveFetchAttempt counts one network attempt.
func ObserveFetchAttempt() {
	Init()
	indexerFetchAttemptsTotal.Inc()
}

// ObserveRun increments the run counter for the given result.
func ObserveRun(result string) {
	Init()
	indexerRunsTotal.WithLabelValues(result).Inc()
}

// ObserveSite increments the finalized-site counter for the given status.
func ObserveSite(status string) {
	Init()
	indexerSitesTotal.WithLabelValues(status).Inc()
}

// SetRunActive flips the active-run gauge.
func SetRunActive(active bool) {
	Init()
	if active {
		indexerRunActive.Set(1)
		return
	}
	indexerRunActive.Set(0)
}

// ObserveArchiveFailure counts a page body the archive could not store.
func ObserveArchiveFailure() {
	Init()
	indexerArchiveFailuresTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
