// Package metrics exposes Prometheus collectors for the scraper service.
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

// Fetch outcomes recorded by ObserveFetch.
const (
	FetchOutcomeOK        = "ok"
	FetchOutcomeStatus    = "bad_status"
	FetchOutcomeError     = "error"
	FetchOutcomeThrottled = "throttled"
)

// StrategyNone labels a field that no strategy resolved.
const StrategyNone = "none"

var (
	scraperFetchTotal              *prometheus.CounterVec
	scraperFetchBytesTotal         *prometheus.CounterVec
	scraperFieldResolvedTotal      *prometheus.CounterVec
	scraperExtractionDuration      prometheus.Histogram
	scraperHeadlessPromotionsTotal prometheus.Counter
	scraperRateLimitDelaysSeconds  *prometheus.HistogramVec
	scraperRecorderErrorsTotal     *prometheus.CounterVec
	httpRequestsTotal              *prometheus.CounterVec
	httpRequestDurationSeconds     *prometheus.HistogramVec
	scraperRecoveredPanicsTotal    prometheus.Counter

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		scraperFetchTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_total",
				Help: "Total number of product page fetches, labeled by site and outcome.",
			},
			[]string{"site", "outcome"},
		)

		scraperFetchBytesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_fetch_bytes_total",
				Help: "Total number of HTML bytes fetched, labeled by site.",
			},
			[]string{"site"},
		)

		scraperFieldResolvedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_field_resolved_total",
				Help: "Metadata field resolutions, labeled by field and winning strategy.",
			},
			[]string{"field", "strategy"},
		)

		scraperExtractionDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "scraper_extraction_duration_seconds",
				Help:    "Histogram of end-to-end extraction latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)

		scraperHeadlessPromotionsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_headless_promotions_total",
				Help: "Total number of plain fetches promoted to a headless browser.",
			},
		)

		scraperRateLimitDelaysSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "scraper_rate_limit_delay_seconds",
				Help:    "Histogram of rate limit wait durations.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30},
			},
			[]string{"domain"},
		)

		scraperRecorderErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "scraper_recorder_errors_total",
				Help: "Failures while archiving, logging or publishing extractions, labeled by sink.",
			},
			[]string{"sink"},
		)

		scraperRecoveredPanicsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "scraper_recovered_panics_total",
				Help: "Panics recovered inside the extraction pipeline.",
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

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch records a fetch attempt and the bytes it returned.
func ObserveFetch(site string, outcome string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	scraperFetchTotal.WithLabelValues(sanitizedSite, outcome).Inc()
	if bytesFetched > 0 {
		scraperFetchBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveField records which strategy resolved a field. An empty strategy counts as a miss.
func ObserveField(field, strategy string) {
	Init()
	if strategy == "" {
		strategy = StrategyNone
	}
	scraperFieldResolvedTotal.WithLabelValues(field, strategy).Inc()
}

// ObserveExtraction records the duration of a full extraction.
func ObserveExtraction(duration time.Duration) {
	Init()
	scraperExtractionDuration.Observe(duration.Seconds())
}

// ObserveHeadlessPromotion increments the promotion counter.
func ObserveHeadlessPromotion() {
	Init()
	scraperHeadlessPromotionsTotal.Inc()
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	scraperRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRecorderError increments the failure counter for a recorder sink.
func ObserveRecorderError(sink string) {
	Init()
	scraperRecorderErrorsTotal.WithLabelValues(sink).Inc()
}

// ObserveRecoveredPanic increments the recovered panic counter.
func ObserveRecoveredPanic() {
	Init()
	scraperRecoveredPanicsTotal.Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
