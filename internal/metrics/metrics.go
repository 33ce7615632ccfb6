// Package metrics exposes Prometheus collectors for the crawler and query API.
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

const namespace = "tender"

var (
	crawlerPagesTotal             *prometheus.CounterVec
	crawlerBytesTotal             *prometheus.CounterVec
	crawlerRetriesTotal           *prometheus.CounterVec
	crawlerRobotsDeniedTotal      *prometheus.CounterVec
	crawlerRowsTotal              *prometheus.CounterVec
	crawlerFieldWarningsTotal     *prometheus.CounterVec
	crawlerRecordsTotal           *prometheus.CounterVec
	crawlerThrottleDelaySeconds   *prometheus.HistogramVec
	crawlerRateLimitDelaysSeconds *prometheus.HistogramVec
	crawlerRunsTotal              *prometheus.CounterVec
	httpRequestsTotal             *prometheus.CounterVec
	httpRequestDurationSeconds    *prometheus.HistogramVec
	httpRequestsInFlight          prometheus.Gauge

	once sync.Once
)

// delayBuckets covers politeness waits from sub-second throttling up to a
// minute-long robots.txt Crawl-delay.
var delayBuckets = []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60}

func counter(subsystem, name, help string, labels ...string) *prometheus.CounterVec {
	return promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
	}, labels)
}

func histogram(subsystem, name, help string, buckets []float64, labels ...string) *prometheus.HistogramVec {
	return promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Subsystem: subsystem,
		Name:      name,
		Help:      help,
		Buckets:   buckets,
	}, labels)
}

// Init registers the collectors with the default registry. Only the first
// call has an effect.
func Init() {
	once.Do(func() {
		crawlerPagesTotal = counter("crawler", "pages_total", "Listing pages fetched or abandoned, by site and status.", "site", "status")
		crawlerBytesTotal = counter("crawler", "bytes_total", "Listing page bytes fetched, by site.", "site")
		crawlerRetriesTotal = counter("crawler", "retries_total", "Fetch retries, by site.", "site")
		crawlerRobotsDeniedTotal = counter("crawler", "robots_denied_total", "URLs skipped because robots.txt disallows them.", "site")
		crawlerRowsTotal = counter("crawler", "rows_total", "Listing rows seen, by outcome (extracted, skipped).", "outcome")
		crawlerFieldWarningsTotal = counter("crawler", "field_warnings_total", "Fields that could not be extracted, by field.", "field")
		crawlerRecordsTotal = counter("crawler", "records_total", "Records written to storage, by outcome.", "outcome")
		crawlerRunsTotal = counter("crawler", "runs_total", "Crawl sessions finished, by status.", "status")
		crawlerThrottleDelaySeconds = histogram("crawler", "throttle_delay_seconds",
			"Politeness delay applied before a fetch.", delayBuckets, "site")
		crawlerRateLimitDelaysSeconds = histogram("crawler", "rate_limit_delays_seconds",
			"Time spent waiting for a per-host token.", delayBuckets, "domain")

		httpRequestsTotal = counter("api", "requests_total", "Query API requests, by method, route pattern and code.", "method", "route", "code")
		httpRequestDurationSeconds = histogram("api", "request_duration_seconds",
			"Query API latency, by method and route pattern.", []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5}, "method", "route")
		httpRequestsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "api",
			Name:      "requests_in_flight",
			Help:      "Query API requests currently being served.",
		})
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

// ObservePage records a fetched (or abandoned) listing page.
func ObservePage(site string, status string, bytesFetched int) {
	Init()
	sanitizedSite := SanitizeSite(site)
	crawlerPagesTotal.WithLabelValues(sanitizedSite, status).Inc()
	if bytesFetched > 0 {
		crawlerBytesTotal.WithLabelValues(sanitizedSite).Add(float64(bytesFetched))
	}
}

// ObserveRetry counts one fetch retry against site.
func ObserveRetry(site string) {
	Init()
	crawlerRetriesTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveRobotsDenied counts a URL skipped by robots.txt.
func ObserveRobotsDenied(site string) {
	Init()
	crawlerRobotsDeniedTotal.WithLabelValues(SanitizeSite(site)).Inc()
}

// ObserveRow counts a listing row by outcome.
func ObserveRow(outcome string) {
	Init()
	crawlerRowsTotal.WithLabelValues(outcome).Inc()
}

// ObserveFieldWarning counts a missing field.
func ObserveFieldWarning(field string) {
	Init()
	crawlerFieldWarningsTotal.WithLabelValues(field).Inc()
}

// ObserveRecord counts a storage write by outcome (inserted, updated, unchanged, failed).
func ObserveRecord(outcome string) {
	Init()
	crawlerRecordsTotal.WithLabelValues(outcome).Inc()
}

// ObserveThrottleDelay records the politeness delay applied before a fetch.
func ObserveThrottleDelay(site string, delay time.Duration) {
	Init()
	crawlerThrottleDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(delay.Seconds())
}

// ObserveRateLimitDelay records the duration of a rate limit wait.
func ObserveRateLimitDelay(domain string, duration time.Duration) {
	Init()
	crawlerRateLimitDelaysSeconds.WithLabelValues(domain).Observe(duration.Seconds())
}

// ObserveRun counts a finished crawl session.
func ObserveRun(status string) {
	Init()
	crawlerRunsTotal.WithLabelValues(status).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, route, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
