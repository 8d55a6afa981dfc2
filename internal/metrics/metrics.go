// Package metrics exposes Prometheus collectors for the crawler service.
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
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	crawlsTotal                *prometheus.CounterVec
	startPagesTotal            *prometheus.CounterVec
	activeWorkers              prometheus.Gauge
	profiledCallSeconds        *prometheus.HistogramVec
	resultsPersistedTotal      *prometheus.CounterVec
	rateLimitDelaySeconds      prometheus.Histogram

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

		crawlsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcrawler_crawls_total",
				Help: "Total number of crawls processed, labeled by final status.",
			},
			[]string{"status"},
		)

		startPagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcrawler_start_pages_total",
				Help: "Total number of starting URLs submitted, labeled by site.",
			},
			[]string{"site"},
		)

		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "webcrawler_active_workers",
				Help: "Number of workers currently running a crawl.",
			},
		)

		profiledCallSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "webcrawler_profiled_call_seconds",
				Help:    "Histogram of profiled method durations, labeled by Type#Method.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"method"},
		)

		resultsPersistedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "webcrawler_results_persisted_total",
				Help: "Total number of persistence steps, labeled by sink and outcome.",
			},
			[]string{"sink", "outcome"},
		)

		rateLimitDelaySeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "webcrawler_rate_limit_delay_seconds",
				Help:    "Time spent waiting for a download token.",
				Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
			},
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

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObserveCrawl increments the crawl counter for the given status.
func ObserveCrawl(status string) {
	Init()
	crawlsTotal.WithLabelValues(status).Inc()
}

// ObserveStartPages counts the starting URLs of a crawl by site.
func ObserveStartPages(urls []string) {
	Init()
	for _, u := range urls {
		startPagesTotal.WithLabelValues(SanitizeSite(u)).Inc()
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	Init()
	activeWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	Init()
	activeWorkers.Dec()
}

// ObserveProfiledCall records the duration of one profiled method call.
func ObserveProfiledCall(method string, duration time.Duration) {
	Init()
	profiledCallSeconds.WithLabelValues(method).Observe(duration.Seconds())
}

// ObservePersist records the outcome of archiving, storing or publishing a result.
func ObservePersist(sink string, err error) {
	Init()
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	resultsPersistedTotal.WithLabelValues(sink, outcome).Inc()
}

// ObserveRateLimitDelay records how long a download waited for the fetch
// rate limiter.
func ObserveRateLimitDelay(duration time.Duration) {
	Init()
	rateLimitDelaySeconds.Observe(duration.Seconds())
}
