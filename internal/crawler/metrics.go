package crawler

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Skip reasons recorded on tasksSkipped.
const (
	skipDepth    = "depth"
	skipDeadline = "deadline"
	skipIgnored  = "ignored"
	skipVisited  = "visited"
)

var (
	// pagesParsed tracks pages successfully parsed and counted.
	pagesParsed = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webcrawler_pages_parsed_total",
		Help: "The total number of pages successfully parsed.",
	})
	// parseFailures tracks parser errors; those pages contribute nothing.
	parseFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webcrawler_parse_failures_total",
		Help: "The total number of pages that failed to parse.",
	})
	// tasksSkipped tracks crawl tasks that ended before parsing.
	tasksSkipped = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "webcrawler_tasks_skipped_total",
		Help: "The total number of crawl tasks that ended without parsing, by reason.",
	}, []string{"reason"})
	// workerFailures tracks panics and visited set errors inside tasks.
	workerFailures = promauto.NewCounter(prometheus.CounterOpts{
		Name: "webcrawler_worker_failures_total",
		Help: "The total number of crawl tasks that failed unexpectedly.",
	})
	// parseSlotsInUse reports parser calls currently running.
	parseSlotsInUse = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "webcrawler_parse_slots_in_use",
		Help: "Number of page parses currently running.",
	})
	// crawlDuration observes end-to-end crawl latency.
	crawlDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "webcrawler_crawl_duration_seconds",
		Help:    "Histogram of complete crawl durations.",
		Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
	})
)
