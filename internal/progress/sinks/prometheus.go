package sinks

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/JakeFAU/parallel-webcrawler/internal/progress"
)

// PrometheusSink exports live crawl progress. Collectors are registered on
// the registry passed to NewPrometheusSink.
type PrometheusSink struct {
	crawlsStarted   prometheus.Counter
	crawlsCompleted *prometheus.CounterVec
	crawlsRunning   prometheus.Gauge
	crawlRuntime    *prometheus.HistogramVec
	pagesVisited    prometheus.Histogram

	pagesParsed   *prometheus.CounterVec
	parseDuration *prometheus.HistogramVec
	pageWords     prometheus.Histogram

	tracker *crawlTracker
}

// NewPrometheusSink registers the collectors against reg, falling back to
// the default registerer. Collectors already registered by an earlier sink
// are shared.
func NewPrometheusSink(reg prometheus.Registerer) (*PrometheusSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PrometheusSink{
		crawlsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "webcrawler_progress_crawls_started_total",
			Help: "Total crawls that have started.",
		}),
		crawlsCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webcrawler_progress_crawls_completed_total",
			Help: "Total crawls completed partitioned by result.",
		}, []string{"result"}),
		crawlsRunning: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "webcrawler_progress_crawls_running",
			Help: "Current number of running crawls.",
		}),
		crawlRuntime: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webcrawler_progress_crawl_runtime_seconds",
			Help:    "Wall time per completed crawl.",
			Buckets: []float64{0.5, 1, 5, 15, 30, 60, 120, 300},
		}, []string{"result"}),
		pagesVisited: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "webcrawler_progress_crawl_pages",
			Help:    "Pages visited per successful crawl.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		pagesParsed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "webcrawler_progress_pages_total",
			Help: "Parsed pages partitioned by site and outcome.",
		}, []string{"site", "outcome"}),
		parseDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "webcrawler_progress_parse_duration_seconds",
			Help:    "Page parse duration partitioned by site.",
			Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
		}, []string{"site"}),
		pageWords: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "webcrawler_progress_page_distinct_words",
			Help:    "Distinct words per parsed page.",
			Buckets: prometheus.ExponentialBuckets(1, 4, 8),
		}),
		tracker: newCrawlTracker(),
	}
	var err error
	s.crawlsStarted, err = register(reg, s.crawlsStarted, err)
	s.crawlsCompleted, err = register(reg, s.crawlsCompleted, err)
	s.crawlsRunning, err = register(reg, s.crawlsRunning, err)
	s.crawlRuntime, err = register(reg, s.crawlRuntime, err)
	s.pagesVisited, err = register(reg, s.pagesVisited, err)
	s.pagesParsed, err = register(reg, s.pagesParsed, err)
	s.parseDuration, err = register(reg, s.parseDuration, err)
	s.pageWords, err = register(reg, s.pageWords, err)
	if err != nil {
		return nil, err
	}
	return s, nil
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C, prev error) (C, error) {
	if prev != nil {
		return c, prev
	}
	err := reg.Register(c)
	if err == nil {
		return c, nil
	}
	var are prometheus.AlreadyRegisteredError
	if errors.As(err, &are) {
		if existing, ok := are.ExistingCollector.(C); ok {
			return existing, nil
		}
	}
	return c, fmt.Errorf("register progress collector: %w", err)
}

// Consume updates the collectors from batch.
func (s *PrometheusSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if evt.IsPage() {
			s.handlePageEvent(evt)
			continue
		}
		s.handleCrawlEvent(evt)
	}
	return nil
}

func (s *PrometheusSink) handleCrawlEvent(evt progress.Event) {
	switch evt.Stage {
	case progress.StageCrawlStart:
		s.crawlsStarted.Inc()
		if s.tracker.start(evt.CrawlID) {
			s.crawlsRunning.Inc()
		}
		return
	case progress.StageCrawlDone:
		s.crawlsCompleted.WithLabelValues("success").Inc()
		s.crawlRuntime.WithLabelValues("success").Observe(evt.Dur.Seconds())
		s.pagesVisited.Observe(float64(evt.Visited))
	case progress.StageCrawlError:
		s.crawlsCompleted.WithLabelValues("error").Inc()
		s.crawlRuntime.WithLabelValues("error").Observe(evt.Dur.Seconds())
	}
	if s.tracker.complete(evt.CrawlID) {
		s.crawlsRunning.Dec()
	}
}

func (s *PrometheusSink) handlePageEvent(evt progress.Event) {
	site := evt.Site
	if site == "" {
		site = "unknown"
	}
	outcome := "ok"
	if evt.Stage == progress.StagePageError {
		outcome = "error"
	} else {
		s.pageWords.Observe(float64(evt.Words))
	}
	s.pagesParsed.WithLabelValues(site, outcome).Inc()
	if evt.Dur > 0 {
		s.parseDuration.WithLabelValues(site).Observe(evt.Dur.Seconds())
	}
}

// Close implements the Sink interface; it performs no action.
func (s *PrometheusSink) Close(context.Context) error {
	return nil
}

type crawlTracker struct {
	mu      sync.Mutex
	running map[string]struct{}
}

func newCrawlTracker() *crawlTracker {
	return &crawlTracker{running: make(map[string]struct{})}
}

func (t *crawlTracker) start(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; ok {
		return false
	}
	t.running[id] = struct{}{}
	return true
}

func (t *crawlTracker) complete(id string) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.running[id]; !ok {
		return false
	}
	delete(t.running, id)
	return true
}
