package crawler

import (
	"context"
	"fmt"
	"regexp"
	"runtime"
	"time"

	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// ParallelCrawler crawls every starting URL concurrently, fanning out one
// goroutine per discovered link while bounding concurrent page parses.
type ParallelCrawler struct {
	cfg         Config
	ignored     []*regexp.Regexp
	parser      PageParser
	parallelism int
	opts        options
}

// NewParallelCrawler validates cfg and builds a crawler around parser.
func NewParallelCrawler(cfg Config, parser PageParser, opts ...Option) (*ParallelCrawler, error) {
	if parser == nil {
		return nil, fmt.Errorf("%w: page parser is required", ErrInvalidConfig)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ignored, err := CompilePatterns(cfg.IgnoredURLs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &ParallelCrawler{
		cfg:         cfg,
		ignored:     ignored,
		parser:      parser,
		parallelism: min(cfg.Parallelism, runtime.NumCPU()),
		opts:        buildOptions(opts),
	}, nil
}

// MaxParallelism returns the number of CPUs usable by the crawler.
func (c *ParallelCrawler) MaxParallelism() int {
	return runtime.NumCPU()
}

// Parallelism returns the effective bound on concurrent page parses.
func (c *ParallelCrawler) Parallelism() int {
	return c.parallelism
}

// Crawl visits the starting URLs and everything reachable from them within
// the configured depth and deadline. The deadline is checked when a task
// starts; parses already running are allowed to finish. Crawl waits at most
// the timeout plus the grace period for root tasks, then reports whatever has
// been collected. The only errors returned are configuration errors.
func (c *ParallelCrawler) Crawl(ctx context.Context, startingURLs []string) (Result, error) {
	began := time.Now()
	start := c.opts.clock.Now()
	logger := c.opts.logger
	if id, ok := CrawlIDFromContext(ctx); ok {
		logger = logger.With(zap.String("crawl_id", id))
	}

	run := &crawlRun{
		parser:   c.parser,
		visited:  c.opts.visited(ctx),
		clock:    c.opts.clock,
		deadline: start.Add(c.cfg.Timeout),
		ignored:  c.ignored,
		slots:    semaphore.NewWeighted(int64(c.parallelism)),
		fanOut:   true,
		logger:   logger,
	}

	logger.Info("crawl started",
		zap.Int("start_pages", len(startingURLs)),
		zap.Int("max_depth", c.cfg.MaxDepth),
		zap.Duration("timeout", c.cfg.Timeout),
		zap.Int("parallelism", c.parallelism),
	)

	results := make(chan partialResult, len(startingURLs))
	// Root tasks report through results and run.failures; the group only
	// signals when every root has returned.
	var g errgroup.Group
	for _, url := range startingURLs {
		g.Go(func() error {
			results <- run.crawl(ctx, url, c.cfg.MaxDepth)
			return nil
		})
	}
	done := make(chan struct{})
	go func() {
		g.Wait() //nolint:errcheck // always nil
		close(done)
	}()

	partials := collect(ctx, results, done, len(startingURLs), c.cfg.Timeout+c.cfg.gracePeriod(), logger)
	res := aggregate(partials, c.cfg.PopularWordCount)
	res.Failures = run.failures.collect()
	finish(logger, res, time.Since(began))
	return res, nil
}

// collect gathers root results until all roots reported, the wait budget ran
// out, or ctx ended. Roots still running afterwards write into the buffered
// channel and are discarded.
func collect(
	ctx context.Context,
	results <-chan partialResult,
	done <-chan struct{},
	roots int,
	budget time.Duration,
	logger *zap.Logger,
) []partialResult {
	timer := time.NewTimer(budget)
	defer timer.Stop()

	out := make([]partialResult, 0, roots)
	for len(out) < roots {
		select {
		case p := <-results:
			out = append(out, p)
		case <-done:
			for len(out) < roots {
				out = append(out, <-results)
			}
		case <-timer.C:
			logger.Warn("crawl exceeded its grace period; dropping unfinished roots",
				zap.Int("finished_roots", len(out)), zap.Int("roots", roots))
			return out
		case <-ctx.Done():
			logger.Warn("crawl canceled; dropping unfinished roots",
				zap.Int("finished_roots", len(out)), zap.Int("roots", roots), zap.Error(ctx.Err()))
			return out
		}
	}
	return out
}

func aggregate(partials []partialResult, k int) Result {
	counts := make(map[string]int)
	visited := 0
	for _, p := range partials {
		MergeWordCounts(counts, p.wordCounts)
		visited += p.pages
	}
	return Result{
		WordCounts:  TopK(counts, k),
		URLsVisited: visited,
	}
}

func finish(logger *zap.Logger, res Result, elapsed time.Duration) {
	crawlDuration.Observe(elapsed.Seconds())
	if res.Failures != nil {
		errs := multierr.Errors(res.Failures)
		logger.Warn("crawl finished with worker failures",
			zap.Int("failures", len(errs)),
			zap.Errors("errors", errs),
		)
	}
	logger.Info("crawl finished",
		zap.Int("urls_visited", res.URLsVisited),
		zap.Int("words", len(res.WordCounts)),
		zap.Duration("elapsed", elapsed),
	)
}
