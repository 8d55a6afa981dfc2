package crawler

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
)

// SequentialCrawler visits pages one at a time, depth first, on the calling
// goroutine. It applies the same depth, deadline, ignore and visit-once rules
// as ParallelCrawler and is mainly useful as a baseline.
type SequentialCrawler struct {
	cfg     Config
	ignored []*regexp.Regexp
	parser  PageParser
	opts    options
}

// NewSequentialCrawler validates cfg and builds a crawler around parser.
// cfg.Parallelism is ignored.
func NewSequentialCrawler(cfg Config, parser PageParser, opts ...Option) (*SequentialCrawler, error) {
	if parser == nil {
		return nil, fmt.Errorf("%w: page parser is required", ErrInvalidConfig)
	}
	cfg.Parallelism = 1
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	ignored, err := CompilePatterns(cfg.IgnoredURLs)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidConfig, err)
	}
	return &SequentialCrawler{cfg: cfg, ignored: ignored, parser: parser, opts: buildOptions(opts)}, nil
}

// MaxParallelism is always 1.
func (c *SequentialCrawler) MaxParallelism() int {
	return 1
}

// Crawl visits the starting URLs in order.
func (c *SequentialCrawler) Crawl(ctx context.Context, startingURLs []string) (Result, error) {
	began := time.Now()
	logger := c.opts.logger
	if id, ok := CrawlIDFromContext(ctx); ok {
		logger = logger.With(zap.String("crawl_id", id))
	}
	run := &crawlRun{
		parser:   c.parser,
		visited:  c.opts.visited(ctx),
		clock:    c.opts.clock,
		deadline: c.opts.clock.Now().Add(c.cfg.Timeout),
		ignored:  c.ignored,
		logger:   logger,
	}
	partials := make([]partialResult, 0, len(startingURLs))
	for _, url := range startingURLs {
		partials = append(partials, run.crawl(ctx, url, c.cfg.MaxDepth))
	}
	res := aggregate(partials, c.cfg.PopularWordCount)
	res.Failures = run.failures.collect()
	finish(logger, res, time.Since(began))
	return res, nil
}

// New builds the crawler named by implementation ("parallel" or
// "sequential").
func New(implementation string, cfg Config, parser PageParser, opts ...Option) (WebCrawler, error) {
	switch implementation {
	case "", "parallel":
		c, err := NewParallelCrawler(cfg, parser, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	case "sequential":
		c, err := NewSequentialCrawler(cfg, parser, opts...)
		if err != nil {
			return nil, err
		}
		return c, nil
	default:
		return nil, fmt.Errorf("%w: unknown implementation %q", ErrInvalidConfig, implementation)
	}
}
