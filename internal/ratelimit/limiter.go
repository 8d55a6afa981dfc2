// Package ratelimit caps how fast the process downloads pages, across every
// host and every running crawl.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/metrics"
)

// Config holds rate limiter configuration. A non-positive RPS disables
// throttling.
type Config struct {
	RPS   float64
	Burst int
}

// Limiter is a single token bucket shared by all downloads.
type Limiter struct {
	limiter *rate.Limiter
}

// New creates a new Limiter.
func New(cfg Config) *Limiter {
	r := rate.Limit(cfg.RPS)
	if cfg.RPS <= 0 {
		r = rate.Inf
	}
	return &Limiter{limiter: rate.NewLimiter(r, max(cfg.Burst, 1))}
}

// Enabled reports whether the limiter ever delays a request.
func (l *Limiter) Enabled() bool {
	return l.limiter.Limit() != rate.Inf
}

// Wait blocks until a download token is available or ctx is done.
func (l *Limiter) Wait(ctx context.Context) error {
	start := time.Now()
	if err := l.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("rate limit wait: %w", err)
	}
	if d := time.Since(start); d > time.Millisecond {
		metrics.ObserveRateLimitDelay(d)
	}
	return nil
}

// WrapParser returns a PageParser that waits for a token before each Parse.
func (l *Limiter) WrapParser(delegate crawler.PageParser) crawler.PageParser {
	return &limitedParser{delegate: delegate, limiter: l}
}

type limitedParser struct {
	delegate crawler.PageParser
	limiter  *Limiter
}

func (p *limitedParser) Parse(ctx context.Context, rawURL string) (crawler.Page, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return crawler.Page{}, err
	}
	page, err := p.delegate.Parse(ctx, rawURL)
	if err != nil {
		return crawler.Page{}, fmt.Errorf("parse %s: %w", rawURL, err)
	}
	return page, nil
}
