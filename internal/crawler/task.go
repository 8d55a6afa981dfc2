package crawler

import (
	"context"
	"fmt"
	"regexp"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/semaphore"
)

// partialResult is what one task and its descendants contributed.
type partialResult struct {
	wordCounts map[string]int
	pages      int
}

func emptyPartial() partialResult {
	return partialResult{wordCounts: map[string]int{}}
}

// crawlRun holds the state shared by every task of one crawl. The visited
// set is the only part mutated by tasks.
type crawlRun struct {
	parser   PageParser
	visited  VisitedSet
	clock    Clock
	deadline time.Time
	ignored  []*regexp.Regexp
	// slots bounds concurrent parser calls; nil means unbounded.
	slots *semaphore.Weighted
	// fanOut runs children concurrently when true.
	fanOut   bool
	failures failureLog
	logger   *zap.Logger
}

// crawl visits url with the given remaining depth and returns everything
// found at or below it.
func (r *crawlRun) crawl(ctx context.Context, url string, depth int) (out partialResult) {
	defer func() {
		if rec := recover(); rec != nil {
			r.failures.add(url, fmt.Errorf("panic: %v", rec))
			out = emptyPartial()
		}
	}()

	if depth <= 0 {
		tasksSkipped.WithLabelValues(skipDepth).Inc()
		return emptyPartial()
	}
	if r.clock.Now().After(r.deadline) || ctx.Err() != nil {
		tasksSkipped.WithLabelValues(skipDeadline).Inc()
		return emptyPartial()
	}
	if MatchesAny(r.ignored, url) {
		tasksSkipped.WithLabelValues(skipIgnored).Inc()
		return emptyPartial()
	}
	fresh, err := r.visited.TryVisit(ctx, url)
	if err != nil {
		r.failures.add(url, fmt.Errorf("visited set: %w", err))
		return emptyPartial()
	}
	if !fresh {
		tasksSkipped.WithLabelValues(skipVisited).Inc()
		return emptyPartial()
	}

	page, err := r.parse(ctx, url)
	if err != nil {
		parseFailures.Inc()
		r.logger.Debug("parse failed", zap.String("url", url), zap.Error(err))
		return emptyPartial()
	}
	pagesParsed.Inc()

	out = partialResult{wordCounts: make(map[string]int, len(page.WordCounts)), pages: 1}
	MergeWordCounts(out.wordCounts, page.WordCounts)

	for _, child := range r.children(ctx, page.Links, depth-1) {
		MergeWordCounts(out.wordCounts, child.wordCounts)
		out.pages += child.pages
	}
	return out
}

// children crawls every link and waits for all of them.
func (r *crawlRun) children(ctx context.Context, links []string, depth int) []partialResult {
	results := make([]partialResult, len(links))
	if !r.fanOut {
		for i, link := range links {
			results[i] = r.crawl(ctx, link, depth)
		}
		return results
	}
	// The group is only a join: tasks never return an error, failures are
	// recorded in r.failures instead.
	var g errgroup.Group
	for i, link := range links {
		g.Go(func() error {
			results[i] = r.crawl(ctx, link, depth)
			return nil
		})
	}
	g.Wait() //nolint:errcheck // always nil
	return results
}

// parse holds a parse slot only for the duration of the parser call, so
// tasks waiting on children never occupy one.
func (r *crawlRun) parse(ctx context.Context, url string) (Page, error) {
	if r.slots != nil {
		if err := r.slots.Acquire(ctx, 1); err != nil {
			return Page{}, fmt.Errorf("acquire parse slot: %w", err)
		}
		parseSlotsInUse.Inc()
		defer func() {
			parseSlotsInUse.Dec()
			r.slots.Release(1)
		}()
	}
	return r.parser.Parse(ctx, url)
}
