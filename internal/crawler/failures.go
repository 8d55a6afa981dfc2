package crawler

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/multierr"
)

// WorkerFailure describes a crawl task that failed for a reason other than a
// parse error. The task contributed nothing to the result.
type WorkerFailure struct {
	URL string
	Err error
}

func (f *WorkerFailure) Error() string {
	return fmt.Sprintf("crawl task %s: %v", f.URL, f.Err)
}

func (f *WorkerFailure) Unwrap() error {
	return f.Err
}

// failureLog collects worker failures from concurrent tasks.
type failureLog struct {
	mu  sync.Mutex
	err error
}

func (l *failureLog) add(url string, err error) {
	workerFailures.Inc()
	l.mu.Lock()
	defer l.mu.Unlock()
	l.err = multierr.Append(l.err, &WorkerFailure{URL: url, Err: err})
}

func (l *failureLog) collect() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.err
}

type crawlIDKey struct{}

// WithCrawlID tags ctx with the ID of the crawl it belongs to.
func WithCrawlID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, crawlIDKey{}, id)
}

// CrawlIDFromContext returns the crawl ID set by WithCrawlID.
func CrawlIDFromContext(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(crawlIDKey{}).(string)
	return id, ok && id != ""
}
