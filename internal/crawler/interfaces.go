package crawler

import (
	"context"
	"io"
	"time"
)

// WebCrawler runs a complete crawl from a list of starting URLs.
type WebCrawler interface {
	Crawl(ctx context.Context, startingURLs []string) (Result, error)
	MaxParallelism() int
}

// PageParser downloads and parses a single page.
type PageParser interface {
	Parse(ctx context.Context, url string) (Page, error)
}

// VisitedSet records which URLs a crawl has claimed. TryVisit marks url and
// returns true only for the first caller; concurrent callers racing on the
// same url see exactly one true.
type VisitedSet interface {
	TryVisit(ctx context.Context, url string) (bool, error)
}

// VisitedSetFactory returns an empty VisitedSet for a new crawl.
type VisitedSetFactory func(ctx context.Context) VisitedSet

// JobStore persists job metadata and results.
type JobStore interface {
	CreateJob(ctx context.Context, job Job) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string) error
	SetJobOutcome(ctx context.Context, jobID string, outcome JobOutcome) error
	GetJob(ctx context.Context, jobID string) (Job, error)
}

// BlobStore writes raw artifacts and returns a URI.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data io.Reader) (string, error)
}

// SummaryStore persists one row per finished crawl.
type SummaryStore interface {
	StoreSummary(ctx context.Context, summary CrawlSummary) error
}

// Publisher pushes completion events to Pub/Sub (or similar).
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) (string, error)
}

// Queue provides enqueue/dequeue semantics for crawl jobs.
type Queue interface {
	Enqueue(ctx context.Context, job QueueItem) error
	Dequeue(ctx context.Context) (QueueItem, error)
}

// Hasher computes digests of serialized results.
type Hasher interface {
	Hash(data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl IDs.
type IDGenerator interface {
	NewID() (string, error)
}
