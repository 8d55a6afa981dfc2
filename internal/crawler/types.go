// Package crawler defines core types shared across subsystems.
package crawler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

var (
	// ErrJobNotFound is returned by job stores for unknown job IDs.
	ErrJobNotFound = errors.New("job not found")
	// ErrQueueClosed is returned by queues that no longer hand out work.
	ErrQueueClosed = errors.New("queue closed")
)

// Page is what a PageParser extracts from one URL.
type Page struct {
	Links      []string
	WordCounts map[string]int
}

// WordCount is one entry of a ranked word list.
type WordCount struct {
	Word  string `json:"word"`
	Count int    `json:"count"`
}

// Result is the final aggregate of a crawl.
type Result struct {
	// WordCounts holds at most PopularWordCount entries in rank order.
	WordCounts []WordCount
	// URLsVisited counts every page parsed during the crawl, not only those
	// contributing to the top words.
	URLsVisited int
	// Failures joins the worker failures observed while crawling. Parse
	// failures are not included.
	Failures error
}

// MarshalJSON writes {"wordCounts": {...}, "urlsVisited": n} with the word
// entries kept in rank order.
func (r Result) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(`{"wordCounts":{`)
	for i, wc := range r.WordCounts {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(wc.Word)
		if err != nil {
			return nil, fmt.Errorf("marshal word: %w", err)
		}
		buf.Write(key)
		fmt.Fprintf(&buf, ":%d", wc.Count)
	}
	fmt.Fprintf(&buf, `},"urlsVisited":%d}`, r.URLsVisited)
	return buf.Bytes(), nil
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Job status values persisted in the job store.
const (
	JobStatusQueued    JobStatus = "queued"
	JobStatusRunning   JobStatus = "running"
	JobStatusSucceeded JobStatus = "succeeded"
	JobStatusFailed    JobStatus = "failed"
)

// JobParameters are the resolved knobs for one crawl job.
type JobParameters struct {
	StartPages       []string      `json:"start_pages"`
	MaxDepth         int           `json:"max_depth"`
	Timeout          time.Duration `json:"timeout"`
	PopularWordCount int           `json:"popular_word_count"`
	IgnoredURLs      []string      `json:"ignored_urls,omitempty"`
}

// Job is the metadata kept for each submitted crawl.
type Job struct {
	ID          string        `json:"id"`
	Status      JobStatus     `json:"status"`
	Submitted   time.Time     `json:"submitted_at"`
	Started     *time.Time    `json:"started_at,omitempty"`
	Finished    *time.Time    `json:"finished_at,omitempty"`
	ErrorText   string        `json:"error_text,omitempty"`
	Parameters  JobParameters `json:"parameters"`
	Result      *Result       `json:"result,omitempty"`
	ArchiveURI  string        `json:"archive_uri,omitempty"`
	ContentHash string        `json:"content_hash,omitempty"`
	Progress    *JobProgress  `json:"progress,omitempty"`
}

// JobProgress counts pages reported while a job runs.
type JobProgress struct {
	PagesParsed int `json:"pages_parsed"`
	PagesFailed int `json:"pages_failed"`
}

// JobOutcome is what a worker records once a crawl finished.
type JobOutcome struct {
	Result      Result
	ArchiveURI  string
	ContentHash string
}

// QueueItem wraps a job ready to run.
type QueueItem struct {
	JobID     string
	Params    JobParameters
	Submitted int64
}

// CrawlSummary is the row persisted for every finished crawl.
type CrawlSummary struct {
	CrawlID     string
	StartedAt   time.Time
	FinishedAt  time.Time
	StartPages  []string
	URLsVisited int
	WordCounts  []WordCount
	ContentHash string
	ArchiveURI  string
}

// CompletionNotice is published once a crawl has been persisted.
type CompletionNotice struct {
	CrawlID     string    `json:"crawl_id"`
	URLsVisited int       `json:"urls_visited"`
	ArchiveURI  string    `json:"archive_uri,omitempty"`
	ContentHash string    `json:"content_hash"`
	FinishedAt  time.Time `json:"finished_at"`
}
