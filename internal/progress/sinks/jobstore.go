package sinks

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/progress"
)

// ProgressRecorder accumulates page counts on a job record.
type ProgressRecorder interface {
	AddProgress(ctx context.Context, jobID string, parsed, failed int) error
}

// JobStoreSink collapses page events per crawl and forwards the deltas to a
// ProgressRecorder once per batch.
type JobStoreSink struct {
	recorder ProgressRecorder
	logger   *zap.Logger
}

// NewJobStoreSink constructs a JobStoreSink.
func NewJobStoreSink(recorder ProgressRecorder, logger *zap.Logger) *JobStoreSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &JobStoreSink{recorder: recorder, logger: logger}
}

type pageDelta struct {
	parsed int
	failed int
}

// Consume forwards one delta per crawl in batch. Crawls the recorder does
// not know are skipped.
func (s *JobStoreSink) Consume(ctx context.Context, batch []progress.Event) error {
	if s == nil || s.recorder == nil {
		return nil
	}
	deltas := make(map[string]*pageDelta)
	order := make([]string, 0)
	for _, evt := range batch {
		if !evt.IsPage() {
			continue
		}
		d := deltas[evt.CrawlID]
		if d == nil {
			d = &pageDelta{}
			deltas[evt.CrawlID] = d
			order = append(order, evt.CrawlID)
		}
		if evt.Stage == progress.StagePageError {
			d.failed++
		} else {
			d.parsed++
		}
	}

	var errs error
	for _, id := range order {
		d := deltas[id]
		err := s.recorder.AddProgress(ctx, id, d.parsed, d.failed)
		switch {
		case err == nil:
		case errors.Is(err, crawler.ErrJobNotFound):
			s.logger.Debug("progress for unknown crawl", zap.String("crawl_id", id))
		default:
			errs = multierr.Append(errs, fmt.Errorf("record progress for %s: %w", id, err))
		}
	}
	return errs
}

// Close implements the Sink interface; it performs no action.
func (s *JobStoreSink) Close(context.Context) error {
	return nil
}
