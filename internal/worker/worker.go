// Package worker runs queued crawls and persists their results.
package worker

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/logging"
	"github.com/JakeFAU/parallel-webcrawler/internal/metrics"
	"github.com/JakeFAU/parallel-webcrawler/internal/output"
	"github.com/JakeFAU/parallel-webcrawler/internal/progress"
	"github.com/JakeFAU/parallel-webcrawler/internal/storage"
	"github.com/JakeFAU/parallel-webcrawler/internal/telemetry"
)

// CrawlerFactory builds a crawler for one job's parameters.
type CrawlerFactory func(params crawler.JobParameters) (crawler.WebCrawler, error)

// Config controls Worker behavior.
type Config struct {
	ArchivePrefix string
	Topic         string
}

// Deps are the collaborators a Worker needs. Only Queue, JobStore,
// NewCrawler, Hasher and Clock are required; nil persistence sinks are
// skipped and a nil Progress discards events.
type Deps struct {
	Queue        crawler.Queue
	JobStore     crawler.JobStore
	BlobStore    crawler.BlobStore
	SummaryStore crawler.SummaryStore
	Publisher    crawler.Publisher
	Hasher       crawler.Hasher
	Clock        crawler.Clock
	NewCrawler   CrawlerFactory
	Progress     progress.Emitter
}

// Worker consumes queue items and executes the crawl pipeline.
type Worker struct {
	deps   Deps
	cfg    Config
	tracer trace.Tracer
	logger *zap.Logger
}

// New constructs a Worker.
func New(deps Deps, cfg Config, logger *zap.Logger) *Worker {
	if logger == nil {
		logger = zap.NewNop()
	}
	if deps.Progress == nil {
		deps.Progress = progress.Discard{}
	}
	return &Worker{
		deps:   deps,
		cfg:    cfg,
		tracer: telemetry.Tracer(),
		logger: logger,
	}
}

// Run blocks, consuming queue items until the context finishes or the
// queue is closed.
func (w *Worker) Run(ctx context.Context) {
	for {
		item, err := w.deps.Queue.Dequeue(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, crawler.ErrQueueClosed) {
				return
			}
			w.logger.Error("queue dequeue failed", zap.Error(err))
			continue
		}
		w.logger.Debug("dequeued job", zap.String("crawl_id", item.JobID))
		if _, err := w.Process(ctx, item); err != nil {
			w.logger.Error("crawl failed", zap.String("crawl_id", item.JobID), zap.Error(err))
		}
	}
}

// Process runs one crawl and persists its result. The returned error is
// set only when no result could be produced; archive, summary and publish
// failures are logged and recorded on the job instead.
func (w *Worker) Process(ctx context.Context, item crawler.QueueItem) (crawler.JobOutcome, error) {
	logger := logging.ForCrawl(w.logger, item.JobID)
	ctx, span := w.tracer.Start(ctx, "crawl.process",
		trace.WithAttributes(
			attribute.String("crawl.id", item.JobID),
			attribute.Int("crawl.start_pages", len(item.Params.StartPages)),
		),
	)
	defer span.End()

	metrics.IncActiveWorkers()
	defer metrics.DecActiveWorkers()
	metrics.ObserveStartPages(item.Params.StartPages)

	if err := w.deps.JobStore.UpdateJobStatus(ctx, item.JobID, crawler.JobStatusRunning, ""); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "update job status")
		return crawler.JobOutcome{}, fmt.Errorf("mark job running: %w", err)
	}

	started := w.deps.Clock.Now()
	w.emit(item.JobID, progress.StageCrawlStart, started, func(*progress.Event) {})
	res, err := w.crawl(crawler.WithCrawlID(ctx, item.JobID), item.Params)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "crawl")
		w.emit(item.JobID, progress.StageCrawlError, w.deps.Clock.Now(), func(evt *progress.Event) {
			evt.Dur = max(evt.TS.Sub(started), 0)
			evt.Note = err.Error()
		})
		w.finish(ctx, logger, item.JobID, crawler.JobStatusFailed, err.Error())
		return crawler.JobOutcome{}, err
	}
	finished := w.deps.Clock.Now()
	w.emit(item.JobID, progress.StageCrawlDone, finished, func(evt *progress.Event) {
		evt.Visited = res.URLsVisited
		evt.Dur = max(finished.Sub(started), 0)
	})
	span.SetAttributes(attribute.Int("crawl.urls_visited", res.URLsVisited))

	outcome, persistErr := w.persist(ctx, item, res, started, finished)
	if persistErr != nil {
		span.RecordError(persistErr)
		logger.Warn("crawl result not fully persisted", zap.Error(persistErr))
	}
	if err := w.deps.JobStore.SetJobOutcome(ctx, item.JobID, outcome); err != nil {
		logger.Error("record job outcome failed", zap.Error(err))
		persistErr = multierr.Append(persistErr, err)
	}

	errText := ""
	if diag := multierr.Append(persistErr, res.Failures); diag != nil {
		errText = diag.Error()
	}
	w.finish(ctx, logger, item.JobID, crawler.JobStatusSucceeded, errText)
	logger.Info("crawl processed",
		zap.Int("urls_visited", res.URLsVisited),
		zap.String("archive_uri", outcome.ArchiveURI),
		zap.String("content_hash", outcome.ContentHash),
		zap.Duration("elapsed", finished.Sub(started)),
	)
	return outcome, nil
}

func (w *Worker) emit(crawlID string, stage progress.Stage, at time.Time, fill func(*progress.Event)) {
	evt := progress.Event{CrawlID: crawlID, TS: at.UTC(), Stage: stage}
	fill(&evt)
	w.deps.Progress.Emit(evt)
}

func (w *Worker) crawl(ctx context.Context, params crawler.JobParameters) (crawler.Result, error) {
	c, err := w.deps.NewCrawler(params)
	if err != nil {
		return crawler.Result{}, fmt.Errorf("build crawler: %w", err)
	}
	res, err := c.Crawl(ctx, params.StartPages)
	if err != nil {
		return crawler.Result{}, fmt.Errorf("crawl: %w", err)
	}
	return res, nil
}

// persist serializes, hashes, archives, stores and announces the result.
// Every step runs even when an earlier one failed.
func (w *Worker) persist(
	ctx context.Context,
	item crawler.QueueItem,
	res crawler.Result,
	started, finished time.Time,
) (crawler.JobOutcome, error) {
	outcome := crawler.JobOutcome{Result: res}

	data, err := output.Marshal(res)
	if err != nil {
		return outcome, err
	}
	hash, err := w.deps.Hasher.Hash(data)
	if err != nil {
		return outcome, fmt.Errorf("hash result: %w", err)
	}
	outcome.ContentHash = hash

	var errs error
	if w.deps.BlobStore != nil {
		uri, err := w.archive(ctx, item.JobID, finished, data)
		metrics.ObservePersist("archive", err)
		if err != nil {
			errs = multierr.Append(errs, err)
		}
		outcome.ArchiveURI = uri
	}

	if w.deps.SummaryStore != nil {
		err := w.storeSummary(ctx, crawler.CrawlSummary{
			CrawlID:     item.JobID,
			StartedAt:   started,
			FinishedAt:  finished,
			StartPages:  item.Params.StartPages,
			URLsVisited: res.URLsVisited,
			WordCounts:  res.WordCounts,
			ContentHash: hash,
			ArchiveURI:  outcome.ArchiveURI,
		})
		metrics.ObservePersist("summary", err)
		errs = multierr.Append(errs, err)
	}

	if w.deps.Publisher != nil && w.cfg.Topic != "" {
		err := w.publish(ctx, crawler.CompletionNotice{
			CrawlID:     item.JobID,
			URLsVisited: res.URLsVisited,
			ArchiveURI:  outcome.ArchiveURI,
			ContentHash: hash,
			FinishedAt:  finished,
		})
		metrics.ObservePersist("publish", err)
		errs = multierr.Append(errs, err)
	}
	return outcome, errs
}

func (w *Worker) archive(ctx context.Context, crawlID string, finished time.Time, data []byte) (string, error) {
	ctx, span := w.tracer.Start(ctx, "crawl.archive")
	defer span.End()
	path := storage.ArchivePath(w.cfg.ArchivePrefix, finished, crawlID)
	uri, err := w.deps.BlobStore.PutObject(ctx, path, storage.ResultContentType, bytes.NewReader(data))
	if err != nil {
		span.RecordError(err)
		return "", fmt.Errorf("archive result: %w", err)
	}
	return uri, nil
}

func (w *Worker) storeSummary(ctx context.Context, summary crawler.CrawlSummary) error {
	ctx, span := w.tracer.Start(ctx, "crawl.store_summary")
	defer span.End()
	if err := w.deps.SummaryStore.StoreSummary(ctx, summary); err != nil {
		span.RecordError(err)
		return fmt.Errorf("store summary: %w", err)
	}
	return nil
}

func (w *Worker) publish(ctx context.Context, notice crawler.CompletionNotice) error {
	ctx, span := w.tracer.Start(ctx, "crawl.publish")
	defer span.End()
	if _, err := w.deps.Publisher.Publish(ctx, w.cfg.Topic, notice); err != nil {
		span.RecordError(err)
		return fmt.Errorf("publish notice: %w", err)
	}
	return nil
}

func (w *Worker) finish(ctx context.Context, logger *zap.Logger, jobID string, status crawler.JobStatus, errText string) {
	metrics.ObserveCrawl(string(status))
	// The job record must reach a terminal state even when the caller's
	// context has already been canceled.
	ctx = context.WithoutCancel(ctx)
	if err := w.deps.JobStore.UpdateJobStatus(ctx, jobID, status, errText); err != nil {
		logger.Error("final job status update failed", zap.Error(err))
	}
}
