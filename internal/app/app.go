// Package app builds the long-lived services shared by the CLI commands and
// acts as their dependency injection container.
package app

import (
	"context"
	"fmt"
	"time"

	gcsstorage "cloud.google.com/go/storage"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-webcrawler/internal/api"
	"github.com/JakeFAU/parallel-webcrawler/internal/clock/system"
	"github.com/JakeFAU/parallel-webcrawler/internal/config"
	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/dispatcher"
	"github.com/JakeFAU/parallel-webcrawler/internal/hash/sha256"
	"github.com/JakeFAU/parallel-webcrawler/internal/id/uuid"
	collyparser "github.com/JakeFAU/parallel-webcrawler/internal/parser/colly"
	"github.com/JakeFAU/parallel-webcrawler/internal/profiler"
	"github.com/JakeFAU/parallel-webcrawler/internal/progress"
	"github.com/JakeFAU/parallel-webcrawler/internal/progress/sinks"
	pubmemory "github.com/JakeFAU/parallel-webcrawler/internal/publisher/memory"
	pubsubpublisher "github.com/JakeFAU/parallel-webcrawler/internal/publisher/pubsub"
	queueMemory "github.com/JakeFAU/parallel-webcrawler/internal/queue/memory"
	"github.com/JakeFAU/parallel-webcrawler/internal/ratelimit"
	"github.com/JakeFAU/parallel-webcrawler/internal/storage/gcs"
	"github.com/JakeFAU/parallel-webcrawler/internal/storage/local"
	memoryStorage "github.com/JakeFAU/parallel-webcrawler/internal/storage/memory"
	"github.com/JakeFAU/parallel-webcrawler/internal/storage/postgres"
	"github.com/JakeFAU/parallel-webcrawler/internal/storage/sqlite"
	"github.com/JakeFAU/parallel-webcrawler/internal/telemetry"
	redisvisited "github.com/JakeFAU/parallel-webcrawler/internal/visited/redis"
	"github.com/JakeFAU/parallel-webcrawler/internal/worker"
)

const progressCloseTimeout = 5 * time.Second

// App holds all the shared services for one process.
type App struct {
	Config     config.Config
	Logger     *zap.Logger
	Clock      crawler.Clock
	Profiler   *profiler.Profiler
	Progress   *progress.Hub
	Notices    *pubmemory.Publisher
	JobStore   *memoryStorage.JobStore
	Queue      *queueMemory.Queue
	Workers    []*worker.Worker
	Dispatcher *dispatcher.Dispatcher
	Server     *api.Server

	idGen   crawler.IDGenerator
	visited crawler.VisitedSetFactory
	parser  crawler.PageParser
	checks  map[string]api.ReadinessCheck
	closers []func() error
}

// New builds every service named by cfg. Partially built services are
// closed again when a later one fails.
func New(ctx context.Context, cfg config.Config, logger *zap.Logger) (a *App, err error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := system.New()
	a = &App{
		Config:   cfg,
		Logger:   logger,
		Clock:    clock,
		Profiler: profiler.New(clock),
		JobStore: memoryStorage.NewJobStore(),
		Queue:    queueMemory.NewQueue(cfg.Server.QueueDepth),
		idGen:    uuid.New(),
		checks:   map[string]api.ReadinessCheck{},
	}
	defer func() {
		if err != nil {
			err = multierr.Append(err, a.Close())
			a = nil
		}
	}()

	tp, err := telemetry.InitTracerProvider(ctx, config.AppName)
	if err != nil {
		return a, fmt.Errorf("init tracing: %w", err)
	}
	a.onClose(func() error { return shutdownTracer(tp) })

	parser, err := collyparser.New(collyparser.Config{
		UserAgent:    cfg.Parser.UserAgent,
		Timeout:      cfg.Parser.Timeout,
		MaxBodyBytes: cfg.Parser.MaxBodyBytes,
		IgnoredWords: cfg.Parser.IgnoredWords,
	}, logger.Named("parser"))
	if err != nil {
		return a, fmt.Errorf("init parser: %w", err)
	}
	if err := a.initProgress(); err != nil {
		return a, err
	}
	a.parser = progress.WrapParser(a.Progress, a.Profiler.WrapParser(parser), clock)
	if limiter := ratelimit.New(ratelimit.Config{
		RPS:   cfg.Parser.RequestsPerSecond,
		Burst: cfg.Parser.Burst,
	}); limiter.Enabled() {
		// Token waits stay out of the Parse profile.
		a.parser = limiter.WrapParser(a.parser)
	}

	if err := a.initVisited(ctx); err != nil {
		return a, err
	}
	blobs, err := a.initBlobStore(ctx)
	if err != nil {
		return a, err
	}
	summaries, err := a.initSummaryStore(ctx)
	if err != nil {
		return a, err
	}
	publisher, err := a.initPublisher(ctx)
	if err != nil {
		return a, err
	}

	workerCfg := worker.Config{
		ArchivePrefix: cfg.Archive.Prefix,
		Topic:         cfg.PubSub.TopicName,
	}
	deps := worker.Deps{
		Queue:        a.Queue,
		JobStore:     a.JobStore,
		BlobStore:    blobs,
		SummaryStore: summaries,
		Publisher:    publisher,
		Hasher:       sha256.New(),
		Clock:        clock,
		NewCrawler:   a.NewCrawler,
		Progress:     a.Progress,
	}
	runners := make([]dispatcher.Runner, 0, cfg.Server.Workers)
	for i := 0; i < max(cfg.Server.Workers, 1); i++ {
		w := worker.New(deps, workerCfg, logger.Named("worker").With(zap.Int("index", i)))
		a.Workers = append(a.Workers, w)
		runners = append(runners, w)
	}
	a.Dispatcher = dispatcher.New(a.Queue, runners, clock, logger.Named("dispatcher"))
	a.onClose(func() error {
		a.Queue.Close()
		return nil
	})

	a.Server = api.NewServer(a.JobStore, a.Dispatcher, a.idGen, clock, cfg, logger.Named("api"))
	for name, check := range a.checks {
		a.Server.AddReadinessCheck(name, check)
	}

	logger.Info("application services initialized",
		zap.String("implementation", cfg.Crawler.Implementation),
		zap.String("archive", cfg.Archive.Provider),
		zap.String("visited", cfg.Visited.Provider),
		zap.Int("workers", len(a.Workers)),
	)
	return a, nil
}

// NewCrawler builds a crawler for one job. Parameters override the
// configured crawl settings; the parser, visited set backend and
// implementation come from configuration.
func (a *App) NewCrawler(params crawler.JobParameters) (crawler.WebCrawler, error) {
	settings := a.Config.CrawlerSettings()
	settings.MaxDepth = params.MaxDepth
	settings.PopularWordCount = params.PopularWordCount
	if params.Timeout > 0 {
		settings.Timeout = params.Timeout
	}
	if params.IgnoredURLs != nil {
		settings.IgnoredURLs = append([]string(nil), params.IgnoredURLs...)
	}
	c, err := crawler.New(
		a.Config.Crawler.Implementation,
		settings,
		a.parser,
		crawler.WithClock(a.Clock),
		crawler.WithVisitedSetFactory(a.visited),
		crawler.WithLogger(a.Logger.Named("crawler")),
	)
	if err != nil {
		return nil, fmt.Errorf("build crawler: %w", err)
	}
	return a.Profiler.WrapCrawler(c), nil
}

// Crawl runs one crawl synchronously on the first worker, recording it in
// the job store like a queued crawl.
func (a *App) Crawl(ctx context.Context, params crawler.JobParameters) (string, crawler.JobOutcome, error) {
	crawlID, err := a.idGen.NewID()
	if err != nil {
		return "", crawler.JobOutcome{}, fmt.Errorf("generate crawl id: %w", err)
	}
	now := a.Clock.Now()
	if err := a.JobStore.CreateJob(ctx, crawler.Job{
		ID:         crawlID,
		Status:     crawler.JobStatusQueued,
		Submitted:  now,
		Parameters: params,
	}); err != nil {
		return crawlID, crawler.JobOutcome{}, fmt.Errorf("create job: %w", err)
	}
	outcome, err := a.Workers[0].Process(ctx, crawler.QueueItem{
		JobID:     crawlID,
		Params:    params,
		Submitted: now.Unix(),
	})
	if err != nil {
		return crawlID, crawler.JobOutcome{}, fmt.Errorf("crawl %s: %w", crawlID, err)
	}
	return crawlID, outcome, nil
}

// Close shuts services down in reverse construction order.
func (a *App) Close() error {
	var errs error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = multierr.Append(errs, a.closers[i]())
	}
	a.closers = nil
	return errs
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

func (a *App) initProgress() error {
	promSink, err := sinks.NewPrometheusSink(prometheus.DefaultRegisterer)
	if err != nil {
		return fmt.Errorf("init progress metrics: %w", err)
	}
	hubSinks := []progress.Sink{promSink, sinks.NewJobStoreSink(a.JobStore, a.Logger.Named("progress"))}
	if a.Config.Progress.LogEvents {
		hubSinks = append(hubSinks, sinks.NewLogSink(a.Logger.Named("progress")))
	}
	a.Progress = progress.NewHub(progress.Config{
		BufferSize:   a.Config.Progress.BufferSize,
		MaxBatchWait: a.Config.Progress.BatchWait,
		Logger:       a.Logger.Named("progress"),
	}, hubSinks...)
	a.onClose(func() error {
		ctx, cancel := context.WithTimeout(context.Background(), progressCloseTimeout)
		defer cancel()
		return a.Progress.Close(ctx)
	})
	return nil
}

func (a *App) initVisited(ctx context.Context) error {
	cfg := a.Config.Visited
	switch cfg.Provider {
	case "redis":
		client, err := redisvisited.NewClient(ctx, cfg.RedisAddr, cfg.RedisDB)
		if err != nil {
			return fmt.Errorf("init redis visited set: %w", err)
		}
		a.onClose(client.Close)
		a.checks["redis"] = func(ctx context.Context) error {
			return redisPing(ctx, client)
		}
		a.visited = redisvisited.NewFactory(client, redisvisited.Config{
			KeyPrefix: cfg.KeyPrefix,
			TTL:       cfg.TTL,
		})
		a.Logger.Info("using redis visited set", zap.String("addr", cfg.RedisAddr))
	default:
		a.visited = crawler.NewMemoryVisitedSetFactory
	}
	return nil
}

func (a *App) initBlobStore(ctx context.Context) (crawler.BlobStore, error) {
	cfg := a.Config.Archive
	switch cfg.Provider {
	case "memory":
		return memoryStorage.NewBlobStore(), nil
	case "local":
		store, err := local.New(local.Config{BaseDir: cfg.LocalDir})
		if err != nil {
			return nil, fmt.Errorf("init local archive: %w", err)
		}
		a.Logger.Info("archiving results locally", zap.String("dir", cfg.LocalDir))
		return store, nil
	case "gcs":
		client, err := gcsstorage.NewClient(ctx)
		if err != nil {
			return nil, fmt.Errorf("init gcs client: %w", err)
		}
		a.onClose(client.Close)
		store, err := gcs.New(client, gcs.Config{Bucket: cfg.GCSBucket})
		if err != nil {
			return nil, fmt.Errorf("init gcs archive: %w", err)
		}
		a.Logger.Info("archiving results to gcs", zap.String("bucket", cfg.GCSBucket))
		return store, nil
	default:
		return nil, nil
	}
}

func (a *App) initSummaryStore(ctx context.Context) (crawler.SummaryStore, error) {
	cfg := a.Config.DB
	if cfg.DSN == "" {
		return nil, nil
	}
	switch cfg.Driver {
	case "sqlite":
		store, err := sqlite.Open(ctx, cfg.DSN, cfg.Table)
		if err != nil {
			return nil, fmt.Errorf("init sqlite summary store: %w", err)
		}
		a.onClose(store.Close)
		return store, nil
	default:
		store, err := postgres.NewSummaryStore(ctx, postgres.Config{
			DSN:      cfg.DSN,
			Table:    cfg.Table,
			MaxConns: cfg.MaxConns,
		})
		if err != nil {
			return nil, fmt.Errorf("init postgres summary store: %w", err)
		}
		a.onClose(func() error {
			store.Close()
			return nil
		})
		return store, nil
	}
}

func (a *App) initPublisher(ctx context.Context) (crawler.Publisher, error) {
	cfg := a.Config.PubSub
	if cfg.TopicName == "" {
		return nil, nil
	}
	if cfg.Provider == "memory" {
		a.Notices = pubmemory.New(a.Logger)
		a.Logger.Info("recording completion notices in memory", zap.String("topic", cfg.TopicName))
		return a.Notices, nil
	}
	client, err := pubsubpublisher.NewClient(ctx, cfg.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("init pubsub client: %w", err)
	}
	publisher := pubsubpublisher.New(client)
	a.onClose(func() error {
		publisher.Close()
		return client.Close()
	})
	a.Logger.Info("publishing completion notices", zap.String("topic", cfg.TopicName))
	return publisher, nil
}

func redisPing(ctx context.Context, client *redis.Client) error {
	if err := client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis ping: %w", err)
	}
	return nil
}

func shutdownTracer(tp *sdktrace.TracerProvider) error {
	if err := tp.Shutdown(context.Background()); err != nil {
		return fmt.Errorf("shutdown tracer provider: %w", err)
	}
	return nil
}
