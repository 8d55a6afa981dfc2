package app_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-webcrawler/internal/app"
	"github.com/JakeFAU/parallel-webcrawler/internal/config"
	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/storage/sqlite"
)

func newSite(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>\n<p>Go go crawl</p>\n<a href=\"/a\">next</a>\n</body></html>")
	})
	mux.HandleFunc("/a", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		fmt.Fprint(w, "<html><body>\n<p>go, crawl!</p>\n<a href=\"/\">home</a>\n</body></html>")
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func baseConfig() config.Config {
	return config.Config{
		Crawler: config.CrawlerConfig{
			Parallelism:      4,
			Implementation:   "parallel",
			MaxDepth:         2,
			Timeout:          5 * time.Second,
			PopularWordCount: 3,
			GracePeriod:      time.Second,
		},
		Parser:  config.ParserConfig{Timeout: 2 * time.Second, UserAgent: "app-test"},
		Archive: config.ArchiveConfig{Provider: "none", Prefix: "results"},
		DB:      config.DBConfig{Driver: "sqlite", Table: "crawl_results"},
		Visited: config.VisitedConfig{Provider: "memory"},
		Server:  config.ServerConfig{Port: 8080, QueueDepth: 4, Workers: 2},
	}
}

func TestNewDefaults(t *testing.T) {
	t.Parallel()

	a, err := app.New(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	require.Len(t, a.Workers, 2)
	require.NotNil(t, a.Dispatcher)
	require.NotNil(t, a.Server)
	require.NoError(t, a.Close())
}

func TestNewRejectsBadIgnoredWords(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Parser.IgnoredWords = []string{"(?"}
	_, err := app.New(context.Background(), cfg, zap.NewNop())
	require.ErrorContains(t, err, "init parser")
}

func TestNewCrawlerAppliesParameters(t *testing.T) {
	t.Parallel()

	cfg := baseConfig()
	cfg.Crawler.Implementation = "sequential"
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	c, err := a.NewCrawler(crawler.JobParameters{MaxDepth: 1, PopularWordCount: 2})
	require.NoError(t, err)
	require.Equal(t, 1, c.MaxParallelism())

	_, err = a.NewCrawler(crawler.JobParameters{MaxDepth: -1})
	require.ErrorIs(t, err, crawler.ErrInvalidConfig)
}

func TestCrawlPersistsResult(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "crawls.db")

	cfg := baseConfig()
	cfg.Archive = config.ArchiveConfig{Provider: "local", LocalDir: filepath.Join(dir, "archive"), Prefix: "results"}
	cfg.DB.DSN = dbPath
	cfg.Parser.RequestsPerSecond = 1000
	cfg.Parser.Burst = 4

	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)

	params := cfg.DefaultJobParameters()
	params.StartPages = []string{site.URL + "/"}
	crawlID, outcome, err := a.Crawl(context.Background(), params)
	require.NoError(t, err)

	require.Equal(t, 2, outcome.Result.URLsVisited)
	require.Equal(t, []crawler.WordCount{
		{Word: "go", Count: 3},
		{Word: "crawl", Count: 2},
		{Word: "home", Count: 1},
	}, outcome.Result.WordCounts)
	require.True(t, strings.HasSuffix(outcome.ArchiveURI, crawlID+".json"), outcome.ArchiveURI)
	require.Len(t, outcome.ContentHash, 64)

	archived, err := os.ReadFile(strings.TrimPrefix(outcome.ArchiveURI, "file://"))
	require.NoError(t, err)
	require.Contains(t, string(archived), `"go": 3`)

	job, err := a.JobStore.GetJob(context.Background(), crawlID)
	require.NoError(t, err)
	require.Equal(t, crawler.JobStatusSucceeded, job.Status)

	totals := a.Profiler.Totals()
	require.Contains(t, totals, "*crawler.ParallelCrawler#Crawl")
	require.Contains(t, totals, "*collyparser.Parser#Parse")

	require.NoError(t, a.Close())

	// closing drains the progress hub into the job store
	job, err = a.JobStore.GetJob(context.Background(), crawlID)
	require.NoError(t, err)
	require.Equal(t, &crawler.JobProgress{PagesParsed: 2}, job.Progress)

	store, err := sqlite.Open(context.Background(), dbPath, "crawl_results")
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	summary, err := store.GetSummary(context.Background(), crawlID)
	require.NoError(t, err)
	require.Equal(t, 2, summary.URLsVisited)
	require.Equal(t, outcome.ArchiveURI, summary.ArchiveURI)
}

func TestCrawlRecordsMemoryNotice(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	cfg := baseConfig()
	cfg.PubSub = config.PubSubConfig{Provider: "memory", TopicName: "crawl-finished"}
	a, err := app.New(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })
	require.NotNil(t, a.Notices)

	params := cfg.DefaultJobParameters()
	params.StartPages = []string{site.URL + "/a"}
	params.MaxDepth = 1
	crawlID, outcome, err := a.Crawl(context.Background(), params)
	require.NoError(t, err)

	notices := a.Notices.ForCrawl(crawlID)
	require.Len(t, notices, 1)
	require.Equal(t, "crawl-finished", notices[0].Topic)
	require.Equal(t, 1, notices[0].Notice.URLsVisited)
	require.Equal(t, outcome.ContentHash, notices[0].Notice.ContentHash)
}

func TestDispatcherServesQueuedCrawls(t *testing.T) {
	t.Parallel()

	site := newSite(t)
	a, err := app.New(context.Background(), baseConfig(), zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = a.Close() })

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		a.Dispatcher.Run(ctx)
		close(done)
	}()

	params := a.Config.DefaultJobParameters()
	params.StartPages = []string{site.URL + "/a"}
	params.MaxDepth = 1
	require.NoError(t, a.JobStore.CreateJob(ctx, crawler.Job{ID: "queued-1", Status: crawler.JobStatusQueued, Parameters: params}))
	require.NoError(t, a.Dispatcher.Enqueue(ctx, crawler.QueueItem{JobID: "queued-1", Params: params}))

	require.Eventually(t, func() bool {
		job, err := a.JobStore.GetJob(context.Background(), "queued-1")
		return err == nil && job.Status == crawler.JobStatusSucceeded
	}, 5*time.Second, 20*time.Millisecond)

	job, err := a.JobStore.GetJob(context.Background(), "queued-1")
	require.NoError(t, err)
	require.Equal(t, 1, job.Result.URLsVisited)

	cancel()
	<-done
}
