package config

import (
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
)

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
crawler:
  start_pages: ["https://example.com", "https://example.org"]
  ignored_urls: ["https://example\\.com/private/.*"]
  parallelism: 3
  implementation: sequential
  max_depth: 4
  timeout: 30s
  popular_word_count: 5
parser:
  ignored_words: ["^.{1,3}$"]
  timeout: 2s
  user_agent: test-agent
  requests_per_second: 2.5
output:
  result_path: /tmp/result.json
  profile_path: /tmp/profile.txt
archive:
  provider: local
  local_dir: /tmp/archive
db:
  driver: sqlite
  dsn: file:crawls.db
visited:
  provider: redis
  redis_addr: localhost:6379
  ttl: 10m
server:
  port: 9090
  workers: 2
logging:
  development: false
progress:
  batch_wait: 1s
  log_events: true
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	require.NoError(t, err)

	require.Equal(t, []string{"https://example.com", "https://example.org"}, cfg.Crawler.StartPages)
	require.Equal(t, 3, cfg.Crawler.Parallelism)
	require.Equal(t, "sequential", cfg.Crawler.Implementation)
	require.Equal(t, 4, cfg.Crawler.MaxDepth)
	require.Equal(t, 30*time.Second, cfg.Crawler.Timeout)
	require.Equal(t, 5, cfg.Crawler.PopularWordCount)
	require.Equal(t, crawler.DefaultGracePeriod, cfg.Crawler.GracePeriod)
	require.Equal(t, 2*time.Second, cfg.Parser.Timeout)
	require.Equal(t, "test-agent", cfg.Parser.UserAgent)
	require.InDelta(t, 2.5, cfg.Parser.RequestsPerSecond, 1e-9)
	require.Equal(t, 1, cfg.Parser.Burst)
	require.Equal(t, "/tmp/result.json", cfg.Output.ResultPath)
	require.Equal(t, "local", cfg.Archive.Provider)
	require.Equal(t, "results", cfg.Archive.Prefix)
	require.Equal(t, "sqlite", cfg.DB.Driver)
	require.Equal(t, "crawl_results", cfg.DB.Table)
	require.Equal(t, "redis", cfg.Visited.Provider)
	require.Equal(t, 10*time.Minute, cfg.Visited.TTL)
	require.Equal(t, 9090, cfg.Server.Port)
	require.False(t, cfg.Logging.Development)
	require.Equal(t, time.Second, cfg.Progress.BatchWait)
	require.Equal(t, 1024, cfg.Progress.BufferSize)
	require.True(t, cfg.Progress.LogEvents)

	settings := cfg.CrawlerSettings()
	require.Equal(t, 3, settings.Parallelism)
	require.NoError(t, settings.Validate())

	params := cfg.DefaultJobParameters()
	require.Equal(t, cfg.Crawler.StartPages, params.StartPages)
	require.Equal(t, 30*time.Second, params.Timeout)
}

func TestLoadDefaults(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "empty.yaml")
	require.NoError(t, os.WriteFile(path, []byte("{}\n"), 0o600))

	cfg, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, runtime.NumCPU(), cfg.Crawler.Parallelism)
	require.Equal(t, "parallel", cfg.Crawler.Implementation)
	require.Equal(t, 2, cfg.Crawler.MaxDepth)
	require.Equal(t, 7*time.Second, cfg.Crawler.Timeout)
	require.Equal(t, 10, cfg.Crawler.PopularWordCount)
	require.Equal(t, "none", cfg.Archive.Provider)
	require.Equal(t, "memory", cfg.Visited.Provider)
	require.Equal(t, "pubsub", cfg.PubSub.Provider)
	require.Equal(t, 8080, cfg.Server.Port)
	require.True(t, cfg.Logging.Development)
	require.Equal(t, 250*time.Millisecond, cfg.Progress.BatchWait)
	require.False(t, cfg.Progress.LogEvents)
}

func TestLoadMissingFile(t *testing.T) {
	t.Parallel()

	_, err := Load(filepath.Join(t.TempDir(), "missing.yaml"))
	require.Error(t, err)
	require.Contains(t, err.Error(), "read config")
}

func TestDefaultConfigPath(t *testing.T) {
	t.Parallel()

	p := DefaultConfigPath()
	require.True(t, strings.HasSuffix(p, filepath.Join(AppName, "config.yaml")), p)
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	base := Config{
		Crawler: CrawlerConfig{
			Parallelism:    1,
			Implementation: "parallel",
			MaxDepth:       1,
			Timeout:        time.Second,
		},
		Parser:  ParserConfig{Timeout: time.Second},
		Archive: ArchiveConfig{Provider: "none"},
		Visited: VisitedConfig{Provider: "memory"},
		Server:  ServerConfig{Port: 8080, Workers: 1},
	}
	require.NoError(t, base.Validate())

	withMemoryNotices := base
	withMemoryNotices.PubSub = PubSubConfig{Provider: "memory", TopicName: "done"}
	require.NoError(t, withMemoryNotices.Validate(), "memory notices need no project")

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "invalid parallelism", mutate: func(c *Config) { c.Crawler.Parallelism = 0 }, want: "crawler.parallelism"},
		{name: "negative depth", mutate: func(c *Config) { c.Crawler.MaxDepth = -1 }, want: "crawler.max_depth"},
		{name: "invalid timeout", mutate: func(c *Config) { c.Crawler.Timeout = 0 }, want: "crawler.timeout"},
		{name: "negative word count", mutate: func(c *Config) { c.Crawler.PopularWordCount = -2 }, want: "crawler.popular_word_count"},
		{name: "unknown implementation", mutate: func(c *Config) { c.Crawler.Implementation = "magic" }, want: "crawler.implementation"},
		{name: "bad ignored url", mutate: func(c *Config) { c.Crawler.IgnoredURLs = []string{"[a"} }, want: "crawler.ignored_urls"},
		{name: "bad ignored word", mutate: func(c *Config) { c.Parser.IgnoredWords = []string{"(?"} }, want: "parser.ignored_words"},
		{name: "negative rps", mutate: func(c *Config) { c.Parser.RequestsPerSecond = -1 }, want: "parser.requests_per_second"},
		{name: "parser timeout", mutate: func(c *Config) { c.Parser.Timeout = 0 }, want: "parser.timeout"},
		{name: "local archive dir", mutate: func(c *Config) { c.Archive.Provider = "local" }, want: "archive.local_dir"},
		{name: "gcs bucket", mutate: func(c *Config) { c.Archive.Provider = "gcs" }, want: "archive.gcs_bucket"},
		{name: "unknown archive", mutate: func(c *Config) { c.Archive.Provider = "s3" }, want: "archive.provider"},
		{name: "db driver", mutate: func(c *Config) { c.DB.DSN = "x"; c.DB.Driver = "mysql" }, want: "db.driver"},
		{name: "pubsub project", mutate: func(c *Config) { c.PubSub = PubSubConfig{Provider: "pubsub", TopicName: "done"} }, want: "pubsub.project_id"},
		{name: "unknown pubsub", mutate: func(c *Config) { c.PubSub = PubSubConfig{Provider: "kafka", TopicName: "done"} }, want: "pubsub.provider"},
		{name: "redis addr", mutate: func(c *Config) { c.Visited.Provider = "redis" }, want: "visited.redis_addr"},
		{name: "unknown visited", mutate: func(c *Config) { c.Visited.Provider = "etcd" }, want: "visited.provider"},
		{name: "invalid port", mutate: func(c *Config) { c.Server.Port = 0 }, want: "server.port"},
		{name: "invalid workers", mutate: func(c *Config) { c.Server.Workers = 0 }, want: "server.workers"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := base
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}
