// Package config loads and validates crawler configuration via Viper.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/adrg/xdg"
	"github.com/spf13/viper"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
)

// AppName names the per-user config directory.
const AppName = "webcrawler"

// Config captures all configuration knobs loaded via Viper.
type Config struct {
	Crawler  CrawlerConfig  `mapstructure:"crawler"`
	Parser   ParserConfig   `mapstructure:"parser"`
	Output   OutputConfig   `mapstructure:"output"`
	Archive  ArchiveConfig  `mapstructure:"archive"`
	DB       DBConfig       `mapstructure:"db"`
	PubSub   PubSubConfig   `mapstructure:"pubsub"`
	Visited  VisitedConfig  `mapstructure:"visited"`
	Server   ServerConfig   `mapstructure:"server"`
	Logging  LoggingConfig  `mapstructure:"logging"`
	Progress ProgressConfig `mapstructure:"progress"`
}

// CrawlerConfig governs the crawl engine.
type CrawlerConfig struct {
	StartPages       []string      `mapstructure:"start_pages"`
	IgnoredURLs      []string      `mapstructure:"ignored_urls"`
	Parallelism      int           `mapstructure:"parallelism"`
	Implementation   string        `mapstructure:"implementation"`
	MaxDepth         int           `mapstructure:"max_depth"`
	Timeout          time.Duration `mapstructure:"timeout"`
	PopularWordCount int           `mapstructure:"popular_word_count"`
	GracePeriod      time.Duration `mapstructure:"grace_period"`
}

// ParserConfig configures page download and tokenization.
type ParserConfig struct {
	IgnoredWords []string      `mapstructure:"ignored_words"`
	Timeout      time.Duration `mapstructure:"timeout"`
	UserAgent    string        `mapstructure:"user_agent"`
	MaxBodyBytes int           `mapstructure:"max_body_bytes"`
	// RequestsPerSecond caps process-wide downloads; 0 disables it.
	RequestsPerSecond float64 `mapstructure:"requests_per_second"`
	Burst             int     `mapstructure:"burst"`
}

// OutputConfig sets where results and profile data are appended. Empty
// paths mean standard output.
type OutputConfig struct {
	ResultPath  string `mapstructure:"result_path"`
	ProfilePath string `mapstructure:"profile_path"`
}

// ArchiveConfig selects where serialized results are archived.
type ArchiveConfig struct {
	Provider  string `mapstructure:"provider"`
	LocalDir  string `mapstructure:"local_dir"`
	GCSBucket string `mapstructure:"gcs_bucket"`
	Prefix    string `mapstructure:"prefix"`
}

// DBConfig controls the crawl summary store. Driver is "postgres" or
// "sqlite"; an empty DSN disables the store.
type DBConfig struct {
	Driver   string `mapstructure:"driver"`
	DSN      string `mapstructure:"dsn"`
	Table    string `mapstructure:"table"`
	MaxConns int32  `mapstructure:"max_conns"`
}

// PubSubConfig holds metadata for completion notifications. Provider is
// "pubsub" or "memory"; an empty TopicName disables notices.
type PubSubConfig struct {
	Provider  string `mapstructure:"provider"`
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// VisitedConfig selects the visited set backend.
type VisitedConfig struct {
	Provider  string        `mapstructure:"provider"`
	RedisAddr string        `mapstructure:"redis_addr"`
	RedisDB   int           `mapstructure:"redis_db"`
	KeyPrefix string        `mapstructure:"key_prefix"`
	TTL       time.Duration `mapstructure:"ttl"`
}

// ServerConfig controls HTTP server and job processing behavior.
type ServerConfig struct {
	Port       int    `mapstructure:"port"`
	QueueDepth int    `mapstructure:"queue_depth"`
	Workers    int    `mapstructure:"workers"`
	APIKey     string `mapstructure:"api_key"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// ProgressConfig tunes the live progress event hub.
type ProgressConfig struct {
	BufferSize int           `mapstructure:"buffer_size"`
	BatchWait  time.Duration `mapstructure:"batch_wait"`
	// LogEvents mirrors every event to the debug log.
	LogEvents bool `mapstructure:"log_events"`
}

// Load builds a Config from disk/environment. When path is empty the
// per-user config file is read if it exists.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("CRAWLER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path == "" {
		path = defaultConfigFile()
	}
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

// DefaultConfigPath is $XDG_CONFIG_HOME/webcrawler/config.yaml.
func DefaultConfigPath() string {
	return filepath.Join(xdg.ConfigHome, AppName, "config.yaml")
}

func defaultConfigFile() string {
	p := DefaultConfigPath()
	if _, err := os.Stat(p); err != nil {
		return ""
	}
	return p
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("crawler.start_pages", []string{})
	v.SetDefault("crawler.ignored_urls", []string{})
	v.SetDefault("crawler.parallelism", runtime.NumCPU())
	v.SetDefault("crawler.implementation", "parallel")
	v.SetDefault("crawler.max_depth", 2)
	v.SetDefault("crawler.timeout", 7*time.Second)
	v.SetDefault("crawler.popular_word_count", 10)
	v.SetDefault("crawler.grace_period", crawler.DefaultGracePeriod)
	v.SetDefault("parser.ignored_words", []string{})
	v.SetDefault("parser.timeout", 10*time.Second)
	v.SetDefault("parser.user_agent", "parallel-webcrawler/0.1")
	v.SetDefault("parser.max_body_bytes", 5<<20)
	v.SetDefault("parser.requests_per_second", 0)
	v.SetDefault("parser.burst", 1)
	v.SetDefault("archive.provider", "none")
	v.SetDefault("archive.local_dir", filepath.Join(xdg.DataHome, AppName, "results"))
	v.SetDefault("archive.prefix", "results")
	v.SetDefault("db.driver", "postgres")
	v.SetDefault("db.table", "crawl_results")
	v.SetDefault("db.max_conns", 4)
	v.SetDefault("pubsub.provider", "pubsub")
	v.SetDefault("visited.provider", "memory")
	v.SetDefault("visited.key_prefix", "webcrawler:visited")
	v.SetDefault("visited.ttl", time.Hour)
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.queue_depth", 16)
	v.SetDefault("server.workers", 1)
	v.SetDefault("logging.development", true)
	v.SetDefault("progress.buffer_size", 1024)
	v.SetDefault("progress.batch_wait", 250*time.Millisecond)
	v.SetDefault("progress.log_events", false)
}

// Validate enforces required values and reasonable limits.
func (c Config) Validate() error {
	if c.Crawler.Parallelism <= 0 {
		return errors.New("crawler.parallelism must be > 0")
	}
	if c.Crawler.MaxDepth < 0 {
		return errors.New("crawler.max_depth must be >= 0")
	}
	if c.Crawler.Timeout <= 0 {
		return errors.New("crawler.timeout must be > 0")
	}
	if c.Crawler.PopularWordCount < 0 {
		return errors.New("crawler.popular_word_count must be >= 0")
	}
	switch c.Crawler.Implementation {
	case "parallel", "sequential":
	default:
		return fmt.Errorf("crawler.implementation must be parallel or sequential, got %q", c.Crawler.Implementation)
	}
	if _, err := crawler.CompilePatterns(c.Crawler.IgnoredURLs); err != nil {
		return fmt.Errorf("crawler.ignored_urls: %w", err)
	}
	if _, err := crawler.CompilePatterns(c.Parser.IgnoredWords); err != nil {
		return fmt.Errorf("parser.ignored_words: %w", err)
	}
	if c.Parser.Timeout <= 0 {
		return errors.New("parser.timeout must be > 0")
	}
	if c.Parser.RequestsPerSecond < 0 {
		return errors.New("parser.requests_per_second must be >= 0")
	}
	switch c.Archive.Provider {
	case "none", "memory":
	case "local":
		if c.Archive.LocalDir == "" {
			return errors.New("archive.local_dir must be set when archive.provider is local")
		}
	case "gcs":
		if c.Archive.GCSBucket == "" {
			return errors.New("archive.gcs_bucket must be set when archive.provider is gcs")
		}
	default:
		return fmt.Errorf("archive.provider must be none, memory, local or gcs, got %q", c.Archive.Provider)
	}
	if c.DB.DSN != "" && c.DB.Driver != "postgres" && c.DB.Driver != "sqlite" {
		return fmt.Errorf("db.driver must be postgres or sqlite, got %q", c.DB.Driver)
	}
	if c.PubSub.TopicName != "" {
		switch c.PubSub.Provider {
		case "memory":
		case "pubsub":
			if c.PubSub.ProjectID == "" {
				return errors.New("pubsub.project_id must be set when pubsub.topic_name is set")
			}
		default:
			return fmt.Errorf("pubsub.provider must be pubsub or memory, got %q", c.PubSub.Provider)
		}
	}
	switch c.Visited.Provider {
	case "memory":
	case "redis":
		if c.Visited.RedisAddr == "" {
			return errors.New("visited.redis_addr must be set when visited.provider is redis")
		}
	default:
		return fmt.Errorf("visited.provider must be memory or redis, got %q", c.Visited.Provider)
	}
	if c.Server.Port <= 0 {
		return errors.New("server.port must be > 0")
	}
	if c.Server.Workers <= 0 {
		return errors.New("server.workers must be > 0")
	}
	if c.Progress.BufferSize < 0 || c.Progress.BatchWait < 0 {
		return errors.New("progress.buffer_size and progress.batch_wait must be >= 0")
	}
	return nil
}

// CrawlerSettings converts the crawl section into the engine's Config.
func (c Config) CrawlerSettings() crawler.Config {
	return crawler.Config{
		Timeout:          c.Crawler.Timeout,
		MaxDepth:         c.Crawler.MaxDepth,
		IgnoredURLs:      append([]string(nil), c.Crawler.IgnoredURLs...),
		PopularWordCount: c.Crawler.PopularWordCount,
		Parallelism:      c.Crawler.Parallelism,
		GracePeriod:      c.Crawler.GracePeriod,
	}
}

// DefaultJobParameters returns the job parameters implied by configuration.
func (c Config) DefaultJobParameters() crawler.JobParameters {
	return crawler.JobParameters{
		StartPages:       append([]string(nil), c.Crawler.StartPages...),
		MaxDepth:         c.Crawler.MaxDepth,
		Timeout:          c.Crawler.Timeout,
		PopularWordCount: c.Crawler.PopularWordCount,
		IgnoredURLs:      append([]string(nil), c.Crawler.IgnoredURLs...),
	}
}
