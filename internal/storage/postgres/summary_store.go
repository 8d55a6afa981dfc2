// Package postgres persists crawl summaries in Postgres.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/storage"
)

const defaultTable = "crawl_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// Config controls the Postgres connection pool used for summary rows.
type Config struct {
	DSN             string
	Table           string
	MaxConns        int32
	MaxConnLifetime time.Duration
}

type execCloser interface {
	Exec(context.Context, string, ...any) (pgconn.CommandTag, error)
	Close()
}

// SummaryStore writes one row per finished crawl.
type SummaryStore struct {
	pool  execCloser
	table string
}

// NewSummaryStore connects to Postgres and makes sure the table exists.
func NewSummaryStore(ctx context.Context, cfg Config) (*SummaryStore, error) {
	if cfg.DSN == "" {
		return nil, errors.New("db.dsn is required")
	}
	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parse postgres dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	store, err := NewSummaryStoreWithPool(pool, cfg.Table)
	if err != nil {
		pool.Close()
		return nil, err
	}
	if err := store.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return store, nil
}

// NewSummaryStoreWithPool constructs a store from an existing pool (primarily for testing).
func NewSummaryStoreWithPool(pool execCloser, table string) (*SummaryStore, error) {
	if pool == nil {
		return nil, errors.New("pool is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	return &SummaryStore{pool: pool, table: table}, nil
}

// EnsureSchema creates the summary table when missing.
func (s *SummaryStore) EnsureSchema(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	started_at TIMESTAMPTZ NOT NULL,
	finished_at TIMESTAMPTZ NOT NULL,
	start_pages TEXT[] NOT NULL,
	urls_visited INTEGER NOT NULL,
	word_counts JSONB NOT NULL,
	content_hash TEXT NOT NULL,
	archive_uri TEXT NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.pool.Exec(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Close releases the underlying pool resources.
func (s *SummaryStore) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// StoreSummary inserts a summary row into Postgres.
func (s *SummaryStore) StoreSummary(ctx context.Context, summary crawler.CrawlSummary) error {
	if s == nil || s.pool == nil {
		return errors.New("summary store is not configured")
	}
	if summary.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	wordsJSON, err := storage.WordCountsJSON(summary.WordCounts)
	if err != nil {
		return err
	}
	query := fmt.Sprintf(`
INSERT INTO %s (
	id,
	started_at,
	finished_at,
	start_pages,
	urls_visited,
	word_counts,
	content_hash,
	archive_uri
) VALUES (
	$1,$2,$3,$4,$5,$6,$7,$8
)`, s.table)

	startPages := summary.StartPages
	if startPages == nil {
		startPages = []string{}
	}
	args := []any{
		summary.CrawlID,
		summary.StartedAt,
		summary.FinishedAt,
		startPages,
		summary.URLsVisited,
		wordsJSON,
		summary.ContentHash,
		summary.ArchiveURI,
	}
	if _, err := s.pool.Exec(ctx, query, args...); err != nil {
		return fmt.Errorf("insert crawl summary: %w", err)
	}
	return nil
}
