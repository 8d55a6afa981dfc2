// Package sqlite persists crawl summaries in a local SQLite file, for
// single-machine runs that do not have Postgres around.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	_ "modernc.org/sqlite" // SQLite driver

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/storage"
)

const defaultTable = "crawl_results"

var validTableName = regexp.MustCompile(`^[a-zA-Z_][a-zA-Z0-9_]*$`)

// SummaryStore writes one row per finished crawl into SQLite.
type SummaryStore struct {
	db    *sql.DB
	table string
}

// Open opens or creates the database file at path and its table.
func Open(ctx context.Context, path, table string) (*SummaryStore, error) {
	if path == "" {
		return nil, errors.New("db.dsn is required")
	}
	if table == "" {
		table = defaultTable
	}
	if !validTableName.MatchString(table) {
		return nil, fmt.Errorf("invalid table name %q", table)
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path+"?mode=rwc")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	// SQLite allows a single writer.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	store := &SummaryStore{db: db, table: table}
	if err := store.createTable(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

func (s *SummaryStore) createTable(ctx context.Context) error {
	query := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	start_pages TEXT NOT NULL,
	urls_visited INTEGER NOT NULL,
	word_counts TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	archive_uri TEXT NOT NULL DEFAULT ''
)`, s.table)
	if _, err := s.db.ExecContext(ctx, query); err != nil {
		return fmt.Errorf("create table %s: %w", s.table, err)
	}
	return nil
}

// Close closes the database connection.
func (s *SummaryStore) Close() error {
	return s.db.Close()
}

// StoreSummary inserts a summary row.
func (s *SummaryStore) StoreSummary(ctx context.Context, summary crawler.CrawlSummary) error {
	if summary.CrawlID == "" {
		return errors.New("crawl id is required")
	}
	wordsJSON, err := storage.WordCountsJSON(summary.WordCounts)
	if err != nil {
		return err
	}
	startPages := summary.StartPages
	if startPages == nil {
		startPages = []string{}
	}
	pagesJSON, err := json.Marshal(startPages)
	if err != nil {
		return fmt.Errorf("marshal start pages: %w", err)
	}

	query := fmt.Sprintf(`
INSERT INTO %s (id, started_at, finished_at, start_pages, urls_visited, word_counts, content_hash, archive_uri)
VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, s.table)
	_, err = s.db.ExecContext(ctx, query,
		summary.CrawlID,
		summary.StartedAt.UTC().Format(time.RFC3339Nano),
		summary.FinishedAt.UTC().Format(time.RFC3339Nano),
		string(pagesJSON),
		summary.URLsVisited,
		string(wordsJSON),
		summary.ContentHash,
		summary.ArchiveURI,
	)
	if err != nil {
		return fmt.Errorf("insert crawl summary: %w", err)
	}
	return nil
}

// GetSummary reads back the row stored for crawlID.
func (s *SummaryStore) GetSummary(ctx context.Context, crawlID string) (crawler.CrawlSummary, error) {
	query := fmt.Sprintf(`
SELECT id, started_at, finished_at, start_pages, urls_visited, word_counts, content_hash, archive_uri
FROM %s WHERE id = ?`, s.table)

	var (
		out                  crawler.CrawlSummary
		started, finished    string
		pagesJSON, wordsJSON string
	)
	err := s.db.QueryRowContext(ctx, query, crawlID).Scan(
		&out.CrawlID, &started, &finished, &pagesJSON, &out.URLsVisited, &wordsJSON, &out.ContentHash, &out.ArchiveURI,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return crawler.CrawlSummary{}, crawler.ErrJobNotFound
	}
	if err != nil {
		return crawler.CrawlSummary{}, fmt.Errorf("query crawl summary: %w", err)
	}
	if out.StartedAt, err = time.Parse(time.RFC3339Nano, started); err != nil {
		return crawler.CrawlSummary{}, fmt.Errorf("parse started_at: %w", err)
	}
	if out.FinishedAt, err = time.Parse(time.RFC3339Nano, finished); err != nil {
		return crawler.CrawlSummary{}, fmt.Errorf("parse finished_at: %w", err)
	}
	if err := json.Unmarshal([]byte(pagesJSON), &out.StartPages); err != nil {
		return crawler.CrawlSummary{}, fmt.Errorf("decode start pages: %w", err)
	}
	if err := json.Unmarshal([]byte(wordsJSON), &out.WordCounts); err != nil {
		return crawler.CrawlSummary{}, fmt.Errorf("decode word counts: %w", err)
	}
	return out, nil
}
