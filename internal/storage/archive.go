// Package storage holds helpers shared by the result archive backends.
package storage

import (
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
)

// ResultContentType is the MIME type of archived crawl results.
const ResultContentType = "application/json"

// ArchivePath returns <prefix>/<YYYY-MM-DD>/<crawlID>.json, dated in UTC.
func ArchivePath(prefix string, finished time.Time, crawlID string) string {
	day := finished.UTC().Format("2006-01-02")
	prefix = strings.Trim(prefix, "/")
	if prefix == "" {
		return path.Join(day, crawlID+".json")
	}
	return path.Join(prefix, day, crawlID+".json")
}

// WordCountsJSON encodes ranked words as a JSON array, keeping rank order.
func WordCountsJSON(words []crawler.WordCount) ([]byte, error) {
	if words == nil {
		words = []crawler.WordCount{}
	}
	data, err := json.Marshal(words)
	if err != nil {
		return nil, fmt.Errorf("marshal word counts: %w", err)
	}
	return data, nil
}
