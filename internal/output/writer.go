// Package output writes crawl results as pretty-printed JSON.
package output

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
)

// Indent is the per-level indentation of written results.
const Indent = "  "

// Marshal renders res as indented JSON with wordCounts before urlsVisited.
func Marshal(res crawler.Result) ([]byte, error) {
	data, err := json.MarshalIndent(res, "", Indent)
	if err != nil {
		return nil, fmt.Errorf("marshal result: %w", err)
	}
	return data, nil
}

// Write writes res to w followed by a newline.
func Write(w io.Writer, res crawler.Result) error {
	data, err := Marshal(res)
	if err != nil {
		return err
	}
	if _, err := w.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("write result: %w", err)
	}
	return nil
}

// WriteFile appends res to path, creating the file if needed. Earlier
// results in the file are left untouched.
func WriteFile(path string, res crawler.Result) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open result file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close result file: %w", cerr)
		}
	}()
	return Write(f, res)
}
