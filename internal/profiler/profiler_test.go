package profiler

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
)

// tickClock advances by step on every Now call.
type tickClock struct {
	mu   sync.Mutex
	now  time.Time
	step time.Duration
}

func (c *tickClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	t := c.now
	c.now = c.now.Add(c.step)
	return t
}

type stubCrawler struct {
	result crawler.Result
	err    error
}

func (s *stubCrawler) Crawl(context.Context, []string) (crawler.Result, error) {
	return s.result, s.err
}

func (s *stubCrawler) MaxParallelism() int { return 3 }

type stubParser struct{}

func (stubParser) Parse(context.Context, string) (crawler.Page, error) {
	return crawler.Page{}, errors.New("offline")
}

func TestWrapCrawlerRecordsDuration(t *testing.T) {
	t.Parallel()

	clock := &tickClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC), step: 1500 * time.Millisecond}
	p := New(clock)

	want := crawler.Result{URLsVisited: 7}
	wrapped := p.WrapCrawler(&stubCrawler{result: want})
	got, err := wrapped.Crawl(context.Background(), []string{"https://example.com"})
	require.NoError(t, err)
	require.Equal(t, want, got)
	require.Equal(t, 3, wrapped.MaxParallelism())

	require.Equal(t, map[string]time.Duration{
		"*profiler.stubCrawler#Crawl": 1500 * time.Millisecond,
	}, p.Totals())
}

func TestWrapParserAccumulatesFailedCalls(t *testing.T) {
	t.Parallel()

	clock := &tickClock{now: time.Unix(0, 0).UTC(), step: 61*time.Second + 5*time.Millisecond}
	p := New(clock)
	wrapped := p.WrapParser(stubParser{})

	for i := 0; i < 2; i++ {
		_, err := wrapped.Parse(context.Background(), "https://example.com")
		require.EqualError(t, err, "offline")
	}

	require.Equal(t, 2*(61*time.Second+5*time.Millisecond), p.Totals()["profiler.stubParser#Parse"])
}

func TestWriteDataFormat(t *testing.T) {
	t.Parallel()

	start := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	clock := &tickClock{now: start}
	p := New(clock)
	p.totals["b.Type#Parse"] = 2*time.Minute + 3*time.Second + 45*time.Millisecond
	p.totals["a.Type#Crawl"] = 999 * time.Millisecond

	var buf bytes.Buffer
	require.NoError(t, p.WriteData(&buf))

	want := "Run at Fri, 01 Mar 2024 12:00:00 UTC\n" +
		"a.Type#Crawl took 0m 0s 999ms\n" +
		"b.Type#Parse took 2m 3s 45ms\n" +
		"\n"
	require.Equal(t, want, buf.String())
}

func TestWriteFileAppends(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "profile.txt")
	require.NoError(t, os.WriteFile(path, []byte("existing\n"), 0o600))

	p := New(&tickClock{now: time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)})
	require.NoError(t, p.WriteFile(path))
	require.NoError(t, p.WriteFile(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	header := "Run at Fri, 01 Mar 2024 12:00:00 UTC\n\n"
	require.Equal(t, "existing\n"+header+header, string(data))
}

func TestWriteFileBadPath(t *testing.T) {
	t.Parallel()

	p := New(&tickClock{})
	err := p.WriteFile(filepath.Join(t.TempDir(), "missing", "profile.txt"))
	require.ErrorContains(t, err, "open profile file")
}
