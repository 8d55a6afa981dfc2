package crawler

import (
	"context"
	"errors"
	"math/rand"
	"runtime"
	"strconv"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/multierr"
)

// fakeParser serves pages from a fixed link graph.
type fakeParser struct {
	mu     sync.Mutex
	pages  map[string]Page
	errs   map[string]error
	panics map[string]bool
	calls  map[string]int
	delay  time.Duration

	inFlight    atomic.Int32
	maxInFlight atomic.Int32
}

func newFakeParser(pages map[string]Page) *fakeParser {
	return &fakeParser{
		pages:  pages,
		errs:   map[string]error{},
		panics: map[string]bool{},
		calls:  map[string]int{},
	}
}

func (p *fakeParser) Parse(_ context.Context, url string) (Page, error) {
	cur := p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	for {
		prev := p.maxInFlight.Load()
		if cur <= prev || p.maxInFlight.CompareAndSwap(prev, cur) {
			break
		}
	}
	if p.delay > 0 {
		time.Sleep(p.delay)
	}

	p.mu.Lock()
	p.calls[url]++
	page, ok := p.pages[url]
	err := p.errs[url]
	shouldPanic := p.panics[url]
	p.mu.Unlock()

	if shouldPanic {
		panic("parser exploded on " + url)
	}
	if err != nil {
		return Page{}, err
	}
	if !ok {
		return Page{}, errors.New("not found")
	}
	return page, nil
}

func (p *fakeParser) callCount(url string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls[url]
}

func (p *fakeParser) totalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for _, c := range p.calls {
		n += c
	}
	return n
}

// mockParser is used where only call expectations matter.
type mockParser struct {
	mock.Mock
}

func (m *mockParser) Parse(ctx context.Context, url string) (Page, error) {
	args := m.Called(ctx, url)
	return args.Get(0).(Page), args.Error(1)
}

// steppingClock returns early for the first n calls and late afterwards.
type steppingClock struct {
	mu    sync.Mutex
	calls int
	n     int
	early time.Time
	late  time.Time
}

func (c *steppingClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.calls++
	if c.calls <= c.n {
		return c.early
	}
	return c.late
}

type fixedClock struct {
	now time.Time
}

func (c fixedClock) Now() time.Time { return c.now }

type errVisitedSet struct{}

func (errVisitedSet) TryVisit(context.Context, string) (bool, error) {
	return false, errors.New("backend down")
}

func diamondPages() map[string]Page {
	return map[string]Page{
		"http://a": {Links: []string{"http://b", "http://c"}, WordCounts: map[string]int{"apple": 1}},
		"http://b": {Links: []string{"http://d"}, WordCounts: map[string]int{"banana": 2, "apple": 1}},
		"http://c": {Links: []string{"http://d"}, WordCounts: map[string]int{"cherry": 3}},
		"http://d": {Links: []string{"http://a"}, WordCounts: map[string]int{"apple": 2, "date": 1}},
	}
}

// countsOf flattens the ranked words into a map for order-free assertions.
func countsOf(res Result) map[string]int {
	out := make(map[string]int, len(res.WordCounts))
	for _, wc := range res.WordCounts {
		out[wc.Word] = wc.Count
	}
	return out
}

func testConfig() Config {
	return Config{
		Timeout:          time.Minute,
		MaxDepth:         10,
		PopularWordCount: 10,
		Parallelism:      4,
	}
}

func newTestCrawler(t *testing.T, cfg Config, parser PageParser, opts ...Option) *ParallelCrawler {
	t.Helper()
	opts = append([]Option{WithClock(fixedClock{now: time.Unix(1_700_000_000, 0)})}, opts...)
	c, err := NewParallelCrawler(cfg, parser, opts...)
	require.NoError(t, err)
	return c
}

func TestParallelCrawlerDiamondVisitsEachPageOnce(t *testing.T) {
	t.Parallel()

	parser := newFakeParser(diamondPages())
	c := newTestCrawler(t, testConfig(), parser)

	res, err := c.Crawl(context.Background(), []string{"http://a"})
	require.NoError(t, err)
	require.NoError(t, res.Failures)
	require.Equal(t, 4, res.URLsVisited)
	require.Equal(t, map[string]int{"apple": 4, "banana": 2, "cherry": 3, "date": 1}, countsOf(res))
	for _, url := range []string{"http://a", "http://b", "http://c", "http://d"} {
		require.Equal(t, 1, parser.callCount(url), url)
	}
}

func TestParallelCrawlerStartOrderDoesNotMatter(t *testing.T) {
	t.Parallel()

	start := []string{"http://a", "http://b", "http://c", "http://d"}
	baseline, err := newTestCrawler(t, testConfig(), newFakeParser(diamondPages())).
		Crawl(context.Background(), start)
	require.NoError(t, err)

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 5; i++ {
		shuffled := append([]string(nil), start...)
		rng.Shuffle(len(shuffled), func(a, b int) { shuffled[a], shuffled[b] = shuffled[b], shuffled[a] })
		res, err := newTestCrawler(t, testConfig(), newFakeParser(diamondPages())).
			Crawl(context.Background(), shuffled)
		require.NoError(t, err)
		require.Equal(t, baseline.URLsVisited, res.URLsVisited)
		require.Equal(t, baseline.WordCounts, res.WordCounts)
	}
}

func TestParallelCrawlerZeroDepthVisitsNothing(t *testing.T) {
	t.Parallel()

	parser := &mockParser{}
	cfg := testConfig()
	cfg.MaxDepth = 0
	c := newTestCrawler(t, cfg, parser)

	res, err := c.Crawl(context.Background(), []string{"http://a"})
	require.NoError(t, err)
	require.Zero(t, res.URLsVisited)
	require.Empty(t, res.WordCounts)
	parser.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything)
}

func TestParallelCrawlerIgnoredStartURL(t *testing.T) {
	t.Parallel()

	parser := newFakeParser(diamondPages())
	cfg := testConfig()
	cfg.IgnoredURLs = []string{`http://a`}
	c := newTestCrawler(t, cfg, parser)

	res, err := c.Crawl(context.Background(), []string{"http://a"})
	require.NoError(t, err)
	require.Zero(t, res.URLsVisited)
	require.Zero(t, parser.totalCalls())
}

func TestParallelCrawlerIgnorePatternMustMatchWholeURL(t *testing.T) {
	t.Parallel()

	parser := newFakeParser(diamondPages())
	cfg := testConfig()
	// "http://d" contains "d" but the pattern only excludes exact matches.
	cfg.IgnoredURLs = []string{`d`, `http://c`}
	c := newTestCrawler(t, cfg, parser)

	res, err := c.Crawl(context.Background(), []string{"http://a"})
	require.NoError(t, err)
	require.Equal(t, 3, res.URLsVisited)
	require.Zero(t, parser.callCount("http://c"))
	require.Equal(t, 1, parser.callCount("http://d"))
}

func TestParallelCrawlerDuplicateStartURLsCountedOnce(t *testing.T) {
	t.Parallel()

	parser := newFakeParser(map[string]Page{
		"http://x": {WordCounts: map[string]int{"only": 1}},
	})
	c := newTestCrawler(t, testConfig(), parser)

	res, err := c.Crawl(context.Background(), []string{"http://x", "http://x", "http://x"})
	require.NoError(t, err)
	require.Equal(t, 1, res.URLsVisited)
	require.Equal(t, []WordCount{{Word: "only", Count: 1}}, res.WordCounts)
	require.Equal(t, 1, parser.callCount("http://x"))
}

func TestParallelCrawlerParseFailureContributesNothing(t *testing.T) {
	t.Parallel()

	parser := newFakeParser(diamondPages())
	parser.errs["http://c"] = errors.New("boom")
	c := newTestCrawler(t, testConfig(), parser)

	res, err := c.Crawl(context.Background(), []string{"http://a", "http://c"})
	require.NoError(t, err)
	require.NoError(t, res.Failures, "parse failures are not worker failures")
	require.Equal(t, 3, res.URLsVisited)
	require.NotContains(t, countsOf(res), "cherry")
	require.Equal(t, 1, parser.callCount("http://c"), "failed URL stays visited")
}

func TestParallelCrawlerDeadlineAlreadyPassed(t *testing.T) {
	t.Parallel()

	parser := &mockParser{}
	start := time.Unix(1_700_000_000, 0)
	clk := &steppingClock{n: 1, early: start, late: start.Add(2 * time.Minute)}
	c := newTestCrawler(t, testConfig(), parser, WithClock(clk))

	res, err := c.Crawl(context.Background(), []string{"http://a", "http://b"})
	require.NoError(t, err)
	require.Zero(t, res.URLsVisited)
	require.Empty(t, res.WordCounts)
	parser.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything)
}

func TestParallelCrawlerDeadlineStopsChildren(t *testing.T) {
	t.Parallel()

	parser := newFakeParser(diamondPages())
	start := time.Unix(1_700_000_000, 0)
	// Crawl start and the root task entry see the early time.
	clk := &steppingClock{n: 2, early: start, late: start.Add(2 * time.Minute)}
	c := newTestCrawler(t, testConfig(), parser, WithClock(clk))

	res, err := c.Crawl(context.Background(), []string{"http://a"})
	require.NoError(t, err)
	require.Equal(t, 1, res.URLsVisited)
	require.Equal(t, map[string]int{"apple": 1}, countsOf(res))
}

// hangingParser serves one page and blocks every other URL until release
// is closed.
type hangingParser struct {
	fast    string
	release chan struct{}
}

func (p *hangingParser) Parse(_ context.Context, url string) (Page, error) {
	if url == p.fast {
		return Page{WordCounts: map[string]int{"quick": 1}}, nil
	}
	<-p.release
	return Page{WordCounts: map[string]int{"stuck": 1}}, nil
}

func TestParallelCrawlerDropsRootsPastGracePeriod(t *testing.T) {
	t.Parallel()

	parser := &hangingParser{fast: "http://fast", release: make(chan struct{})}
	t.Cleanup(func() { close(parser.release) })
	cfg := testConfig()
	cfg.Timeout = 10 * time.Millisecond
	cfg.GracePeriod = 50 * time.Millisecond
	c := newTestCrawler(t, cfg, parser)

	type outcome struct {
		res Result
		err error
	}
	out := make(chan outcome, 1)
	go func() {
		res, err := c.Crawl(context.Background(), []string{"http://fast", "http://slow"})
		out <- outcome{res: res, err: err}
	}()

	select {
	case got := <-out:
		require.NoError(t, got.err)
		require.Equal(t, 1, got.res.URLsVisited)
		require.Equal(t, map[string]int{"quick": 1}, countsOf(got.res))
	case <-time.After(5 * time.Second):
		t.Fatal("crawl did not return after timeout plus grace period")
	}
}

func TestParallelCrawlerCanceledContext(t *testing.T) {
	t.Parallel()

	parser := &mockParser{}
	c := newTestCrawler(t, testConfig(), parser)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	res, err := c.Crawl(ctx, []string{"http://a"})
	require.NoError(t, err)
	require.Zero(t, res.URLsVisited)
	parser.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything)
}

func TestParallelCrawlerPanicIsIsolated(t *testing.T) {
	t.Parallel()

	parser := newFakeParser(diamondPages())
	parser.panics["http://b"] = true
	c := newTestCrawler(t, testConfig(), parser)

	res, err := c.Crawl(context.Background(), []string{"http://a"})
	require.NoError(t, err)
	require.Equal(t, 3, res.URLsVisited, "a, c and d still count")
	require.NotContains(t, countsOf(res), "banana")

	errs := multierr.Errors(res.Failures)
	require.Len(t, errs, 1)
	var wf *WorkerFailure
	require.ErrorAs(t, errs[0], &wf)
	require.Equal(t, "http://b", wf.URL)
}

func TestParallelCrawlerVisitedSetErrorIsWorkerFailure(t *testing.T) {
	t.Parallel()

	parser := &mockParser{}
	c := newTestCrawler(t, testConfig(), parser,
		WithVisitedSetFactory(func(context.Context) VisitedSet { return errVisitedSet{} }))

	res, err := c.Crawl(context.Background(), []string{"http://a", "http://b"})
	require.NoError(t, err)
	require.Zero(t, res.URLsVisited)
	require.Len(t, multierr.Errors(res.Failures), 2)
	parser.AssertNotCalled(t, "Parse", mock.Anything, mock.Anything)
}

func TestParallelCrawlerBoundsConcurrentParses(t *testing.T) {
	t.Parallel()

	pages := map[string]Page{"http://root": {}}
	root := pages["http://root"]
	for i := 0; i < 32; i++ {
		url := "http://leaf/" + strconv.Itoa(i)
		root.Links = append(root.Links, url)
		pages[url] = Page{WordCounts: map[string]int{"leaf": 1}}
	}
	pages["http://root"] = root
	parser := newFakeParser(pages)
	parser.delay = 5 * time.Millisecond

	cfg := testConfig()
	cfg.Parallelism = 2
	c := newTestCrawler(t, cfg, parser)
	require.Equal(t, min(2, runtime.NumCPU()), c.Parallelism())

	res, err := c.Crawl(context.Background(), []string{"http://root"})
	require.NoError(t, err)
	require.Equal(t, 33, res.URLsVisited)
	require.Equal(t, []WordCount{{Word: "leaf", Count: 32}}, res.WordCounts)
	require.LessOrEqual(t, int(parser.maxInFlight.Load()), c.Parallelism())
}

func TestParallelCrawlerTopKApplied(t *testing.T) {
	t.Parallel()

	cfg := testConfig()
	cfg.PopularWordCount = 2
	c := newTestCrawler(t, cfg, newFakeParser(diamondPages()))

	res, err := c.Crawl(context.Background(), []string{"http://a"})
	require.NoError(t, err)
	require.Equal(t, []WordCount{{Word: "apple", Count: 4}, {Word: "cherry", Count: 3}}, res.WordCounts)
	require.Equal(t, 4, res.URLsVisited)
}

func TestParallelCrawlerUsesFreshVisitedSetPerCrawl(t *testing.T) {
	t.Parallel()

	parser := newFakeParser(diamondPages())
	c := newTestCrawler(t, testConfig(), parser)

	first, err := c.Crawl(context.Background(), []string{"http://a"})
	require.NoError(t, err)
	second, err := c.Crawl(context.Background(), []string{"http://a"})
	require.NoError(t, err)
	require.Equal(t, first.URLsVisited, second.URLsVisited)
	require.Equal(t, 2, parser.callCount("http://a"))
}

func TestNewParallelCrawlerRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{name: "negative depth", mutate: func(c *Config) { c.MaxDepth = -1 }, want: "max_depth"},
		{name: "negative word count", mutate: func(c *Config) { c.PopularWordCount = -1 }, want: "popular_word_count"},
		{name: "zero parallelism", mutate: func(c *Config) { c.Parallelism = 0 }, want: "parallelism"},
		{name: "zero timeout", mutate: func(c *Config) { c.Timeout = 0 }, want: "timeout"},
		{name: "bad pattern", mutate: func(c *Config) { c.IgnoredURLs = []string{"("} }, want: "ignored_urls"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := testConfig()
			tt.mutate(&cfg)
			_, err := NewParallelCrawler(cfg, newFakeParser(nil))
			require.ErrorIs(t, err, ErrInvalidConfig)
			require.Contains(t, err.Error(), tt.want)
		})
	}

	_, err := NewParallelCrawler(testConfig(), nil)
	require.ErrorIs(t, err, ErrInvalidConfig)
}

func TestCrawlIDFromContext(t *testing.T) {
	t.Parallel()

	_, ok := CrawlIDFromContext(context.Background())
	require.False(t, ok)

	id, ok := CrawlIDFromContext(WithCrawlID(context.Background(), "crawl-1"))
	require.True(t, ok)
	require.Equal(t, "crawl-1", id)
}
