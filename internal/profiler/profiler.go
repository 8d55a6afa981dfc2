// Package profiler records how long wrapped crawler calls take and reports
// the accumulated totals per method.
package profiler

import (
	"context"
	"fmt"
	"io"
	"os"
	"sort"
	"sync"
	"time"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/metrics"
)

// Profiler accumulates call durations keyed by "<type>#<method>".
type Profiler struct {
	clock   crawler.Clock
	started time.Time

	mu     sync.Mutex
	totals map[string]time.Duration
}

// New creates a Profiler whose run starts now according to clock.
func New(clock crawler.Clock) *Profiler {
	return &Profiler{
		clock:   clock,
		started: clock.Now(),
		totals:  make(map[string]time.Duration),
	}
}

// WrapCrawler returns a WebCrawler that profiles Crawl on delegate.
func (p *Profiler) WrapCrawler(delegate crawler.WebCrawler) crawler.WebCrawler {
	return &profiledCrawler{
		delegate: delegate,
		key:      methodKey(delegate, "Crawl"),
		profiler: p,
	}
}

// WrapParser returns a PageParser that profiles Parse on delegate.
func (p *Profiler) WrapParser(delegate crawler.PageParser) crawler.PageParser {
	return &profiledParser{
		delegate: delegate,
		key:      methodKey(delegate, "Parse"),
		profiler: p,
	}
}

// record adds the time elapsed since start to key. The call is recorded
// whether or not it returned an error.
func (p *Profiler) record(key string, start time.Time) {
	elapsed := p.clock.Now().Sub(start)
	p.mu.Lock()
	p.totals[key] += elapsed
	p.mu.Unlock()
	metrics.ObserveProfiledCall(key, elapsed)
}

// Totals returns a copy of the accumulated durations.
func (p *Profiler) Totals() map[string]time.Duration {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]time.Duration, len(p.totals))
	for k, v := range p.totals {
		out[k] = v
	}
	return out
}

// WriteData writes a "Run at" header followed by one line per method,
// sorted by method name, and a trailing blank line.
func (p *Profiler) WriteData(w io.Writer) error {
	totals := p.Totals()
	keys := make([]string, 0, len(totals))
	for k := range totals {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	if _, err := fmt.Fprintf(w, "Run at %s\n", p.started.Format(time.RFC1123)); err != nil {
		return fmt.Errorf("write profile header: %w", err)
	}
	for _, k := range keys {
		if _, err := fmt.Fprintln(w, formatLine(k, totals[k])); err != nil {
			return fmt.Errorf("write profile line: %w", err)
		}
	}
	if _, err := fmt.Fprintln(w); err != nil {
		return fmt.Errorf("write profile trailer: %w", err)
	}
	return nil
}

// WriteFile appends the profile data to path, creating it if needed.
func (p *Profiler) WriteFile(path string) (err error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("open profile file: %w", err)
	}
	defer func() {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = fmt.Errorf("close profile file: %w", cerr)
		}
	}()
	return p.WriteData(f)
}

func formatLine(key string, d time.Duration) string {
	minutes := int64(d / time.Minute)
	seconds := int64((d % time.Minute) / time.Second)
	millis := int64((d % time.Second) / time.Millisecond)
	return fmt.Sprintf("%s took %dm %ds %dms", key, minutes, seconds, millis)
}

func methodKey(delegate any, method string) string {
	return fmt.Sprintf("%T#%s", delegate, method)
}

type profiledCrawler struct {
	delegate crawler.WebCrawler
	key      string
	profiler *Profiler
}

func (c *profiledCrawler) Crawl(ctx context.Context, startingURLs []string) (crawler.Result, error) {
	defer c.profiler.record(c.key, c.profiler.clock.Now())
	return c.delegate.Crawl(ctx, startingURLs)
}

func (c *profiledCrawler) MaxParallelism() int {
	return c.delegate.MaxParallelism()
}

type profiledParser struct {
	delegate crawler.PageParser
	key      string
	profiler *Profiler
}

func (p *profiledParser) Parse(ctx context.Context, url string) (crawler.Page, error) {
	defer p.profiler.record(p.key, p.profiler.clock.Now())
	return p.delegate.Parse(ctx, url)
}
