// Package collyparser implements crawler.PageParser using gocolly.
package collyparser

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"regexp"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
)

const defaultTimeout = 15 * time.Second

// Config controls collector behavior.
type Config struct {
	UserAgent    string
	Timeout      time.Duration
	MaxBodyBytes int
	IgnoredWords []string
}

// Parser implements crawler.PageParser using the Colly collector. Every
// Parse call runs on its own clone of a shared base collector.
type Parser struct {
	baseCollector *colly.Collector
	ignoredWords  []*regexp.Regexp
	logger        *zap.Logger
}

type collectorHooks interface {
	OnHTML(string, colly.HTMLCallback)
	OnError(colly.ErrorCallback)
}

// New builds a Parser. It fails when an ignored word pattern does not compile.
func New(cfg Config, logger *zap.Logger) (*Parser, error) {
	ignored, err := crawler.CompilePatterns(cfg.IgnoredWords)
	if err != nil {
		return nil, fmt.Errorf("compile ignored words: %w", err)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	c := colly.NewCollector(colly.Async(false))
	c.IgnoreRobotsTxt = true
	// The crawl's visited set decides what gets fetched, not colly's store.
	c.AllowURLRevisit = true
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.MaxBodyBytes > 0 {
		c.MaxBodySize = cfg.MaxBodyBytes
	}
	c.WithTransport(newHTTPTransport())
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultTimeout
	}
	c.SetRequestTimeout(timeout)

	return &Parser{
		baseCollector: c,
		ignoredWords:  ignored,
		logger:        logger,
	}, nil
}

// Parse downloads rawURL and returns its outbound links and word counts.
func (p *Parser) Parse(ctx context.Context, rawURL string) (crawler.Page, error) {
	var (
		page     = crawler.Page{WordCounts: map[string]int{}}
		fetchErr error
	)
	collector := p.baseCollector.Clone()
	p.configureCollectorHooks(collector, &page, &fetchErr)

	if err := p.runCollector(ctx, collector, rawURL, &fetchErr); err != nil {
		return crawler.Page{}, err
	}
	p.logger.Debug("page parsed",
		zap.String("url", rawURL),
		zap.Int("links", len(page.Links)),
		zap.Int("words", len(page.WordCounts)),
	)
	return page, nil
}

func (p *Parser) configureCollectorHooks(hooks collectorHooks, page *crawler.Page, fetchErr *error) {
	seen := make(map[string]struct{})
	hooks.OnHTML("a[href]", func(e *colly.HTMLElement) {
		link := normalizeLink(e.Request.AbsoluteURL(e.Attr("href")))
		if link == "" {
			return
		}
		if _, dup := seen[link]; dup {
			return
		}
		seen[link] = struct{}{}
		page.Links = append(page.Links, link)
	})

	hooks.OnHTML("body", func(e *colly.HTMLElement) {
		e.DOM.Find("script, style, noscript").Remove()
		crawler.MergeWordCounts(page.WordCounts, Tokenize(e.DOM.Text(), p.ignoredWords))
	})

	hooks.OnError(func(r *colly.Response, err error) {
		if r != nil && r.StatusCode != 0 {
			*fetchErr = fmt.Errorf("status %d: %w", r.StatusCode, err)
			return
		}
		*fetchErr = err
	})
}

func (p *Parser) runCollector(ctx context.Context, collector *colly.Collector, rawURL string, fetchErr *error) error {
	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(rawURL)
	}()

	select {
	case <-ctx.Done():
		return fmt.Errorf("colly parse canceled: %w", ctx.Err())
	case err := <-done:
		if *fetchErr != nil {
			return fmt.Errorf("colly response failed: %w", *fetchErr)
		}
		if err != nil {
			return fmt.Errorf("colly visit failed: %w", err)
		}
		return nil
	}
}

// normalizeLink keeps absolute http(s) links and drops their fragment.
func normalizeLink(raw string) string {
	if raw == "" {
		return ""
	}
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return ""
	}
	u.Fragment = ""
	return u.String()
}

func newHTTPTransport() *http.Transport {
	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}
