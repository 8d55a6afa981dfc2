package progress

import (
	"context"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
	"github.com/JakeFAU/parallel-webcrawler/internal/metrics"
)

// WrapParser reports a PAGE_DONE or PAGE_ERROR event for every Parse call
// made under a context carrying a crawl ID. Calls without one pass through
// silently.
func WrapParser(emitter Emitter, delegate crawler.PageParser, clock crawler.Clock) crawler.PageParser {
	if emitter == nil {
		return delegate
	}
	return &reportingParser{emitter: emitter, delegate: delegate, clock: clock}
}

type reportingParser struct {
	emitter  Emitter
	delegate crawler.PageParser
	clock    crawler.Clock
}

func (p *reportingParser) Parse(ctx context.Context, url string) (crawler.Page, error) {
	crawlID, ok := crawler.CrawlIDFromContext(ctx)
	if !ok {
		return p.delegate.Parse(ctx, url)
	}
	start := p.clock.Now()
	page, err := p.delegate.Parse(ctx, url)
	end := p.clock.Now()
	evt := Event{
		CrawlID: crawlID,
		TS:      end.UTC(),
		Stage:   StagePageDone,
		Site:    metrics.SanitizeSite(url),
		URL:     url,
		Dur:     max(end.Sub(start), 0),
	}
	if err != nil {
		evt.Stage = StagePageError
		evt.Note = err.Error()
	} else {
		evt.Words = len(page.WordCounts)
		evt.Links = len(page.Links)
	}
	p.emitter.Emit(evt)
	return page, err
}
