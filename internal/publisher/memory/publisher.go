// Package memory keeps completion notices in process. It backs
// pubsub.provider=memory, where notices are logged and can be listed
// instead of leaving the machine.
package memory

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
)

// Notice is a completion notice together with the topic it was sent to.
type Notice struct {
	ID     string
	Topic  string
	Notice crawler.CompletionNotice
}

// Publisher records completion notices.
type Publisher struct {
	logger *zap.Logger

	mu      sync.RWMutex
	notices []Notice
}

// New returns an empty Publisher. A nil logger disables logging.
func New(logger *zap.Logger) *Publisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Publisher{logger: logger}
}

// Publish records payload, which must be a crawler.CompletionNotice or a
// pointer to one, and returns a sequential ID.
func (p *Publisher) Publish(_ context.Context, topic string, payload any) (string, error) {
	var notice crawler.CompletionNotice
	switch v := payload.(type) {
	case crawler.CompletionNotice:
		notice = v
	case *crawler.CompletionNotice:
		if v == nil {
			return "", fmt.Errorf("memory publisher: nil completion notice")
		}
		notice = *v
	default:
		return "", fmt.Errorf("memory publisher: unsupported payload %T", payload)
	}

	p.mu.Lock()
	id := fmt.Sprintf("memory-%d", len(p.notices)+1)
	p.notices = append(p.notices, Notice{ID: id, Topic: topic, Notice: notice})
	p.mu.Unlock()

	p.logger.Info("completion notice",
		zap.String("message_id", id),
		zap.String("topic", topic),
		zap.String("crawl_id", notice.CrawlID),
		zap.Int("urls_visited", notice.URLsVisited),
		zap.String("archive_uri", notice.ArchiveURI),
	)
	return id, nil
}

// Notices returns a copy of everything published so far, oldest first.
func (p *Publisher) Notices() []Notice {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return append([]Notice(nil), p.notices...)
}

// ForCrawl returns the notices published for crawlID.
func (p *Publisher) ForCrawl(crawlID string) []Notice {
	p.mu.RLock()
	defer p.mu.RUnlock()
	var out []Notice
	for _, n := range p.notices {
		if n.Notice.CrawlID == crawlID {
			out = append(out, n)
		}
	}
	return out
}
