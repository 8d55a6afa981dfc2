package sinks

import (
	"context"

	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-webcrawler/internal/progress"
)

// LogSink writes each progress event as a structured debug log.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink wires a Zap logger to the sink interface.
func NewLogSink(logger *zap.Logger) *LogSink {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &LogSink{logger: logger}
}

// Consume logs each event in the batch.
func (s *LogSink) Consume(_ context.Context, batch []progress.Event) error {
	for _, evt := range batch {
		if ce := s.logger.Check(zap.DebugLevel, "progress event"); ce != nil {
			fields := []zap.Field{
				zap.String("crawl_id", evt.CrawlID),
				zap.String("stage", string(evt.Stage)),
				zap.Duration("dur", evt.Dur),
			}
			if evt.IsPage() {
				fields = append(fields,
					zap.String("site", evt.Site),
					zap.String("url", evt.URL),
					zap.Int("words", evt.Words),
					zap.Int("links", evt.Links),
				)
			} else if evt.Stage == progress.StageCrawlDone {
				fields = append(fields, zap.Int("visited", evt.Visited))
			}
			if evt.Note != "" {
				fields = append(fields, zap.String("note", evt.Note))
			}
			ce.Write(fields...)
		}
	}
	return nil
}

// Close implements the Sink interface; it performs no action.
func (s *LogSink) Close(context.Context) error {
	return nil
}
