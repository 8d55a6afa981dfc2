package crawler

import (
	"go.uber.org/zap"

	"github.com/JakeFAU/parallel-webcrawler/internal/clock/system"
)

// Option customizes a crawler.
type Option func(*options)

type options struct {
	clock   Clock
	visited VisitedSetFactory
	logger  *zap.Logger
}

// WithClock overrides the wall clock used for the deadline.
func WithClock(c Clock) Option {
	return func(o *options) {
		if c != nil {
			o.clock = c
		}
	}
}

// WithVisitedSetFactory overrides the in-memory visited set.
func WithVisitedSetFactory(f VisitedSetFactory) Option {
	return func(o *options) {
		if f != nil {
			o.visited = f
		}
	}
}

// WithLogger sets the logger used for crawl diagnostics.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.logger = l
		}
	}
}

func buildOptions(opts []Option) options {
	o := options{
		clock:   system.New(),
		visited: NewMemoryVisitedSetFactory,
		logger:  zap.NewNop(),
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
