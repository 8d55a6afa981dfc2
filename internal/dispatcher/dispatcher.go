// Package dispatcher hands queued crawls to a pool of long-lived runners.
package dispatcher

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/JakeFAU/parallel-webcrawler/internal/clock/system"
	"github.com/JakeFAU/parallel-webcrawler/internal/crawler"
)

// ErrMissingJobID rejects queue items that cannot be tracked in the job store.
var ErrMissingJobID = errors.New("queue item has no job id")

// Runner consumes crawl jobs until its context ends, typically a worker.
type Runner interface {
	Run(ctx context.Context)
}

// Dispatcher owns the crawl queue's producer side and its runners.
type Dispatcher struct {
	queue   crawler.Queue
	runners []Runner
	clock   crawler.Clock
	logger  *zap.Logger
}

// New creates a Dispatcher. A nil clock uses the system clock and a nil
// logger discards output.
func New(queue crawler.Queue, runners []Runner, clock crawler.Clock, logger *zap.Logger) *Dispatcher {
	if clock == nil {
		clock = system.Clock{}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Dispatcher{
		queue:   queue,
		runners: runners,
		clock:   clock,
		logger:  logger,
	}
}

// Run starts every runner and blocks until ctx ends and all of them have
// returned.
func (d *Dispatcher) Run(ctx context.Context) {
	d.logger.Info("dispatcher started", zap.Int("runners", len(d.runners)))
	// Runners report nothing; the group only joins them.
	var g errgroup.Group
	for _, r := range d.runners {
		g.Go(func() error {
			r.Run(ctx)
			return nil
		})
	}
	<-ctx.Done()
	g.Wait() //nolint:errcheck // always nil
	d.logger.Info("dispatcher stopped", zap.NamedError("cause", context.Cause(ctx)))
}

// Enqueue queues one crawl. Items without a submission time are stamped with
// the dispatcher's clock.
func (d *Dispatcher) Enqueue(ctx context.Context, item crawler.QueueItem) error {
	if item.JobID == "" {
		return ErrMissingJobID
	}
	if item.Submitted == 0 {
		item.Submitted = d.clock.Now().Unix()
	}
	if err := d.queue.Enqueue(ctx, item); err != nil {
		d.logger.Warn("crawl not queued", zap.String("crawl_id", item.JobID), zap.Error(err))
		return fmt.Errorf("queue enqueue %s: %w", item.JobID, err)
	}
	d.logger.Debug("crawl queued",
		zap.String("crawl_id", item.JobID),
		zap.Int("start_pages", len(item.Params.StartPages)),
	)
	return nil
}
