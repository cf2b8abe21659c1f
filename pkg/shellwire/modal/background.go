package modal

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/tsarna/shellwire/pkg/shellwire/o11y"
)

// Background runs work started by a modal after it has already been dismissed, such as
// queueing uninstalls once the user confirmed. Failures are logged and counted; there
// is no dialog left to report them to.
type Background struct {
	logger  *zap.Logger
	metrics *o11y.Instruments
	group   errgroup.Group
	ctx     context.Context
	cancel  context.CancelFunc
}

// NewBackground creates a runner with at most limit tasks in flight.
func NewBackground(logger *zap.Logger, limit int, metrics *o11y.Instruments) *Background {
	if logger == nil {
		logger = zap.NewNop()
	}
	if metrics == nil {
		metrics = &o11y.Instruments{}
	}

	ctx, cancel := context.WithCancel(context.Background())
	b := &Background{
		logger:  logger,
		metrics: metrics,
		ctx:     ctx,
		cancel:  cancel,
	}
	b.group.SetLimit(limit)
	return b
}

// Go starts task, blocking while the limit is reached. The task's context is cancelled
// by Close.
func (b *Background) Go(name string, task func(ctx context.Context) error) {
	b.group.Go(func() (err error) {
		defer func() {
			if r := recover(); r != nil {
				err = fmt.Errorf("panic: %v", r)
			}
			if err != nil {
				b.logger.Warn("Background task failed", zap.String("task", name), zap.Error(err))
				o11y.Inc(b.ctx, b.metrics.BackgroundErrors, o11y.Label{Key: "task", Value: name})
			}
			err = nil
		}()
		return task(b.ctx)
	})
}

// Wait blocks until every started task has finished.
func (b *Background) Wait() {
	_ = b.group.Wait()
}

// Close cancels running tasks and waits for them.
func (b *Background) Close() {
	b.cancel()
	b.Wait()
}
