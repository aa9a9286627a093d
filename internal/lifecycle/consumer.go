package lifecycle

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/manual"
)

// Consumer polls the processing queue and runs waiting items through the
// lifecycle manager, one at a time in queue order.
type Consumer struct {
	manager *Manager
	logger  *zap.Logger
	poll    time.Duration
}

// NewConsumer builds a Consumer polling at the given interval.
func NewConsumer(manager *Manager, poll time.Duration, logger *zap.Logger) *Consumer {
	if poll <= 0 {
		poll = 5 * time.Second
	}
	return &Consumer{
		manager: manager,
		logger:  logger.Named("consumer"),
		poll:    poll,
	}
}

// Run blocks until ctx is canceled, draining the queue whenever items are
// waiting and sleeping for the poll interval when it is empty.
func (c *Consumer) Run(ctx context.Context) {
	c.logger.Info("queue consumer started", zap.Duration("poll", c.poll))
	ticker := time.NewTicker(c.poll)
	defer ticker.Stop()

	for {
		c.drain(ctx)
		select {
		case <-ctx.Done():
			c.logger.Info("queue consumer stopped")
			return
		case <-ticker.C:
		}
	}
}

// drain processes items until the queue is empty or ctx is canceled.
func (c *Consumer) drain(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}
		item, err := c.manager.ProcessNext(ctx)
		if errors.Is(err, manual.ErrNotFound) {
			return
		}
		if err != nil {
			c.logger.Error("queue item processing error", zap.Error(err))
			return
		}
		c.logger.Info("queue item finished",
			zap.Int64("item_id", item.ID),
			zap.String("status", string(item.Status)),
		)
	}
}
