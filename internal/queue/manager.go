// Package queue manages the ordered processing queue. Positions are dense,
// 1-based and unique; every mutation keeps that invariant.
package queue

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/manual"
	"github.com/mechdocs/harvester/internal/metrics"
)

// Store is the persistence surface the queue manager drives. Each mutation
// is atomic at the store level.
type Store interface {
	QueueAdd(ctx context.Context, id int64) error
	QueueRemove(ctx context.Context, id int64) error
	QueueMove(ctx context.Context, id int64, target int) error
	QueueList(ctx context.Context) ([]manual.Item, error)
	QueueLen(ctx context.Context) (int, error)
	NextQueued(ctx context.Context) (manual.Item, error)
	GetItem(ctx context.Context, id int64) (manual.Item, error)
}

// Manager serializes queue mutations so interleaved reorder requests cannot
// observe each other's intermediate shifts.
type Manager struct {
	mu     sync.Mutex
	store  Store
	logger *zap.Logger
}

// NewManager wires a queue manager over the given store.
func NewManager(store Store, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Manager{store: store, logger: logger.Named("queue")}
}

// Add appends an item at the tail of the queue.
func (m *Manager) Add(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.QueueAdd(ctx, id); err != nil {
		return fmt.Errorf("queue add: %w", err)
	}
	m.publishDepth(ctx)
	m.logger.Debug("item queued", zap.Int64("item_id", id))
	return nil
}

// Remove takes an item out of the queue, compacting the positions behind it.
func (m *Manager) Remove(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.QueueRemove(ctx, id); err != nil {
		return fmt.Errorf("queue remove: %w", err)
	}
	m.publishDepth(ctx)
	m.logger.Debug("item dequeued", zap.Int64("item_id", id))
	return nil
}

// MoveUp moves an item one slot toward the head. At the head it is a no-op.
func (m *Manager) MoveUp(ctx context.Context, id int64) error {
	return m.moveRelative(ctx, id, -1)
}

// MoveDown moves an item one slot toward the tail. At the tail it is a no-op.
func (m *Manager) MoveDown(ctx context.Context, id int64) error {
	return m.moveRelative(ctx, id, +1)
}

// MoveTo places an item at an absolute position; out-of-range targets clamp
// to the nearest end.
func (m *Manager) MoveTo(ctx context.Context, id int64, target int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.store.QueueMove(ctx, id, target); err != nil {
		return fmt.Errorf("queue move: %w", err)
	}
	return nil
}

func (m *Manager) moveRelative(ctx context.Context, id int64, delta int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.store.GetItem(ctx, id)
	if err != nil {
		return fmt.Errorf("queue move: %w", err)
	}
	if item.QueuePosition == nil {
		return fmt.Errorf("queue move: item %d: %w", id, manual.ErrNotQueued)
	}
	if err := m.store.QueueMove(ctx, id, *item.QueuePosition+delta); err != nil {
		return fmt.Errorf("queue move: %w", err)
	}
	return nil
}

// List returns the queue in position order.
func (m *Manager) List(ctx context.Context) ([]manual.Item, error) {
	return m.store.QueueList(ctx)
}

// Len returns the current queue depth.
func (m *Manager) Len(ctx context.Context) (int, error) {
	return m.store.QueueLen(ctx)
}

// NextForProcessing returns the head-most waiting item without claiming it.
// The consumer stamps the downloading state once work begins; until then the
// item remains visible here. manual.ErrNotFound means nothing is waiting.
func (m *Manager) NextForProcessing(ctx context.Context) (manual.Item, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item, err := m.store.NextQueued(ctx)
	if err != nil {
		return manual.Item{}, err
	}
	return item, nil
}

func (m *Manager) publishDepth(ctx context.Context) {
	n, err := m.store.QueueLen(ctx)
	if err != nil {
		return
	}
	metrics.SetQueueDepth(n)
}
