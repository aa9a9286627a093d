package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mechdocs/harvester/internal/manual"
)

// QueueAdd appends an item to the tail of the processing queue and advances
// it to the queued status. Re-adding an item that already holds a position
// keeps its slot and resets its processing state, so a claim left behind by a
// crashed consumer becomes claimable again.
func (s *Store) QueueAdd(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		item, err := itemForQueueTx(tx, ctx, id)
		if err != nil {
			return err
		}
		if item.pos.Valid {
			_, err = tx.ExecContext(ctx,
				`UPDATE items SET processing_state = ?, updated_at = ? WHERE id = ?`,
				manual.StateQueued, time.Now().UTC(), id)
			return err
		}
		// An item that was removed from the queue keeps the queued status, so
		// re-adding it is not a status transition.
		if item.status != manual.StatusQueued {
			if err := manual.ValidateTransition(item.status, manual.StatusQueued); err != nil {
				return err
			}
		}
		var max sql.NullInt64
		if err := tx.GetContext(ctx, &max, `SELECT MAX(queue_position) FROM items`); err != nil {
			return err
		}
		next := max.Int64 + 1
		_, err = tx.ExecContext(ctx,
			`UPDATE items SET queue_position = ?, status = ?, processing_state = ?, error_message = '', updated_at = ? WHERE id = ?`,
			next, manual.StatusQueued, manual.StateQueued, time.Now().UTC(), id)
		return err
	})
}

// QueueRemove takes an item out of the queue and compacts the positions
// behind it so they stay dense and 1-based.
func (s *Store) QueueRemove(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		item, err := itemForQueueTx(tx, ctx, id)
		if err != nil {
			return err
		}
		if !item.pos.Valid {
			return fmt.Errorf("item %d: %w", id, manual.ErrNotQueued)
		}
		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET queue_position = NULL, processing_state = '', updated_at = ? WHERE id = ?`,
			time.Now().UTC(), id); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE items SET queue_position = queue_position - 1 WHERE queue_position > ?`, item.pos.Int64)
		return err
	})
}

// QueueMove places an item at a target position, shifting the items between
// the old and new slots by one. Targets beyond the ends are clamped; moving
// to the current position is a no-op.
func (s *Store) QueueMove(ctx context.Context, id int64, target int) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		item, err := itemForQueueTx(tx, ctx, id)
		if err != nil {
			return err
		}
		if !item.pos.Valid {
			return fmt.Errorf("item %d: %w", id, manual.ErrNotQueued)
		}
		var count int
		if err := tx.GetContext(ctx, &count,
			`SELECT COUNT(1) FROM items WHERE queue_position IS NOT NULL`); err != nil {
			return err
		}
		if target < 1 {
			target = 1
		}
		if target > count {
			target = count
		}
		cur := int(item.pos.Int64)
		if target == cur {
			return nil
		}

		// Park the moving item outside the dense range, shift the gap, then
		// drop it into the target slot.
		if _, err := tx.ExecContext(ctx,
			`UPDATE items SET queue_position = NULL WHERE id = ?`, id); err != nil {
			return err
		}
		if target < cur {
			_, err = tx.ExecContext(ctx,
				`UPDATE items SET queue_position = queue_position + 1
				 WHERE queue_position >= ? AND queue_position < ?`, target, cur)
		} else {
			_, err = tx.ExecContext(ctx,
				`UPDATE items SET queue_position = queue_position - 1
				 WHERE queue_position > ? AND queue_position <= ?`, cur, target)
		}
		if err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE items SET queue_position = ?, updated_at = ? WHERE id = ?`,
			target, time.Now().UTC(), id)
		return err
	})
}

// QueueList returns the queued items in position order.
func (s *Store) QueueList(ctx context.Context) ([]manual.Item, error) {
	var items []manual.Item
	err := s.db.SelectContext(ctx, &items,
		`SELECT * FROM items WHERE queue_position IS NOT NULL ORDER BY queue_position`)
	if err != nil {
		return nil, fmt.Errorf("list queue: %w", err)
	}
	return items, nil
}

// QueueLen returns the number of items currently queued.
func (s *Store) QueueLen(ctx context.Context) (int, error) {
	var n int
	if err := s.db.GetContext(ctx, &n,
		`SELECT COUNT(1) FROM items WHERE queue_position IS NOT NULL`); err != nil {
		return 0, fmt.Errorf("queue length: %w", err)
	}
	return n, nil
}

// NextQueued returns the head-most item still waiting in the queued
// processing state. It does not mutate the item; the caller marks it
// downloading once work actually begins, so an unclaimed item stays visible
// to later calls. manual.ErrNotFound means the queue has no waiting items.
func (s *Store) NextQueued(ctx context.Context) (manual.Item, error) {
	var item manual.Item
	err := s.db.GetContext(ctx, &item,
		`SELECT * FROM items
		 WHERE queue_position IS NOT NULL AND processing_state = ?
		 ORDER BY queue_position LIMIT 1`, manual.StateQueued)
	if errors.Is(err, sql.ErrNoRows) {
		return manual.Item{}, manual.ErrNotFound
	}
	if err != nil {
		return manual.Item{}, fmt.Errorf("next queued: %w", err)
	}
	return item, nil
}

// SetProcessingState updates the queue-phase marker for an item. Downloading
// stamps the start time; completed and failed stamp the completion time.
func (s *Store) SetProcessingState(ctx context.Context, id int64, state manual.ProcessingState) error {
	return s.withRetry(ctx, func() error {
		now := time.Now().UTC()
		var (
			res sql.Result
			err error
		)
		switch state {
		case manual.StateDownloading:
			res, err = s.db.ExecContext(ctx,
				`UPDATE items SET processing_state = ?, processing_started_at = ?, updated_at = ? WHERE id = ?`,
				state, now, now, id)
		case manual.StateCompleted, manual.StateFailed:
			res, err = s.db.ExecContext(ctx,
				`UPDATE items SET processing_state = ?, processing_completed_at = ?, updated_at = ? WHERE id = ?`,
				state, now, now, id)
		default:
			res, err = s.db.ExecContext(ctx,
				`UPDATE items SET processing_state = ?, updated_at = ? WHERE id = ?`,
				state, now, id)
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("item %d: %w", id, manual.ErrNotFound)
		}
		return nil
	})
}

type queueRow struct {
	status manual.Status
	pos    sql.NullInt64
}

func itemForQueueTx(tx *sqlx.Tx, ctx context.Context, id int64) (queueRow, error) {
	var row struct {
		Status manual.Status `db:"status"`
		Pos    sql.NullInt64 `db:"queue_position"`
	}
	err := tx.GetContext(ctx, &row, `SELECT status, queue_position FROM items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return queueRow{}, fmt.Errorf("item %d: %w", id, manual.ErrNotFound)
	}
	if err != nil {
		return queueRow{}, err
	}
	return queueRow{status: row.Status, pos: row.Pos}, nil
}
