package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/mechdocs/harvester/internal/manual"
)

// GetItem fetches one item by ID.
func (s *Store) GetItem(ctx context.Context, id int64) (manual.Item, error) {
	var item manual.Item
	err := s.db.GetContext(ctx, &item, `SELECT * FROM items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return manual.Item{}, fmt.Errorf("item %d: %w", id, manual.ErrNotFound)
	}
	if err != nil {
		return manual.Item{}, fmt.Errorf("get item: %w", err)
	}
	return item, nil
}

// ListItems returns items filtered by status; an empty status means all.
// Results are newest-first.
func (s *Store) ListItems(ctx context.Context, status manual.Status, limit int) ([]manual.Item, error) {
	if limit <= 0 {
		limit = 100
	}
	var (
		items []manual.Item
		err   error
	)
	if status == "" {
		err = s.db.SelectContext(ctx, &items,
			`SELECT * FROM items ORDER BY discovered_at DESC, id DESC LIMIT ?`, limit)
	} else {
		err = s.db.SelectContext(ctx, &items,
			`SELECT * FROM items WHERE status = ? ORDER BY discovered_at DESC, id DESC LIMIT ?`, status, limit)
	}
	if err != nil {
		return nil, fmt.Errorf("list items: %w", err)
	}
	return items, nil
}

// CountByStatus returns item counts grouped by status.
func (s *Store) CountByStatus(ctx context.Context) (map[manual.Status]int, error) {
	rows := []struct {
		Status manual.Status `db:"status"`
		N      int           `db:"n"`
	}{}
	if err := s.db.SelectContext(ctx, &rows,
		`SELECT status, COUNT(1) AS n FROM items GROUP BY status`); err != nil {
		return nil, fmt.Errorf("count items: %w", err)
	}
	counts := make(map[manual.Status]int, len(rows))
	for _, r := range rows {
		counts[r.Status] = r.N
	}
	return counts, nil
}

// UpdateItemStatus validates the transition against the current row inside a
// transaction, so concurrent actors cannot race an item into an illegal state.
func (s *Store) UpdateItemStatus(ctx context.Context, id int64, to manual.Status) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		from, err := itemStatusTx(tx, ctx, id)
		if err != nil {
			return err
		}
		if err := manual.ValidateTransition(from, to); err != nil {
			return err
		}
		return setStatusTx(tx, ctx, id, to, "")
	})
}

// SetItemError moves an item into the error status with a message, subject
// to the same transition validation (only in-flight items can fail).
func (s *Store) SetItemError(ctx context.Context, id int64, msg string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		from, err := itemStatusTx(tx, ctx, id)
		if err != nil {
			return err
		}
		if err := manual.ValidateTransition(from, manual.StatusError); err != nil {
			return err
		}
		return setStatusTx(tx, ctx, id, manual.StatusError, msg)
	})
}

// SetItemDownloaded records the local PDF path and advances the item to the
// downloaded status.
func (s *Store) SetItemDownloaded(ctx context.Context, id int64, pdfPath string) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		from, err := itemStatusTx(tx, ctx, id)
		if err != nil {
			return err
		}
		if err := manual.ValidateTransition(from, manual.StatusDownloaded); err != nil {
			return err
		}
		_, err = tx.ExecContext(ctx,
			`UPDATE items SET status = ?, pdf_path = ?, error_message = '', updated_at = ? WHERE id = ?`,
			manual.StatusDownloaded, pdfPath, time.Now().UTC(), id)
		return err
	})
}

// SetItemPDFPath records the local PDF path without touching the status.
// Used when the download happens inside the queue consumer.
func (s *Store) SetItemPDFPath(ctx context.Context, id int64, pdfPath string) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE items SET pdf_path = ?, updated_at = ? WHERE id = ?`,
			pdfPath, time.Now().UTC(), id)
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

// SetItemEnrichment stores the enrichment outputs for a processed item.
func (s *Store) SetItemEnrichment(ctx context.Context, id int64, e manual.Enrichment) error {
	return s.withRetry(ctx, func() error {
		res, err := s.db.ExecContext(ctx,
			`UPDATE items SET description = ?, tags = ?, resources_path = ?, updated_at = ? WHERE id = ?`,
			e.Description, strings.Join(e.Tags, ","), e.ResourcesPath, time.Now().UTC(), id)
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

// DeleteItem removes an item, compacting the queue when it held a position.
func (s *Store) DeleteItem(ctx context.Context, id int64) error {
	return s.inTx(ctx, func(tx *sqlx.Tx) error {
		var pos sql.NullInt64
		err := tx.GetContext(ctx, &pos, `SELECT queue_position FROM items WHERE id = ?`, id)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("item %d: %w", id, manual.ErrNotFound)
		}
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM items WHERE id = ?`, id); err != nil {
			return err
		}
		if pos.Valid {
			if _, err := tx.ExecContext(ctx,
				`UPDATE items SET queue_position = queue_position - 1 WHERE queue_position > ?`, pos.Int64); err != nil {
				return err
			}
		}
		return nil
	})
}

func itemStatusTx(tx *sqlx.Tx, ctx context.Context, id int64) (manual.Status, error) {
	var status manual.Status
	err := tx.GetContext(ctx, &status, `SELECT status FROM items WHERE id = ?`, id)
	if errors.Is(err, sql.ErrNoRows) {
		return "", fmt.Errorf("item %d: %w", id, manual.ErrNotFound)
	}
	if err != nil {
		return "", err
	}
	return status, nil
}

func setStatusTx(tx *sqlx.Tx, ctx context.Context, id int64, to manual.Status, errMsg string) error {
	_, err := tx.ExecContext(ctx,
		`UPDATE items SET status = ?, error_message = ?, updated_at = ? WHERE id = ?`,
		to, errMsg, time.Now().UTC(), id)
	return err
}
