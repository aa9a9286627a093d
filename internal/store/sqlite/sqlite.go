// Package sqlite implements the persistent store on an embedded SQLite
// database. One process owns the file; writes are serialized through a
// single connection and retried on transient lock contention.
package sqlite

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/jmoiron/sqlx"
	sqlite3 "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

const schema = `
CREATE TABLE IF NOT EXISTS items (
	id                      INTEGER PRIMARY KEY AUTOINCREMENT,
	url                     TEXT NOT NULL,
	source_site             TEXT NOT NULL DEFAULT '',
	title                   TEXT NOT NULL DEFAULT '',
	discovered_at           TIMESTAMP NOT NULL,
	size_bytes              INTEGER NOT NULL DEFAULT 0,
	job_id                  TEXT NOT NULL DEFAULT '',
	status                  TEXT NOT NULL DEFAULT 'pending',
	processing_state        TEXT NOT NULL DEFAULT '',
	queue_position          INTEGER,
	pdf_path                TEXT NOT NULL DEFAULT '',
	description             TEXT NOT NULL DEFAULT '',
	tags                    TEXT NOT NULL DEFAULT '',
	resources_path          TEXT NOT NULL DEFAULT '',
	error_message           TEXT NOT NULL DEFAULT '',
	created_at              TIMESTAMP NOT NULL,
	updated_at              TIMESTAMP NOT NULL,
	processing_started_at   TIMESTAMP,
	processing_completed_at TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS idx_items_url ON items(url);
CREATE INDEX IF NOT EXISTS idx_items_status ON items(status);
CREATE INDEX IF NOT EXISTS idx_items_queue_position ON items(queue_position);

CREATE TABLE IF NOT EXISTS scraped_sites (
	domain           TEXT PRIMARY KEY,
	first_scraped_at TIMESTAMP NOT NULL,
	last_scraped_at  TIMESTAMP NOT NULL,
	scrape_count     INTEGER NOT NULL DEFAULT 0,
	status           TEXT NOT NULL DEFAULT 'active'
);

CREATE TABLE IF NOT EXISTS crawl_jobs (
	id           TEXT PRIMARY KEY,
	status       TEXT NOT NULL,
	submitted_at TIMESTAMP NOT NULL,
	started_at   TIMESTAMP,
	finished_at  TIMESTAMP,
	error_text   TEXT NOT NULL DEFAULT '',
	options_json TEXT NOT NULL DEFAULT '{}',
	summary_json TEXT NOT NULL DEFAULT '{}'
);
CREATE INDEX IF NOT EXISTS idx_crawl_jobs_submitted ON crawl_jobs(submitted_at);
`

// Config controls how the database is opened.
type Config struct {
	// Path is the database file; ":memory:" opens a throwaway in-memory DB.
	Path string
	// BusyTimeout is handed to the driver as the busy handler timeout.
	BusyTimeout time.Duration
	// MaxRetries bounds our own retry loop on top of the driver timeout.
	MaxRetries int
	Logger     *zap.Logger
}

// Store is the SQLite-backed implementation of the persistence interfaces.
type Store struct {
	db         *sqlx.DB
	logger     *zap.Logger
	maxRetries int
}

// Open opens (creating if needed) the database and applies the schema.
func Open(cfg Config) (*Store, error) {
	if cfg.Path == "" {
		return nil, errors.New("sqlite: empty database path")
	}
	if cfg.BusyTimeout <= 0 {
		cfg.BusyTimeout = 5 * time.Second
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = 5
	}
	if cfg.Logger == nil {
		cfg.Logger = zap.NewNop()
	}

	if cfg.Path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
			return nil, fmt.Errorf("create database directory: %w", err)
		}
	}

	dsn := fmt.Sprintf("file:%s?_busy_timeout=%d&_journal_mode=WAL&_foreign_keys=on",
		cfg.Path, cfg.BusyTimeout.Milliseconds())
	db, err := sqlx.Connect("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single connection serializes writers and keeps in-memory databases
	// from silently splitting into independent stores.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("apply schema: %w", err)
	}

	return &Store{
		db:         db,
		logger:     cfg.Logger.Named("sqlite"),
		maxRetries: cfg.MaxRetries,
	}, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	return s.db.Close()
}

// withRetry runs fn, retrying with linear backoff while the database reports
// busy or locked. Other errors pass through immediately.
func (s *Store) withRetry(ctx context.Context, fn func() error) error {
	var err error
	for attempt := 0; attempt <= s.maxRetries; attempt++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		delay := time.Duration(attempt+1) * 50 * time.Millisecond
		s.logger.Debug("database busy, retrying",
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
		)
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return fmt.Errorf("database busy after %d retries: %w", s.maxRetries, err)
}

// inTx runs fn inside a transaction with busy retry around the whole unit.
func (s *Store) inTx(ctx context.Context, fn func(tx *sqlx.Tx) error) error {
	return s.withRetry(ctx, func() error {
		tx, err := s.db.BeginTxx(ctx, nil)
		if err != nil {
			return err
		}
		if err := fn(tx); err != nil {
			_ = tx.Rollback()
			return err
		}
		return tx.Commit()
	})
}

func isBusy(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.Code == sqlite3.ErrBusy || sqliteErr.Code == sqlite3.ErrLocked
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique ||
		sqliteErr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey
}
