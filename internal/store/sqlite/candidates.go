package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mechdocs/harvester/internal/manual"
)

// SaveIfNew inserts a discovered candidate as a pending item. The unique
// index on url makes the insert idempotent; a collision reports Duplicate.
func (s *Store) SaveIfNew(ctx context.Context, c manual.Candidate) (manual.SaveOutcome, error) {
	now := time.Now().UTC()
	const q = `
		INSERT INTO items (url, source_site, title, discovered_at, size_bytes, job_id, status, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`

	var outcome manual.SaveOutcome
	err := s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q,
			c.URL, c.SourceSite, c.Title, c.DiscoveredAt.UTC(), c.SizeBytes, c.JobID,
			manual.StatusPending, now, now,
		)
		if isUniqueViolation(err) {
			outcome = manual.Duplicate
			return nil
		}
		if err != nil {
			return err
		}
		outcome = manual.Saved
		return nil
	})
	if err != nil {
		return manual.SaveError, fmt.Errorf("save candidate: %w", err)
	}
	return outcome, nil
}

// ExistsByURL reports whether a candidate with this URL was ever saved.
func (s *Store) ExistsByURL(ctx context.Context, url string) (bool, error) {
	var n int
	if err := s.db.GetContext(ctx, &n, `SELECT COUNT(1) FROM items WHERE url = ?`, url); err != nil {
		return false, fmt.Errorf("lookup url: %w", err)
	}
	return n > 0, nil
}

// TouchScrapedSite upserts the tracking row for a domain, bumping the visit
// count and last-scraped timestamp.
func (s *Store) TouchScrapedSite(ctx context.Context, domain string, at time.Time) error {
	const q = `
		INSERT INTO scraped_sites (domain, first_scraped_at, last_scraped_at, scrape_count, status)
		VALUES (?, ?, ?, 1, ?)
		ON CONFLICT(domain) DO UPDATE SET
			last_scraped_at = excluded.last_scraped_at,
			scrape_count    = scrape_count + 1`
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q, domain, at.UTC(), at.UTC(), manual.SiteActive)
		return err
	})
}

// SetSiteStatus updates a domain's classification, creating the tracking row
// when it does not exist yet.
func (s *Store) SetSiteStatus(ctx context.Context, domain string, status manual.SiteStatus) error {
	now := time.Now().UTC()
	const q = `
		INSERT INTO scraped_sites (domain, first_scraped_at, last_scraped_at, scrape_count, status)
		VALUES (?, ?, ?, 0, ?)
		ON CONFLICT(domain) DO UPDATE SET status = excluded.status`
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q, domain, now, now, status)
		return err
	})
}

// GetScrapedSite fetches one domain's tracking row.
func (s *Store) GetScrapedSite(ctx context.Context, domain string) (manual.ScrapedSite, error) {
	var site manual.ScrapedSite
	err := s.db.GetContext(ctx, &site, `SELECT * FROM scraped_sites WHERE domain = ?`, domain)
	if errors.Is(err, sql.ErrNoRows) {
		return manual.ScrapedSite{}, fmt.Errorf("scraped site %q: %w", domain, manual.ErrNotFound)
	}
	if err != nil {
		return manual.ScrapedSite{}, fmt.Errorf("get scraped site: %w", err)
	}
	return site, nil
}

// ListScrapedSites returns every tracked domain ordered by recency.
func (s *Store) ListScrapedSites(ctx context.Context) ([]manual.ScrapedSite, error) {
	var sites []manual.ScrapedSite
	err := s.db.SelectContext(ctx, &sites, `SELECT * FROM scraped_sites ORDER BY last_scraped_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list scraped sites: %w", err)
	}
	return sites, nil
}
