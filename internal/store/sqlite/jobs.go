package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/mechdocs/harvester/internal/manual"
)

type jobRow struct {
	ID          string     `db:"id"`
	Status      string     `db:"status"`
	SubmittedAt time.Time  `db:"submitted_at"`
	StartedAt   *time.Time `db:"started_at"`
	FinishedAt  *time.Time `db:"finished_at"`
	ErrorText   string     `db:"error_text"`
	OptionsJSON string     `db:"options_json"`
	SummaryJSON string     `db:"summary_json"`
}

func (r jobRow) toJob() (manual.CrawlJob, error) {
	job := manual.CrawlJob{
		ID:        r.ID,
		Status:    manual.JobStatus(r.Status),
		Submitted: r.SubmittedAt,
		Started:   r.StartedAt,
		Finished:  r.FinishedAt,
		ErrorText: r.ErrorText,
	}
	if err := json.Unmarshal([]byte(r.OptionsJSON), &job.Options); err != nil {
		return manual.CrawlJob{}, fmt.Errorf("decode job options: %w", err)
	}
	if err := json.Unmarshal([]byte(r.SummaryJSON), &job.Summary); err != nil {
		return manual.CrawlJob{}, fmt.Errorf("decode job summary: %w", err)
	}
	return job, nil
}

// CreateJob persists a freshly submitted crawl job.
func (s *Store) CreateJob(ctx context.Context, job manual.CrawlJob) error {
	opts, err := json.Marshal(job.Options)
	if err != nil {
		return fmt.Errorf("encode job options: %w", err)
	}
	summary, err := json.Marshal(job.Summary)
	if err != nil {
		return fmt.Errorf("encode job summary: %w", err)
	}
	const q = `
		INSERT INTO crawl_jobs (id, status, submitted_at, started_at, finished_at, error_text, options_json, summary_json)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	return s.withRetry(ctx, func() error {
		_, err := s.db.ExecContext(ctx, q,
			job.ID, job.Status, job.Submitted.UTC(), job.Started, job.Finished,
			job.ErrorText, string(opts), string(summary))
		return err
	})
}

// UpdateJobStatus records a job's status change together with its current
// summary. Running sets the start time, terminal statuses set the finish time.
func (s *Store) UpdateJobStatus(ctx context.Context, jobID string, status manual.JobStatus, errText string, summary manual.JobSummary) error {
	encoded, err := json.Marshal(summary)
	if err != nil {
		return fmt.Errorf("encode job summary: %w", err)
	}
	now := time.Now().UTC()
	return s.withRetry(ctx, func() error {
		var (
			res sql.Result
			err error
		)
		switch status {
		case manual.JobRunning:
			res, err = s.db.ExecContext(ctx,
				`UPDATE crawl_jobs SET status = ?, started_at = ?, error_text = ?, summary_json = ? WHERE id = ?`,
				status, now, errText, string(encoded), jobID)
		case manual.JobSucceeded, manual.JobFailed, manual.JobCanceled:
			res, err = s.db.ExecContext(ctx,
				`UPDATE crawl_jobs SET status = ?, finished_at = ?, error_text = ?, summary_json = ? WHERE id = ?`,
				status, now, errText, string(encoded), jobID)
		default:
			res, err = s.db.ExecContext(ctx,
				`UPDATE crawl_jobs SET status = ?, error_text = ?, summary_json = ? WHERE id = ?`,
				status, errText, string(encoded), jobID)
		}
		if err != nil {
			return err
		}
		n, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if n == 0 {
			return fmt.Errorf("job %s: %w", jobID, manual.ErrNotFound)
		}
		return nil
	})
}

// GetJob fetches one crawl job by ID.
func (s *Store) GetJob(ctx context.Context, jobID string) (manual.CrawlJob, error) {
	var row jobRow
	err := s.db.GetContext(ctx, &row, `SELECT * FROM crawl_jobs WHERE id = ?`, jobID)
	if errors.Is(err, sql.ErrNoRows) {
		return manual.CrawlJob{}, fmt.Errorf("job %s: %w", jobID, manual.ErrNotFound)
	}
	if err != nil {
		return manual.CrawlJob{}, fmt.Errorf("get job: %w", err)
	}
	return row.toJob()
}

// ListJobs returns the most recently submitted jobs.
func (s *Store) ListJobs(ctx context.Context, limit int) ([]manual.CrawlJob, error) {
	if limit <= 0 {
		limit = 50
	}
	var rows []jobRow
	err := s.db.SelectContext(ctx, &rows,
		`SELECT * FROM crawl_jobs ORDER BY submitted_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	jobs := make([]manual.CrawlJob, 0, len(rows))
	for _, r := range rows {
		job, err := r.toJob()
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
	}
	return jobs, nil
}
