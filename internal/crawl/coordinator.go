package crawl

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/manual"
	"github.com/mechdocs/harvester/internal/metrics"
	"github.com/mechdocs/harvester/internal/progress"
)

// Coordinator owns a crawl job end to end: it fans the seed list out across
// a bounded worker pool, aggregates the per-seed summaries, and records the
// job's lifecycle in the job store.
type Coordinator struct {
	fetcher manual.Fetcher
	store   manual.CandidateStore
	jobs    manual.JobStore
	hub     *progress.Hub
	logger  *zap.Logger
	clock   manual.Clock
	ids     manual.IDGenerator
}

// NewCoordinator wires a Coordinator. hub may be nil when progress events
// are not wanted.
func NewCoordinator(
	fetcher manual.Fetcher,
	store manual.CandidateStore,
	jobs manual.JobStore,
	hub *progress.Hub,
	logger *zap.Logger,
	clock manual.Clock,
	ids manual.IDGenerator,
) *Coordinator {
	return &Coordinator{
		fetcher: fetcher,
		store:   store,
		jobs:    jobs,
		hub:     hub,
		logger:  logger.Named("crawl"),
		clock:   clock,
		ids:     ids,
	}
}

// Submit registers a new crawl job in the queued state and returns it. The
// caller decides when (and on which context) to Run it.
func (co *Coordinator) Submit(ctx context.Context, opts manual.CrawlOptions) (manual.CrawlJob, error) {
	if len(opts.Seeds) == 0 {
		return manual.CrawlJob{}, fmt.Errorf("crawl job needs at least one seed")
	}
	id, err := co.ids.NewID()
	if err != nil {
		return manual.CrawlJob{}, fmt.Errorf("generate job id: %w", err)
	}
	job := manual.CrawlJob{
		ID:        id,
		Status:    manual.JobQueued,
		Submitted: co.clock.Now(),
		Options:   opts,
	}
	if err := co.jobs.CreateJob(ctx, job); err != nil {
		return manual.CrawlJob{}, fmt.Errorf("persist job: %w", err)
	}
	return job, nil
}

// Run executes a submitted job to completion. It blocks until every worker
// has drained; cancel ctx for a cooperative stop. The finished job, with its
// aggregated summary and terminal status, is returned and persisted.
func (co *Coordinator) Run(ctx context.Context, job manual.CrawlJob) (manual.CrawlJob, error) {
	opts := job.Options
	started := co.clock.Now()
	job.Status = manual.JobRunning
	job.Started = &started
	if err := co.jobs.UpdateJobStatus(ctx, job.ID, job.Status, "", job.Summary); err != nil {
		co.logger.Warn("job status update failed", zap.String("job_id", job.ID), zap.Error(err))
	}
	co.logger.Info("crawl started",
		zap.String("job_id", job.ID),
		zap.Int("seeds", len(opts.Seeds)),
		zap.Int("max_depth", opts.MaxDepth),
	)

	filter := NewFilter(opts)
	extractor := NewExtractor(filter, opts)
	dedup := NewDedup(co.store, opts.SkipDuplicates)

	workers := opts.Concurrency
	if workers <= 0 {
		workers = 1
	}
	if workers > len(opts.Seeds) {
		workers = len(opts.Seeds)
	}

	seeds := make(chan string)
	var (
		mu      sync.Mutex
		summary manual.JobSummary
		wg      sync.WaitGroup
	)

	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			metrics.IncActiveWorkers()
			defer metrics.DecActiveWorkers()
			for seed := range seeds {
				part := co.crawlSeed(ctx, job.ID, opts, seed, filter, extractor, dedup)
				mu.Lock()
				summary.Merge(part)
				mu.Unlock()
			}
		}()
	}

	for _, seed := range opts.Seeds {
		seeds <- seed
	}
	close(seeds)
	wg.Wait()

	job.Summary = summary
	finished := co.clock.Now()
	job.Finished = &finished
	job.Status = finalStatus(ctx, opts, summary)
	if job.Status == manual.JobFailed {
		job.ErrorText = firstError(summary)
	}

	// Persist the terminal state even when ctx is already canceled.
	if err := co.jobs.UpdateJobStatus(context.WithoutCancel(ctx), job.ID, job.Status, job.ErrorText, job.Summary); err != nil {
		co.logger.Error("final job status update failed", zap.String("job_id", job.ID), zap.Error(err))
		return job, fmt.Errorf("persist final job status: %w", err)
	}
	metrics.ObserveJob(string(job.Status))
	co.logger.Info("crawl finished",
		zap.String("job_id", job.ID),
		zap.String("status", string(job.Status)),
		zap.Int("found", summary.Found),
		zap.Int("saved", summary.Saved),
		zap.Int("duplicates", summary.Duplicates),
		zap.Int("filtered_out", summary.FilteredOut),
		zap.Int("pages_visited", summary.PagesVisited),
		zap.Int("seed_errors", len(summary.Errors)),
	)
	return job, nil
}

// crawlSeed runs one site crawler with panic isolation so a misbehaving page
// cannot take down the whole job.
func (co *Coordinator) crawlSeed(
	ctx context.Context,
	jobID string,
	opts manual.CrawlOptions,
	seed string,
	filter *Filter,
	extractor *Extractor,
	dedup *Dedup,
) (part manual.JobSummary) {
	defer func() {
		if r := recover(); r != nil {
			co.logger.Error("site crawler panic",
				zap.String("seed", seed),
				zap.Any("panic", r),
			)
			part.Errors = append(part.Errors, manual.SeedError{
				Seed:    seed,
				Message: fmt.Sprintf("panic: %v", r),
			})
		}
	}()

	worker := &siteCrawler{
		jobID:     jobID,
		opts:      opts,
		fetcher:   co.fetcher,
		store:     co.store,
		filter:    filter,
		extractor: extractor,
		dedup:     dedup,
		hub:       co.hub,
		logger:    co.logger.With(zap.String("seed", seed)),
		clock:     co.clock,
	}
	part = worker.run(ctx, seed)

	// A visited seed that yielded nothing new gets marked exhausted so later
	// runs can deprioritize it.
	if part.Saved == 0 && part.PagesVisited > 0 && ctx.Err() == nil {
		if domain := hostOf(ensureScheme(seed)); domain != "" {
			if err := co.store.SetSiteStatus(ctx, domain, manual.SiteExhausted); err != nil {
				co.logger.Warn("site status update failed", zap.String("domain", domain), zap.Error(err))
			}
		}
	}
	return part
}

// finalStatus derives the job's terminal status: canceled wins, a job where
// every seed errored is failed, anything else succeeded. Partial failures
// still count as success; the summary carries the per-seed errors.
func finalStatus(ctx context.Context, opts manual.CrawlOptions, s manual.JobSummary) manual.JobStatus {
	if ctx.Err() != nil {
		return manual.JobCanceled
	}
	if len(opts.Seeds) > 0 && len(s.Errors) >= len(opts.Seeds) && s.Saved == 0 && s.PagesVisited == 0 {
		return manual.JobFailed
	}
	return manual.JobSucceeded
}

func firstError(s manual.JobSummary) string {
	if len(s.Errors) == 0 {
		return ""
	}
	return fmt.Sprintf("%s: %s", s.Errors[0].Seed, s.Errors[0].Message)
}
