package manual

import (
	"context"
	"time"
)

// FetchResult is returned by a Fetcher implementation.
type FetchResult struct {
	URL         string
	FinalURL    string
	StatusCode  int
	ContentType string
	Body        []byte
	// SizeBytes is the Content-Length when advertised, otherwise len(Body).
	SizeBytes int64
	Duration  time.Duration
}

// Fetcher performs a single HTTP GET with a bounded timeout.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (FetchResult, error)
}

// SizeProber is optionally implemented by fetchers that can report a
// resource's size cheaply (HEAD request) without downloading the body.
type SizeProber interface {
	ProbeSize(ctx context.Context, rawURL string) (int64, error)
}

// CandidateStore is the persistence boundary used by the crawl pipeline.
// Implementations must be safe under concurrent invocation from multiple
// site crawler workers.
type CandidateStore interface {
	// SaveIfNew inserts a candidate unless its URL already exists. A
	// uniqueness violation is reported as Duplicate, never as an error.
	SaveIfNew(ctx context.Context, c Candidate) (SaveOutcome, error)
	ExistsByURL(ctx context.Context, url string) (bool, error)
	// TouchScrapedSite upserts the tracking row for a domain, bumping its
	// visit count and last-scraped timestamp.
	TouchScrapedSite(ctx context.Context, domain string, at time.Time) error
	SetSiteStatus(ctx context.Context, domain string, status SiteStatus) error
}

// JobStore persists crawl job metadata and run summaries.
type JobStore interface {
	CreateJob(ctx context.Context, job CrawlJob) error
	UpdateJobStatus(ctx context.Context, jobID string, status JobStatus, errText string, summary JobSummary) error
	GetJob(ctx context.Context, jobID string) (CrawlJob, error)
	ListJobs(ctx context.Context, limit int) ([]CrawlJob, error)
}

// Enrichment is the output of the external enrichment stage for one item.
type Enrichment struct {
	Description   string
	Tags          []string
	ResourcesPath string
}

// Enricher runs the external enrichment stage (text extraction, image
// generation, listing content) for one downloaded item. Only the contract
// matters here; internals are an external collaborator's concern.
type Enricher interface {
	Enrich(ctx context.Context, item Item) (Enrichment, error)
}

// EnricherFunc adapts a function to the Enricher interface.
type EnricherFunc func(ctx context.Context, item Item) (Enrichment, error)

// Enrich calls the wrapped function.
func (f EnricherFunc) Enrich(ctx context.Context, item Item) (Enrichment, error) {
	return f(ctx, item)
}

// BlobStore writes raw artifacts and returns a local URI or path.
type BlobStore interface {
	PutObject(ctx context.Context, path string, contentType string, data []byte) (string, error)
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces crawl job IDs (UUIDs).
type IDGenerator interface {
	NewID() (string, error)
}
