// Package manual defines core types shared across subsystems.
package manual

import "time"

// Status represents the review/processing lifecycle state of an item.
type Status string

// Item status values persisted in the store.
const (
	StatusPending    Status = "pending"
	StatusApproved   Status = "approved"
	StatusRejected   Status = "rejected"
	StatusDownloaded Status = "downloaded"
	StatusQueued     Status = "queued"
	StatusProcessing Status = "processing"
	StatusProcessed  Status = "processed"
	StatusListed     Status = "listed"
	StatusError      Status = "error"
)

// ProcessingState tracks an item's progress through the enrichment queue.
// It is only meaningful while the item holds a queue position.
type ProcessingState string

// Processing state values.
const (
	StateQueued      ProcessingState = "queued"
	StateDownloading ProcessingState = "downloading"
	StateProcessing  ProcessingState = "processing"
	StateCompleted   ProcessingState = "completed"
	StateFailed      ProcessingState = "failed"
)

// SiteStatus classifies a scraped domain for future runs.
type SiteStatus string

// Scraped site status values. Exhausted is a hint, not an enforced skip.
const (
	SiteActive    SiteStatus = "active"
	SiteExhausted SiteStatus = "exhausted"
	SiteBlocked   SiteStatus = "blocked"
)

// SaveOutcome is the result of an insert-if-absent on the candidate store.
type SaveOutcome int

// Save outcomes. Duplicate covers both session and persistent collisions.
const (
	SaveError SaveOutcome = iota
	Saved
	Duplicate
)

// Candidate is a discovered PDF URL prior to any review.
type Candidate struct {
	URL          string    `db:"url" json:"url"`
	SourceSite   string    `db:"source_site" json:"source_site"`
	Title        string    `db:"title" json:"title,omitempty"`
	DiscoveredAt time.Time `db:"discovered_at" json:"discovered_at"`
	// SizeBytes is 0 when the size could not be determined without a download.
	SizeBytes int64  `db:"size_bytes" json:"size_bytes,omitempty"`
	JobID     string `db:"job_id" json:"job_id"`
}

// Item is a candidate that entered the review/download/enrichment pipeline.
type Item struct {
	ID           int64           `db:"id" json:"id"`
	URL          string          `db:"url" json:"url"`
	SourceSite   string          `db:"source_site" json:"source_site"`
	Title        string          `db:"title" json:"title,omitempty"`
	DiscoveredAt time.Time       `db:"discovered_at" json:"discovered_at"`
	SizeBytes    int64           `db:"size_bytes" json:"size_bytes,omitempty"`
	JobID        string          `db:"job_id" json:"job_id"`
	Status       Status          `db:"status" json:"status"`
	State        ProcessingState `db:"processing_state" json:"processing_state,omitempty"`
	// QueuePosition is nil when the item is not in the processing queue.
	// Positions among queued items are dense, 1-based, and unique.
	QueuePosition *int       `db:"queue_position" json:"queue_position,omitempty"`
	PDFPath       string     `db:"pdf_path" json:"pdf_path,omitempty"`
	Description   string     `db:"description" json:"description,omitempty"`
	Tags          string     `db:"tags" json:"tags,omitempty"`
	ResourcesPath string     `db:"resources_path" json:"resources_path,omitempty"`
	ErrorMessage  string     `db:"error_message" json:"error_message,omitempty"`
	CreatedAt     time.Time  `db:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `db:"updated_at" json:"updated_at"`
	StartedAt     *time.Time `db:"processing_started_at" json:"processing_started_at,omitempty"`
	CompletedAt   *time.Time `db:"processing_completed_at" json:"processing_completed_at,omitempty"`
}

// ScrapedSite tracks a domain visited by past crawl runs.
type ScrapedSite struct {
	Domain         string     `db:"domain" json:"domain"`
	FirstScrapedAt time.Time  `db:"first_scraped_at" json:"first_scraped_at"`
	LastScrapedAt  time.Time  `db:"last_scraped_at" json:"last_scraped_at"`
	ScrapeCount    int        `db:"scrape_count" json:"scrape_count"`
	Status         SiteStatus `db:"status" json:"status"`
}

// CrawlOptions captures per-job configuration knobs requested by the client.
type CrawlOptions struct {
	Seeds              []string `json:"seeds"`
	IncludeTerms       []string `json:"include_terms,omitempty" mapstructure:"include_terms"`
	ExcludeTerms       []string `json:"exclude_terms,omitempty" mapstructure:"exclude_terms"`
	Extensions         []string `json:"extensions,omitempty" mapstructure:"extensions"`
	MinSizeBytes       int64    `json:"min_size_bytes,omitempty" mapstructure:"min_size_bytes"`
	MaxSizeBytes       int64    `json:"max_size_bytes,omitempty" mapstructure:"max_size_bytes"`
	MaxDepth           int      `json:"max_depth" mapstructure:"max_depth"`
	FollowLinks        bool     `json:"follow_links" mapstructure:"follow_links"`
	ExtractDirectories bool     `json:"extract_directories" mapstructure:"extract_directories"`
	SkipDuplicates     bool     `json:"skip_duplicates" mapstructure:"skip_duplicates"`
	Concurrency        int      `json:"concurrency" mapstructure:"concurrency"`
	MaxPagesPerSite    int      `json:"max_pages_per_site" mapstructure:"max_pages_per_site"`
	MaxLinksPerPage    int      `json:"max_links_per_page" mapstructure:"max_links_per_page"`
	DirectoryThreshold int      `json:"directory_threshold" mapstructure:"directory_threshold"`
	// AllowedHosts whitelists cross-domain hosts; same-domain links always pass.
	AllowedHosts []string `json:"allowed_hosts,omitempty" mapstructure:"allowed_hosts"`
}

// JobStatus represents the lifecycle state of a crawl job.
type JobStatus string

// Crawl job status values.
const (
	JobQueued    JobStatus = "queued"
	JobRunning   JobStatus = "running"
	JobSucceeded JobStatus = "succeeded"
	JobFailed    JobStatus = "failed"
	JobCanceled  JobStatus = "canceled"
)

// SeedError records a fatal failure scoped to a single seed.
type SeedError struct {
	Seed    string `json:"seed"`
	Message string `json:"message"`
}

// JobSummary aggregates run statistics across all seeds of one crawl.
type JobSummary struct {
	Found        int         `json:"found"`
	Saved        int         `json:"saved"`
	Duplicates   int         `json:"duplicates"`
	FilteredOut  int         `json:"filtered_out"`
	PagesVisited int         `json:"pages_visited"`
	Errors       []SeedError `json:"errors,omitempty"`
}

// Merge folds another summary into this one.
func (s *JobSummary) Merge(other JobSummary) {
	s.Found += other.Found
	s.Saved += other.Saved
	s.Duplicates += other.Duplicates
	s.FilteredOut += other.FilteredOut
	s.PagesVisited += other.PagesVisited
	s.Errors = append(s.Errors, other.Errors...)
}

// CrawlJob holds the configuration and accumulated statistics of one crawl
// invocation. It is mutated only by the crawl coordinator and becomes
// immutable once the job reaches a terminal status.
type CrawlJob struct {
	ID        string       `json:"id"`
	Status    JobStatus    `json:"status"`
	Submitted time.Time    `json:"submitted_at"`
	Started   *time.Time   `json:"started_at,omitempty"`
	Finished  *time.Time   `json:"finished_at,omitempty"`
	ErrorText string       `json:"error_text,omitempty"`
	Options   CrawlOptions `json:"options"`
	Summary   JobSummary   `json:"summary"`
}
