package crawl

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mechdocs/harvester/internal/manual"
)

// candidateStoreStub accepts everything and remembers nothing. Embed it and
// override the methods a test cares about.
type candidateStoreStub struct{}

func (candidateStoreStub) SaveIfNew(context.Context, manual.Candidate) (manual.SaveOutcome, error) {
	return manual.Saved, nil
}
func (candidateStoreStub) ExistsByURL(context.Context, string) (bool, error) { return false, nil }
func (candidateStoreStub) TouchScrapedSite(context.Context, string, time.Time) error {
	return nil
}
func (candidateStoreStub) SetSiteStatus(context.Context, string, manual.SiteStatus) error {
	return nil
}

// memCandidateStore is an in-memory CandidateStore with a unique-URL insert.
type memCandidateStore struct {
	mu       sync.Mutex
	saved    map[string]manual.Candidate
	touched  map[string]int
	statuses map[string]manual.SiteStatus
	saveErr  error
}

func newMemCandidateStore() *memCandidateStore {
	return &memCandidateStore{
		saved:    make(map[string]manual.Candidate),
		touched:  make(map[string]int),
		statuses: make(map[string]manual.SiteStatus),
	}
}

func (s *memCandidateStore) SaveIfNew(_ context.Context, c manual.Candidate) (manual.SaveOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return manual.SaveError, s.saveErr
	}
	if _, dup := s.saved[c.URL]; dup {
		return manual.Duplicate, nil
	}
	s.saved[c.URL] = c
	return manual.Saved, nil
}

func (s *memCandidateStore) ExistsByURL(_ context.Context, url string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.saved[url]
	return ok, nil
}

func (s *memCandidateStore) TouchScrapedSite(_ context.Context, domain string, _ time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.touched[domain]++
	return nil
}

func (s *memCandidateStore) SetSiteStatus(_ context.Context, domain string, status manual.SiteStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.statuses[domain] = status
	return nil
}

func (s *memCandidateStore) savedURLs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	urls := make([]string, 0, len(s.saved))
	for u := range s.saved {
		urls = append(urls, u)
	}
	return urls
}

func (s *memCandidateStore) siteStatus(domain string) manual.SiteStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[domain]
}

// memJobStore is an in-memory JobStore.
type memJobStore struct {
	mu   sync.Mutex
	jobs map[string]manual.CrawlJob
}

func newMemJobStore() *memJobStore {
	return &memJobStore{jobs: make(map[string]manual.CrawlJob)}
}

func (s *memJobStore) CreateJob(_ context.Context, job manual.CrawlJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
	return nil
}

func (s *memJobStore) UpdateJobStatus(_ context.Context, jobID string, status manual.JobStatus, errText string, summary manual.JobSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job := s.jobs[jobID]
	job.ID = jobID
	job.Status = status
	job.ErrorText = errText
	job.Summary = summary
	s.jobs[jobID] = job
	return nil
}

func (s *memJobStore) GetJob(_ context.Context, jobID string) (manual.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[jobID]
	if !ok {
		return manual.CrawlJob{}, fmt.Errorf("job %s not found", jobID)
	}
	return job, nil
}

func (s *memJobStore) ListJobs(_ context.Context, limit int) ([]manual.CrawlJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]manual.CrawlJob, 0, len(s.jobs))
	for _, j := range s.jobs {
		out = append(out, j)
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

// fakePage is one canned fetch response.
type fakePage struct {
	body        string
	contentType string
	err         error
}

// fakeFetcher serves canned pages keyed by URL. Unknown URLs fail.
type fakeFetcher struct {
	mu      sync.Mutex
	pages   map[string]fakePage
	fetched []string
}

func newFakeFetcher(pages map[string]fakePage) *fakeFetcher {
	return &fakeFetcher{pages: pages}
}

func (f *fakeFetcher) Fetch(_ context.Context, rawURL string) (manual.FetchResult, error) {
	f.mu.Lock()
	f.fetched = append(f.fetched, rawURL)
	page, ok := f.pages[rawURL]
	f.mu.Unlock()
	if !ok {
		return manual.FetchResult{}, fmt.Errorf("no route for %s", rawURL)
	}
	if page.err != nil {
		return manual.FetchResult{}, page.err
	}
	ct := page.contentType
	if ct == "" {
		ct = "text/html; charset=utf-8"
	}
	return manual.FetchResult{
		URL:         rawURL,
		FinalURL:    rawURL,
		StatusCode:  200,
		ContentType: ct,
		Body:        []byte(page.body),
		SizeBytes:   int64(len(page.body)),
	}, nil
}

func (f *fakeFetcher) fetchCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.fetched)
}

// fixedClock always returns the same instant.
type fixedClock struct{ at time.Time }

func (c fixedClock) Now() time.Time { return c.at }

// seqIDs hands out job-1, job-2, ...
type seqIDs struct {
	mu sync.Mutex
	n  int
}

func (g *seqIDs) NewID() (string, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.n++
	return fmt.Sprintf("job-%d", g.n), nil
}
