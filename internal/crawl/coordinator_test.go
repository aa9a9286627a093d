package crawl

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/manual"
)

func newTestCoordinator(fetcher manual.Fetcher, store manual.CandidateStore, jobs manual.JobStore) *Coordinator {
	return NewCoordinator(
		fetcher,
		store,
		jobs,
		nil,
		zap.NewNop(),
		fixedClock{at: time.Date(2026, 8, 25, 12, 0, 0, 0, time.UTC)},
		&seqIDs{},
	)
}

func submitAndRun(t *testing.T, co *Coordinator, opts manual.CrawlOptions) manual.CrawlJob {
	t.Helper()
	job, err := co.Submit(context.Background(), opts)
	require.NoError(t, err)
	done, err := co.Run(context.Background(), job)
	require.NoError(t, err)
	return done
}

func TestCoordinatorEndToEnd(t *testing.T) {
	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/docs": {body: `<html><body>
			<a href="/files/a.pdf">Service Manual A</a>
			<a href="/files/b_preview.pdf">Preview B</a>
			<a href="/docs/page2">More</a>
		</body></html>`},
		"https://example.com/docs/page2": {body: `<html><body>
			<a href="/files/c.pdf">Service Manual C</a>
		</body></html>`},
	})
	store := newMemCandidateStore()
	jobs := newMemJobStore()
	co := newTestCoordinator(fetcher, store, jobs)

	done := submitAndRun(t, co, manual.CrawlOptions{
		Seeds:        []string{"https://example.com/docs"},
		ExcludeTerms: []string{"preview"},
		MaxDepth:     1,
		FollowLinks:  true,
		Concurrency:  2,
	})

	assert.Equal(t, manual.JobSucceeded, done.Status)
	assert.Equal(t, 3, done.Summary.Found)
	assert.Equal(t, 2, done.Summary.Saved)
	assert.Equal(t, 1, done.Summary.FilteredOut)
	assert.Equal(t, 2, done.Summary.PagesVisited)
	assert.Empty(t, done.Summary.Errors)

	assert.ElementsMatch(t, []string{
		"https://example.com/files/a.pdf",
		"https://example.com/files/c.pdf",
	}, store.savedURLs())

	persisted, err := jobs.GetJob(context.Background(), done.ID)
	require.NoError(t, err)
	assert.Equal(t, manual.JobSucceeded, persisted.Status)
	assert.Equal(t, 2, persisted.Summary.Saved)
}

func TestCoordinatorDepthBound(t *testing.T) {
	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/": {body: `<html><body>
			<a href="/level1">Level 1</a>
		</body></html>`},
		"https://example.com/level1": {body: `<html><body>
			<a href="/level2">Level 2</a>
			<a href="/shallow.pdf">Shallow</a>
		</body></html>`},
		"https://example.com/level2": {body: `<html><body>
			<a href="/deep.pdf">Deep</a>
		</body></html>`},
	})
	store := newMemCandidateStore()
	co := newTestCoordinator(fetcher, store, newMemJobStore())

	done := submitAndRun(t, co, manual.CrawlOptions{
		Seeds:       []string{"https://example.com/"},
		MaxDepth:    1,
		FollowLinks: true,
	})

	assert.Equal(t, manual.JobSucceeded, done.Status)
	// Depth 2 is never fetched, so deep.pdf is never discovered.
	assert.ElementsMatch(t, []string{"https://example.com/shallow.pdf"}, store.savedURLs())
	assert.Equal(t, 2, done.Summary.PagesVisited)
}

func TestCoordinatorSharedDedupAcrossSeeds(t *testing.T) {
	shared := `<html><body><a href="https://cdn.example.com/shared.pdf">Shared</a></body></html>`
	fetcher := newFakeFetcher(map[string]fakePage{
		"https://one.example.com/": {body: shared},
		"https://two.example.com/": {body: shared},
	})
	store := newMemCandidateStore()
	co := newTestCoordinator(fetcher, store, newMemJobStore())

	done := submitAndRun(t, co, manual.CrawlOptions{
		Seeds:       []string{"https://one.example.com/", "https://two.example.com/"},
		Concurrency: 2,
	})

	assert.Equal(t, manual.JobSucceeded, done.Status)
	assert.Equal(t, 1, done.Summary.Saved)
	assert.Equal(t, 1, done.Summary.Duplicates)
	assert.Len(t, store.savedURLs(), 1)
}

func TestCoordinatorPersistentDedup(t *testing.T) {
	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/": {body: `<html><body><a href="/known.pdf">Known</a></body></html>`},
	})
	store := newMemCandidateStore()
	_, err := store.SaveIfNew(context.Background(), manual.Candidate{URL: "https://example.com/known.pdf"})
	require.NoError(t, err)
	co := newTestCoordinator(fetcher, store, newMemJobStore())

	done := submitAndRun(t, co, manual.CrawlOptions{
		Seeds:          []string{"https://example.com/"},
		SkipDuplicates: true,
	})

	assert.Equal(t, 0, done.Summary.Saved)
	assert.Equal(t, 1, done.Summary.Duplicates)
}

func TestCoordinatorSeedFailureIsolation(t *testing.T) {
	fetcher := newFakeFetcher(map[string]fakePage{
		"https://down.example.com/": {err: errors.New("connection refused")},
		"https://up.example.com/":   {body: `<html><body><a href="/ok.pdf">OK</a></body></html>`},
	})
	store := newMemCandidateStore()
	co := newTestCoordinator(fetcher, store, newMemJobStore())

	done := submitAndRun(t, co, manual.CrawlOptions{
		Seeds:       []string{"https://down.example.com/", "https://up.example.com/"},
		Concurrency: 2,
	})

	// One healthy seed keeps the job successful; the failure is recorded.
	assert.Equal(t, manual.JobSucceeded, done.Status)
	assert.Equal(t, 1, done.Summary.Saved)
	require.Len(t, done.Summary.Errors, 1)
	assert.Equal(t, "https://down.example.com/", done.Summary.Errors[0].Seed)
	assert.Contains(t, done.Summary.Errors[0].Message, "connection refused")
}

func TestCoordinatorAllSeedsFailed(t *testing.T) {
	fetcher := newFakeFetcher(map[string]fakePage{
		"https://a.example.com/": {err: errors.New("timeout")},
		"https://b.example.com/": {err: errors.New("timeout")},
	})
	co := newTestCoordinator(fetcher, newMemCandidateStore(), newMemJobStore())

	done := submitAndRun(t, co, manual.CrawlOptions{
		Seeds: []string{"https://a.example.com/", "https://b.example.com/"},
	})

	assert.Equal(t, manual.JobFailed, done.Status)
	assert.NotEmpty(t, done.ErrorText)
	assert.Len(t, done.Summary.Errors, 2)
}

func TestCoordinatorCanceledBeforeStart(t *testing.T) {
	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/": {body: `<html></html>`},
	})
	jobs := newMemJobStore()
	co := newTestCoordinator(fetcher, newMemCandidateStore(), jobs)

	job, err := co.Submit(context.Background(), manual.CrawlOptions{
		Seeds: []string{"https://example.com/"},
	})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	done, err := co.Run(ctx, job)
	require.NoError(t, err)

	assert.Equal(t, manual.JobCanceled, done.Status)
	assert.Zero(t, fetcher.fetchCount())

	persisted, err := jobs.GetJob(context.Background(), job.ID)
	require.NoError(t, err)
	assert.Equal(t, manual.JobCanceled, persisted.Status)
}

func TestCoordinatorMarksExhaustedSites(t *testing.T) {
	fetcher := newFakeFetcher(map[string]fakePage{
		"https://empty.example.com/": {body: `<html><body><p>nothing here</p></body></html>`},
		"https://full.example.com/":  {body: `<html><body><a href="/m.pdf">Manual</a></body></html>`},
	})
	store := newMemCandidateStore()
	co := newTestCoordinator(fetcher, store, newMemJobStore())

	submitAndRun(t, co, manual.CrawlOptions{
		Seeds:       []string{"https://empty.example.com/", "https://full.example.com/"},
		Concurrency: 2,
	})

	assert.Equal(t, manual.SiteExhausted, store.siteStatus("empty.example.com"))
	assert.Equal(t, manual.SiteStatus(""), store.siteStatus("full.example.com"))
}

func TestCoordinatorDirectPDFSeed(t *testing.T) {
	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/direct.pdf": {body: "%PDF-1.7", contentType: "application/pdf"},
	})
	store := newMemCandidateStore()
	co := newTestCoordinator(fetcher, store, newMemJobStore())

	done := submitAndRun(t, co, manual.CrawlOptions{
		Seeds: []string{"https://example.com/direct.pdf"},
	})

	assert.Equal(t, 1, done.Summary.Saved)
	require.Len(t, store.savedURLs(), 1)
	assert.Equal(t, "https://example.com/direct.pdf", store.savedURLs()[0])
}

func TestCoordinatorPageCap(t *testing.T) {
	pages := map[string]fakePage{
		"https://example.com/": {body: `<html><body>
			<a href="/p1">1</a><a href="/p2">2</a><a href="/p3">3</a><a href="/p4">4</a>
		</body></html>`},
	}
	for _, p := range []string{"p1", "p2", "p3", "p4"} {
		pages["https://example.com/"+p] = fakePage{body: `<html></html>`}
	}
	fetcher := newFakeFetcher(pages)
	co := newTestCoordinator(fetcher, newMemCandidateStore(), newMemJobStore())

	done := submitAndRun(t, co, manual.CrawlOptions{
		Seeds:           []string{"https://example.com/"},
		MaxDepth:        1,
		FollowLinks:     true,
		MaxPagesPerSite: 3,
	})

	assert.Equal(t, 3, done.Summary.PagesVisited)
}

func TestCoordinatorSubmitRequiresSeeds(t *testing.T) {
	co := newTestCoordinator(newFakeFetcher(nil), newMemCandidateStore(), newMemJobStore())
	_, err := co.Submit(context.Background(), manual.CrawlOptions{})
	assert.Error(t, err)
}

func TestCoordinatorSaveErrorRecorded(t *testing.T) {
	fetcher := newFakeFetcher(map[string]fakePage{
		"https://example.com/": {body: `<html><body><a href="/m.pdf">Manual</a></body></html>`},
	})
	store := newMemCandidateStore()
	store.saveErr = errors.New("disk full")
	co := newTestCoordinator(fetcher, store, newMemJobStore())

	done := submitAndRun(t, co, manual.CrawlOptions{
		Seeds: []string{"https://example.com/"},
	})

	// Pages were visited, so the job is not a total failure, but the save
	// error must surface in the summary rather than vanish.
	assert.Equal(t, manual.JobSucceeded, done.Status)
	require.Len(t, done.Summary.Errors, 1)
	assert.Contains(t, done.Summary.Errors[0].Message, "disk full")
}
