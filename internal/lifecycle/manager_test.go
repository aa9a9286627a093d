package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/manual"
	"github.com/mechdocs/harvester/internal/queue"
	"github.com/mechdocs/harvester/internal/store/sqlite"
)

type stubFetcher struct {
	mu   sync.Mutex
	body []byte
	err  error
	hits int
}

func (f *stubFetcher) Fetch(_ context.Context, rawURL string) (manual.FetchResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.hits++
	if f.err != nil {
		return manual.FetchResult{}, f.err
	}
	return manual.FetchResult{
		URL:         rawURL,
		FinalURL:    rawURL,
		StatusCode:  200,
		ContentType: "application/pdf",
		Body:        f.body,
		SizeBytes:   int64(len(f.body)),
	}, nil
}

type stubBlobs struct {
	mu   sync.Mutex
	objs map[string][]byte
	err  error
}

func (b *stubBlobs) PutObject(_ context.Context, name string, _ string, data []byte) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.err != nil {
		return "", b.err
	}
	if b.objs == nil {
		b.objs = make(map[string][]byte)
	}
	b.objs[name] = data
	return "/blobs/" + name, nil
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now().UTC() }

type fixture struct {
	store   *sqlite.Store
	queue   *queue.Manager
	fetcher *stubFetcher
	blobs   *stubBlobs
	manager *Manager
}

func newFixture(t *testing.T, enricher manual.Enricher) *fixture {
	t.Helper()
	store, err := sqlite.Open(sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	q := queue.NewManager(store, nil)
	fetcher := &stubFetcher{body: []byte("%PDF-1.7 test")}
	blobs := &stubBlobs{}
	m := NewManager(store, q, fetcher, blobs, enricher, nil, zap.NewNop(), realClock{})
	return &fixture{store: store, queue: q, fetcher: fetcher, blobs: blobs, manager: m}
}

func (f *fixture) seed(t *testing.T, url string) int64 {
	t.Helper()
	ctx := context.Background()
	outcome, err := f.store.SaveIfNew(ctx, manual.Candidate{
		URL:          url,
		SourceSite:   "https://example.com",
		Title:        "Seeded",
		DiscoveredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, manual.Saved, outcome)

	items, err := f.store.ListItems(ctx, "", 0)
	require.NoError(t, err)
	for _, item := range items {
		if item.URL == url {
			return item.ID
		}
	}
	t.Fatalf("seeded item %s not found", url)
	return 0
}

func TestApproveDownloadsPDF(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.seed(t, "https://example.com/manual.pdf")

	item, err := f.manager.Approve(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, manual.StatusDownloaded, item.Status)
	assert.Equal(t, "/blobs/pdfs/"+fmt.Sprint(id)+"/manual.pdf", item.PDFPath)
	assert.Contains(t, f.blobs.objs, "pdfs/"+fmt.Sprint(id)+"/manual.pdf")
}

func TestApproveDownloadFailureMovesToError(t *testing.T) {
	f := newFixture(t, nil)
	f.fetcher.err = errors.New("server unreachable")
	ctx := context.Background()
	id := f.seed(t, "https://example.com/manual.pdf")

	item, err := f.manager.Approve(ctx, id)
	require.NoError(t, err)

	assert.Equal(t, manual.StatusError, item.Status)
	assert.Contains(t, item.ErrorMessage, "server unreachable")
}

func TestApproveRejectOnlyFromPending(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.seed(t, "https://example.com/manual.pdf")

	require.NoError(t, f.manager.Reject(ctx, id))

	// Terminal: no further operations permitted.
	_, err := f.manager.Approve(ctx, id)
	assert.ErrorIs(t, err, manual.ErrInvalidTransition)
	err = f.manager.Enqueue(ctx, id)
	assert.ErrorIs(t, err, manual.ErrInvalidTransition)

	item, err := f.store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, manual.StatusRejected, item.Status)
}

func TestFullPipelineHappyPath(t *testing.T) {
	enricher := manual.EnricherFunc(func(_ context.Context, item manual.Item) (manual.Enrichment, error) {
		return manual.Enrichment{
			Description:   "desc for " + item.URL,
			Tags:          []string{"service", "manual"},
			ResourcesPath: "/resources/" + fmt.Sprint(item.ID),
		}, nil
	})
	f := newFixture(t, enricher)
	ctx := context.Background()
	id := f.seed(t, "https://example.com/pump.pdf")

	_, err := f.manager.Approve(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.manager.Enqueue(ctx, id))

	item, err := f.store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, manual.StatusQueued, item.Status)
	require.NotNil(t, item.QueuePosition)
	assert.Equal(t, 1, *item.QueuePosition)

	item, err = f.manager.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, manual.StatusProcessed, item.Status)
	assert.Equal(t, manual.StateCompleted, item.State)
	assert.Nil(t, item.QueuePosition)
	assert.Equal(t, "desc for https://example.com/pump.pdf", item.Description)
	assert.Equal(t, "service,manual", item.Tags)
	assert.NotNil(t, item.CompletedAt)

	require.NoError(t, f.manager.Publish(ctx, id))
	item, err = f.store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, manual.StatusListed, item.Status)
}

func TestProcessNextEmptyQueue(t *testing.T) {
	f := newFixture(t, nil)
	_, err := f.manager.ProcessNext(context.Background())
	assert.ErrorIs(t, err, manual.ErrNotFound)
}

func TestProcessEnrichFailureAndRetry(t *testing.T) {
	var fail bool
	enricher := manual.EnricherFunc(func(context.Context, manual.Item) (manual.Enrichment, error) {
		if fail {
			return manual.Enrichment{}, errors.New("ocr crashed")
		}
		return manual.Enrichment{Description: "ok"}, nil
	})
	f := newFixture(t, enricher)
	ctx := context.Background()
	id := f.seed(t, "https://example.com/fragile.pdf")

	_, err := f.manager.Approve(ctx, id)
	require.NoError(t, err)
	require.NoError(t, f.manager.Enqueue(ctx, id))

	fail = true
	item, err := f.manager.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, manual.StatusError, item.Status)
	assert.Equal(t, manual.StateFailed, item.State)
	assert.Contains(t, item.ErrorMessage, "ocr crashed")
	assert.Nil(t, item.QueuePosition)

	// Retry puts the faulted item back at the queue tail.
	fail = false
	require.NoError(t, f.manager.Retry(ctx, id))
	item, err = f.store.GetItem(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, manual.StatusQueued, item.Status)
	assert.Empty(t, item.ErrorMessage)

	item, err = f.manager.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, manual.StatusProcessed, item.Status)
}

func TestRetryOnlyFromError(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.seed(t, "https://example.com/manual.pdf")

	err := f.manager.Retry(ctx, id)
	assert.ErrorIs(t, err, manual.ErrInvalidTransition)
}

func TestProcessDownloadsWhenPathMissing(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	id := f.seed(t, "https://example.com/late.pdf")

	// Force the item into downloaded without a stored PDF, then queue it.
	require.NoError(t, f.store.UpdateItemStatus(ctx, id, manual.StatusApproved))
	require.NoError(t, f.store.SetItemDownloaded(ctx, id, ""))
	require.NoError(t, f.manager.Enqueue(ctx, id))

	item, err := f.manager.ProcessNext(ctx)
	require.NoError(t, err)
	assert.Equal(t, manual.StatusProcessed, item.Status)
	assert.True(t, strings.HasSuffix(item.PDFPath, "late.pdf"))
	assert.Equal(t, 1, f.fetcher.hits)
}

func TestDeleteQueuedItemCompacts(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.seed(t, "https://example.com/a.pdf")
	b := f.seed(t, "https://example.com/b.pdf")

	for _, id := range []int64{a, b} {
		_, err := f.manager.Approve(ctx, id)
		require.NoError(t, err)
		require.NoError(t, f.manager.Enqueue(ctx, id))
	}

	require.NoError(t, f.manager.Delete(ctx, a))

	_, err := f.store.GetItem(ctx, a)
	assert.ErrorIs(t, err, manual.ErrNotFound)

	item, err := f.store.GetItem(ctx, b)
	require.NoError(t, err)
	require.NotNil(t, item.QueuePosition)
	assert.Equal(t, 1, *item.QueuePosition)
}

func TestConsumerDrainsQueue(t *testing.T) {
	enricher := manual.EnricherFunc(func(context.Context, manual.Item) (manual.Enrichment, error) {
		return manual.Enrichment{Description: "done"}, nil
	})
	f := newFixture(t, enricher)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ids := []int64{
		f.seed(t, "https://example.com/one.pdf"),
		f.seed(t, "https://example.com/two.pdf"),
	}
	for _, id := range ids {
		_, err := f.manager.Approve(ctx, id)
		require.NoError(t, err)
		require.NoError(t, f.manager.Enqueue(ctx, id))
	}

	consumer := NewConsumer(f.manager, 10*time.Millisecond, zap.NewNop())
	go consumer.Run(ctx)

	require.Eventually(t, func() bool {
		for _, id := range ids {
			item, err := f.store.GetItem(ctx, id)
			if err != nil || item.Status != manual.StatusProcessed {
				return false
			}
		}
		return true
	}, 2*time.Second, 20*time.Millisecond)

	n, err := f.queue.Len(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}
