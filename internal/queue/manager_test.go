package queue

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mechdocs/harvester/internal/manual"
	"github.com/mechdocs/harvester/internal/store/sqlite"
)

func newTestManager(t *testing.T) (*Manager, *sqlite.Store) {
	t.Helper()
	store, err := sqlite.Open(sqlite.Config{Path: ":memory:"})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return NewManager(store, nil), store
}

func seedDownloaded(t *testing.T, store *sqlite.Store, url string) int64 {
	t.Helper()
	ctx := context.Background()
	outcome, err := store.SaveIfNew(ctx, manual.Candidate{
		URL:          url,
		SourceSite:   "https://example.com",
		DiscoveredAt: time.Now().UTC(),
	})
	require.NoError(t, err)
	require.Equal(t, manual.Saved, outcome)

	items, err := store.ListItems(ctx, manual.StatusPending, 0)
	require.NoError(t, err)
	var id int64
	for _, item := range items {
		if item.URL == url {
			id = item.ID
		}
	}
	require.NotZero(t, id)
	require.NoError(t, store.UpdateItemStatus(ctx, id, manual.StatusApproved))
	require.NoError(t, store.SetItemDownloaded(ctx, id, "data/pdfs/x.pdf"))
	return id
}

func assertOrder(t *testing.T, m *Manager, want []int64) {
	t.Helper()
	items, err := m.List(context.Background())
	require.NoError(t, err)
	got := make([]int64, 0, len(items))
	for i, item := range items {
		require.NotNil(t, item.QueuePosition)
		require.Equal(t, i+1, *item.QueuePosition)
		got = append(got, item.ID)
	}
	assert.Equal(t, want, got)
}

func TestManagerOrderingOps(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	a := seedDownloaded(t, store, "https://example.com/a.pdf")
	b := seedDownloaded(t, store, "https://example.com/b.pdf")
	c := seedDownloaded(t, store, "https://example.com/c.pdf")

	require.NoError(t, m.Add(ctx, a))
	require.NoError(t, m.Add(ctx, b))
	require.NoError(t, m.Add(ctx, c))
	assertOrder(t, m, []int64{a, b, c})

	require.NoError(t, m.MoveUp(ctx, c))
	assertOrder(t, m, []int64{a, c, b})

	require.NoError(t, m.MoveDown(ctx, a))
	assertOrder(t, m, []int64{c, a, b})

	// Extremities are no-ops, not errors.
	require.NoError(t, m.MoveUp(ctx, c))
	require.NoError(t, m.MoveDown(ctx, b))
	assertOrder(t, m, []int64{c, a, b})

	require.NoError(t, m.MoveTo(ctx, b, 1))
	assertOrder(t, m, []int64{b, c, a})

	require.NoError(t, m.Remove(ctx, c))
	assertOrder(t, m, []int64{b, a})

	n, err := m.Len(ctx)
	require.NoError(t, err)
	assert.Equal(t, 2, n)
}

func TestManagerMoveNotQueued(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	id := seedDownloaded(t, store, "https://example.com/solo.pdf")

	err := m.MoveUp(ctx, id)
	assert.ErrorIs(t, err, manual.ErrNotQueued)

	err = m.MoveUp(ctx, 999)
	assert.ErrorIs(t, err, manual.ErrNotFound)
}

func TestManagerNextForProcessing(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()
	a := seedDownloaded(t, store, "https://example.com/na.pdf")
	b := seedDownloaded(t, store, "https://example.com/nb.pdf")
	require.NoError(t, m.Add(ctx, a))
	require.NoError(t, m.Add(ctx, b))

	item, err := m.NextForProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, item.ID)
	assert.Equal(t, manual.StateQueued, item.State)

	// Without an explicit claim the same head comes back.
	item, err = m.NextForProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, a, item.ID)

	require.NoError(t, store.SetProcessingState(ctx, a, manual.StateDownloading))
	item, err = m.NextForProcessing(ctx)
	require.NoError(t, err)
	assert.Equal(t, b, item.ID)

	require.NoError(t, store.SetProcessingState(ctx, b, manual.StateDownloading))
	_, err = m.NextForProcessing(ctx)
	assert.ErrorIs(t, err, manual.ErrNotFound)
}

func TestManagerConcurrentMutationsKeepPositionsDense(t *testing.T) {
	m, store := newTestManager(t)
	ctx := context.Background()

	ids := make([]int64, 0, 8)
	for _, name := range []string{"p1", "p2", "p3", "p4", "p5", "p6", "p7", "p8"} {
		id := seedDownloaded(t, store, "https://example.com/"+name+".pdf")
		ids = append(ids, id)
		require.NoError(t, m.Add(ctx, id))
	}

	var wg sync.WaitGroup
	for i, id := range ids {
		wg.Add(1)
		go func(i int, id int64) {
			defer wg.Done()
			switch i % 3 {
			case 0:
				assert.NoError(t, m.MoveUp(ctx, id))
			case 1:
				assert.NoError(t, m.MoveDown(ctx, id))
			default:
				assert.NoError(t, m.MoveTo(ctx, id, 1))
			}
		}(i, id)
	}
	wg.Wait()

	items, err := m.List(ctx)
	require.NoError(t, err)
	require.Len(t, items, len(ids))
	for i, item := range items {
		require.NotNil(t, item.QueuePosition)
		assert.Equal(t, i+1, *item.QueuePosition)
	}
}
