package crawl

import (
	"context"
	"fmt"
	"sync"

	"github.com/mechdocs/harvester/internal/manual"
)

// Dedup suppresses duplicate candidates in two layers: a run-scoped session
// set shared by every worker of a job, and (optionally) the persistent store
// of prior runs. It is owned by the coordinator and passed into each worker.
type Dedup struct {
	mu         sync.Mutex
	seen       map[string]struct{}
	store      manual.CandidateStore
	persistent bool
}

// NewDedup builds a Dedup scoped to one job run. persistent enables the
// store lookup against earlier runs.
func NewDedup(store manual.CandidateStore, persistent bool) *Dedup {
	return &Dedup{
		seen:       make(map[string]struct{}),
		store:      store,
		persistent: persistent,
	}
}

// Claim atomically test-and-sets the URL in the session layer, then checks
// the persistent layer outside the lock. It returns true when the URL is
// fresh. A store lookup failure returns fresh=true with the error so the
// caller can fall through to the store's own idempotent insert.
func (d *Dedup) Claim(ctx context.Context, url string) (bool, error) {
	d.mu.Lock()
	if _, dup := d.seen[url]; dup {
		d.mu.Unlock()
		return false, nil
	}
	d.seen[url] = struct{}{}
	d.mu.Unlock()

	if !d.persistent || d.store == nil {
		return true, nil
	}
	// Store lookup deliberately happens after releasing the mutex.
	exists, err := d.store.ExistsByURL(ctx, url)
	if err != nil {
		return true, fmt.Errorf("persistent dedup lookup: %w", err)
	}
	if exists {
		return false, nil
	}
	return true, nil
}

// Len reports how many URLs have been claimed this run.
func (d *Dedup) Len() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.seen)
}
