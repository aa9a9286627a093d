// Package lifecycle drives items through the review, download and
// enrichment pipeline, enforcing the status state machine at every step.
package lifecycle

import (
	"context"
	"fmt"
	"net/url"
	"path"

	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/manual"
	"github.com/mechdocs/harvester/internal/progress"
	"github.com/mechdocs/harvester/internal/queue"
)

// Store is the persistence surface the lifecycle manager needs.
type Store interface {
	GetItem(ctx context.Context, id int64) (manual.Item, error)
	UpdateItemStatus(ctx context.Context, id int64, to manual.Status) error
	SetItemError(ctx context.Context, id int64, msg string) error
	SetItemDownloaded(ctx context.Context, id int64, pdfPath string) error
	SetItemPDFPath(ctx context.Context, id int64, pdfPath string) error
	SetItemEnrichment(ctx context.Context, id int64, e manual.Enrichment) error
	SetProcessingState(ctx context.Context, id int64, state manual.ProcessingState) error
	DeleteItem(ctx context.Context, id int64) error
}

// Manager executes lifecycle operations on items. All transitions are
// validated against the state machine; an illegal request leaves the item
// untouched and returns manual.ErrInvalidTransition.
type Manager struct {
	store    Store
	queue    *queue.Manager
	fetcher  manual.Fetcher
	blobs    manual.BlobStore
	enricher manual.Enricher
	hub      *progress.Hub
	logger   *zap.Logger
	clock    manual.Clock
}

// NewManager wires a lifecycle manager. enricher and hub may be nil; a nil
// enricher makes processing a validation-only pass.
func NewManager(
	store Store,
	q *queue.Manager,
	fetcher manual.Fetcher,
	blobs manual.BlobStore,
	enricher manual.Enricher,
	hub *progress.Hub,
	logger *zap.Logger,
	clock manual.Clock,
) *Manager {
	return &Manager{
		store:    store,
		queue:    q,
		fetcher:  fetcher,
		blobs:    blobs,
		enricher: enricher,
		hub:      hub,
		logger:   logger.Named("lifecycle"),
		clock:    clock,
	}
}

// Approve accepts a pending item and immediately downloads its PDF. A failed
// download moves the item to the error status with the failure recorded; the
// approval itself stands.
func (m *Manager) Approve(ctx context.Context, id int64) (manual.Item, error) {
	if err := m.store.UpdateItemStatus(ctx, id, manual.StatusApproved); err != nil {
		return manual.Item{}, err
	}
	item, err := m.store.GetItem(ctx, id)
	if err != nil {
		return manual.Item{}, err
	}

	pdfPath, err := m.download(ctx, item)
	if err != nil {
		m.logger.Warn("download failed after approval",
			zap.Int64("item_id", id),
			zap.String("url", item.URL),
			zap.Error(err),
		)
		if serr := m.store.SetItemError(ctx, id, err.Error()); serr != nil {
			return manual.Item{}, serr
		}
		return m.store.GetItem(ctx, id)
	}
	if err := m.store.SetItemDownloaded(ctx, id, pdfPath); err != nil {
		return manual.Item{}, err
	}
	m.emit(progress.LevelInfo, item, "downloaded %s", item.URL)
	return m.store.GetItem(ctx, id)
}

// Reject declines a pending item. Rejected is terminal.
func (m *Manager) Reject(ctx context.Context, id int64) error {
	return m.store.UpdateItemStatus(ctx, id, manual.StatusRejected)
}

// Enqueue places a downloaded item into the processing queue.
func (m *Manager) Enqueue(ctx context.Context, id int64) error {
	return m.queue.Add(ctx, id)
}

// Retry re-enqueues an item that previously faulted. Only the error status
// may be retried.
func (m *Manager) Retry(ctx context.Context, id int64) error {
	item, err := m.store.GetItem(ctx, id)
	if err != nil {
		return err
	}
	if item.Status != manual.StatusError {
		return fmt.Errorf("%w: %s -> %s", manual.ErrInvalidTransition, item.Status, manual.StatusQueued)
	}
	return m.queue.Add(ctx, id)
}

// Publish moves a processed item to the listed status. Listed is terminal.
func (m *Manager) Publish(ctx context.Context, id int64) error {
	return m.store.UpdateItemStatus(ctx, id, manual.StatusListed)
}

// Delete removes an item entirely, compacting the queue if it held a slot.
func (m *Manager) Delete(ctx context.Context, id int64) error {
	return m.store.DeleteItem(ctx, id)
}

// ProcessNext takes the head-most waiting queue item, claims it by stamping
// the downloading state, and runs it through download (when still missing)
// and enrichment. manual.ErrNotFound means the queue had nothing waiting.
func (m *Manager) ProcessNext(ctx context.Context) (manual.Item, error) {
	item, err := m.queue.NextForProcessing(ctx)
	if err != nil {
		return manual.Item{}, err
	}
	if err := m.store.SetProcessingState(ctx, item.ID, manual.StateDownloading); err != nil {
		return manual.Item{}, err
	}
	return m.process(ctx, item)
}

func (m *Manager) process(ctx context.Context, item manual.Item) (manual.Item, error) {
	id := item.ID

	if item.PDFPath == "" {
		pdfPath, err := m.download(ctx, item)
		if err != nil {
			return m.fail(ctx, item, fmt.Errorf("download: %w", err))
		}
		if err := m.store.SetItemPDFPath(ctx, id, pdfPath); err != nil {
			return manual.Item{}, err
		}
		item.PDFPath = pdfPath
	}

	if err := m.store.UpdateItemStatus(ctx, id, manual.StatusProcessing); err != nil {
		return manual.Item{}, err
	}
	if err := m.store.SetProcessingState(ctx, id, manual.StateProcessing); err != nil {
		return manual.Item{}, err
	}

	if m.enricher != nil {
		enrichment, err := m.enricher.Enrich(ctx, item)
		if err != nil {
			return m.fail(ctx, item, fmt.Errorf("enrich: %w", err))
		}
		if err := m.store.SetItemEnrichment(ctx, id, enrichment); err != nil {
			return manual.Item{}, err
		}
	}

	if err := m.store.UpdateItemStatus(ctx, id, manual.StatusProcessed); err != nil {
		return manual.Item{}, err
	}
	if err := m.queue.Remove(ctx, id); err != nil {
		m.logger.Warn("dequeue after processing failed", zap.Int64("item_id", id), zap.Error(err))
	}
	// Stamp the final state after the dequeue so the compaction does not
	// clear it again.
	if err := m.store.SetProcessingState(ctx, id, manual.StateCompleted); err != nil {
		return manual.Item{}, err
	}
	m.emit(progress.LevelInfo, item, "processed %s", item.URL)
	return m.store.GetItem(ctx, id)
}

// fail parks a faulted item in the error status and drops it from the queue.
func (m *Manager) fail(ctx context.Context, item manual.Item, cause error) (manual.Item, error) {
	id := item.ID
	m.logger.Warn("processing failed",
		zap.Int64("item_id", id),
		zap.String("url", item.URL),
		zap.Error(cause),
	)
	if err := m.queue.Remove(ctx, id); err != nil {
		m.logger.Warn("dequeue after failure failed", zap.Int64("item_id", id), zap.Error(err))
	}
	if err := m.store.SetProcessingState(ctx, id, manual.StateFailed); err != nil {
		return manual.Item{}, err
	}
	if err := m.store.SetItemError(ctx, id, cause.Error()); err != nil {
		return manual.Item{}, err
	}
	m.emit(progress.LevelError, item, "processing failed for %s: %v", item.URL, cause)
	return m.store.GetItem(ctx, id)
}

// download fetches the item's PDF and stores it under pdfs/<id>/<name>.
func (m *Manager) download(ctx context.Context, item manual.Item) (string, error) {
	res, err := m.fetcher.Fetch(ctx, item.URL)
	if err != nil {
		return "", fmt.Errorf("fetch pdf: %w", err)
	}
	name := pdfObjectName(item)
	stored, err := m.blobs.PutObject(ctx, name, "application/pdf", res.Body)
	if err != nil {
		return "", fmt.Errorf("store pdf: %w", err)
	}
	return stored, nil
}

func pdfObjectName(item manual.Item) string {
	name := "document.pdf"
	if u, err := url.Parse(item.URL); err == nil {
		if base := path.Base(u.Path); base != "." && base != "/" && base != "" {
			name = base
		}
	}
	return fmt.Sprintf("pdfs/%d/%s", item.ID, name)
}

func (m *Manager) emit(level progress.Level, item manual.Item, format string, args ...any) {
	if m.hub == nil {
		return
	}
	m.hub.Emit(progress.Event{
		TS:      m.clock.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		JobID:   item.JobID,
		Site:    item.SourceSite,
		URL:     item.URL,
	})
}
