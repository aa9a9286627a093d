package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/manual"
)

type errorResponse struct {
	Error string `json:"error"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}

// writeDomainError maps domain sentinels onto HTTP statuses.
func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, manual.ErrNotFound):
		writeError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, manual.ErrInvalidTransition), errors.Is(err, manual.ErrNotQueued):
		writeError(w, http.StatusConflict, err.Error())
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func itemID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// crawlRequest mirrors manual.CrawlOptions but keeps the boolean flags as
// pointers so an omitted flag falls back to the server default while an
// explicit false is still honored. The shallower fields shadow the embedded
// ones during JSON decoding.
type crawlRequest struct {
	manual.CrawlOptions
	FollowLinks        *bool `json:"follow_links"`
	ExtractDirectories *bool `json:"extract_directories"`
	SkipDuplicates     *bool `json:"skip_duplicates"`
}

// options resolves the request against the configured defaults: absent
// fields take the default, present fields win as sent.
func (req crawlRequest) options(defaults manual.CrawlOptions) manual.CrawlOptions {
	opts := req.CrawlOptions
	opts.FollowLinks = boolOr(req.FollowLinks, defaults.FollowLinks)
	opts.ExtractDirectories = boolOr(req.ExtractDirectories, defaults.ExtractDirectories)
	opts.SkipDuplicates = boolOr(req.SkipDuplicates, defaults.SkipDuplicates)
	if len(opts.Extensions) == 0 {
		opts.Extensions = defaults.Extensions
	}
	if len(opts.ExcludeTerms) == 0 {
		opts.ExcludeTerms = defaults.ExcludeTerms
	}
	if opts.MaxDepth == 0 {
		opts.MaxDepth = defaults.MaxDepth
	}
	if opts.Concurrency == 0 {
		opts.Concurrency = defaults.Concurrency
	}
	if opts.MaxPagesPerSite == 0 {
		opts.MaxPagesPerSite = defaults.MaxPagesPerSite
	}
	if opts.MaxLinksPerPage == 0 {
		opts.MaxLinksPerPage = defaults.MaxLinksPerPage
	}
	if opts.DirectoryThreshold == 0 {
		opts.DirectoryThreshold = defaults.DirectoryThreshold
	}
	return opts
}

func boolOr(v *bool, def bool) bool {
	if v != nil {
		return *v
	}
	return def
}

// --- crawl jobs ---

func (s *Server) handleStartCrawl(w http.ResponseWriter, r *http.Request) {
	var req crawlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Seeds) == 0 {
		writeError(w, http.StatusBadRequest, "at least one seed is required")
		return
	}
	opts := req.options(s.cfg.Defaults)

	job, err := s.crawler.Submit(r.Context(), opts)
	if err != nil {
		writeDomainError(w, err)
		return
	}

	s.mu.Lock()
	base := s.baseCtx
	s.mu.Unlock()
	runCtx, cancel := context.WithCancel(base)
	s.registerCancel(job.ID, cancel)

	go func() {
		defer s.dropCancel(job.ID)
		defer cancel()
		if _, err := s.crawler.Run(runCtx, job); err != nil {
			s.logger.Error("crawl run failed", zap.String("job_id", job.ID), zap.Error(err))
		}
	}()

	writeJSON(w, http.StatusAccepted, job)
}

func (s *Server) handleListCrawls(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	jobs, err := s.jobs.ListJobs(r.Context(), limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, jobs)
}

func (s *Server) handleGetCrawl(w http.ResponseWriter, r *http.Request) {
	job, err := s.jobs.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (s *Server) handleStopCrawl(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "id")
	if !s.cancelJob(jobID) {
		writeError(w, http.StatusConflict, ErrUnknownJob.Error())
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"id": jobID, "status": "stopping"})
}

// --- items ---

func (s *Server) handleListItems(w http.ResponseWriter, r *http.Request) {
	status := manual.Status(r.URL.Query().Get("status"))
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	items, err := s.items.ListItems(r.Context(), status, limit)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if items == nil {
		items = []manual.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleGetItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	item, err := s.items.GetItem(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleApproveItem(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	item, err := s.lifecycle.Approve(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

func (s *Server) handleRejectItem(w http.ResponseWriter, r *http.Request) {
	s.itemAction(w, r, s.lifecycle.Reject)
}

func (s *Server) handleRetryItem(w http.ResponseWriter, r *http.Request) {
	s.itemAction(w, r, s.lifecycle.Retry)
}

func (s *Server) handlePublishItem(w http.ResponseWriter, r *http.Request) {
	s.itemAction(w, r, s.lifecycle.Publish)
}

func (s *Server) handleDeleteItem(w http.ResponseWriter, r *http.Request) {
	s.itemAction(w, r, s.lifecycle.Delete)
}

// itemAction runs a lifecycle mutation and responds with the updated item,
// or 204 when the item no longer exists.
func (s *Server) itemAction(w http.ResponseWriter, r *http.Request, fn func(context.Context, int64) error) {
	id, err := itemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	if err := fn(r.Context(), id); err != nil {
		writeDomainError(w, err)
		return
	}
	item, err := s.items.GetItem(r.Context(), id)
	if errors.Is(err, manual.ErrNotFound) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// --- queue ---

func (s *Server) handleListQueue(w http.ResponseWriter, r *http.Request) {
	items, err := s.queue.List(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if items == nil {
		items = []manual.Item{}
	}
	writeJSON(w, http.StatusOK, items)
}

func (s *Server) handleQueueAdd(w http.ResponseWriter, r *http.Request) {
	s.itemAction(w, r, s.queue.Add)
}

func (s *Server) handleQueueRemove(w http.ResponseWriter, r *http.Request) {
	s.itemAction(w, r, s.queue.Remove)
}

func (s *Server) handleQueueUp(w http.ResponseWriter, r *http.Request) {
	s.itemAction(w, r, s.queue.MoveUp)
}

func (s *Server) handleQueueDown(w http.ResponseWriter, r *http.Request) {
	s.itemAction(w, r, s.queue.MoveDown)
}

func (s *Server) handleQueueMove(w http.ResponseWriter, r *http.Request) {
	id, err := itemID(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid item id")
		return
	}
	var body struct {
		Position int `json:"position"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if err := s.queue.MoveTo(r.Context(), id, body.Position); err != nil {
		writeDomainError(w, err)
		return
	}
	item, err := s.items.GetItem(r.Context(), id)
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, item)
}

// --- misc ---

func (s *Server) handleListSites(w http.ResponseWriter, r *http.Request) {
	sites, err := s.items.ListScrapedSites(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	if sites == nil {
		sites = []manual.ScrapedSite{}
	}
	writeJSON(w, http.StatusOK, sites)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	counts, err := s.items.CountByStatus(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	queued, err := s.queue.Len(r.Context())
	if err != nil {
		writeDomainError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"items_by_status": counts,
		"queue_depth":     queued,
	})
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		writeError(w, http.StatusNotFound, "event buffer disabled")
		return
	}
	writeJSON(w, http.StatusOK, s.events.Recent())
}
