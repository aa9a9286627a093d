// Package api exposes the harvester's HTTP surface: crawl job control,
// item review, queue management, live events and metrics.
package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/crawl"
	"github.com/mechdocs/harvester/internal/lifecycle"
	"github.com/mechdocs/harvester/internal/manual"
	"github.com/mechdocs/harvester/internal/metrics"
	"github.com/mechdocs/harvester/internal/progress/sinks"
	"github.com/mechdocs/harvester/internal/queue"
)

// ItemStore is the read/list surface the API needs beyond the managers.
type ItemStore interface {
	GetItem(ctx context.Context, id int64) (manual.Item, error)
	ListItems(ctx context.Context, status manual.Status, limit int) ([]manual.Item, error)
	CountByStatus(ctx context.Context) (map[manual.Status]int, error)
	ListScrapedSites(ctx context.Context) ([]manual.ScrapedSite, error)
}

// Config controls the HTTP server.
type Config struct {
	Addr string
	// APIKey guards the /v1 routes when non-empty; health and metrics stay open.
	APIKey         string
	RequestTimeout time.Duration
	// Defaults fill crawl option fields a client request leaves unset.
	Defaults manual.CrawlOptions
}

// Server is the harvester HTTP API.
type Server struct {
	cfg       Config
	router    chi.Router
	logger    *zap.Logger
	items     ItemStore
	jobs      manual.JobStore
	crawler   *crawl.Coordinator
	queue     *queue.Manager
	lifecycle *lifecycle.Manager
	events    *sinks.MemorySink

	mu      sync.Mutex
	cancels map[string]context.CancelFunc
	// baseCtx parents every crawl run so shutdown stops them all.
	baseCtx context.Context
}

// NewServer wires the router. events may be nil, disabling /v1/events.
func NewServer(
	cfg Config,
	items ItemStore,
	jobs manual.JobStore,
	crawler *crawl.Coordinator,
	q *queue.Manager,
	lc *lifecycle.Manager,
	events *sinks.MemorySink,
	logger *zap.Logger,
) *Server {
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 60 * time.Second
	}
	s := &Server{
		cfg:       cfg,
		logger:    logger.Named("api"),
		items:     items,
		jobs:      jobs,
		crawler:   crawler,
		queue:     q,
		lifecycle: lc,
		events:    events,
		cancels:   make(map[string]context.CancelFunc),
		baseCtx:   context.Background(),
	}
	s.router = s.routes()
	return s
}

// SetBaseContext sets the parent context for background crawl runs. Cancel
// it to stop every running job.
func (s *Server) SetBaseContext(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.baseCtx = ctx
}

// Handler returns the fully assembled router.
func (s *Server) Handler() http.Handler {
	return s.router
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(s.cfg.RequestTimeout))

	r.Get("/healthz", s.handleHealthz)
	r.Get("/readyz", s.handleReadyz)
	r.Method(http.MethodGet, "/metrics", metrics.Handler())

	r.Route("/v1", func(r chi.Router) {
		if s.cfg.APIKey != "" {
			r.Use(s.requireAPIKey)
		}

		r.Route("/crawls", func(r chi.Router) {
			r.Post("/", s.handleStartCrawl)
			r.Get("/", s.handleListCrawls)
			r.Get("/{id}", s.handleGetCrawl)
			r.Post("/{id}/stop", s.handleStopCrawl)
		})

		r.Route("/items", func(r chi.Router) {
			r.Get("/", s.handleListItems)
			r.Get("/{id}", s.handleGetItem)
			r.Post("/{id}/approve", s.handleApproveItem)
			r.Post("/{id}/reject", s.handleRejectItem)
			r.Post("/{id}/retry", s.handleRetryItem)
			r.Post("/{id}/publish", s.handlePublishItem)
			r.Delete("/{id}", s.handleDeleteItem)
		})

		r.Route("/queue", func(r chi.Router) {
			r.Get("/", s.handleListQueue)
			r.Post("/{id}", s.handleQueueAdd)
			r.Delete("/{id}", s.handleQueueRemove)
			r.Post("/{id}/up", s.handleQueueUp)
			r.Post("/{id}/down", s.handleQueueDown)
			r.Post("/{id}/move", s.handleQueueMove)
		})

		r.Get("/sites", s.handleListSites)
		r.Get("/stats", s.handleStats)
		r.Get("/events", s.handleEvents)
	})

	return r
}

func (s *Server) handleHealthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleReadyz(w http.ResponseWriter, r *http.Request) {
	// Ready means the store answers queries.
	if _, err := s.items.CountByStatus(r.Context()); err != nil {
		writeError(w, http.StatusServiceUnavailable, "store unavailable")
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// registerCancel tracks the cancel function of a running job.
func (s *Server) registerCancel(jobID string, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cancels[jobID] = cancel
}

func (s *Server) dropCancel(jobID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cancels, jobID)
}

// cancelJob fires the cancel for a running job; false when unknown.
func (s *Server) cancelJob(jobID string) bool {
	s.mu.Lock()
	cancel, ok := s.cancels[jobID]
	s.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// ErrUnknownJob reports a stop request for a job that is not running.
var ErrUnknownJob = errors.New("job is not running")
