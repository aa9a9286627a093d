// Command harvester runs the PDF discovery crawler, the review/processing
// pipeline and the HTTP API as a single service.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"path"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/api"
	"github.com/mechdocs/harvester/internal/clock/system"
	"github.com/mechdocs/harvester/internal/config"
	"github.com/mechdocs/harvester/internal/crawl"
	"github.com/mechdocs/harvester/internal/fetch"
	"github.com/mechdocs/harvester/internal/id/uuid"
	"github.com/mechdocs/harvester/internal/lifecycle"
	"github.com/mechdocs/harvester/internal/logging"
	"github.com/mechdocs/harvester/internal/manual"
	"github.com/mechdocs/harvester/internal/metrics"
	"github.com/mechdocs/harvester/internal/progress"
	"github.com/mechdocs/harvester/internal/progress/sinks"
	"github.com/mechdocs/harvester/internal/queue"
	"github.com/mechdocs/harvester/internal/storage/local"
	"github.com/mechdocs/harvester/internal/store/sqlite"
)

func main() {
	configPath := flag.String("config", "", "path to config file (optional)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintf(os.Stderr, "harvester: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	logger, err := logging.New(cfg.Logging.Development)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	metrics.Init()

	store, err := sqlite.Open(sqlite.Config{
		Path:        cfg.DB.Path,
		BusyTimeout: time.Duration(cfg.DB.BusyTimeoutMs) * time.Millisecond,
		MaxRetries:  cfg.DB.MaxRetries,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer func() { _ = store.Close() }()

	blobs, err := local.New(cfg.Storage.DownloadDir)
	if err != nil {
		return err
	}

	fetcher, err := fetch.New(fetch.Config{
		UserAgent:   cfg.Crawl.UserAgent,
		Timeout:     cfg.FetchTimeout(),
		Concurrency: cfg.Crawl.Concurrency,
	}, logger)
	if err != nil {
		return err
	}

	memSink := sinks.NewMemorySink(500)
	hub := progress.NewHub(progress.Config{Logger: logger}, sinks.NewLogSink(logger.Named("progress")), memSink)

	clk := system.New()
	ids := uuid.New()

	q := queue.NewManager(store, logger)
	lc := lifecycle.NewManager(store, q, fetcher, blobs, basicEnricher(), hub, logger, clk)
	coordinator := crawl.NewCoordinator(fetcher, store, store, hub, logger, clk, ids)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consumer := lifecycle.NewConsumer(lc, time.Duration(cfg.Enrich.PollSeconds)*time.Second, logger)
	go consumer.Run(ctx)

	apiKey := ""
	if cfg.Auth.Enabled {
		apiKey = cfg.Auth.APIKey
	}
	server := api.NewServer(api.Config{
		Addr:     fmt.Sprintf(":%d", cfg.Server.Port),
		APIKey:   apiKey,
		Defaults: cfg.DefaultOptions(),
	}, store, store, coordinator, q, lc, memSink, logger)
	server.SetBaseContext(ctx)

	httpServer := &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("http server listening", zap.String("addr", httpServer.Addr))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http shutdown did not complete cleanly", zap.Error(err))
	}
	if err := hub.Close(shutdownCtx); err != nil {
		logger.Warn("progress hub close failed", zap.Error(err))
	}
	logger.Info("harvester stopped")
	return nil
}

// basicEnricher derives a description and tags from the item itself. It
// stands in until an external enrichment service is attached.
func basicEnricher() manual.Enricher {
	return manual.EnricherFunc(func(_ context.Context, item manual.Item) (manual.Enrichment, error) {
		title := item.Title
		if title == "" {
			if u, err := url.Parse(item.URL); err == nil {
				title = strings.TrimSuffix(path.Base(u.Path), path.Ext(u.Path))
			}
		}
		tags := make([]string, 0, 4)
		for _, word := range strings.FieldsFunc(strings.ToLower(title), func(r rune) bool {
			return r == ' ' || r == '-' || r == '_' || r == '.'
		}) {
			if len(word) > 2 {
				tags = append(tags, word)
			}
		}
		return manual.Enrichment{
			Description: title,
			Tags:        tags,
		}, nil
	})
}
