// Package fetch implements the page fetcher using the Colly collector.
package fetch

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/manual"
)

// Config controls outbound fetch behavior.
type Config struct {
	UserAgent string
	Timeout   time.Duration
	// MaxBodyBytes caps the response body; 0 means the Colly default.
	MaxBodyBytes int
	Concurrency  int
}

// CollyFetcher implements manual.Fetcher using a shared base collector that
// is cloned per request.
type CollyFetcher struct {
	base   *colly.Collector
	logger *zap.Logger
}

// New constructs a configured Colly-based fetcher.
func New(cfg Config, logger *zap.Logger) (*CollyFetcher, error) {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.Concurrency <= 0 {
		cfg.Concurrency = 5
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	base := colly.NewCollector(
		colly.Async(false),
		colly.UserAgent(cfg.UserAgent),
	)
	base.AllowURLRevisit = true
	if cfg.MaxBodyBytes > 0 {
		base.MaxBodySize = cfg.MaxBodyBytes
	}
	base.WithTransport(&http.Transport{
		Proxy:                 http.ProxyFromEnvironment,
		MaxIdleConns:          64,
		MaxIdleConnsPerHost:   16,
		MaxConnsPerHost:       cfg.Concurrency * 2,
		IdleConnTimeout:       30 * time.Second,
		TLSHandshakeTimeout:   10 * time.Second,
		ResponseHeaderTimeout: cfg.Timeout,
		ForceAttemptHTTP2:     true,
	})
	base.SetRequestTimeout(cfg.Timeout)

	return &CollyFetcher{base: base, logger: logger}, nil
}

type fetchOutcome struct {
	result manual.FetchResult
	err    error
}

// Fetch retrieves a single URL via a cloned collector. Non-2xx statuses are
// surfaced through Colly's error callback and returned as errors.
func (f *CollyFetcher) Fetch(ctx context.Context, rawURL string) (manual.FetchResult, error) {
	collector := f.base.Clone()
	resultCh := make(chan fetchOutcome, 1)
	var once sync.Once
	send := func(out fetchOutcome) {
		once.Do(func() { resultCh <- out })
	}
	start := time.Now()

	collector.OnResponse(func(r *colly.Response) {
		contentType := ""
		size := int64(len(r.Body))
		if r.Headers != nil {
			contentType = r.Headers.Get("Content-Type")
			if cl := r.Headers.Get("Content-Length"); cl != "" {
				if parsed, err := strconv.ParseInt(cl, 10, 64); err == nil && parsed > 0 {
					size = parsed
				}
			}
		}
		send(fetchOutcome{result: manual.FetchResult{
			URL:         rawURL,
			FinalURL:    r.Request.URL.String(),
			StatusCode:  r.StatusCode,
			ContentType: contentType,
			Body:        append([]byte(nil), r.Body...),
			SizeBytes:   size,
			Duration:    time.Since(start),
		}})
	})

	collector.OnError(func(r *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		f.logger.Debug("fetch failed", zap.String("url", rawURL), zap.Error(err))
		send(fetchOutcome{err: err})
	})

	if err := collector.Visit(rawURL); err != nil {
		return manual.FetchResult{}, err
	}
	collector.Wait()

	select {
	case out := <-resultCh:
		if err := ctx.Err(); err != nil {
			return manual.FetchResult{}, err
		}
		return out.result, out.err
	default:
		return manual.FetchResult{}, errors.New("fetch produced no result")
	}
}

// ProbeSize issues a HEAD request and returns the advertised Content-Length.
// Servers that omit the header yield 0 with no error.
func (f *CollyFetcher) ProbeSize(ctx context.Context, rawURL string) (int64, error) {
	collector := f.base.Clone()
	resultCh := make(chan fetchOutcome, 1)
	var once sync.Once
	send := func(out fetchOutcome) {
		once.Do(func() { resultCh <- out })
	}

	collector.OnResponse(func(r *colly.Response) {
		var size int64
		if r.Headers != nil {
			if cl := r.Headers.Get("Content-Length"); cl != "" {
				if parsed, err := strconv.ParseInt(cl, 10, 64); err == nil && parsed > 0 {
					size = parsed
				}
			}
		}
		send(fetchOutcome{result: manual.FetchResult{SizeBytes: size}})
	})
	collector.OnError(func(_ *colly.Response, err error) {
		if err == nil {
			err = errors.New("unknown colly error")
		}
		send(fetchOutcome{err: err})
	})

	if err := collector.Head(rawURL); err != nil {
		return 0, err
	}
	collector.Wait()

	select {
	case out := <-resultCh:
		if err := ctx.Err(); err != nil {
			return 0, err
		}
		return out.result.SizeBytes, out.err
	default:
		return 0, errors.New("head produced no result")
	}
}
