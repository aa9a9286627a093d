package crawl

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/mechdocs/harvester/internal/manual"
	"github.com/mechdocs/harvester/internal/metrics"
	"github.com/mechdocs/harvester/internal/progress"
)

// frontierItem is one pending page visit in the breadth-first worklist.
type frontierItem struct {
	url   string
	depth int
}

// siteCrawler walks a single seed site breadth-first, bounded by depth and a
// per-site page cap, emitting accepted candidates to the store as soon as
// they are found.
type siteCrawler struct {
	jobID     string
	opts      manual.CrawlOptions
	fetcher   manual.Fetcher
	store     manual.CandidateStore
	filter    *Filter
	extractor *Extractor
	dedup     *Dedup
	hub       *progress.Hub
	logger    *zap.Logger
	clock     manual.Clock
}

// run crawls one seed to completion or until the context is canceled. Page
// failures are isolated; only a seed-level failure (first fetch) is recorded
// as a SeedError. The returned summary covers this seed only.
func (c *siteCrawler) run(ctx context.Context, seed string) manual.JobSummary {
	var summary manual.JobSummary

	seed = ensureScheme(seed)
	frontier := []frontierItem{{url: normalizeURL(seed), depth: 0}}
	visited := make(map[string]struct{})

	pageCap := c.opts.MaxPagesPerSite
	if pageCap <= 0 {
		pageCap = 200
	}
	attempts := 0

	for len(frontier) > 0 {
		// Cooperative stop: in-flight fetches finish, new pages do not start.
		if ctx.Err() != nil {
			c.logger.Info("crawl stop requested", zap.String("seed", seed))
			break
		}
		if attempts >= pageCap {
			c.logger.Warn("per-site page cap reached",
				zap.String("seed", seed),
				zap.Int("cap", pageCap),
			)
			break
		}

		item := frontier[0]
		frontier = frontier[1:]
		if _, ok := visited[item.url]; ok {
			continue
		}
		visited[item.url] = struct{}{}
		if item.depth > c.opts.MaxDepth {
			continue
		}
		attempts++

		res, err := c.fetcher.Fetch(ctx, item.url)
		if err != nil {
			metrics.ObserveFetch(seed, true)
			c.logger.Warn("page fetch failed",
				zap.String("url", item.url),
				zap.Int("depth", item.depth),
				zap.Error(err),
			)
			if item.depth == 0 {
				summary.Errors = append(summary.Errors, manual.SeedError{
					Seed:    seed,
					Message: err.Error(),
				})
			}
			continue
		}
		summary.PagesVisited++
		metrics.ObserveFetch(seed, false)

		// A direct PDF response is itself the candidate; nothing to descend into.
		if isPDFContent(res.ContentType) || c.filter.HasAllowedExtension(item.url) {
			c.handleCandidate(ctx, seed, LinkRef{URL: item.url, Text: baseName(item.url)}, res.SizeBytes, &summary)
			continue
		}

		links, err := c.extractor.Extract(res.FinalURL, res.Body)
		if err != nil {
			c.logger.Warn("link extraction failed", zap.String("url", item.url), zap.Error(err))
			continue
		}

		for _, pdf := range links.PDFs {
			c.handleCandidate(ctx, seed, pdf, 0, &summary)
		}

		if c.opts.ExtractDirectories && links.IsDirectory {
			c.emit(progress.LevelInfo, seed, item.url, "directory page with %d PDF links: %s", len(links.PDFs), item.url)
		}

		if c.opts.FollowLinks && item.depth < c.opts.MaxDepth {
			pushed := 0
			for _, child := range links.HTML {
				if c.opts.MaxLinksPerPage > 0 && pushed >= c.opts.MaxLinksPerPage {
					break
				}
				if _, ok := visited[child]; ok {
					continue
				}
				frontier = append(frontier, frontierItem{url: child, depth: item.depth + 1})
				pushed++
			}
		}
	}

	return summary
}

// handleCandidate runs a discovered PDF link through filter, dedup and the
// persistence sink, updating the per-seed summary.
func (c *siteCrawler) handleCandidate(ctx context.Context, seed string, link LinkRef, sizeBytes int64, summary *manual.JobSummary) {
	summary.Found++

	if sizeBytes <= 0 && c.filter.NeedsSize() {
		if prober, ok := c.fetcher.(manual.SizeProber); ok {
			if probed, err := prober.ProbeSize(ctx, link.URL); err == nil {
				sizeBytes = probed
			}
		}
	}

	verdict := c.filter.Decide(link.URL, link.Text, sizeBytes)
	if !verdict.Accept {
		summary.FilteredOut++
		metrics.ObserveCandidate("filtered")
		c.emit(progress.LevelDebug, seed, link.URL, "filtered (%s): %s", verdict.Reason, link.URL)
		return
	}

	fresh, err := c.dedup.Claim(ctx, link.URL)
	if err != nil {
		// Fall through to the idempotent insert; the unique index settles it.
		c.logger.Warn("persistent dedup check failed", zap.String("url", link.URL), zap.Error(err))
	}
	if !fresh {
		summary.Duplicates++
		metrics.ObserveCandidate("duplicate")
		return
	}

	candidate := manual.Candidate{
		URL:          link.URL,
		SourceSite:   seed,
		Title:        link.Text,
		DiscoveredAt: c.clock.Now(),
		SizeBytes:    sizeBytes,
		JobID:        c.jobID,
	}
	outcome, err := c.store.SaveIfNew(ctx, candidate)
	if err != nil {
		summary.Errors = append(summary.Errors, manual.SeedError{Seed: seed, Message: err.Error()})
		c.logger.Error("candidate save failed", zap.String("url", link.URL), zap.Error(err))
		return
	}
	switch outcome {
	case manual.Saved:
		summary.Saved++
		metrics.ObserveCandidate("saved")
		c.emit(progress.LevelInfo, seed, link.URL, "saved candidate: %s", titleOrURL(link))
		if domain := hostOf(link.URL); domain != "" {
			if err := c.store.TouchScrapedSite(ctx, domain, c.clock.Now()); err != nil {
				c.logger.Warn("scraped site upsert failed", zap.String("domain", domain), zap.Error(err))
			}
		}
	case manual.Duplicate:
		summary.Duplicates++
		metrics.ObserveCandidate("duplicate")
	}
}

func (c *siteCrawler) emit(level progress.Level, site, url, format string, args ...any) {
	if c.hub == nil {
		return
	}
	evt := progress.Event{
		TS:      c.clock.Now(),
		Level:   level,
		Message: fmt.Sprintf(format, args...),
		JobID:   c.jobID,
		Site:    metrics.SanitizeSite(site),
		URL:     url,
	}
	c.hub.Emit(evt)
}

func titleOrURL(link LinkRef) string {
	if link.Text != "" {
		return link.Text
	}
	return link.URL
}

func isPDFContent(contentType string) bool {
	return strings.Contains(strings.ToLower(contentType), "application/pdf")
}
