// Package metrics exposes Prometheus collectors for the harvester service.
package metrics

import (
	"net/http"
	"net/url"
	"strings"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesFetchedTotal    *prometheus.CounterVec
	fetchErrorsTotal     *prometheus.CounterVec
	candidatesTotal      *prometheus.CounterVec
	crawlJobsTotal       *prometheus.CounterVec
	activeCrawlWorkers   prometheus.Gauge
	processingQueueDepth prometheus.Gauge

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		pagesFetchedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_pages_fetched_total",
				Help: "Total number of pages fetched during crawls, labeled by site.",
			},
			[]string{"site"},
		)

		fetchErrorsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_fetch_errors_total",
				Help: "Total number of failed page fetches, labeled by site.",
			},
			[]string{"site"},
		)

		candidatesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_candidates_total",
				Help: "Total discovered candidates, labeled by outcome (saved, duplicate, filtered).",
			},
			[]string{"outcome"},
		)

		crawlJobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "harvester_crawl_jobs_total",
				Help: "Total number of crawl jobs run, labeled by final status.",
			},
			[]string{"status"},
		)

		activeCrawlWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_active_crawl_workers",
				Help: "Number of site crawler workers currently running.",
			},
		)

		processingQueueDepth = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "harvester_processing_queue_depth",
				Help: "Number of items currently in the processing queue.",
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// The observe helpers are no-ops until Init runs, so library code can call
// them unconditionally.

// ObserveFetch counts a completed page fetch.
func ObserveFetch(site string, failed bool) {
	if pagesFetchedTotal == nil {
		return
	}
	sanitized := SanitizeSite(site)
	if failed {
		fetchErrorsTotal.WithLabelValues(sanitized).Inc()
		return
	}
	pagesFetchedTotal.WithLabelValues(sanitized).Inc()
}

// ObserveCandidate counts a candidate decision outcome.
func ObserveCandidate(outcome string) {
	if candidatesTotal == nil {
		return
	}
	candidatesTotal.WithLabelValues(outcome).Inc()
}

// ObserveJob increments the job counter for the given final status.
func ObserveJob(status string) {
	if crawlJobsTotal == nil {
		return
	}
	crawlJobsTotal.WithLabelValues(status).Inc()
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeCrawlWorkers == nil {
		return
	}
	activeCrawlWorkers.Inc()
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeCrawlWorkers == nil {
		return
	}
	activeCrawlWorkers.Dec()
}

// SetQueueDepth records the current processing queue length.
func SetQueueDepth(n int) {
	if processingQueueDepth == nil {
		return
	}
	processingQueueDepth.Set(float64(n))
}
