package crawl

import (
	"bytes"
	"fmt"
	"net/url"
	"strings"

	"github.com/PuerkitoBio/goquery"

	"github.com/mechdocs/harvester/internal/manual"
)

// LinkRef is a discovered PDF link with the anchor text that labeled it.
type LinkRef struct {
	URL  string
	Text string
}

// PageLinks is the classified link set extracted from one HTML page.
type PageLinks struct {
	PDFs []LinkRef
	HTML []string
	// IsDirectory is true when the page aggregates at least the configured
	// threshold of distinct PDF links. Heuristic only; it affects reporting,
	// not traversal.
	IsDirectory bool
}

// Extractor parses HTML bodies into absolute, classified links.
type Extractor struct {
	filter       *Filter
	threshold    int
	allowedHosts map[string]struct{}
}

// NewExtractor builds an Extractor sharing the filter's extension whitelist.
func NewExtractor(filter *Filter, opts manual.CrawlOptions) *Extractor {
	threshold := opts.DirectoryThreshold
	if threshold <= 0 {
		threshold = 3
	}
	allowed := make(map[string]struct{}, len(opts.AllowedHosts))
	for _, h := range opts.AllowedHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			allowed[h] = struct{}{}
		}
	}
	return &Extractor{filter: filter, threshold: threshold, allowedHosts: allowed}
}

// Extract resolves every anchor href against baseURL and splits the results
// into PDF links and same-domain HTML links. Fragment-only, javascript: and
// mailto: links are dropped, as are cross-domain links not whitelisted.
func (e *Extractor) Extract(baseURL string, body []byte) (PageLinks, error) {
	base, err := url.Parse(baseURL)
	if err != nil {
		return PageLinks{}, fmt.Errorf("parse base url: %w", err)
	}
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(body))
	if err != nil {
		return PageLinks{}, fmt.Errorf("parse html: %w", err)
	}

	baseHost := strings.ToLower(base.Hostname())
	var links PageLinks
	seenPDF := make(map[string]struct{})
	seenHTML := make(map[string]struct{})

	doc.Find("a[href]").Each(func(_ int, sel *goquery.Selection) {
		href, _ := sel.Attr("href")
		href = strings.TrimSpace(href)
		if href == "" || strings.HasPrefix(href, "#") {
			return
		}
		lower := strings.ToLower(href)
		if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") || strings.HasPrefix(lower, "tel:") {
			return
		}
		ref, err := url.Parse(href)
		if err != nil {
			return
		}
		abs := base.ResolveReference(ref)
		if abs.Scheme != "http" && abs.Scheme != "https" {
			return
		}
		abs.Fragment = ""
		target := abs.String()
		host := strings.ToLower(abs.Hostname())

		if e.filter.HasAllowedExtension(target) {
			if _, dup := seenPDF[target]; dup {
				return
			}
			seenPDF[target] = struct{}{}
			links.PDFs = append(links.PDFs, LinkRef{
				URL:  target,
				Text: strings.TrimSpace(sel.Text()),
			})
			return
		}

		if host != baseHost {
			if _, ok := e.allowedHosts[host]; !ok {
				return
			}
		}
		if target == normalizeURL(baseURL) {
			return
		}
		if _, dup := seenHTML[target]; dup {
			return
		}
		seenHTML[target] = struct{}{}
		links.HTML = append(links.HTML, target)
	})

	links.IsDirectory = len(links.PDFs) >= e.threshold
	return links, nil
}
