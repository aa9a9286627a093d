// Package crawl implements the depth-bounded multi-site PDF discovery
// pipeline: candidate filtering, link extraction, session dedup, per-seed
// site crawlers, and the coordinator that fans them out.
package crawl

import (
	"strings"

	"github.com/mechdocs/harvester/internal/manual"
)

// RejectReason names the first rule that rejected a candidate.
type RejectReason string

// Reject reasons, in precedence order.
const (
	ReasonExtension RejectReason = "extension"
	ReasonExcluded  RejectReason = "excluded"
	ReasonNoMatch   RejectReason = "no-match"
	ReasonTooSmall  RejectReason = "too-small"
	ReasonTooLarge  RejectReason = "too-large"
)

// Verdict is the outcome of a filter decision.
type Verdict struct {
	Accept bool
	Reason RejectReason
}

func accept() Verdict               { return Verdict{Accept: true} }
func reject(r RejectReason) Verdict { return Verdict{Reason: r} }

// Filter is the pure accept/reject decision for discovered candidates.
type Filter struct {
	extensions map[string]struct{}
	include    []string
	exclude    []string
	minBytes   int64
	maxBytes   int64
}

// NewFilter builds a Filter from crawl options. Terms are matched
// case-insensitively as substrings; the extension whitelist defaults to pdf.
func NewFilter(opts manual.CrawlOptions) *Filter {
	f := &Filter{
		extensions: make(map[string]struct{}),
		minBytes:   opts.MinSizeBytes,
		maxBytes:   opts.MaxSizeBytes,
	}
	exts := opts.Extensions
	if len(exts) == 0 {
		exts = []string{"pdf"}
	}
	for _, ext := range exts {
		ext = strings.ToLower(strings.TrimPrefix(strings.TrimSpace(ext), "."))
		if ext != "" {
			f.extensions[ext] = struct{}{}
		}
	}
	f.include = lowerTerms(opts.IncludeTerms)
	f.exclude = lowerTerms(opts.ExcludeTerms)
	return f
}

func lowerTerms(terms []string) []string {
	out := make([]string, 0, len(terms))
	for _, t := range terms {
		t = strings.ToLower(strings.TrimSpace(t))
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// HasAllowedExtension reports whether the URL path ends in a whitelisted
// extension. The query string is ignored.
func (f *Filter) HasAllowedExtension(rawURL string) bool {
	ext := pathExtension(rawURL)
	_, ok := f.extensions[ext]
	return ok
}

// Decide applies the filter rules in precedence order: extension, exclude
// terms, include terms, size bounds. Exclude terms are checked before include
// terms so an excluded title loses even when it also matches an include term.
// sizeBytes <= 0 means unknown and always passes the size check.
func (f *Filter) Decide(rawURL, linkText string, sizeBytes int64) Verdict {
	if !f.HasAllowedExtension(rawURL) {
		return reject(ReasonExtension)
	}

	haystack := strings.ToLower(rawURL + " " + linkText)
	for _, term := range f.exclude {
		if strings.Contains(haystack, term) {
			return reject(ReasonExcluded)
		}
	}

	if len(f.include) > 0 {
		matched := false
		for _, term := range f.include {
			if strings.Contains(haystack, term) {
				matched = true
				break
			}
		}
		if !matched {
			return reject(ReasonNoMatch)
		}
	}

	if sizeBytes > 0 {
		if f.minBytes > 0 && sizeBytes < f.minBytes {
			return reject(ReasonTooSmall)
		}
		if f.maxBytes > 0 && sizeBytes > f.maxBytes {
			return reject(ReasonTooLarge)
		}
	}

	return accept()
}

// NeedsSize reports whether size bounds are configured, so the crawler can
// decide whether probing a candidate's size is worthwhile.
func (f *Filter) NeedsSize() bool {
	return f.minBytes > 0 || f.maxBytes > 0
}
