package crawl

import (
	"net/url"
	"path"
	"strings"
)

// normalizeURL strips the fragment and rebuilds the URL in canonical form.
// Invalid URLs are returned unchanged.
func normalizeURL(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Fragment = ""
	return u.String()
}

// ensureScheme defaults bare hosts to https.
func ensureScheme(raw string) string {
	if strings.HasPrefix(raw, "http://") || strings.HasPrefix(raw, "https://") {
		return raw
	}
	return "https://" + raw
}

// hostOf extracts the lowercase hostname; empty on parse failure.
func hostOf(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return strings.ToLower(u.Hostname())
}

// pathExtension returns the lowercase extension of the URL path without the
// leading dot; the query string is ignored.
func pathExtension(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	ext := path.Ext(u.Path)
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}

// baseName returns the last path segment, used as a fallback title for
// direct PDF hits.
func baseName(raw string) string {
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	name := path.Base(u.Path)
	if name == "." || name == "/" {
		return u.Hostname()
	}
	return name
}
