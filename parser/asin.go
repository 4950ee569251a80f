package parser

import (
	"regexp"
	"strings"
)

// DefaultHost is the storefront the ASIN extractor targets when none is given.
const DefaultHost = "www.amazon.com"

// asinPattern is anchored at the start only, so longer tokens with a valid
// prefix are accepted.
var asinPattern = regexp.MustCompile(`^(?:[0-9]{9}[0-9Xx]|[A-Z][0-9A-Z]{9})`)

// IsValidASIN reports whether token looks like an ASIN.
func IsValidASIN(token string) bool {
	if strings.TrimSpace(token) == "" {
		return false
	}
	return asinPattern.MatchString(token)
}

// ASINExtractor pulls the ASIN out of a product detail URL for one host.
type ASINExtractor struct {
	pattern *regexp.Regexp
}

// NewASINExtractor builds an extractor for host. An empty host falls back to
// DefaultHost.
func NewASINExtractor(host string) *ASINExtractor {
	host = strings.TrimSpace(host)
	if host == "" {
		host = DefaultHost
	}
	return &ASINExtractor{
		pattern: regexp.MustCompile(regexp.QuoteMeta(host) + `/(?:[^/?#]+/)?dp/([0-9A-Z]{10})`),
	}
}

// Extract returns the ASIN in rawURL, or "" when the URL is not a detail URL
// on the extractor's host.
func (e *ASINExtractor) Extract(rawURL string) string {
	m := e.pattern.FindStringSubmatch(rawURL)
	if len(m) < 2 {
		return ""
	}
	return m[1]
}

var defaultExtractor = NewASINExtractor(DefaultHost)

// ExtractASIN extracts the ASIN from a www.amazon.com detail URL.
func ExtractASIN(rawURL string) string {
	return defaultExtractor.Extract(rawURL)
}
