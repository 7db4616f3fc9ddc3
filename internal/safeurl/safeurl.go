package safeurl

import (
	"net/url"
	"strings"
)

// IsHTTPOrHTTPS returns true if u is a valid URL with scheme http or https.
// Used to reject file://, ftp://, and other schemes that could lead to SSRF or local file access.
func IsHTTPOrHTTPS(u string) bool {
	parsed, err := url.Parse(u)
	if err != nil {
		return false
	}
	s := parsed.Scheme
	return (s == "http" || s == "https") && parsed.Host != ""
}

// LooksGzip reports whether the URL path ends in .gz. Query and fragment are
// ignored, so "guide.xml.gz?token=x" counts.
func LooksGzip(u string) bool {
	p := u
	if parsed, err := url.Parse(u); err == nil && parsed.Path != "" {
		p = parsed.Path
	}
	return strings.HasSuffix(strings.ToLower(p), ".gz")
}

// Redact strips userinfo and the query string for logging.
func Redact(u string) string {
	parsed, err := url.Parse(u)
	if err != nil || parsed.Host == "" {
		return u
	}
	parsed.User = nil
	if parsed.RawQuery != "" {
		parsed.RawQuery = "..."
	}
	parsed.Fragment = ""
	return parsed.String()
}
