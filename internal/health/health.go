package health

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/snapetech/iptvguide/internal/fetch"
	"github.com/snapetech/iptvguide/internal/httpclient"
	"github.com/snapetech/iptvguide/internal/safeurl"
)

const sniffBytes = 1024

// SourceInfo describes what a guide url answered with. Only the first few
// bytes are read.
type SourceInfo struct {
	Status          int           `json:"status"`
	ContentType     string        `json:"content_type,omitempty"`
	ContentEncoding string        `json:"content_encoding,omitempty"`
	Length          int64         `json:"length"` // -1 when unknown
	Gzip            bool          `json:"gzip"`
	XMLLike         bool          `json:"xml_like"`
	Cloudflare      bool          `json:"cloudflare"` // relay or origin sits behind Cloudflare
	Latency         time.Duration `json:"latency"`
}

// CheckSource GETs the first bytes of a guide url. Returns nil error only for
// HTTP 200/206 with a body that is gzip or looks like XMLTV. If client is nil a
// 15s client is used.
func CheckSource(ctx context.Context, guideURL string, client *http.Client) (SourceInfo, error) {
	var info SourceInfo
	if guideURL == "" {
		return info, fmt.Errorf("no guide URL configured")
	}
	if !safeurl.IsHTTPOrHTTPS(guideURL) {
		return info, fmt.Errorf("guide URL must be http or https")
	}
	if client == nil {
		client = httpclient.WithTimeout(15 * time.Second)
	}
	// Some servers don't support HEAD; a ranged GET is cheap and gives us bytes to sniff.
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, guideURL, nil)
	if err != nil {
		return info, err
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)
	req.Header.Set("Range", fmt.Sprintf("bytes=0-%d", sniffBytes-1))
	start := time.Now()
	resp, err := client.Do(req)
	if err != nil {
		return info, fmt.Errorf("source unreachable: %w", err)
	}
	defer resp.Body.Close()
	info.Latency = time.Since(start)
	info.Status = resp.StatusCode
	info.ContentType = resp.Header.Get("Content-Type")
	info.ContentEncoding = resp.Header.Get("Content-Encoding")
	info.Length = resp.ContentLength
	info.Cloudflare = behindCloudflare(resp.Header)

	head, _ := io.ReadAll(io.LimitReader(resp.Body, sniffBytes))
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	info.Gzip = bytes.HasPrefix(head, []byte{0x1f, 0x8b})
	info.XMLLike = !info.Gzip && fetch.LooksLikeXMLTV(head)

	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusPartialContent {
		return info, fmt.Errorf("source returned HTTP %d", resp.StatusCode)
	}
	if len(head) == 0 {
		return info, fmt.Errorf("source returned an empty body")
	}
	if !info.Gzip && !info.XMLLike && info.ContentEncoding == "" {
		return info, fmt.Errorf("source does not look like XMLTV (starts %q)", strings.TrimSpace(string(head[:min(len(head), 40)])))
	}
	return info, nil
}

var cfResponseHeaders = []string{"CF-RAY", "CF-Cache-Status", "CF-Request-ID", "CF-Worker"}

// behindCloudflare reports whether response headers carry Cloudflare markers.
// Informational only; it never fails a check.
func behindCloudflare(h http.Header) bool {
	for _, k := range cfResponseHeaders {
		if h.Get(k) != "" {
			return true
		}
	}
	return strings.Contains(strings.ToLower(h.Get("Server")), "cloudflare")
}

// CheckEndpoints hits the service's health and status endpoints at baseURL and
// returns the first error or nil.
func CheckEndpoints(ctx context.Context, baseURL string) error {
	client := httpclient.WithTimeout(5 * time.Second)
	baseURL = strings.TrimRight(baseURL, "/")
	for _, path := range []string{"/healthz", "/api/guide/status", "/api/sources"} {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL+path, nil)
		if err != nil {
			return err
		}
		resp, err := client.Do(req)
		if err != nil {
			return fmt.Errorf("%s: %w", path, err)
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("%s: HTTP %d", path, resp.StatusCode)
		}
	}
	return nil
}
