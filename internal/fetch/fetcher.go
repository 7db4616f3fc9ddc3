// Package fetch retrieves XMLTV documents through an ordered chain of
// retrieval strategies (direct, then public relays), undoing gzip/brotli and
// sniffing the result before it reaches the parser.
package fetch

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/iptvguide/internal/httpclient"
	"github.com/snapetech/iptvguide/internal/metrics"
	"github.com/snapetech/iptvguide/internal/safeurl"
)

// ─── Configuration ───────────────────────────────────────────────────────────

const DefaultMaxBytes = 200 << 20

// Config drives a Fetcher. Zero values are replaced with defaults by New.
type Config struct {
	// Client performs every attempt; its Timeout is the per-attempt timeout.
	// Nil uses httpclient.WithTimeout(httpclient.DefaultTimeout).
	Client *http.Client

	// Strategies is the ordered retrieval chain. Nil means Direct followed by
	// DefaultProxyTemplates. A chain of only Direct disables relays.
	Strategies []Strategy

	// Decoders is keyed by encoding name ("gzip", "br"). Nil means
	// DefaultDecoders; a non-nil empty map registers none.
	Decoders map[string]Decoder

	// Limiter paces attempts per upstream host. Nil disables pacing.
	Limiter *httpclient.HostLimiter

	// MaxBytes caps both the raw and the decoded document.
	MaxBytes int64

	UserAgent string
	Metrics   metrics.Recorder
	Logger    zerolog.Logger
}

func (c *Config) applyDefaults() {
	if c.Client == nil {
		c.Client = httpclient.WithTimeout(httpclient.DefaultTimeout)
	}
	if c.Strategies == nil {
		c.Strategies, _ = Chain(DefaultProxyTemplates)
	}
	if c.Decoders == nil {
		c.Decoders = DefaultDecoders()
	}
	if c.MaxBytes <= 0 {
		c.MaxBytes = DefaultMaxBytes
	}
	if c.UserAgent == "" {
		c.UserAgent = httpclient.UserAgent
	}
	if c.Metrics == nil {
		c.Metrics = metrics.Noop()
	}
}

// ─── Fetcher ─────────────────────────────────────────────────────────────────

// Document is a fetched, decoded guide that passed the XML sniff.
type Document struct {
	URL        string
	Via        string // name of the strategy that succeeded
	Body       []byte
	Compressed bool
	FetchedAt  time.Time
}

// Fetcher is safe for concurrent use.
type Fetcher struct {
	cfg      Config
	decoders map[string]Decoder
	log      zerolog.Logger
}

func New(cfg Config) *Fetcher {
	cfg.applyDefaults()
	if len(cfg.Strategies) == 0 {
		cfg.Strategies = []Strategy{Direct}
	}
	return &Fetcher{
		cfg:      cfg,
		decoders: cfg.Decoders,
		log:      cfg.Logger.With().Str("component", "fetch").Logger(),
	}
}

// Strategies returns the names of the configured chain in order.
func (f *Fetcher) Strategies() []string {
	out := make([]string, len(f.cfg.Strategies))
	for i, s := range f.cfg.Strategies {
		out[i] = s.Name
	}
	return out
}

// Fetch tries each strategy in order and stops at the first non-empty 2xx
// response. There are no retries beyond the chain. The winning body is then
// decoded and sniffed; those failures are terminal and do not move on to the
// next strategy.
func (f *Fetcher) Fetch(ctx context.Context, rawURL string) (*Document, error) {
	if !safeurl.IsHTTPOrHTTPS(rawURL) {
		return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: errors.New("only http and https URLs are supported")}
	}

	var (
		lastErr error
		body    []byte
		header  http.Header
		via     string
	)
	for _, s := range f.cfg.Strategies {
		target := s.Wrap(rawURL)
		b, h, err := f.attempt(ctx, target)
		if err != nil {
			kind, _ := KindOf(err)
			f.cfg.Metrics.FetchAttempt(s.Name, string(kind))
			f.log.Debug().Str("strategy", s.Name).Str("url", safeurl.Redact(rawURL)).Err(err).Msg("attempt failed")
			lastErr = err
			if ctx.Err() != nil {
				break
			}
			continue
		}
		f.cfg.Metrics.FetchAttempt(s.Name, "ok")
		body, header, via = b, h, s.Name
		break
	}

	if body == nil {
		if ctx.Err() != nil || len(f.cfg.Strategies) == 1 {
			var fe *Error
			if errors.As(lastErr, &fe) {
				return nil, &Error{Kind: fe.Kind, URL: rawURL, Err: fe.Err}
			}
			return nil, &Error{Kind: KindNetwork, URL: rawURL, Err: lastErr}
		}
		f.log.Warn().Str("url", safeurl.Redact(rawURL)).Int("strategies", len(f.cfg.Strategies)).Err(lastErr).Msg("all strategies failed")
		return nil, &Error{Kind: KindAllProxiesExhausted, URL: rawURL, Err: lastErr}
	}

	plain, compressed, err := f.decodeBody(rawURL, body, header)
	if err != nil {
		var fe *Error
		if errors.As(err, &fe) {
			fe.URL = rawURL
			return nil, fe
		}
		return nil, &Error{Kind: KindDecompressionFailed, URL: rawURL, Err: err}
	}
	if len(plain) == 0 {
		return nil, &Error{Kind: KindEmptyBody, URL: rawURL, Err: errEmptyBody}
	}
	if !LooksLikeXMLTV(plain) {
		return nil, &Error{Kind: KindNotXMLLike, URL: rawURL, Err: fmt.Errorf("document starts with %q", head(plain, 16))}
	}

	f.log.Info().Str("url", safeurl.Redact(rawURL)).Str("via", via).Int("bytes", len(plain)).Bool("compressed", compressed).Msg("fetched guide")
	return &Document{
		URL:        rawURL,
		Via:        via,
		Body:       plain,
		Compressed: compressed,
		FetchedAt:  time.Now(),
	}, nil
}

// attempt performs one GET. Transport errors and non-2xx are KindNetwork,
// a zero-length body is KindEmptyBody.
func (f *Fetcher) attempt(ctx context.Context, target string) ([]byte, http.Header, error) {
	if err := f.cfg.Limiter.Wait(ctx, target); err != nil {
		return nil, nil, &Error{Kind: KindNetwork, Err: err}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, nil, &Error{Kind: KindNetwork, Err: err}
	}
	req.Header.Set("User-Agent", f.cfg.UserAgent)
	req.Header.Set("Accept-Encoding", acceptEncoding(f.decoders))
	req.Header.Set("Accept", "application/xml, text/xml, application/gzip, */*")

	resp, err := f.cfg.Client.Do(req)
	if err != nil {
		return nil, nil, &Error{Kind: KindNetwork, Err: err}
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 4<<10))
		return nil, nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("HTTP %d", resp.StatusCode)}
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, f.cfg.MaxBytes+1))
	if err != nil {
		return nil, nil, &Error{Kind: KindNetwork, Err: fmt.Errorf("read body: %w", err)}
	}
	if int64(len(body)) > f.cfg.MaxBytes {
		return nil, nil, &Error{Kind: KindNetwork, Err: errTooLarge}
	}
	if len(body) == 0 {
		return nil, nil, &Error{Kind: KindEmptyBody, Err: errEmptyBody}
	}
	return body, resp.Header, nil
}

func acceptEncoding(decoders map[string]Decoder) string {
	_, gz := decoders[EncodingGzip]
	_, br := decoders[EncodingBrotli]
	switch {
	case gz && br:
		return "gzip, br"
	case gz:
		return "gzip"
	case br:
		return "br"
	}
	return "identity"
}

func head(b []byte, n int) string {
	if len(b) > n {
		b = b[:n]
	}
	return string(b)
}
