package httpclient

import (
	"net/http"
	"time"
)

const (
	DefaultTimeout         = 60 * time.Second
	DefaultIdleConnTimeout = 90 * time.Second
	MaxIdleConnsPerHost    = 8

	// UserAgent is sent on every outbound request.
	UserAgent = "iptv-guide/1.0"
)

var defaultClient *http.Client

func init() {
	defaultClient = &http.Client{
		Timeout:   DefaultTimeout,
		Transport: newTransport(),
	}
}

func newTransport() *http.Transport {
	return &http.Transport{
		Proxy:               http.ProxyFromEnvironment,
		MaxIdleConns:        64,
		MaxIdleConnsPerHost: MaxIdleConnsPerHost,
		IdleConnTimeout:     DefaultIdleConnTimeout,
		// Guides are decoded explicitly (gzip, br) by the fetcher; the
		// transport must hand back the bytes as served.
		DisableCompression: true,
	}
}

// Default returns the shared client used by the fetcher, playlist and logo DB.
func Default() *http.Client {
	return defaultClient
}

// WithTimeout returns a client with the given timeout and a clone of the
// default transport.
func WithTimeout(timeout time.Duration) *http.Client {
	t, ok := defaultClient.Transport.(*http.Transport)
	if !ok {
		return &http.Client{Timeout: timeout, Transport: newTransport()}
	}
	return &http.Client{
		Timeout:   timeout,
		Transport: t.Clone(),
	}
}
