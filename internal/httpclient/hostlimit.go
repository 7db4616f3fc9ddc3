package httpclient

import (
	"context"
	"net/url"
	"sync"

	"golang.org/x/time/rate"
)

// HostLimiter paces requests per upstream scheme+host. The fetcher walks a
// chain of proxy endpoints and several sources can share one proxy host, so
// the limit is process-wide per host rather than per call.
//
//	if err := lim.Wait(ctx, target); err != nil { return err }
type HostLimiter struct {
	mu    sync.Mutex
	lims  map[string]*rate.Limiter
	limit rate.Limit
	burst int
}

// NewHostLimiter allows perSecond requests per host with the given burst.
// perSecond <= 0 disables pacing.
func NewHostLimiter(perSecond float64, burst int) *HostLimiter {
	if burst < 1 {
		burst = 1
	}
	lim := rate.Limit(perSecond)
	if perSecond <= 0 {
		lim = rate.Inf
	}
	return &HostLimiter{
		lims:  make(map[string]*rate.Limiter),
		limit: lim,
		burst: burst,
	}
}

// Wait blocks until a request to rawURL's host may proceed or ctx is done.
func (h *HostLimiter) Wait(ctx context.Context, rawURL string) error {
	if h == nil {
		return nil
	}
	return h.limiterFor(hostKey(rawURL)).Wait(ctx)
}

func (h *HostLimiter) limiterFor(host string) *rate.Limiter {
	h.mu.Lock()
	defer h.mu.Unlock()
	l, ok := h.lims[host]
	if !ok {
		l = rate.NewLimiter(h.limit, h.burst)
		h.lims[host] = l
	}
	return l
}

// Hosts returns how many distinct hosts have been seen.
func (h *HostLimiter) Hosts() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.lims)
}

func hostKey(raw string) string {
	if u, err := url.Parse(raw); err == nil && u.Host != "" {
		return u.Scheme + "://" + u.Host
	}
	return raw
}
