// Package refresh owns the active guide: loading it, keeping the last good
// snapshot when a refresh fails, periodic refresh, and source suggestions.
package refresh

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/iptvguide/internal/epglink"
	"github.com/snapetech/iptvguide/internal/fetch"
	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/metrics"
	"github.com/snapetech/iptvguide/internal/safeurl"
	"github.com/snapetech/iptvguide/internal/sources"
)

type State string

const (
	StateIdle    State = "idle"
	StateLoading State = "loading"
	StateLoaded  State = "loaded"
	StateErrored State = "errored"
)

var (
	// ErrLoadInFlight is returned when a load for the same URL is pending.
	// Nothing was started.
	ErrLoadInFlight = errors.New("refresh: load already in flight for this url")
	// ErrDiscarded is returned when a load finished after Clear; its result
	// was dropped.
	ErrDiscarded  = errors.New("refresh: guide cleared while loading, result discarded")
	ErrInvalidURL = errors.New("refresh: guide url must be http or https")
	ErrNoSource   = errors.New("refresh: no active source")
	ErrNoSuggest  = errors.New("refresh: no pending suggestion")
	ErrClosed     = errors.New("refresh: coordinator closed")
)

type Fetcher interface {
	Fetch(ctx context.Context, url string) (*fetch.Document, error)
}

type SettingsStore interface {
	LoadSettings(ctx context.Context) (sources.Settings, error)
	SaveSettings(ctx context.Context, s sources.Settings) error
}

// EnrichFunc runs after every successful load with the new guide and the
// coordinator's resolver.
type EnrichFunc func(ctx context.Context, g *guide.Guide, m epglink.Matcher)

type Config struct {
	Fetcher  Fetcher
	Store    SettingsStore           // nil: nothing persisted
	Resolver *epglink.CachedResolver // nil: default tiers, no cache
	Enrich   EnrichFunc

	// LoadTimeout bounds loads the coordinator starts itself (async and
	// scheduled). Default 5m.
	LoadTimeout time.Duration

	Metrics metrics.Recorder
	Logger  zerolog.Logger
}

// Status is a point-in-time view for the UI.
type Status struct {
	State           State      `json:"state"`
	ActiveURL       string     `json:"active_url,omitempty"`
	Loading         []string   `json:"loading,omitempty"`
	Via             string     `json:"via,omitempty"`
	LastRefresh     *time.Time `json:"last_refresh,omitempty"`
	LastError       string     `json:"last_error,omitempty"`
	ErrorSource     string     `json:"error_source,omitempty"` // "fetch" or "parse"
	ErrorKind       string     `json:"error_kind,omitempty"`
	ErrorURL        string     `json:"error_url,omitempty"`
	Channels        int        `json:"channels"`
	Programs        int        `json:"programs"`
	Skipped         int        `json:"skipped"`
	AutoRefresh     bool       `json:"auto_refresh"`
	IntervalMinutes int        `json:"interval_minutes"`
	NextRefresh     *time.Time `json:"next_refresh,omitempty"`
}

// Suggestion is a guide URL found in a playlist header, offered to the user
// instead of being loaded automatically.
type Suggestion struct {
	URL        string    `json:"url"`
	Name       string    `json:"name,omitempty"`
	DetectedAt time.Time `json:"detected_at"`
}

type ticket struct {
	url   string
	id    uint64
	gen   uint64
	start time.Time
}

// Coordinator is safe for concurrent use. Readers take Snapshot() and never
// block on loads.
type Coordinator struct {
	cfg      Config
	log      zerolog.Logger
	resolver *epglink.CachedResolver
	snap     atomic.Pointer[guide.Guide]

	baseCtx    context.Context
	baseCancel context.CancelFunc
	wg         sync.WaitGroup
	persistMu  sync.Mutex

	mu          sync.Mutex
	state       State
	activeURL   string
	via         string
	lastRefresh time.Time
	lastErr     error
	errURL      string
	inflight    map[string]uint64
	nextID      uint64
	gen         uint64
	auto        bool
	interval    int
	minute      time.Duration
	cancelAuto  context.CancelFunc
	nextRefresh time.Time
	suggestion  *Suggestion
	dismissed   map[string]bool
	closed      bool
}

func New(cfg Config) *Coordinator {
	if cfg.LoadTimeout <= 0 {
		cfg.LoadTimeout = 5 * time.Minute
	}
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop()
	}
	if cfg.Resolver == nil {
		cfg.Resolver = epglink.NewCachedResolver(epglink.NewResolver(), 0)
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Coordinator{
		cfg:        cfg,
		log:        cfg.Logger.With().Str("component", "refresh").Logger(),
		resolver:   cfg.Resolver,
		baseCtx:    ctx,
		baseCancel: cancel,
		state:      StateIdle,
		inflight:   make(map[string]uint64),
		dismissed:  make(map[string]bool),
		minute:     time.Minute,
	}
}

// Snapshot returns the current guide, or nil. The guide is immutable.
func (c *Coordinator) Snapshot() *guide.Guide { return c.snap.Load() }

// Resolver is the resolver used for display matching and enrichment.
func (c *Coordinator) Resolver() *epglink.CachedResolver { return c.resolver }

// ─── Loading ─────────────────────────────────────────────────────────────────

// Load fetches and parses url and, on success, replaces the guide. It returns
// ErrLoadInFlight without fetching if url is already loading. On failure the
// previous guide stays in place.
func (c *Coordinator) Load(ctx context.Context, url string) error {
	t, err := c.begin(url, false)
	if err != nil {
		return err
	}
	return c.run(ctx, t)
}

// LoadAsync is Load in the background. The in-flight check happens before it
// returns.
func (c *Coordinator) LoadAsync(url string) error {
	t, err := c.begin(url, true)
	if err != nil {
		return err
	}
	go func() {
		defer c.wg.Done()
		ctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.LoadTimeout)
		defer cancel()
		_ = c.run(ctx, t)
	}()
	return nil
}

// begin claims the in-flight slot for url. async registers the caller's
// goroutine with the wait group while the lock is held so Close can't miss it.
func (c *Coordinator) begin(url string, async bool) (ticket, error) {
	url = strings.TrimSpace(url)
	if !safeurl.IsHTTPOrHTTPS(url) {
		return ticket{}, ErrInvalidURL
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ticket{}, ErrClosed
	}
	if _, busy := c.inflight[url]; busy {
		c.log.Debug().Str("url", safeurl.Redact(url)).Msg("load already in flight")
		return ticket{}, ErrLoadInFlight
	}
	c.nextID++
	t := ticket{url: url, id: c.nextID, gen: c.gen, start: time.Now()}
	c.inflight[url] = t.id
	c.state = StateLoading
	if async {
		c.wg.Add(1)
	}
	return t, nil
}

func (c *Coordinator) run(ctx context.Context, t ticket) error {
	log := c.log.With().Str("url", safeurl.Redact(t.url)).Logger()
	log.Info().Msg("loading guide")

	var (
		g   *guide.Guide
		via string
	)
	doc, err := c.cfg.Fetcher.Fetch(ctx, t.url)
	if err == nil {
		via = doc.Via
		g, err = guide.ParseBytes(doc.Body)
	}
	elapsed := time.Since(t.start)

	c.mu.Lock()
	if c.inflight[t.url] == t.id {
		delete(c.inflight, t.url)
	}
	if c.gen != t.gen {
		c.settleLocked(c.state)
		c.mu.Unlock()
		c.cfg.Metrics.Load("discarded", elapsed)
		log.Info().Msg("guide cleared during load; result dropped")
		return ErrDiscarded
	}
	if err != nil {
		c.lastErr, c.errURL = err, t.url
		c.settleLocked(StateErrored)
		c.mu.Unlock()
		source, kind := classify(err)
		c.cfg.Metrics.Load(source+"_error", elapsed)
		log.Warn().Err(err).Str("source", source).Str("kind", kind).Bool("stale_guide", c.Snapshot() != nil).Msg("guide load failed")
		return err
	}

	c.snap.Store(g)
	c.activeURL, c.via = t.url, via
	c.lastRefresh = time.Now().UTC()
	c.lastErr, c.errURL = nil, ""
	c.suggestion = nil
	c.settleLocked(StateLoaded)
	c.mu.Unlock()

	c.resolver.Reset()
	c.cfg.Metrics.Load("ok", elapsed)
	c.cfg.Metrics.GuideSize(g.ChannelCount(), g.ProgramCount())
	log.Info().Str("via", via).Int("channels", g.ChannelCount()).Int("programs", g.ProgramCount()).
		Int("skipped", g.Skipped).Dur("took", elapsed).Msg("guide loaded")

	c.persist(ctx)
	if c.cfg.Enrich != nil {
		c.cfg.Enrich(ctx, g, c.resolver)
	}
	return nil
}

// settleLocked sets the state to final unless other loads are still running.
func (c *Coordinator) settleLocked(final State) {
	if len(c.inflight) > 0 {
		c.state = StateLoading
		return
	}
	c.state = final
}

// Clear drops the guide, the active url and the refresh timestamp. Loads
// still in flight finish but their results are discarded.
func (c *Coordinator) Clear() {
	c.mu.Lock()
	c.gen++
	c.snap.Store(nil)
	c.activeURL, c.via = "", ""
	c.lastRefresh = time.Time{}
	c.lastErr, c.errURL = nil, ""
	c.inflight = make(map[string]uint64)
	c.state = StateIdle
	c.mu.Unlock()

	c.resolver.Reset()
	c.cfg.Metrics.GuideSize(0, 0)
	c.log.Info().Msg("guide cleared")
	c.persist(context.Background())
}

// Refresh reloads the active source.
func (c *Coordinator) Refresh(ctx context.Context) error {
	c.mu.Lock()
	url := c.activeURL
	c.mu.Unlock()
	if url == "" {
		return ErrNoSource
	}
	return c.Load(ctx, url)
}

// ─── Auto-refresh ────────────────────────────────────────────────────────────

// ScheduleAutoRefresh cancels any pending periodic refresh and, if enabled
// with a positive interval, starts a new one. Ticks missed while a load runs
// are dropped, so scheduled loads never overlap.
func (c *Coordinator) ScheduleAutoRefresh(intervalMinutes int, enabled bool) {
	c.mu.Lock()
	c.scheduleLocked(intervalMinutes, enabled)
	c.mu.Unlock()
	c.log.Info().Bool("enabled", enabled).Int("interval_minutes", intervalMinutes).Msg("auto-refresh configured")
	c.persist(context.Background())
}

func (c *Coordinator) scheduleLocked(intervalMinutes int, enabled bool) {
	if c.cancelAuto != nil {
		c.cancelAuto()
		c.cancelAuto = nil
	}
	c.nextRefresh = time.Time{}
	c.auto, c.interval = enabled, intervalMinutes
	if !enabled || intervalMinutes <= 0 || c.closed {
		return
	}
	ctx, cancel := context.WithCancel(c.baseCtx)
	c.cancelAuto = cancel
	every := time.Duration(intervalMinutes) * c.minute
	c.nextRefresh = time.Now().Add(every)
	c.wg.Add(1)
	go c.autoLoop(ctx, every)
}

func (c *Coordinator) autoLoop(ctx context.Context, every time.Duration) {
	defer c.wg.Done()
	tick := time.NewTicker(every)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-tick.C:
		}
		c.mu.Lock()
		url := c.activeURL
		c.nextRefresh = time.Now().Add(every)
		c.mu.Unlock()
		if url == "" {
			continue
		}
		lctx, cancel := context.WithTimeout(c.baseCtx, c.cfg.LoadTimeout)
		err := c.Load(lctx, url)
		cancel()
		if errors.Is(err, ErrLoadInFlight) {
			c.log.Debug().Msg("scheduled refresh skipped, load in flight")
		}
	}
}

// ─── Suggestions ─────────────────────────────────────────────────────────────

// SuggestSource offers hint (a guide url advertised by a playlist) when no
// source is active or loading. A dismissed url is not offered again.
func (c *Coordinator) SuggestSource(hint string) (Suggestion, bool) {
	hint = strings.TrimSpace(hint)
	if !safeurl.IsHTTPOrHTTPS(hint) {
		return Suggestion{}, false
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.activeURL != "" || c.snap.Load() != nil || len(c.inflight) > 0 || c.dismissed[hint] {
		return Suggestion{}, false
	}
	if c.suggestion == nil || c.suggestion.URL != hint {
		c.suggestion = &Suggestion{URL: hint, DetectedAt: time.Now().UTC()}
		c.log.Info().Str("url", safeurl.Redact(hint)).Msg("guide source suggested by playlist")
	}
	return *c.suggestion, true
}

// NameSuggestion attaches a display name to the pending suggestion if it is
// still for url.
func (c *Coordinator) NameSuggestion(url, name string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suggestion != nil && c.suggestion.URL == url {
		c.suggestion.Name = name
	}
}

func (c *Coordinator) Suggestion() (Suggestion, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suggestion == nil {
		return Suggestion{}, false
	}
	return *c.suggestion, true
}

func (c *Coordinator) DismissSuggestion() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.suggestion != nil {
		c.dismissed[c.suggestion.URL] = true
		c.suggestion = nil
	}
}

// AcceptSuggestion starts loading the suggested url in the background and
// returns it.
func (c *Coordinator) AcceptSuggestion() (string, error) {
	c.mu.Lock()
	s := c.suggestion
	c.mu.Unlock()
	if s == nil {
		return "", ErrNoSuggest
	}
	if err := c.LoadAsync(s.URL); err != nil {
		return s.URL, err
	}
	c.mu.Lock()
	if c.suggestion == s {
		c.suggestion = nil
	}
	c.mu.Unlock()
	return s.URL, nil
}

// ─── Status & persistence ────────────────────────────────────────────────────

func (c *Coordinator) Status() Status {
	g := c.Snapshot()
	c.mu.Lock()
	defer c.mu.Unlock()
	st := Status{
		State:           c.state,
		ActiveURL:       c.activeURL,
		Via:             c.via,
		LastRefresh:     timeOrNil(c.lastRefresh),
		ErrorURL:        c.errURL,
		Channels:        g.ChannelCount(),
		Programs:        g.ProgramCount(),
		AutoRefresh:     c.auto,
		IntervalMinutes: c.interval,
		NextRefresh:     timeOrNil(c.nextRefresh),
	}
	if g != nil {
		st.Skipped = g.Skipped
	}
	for u := range c.inflight {
		st.Loading = append(st.Loading, u)
	}
	if c.lastErr != nil {
		st.LastError = c.lastErr.Error()
		st.ErrorSource, st.ErrorKind = classify(c.lastErr)
	}
	return st
}

// Restore applies persisted settings: the auto-refresh schedule and the
// active source, which is then loaded in the background under LoadTimeout.
func (c *Coordinator) Restore(ctx context.Context) error {
	if c.cfg.Store == nil {
		return nil
	}
	s, err := c.cfg.Store.LoadSettings(ctx)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.activeURL = s.ActiveURL
	c.lastRefresh = s.LastRefresh
	c.scheduleLocked(s.IntervalMinutes, s.AutoRefresh)
	c.mu.Unlock()
	c.log.Info().Str("url", safeurl.Redact(s.ActiveURL)).Bool("auto_refresh", s.AutoRefresh).
		Int("interval_minutes", s.IntervalMinutes).Msg("restored settings")
	if s.ActiveURL == "" {
		return nil
	}
	return c.LoadAsync(s.ActiveURL)
}

func (c *Coordinator) persist(ctx context.Context) {
	if c.cfg.Store == nil {
		return
	}
	c.persistMu.Lock()
	defer c.persistMu.Unlock()
	c.mu.Lock()
	s := sources.Settings{
		ActiveURL:       c.activeURL,
		AutoRefresh:     c.auto,
		IntervalMinutes: c.interval,
		LastRefresh:     c.lastRefresh,
	}
	c.mu.Unlock()
	if err := c.cfg.Store.SaveSettings(context.WithoutCancel(ctx), s); err != nil {
		c.log.Error().Err(err).Msg("save settings")
	}
}

// Close stops auto-refresh, cancels background loads and waits for them.
func (c *Coordinator) Close() {
	c.mu.Lock()
	c.closed = true
	if c.cancelAuto != nil {
		c.cancelAuto()
		c.cancelAuto = nil
	}
	c.mu.Unlock()
	c.baseCancel()
	c.wg.Wait()
}

func timeOrNil(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func classify(err error) (source, kind string) {
	if k, ok := fetch.KindOf(err); ok {
		return "fetch", string(k)
	}
	var pe *guide.ParseError
	if errors.As(err, &pe) {
		return "parse", string(pe.Kind)
	}
	return "load", ""
}
