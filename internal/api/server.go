// Package api is the HTTP surface the guide UI talks to: guide lifecycle,
// per-channel now/next and windows, identity resolution, suggestions and the
// source catalog.
package api

import (
	"context"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/snapetech/iptvguide/internal/epglink"
	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/metrics"
	"github.com/snapetech/iptvguide/internal/playlist"
	"github.com/snapetech/iptvguide/internal/refresh"
	"github.com/snapetech/iptvguide/internal/sources"
)

const maxBodyBytes = 1 << 20

// Coordinator is the part of refresh.Coordinator the API drives.
type Coordinator interface {
	Snapshot() *guide.Guide
	Resolver() *epglink.CachedResolver
	Status() refresh.Status
	LoadAsync(url string) error
	Clear()
	ScheduleAutoRefresh(intervalMinutes int, enabled bool)
	Suggestion() (refresh.Suggestion, bool)
	AcceptSuggestion() (string, error)
	DismissSuggestion()
}

var _ Coordinator = (*refresh.Coordinator)(nil)

// Playlist is the configured M3U after enrichment against the current guide.
// ok is false until the first enrichment has run.
type Playlist interface {
	Enriched() (v PlaylistView, ok bool)
}

type PlaylistView struct {
	URL       string             `json:"url"`
	Matched   int                `json:"matched"`
	Unmatched int                `json:"unmatched"`
	Channels  []playlist.Channel `json:"channels"`
	Gained    []playlist.Channel `json:"gained"`
}

type Config struct {
	Coordinator Coordinator
	Catalog     *sources.Catalog
	Playlist    Playlist // nil: no playlist configured
	Metrics     metrics.Recorder
	Logger      zerolog.Logger
	Now         func() time.Time // default time.Now
}

type Server struct {
	cfg    Config
	router *mux.Router
	log    zerolog.Logger
}

func New(cfg Config) *Server {
	if cfg.Metrics == nil {
		cfg.Metrics = metrics.Noop()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	s := &Server{cfg: cfg, router: mux.NewRouter(), log: cfg.Logger.With().Str("component", "api").Logger()}
	s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() {
	r := s.router
	r.Use(s.instrument)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.Handle("/metrics", s.cfg.Metrics.Handler()).Methods(http.MethodGet)

	g := r.PathPrefix("/api/guide").Subrouter()
	g.HandleFunc("/status", s.status).Methods(http.MethodGet)
	g.HandleFunc("/load", s.load).Methods(http.MethodPost)
	g.HandleFunc("/clear", s.clear).Methods(http.MethodPost)
	g.HandleFunc("/autorefresh", s.autoRefresh).Methods(http.MethodPut)
	g.HandleFunc("/channels", s.channels).Methods(http.MethodGet)
	g.HandleFunc("/xmltv", s.xmltv).Methods(http.MethodGet)
	g.HandleFunc("/channels/{id}/now", s.nowNext).Methods(http.MethodGet)
	g.HandleFunc("/channels/{id}/window", s.window).Methods(http.MethodGet)
	g.HandleFunc("/resolve", s.resolve).Methods(http.MethodGet)
	g.HandleFunc("/suggestion", s.suggestion).Methods(http.MethodGet)
	g.HandleFunc("/suggestion/accept", s.acceptSuggestion).Methods(http.MethodPost)
	g.HandleFunc("/suggestion", s.dismissSuggestion).Methods(http.MethodDelete)

	r.HandleFunc("/api/playlist/channels", s.playlistChannels).Methods(http.MethodGet)

	src := r.PathPrefix("/api/sources").Subrouter()
	src.HandleFunc("", s.listSources).Methods(http.MethodGet)
	src.HandleFunc("", s.addSource).Methods(http.MethodPost)
	src.HandleFunc("/{id}", s.getSource).Methods(http.MethodGet)
	src.HandleFunc("/{id}", s.updateSource).Methods(http.MethodPut)
	src.HandleFunc("/{id}", s.removeSource).Methods(http.MethodDelete)
}

// ─── Middleware ──────────────────────────────────────────────────────────────

type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(code int) {
	w.status = code
	w.ResponseWriter.WriteHeader(code)
}

func (w *statusWriter) Unwrap() http.ResponseWriter { return w.ResponseWriter }

// instrument counts requests by route template so ids don't blow up label
// cardinality.
func (s *Server) instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(sw, r)

		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tpl, err := cur.GetPathTemplate(); err == nil {
				route = tpl
			}
		}
		s.cfg.Metrics.HTTPRequest(route, sw.status)
		s.log.Debug().Str("method", r.Method).Str("route", route).Int("status", sw.status).
			Dur("took", time.Since(start)).Msg("request")
	})
}

// ─── Helpers ─────────────────────────────────────────────────────────────────

type errorBody struct {
	Error string `json:"error"`
	Kind  string `json:"kind,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorBody{Error: msg})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New("request body is empty")
		}
		return err
	}
	return nil
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Serve runs the API on addr until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, addr string) error {
	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()
	s.log.Info().Str("addr", addr).Msg("listening")
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	}
}
