package api

import (
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"

	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/playlist"
	"github.com/snapetech/iptvguide/internal/refresh"
	"github.com/snapetech/iptvguide/internal/schedule"
)

const defaultWindow = 3 * time.Hour

func (s *Server) status(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.cfg.Coordinator.Status())
}

type loadRequest struct {
	URL      string `json:"url"`
	SourceID string `json:"source_id,omitempty"`
}

type loadResponse struct {
	URL string `json:"url"`
}

// load starts a background load. The url may be given directly or via a
// catalog source id.
func (s *Server) load(w http.ResponseWriter, r *http.Request) {
	var req loadRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	url := strings.TrimSpace(req.URL)
	if url == "" && req.SourceID != "" && s.cfg.Catalog != nil {
		d, err := s.cfg.Catalog.Get(req.SourceID)
		if err != nil {
			writeError(w, http.StatusNotFound, "unknown source")
			return
		}
		url = d.URL
	}
	s.startLoad(w, url, s.cfg.Coordinator.LoadAsync(url))
}

func (s *Server) startLoad(w http.ResponseWriter, url string, err error) {
	switch {
	case err == nil:
		writeJSON(w, http.StatusAccepted, loadResponse{URL: url})
	case errors.Is(err, refresh.ErrLoadInFlight):
		writeError(w, http.StatusConflict, "a load for this url is already in progress")
	case errors.Is(err, refresh.ErrInvalidURL):
		writeError(w, http.StatusBadRequest, "url must be http or https")
	case errors.Is(err, refresh.ErrNoSuggest):
		writeError(w, http.StatusNotFound, "no pending suggestion")
	case errors.Is(err, refresh.ErrClosed):
		writeError(w, http.StatusServiceUnavailable, "shutting down")
	default:
		writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (s *Server) clear(w http.ResponseWriter, r *http.Request) {
	s.cfg.Coordinator.Clear()
	writeJSON(w, http.StatusOK, s.cfg.Coordinator.Status())
}

type autoRefreshRequest struct {
	Enabled         bool `json:"enabled"`
	IntervalMinutes int  `json:"interval_minutes"`
}

func (s *Server) autoRefresh(w http.ResponseWriter, r *http.Request) {
	var req autoRefreshRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if req.IntervalMinutes == 0 {
		req.IntervalMinutes = s.cfg.Coordinator.Status().IntervalMinutes
	}
	if req.IntervalMinutes < 0 || (req.Enabled && req.IntervalMinutes == 0) {
		writeError(w, http.StatusBadRequest, "interval_minutes must be positive")
		return
	}
	s.cfg.Coordinator.ScheduleAutoRefresh(req.IntervalMinutes, req.Enabled)
	writeJSON(w, http.StatusOK, s.cfg.Coordinator.Status())
}

// ─── Channels & schedule ─────────────────────────────────────────────────────

type channelView struct {
	guide.Channel
	Programs int `json:"programs"`
}

func (s *Server) snapshot(w http.ResponseWriter) (*guide.Guide, bool) {
	g := s.cfg.Coordinator.Snapshot()
	if g == nil {
		writeError(w, http.StatusServiceUnavailable, "no guide loaded")
		return nil, false
	}
	return g, true
}

func (s *Server) channels(w http.ResponseWriter, r *http.Request) {
	g, ok := s.snapshot(w)
	if !ok {
		return
	}
	out := make([]channelView, 0, g.ChannelCount())
	g.Range(func(ch guide.Channel) bool {
		out = append(out, channelView{Channel: ch, Programs: len(g.Programs(ch.ID))})
		return true
	})
	writeJSON(w, http.StatusOK, out)
}

// xmltv re-serves the loaded guide, optionally limited to ?channel= ids.
func (s *Server) xmltv(w http.ResponseWriter, r *http.Request) {
	g, ok := s.snapshot(w)
	if !ok {
		return
	}
	var keep func(string) bool
	if ids := r.URL.Query()["channel"]; len(ids) > 0 {
		want := make(map[string]bool, len(ids))
		for _, id := range ids {
			want[id] = true
		}
		keep = func(id string) bool { return want[id] }
	}
	w.Header().Set("Content-Type", "application/xml; charset=utf-8")
	if err := g.WriteXMLTV(w, keep); err != nil {
		s.log.Warn().Err(err).Msg("xmltv write")
	}
}

// programs returns the schedule for the {id} path var. Programmes may name a
// channel that was never declared; those are still served.
func (s *Server) programs(w http.ResponseWriter, r *http.Request) (string, []guide.Program, bool) {
	g, ok := s.snapshot(w)
	if !ok {
		return "", nil, false
	}
	id := mux.Vars(r)["id"]
	progs := g.Programs(id)
	if _, declared := g.Channel(id); !declared && len(progs) == 0 {
		writeError(w, http.StatusNotFound, "unknown channel")
		return "", nil, false
	}
	return id, progs, true
}

type nowNextResponse struct {
	ChannelID string `json:"channel_id"`
	schedule.NowNext
}

func (s *Server) nowNext(w http.ResponseWriter, r *http.Request) {
	id, progs, ok := s.programs(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, nowNextResponse{ChannelID: id, NowNext: schedule.At(progs, s.cfg.Now())})
}

type windowResponse struct {
	ChannelID string          `json:"channel_id"`
	From      time.Time       `json:"from"`
	To        time.Time       `json:"to"`
	Slots     []schedule.Slot `json:"slots"`
}

func (s *Server) window(w http.ResponseWriter, r *http.Request) {
	id, progs, ok := s.programs(w, r)
	if !ok {
		return
	}
	from, to, err := s.windowBounds(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	slots := schedule.Collect(schedule.Window(progs, from, to))
	if slots == nil {
		slots = []schedule.Slot{}
	}
	writeJSON(w, http.StatusOK, windowResponse{ChannelID: id, From: from, To: to, Slots: slots})
}

func (s *Server) windowBounds(r *http.Request) (time.Time, time.Time, error) {
	q := r.URL.Query()
	from := s.cfg.Now().UTC()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("from must be RFC3339")
		}
		from = t
	}
	to := from.Add(defaultWindow)
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			return time.Time{}, time.Time{}, errors.New("to must be RFC3339")
		}
		to = t
	}
	if !to.After(from) {
		return time.Time{}, time.Time{}, errors.New("to must be after from")
	}
	return from, to, nil
}

// ─── Resolution ──────────────────────────────────────────────────────────────

type resolveResponse struct {
	Matched bool              `json:"matched"`
	Method  string            `json:"method,omitempty"`
	Channel *guide.Channel    `json:"channel,omitempty"`
	Now     *schedule.NowNext `json:"now,omitempty"`
	Query   playlist.Channel  `json:"query"`
}

func (s *Server) resolve(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	pc := playlist.Channel{
		Name:    strings.TrimSpace(q.Get("name")),
		TVGID:   strings.TrimSpace(q.Get("tvg_id")),
		TVGName: strings.TrimSpace(q.Get("tvg_name")),
	}
	if pc.Name == "" && pc.TVGID == "" && pc.TVGName == "" {
		writeError(w, http.StatusBadRequest, "name, tvg_id or tvg_name is required")
		return
	}
	g, ok := s.snapshot(w)
	if !ok {
		return
	}
	resp := resolveResponse{Query: pc}
	ch, method, found := s.cfg.Coordinator.Resolver().Resolve(pc, g)
	if !found {
		s.cfg.Metrics.Resolve("none")
		writeJSON(w, http.StatusOK, resp)
		return
	}
	s.cfg.Metrics.Resolve(string(method))
	nn := schedule.At(g.Programs(ch.ID), s.cfg.Now())
	resp.Matched, resp.Method, resp.Channel, resp.Now = true, string(method), &ch, &nn
	writeJSON(w, http.StatusOK, resp)
}

// ─── Suggestions ─────────────────────────────────────────────────────────────

func (s *Server) playlistChannels(w http.ResponseWriter, r *http.Request) {
	if s.cfg.Playlist == nil {
		writeError(w, http.StatusNotFound, "no playlist configured")
		return
	}
	v, ok := s.cfg.Playlist.Enriched()
	if !ok {
		writeError(w, http.StatusServiceUnavailable, "playlist not enriched yet")
		return
	}
	writeJSON(w, http.StatusOK, v)
}

func (s *Server) suggestion(w http.ResponseWriter, r *http.Request) {
	sg, ok := s.cfg.Coordinator.Suggestion()
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sg)
}

func (s *Server) acceptSuggestion(w http.ResponseWriter, r *http.Request) {
	url, err := s.cfg.Coordinator.AcceptSuggestion()
	s.startLoad(w, url, err)
}

func (s *Server) dismissSuggestion(w http.ResponseWriter, r *http.Request) {
	s.cfg.Coordinator.DismissSuggestion()
	w.WriteHeader(http.StatusNoContent)
}
