package main

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/iptvguide/internal/config"
	"github.com/snapetech/iptvguide/internal/epglink"
	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/playlist"
	"github.com/snapetech/iptvguide/internal/refresh"
	"github.com/snapetech/iptvguide/internal/sources"
)

const testGuide = `<?xml version="1.0" encoding="UTF-8"?>
<tv>
  <channel id="bbc1.uk"><display-name>BBC One</display-name><icon src="http://img/bbc1.png"/></channel>
  <channel id="itv1.uk"><display-name>ITV1</display-name></channel>
  <programme channel="bbc1.uk" start="20240301100000 +0000" stop="20240301103000 +0000"><title>News</title></programme>
  <programme channel="bbc1.uk" start="20240301103000 +0000" stop="20240301110000 +0000"><title>Weather</title></programme>
</tv>`

func testServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/guide.xml", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(testGuide))
	})
	var srv *httptest.Server
	mux.HandleFunc("/list.m3u", func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("#EXTM3U url-tvg=\"" + srv.URL + "/guide.xml\"\n" +
			"#EXTINF:-1 tvg-id=\"bbc1.uk\",BBC One HD\nhttp://s/1\n" +
			"#EXTINF:-1,ITV 1\nhttp://s/2\n" +
			"#EXTINF:-1,Dave\nhttp://s/3\n"))
	})
	srv = httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func testConfig() *config.Config {
	return &config.Config{FetchTimeout: 5 * time.Second, Proxies: []string{}}
}

func TestRunFetch(t *testing.T) {
	srv := testServer(t)
	var out bytes.Buffer
	require.NoError(t, runFetch(context.Background(), testConfig(), zerolog.Nop(), srv.URL+"/guide.xml", "", &out))
	assert.Contains(t, out.String(), "via:        direct")
	assert.Contains(t, out.String(), "channels:   2")
	assert.Contains(t, out.String(), "programmes: 2 (skipped 0)")
}

func TestRunFetch_writesXMLTV(t *testing.T) {
	srv := testServer(t)
	path := filepath.Join(t.TempDir(), "out.xml")
	var out bytes.Buffer
	require.NoError(t, runFetch(context.Background(), testConfig(), zerolog.Nop(), srv.URL+"/guide.xml", path, &out))
	assert.Contains(t, out.String(), "wrote:")
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	g, err := guide.ParseBytes(data)
	require.NoError(t, err)
	assert.Equal(t, 2, g.ChannelCount())
	assert.Equal(t, 2, g.ProgramCount())
}

func TestRunFetch_failureKind(t *testing.T) {
	srv := testServer(t)
	err := runFetch(context.Background(), testConfig(), zerolog.Nop(), srv.URL+"/missing.xml", "", &bytes.Buffer{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "network")
}

func TestRunFetch_needsURL(t *testing.T) {
	assert.Error(t, runFetch(context.Background(), testConfig(), zerolog.Nop(), "", "", &bytes.Buffer{}))
}

func TestRunNow(t *testing.T) {
	srv := testServer(t)
	var out bytes.Buffer
	at := time.Date(2024, 3, 1, 10, 15, 0, 0, time.UTC)
	require.NoError(t, runNow(context.Background(), testConfig(), zerolog.Nop(), srv.URL+"/guide.xml", "BBC One", at, &out))
	assert.Contains(t, out.String(), "BBC One (bbc1.uk) [name_normalized]")
	assert.Contains(t, out.String(), "now:  News  10:00-10:30  50%")
	assert.Contains(t, out.String(), "next: Weather  10:30")

	err := runNow(context.Background(), testConfig(), zerolog.Nop(), srv.URL+"/guide.xml", "Dave", at, &bytes.Buffer{})
	assert.Error(t, err)
}

func TestRunMatch_usesPlaylistHint(t *testing.T) {
	srv := testServer(t)
	var out bytes.Buffer
	require.NoError(t, runMatch(context.Background(), testConfig(), zerolog.Nop(), "", srv.URL+"/list.m3u", true, &out))
	s := out.String()
	assert.Contains(t, s, "EPG matches: 2/3")
	assert.Contains(t, s, "tvg_id_exact=1")
	assert.Contains(t, s, "name_normalized=1")
	assert.Contains(t, s, "logos gained: 1")
	assert.Contains(t, s, "Dave")
}

func TestNewResolver_aliases(t *testing.T) {
	path := filepath.Join(t.TempDir(), "aliases.json")
	require.NoError(t, os.WriteFile(path, []byte(`{"name_to_guide_id":{"Channel Three":"itv1.uk"}}`), 0o644))
	cfg := testConfig()
	cfg.AliasFile = path
	r, err := newResolver(cfg)
	require.NoError(t, err)

	b := guide.NewBuilder()
	b.AddChannel(guide.Channel{ID: "itv1.uk", Name: "ITV1"})
	g := b.Build()
	ch, method, ok := r.Resolve(playlist.Channel{Name: "Channel Three"}, g)
	require.True(t, ok)
	assert.Equal(t, "itv1.uk", ch.ID)
	assert.Equal(t, epglink.MethodAlias, method)

	cfg.AliasFile = filepath.Join(t.TempDir(), "missing.json")
	_, err = newResolver(cfg)
	assert.Error(t, err)
}

func TestPlaylistState_enrich(t *testing.T) {
	srv := testServer(t)
	p := newPlaylistState(srv.URL+"/list.m3u", nil, zerolog.Nop())
	require.NoError(t, p.refresh(context.Background()))
	assert.Equal(t, srv.URL+"/guide.xml", p.guideHint())

	g, err := guide.ParseBytes([]byte(testGuide))
	require.NoError(t, err)
	_, ok := p.Enriched()
	assert.False(t, ok)
	p.enrich(context.Background(), g, epglink.NewResolver())
	v, ok := p.Enriched()
	require.True(t, ok)
	require.Len(t, v.Channels, 3)
	assert.Equal(t, "http://img/bbc1.png", v.Channels[0].Logo)
	assert.Empty(t, v.Channels[2].Logo)
	require.Len(t, v.Gained, 1)
	assert.Equal(t, "BBC One HD", v.Gained[0].Name)
	assert.Equal(t, 2, v.Matched)
	assert.Equal(t, 1, v.Unmatched)
}

func TestPlaylistState_noURL(t *testing.T) {
	p := newPlaylistState("", nil, zerolog.Nop())
	require.NoError(t, p.refresh(context.Background()))
	assert.Empty(t, p.guideHint())
	p.enrich(context.Background(), nil, epglink.NewResolver())
	_, ok := p.Enriched()
	assert.False(t, ok)
}

func TestStart_enrichesRestoredGuide(t *testing.T) {
	srv := testServer(t)
	ctx := context.Background()

	cfg := testConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "guide.db")
	cfg.PlaylistURL = srv.URL + "/list.m3u"
	store, err := sources.Open(cfg.DBPath)
	require.NoError(t, err)
	require.NoError(t, store.SaveSettings(ctx, sources.Settings{ActiveURL: srv.URL + "/guide.xml"}))
	require.NoError(t, store.Close())

	svc, err := start(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(svc.close)

	require.Eventually(t, func() bool {
		_, ok := svc.pl.Enriched()
		return ok
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, refresh.StateLoaded, svc.coord.Status().State)
	v, _ := svc.pl.Enriched()
	assert.Equal(t, 2, v.Matched)
	require.Len(t, v.Gained, 1)
	assert.Equal(t, "http://img/bbc1.png", v.Gained[0].Logo)

	w := httptest.NewRecorder()
	svc.api.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/playlist/channels", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"gained":[{"name":"BBC One HD"`)
}

func TestStart_noPlaylistRoute(t *testing.T) {
	cfg := testConfig()
	cfg.DBPath = filepath.Join(t.TempDir(), "guide.db")
	svc, err := start(context.Background(), cfg, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(svc.close)

	w := httptest.NewRecorder()
	svc.api.Handler().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/playlist/channels", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, refresh.StateIdle, svc.coord.Status().State)
}

// Runs against a real guide only when IPTV_GUIDE_SOURCE_URL is set (e.g. in .env).
func TestIntegration_fetchSource(t *testing.T) {
	for _, p := range []string{".env", "../.env", "../../.env"} {
		_ = config.LoadEnvFile(p)
	}
	cfg, err := config.Load()
	require.NoError(t, err)
	if cfg.SourceURL == "" {
		t.Skip("no guide source (set IPTV_GUIDE_SOURCE_URL in .env)")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)
	defer cancel()
	var out bytes.Buffer
	if err := runFetch(ctx, cfg, zerolog.Nop(), cfg.SourceURL, "", &out); err != nil {
		t.Skipf("source not reachable: %v", err)
	}
	t.Log(out.String())
}
