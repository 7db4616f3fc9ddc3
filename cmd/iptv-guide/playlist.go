package main

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"github.com/snapetech/iptvguide/internal/api"
	"github.com/snapetech/iptvguide/internal/epglink"
	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/httpclient"
	"github.com/snapetech/iptvguide/internal/playlist"
)

// playlistState holds the optional M3U the service enriches after each load.
type playlistState struct {
	url   string
	logos epglink.LogoLookup
	log   zerolog.Logger

	mu   sync.Mutex
	pl   *playlist.Playlist
	view *api.PlaylistView
}

var _ api.Playlist = (*playlistState)(nil)

func newPlaylistState(url string, logos epglink.LogoLookup, log zerolog.Logger) *playlistState {
	return &playlistState{url: url, logos: logos, log: log.With().Str("component", "playlist").Logger()}
}

func (p *playlistState) refresh(ctx context.Context) error {
	if p.url == "" {
		return nil
	}
	pl, err := playlist.Fetch(ctx, p.url, httpclient.Default())
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.pl = pl
	p.mu.Unlock()
	p.log.Info().Int("channels", len(pl.Channels)).Bool("guide_hint", pl.GuideURLHint != "").Msg("playlist loaded")
	return nil
}

func (p *playlistState) guideHint() string {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pl == nil {
		return ""
	}
	return p.pl.GuideURLHint
}

// enrich is the coordinator's post-load hook.
func (p *playlistState) enrich(ctx context.Context, g *guide.Guide, m epglink.Matcher) {
	p.mu.Lock()
	pl := p.pl
	p.mu.Unlock()
	if pl == nil {
		return
	}
	enr := epglink.EnrichLogos(pl.Channels, g, m, p.logos)
	rep := epglink.MatchReport(pl.Channels, g, m)
	p.mu.Lock()
	p.view = &api.PlaylistView{
		URL:       p.url,
		Matched:   rep.Matched,
		Unmatched: rep.Unmatched,
		Channels:  enr.Channels,
		Gained:    enr.GainedChannels(),
	}
	p.mu.Unlock()
	p.log.Info().Int("matched", rep.Matched).Int("unmatched", rep.Unmatched).
		Int("logos_gained", len(enr.Gained)).Msg("playlist enriched")
}

// Enriched returns the result of the last enrichment. The slices are never
// modified after they are published.
func (p *playlistState) Enriched() (api.PlaylistView, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.view == nil {
		return api.PlaylistView{}, false
	}
	return *p.view, true
}
