// Command iptv-guide: XMLTV guide service and tools.
//
//	serve  Run the guide API: restore the last source, auto-refresh, suggestions
//	fetch  Fetch and parse one guide, print counts
//	now    Print what is on a channel now (and next)
//	match  Resolve an M3U playlist against a guide and report matches
//	probe  Check a guide URL (or a running instance with -self)
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/snapetech/iptvguide/internal/api"
	"github.com/snapetech/iptvguide/internal/config"
	"github.com/snapetech/iptvguide/internal/epglink"
	"github.com/snapetech/iptvguide/internal/fetch"
	"github.com/snapetech/iptvguide/internal/guide"
	"github.com/snapetech/iptvguide/internal/health"
	"github.com/snapetech/iptvguide/internal/httpclient"
	"github.com/snapetech/iptvguide/internal/logging"
	"github.com/snapetech/iptvguide/internal/logodb"
	"github.com/snapetech/iptvguide/internal/metrics"
	"github.com/snapetech/iptvguide/internal/playlist"
	"github.com/snapetech/iptvguide/internal/refresh"
	"github.com/snapetech/iptvguide/internal/schedule"
	"github.com/snapetech/iptvguide/internal/sources"
)

const hostBurst = 2

func main() {
	_ = config.LoadEnvFile(".env")

	serveCmd := flag.NewFlagSet("serve", flag.ExitOnError)
	serveAddr := serveCmd.String("addr", "", "Listen address (default: IPTV_GUIDE_LISTEN)")
	serveDB := serveCmd.String("db", "", "Settings sqlite path (default: IPTV_GUIDE_DB)")

	fetchCmd := flag.NewFlagSet("fetch", flag.ExitOnError)
	fetchURL := fetchCmd.String("url", "", "Guide URL (default: IPTV_GUIDE_SOURCE_URL)")
	fetchOut := fetchCmd.String("out", "", "Write the parsed guide back out as normalized XMLTV to this file")

	nowCmd := flag.NewFlagSet("now", flag.ExitOnError)
	nowURL := nowCmd.String("url", "", "Guide URL (default: IPTV_GUIDE_SOURCE_URL)")
	nowChannel := nowCmd.String("channel", "", "Guide channel id, tvg-id or channel name")
	nowAt := nowCmd.String("at", "", "RFC3339 instant (default: now)")

	matchCmd := flag.NewFlagSet("match", flag.ExitOnError)
	matchURL := matchCmd.String("url", "", "Guide URL (default: the playlist's url-tvg, then IPTV_GUIDE_SOURCE_URL)")
	matchM3U := matchCmd.String("m3u", "", "M3U playlist URL (default: IPTV_GUIDE_PLAYLIST_URL)")
	matchUnmatched := matchCmd.Bool("unmatched", false, "List unmatched channels")

	probeCmd := flag.NewFlagSet("probe", flag.ExitOnError)
	probeURL := probeCmd.String("url", "", "Guide URL (default: IPTV_GUIDE_SOURCE_URL)")
	probeSelf := probeCmd.String("self", "", "Base URL of a running iptv-guide to check instead (e.g. http://localhost:8089)")
	probeTimeout := probeCmd.Duration("timeout", 20*time.Second, "Timeout")

	if len(os.Args) < 2 {
		fmt.Fprintf(os.Stderr, "Usage: %s <serve|fetch|now|match|probe> [flags]\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  serve  Run the guide API (restores the last active source)\n")
		fmt.Fprintf(os.Stderr, "  fetch  Fetch and parse a guide, print counts\n")
		fmt.Fprintf(os.Stderr, "  now    Show current and next programme for a channel\n")
		fmt.Fprintf(os.Stderr, "  match  Match an M3U playlist against a guide\n")
		fmt.Fprintf(os.Stderr, "  probe  Check that a guide URL answers with XMLTV\n")
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	log, closer, err := logging.New(logging.Config{Level: cfg.LogLevel, Format: cfg.LogFormat, File: cfg.LogFile})
	if err != nil {
		fmt.Fprintf(os.Stderr, "log file: %v\n", err)
		os.Exit(1)
	}
	defer closer.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch os.Args[1] {
	case "serve":
		_ = serveCmd.Parse(os.Args[2:])
		if *serveAddr != "" {
			cfg.Listen = *serveAddr
		}
		if *serveDB != "" {
			cfg.DBPath = *serveDB
		}
		err = serve(ctx, cfg, log)

	case "fetch":
		_ = fetchCmd.Parse(os.Args[2:])
		err = runFetch(ctx, cfg, log, orDefault(*fetchURL, cfg.SourceURL), *fetchOut, os.Stdout)

	case "now":
		_ = nowCmd.Parse(os.Args[2:])
		at := time.Now()
		if *nowAt != "" {
			if at, err = time.Parse(time.RFC3339, *nowAt); err != nil {
				fatal(log, fmt.Errorf("-at: %w", err))
			}
		}
		err = runNow(ctx, cfg, log, orDefault(*nowURL, cfg.SourceURL), *nowChannel, at, os.Stdout)

	case "match":
		_ = matchCmd.Parse(os.Args[2:])
		err = runMatch(ctx, cfg, log, *matchURL, orDefault(*matchM3U, cfg.PlaylistURL), *matchUnmatched, os.Stdout)

	case "probe":
		_ = probeCmd.Parse(os.Args[2:])
		pctx, cancel := context.WithTimeout(ctx, *probeTimeout)
		err = runProbe(pctx, orDefault(*probeURL, cfg.SourceURL), *probeSelf, os.Stdout)
		cancel()

	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q\n", os.Args[1])
		os.Exit(1)
	}
	if err != nil {
		fatal(log, err)
	}
}

func fatal(log zerolog.Logger, err error) {
	log.Error().Err(err).Msg("exiting")
	os.Exit(1)
}

func orDefault(v, def string) string {
	if strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return def
}

// ─── Wiring ──────────────────────────────────────────────────────────────────

func newFetcher(cfg *config.Config, log zerolog.Logger, rec metrics.Recorder) (*fetch.Fetcher, error) {
	chain, err := fetch.Chain(cfg.Proxies)
	if err != nil {
		return nil, fmt.Errorf("proxies: %w", err)
	}
	return fetch.New(fetch.Config{
		Client:     httpclient.WithTimeout(cfg.FetchTimeout),
		Strategies: chain,
		Limiter:    httpclient.NewHostLimiter(cfg.HostRate, hostBurst),
		MaxBytes:   cfg.MaxDocumentBytes,
		UserAgent:  cfg.UserAgent,
		Metrics:    rec,
		Logger:     log,
	}), nil
}

func newResolver(cfg *config.Config) (*epglink.CachedResolver, error) {
	r := epglink.NewResolver()
	if cfg.AliasFile != "" {
		f, err := os.Open(cfg.AliasFile)
		if err != nil {
			return nil, fmt.Errorf("aliases: %w", err)
		}
		defer f.Close()
		a, err := epglink.LoadAliasOverrides(f)
		if err != nil {
			return nil, fmt.Errorf("aliases: %w", err)
		}
		r = r.WithAliases(a)
	}
	return epglink.NewCachedResolver(r, cfg.ResolveCacheMB<<20), nil
}

func loadLogos(cfg *config.Config, log zerolog.Logger) epglink.LogoLookup {
	if cfg.LogoDB == "" {
		return nil
	}
	db, err := logodb.Load(cfg.LogoDB)
	if err != nil {
		log.Warn().Err(err).Str("path", cfg.LogoDB).Msg("logo db not loaded")
		return nil
	}
	log.Info().Int("channels", db.Len()).Msg("logo db loaded")
	return db
}

// fetchGuide fetches and parses one guide outside the coordinator.
func fetchGuide(ctx context.Context, cfg *config.Config, log zerolog.Logger, url string) (*fetch.Document, *guide.Guide, error) {
	if url == "" {
		return nil, nil, errors.New("need -url or IPTV_GUIDE_SOURCE_URL")
	}
	f, err := newFetcher(cfg, log, metrics.Noop())
	if err != nil {
		return nil, nil, err
	}
	doc, err := f.Fetch(ctx, url)
	if err != nil {
		return nil, nil, err
	}
	g, err := guide.ParseBytes(doc.Body)
	if err != nil {
		return doc, nil, err
	}
	return doc, g, nil
}

// ─── serve ───────────────────────────────────────────────────────────────────

func serve(ctx context.Context, cfg *config.Config, log zerolog.Logger) error {
	svc, err := start(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer svc.close()
	return svc.api.Serve(ctx, cfg.Listen)
}

// service is everything serve wires together, minus the listener.
type service struct {
	store *sources.Store
	coord *refresh.Coordinator
	pl    *playlistState
	api   *api.Server
}

func (s *service) close() {
	s.coord.Close()
	_ = s.store.Close()
}

// start opens the settings store, loads the playlist and restores the last
// guide source in the background. It never waits on a guide fetch.
func start(ctx context.Context, cfg *config.Config, log zerolog.Logger) (*service, error) {
	rec := metrics.New(cfg.Metrics)

	store, err := sources.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*service, error) {
		_ = store.Close()
		return nil, err
	}

	catalog := sources.NewCatalog(cfg.Sources, store)
	if err := catalog.Load(ctx); err != nil {
		return fail(err)
	}
	fetcher, err := newFetcher(cfg, log, rec)
	if err != nil {
		return fail(err)
	}
	resolver, err := newResolver(cfg)
	if err != nil {
		return fail(err)
	}

	// The playlist goes first so the restored guide's enrichment sees it.
	pl := newPlaylistState(cfg.PlaylistURL, loadLogos(cfg, log), log)
	plErr := pl.refresh(ctx)
	if plErr != nil {
		log.Warn().Err(plErr).Msg("playlist not loaded")
	}

	coord := refresh.New(refresh.Config{
		Fetcher:  fetcher,
		Store:    store,
		Resolver: resolver,
		Enrich:   pl.enrich,
		Metrics:  rec,
		Logger:   log,
	})
	if err := coord.Restore(ctx); err != nil {
		log.Warn().Err(err).Msg("restore settings")
	}
	st := coord.Status()
	if st.ActiveURL == "" && cfg.SourceURL != "" {
		if err := coord.LoadAsync(cfg.SourceURL); err != nil {
			log.Warn().Err(err).Msg("initial source")
		}
		if cfg.AutoRefresh && !st.AutoRefresh {
			coord.ScheduleAutoRefresh(cfg.RefreshMinutes, true)
		}
	}
	if hint := pl.guideHint(); plErr == nil && hint != "" {
		if sg, ok := coord.SuggestSource(hint); ok {
			if d, known := catalog.FindByURL(sg.URL); known {
				coord.NameSuggestion(sg.URL, d.Name)
			}
		}
	}

	var plView api.Playlist
	if cfg.PlaylistURL != "" {
		plView = pl
	}
	srv := api.New(api.Config{Coordinator: coord, Catalog: catalog, Playlist: plView, Metrics: rec, Logger: log})
	return &service{store: store, coord: coord, pl: pl, api: srv}, nil
}

// ─── fetch / now / match / probe ─────────────────────────────────────────────

func runFetch(ctx context.Context, cfg *config.Config, log zerolog.Logger, url, out string, w io.Writer) error {
	start := time.Now()
	doc, g, err := fetchGuide(ctx, cfg, log, url)
	if err != nil {
		if kind, ok := fetch.KindOf(err); ok {
			return fmt.Errorf("fetch failed (%s): %w", kind, err)
		}
		return err
	}
	fmt.Fprintf(w, "via:        %s (compressed=%v)\n", doc.Via, doc.Compressed)
	fmt.Fprintf(w, "bytes:      %d\n", len(doc.Body))
	fmt.Fprintf(w, "channels:   %d\n", g.ChannelCount())
	fmt.Fprintf(w, "programmes: %d (skipped %d)\n", g.ProgramCount(), g.Skipped)
	fmt.Fprintf(w, "took:       %s\n", time.Since(start).Round(time.Millisecond))
	if out == "" {
		return nil
	}
	f, err := os.Create(out)
	if err != nil {
		return err
	}
	if err := g.WriteXMLTV(f, nil); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	fmt.Fprintf(w, "wrote:      %s\n", out)
	return nil
}

func runNow(ctx context.Context, cfg *config.Config, log zerolog.Logger, url, channel string, at time.Time, w io.Writer) error {
	if channel == "" {
		return errors.New("need -channel")
	}
	_, g, err := fetchGuide(ctx, cfg, log, url)
	if err != nil {
		return err
	}
	r, err := newResolver(cfg)
	if err != nil {
		return err
	}
	ch, method, ok := r.Resolve(playlist.Channel{Name: channel, TVGID: channel}, g)
	if !ok {
		return fmt.Errorf("no guide channel matches %q", channel)
	}
	printNowNext(w, ch, method, schedule.At(g.Programs(ch.ID), at), at)
	return nil
}

func printNowNext(w io.Writer, ch guide.Channel, method epglink.Method, nn schedule.NowNext, at time.Time) {
	fmt.Fprintf(w, "%s (%s) [%s]\n", ch.Name, ch.ID, method)
	if nn.Current != nil {
		fmt.Fprintf(w, "  now:  %s  %s-%s  %.0f%%\n", nn.Current.Title,
			nn.Current.Start.In(at.Location()).Format("15:04"), nn.Current.Stop.In(at.Location()).Format("15:04"), nn.Progress)
	} else {
		fmt.Fprintf(w, "  now:  (nothing scheduled)\n")
	}
	if nn.Next != nil {
		fmt.Fprintf(w, "  next: %s  %s\n", nn.Next.Title, nn.Next.Start.In(at.Location()).Format("15:04"))
	}
}

func runMatch(ctx context.Context, cfg *config.Config, log zerolog.Logger, guideURL, m3uURL string, listUnmatched bool, w io.Writer) error {
	if m3uURL == "" {
		return errors.New("need -m3u or IPTV_GUIDE_PLAYLIST_URL")
	}
	pl, err := playlist.Fetch(ctx, m3uURL, httpclient.WithTimeout(cfg.FetchTimeout))
	if err != nil {
		return fmt.Errorf("playlist: %w", err)
	}
	guideURL = orDefault(guideURL, orDefault(pl.GuideURLHint, cfg.SourceURL))
	_, g, err := fetchGuide(ctx, cfg, log, guideURL)
	if err != nil {
		return err
	}
	r, err := newResolver(cfg)
	if err != nil {
		return err
	}
	rep := epglink.MatchReport(pl.Channels, g, r)
	fmt.Fprintln(w, rep.SummaryString())
	enr := epglink.EnrichLogos(pl.Channels, g, r, loadLogos(cfg, log))
	fmt.Fprintf(w, "logos gained: %d\n", len(enr.Gained))
	if listUnmatched {
		for _, row := range rep.UnmatchedRows() {
			fmt.Fprintf(w, "  %-40s tvg-id=%q (%s)\n", row.Name, row.TVGID, row.Reason)
		}
	}
	return nil
}

func runProbe(ctx context.Context, url, self string, w io.Writer) error {
	if self != "" {
		if err := health.CheckEndpoints(ctx, self); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s OK\n", self)
		return nil
	}
	info, err := health.CheckSource(ctx, url, nil)
	fmt.Fprintf(w, "status=%d type=%q encoding=%q gzip=%v xml=%v cloudflare=%v latency=%s\n",
		info.Status, info.ContentType, info.ContentEncoding, info.Gzip, info.XMLLike, info.Cloudflare, info.Latency.Round(time.Millisecond))
	return err
}
