package fetch

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/andybalholm/brotli"
	"github.com/klauspost/compress/gzip"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleXML = `<?xml version="1.0" encoding="UTF-8"?>
<tv><channel id="bbc1"><display-name>BBC One</display-name></channel></tv>`

// ─── Helpers ─────────────────────────────────────────────────────────────────

func gzipped(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

func brotlied(t *testing.T, s string) []byte {
	t.Helper()
	var buf bytes.Buffer
	bw := brotli.NewWriter(&buf)
	_, err := bw.Write([]byte(s))
	require.NoError(t, err)
	require.NoError(t, bw.Close())
	return buf.Bytes()
}

func directOnly(srv *httptest.Server) Config {
	return Config{Client: srv.Client(), Strategies: []Strategy{Direct}}
}

// relay is a local stand-in for a CORS relay: it fetches ?url= itself.
func relay(t *testing.T, hits *int32) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(hits, 1)
		target := r.URL.Query().Get("url")
		resp, err := http.Get(target + "?via=relay")
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadGateway)
			return
		}
		defer resp.Body.Close()
		var buf bytes.Buffer
		_, _ = buf.ReadFrom(resp.Body)
		w.WriteHeader(resp.StatusCode)
		_, _ = w.Write(buf.Bytes())
	}))
	t.Cleanup(srv.Close)
	return srv
}

// ─── Direct ──────────────────────────────────────────────────────────────────

func TestFetch_direct(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "iptv-guide/1.0", r.Header.Get("User-Agent"))
		assert.Equal(t, "gzip, br", r.Header.Get("Accept-Encoding"))
		assert.Empty(t, r.Header.Get("Authorization"))
		_, _ = w.Write([]byte(sampleXML))
	}))
	defer srv.Close()

	doc, err := New(directOnly(srv)).Fetch(context.Background(), srv.URL+"/guide.xml")
	require.NoError(t, err)
	assert.Equal(t, "direct", doc.Via)
	assert.False(t, doc.Compressed)
	assert.Equal(t, sampleXML, string(doc.Body))
}

func TestFetch_gzipBySuffix(t *testing.T) {
	body := gzipped(t, sampleXML)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/octet-stream")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	doc, err := New(directOnly(srv)).Fetch(context.Background(), srv.URL+"/guide.xml.gz")
	require.NoError(t, err)
	assert.True(t, doc.Compressed)
	assert.Equal(t, sampleXML, string(doc.Body))
}

func TestFetch_gzipByMagicWithoutSuffix(t *testing.T) {
	body := gzipped(t, sampleXML)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	doc, err := New(directOnly(srv)).Fetch(context.Background(), srv.URL+"/epg")
	require.NoError(t, err)
	assert.True(t, doc.Compressed)
	assert.True(t, LooksLikeXMLTV(doc.Body))
}

func TestFetch_gzSuffixAlreadyInflated(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleXML))
	}))
	defer srv.Close()

	doc, err := New(directOnly(srv)).Fetch(context.Background(), srv.URL+"/guide.xml.gz")
	require.NoError(t, err)
	assert.False(t, doc.Compressed)
}

func TestFetch_contentEncodingBrotli(t *testing.T) {
	body := brotlied(t, sampleXML)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Encoding", "br")
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	doc, err := New(directOnly(srv)).Fetch(context.Background(), srv.URL+"/guide.xml")
	require.NoError(t, err)
	assert.True(t, doc.Compressed)
	assert.Equal(t, sampleXML, string(doc.Body))
}

// ─── Failure kinds ───────────────────────────────────────────────────────────

func TestFetch_gzWithoutDecoderIsUnsupported(t *testing.T) {
	body := gzipped(t, sampleXML)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write(body)
	}))
	defer srv.Close()

	cfg := directOnly(srv)
	cfg.Decoders = map[string]Decoder{}
	_, err := New(cfg).Fetch(context.Background(), srv.URL+"/guide.xml.gz")
	require.Error(t, err)
	kind, ok := KindOf(err)
	require.True(t, ok)
	assert.Equal(t, KindDecompressionUnsupported, kind)
}

func TestFetch_corruptGzip(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte{0x1f, 0x8b, 0x08, 0x00, 'j', 'u', 'n', 'k'})
	}))
	defer srv.Close()

	_, err := New(directOnly(srv)).Fetch(context.Background(), srv.URL+"/guide.xml.gz")
	kind, _ := KindOf(err)
	assert.Equal(t, KindDecompressionFailed, kind)
}

func TestFetch_notXMLLike(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte("<html><body>blocked</body></html>"))
	}))
	defer srv.Close()

	_, err := New(directOnly(srv)).Fetch(context.Background(), srv.URL+"/guide.xml")
	kind, _ := KindOf(err)
	assert.Equal(t, KindNotXMLLike, kind)
}

func TestFetch_emptyBodyWithoutProxies(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	_, err := New(directOnly(srv)).Fetch(context.Background(), srv.URL+"/guide.xml")
	kind, _ := KindOf(err)
	assert.Equal(t, KindEmptyBody, kind)
}

func TestFetch_networkWithoutProxies(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	defer srv.Close()

	_, err := New(directOnly(srv)).Fetch(context.Background(), srv.URL+"/guide.xml")
	kind, _ := KindOf(err)
	assert.Equal(t, KindNetwork, kind)
	assert.Contains(t, err.Error(), "HTTP 404")
}

func TestFetch_rejectsNonHTTP(t *testing.T) {
	_, err := New(Config{Strategies: []Strategy{Direct}}).Fetch(context.Background(), "file:///etc/passwd")
	kind, _ := KindOf(err)
	assert.Equal(t, KindNetwork, kind)
}

func TestFetch_bodyOverLimit(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleXML))
	}))
	defer srv.Close()

	cfg := directOnly(srv)
	cfg.MaxBytes = 10
	_, err := New(cfg).Fetch(context.Background(), srv.URL+"/guide.xml")
	kind, _ := KindOf(err)
	assert.Equal(t, KindNetwork, kind)
}

// ─── Proxy chain ─────────────────────────────────────────────────────────────

func TestFetch_fallsBackToRelay(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("via") != "relay" {
			w.WriteHeader(http.StatusForbidden)
			return
		}
		_, _ = w.Write([]byte(sampleXML))
	}))
	defer origin.Close()

	var hits int32
	rl := relay(t, &hits)
	chain, err := Chain([]string{rl.URL + "/?url={url}"})
	require.NoError(t, err)

	doc, err := New(Config{Strategies: chain}).Fetch(context.Background(), origin.URL+"/guide.xml")
	require.NoError(t, err)
	assert.Equal(t, strings.TrimPrefix(rl.URL, "http://"), doc.Via)
	assert.EqualValues(t, 1, atomic.LoadInt32(&hits))
}

func TestFetch_shortCircuitsOnFirstSuccess(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(sampleXML))
	}))
	defer origin.Close()

	var hits int32
	rl := relay(t, &hits)
	chain, err := Chain([]string{rl.URL + "/?url={url}"})
	require.NoError(t, err)

	doc, err := New(Config{Strategies: chain}).Fetch(context.Background(), origin.URL+"/guide.xml")
	require.NoError(t, err)
	assert.Equal(t, "direct", doc.Via)
	assert.Zero(t, atomic.LoadInt32(&hits))
}

func TestFetch_allProxiesExhausted(t *testing.T) {
	origin := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusForbidden)
	}))
	defer origin.Close()

	var hits int32
	rl := relay(t, &hits)
	chain, err := Chain([]string{rl.URL + "/?url={url}", rl.URL + "/raw?url={url}"})
	require.NoError(t, err)

	_, err = New(Config{Strategies: chain}).Fetch(context.Background(), origin.URL+"/guide.xml")
	kind, _ := KindOf(err)
	assert.Equal(t, KindAllProxiesExhausted, kind)
	assert.EqualValues(t, 2, atomic.LoadInt32(&hits), "each relay tried once, no retries")
}

func TestProxyStrategy(t *testing.T) {
	target := "http://epg.example/guide.xml.gz?a=1&b=2"

	s, err := ProxyStrategy("https://corsproxy.io/?url={url}")
	require.NoError(t, err)
	assert.Equal(t, "corsproxy.io", s.Name)
	assert.Equal(t, "https://corsproxy.io/?url="+url.QueryEscape(target), s.Wrap(target))

	s, err = ProxyStrategy("https://api.codetabs.com/v1/proxy/?quest={raw}")
	require.NoError(t, err)
	assert.Equal(t, "https://api.codetabs.com/v1/proxy/?quest="+target, s.Wrap(target))

	_, err = ProxyStrategy("https://noplaceholder.example/")
	assert.Error(t, err)
	_, err = ProxyStrategy("ftp://relay/{url}")
	assert.Error(t, err)
}

func TestChain_defaults(t *testing.T) {
	f := New(Config{})
	assert.Equal(t, []string{"direct", "corsproxy.io", "api.allorigins.win", "api.codetabs.com"}, f.Strategies())
}

func TestLooksLikeXMLTV(t *testing.T) {
	tests := []struct {
		in   string
		want bool
	}{
		{`<?xml version="1.0"?><tv/>`, true},
		{"\ufeff  \n<tv>", true},
		{`<!DOCTYPE tv SYSTEM "xmltv.dtd"><tv/>`, true},
		{"<html>", false},
		{"\x1f\x8b\x08", false},
		{"", false},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, LooksLikeXMLTV([]byte(tt.in)), "%q", tt.in)
	}
}
