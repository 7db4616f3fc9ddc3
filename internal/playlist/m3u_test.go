package playlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleM3U = `#EXTM3U url-tvg="http://epg.example/guide.xml.gz, http://backup/guide.xml"
#EXTINF:-1 tvg-id="BBC1.uk" tvg-name="BBC One" tvg-logo="http://logo/bbc.png" group-title="UK",BBC One HD
http://stream/bbc1.m3u8
#EXTINF:-1 tvg-id="" group-title="US",ESPN
#EXTVLCOPT:http-user-agent=foo
http://stream/espn.ts
#EXTINF:-1,Orphan with no url
#EXTINF:-1 tvg-name="Only TVG Name",
http://stream/x.ts
http://stray/url.ts
`

func TestParse(t *testing.T) {
	pl, err := ParseBytes([]byte(sampleM3U))
	require.NoError(t, err)
	assert.Equal(t, "http://epg.example/guide.xml.gz", pl.GuideURLHint)
	require.Len(t, pl.Channels, 3)

	assert.Equal(t, Channel{
		Name: "BBC One HD", TVGID: "BBC1.uk", TVGName: "BBC One",
		Logo: "http://logo/bbc.png", Group: "UK", StreamURL: "http://stream/bbc1.m3u8",
	}, pl.Channels[0])

	assert.Equal(t, "ESPN", pl.Channels[1].Name)
	assert.Empty(t, pl.Channels[1].TVGID)
	assert.Equal(t, "http://stream/espn.ts", pl.Channels[1].StreamURL)

	assert.Equal(t, "Only TVG Name", pl.Channels[2].Name, "falls back to tvg-name")
}

func TestParse_xTVGURLHeader(t *testing.T) {
	pl, err := ParseBytes([]byte("#EXTM3U x-tvg-url=\"http://a/epg.xml\"\n"))
	require.NoError(t, err)
	assert.Equal(t, "http://a/epg.xml", pl.GuideURLHint)
	assert.Empty(t, pl.Channels)
}

func TestAttr_requiresSeparator(t *testing.T) {
	line := `#EXTM3U x-tvg-url="http://x" tvg-url="http://y"`
	assert.Equal(t, "http://y", attr(line, "tvg-url"))
	assert.Equal(t, "http://x", attr(line, "x-tvg-url"))
	assert.Empty(t, attr(line, "url-tvg"))
}

func TestFetch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/list.m3u" {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write([]byte(sampleM3U))
	}))
	defer srv.Close()

	pl, err := Fetch(context.Background(), srv.URL+"/list.m3u", srv.Client())
	require.NoError(t, err)
	assert.Len(t, pl.Channels, 3)

	_, err = Fetch(context.Background(), srv.URL+"/missing", srv.Client())
	assert.Error(t, err)
}
