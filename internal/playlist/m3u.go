// Package playlist reads M3U playlists into the loosely identified channel
// records the guide resolver matches against.
package playlist

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/snapetech/iptvguide/internal/httpclient"
)

const maxLineSize = 1 << 20 // 1 MiB per line

// Channel is one playlist entry. TVGID, TVGName and Logo are optional.
type Channel struct {
	Name      string `json:"name"`
	TVGID     string `json:"tvg_id,omitempty"`
	TVGName   string `json:"tvg_name,omitempty"`
	Logo      string `json:"logo,omitempty"`
	Group     string `json:"group,omitempty"`
	StreamURL string `json:"stream_url,omitempty"`
}

// Playlist is a parsed M3U. GuideURLHint is the first URL advertised in the
// #EXTM3U header (url-tvg / x-tvg-url), if any.
type Playlist struct {
	Channels     []Channel
	GuideURLHint string
}

// Fetch downloads and parses the playlist at url. If client is nil,
// httpclient.Default() is used.
func Fetch(ctx context.Context, url string, client *http.Client) (*Playlist, error) {
	if client == nil {
		client = httpclient.Default()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", httpclient.UserAgent)
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("playlist: unexpected status %d", resp.StatusCode)
	}
	return Parse(resp.Body)
}

// ParseBytes parses an in-memory playlist.
func ParseBytes(data []byte) (*Playlist, error) {
	return Parse(bytes.NewReader(data))
}

// Parse reads an M3U stream. Entries are an #EXTINF line followed by the
// first non-comment line (the stream URL); stray URLs are ignored.
func Parse(r io.Reader) (*Playlist, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(nil, maxLineSize)
	pl := &Playlist{}
	var extinf string
	for sc.Scan() {
		line := strings.TrimSpace(strings.TrimPrefix(sc.Text(), "\ufeff"))
		if line == "" {
			continue
		}
		switch {
		case strings.HasPrefix(line, "#EXTM3U"):
			if pl.GuideURLHint == "" {
				pl.GuideURLHint = guideHint(line)
			}
			continue
		case strings.HasPrefix(line, "#EXTINF:"):
			extinf = line
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}
		if extinf != "" {
			pl.Channels = append(pl.Channels, channelFromEXTINF(extinf, line))
		}
		extinf = ""
	}
	return pl, sc.Err()
}

func channelFromEXTINF(extinf, streamURL string) Channel {
	ch := Channel{
		TVGID:     attr(extinf, "tvg-id"),
		TVGName:   attr(extinf, "tvg-name"),
		Logo:      attr(extinf, "tvg-logo"),
		Group:     attr(extinf, "group-title"),
		StreamURL: streamURL,
	}
	if i := strings.LastIndex(extinf, ","); i >= 0 {
		ch.Name = strings.TrimSpace(extinf[i+1:])
	}
	if ch.Name == "" {
		ch.Name = ch.TVGName
	}
	return ch
}

// guideHint returns the first URL in url-tvg / x-tvg-url; the attribute may
// carry a comma-separated list.
func guideHint(header string) string {
	for _, key := range []string{"url-tvg", "x-tvg-url"} {
		v := attr(header, key)
		if v == "" {
			continue
		}
		for _, part := range strings.Split(v, ",") {
			if part = strings.TrimSpace(part); part != "" {
				return part
			}
		}
	}
	return ""
}

// attr extracts key="value" from an M3U directive line.
func attr(line, key string) string {
	prefix := key + `="`
	for i := 0; ; {
		j := strings.Index(line[i:], prefix)
		if j < 0 {
			return ""
		}
		j += i
		// Require a separator before the key so "x-tvg-url" does not match "tvg-url".
		if j == 0 || line[j-1] == ' ' || line[j-1] == '\t' || line[j-1] == ':' {
			start := j + len(prefix)
			end := strings.IndexByte(line[start:], '"')
			if end < 0 {
				return ""
			}
			return strings.TrimSpace(line[start : start+end])
		}
		i = j + len(prefix)
	}
}
