// Package logodb is a read-only channel-name -> logo table built from the
// iptv-org channel list (https://iptv-org.github.io/api/channels.json).
//
// Lookups only succeed when a name identifies exactly one channel that has a
// logo; ambiguous names return nothing rather than a guess.
package logodb

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"regexp"
	"strings"

	"github.com/goccy/go-json"

	"github.com/snapetech/iptvguide/internal/httpclient"
)

const DefaultChannelsURL = "https://iptv-org.github.io/api/channels.json"

// Channel is one record from channels.json. Fields we don't use are ignored.
type Channel struct {
	ID       string   `json:"id"`        // e.g. "cnn.us"
	Name     string   `json:"name"`      // e.g. "CNN"
	AltNames []string `json:"alt_names"` // alternative display names
	Country  string   `json:"country"`
	Logo     string   `json:"logo"`
	IsNSFW   bool     `json:"is_nsfw"`
}

// DB is immutable after construction and safe for concurrent reads.
type DB struct {
	channels []Channel
	byName   map[string][]int // normalised name -> channel indexes
}

func New(channels []Channel) *DB {
	db := &DB{channels: channels}
	db.index()
	return db
}

func (db *DB) Len() int {
	if db == nil {
		return 0
	}
	return len(db.channels)
}

// Load reads channels.json from path. A missing file yields an empty DB.
func Load(path string) (*DB, error) {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return New(nil), nil
		}
		return nil, err
	}
	defer f.Close()
	return Decode(f)
}

func Decode(r io.Reader) (*DB, error) {
	var channels []Channel
	if err := json.NewDecoder(r).Decode(&channels); err != nil {
		return nil, fmt.Errorf("logodb: decode channels: %w", err)
	}
	return New(channels), nil
}

// Fetch downloads channels.json (DefaultChannelsURL if url is empty).
func Fetch(ctx context.Context, url string, client *http.Client) (*DB, error) {
	if url == "" {
		url = DefaultChannelsURL
	}
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
		return nil, fmt.Errorf("logodb: channels.json: HTTP %d", resp.StatusCode)
	}
	return Decode(resp.Body)
}

// Logo returns the logo of the single channel called name (or one of its
// alt names). Country prefixes and quality suffixes are ignored.
func (db *DB) Logo(name string) (string, bool) {
	if db == nil {
		return "", false
	}
	for _, key := range []string{normName(name), stripForMatch(name)} {
		if key == "" {
			continue
		}
		idx := db.byName[key]
		if len(idx) != 1 {
			continue
		}
		if logo := db.channels[idx[0]].Logo; logo != "" {
			return logo, true
		}
	}
	return "", false
}

// LookupByID returns the channel with the given iptv-org id, ignoring case.
func (db *DB) LookupByID(id string) (Channel, bool) {
	if db == nil {
		return Channel{}, false
	}
	id = strings.TrimSpace(id)
	for _, ch := range db.channels {
		if strings.EqualFold(ch.ID, id) {
			return ch, true
		}
	}
	return Channel{}, false
}

func (db *DB) index() {
	db.byName = make(map[string][]int, len(db.channels)*2)
	for i, ch := range db.channels {
		if ch.IsNSFW {
			continue
		}
		for _, n := range append([]string{ch.Name}, ch.AltNames...) {
			for _, k := range []string{normName(n), stripForMatch(n)} {
				if k != "" {
					db.byName[k] = appendUniq(db.byName[k], i)
				}
			}
		}
	}
}

func appendUniq(s []int, v int) []int {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}

// --- normalisation -----------------------------------------------------------

var qualityMarkerRe = regexp.MustCompile(`(?i)\s*(HD2?|UHD|4K|8K|SD|RAW|FHD)\s*$`)

// "US: ", "DE: " and sub-provider tags like "SLING: ".
var prefixRe = regexp.MustCompile(`(?i)^[A-Z]{1,6}:\s*`)

var nonAlphanumRe = regexp.MustCompile(`[^a-z0-9 ]`)

func normName(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	s = nonAlphanumRe.ReplaceAllString(s, " ")
	return strings.Join(strings.Fields(s), " ")
}

func stripForMatch(s string) string {
	s = prefixRe.ReplaceAllString(strings.TrimSpace(s), "")
	s = qualityMarkerRe.ReplaceAllString(s, "")
	return normName(s)
}
