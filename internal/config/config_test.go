package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/snapetech/iptvguide/internal/fetch"
)

func TestLoad_defaults(t *testing.T) {
	os.Clearenv()
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":8089", c.Listen)
	assert.Equal(t, 360, c.RefreshMinutes)
	assert.Equal(t, 60*time.Second, c.FetchTimeout)
	assert.Equal(t, int64(fetch.DefaultMaxBytes), c.MaxDocumentBytes)
	assert.Equal(t, fetch.DefaultProxyTemplates, c.Proxies)
	assert.False(t, c.AutoRefresh)
	assert.True(t, c.Metrics)
	assert.Nil(t, c.Sources)
}

func TestLoad_env(t *testing.T) {
	os.Clearenv()
	t.Setenv("IPTV_GUIDE_LISTEN", ":9000")
	t.Setenv("IPTV_GUIDE_SOURCE_URL", "http://epg.example/guide.xml.gz")
	t.Setenv("IPTV_GUIDE_AUTO_REFRESH", "true")
	t.Setenv("IPTV_GUIDE_REFRESH_MINUTES", "45")
	t.Setenv("IPTV_GUIDE_FETCH_TIMEOUT", "15s")
	t.Setenv("IPTV_GUIDE_PROXIES", "https://relay.one/?u={url}, https://relay.two/{raw}")
	t.Setenv("IPTV_GUIDE_HOST_RATE", "0.5")
	t.Setenv("IPTV_GUIDE_METRICS", "no")

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, ":9000", c.Listen)
	assert.Equal(t, "http://epg.example/guide.xml.gz", c.SourceURL)
	assert.True(t, c.AutoRefresh)
	assert.Equal(t, 45, c.RefreshMinutes)
	assert.Equal(t, 15*time.Second, c.FetchTimeout)
	assert.Equal(t, []string{"https://relay.one/?u={url}", "https://relay.two/{raw}"}, c.Proxies)
	assert.Equal(t, 0.5, c.HostRate)
	assert.False(t, c.Metrics)
}

func TestLoad_proxiesNone(t *testing.T) {
	os.Clearenv()
	t.Setenv("IPTV_GUIDE_PROXIES", "none")
	c, err := Load()
	require.NoError(t, err)
	assert.NotNil(t, c.Proxies)
	assert.Empty(t, c.Proxies)
}

func TestLoad_invalidNumbersFallBack(t *testing.T) {
	os.Clearenv()
	t.Setenv("IPTV_GUIDE_REFRESH_MINUTES", "-5")
	t.Setenv("IPTV_GUIDE_FETCH_TIMEOUT", "soon")
	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, 360, c.RefreshMinutes)
	assert.Equal(t, 60*time.Second, c.FetchTimeout)
}

const sampleYAML = `
listen: ":7000"
source_url: http://file.example/guide.xml
auto_refresh: true
refresh_minutes: 120
fetch_timeout: 20s
proxies: []
metrics: false
log:
  level: debug
  format: console
sources:
  - id: home
    name: Home NAS
    url: http://nas.local/guide.xml
    region: UK
`

func TestLoad_file(t *testing.T) {
	os.Clearenv()
	path := filepath.Join(t.TempDir(), "iptv-guide.yaml")
	require.NoError(t, os.WriteFile(path, []byte(sampleYAML), 0o644))
	t.Setenv("IPTV_GUIDE_CONFIG", path)
	t.Setenv("IPTV_GUIDE_REFRESH_MINUTES", "30") // env wins over file

	c, err := Load()
	require.NoError(t, err)
	assert.Equal(t, path, c.File)
	assert.Equal(t, ":7000", c.Listen)
	assert.Equal(t, "http://file.example/guide.xml", c.SourceURL)
	assert.True(t, c.AutoRefresh)
	assert.Equal(t, 30, c.RefreshMinutes)
	assert.Equal(t, 20*time.Second, c.FetchTimeout)
	assert.Empty(t, c.Proxies)
	assert.False(t, c.Metrics)
	assert.Equal(t, "debug", c.LogLevel)
	assert.Equal(t, "console", c.LogFormat)
	require.Len(t, c.Sources, 1)
	assert.Equal(t, "Home NAS", c.Sources[0].Name)
	assert.Equal(t, "http://nas.local/guide.xml", c.Sources[0].URL)
}

func TestLoad_fileErrors(t *testing.T) {
	os.Clearenv()
	t.Setenv("IPTV_GUIDE_CONFIG", filepath.Join(t.TempDir(), "missing.yaml"))
	_, err := Load()
	assert.Error(t, err)

	path := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(path, []byte("listen: [unclosed"), 0o644))
	t.Setenv("IPTV_GUIDE_CONFIG", path)
	_, err = Load()
	assert.Error(t, err)
}
