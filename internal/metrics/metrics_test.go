package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func scrape(t *testing.T, r Recorder) (int, string) {
	t.Helper()
	rec := httptest.NewRecorder()
	r.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	return rec.Code, rec.Body.String()
}

func TestPrometheus_series(t *testing.T) {
	m := NewPrometheus()
	m.FetchAttempt("direct", "network")
	m.FetchAttempt("direct", "network")
	m.FetchAttempt("corsproxy.io", "ok")
	m.Load("ok", 2*time.Second)
	m.GuideSize(3, 40)
	m.Resolve("name_normalized")
	m.HTTPRequest("/api/guide/status", 200)

	code, body := scrape(t, m)
	require.Equal(t, http.StatusOK, code)
	for _, want := range []string{
		`iptvguide_fetch_attempts_total{outcome="network",strategy="direct"} 2`,
		`iptvguide_fetch_attempts_total{outcome="ok",strategy="corsproxy.io"} 1`,
		`iptvguide_load_total{outcome="ok"} 1`,
		`iptvguide_load_duration_seconds_count 1`,
		`iptvguide_guide_channels 3`,
		`iptvguide_guide_programs 40`,
		`iptvguide_resolve_total{method="name_normalized"} 1`,
		`iptvguide_http_requests_total{route="/api/guide/status",status="200"} 1`,
	} {
		assert.Contains(t, body, want)
	}
}

func TestPrometheus_gatherer(t *testing.T) {
	m := NewPrometheus()
	m.Resolve("tvg_id_exact")
	mfs, err := m.Gatherer().Gather()
	require.NoError(t, err)
	var found bool
	for _, mf := range mfs {
		if mf.GetName() == "iptvguide_resolve_total" {
			found = true
		}
	}
	assert.True(t, found)
}

func TestNew_disabled(t *testing.T) {
	r := New(false)
	r.FetchAttempt("direct", "ok")
	code, _ := scrape(t, r)
	assert.Equal(t, http.StatusNotFound, code)
}
