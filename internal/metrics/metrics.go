// Package metrics exposes Prometheus series for fetches, loads, resolver
// hits and API requests. A no-op Recorder is used when metrics are off.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Recorder interface {
	FetchAttempt(strategy, outcome string)
	Load(outcome string, d time.Duration)
	GuideSize(channels, programs int)
	Resolve(method string)
	HTTPRequest(route string, status int)
	Handler() http.Handler
}

// New returns a Prometheus recorder with its own registry, or a no-op one.
func New(enabled bool) Recorder {
	if !enabled {
		return Noop()
	}
	return NewPrometheus()
}

type Prometheus struct {
	reg           *prometheus.Registry
	fetchAttempts *prometheus.CounterVec
	loads         *prometheus.CounterVec
	loadDuration  prometheus.Histogram
	channels      prometheus.Gauge
	programs      prometheus.Gauge
	resolves      *prometheus.CounterVec
	httpRequests  *prometheus.CounterVec
}

func NewPrometheus() *Prometheus {
	reg := prometheus.NewRegistry()
	m := &Prometheus{
		reg: reg,
		fetchAttempts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iptvguide_fetch_attempts_total",
			Help: "Guide fetch attempts by strategy and outcome",
		}, []string{"strategy", "outcome"}),
		loads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iptvguide_load_total",
			Help: "Guide loads by outcome",
		}, []string{"outcome"}),
		loadDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "iptvguide_load_duration_seconds",
			Help:    "Fetch+parse duration of guide loads",
			Buckets: []float64{0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
		channels: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iptvguide_guide_channels",
			Help: "Channels in the active guide",
		}),
		programs: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "iptvguide_guide_programs",
			Help: "Programmes in the active guide",
		}),
		resolves: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iptvguide_resolve_total",
			Help: "Playlist channel resolutions by matching method",
		}, []string{"method"}),
		httpRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "iptvguide_http_requests_total",
			Help: "API requests by route template and status",
		}, []string{"route", "status"}),
	}
	reg.MustRegister(
		m.fetchAttempts, m.loads, m.loadDuration, m.channels, m.programs,
		m.resolves, m.httpRequests,
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return m
}

func (m *Prometheus) FetchAttempt(strategy, outcome string) {
	m.fetchAttempts.WithLabelValues(strategy, outcome).Inc()
}

func (m *Prometheus) Load(outcome string, d time.Duration) {
	m.loads.WithLabelValues(outcome).Inc()
	m.loadDuration.Observe(d.Seconds())
}

func (m *Prometheus) GuideSize(channels, programs int) {
	m.channels.Set(float64(channels))
	m.programs.Set(float64(programs))
}

func (m *Prometheus) Resolve(method string) {
	m.resolves.WithLabelValues(method).Inc()
}

func (m *Prometheus) HTTPRequest(route string, status int) {
	m.httpRequests.WithLabelValues(route, strconv.Itoa(status)).Inc()
}

func (m *Prometheus) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Gatherer is exposed for tests.
func (m *Prometheus) Gatherer() prometheus.Gatherer { return m.reg }

type noop struct{}

// Noop returns a Recorder that drops everything; its Handler returns 404.
func Noop() Recorder { return noop{} }

func (noop) FetchAttempt(string, string) {}
func (noop) Load(string, time.Duration)  {}
func (noop) GuideSize(int, int)          {}
func (noop) Resolve(string)              {}
func (noop) HTTPRequest(string, int)     {}
func (noop) Handler() http.Handler       { return http.NotFoundHandler() }
