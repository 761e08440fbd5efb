// Package metrics provides Prometheus metrics for the development router and
// build runs.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "bundlegate"

// Collector holds all metrics. Each collector owns its registry so routers
// and tests never share global state.
type Collector struct {
	registry *prometheus.Registry

	// Router metrics
	RequestsTotal   *prometheus.CounterVec
	RequestDuration *prometheus.HistogramVec
	UpstreamErrors  *prometheus.CounterVec
	BypassErrors    prometheus.Counter

	// Tunnel metrics
	TunnelsActive prometheus.Gauge
	TunnelsTotal  prometheus.Counter
	TunnelBytes   *prometheus.CounterVec

	// Live reload
	LiveReloadClients prometheus.Gauge

	// Build metrics
	BuildsTotal         *prometheus.CounterVec
	BuildDuration       *prometheus.HistogramVec
	CompositionConflict prometheus.Counter
	AssetsEmitted       *prometheus.CounterVec

	// Config metrics
	ConfigReloads      prometheus.Counter
	ConfigReloadErrors prometheus.Counter
}

// New creates a collector with a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Collector {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWithRegistry(reg)
}

// NewWithRegistry creates a collector registered on reg.
func NewWithRegistry(reg *prometheus.Registry) *Collector {
	factory := promauto.With(reg)

	return &Collector{
		registry: reg,

		RequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "requests_total",
				Help:      "Requests handled by the development router",
			},
			[]string{"class", "status"},
		),
		RequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "request_duration_seconds",
				Help:      "Request duration in seconds",
				Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
			},
			[]string{"class"},
		),
		UpstreamErrors: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "upstream_errors_total",
				Help:      "Forwarding failures by kind",
			},
			[]string{"kind"},
		),
		BypassErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "bypass_errors_total",
				Help:      "Bypass predicate evaluation failures",
			},
		),
		TunnelsActive: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "tunnels_active",
				Help:      "Open upgraded connections",
			},
		),
		TunnelsTotal: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tunnels_total",
				Help:      "Upgraded connections opened",
			},
		),
		TunnelBytes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "tunnel_bytes_total",
				Help:      "Bytes relayed through upgraded connections",
			},
			[]string{"direction"},
		),
		LiveReloadClients: factory.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "livereload_clients",
				Help:      "Connected live reload clients",
			},
		),
		BuildsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "builds_total",
				Help:      "Builds run, by profile and result",
			},
			[]string{"profile", "result"},
		),
		BuildDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: namespace,
				Name:      "build_duration_seconds",
				Help:      "Build duration in seconds",
				Buckets:   []float64{.1, .25, .5, 1, 2.5, 5, 10, 30, 60, 120},
			},
			[]string{"profile"},
		),
		CompositionConflict: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "composition_conflicts_total",
				Help:      "Compositions rejected with a config conflict",
			},
		),
		AssetsEmitted: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "assets_emitted_total",
				Help:      "Assets written to the output root",
			},
			[]string{"profile"},
		),
		ConfigReloads: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reloads_total",
				Help:      "Successful config reloads",
			},
		),
		ConfigReloadErrors: factory.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "config_reload_errors_total",
				Help:      "Failed config reloads",
			},
		),
	}
}

// Handler exposes the collector's registry in the Prometheus text format.
func (c *Collector) Handler() http.Handler {
	return promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{})
}

// Registry returns the underlying registry.
func (c *Collector) Registry() *prometheus.Registry { return c.registry }
