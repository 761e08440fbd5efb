package http

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/bundlegate/adapters/metrics"
	"github.com/artpar/bundlegate/domain/route"
)

// UpstreamConfig contains configuration for the upstream forwarder.
type UpstreamConfig struct {
	DialTimeout     time.Duration
	MaxIdleConns    int
	IdleConnTimeout time.Duration
}

// Upstream forwards classified requests to backend processes. One reverse
// proxy is built per route entry when the forwarder is created; the set is
// read-only afterwards.
type Upstream struct {
	transport *http.Transport
	dialer    *net.Dialer
	proxies   map[*route.Entry]*httputil.ReverseProxy
	logger    zerolog.Logger
	metrics   *metrics.Collector

	// closing cancels every in-flight forward.
	closing context.Context
	cancel  context.CancelFunc
}

// NewUpstream creates a forwarder for every entry of table.
func NewUpstream(table *route.Table, cfg UpstreamConfig, logger zerolog.Logger, m *metrics.Collector) *Upstream {
	dialTimeout := cfg.DialTimeout
	if dialTimeout == 0 {
		dialTimeout = 5 * time.Second
	}
	maxIdleConns := cfg.MaxIdleConns
	if maxIdleConns == 0 {
		maxIdleConns = 100
	}
	idleConnTimeout := cfg.IdleConnTimeout
	if idleConnTimeout == 0 {
		idleConnTimeout = 90 * time.Second
	}

	dialer := &net.Dialer{Timeout: dialTimeout, KeepAlive: 30 * time.Second}
	// Streams (long polls, server-sent events) must not be compressed mid-flight.
	transport := &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        maxIdleConns,
		MaxIdleConnsPerHost: maxIdleConns,
		IdleConnTimeout:     idleConnTimeout,
		DisableCompression:  true,
	}

	ctx, cancel := context.WithCancel(context.Background())
	u := &Upstream{
		transport: transport,
		dialer:    dialer,
		proxies:   make(map[*route.Entry]*httputil.ReverseProxy),
		logger:    logger,
		metrics:   m,
		closing:   ctx,
		cancel:    cancel,
	}
	for _, e := range table.Entries() {
		u.proxies[e] = u.newProxy(e)
	}
	return u
}

func (u *Upstream) newProxy(e *route.Entry) *httputil.ReverseProxy {
	target := &url.URL{Scheme: "http", Host: e.Upstream.Addr()}
	return &httputil.ReverseProxy{
		Rewrite: func(pr *httputil.ProxyRequest) {
			pr.SetURL(target)
			if !e.ChangeOrigin {
				pr.Out.Host = pr.In.Host
			}
			pr.SetXForwarded()
		},
		Transport:     u.transport,
		FlushInterval: -1,
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			u.fail(w, r, e, fmt.Errorf("%w: %s: %v", route.ErrUpstreamUnavailable, e.Upstream, err))
		},
	}
}

// Forward relays r to the entry's upstream, preserving method, headers and
// body. Responses are streamed as they arrive.
func (u *Upstream) Forward(w http.ResponseWriter, r *http.Request, e *route.Entry) {
	proxy, ok := u.proxies[e]
	if !ok {
		u.fail(w, r, e, fmt.Errorf("%w: no forwarder for %s", route.ErrUpstreamUnavailable, e.Pattern))
		return
	}

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	stop := context.AfterFunc(u.closing, cancel)
	defer stop()

	out := r.WithContext(ctx)
	if !e.ProtocolUpgrade && isUpgrade(r) {
		out = out.Clone(ctx)
		out.Header.Del("Upgrade")
		out.Header.Del("Connection")
	}
	proxy.ServeHTTP(w, out)
}

func (u *Upstream) fail(w http.ResponseWriter, r *http.Request, e *route.Entry, err error) {
	kind := "unreachable"
	if errors.Is(r.Context().Err(), context.Canceled) {
		kind = "canceled"
	}
	if u.metrics != nil {
		u.metrics.UpstreamErrors.WithLabelValues(kind).Inc()
	}
	u.logger.Error().
		Err(err).
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Str("upstream", e.Upstream.Addr()).
		Str("request_id", middleware.GetReqID(r.Context())).
		Msg("upstream request failed")

	writeError(w, http.StatusBadGateway, "upstream_unavailable", "upstream "+e.Upstream.Addr()+" is not reachable")
}

// HealthCheck reports whether the upstream accepts TCP connections.
func (u *Upstream) HealthCheck(ctx context.Context, up route.Upstream) error {
	conn, err := u.dialer.DialContext(ctx, "tcp", up.Addr())
	if err != nil {
		return fmt.Errorf("%w: %v", route.ErrUpstreamUnavailable, err)
	}
	return conn.Close()
}

// Close cancels in-flight forwards and drops idle connections.
func (u *Upstream) Close() error {
	u.cancel()
	u.transport.CloseIdleConnections()
	return nil
}
