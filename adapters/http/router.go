// Package http implements the development request router: it classifies each
// request against the routing table and either serves it from the live build
// output or forwards it (including upgraded connections) to an upstream.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"

	"github.com/artpar/bundlegate/adapters/idgen"
	"github.com/artpar/bundlegate/adapters/metrics"
	"github.com/artpar/bundlegate/domain/route"
	"github.com/artpar/bundlegate/ports"
)

// RouterConfig holds the router's collaborators and options.
type RouterConfig struct {
	Table       *route.Table
	Site        Site
	ContentBase []string
	// HistoryAPIFallback serves the root document for extensionless misses.
	HistoryAPIFallback bool
	// LiveReload enables the reload channel and client injection.
	LiveReload bool
	// WriteTimeout bounds locally served responses. Forwards and upgraded
	// connections stream for as long as the upstream does.
	WriteTimeout time.Duration
	Upstream     UpstreamConfig
	Metrics    *metrics.Collector
	IDs        ports.IDGenerator
}

// Router is the development request router.
type Router struct {
	table      *route.Table
	static     *Static
	upstream   *Upstream
	tunnels    *Tunnels
	liveReload *LiveReload
	metrics    *metrics.Collector
	logger     zerolog.Logger
	handler    chi.Router

	writeTimeout time.Duration
}

// NewRouter builds the router. The routing table is fixed for the router's
// lifetime.
func NewRouter(cfg RouterConfig, logger zerolog.Logger) *Router {
	table := cfg.Table
	if table == nil {
		table, _ = route.NewTable(nil)
	}
	ids := cfg.IDs
	if ids == nil {
		ids = idgen.Short{}
	}

	upstream := NewUpstream(table, cfg.Upstream, logger, cfg.Metrics)
	rt := &Router{
		table:    table,
		upstream: upstream,
		tunnels:  NewTunnels(upstream.dialer, ids, logger, cfg.Metrics),
		metrics:  cfg.Metrics,
		logger:   logger,

		writeTimeout: cfg.WriteTimeout,
	}

	var injector *Injector
	if cfg.LiveReload {
		rt.liveReload = NewLiveReload(logger, cfg.Metrics)
		injector = NewInjector(true)
	} else {
		injector = NewInjector(false)
	}
	rt.static = NewStatic(cfg.Site, cfg.ContentBase, cfg.HistoryAPIFallback, injector)
	rt.handler = rt.routes()
	return rt
}

func (rt *Router) routes() chi.Router {
	r := chi.NewRouter()

	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(NewLoggingMiddleware(rt.logger))
	r.Use(middleware.Recoverer)

	r.Route(InternalPrefix, func(r chi.Router) {
		r.Get("/health", rt.health)
		if rt.metrics != nil {
			r.Handle("/metrics", rt.metrics.Handler())
		}
		if rt.liveReload != nil {
			r.Get("/livereload", rt.liveReload.ServeWS)
			r.Get("/livereload.js", rt.liveReload.ServeScript)
		}
	})

	// Everything else goes through classification.
	r.NotFound(rt.dispatch)
	r.MethodNotAllowed(rt.dispatch)
	return r
}

// ServeHTTP implements http.Handler.
func (rt *Router) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	rt.handler.ServeHTTP(w, r)
}

// Reload tells connected pages that a new build is live.
func (rt *Router) Reload(msg Message) {
	if rt.liveReload != nil {
		rt.liveReload.Broadcast(msg)
	}
}

// ReloadClients returns the number of pages listening for reloads.
func (rt *Router) ReloadClients() int {
	if rt.liveReload == nil {
		return 0
	}
	return rt.liveReload.Clients()
}

// ActiveTunnels returns the number of open upgraded connections.
func (rt *Router) ActiveTunnels() int { return rt.tunnels.Active() }

func (rt *Router) dispatch(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ww, ok := w.(middleware.WrapResponseWriter)
	if !ok {
		ww = middleware.NewWrapResponseWriter(w, r.ProtoMajor)
	}

	d, err := rt.table.Classify(route.Request{
		Method:  r.Method,
		Path:    r.URL.Path,
		Query:   r.URL.RawQuery,
		Headers: flattenHeaders(r.Header),
	})
	if err != nil {
		if rt.metrics != nil {
			rt.metrics.BypassErrors.Inc()
		}
		rt.logger.Error().Err(err).Str("path", r.URL.Path).Msg("bypass evaluation failed")
		writeError(ww, http.StatusInternalServerError, "bypass_failed", err.Error())
		rt.observe("error", ww, start)
		return
	}

	switch d.Class {
	case route.ClassUpstream:
		// A static response earlier on this connection may have left a deadline.
		rt.writeDeadline(ww, time.Time{})
		if d.Upgrade && isUpgrade(r) {
			if err := rt.tunnels.Serve(ww, r, d.Entry); err != nil {
				rt.tunnelFailed(ww, r, d.Entry, err)
			}
			rt.observe("upgraded", ww, start)
			return
		}
		rt.upstream.Forward(ww, r, d.Entry)
		rt.observe("upstream", ww, start)
	default:
		p := r.URL.Path
		if d.LocalPath != "" {
			p = localPath(d.LocalPath)
		}
		rt.writeDeadline(ww, time.Now().Add(rt.writeTimeout))
		rt.static.Serve(ww, r, p)
		rt.observe("static", ww, start)
	}
}

// writeDeadline sets the connection's write deadline when a write timeout is
// configured. Not every writer supports deadlines (e.g. test recorders).
func (rt *Router) writeDeadline(w http.ResponseWriter, deadline time.Time) {
	if rt.writeTimeout <= 0 {
		return
	}
	_ = http.NewResponseController(w).SetWriteDeadline(deadline)
}

func (rt *Router) tunnelFailed(w http.ResponseWriter, r *http.Request, e *route.Entry, err error) {
	if errors.Is(err, errTunnelsClosed) {
		writeError(w, http.StatusServiceUnavailable, "shutting_down", err.Error())
		return
	}
	if errors.Is(err, route.ErrUpstreamUnavailable) {
		rt.upstream.fail(w, r, e, err)
		return
	}
	// The connection may already be hijacked; nothing more can be written.
	rt.logger.Error().Err(err).Str("path", r.URL.Path).Msg("tunnel failed")
}

func (rt *Router) observe(class string, ww middleware.WrapResponseWriter, start time.Time) {
	if rt.metrics == nil {
		return
	}
	rt.metrics.RequestsTotal.WithLabelValues(class, statusLabel(ww.Status())).Inc()
	rt.metrics.RequestDuration.WithLabelValues(class).Observe(time.Since(start).Seconds())
}

type healthResponse struct {
	Status    string            `json:"status"`
	Tunnels   int               `json:"tunnels"`
	Upstreams map[string]string `json:"upstreams"`
}

func (rt *Router) health(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{Status: "ok", Tunnels: rt.tunnels.Active(), Upstreams: map[string]string{}}
	seen := map[string]bool{}
	for _, e := range rt.table.Entries() {
		addr := e.Upstream.Addr()
		if seen[addr] {
			continue
		}
		seen[addr] = true
		if err := rt.upstream.HealthCheck(ctx, e.Upstream); err != nil {
			resp.Upstreams[addr] = "down"
		} else {
			resp.Upstreams[addr] = "up"
		}
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}

// Close terminates upgraded connections, in-flight forwards and live reload
// clients. No partial responses are flushed.
func (rt *Router) Close() error {
	rt.upstream.Close()
	rt.tunnels.Close()
	if rt.liveReload != nil {
		rt.liveReload.Close()
	}
	return nil
}

// Server wraps the router in an http.Server with the router's lifecycle.
type Server struct {
	srv    *http.Server
	router *Router
}

// NewServer creates an HTTP server for router on addr. Shutdown closes the
// router first so streaming forwards end instead of holding Shutdown until
// its deadline.
func NewServer(addr string, router *Router, readTimeout time.Duration) *Server {
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: readTimeout,
	}
	srv.RegisterOnShutdown(func() { router.Close() })
	return &Server{srv: srv, router: router}
}

// Serve accepts connections on l until Shutdown.
func (s *Server) Serve(l net.Listener) error {
	err := s.srv.Serve(l)
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// ListenAndServe listens on the configured address.
func (s *Server) ListenAndServe() error {
	l, err := net.Listen("tcp", s.srv.Addr)
	if err != nil {
		return err
	}
	return s.Serve(l)
}

// Shutdown stops accepting connections, cancels in-flight forwards and
// closes hijacked tunnels, which http.Server does not track. It returns once
// the router is fully closed.
func (s *Server) Shutdown(ctx context.Context) error {
	err := s.srv.Shutdown(ctx)
	s.router.Close()
	return err
}

func flattenHeaders(h http.Header) map[string]string {
	out := make(map[string]string, len(h))
	for k, v := range h {
		out[k] = strings.Join(v, ", ")
	}
	return out
}

// localPath strips any query or fragment a bypass may return with the path.
func localPath(p string) string {
	if u, err := url.Parse(p); err == nil && u.Path != "" {
		return u.Path
	}
	return p
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Status  int    `json:"status"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(errorBody{Error: errorDetail{Status: status, Code: code, Message: message}})
}

// statusLabel returns a string label for the status code.
func statusLabel(status int) string {
	switch {
	case status >= 500:
		return "5xx"
	case status >= 400:
		return "4xx"
	case status >= 300:
		return "3xx"
	case status >= 200:
		return "2xx"
	case status == 0:
		return "hijacked"
	default:
		return "other"
	}
}
