package http

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"sync"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/rs/zerolog"
	"golang.org/x/net/http/httpguts"

	"github.com/artpar/bundlegate/adapters/metrics"
	"github.com/artpar/bundlegate/domain/route"
	"github.com/artpar/bundlegate/ports"
)

// errTunnelsClosed is returned for upgrades attempted after Close.
var errTunnelsClosed = errors.New("router is shutting down")

// isUpgrade reports whether r asks to switch protocols.
func isUpgrade(r *http.Request) bool {
	return httpguts.HeaderValuesContainsToken(r.Header["Connection"], "upgrade") &&
		r.Header.Get("Upgrade") != ""
}

// tunnel is one upgraded bidirectional connection. Sessions share nothing
// but the registry they are tracked in.
type tunnel struct {
	id       string
	client   net.Conn
	upstream net.Conn
	once     sync.Once
}

func (t *tunnel) close() {
	t.once.Do(func() {
		t.client.Close()
		t.upstream.Close()
	})
}

// Tunnels relays upgraded connections (websockets, event streams) between
// clients and upstreams for their whole lifetime. Config reloads do not touch
// open tunnels; Close terminates all of them.
type Tunnels struct {
	mu       sync.Mutex
	sessions map[string]*tunnel
	closed   bool
	wg       sync.WaitGroup

	dialer  *net.Dialer
	ids     ports.IDGenerator
	logger  zerolog.Logger
	metrics *metrics.Collector
}

// NewTunnels creates an empty tunnel registry.
func NewTunnels(dialer *net.Dialer, ids ports.IDGenerator, logger zerolog.Logger, m *metrics.Collector) *Tunnels {
	return &Tunnels{
		sessions: make(map[string]*tunnel),
		dialer:   dialer,
		ids:      ids,
		logger:   logger,
		metrics:  m,
	}
}

// Active returns the number of open tunnels.
func (t *Tunnels) Active() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.sessions)
}

// Serve performs the upgrade handshake with the entry's upstream and, on
// 101 Switching Protocols, relays bytes both ways until either side closes.
// Non-101 answers are relayed as ordinary responses.
func (t *Tunnels) Serve(w http.ResponseWriter, r *http.Request, e *route.Entry) error {
	t.mu.Lock()
	closed := t.closed
	t.mu.Unlock()
	if closed {
		return errTunnelsClosed
	}

	upConn, err := t.dialer.DialContext(r.Context(), "tcp", e.Upstream.Addr())
	if err != nil {
		return fmt.Errorf("%w: dial %s: %v", route.ErrUpstreamUnavailable, e.Upstream, err)
	}

	out := r.Clone(r.Context())
	out.RequestURI = ""
	if e.ChangeOrigin {
		out.Host = e.Upstream.Addr()
	}
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		out.Header.Set("X-Forwarded-For", ip)
	}
	if err := out.Write(upConn); err != nil {
		upConn.Close()
		return fmt.Errorf("%w: write handshake: %v", route.ErrUpstreamUnavailable, err)
	}

	upReader := bufio.NewReader(upConn)
	resp, err := http.ReadResponse(upReader, out)
	if err != nil {
		upConn.Close()
		return fmt.Errorf("%w: read handshake: %v", route.ErrUpstreamUnavailable, err)
	}

	if resp.StatusCode != http.StatusSwitchingProtocols {
		defer upConn.Close()
		defer resp.Body.Close()
		for k, vv := range resp.Header {
			for _, v := range vv {
				w.Header().Add(k, v)
			}
		}
		w.WriteHeader(resp.StatusCode)
		_, err := io.Copy(w, resp.Body)
		return err
	}

	hj, ok := w.(http.Hijacker)
	if !ok {
		upConn.Close()
		return errors.New("response writer does not support hijacking")
	}
	clientConn, clientBuf, err := hj.Hijack()
	if err != nil {
		upConn.Close()
		return fmt.Errorf("hijack: %w", err)
	}

	if err := writeSwitchingProtocols(clientConn, resp); err != nil {
		clientConn.Close()
		upConn.Close()
		return fmt.Errorf("write handshake to client: %w", err)
	}

	s := &tunnel{id: t.ids.New(), client: clientConn, upstream: upConn}
	if !t.register(s) {
		s.close()
		return nil
	}
	defer t.unregister(s)

	log := t.logger.With().
		Str("tunnel_id", s.id).
		Str("path", r.URL.Path).
		Str("upstream", e.Upstream.Addr()).
		Str("request_id", middleware.GetReqID(r.Context())).
		Logger()
	log.Debug().Msg("tunnel opened")

	var wg sync.WaitGroup
	var up, down int64
	wg.Add(2)
	go func() {
		defer wg.Done()
		defer s.close()
		// Bytes the client sent right after its handshake sit in clientBuf.
		up, _ = io.Copy(upConn, clientBuf.Reader)
	}()
	go func() {
		defer wg.Done()
		defer s.close()
		down, _ = io.Copy(clientConn, upReader)
	}()
	wg.Wait()

	if t.metrics != nil {
		t.metrics.TunnelBytes.WithLabelValues("up").Add(float64(up))
		t.metrics.TunnelBytes.WithLabelValues("down").Add(float64(down))
	}
	log.Debug().Int64("bytes_up", up).Int64("bytes_down", down).Msg("tunnel closed")
	return nil
}

func writeSwitchingProtocols(w io.Writer, resp *http.Response) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintf(bw, "HTTP/1.1 %s\r\n", resp.Status)
	if err := resp.Header.Write(bw); err != nil {
		return err
	}
	bw.WriteString("\r\n")
	return bw.Flush()
}

func (t *Tunnels) register(s *tunnel) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return false
	}
	t.sessions[s.id] = s
	t.wg.Add(1)
	if t.metrics != nil {
		t.metrics.TunnelsActive.Inc()
		t.metrics.TunnelsTotal.Inc()
	}
	return true
}

func (t *Tunnels) unregister(s *tunnel) {
	t.mu.Lock()
	delete(t.sessions, s.id)
	t.mu.Unlock()
	if t.metrics != nil {
		t.metrics.TunnelsActive.Dec()
	}
	t.wg.Done()
}

// Close terminates every open tunnel and waits for their relays to finish.
func (t *Tunnels) Close() error {
	t.mu.Lock()
	t.closed = true
	sessions := make([]*tunnel, 0, len(t.sessions))
	for _, s := range t.sessions {
		sessions = append(sessions, s)
	}
	t.mu.Unlock()

	for _, s := range sessions {
		s.close()
	}
	t.wg.Wait()
	return nil
}
