package http

import (
	"bytes"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"

	"github.com/artpar/bundlegate/adapters/metrics"
)

// Internal endpoint paths.
const (
	InternalPrefix   = "/__bundlegate"
	LiveReloadPath   = InternalPrefix + "/livereload"
	LiveReloadScript = InternalPrefix + "/livereload.js"
	HealthPath       = InternalPrefix + "/health"
	MetricsPath      = InternalPrefix + "/metrics"
)

// Reload message types.
const (
	ReloadPage   = "reload"
	ReloadStyles = "css"
)

// Message is sent to live reload clients after a build.
type Message struct {
	Type   string   `json:"type"`
	Styles []string `json:"styles,omitempty"`
}

const liveReloadClient = `(function () {
  var proto = location.protocol === "https:" ? "wss://" : "ws://";
  var ws = new WebSocket(proto + location.host + "` + LiveReloadPath + `");
  ws.onmessage = function (ev) {
    var msg = JSON.parse(ev.data);
    if (msg.type !== "css") { location.reload(); return; }
    var links = document.querySelectorAll("link[data-bundlegate-inject]");
    for (var i = 0; i < links.length; i++) {
      var href = links[i].getAttribute("href").split("?")[0];
      links[i].setAttribute("href", href + "?t=" + Date.now());
    }
  };
  ws.onclose = function () { setTimeout(function () { location.reload(); }, 1000); };
})();
`

type liveClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// LiveReload is the websocket hub that tells open pages to refresh.
type LiveReload struct {
	upgrader websocket.Upgrader
	logger   zerolog.Logger
	metrics  *metrics.Collector

	mu      sync.Mutex
	clients map[*liveClient]struct{}
	closed  bool
	wg      sync.WaitGroup
}

// NewLiveReload creates an empty hub.
func NewLiveReload(logger zerolog.Logger, m *metrics.Collector) *LiveReload {
	return &LiveReload{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		logger:  logger,
		metrics: m,
		clients: make(map[*liveClient]struct{}),
	}
}

// ServeScript writes the browser client.
func (l *LiveReload) ServeScript(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "no-cache")
	w.Write([]byte(liveReloadClient))
}

// ServeWS upgrades a page's connection and keeps it until either side closes.
func (l *LiveReload) ServeWS(w http.ResponseWriter, r *http.Request) {
	conn, err := l.upgrader.Upgrade(w, r, nil)
	if err != nil {
		l.logger.Debug().Err(err).Msg("live reload upgrade failed")
		return
	}

	c := &liveClient{conn: conn, send: make(chan []byte, 8), done: make(chan struct{})}
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		conn.Close()
		return
	}
	l.clients[c] = struct{}{}
	l.wg.Add(1)
	l.mu.Unlock()
	if l.metrics != nil {
		l.metrics.LiveReloadClients.Inc()
	}

	go func() {
		// Reader: only detects the page going away.
		defer close(c.done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	defer l.remove(c)
	for {
		select {
		case msg, ok := <-c.send:
			if !ok {
				conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "server closing"),
					time.Now().Add(time.Second))
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-c.done:
			return
		}
	}
}

func (l *LiveReload) remove(c *liveClient) {
	c.conn.Close()
	<-c.done
	l.mu.Lock()
	delete(l.clients, c)
	l.mu.Unlock()
	if l.metrics != nil {
		l.metrics.LiveReloadClients.Dec()
	}
	l.wg.Done()
}

// Broadcast sends msg to every connected page. Slow pages miss messages
// rather than block the build.
func (l *LiveReload) Broadcast(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		return
	}
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return
	}
	for c := range l.clients {
		select {
		case c.send <- data:
		default:
		}
	}
}

// Clients returns the number of connected pages.
func (l *LiveReload) Clients() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.clients)
}

// Close disconnects every page and waits for their handlers.
func (l *LiveReload) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	for c := range l.clients {
		close(c.send)
	}
	l.mu.Unlock()
	l.wg.Wait()
	return nil
}

// Injector rewrites root documents: it adds the live reload client and links
// the stylesheets the development build injects instead of extracting.
type Injector struct {
	liveReload bool
}

// NewInjector creates an injector. With liveReload off only styles are added.
func NewInjector(liveReload bool) *Injector {
	return &Injector{liveReload: liveReload}
}

// Inject returns doc with the extra nodes. Stylesheets go at the end of head,
// the client script at the end of body.
func (in *Injector) Inject(doc []byte, styles []string) ([]byte, error) {
	if !in.liveReload && len(styles) == 0 {
		return doc, nil
	}
	root, err := html.Parse(bytes.NewReader(doc))
	if err != nil {
		return nil, err
	}

	head := findElement(root, atom.Head)
	body := findElement(root, atom.Body)

	if head != nil {
		for _, href := range styles {
			head.AppendChild(&html.Node{
				Type:     html.ElementNode,
				Data:     "link",
				DataAtom: atom.Link,
				Attr: []html.Attribute{
					{Key: "rel", Val: "stylesheet"},
					{Key: "href", Val: href},
					{Key: "data-bundlegate-inject", Val: ""},
				},
			})
		}
	}

	if in.liveReload && body != nil {
		body.AppendChild(&html.Node{
			Type:     html.ElementNode,
			Data:     "script",
			DataAtom: atom.Script,
			Attr:     []html.Attribute{{Key: "src", Val: LiveReloadScript}},
		})
	}

	var buf bytes.Buffer
	if err := html.Render(&buf, root); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func findElement(n *html.Node, a atom.Atom) *html.Node {
	if n.Type == html.ElementNode && n.DataAtom == a {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findElement(c, a); found != nil {
			return found
		}
	}
	return nil
}
