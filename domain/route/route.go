// Package route provides the development routing table: value types, glob
// pattern matching, bypass predicates and pure request classification.
package route

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// ErrUpstreamUnavailable is wrapped by per-request forwarding failures.
var ErrUpstreamUnavailable = errors.New("upstream unavailable")

// Class is the outcome of classifying a request.
type Class int

const (
	ClassStatic Class = iota
	ClassUpstream
)

func (c Class) String() string {
	switch c {
	case ClassStatic:
		return "static"
	case ClassUpstream:
		return "upstream"
	default:
		return "unknown"
	}
}

// Upstream is a backend address.
type Upstream struct {
	Host string
	Port int
}

// ParseUpstream parses "host:port". A missing host means loopback.
func ParseUpstream(s string) (Upstream, error) {
	s = strings.TrimPrefix(strings.TrimPrefix(s, "http://"), "ws://")
	host, port, err := net.SplitHostPort(s)
	if err != nil {
		return Upstream{}, fmt.Errorf("upstream %q: %w", s, err)
	}
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return Upstream{}, fmt.Errorf("upstream %q: invalid port", s)
	}
	if host == "" {
		host = "127.0.0.1"
	}
	return Upstream{Host: host, Port: n}, nil
}

// Addr returns host:port.
func (u Upstream) Addr() string {
	return net.JoinHostPort(u.Host, strconv.Itoa(u.Port))
}

func (u Upstream) String() string { return u.Addr() }

// Entry is one compiled row of the routing table. Entries are immutable once
// the table is built.
type Entry struct {
	Pattern         string
	Upstream        Upstream
	ProtocolUpgrade bool
	ChangeOrigin    bool
	Bypass          *Bypass

	match matcher
}

// Matches reports whether the entry's pattern matches path.
func (e *Entry) Matches(path string) bool {
	return e.match.matches(path)
}

// Request is the subset of an incoming request that classification reads.
type Request struct {
	Method  string
	Path    string
	Query   string
	Headers map[string]string
}

// Decision is the classification of one request.
type Decision struct {
	Class Class
	// Entry is the matched route, nil for unmatched static requests.
	Entry *Entry
	// Upgrade is set when the matched route allows a protocol upgrade.
	Upgrade bool
	// LocalPath is the path a bypass predicate chose to serve locally.
	LocalPath string
}
