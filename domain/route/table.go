package route

import (
	"fmt"

	"github.com/artpar/bundlegate/domain/compose"
	"github.com/artpar/bundlegate/domain/fragment"
)

// Table is the immutable routing table. It is safe for concurrent use.
type Table struct {
	entries []*Entry
}

// NewTable compiles routes in the given order, which is the order they are
// tried in. Identical patterns are a ConfigConflictError.
func NewTable(routes []fragment.Route) (*Table, error) {
	var conflicts []compose.Conflict
	seen := make(map[string]string, len(routes))
	entries := make([]*Entry, 0, len(routes))

	for _, r := range routes {
		if prev, ok := seen[r.Path]; ok {
			conflicts = append(conflicts, compose.Conflict{
				Kind:   compose.ConflictRoute,
				Key:    r.Path,
				First:  compose.Claim{Value: prev, Source: "routes"},
				Second: compose.Claim{Value: r.Upstream, Source: "routes"},
			})
			continue
		}
		seen[r.Path] = r.Upstream

		e, err := compileEntry(r)
		if err != nil {
			return nil, err
		}
		entries = append(entries, e)
	}

	if err := compose.NewConflictError(conflicts); err != nil {
		return nil, err
	}
	return &Table{entries: entries}, nil
}

// FromEffective builds the table from a composed configuration, most specific
// route first.
func FromEffective(eff *compose.Effective) (*Table, error) {
	return NewTable(eff.Routes())
}

func compileEntry(r fragment.Route) (*Entry, error) {
	if r.Path == "" {
		return nil, fmt.Errorf("route: pathPattern is required")
	}
	up, err := ParseUpstream(r.Upstream)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", r.Path, err)
	}
	m, err := compilePattern(r.Path)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", r.Path, err)
	}
	bypass, err := CompileBypass(r.Bypass)
	if err != nil {
		return nil, fmt.Errorf("route %s: %w", r.Path, err)
	}
	return &Entry{
		Pattern:         r.Path,
		Upstream:        up,
		ProtocolUpgrade: r.WebSocket,
		ChangeOrigin:    r.ChangeOrigin,
		Bypass:          bypass,
		match:           m,
	}, nil
}

// Entries returns the compiled entries in match order.
func (t *Table) Entries() []*Entry {
	out := make([]*Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Len returns the number of routes.
func (t *Table) Len() int { return len(t.entries) }

// Classify finds the first matching route. Unmatched requests are static. A
// bypass that returns a path turns a matched request back into a static one
// served from that path.
func (t *Table) Classify(req Request) (Decision, error) {
	for _, e := range t.entries {
		if !e.Matches(req.Path) {
			continue
		}
		if e.Bypass != nil {
			local, err := e.Bypass.Eval(req)
			if err != nil {
				return Decision{}, err
			}
			if local != "" {
				return Decision{Class: ClassStatic, Entry: e, LocalPath: local}, nil
			}
		}
		return Decision{Class: ClassUpstream, Entry: e, Upgrade: e.ProtocolUpgrade}, nil
	}
	return Decision{Class: ClassStatic}, nil
}
