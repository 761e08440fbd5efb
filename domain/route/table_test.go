package route_test

import (
	"errors"
	"testing"

	"github.com/artpar/bundlegate/domain/compose"
	"github.com/artpar/bundlegate/domain/fragment"
	"github.com/artpar/bundlegate/domain/route"
)

func TestTable_Classify(t *testing.T) {
	table, err := route.NewTable([]fragment.Route{
		{Path: "/api/events", Upstream: "localhost:7070", WebSocket: true},
		{Path: "/api/**", Upstream: "localhost:7070"},
	})
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}

	tests := []struct {
		name        string
		path        string
		wantClass   route.Class
		wantUpgrade bool
		wantPattern string
	}{
		{"event stream upgrades", "/api/events", route.ClassUpstream, true, "/api/events"},
		{"script under api forwards", "/api/foo.js", route.ClassUpstream, false, "/api/**"},
		{"bare api prefix", "/api", route.ClassUpstream, false, "/api/**"},
		{"stylesheet is static", "/app.css", route.ClassStatic, false, ""},
		{"client route is static", "/sequences/42", route.ClassStatic, false, ""},
		{"similar prefix is static", "/apix", route.ClassStatic, false, ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := table.Classify(route.Request{Method: "GET", Path: tt.path})
			if err != nil {
				t.Fatalf("Classify failed: %v", err)
			}
			if d.Class != tt.wantClass {
				t.Errorf("class = %v, want %v", d.Class, tt.wantClass)
			}
			if d.Upgrade != tt.wantUpgrade {
				t.Errorf("upgrade = %v, want %v", d.Upgrade, tt.wantUpgrade)
			}
			gotPattern := ""
			if d.Entry != nil {
				gotPattern = d.Entry.Pattern
			}
			if gotPattern != tt.wantPattern {
				t.Errorf("pattern = %q, want %q", gotPattern, tt.wantPattern)
			}
		})
	}
}

func TestTable_FirstMatchWins(t *testing.T) {
	// Table order decides, not pattern length.
	table, err := route.NewTable([]fragment.Route{
		{Path: "/api/**", Upstream: "a:1"},
		{Path: "/api/events", Upstream: "b:2", WebSocket: true},
	})
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}

	d, err := table.Classify(route.Request{Path: "/api/events"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if d.Entry.Upstream.Host != "a" || d.Upgrade {
		t.Errorf("expected first entry, got %s upgrade=%v", d.Entry.Upstream, d.Upgrade)
	}
}

func TestTable_Bypass(t *testing.T) {
	table, err := route.NewTable([]fragment.Route{
		{Path: "/api/**", Upstream: "localhost:7070", Bypass: `path endsWith ".js" ? path : ""`},
	})
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}

	d, err := table.Classify(route.Request{Method: "GET", Path: "/api/bundle.js"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if d.Class != route.ClassStatic {
		t.Errorf("class = %v, want static", d.Class)
	}
	if d.LocalPath != "/api/bundle.js" {
		t.Errorf("local path = %q", d.LocalPath)
	}

	d, err = table.Classify(route.Request{Method: "POST", Path: "/api/sequences"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if d.Class != route.ClassUpstream {
		t.Errorf("class = %v, want upstream", d.Class)
	}
}

func TestTable_BypassSeesMethodAndHeaders(t *testing.T) {
	table, err := route.NewTable([]fragment.Route{
		{
			Path:     "/api/**",
			Upstream: "localhost:7070",
			Bypass:   `method == "GET" && headers["Accept"] contains "text/html" ? "/index.html" : ""`,
		},
	})
	if err != nil {
		t.Fatalf("NewTable failed: %v", err)
	}

	d, err := table.Classify(route.Request{
		Method:  "GET",
		Path:    "/api/page",
		Headers: map[string]string{"Accept": "text/html,application/xhtml+xml"},
	})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if d.LocalPath != "/index.html" {
		t.Errorf("local path = %q, want /index.html", d.LocalPath)
	}

	d, err = table.Classify(route.Request{Method: "GET", Path: "/api/page"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if d.Class != route.ClassUpstream {
		t.Errorf("class = %v, want upstream", d.Class)
	}
}

func TestNewTable_DuplicatePattern(t *testing.T) {
	_, err := route.NewTable([]fragment.Route{
		{Path: "/ping", Upstream: "a:1"},
		{Path: "/ping", Upstream: "b:2"},
	})

	var conflict *compose.ConfigConflictError
	if !errors.As(err, &conflict) {
		t.Fatalf("expected ConfigConflictError, got %v", err)
	}
	if len(conflict.Conflicts) != 1 || conflict.Conflicts[0].Key != "/ping" {
		t.Errorf("conflicts = %v", conflict.Conflicts)
	}
}

func TestNewTable_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		route fragment.Route
	}{
		{"missing pattern", fragment.Route{Upstream: "a:1"}},
		{"missing port", fragment.Route{Path: "/api", Upstream: "localhost"}},
		{"bad port", fragment.Route{Path: "/api", Upstream: "localhost:http"}},
		{"bad bypass", fragment.Route{Path: "/api", Upstream: "a:1", Bypass: `path ++`}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := route.NewTable([]fragment.Route{tt.route}); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestPatternMatching(t *testing.T) {
	tests := []struct {
		pattern string
		path    string
		want    bool
	}{
		{"/ping", "/ping", true},
		{"/ping", "/ping/deep", true},
		{"/api/**", "/api/a/b/c", true},
		{"/api/*", "/api/a", true},
		{"/api/*", "/api/a/b", false},
		{"/api/*.js", "/api/app.js", true},
		{"/api/*.js", "/api/app.css", false},
		{"/v?/status", "/v1/status", true},
		{"/v?/status", "/v12/status", false},
		{"/static/**/img", "/static/a/b/img", true},
		{"/a.b/**", "/aXb/c", false},
	}

	for _, tt := range tests {
		t.Run(tt.pattern+" "+tt.path, func(t *testing.T) {
			table, err := route.NewTable([]fragment.Route{{Path: tt.pattern, Upstream: "a:1"}})
			if err != nil {
				t.Fatalf("NewTable failed: %v", err)
			}
			if got := table.Entries()[0].Matches(tt.path); got != tt.want {
				t.Errorf("Matches(%q) = %v, want %v", tt.path, got, tt.want)
			}
		})
	}
}

func TestFromEffective_MostSpecificFirst(t *testing.T) {
	eff, err := compose.Compose([]fragment.ConfigFragment{
		{Name: "server", Server: fragment.ServerOptions{Routes: []fragment.Route{
			{Path: "/api/**", Upstream: "localhost:7070"},
			{Path: "/api/seqexec/events", Upstream: "localhost:7070", WebSocket: true, ChangeOrigin: true},
		}}},
	}, fragment.ConfigFragment{})
	if err != nil {
		t.Fatalf("Compose failed: %v", err)
	}

	table, err := route.FromEffective(eff)
	if err != nil {
		t.Fatalf("FromEffective failed: %v", err)
	}

	d, err := table.Classify(route.Request{Path: "/api/seqexec/events"})
	if err != nil {
		t.Fatalf("Classify failed: %v", err)
	}
	if !d.Upgrade || !d.Entry.ChangeOrigin {
		t.Errorf("expected websocket route, got %+v", d.Entry)
	}
}

func TestParseUpstream(t *testing.T) {
	up, err := route.ParseUpstream("http://localhost:7070")
	if err != nil {
		t.Fatalf("ParseUpstream failed: %v", err)
	}
	if up.Addr() != "localhost:7070" {
		t.Errorf("Addr() = %q", up.Addr())
	}

	up, err = route.ParseUpstream(":9090")
	if err != nil {
		t.Fatalf("ParseUpstream failed: %v", err)
	}
	if up.Host != "127.0.0.1" || up.Port != 9090 {
		t.Errorf("got %+v", up)
	}
}
