package compose_test

import (
	"errors"
	"fmt"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	"github.com/artpar/bundlegate/domain/compose"
	"github.com/artpar/bundlegate/domain/fragment"
)

var equateEmpty = cmpopts.EquateEmpty()

func aliases(name string, kv ...string) fragment.ConfigFragment {
	f := fragment.ConfigFragment{Name: name, Resolution: fragment.Resolution{Aliases: map[string]string{}}}
	for i := 0; i+1 < len(kv); i += 2 {
		f.Resolution.Aliases[kv[i]] = kv[i+1]
	}
	return f
}

func TestCompose_ScalarsLastWriterWins(t *testing.T) {
	a := fragment.ConfigFragment{Name: "a", Mode: "development", PublicPath: "/a/", Devtool: "eval"}
	b := fragment.ConfigFragment{Name: "b", Mode: "production"}

	eff, err := compose.Compose([]fragment.ConfigFragment{a, b}, fragment.ConfigFragment{})
	require.NoError(t, err)

	cfg := eff.Config()
	assert.Equal(t, "production", cfg.Mode)
	assert.Equal(t, "/a/", cfg.PublicPath, "unset scalar keeps earlier value")
	assert.Equal(t, "eval", cfg.Devtool)
	assert.Equal(t, []string{"a", "b"}, eff.Sources())
}

func TestCompose_OverridesEquivalentToLastFragment(t *testing.T) {
	a := fragment.ConfigFragment{Name: "a", Mode: "development", Output: fragment.Output{Filename: "[name].js"}}
	b := fragment.ConfigFragment{Name: "b", PublicPath: "/"}
	o := fragment.ConfigFragment{Mode: "production", Output: fragment.Output{Filename: "[name].[chunkhash].js"}}

	withOverride, err := compose.Compose([]fragment.ConfigFragment{a, b}, o)
	require.NoError(t, err)

	o.Name = compose.OverridesName
	asList, err := compose.Compose([]fragment.ConfigFragment{a, b, o}, fragment.ConfigFragment{})
	require.NoError(t, err)

	if diff := cmp.Diff(asList.Config(), withOverride.Config(), equateEmpty); diff != "" {
		t.Errorf("override composition mismatch (-list +override):\n%s", diff)
	}
}

func TestCompose_AliasConflict(t *testing.T) {
	a := aliases("resolve", "resources", "/proj/src/main/resources")
	b := aliases("legacy", "resources", "/proj/resources")

	_, err := compose.Compose([]fragment.ConfigFragment{a, b}, fragment.ConfigFragment{})
	require.Error(t, err)

	var conflict *compose.ConfigConflictError
	require.True(t, errors.As(err, &conflict))
	require.Len(t, conflict.Conflicts, 1)

	c := conflict.Conflicts[0]
	assert.Equal(t, compose.ConflictAlias, c.Kind)
	assert.Equal(t, "resources", c.Key)
	assert.Equal(t, "/proj/src/main/resources", c.First.Value)
	assert.Equal(t, "resolve", c.First.Source)
	assert.Equal(t, "/proj/resources", c.Second.Value)
	assert.Equal(t, "legacy", c.Second.Source)
	assert.Contains(t, err.Error(), "/proj/src/main/resources")
	assert.Contains(t, err.Error(), "/proj/resources")
}

func TestCompose_AliasConflictMessageIsStable(t *testing.T) {
	a := aliases("a", "zeta", "/z1", "alpha", "/a1", "mid", "/m1")
	b := aliases("b", "zeta", "/z2", "alpha", "/a2", "mid", "/m2")

	var first string
	for i := 0; i < 20; i++ {
		_, err := compose.Compose([]fragment.ConfigFragment{a, b}, fragment.ConfigFragment{})
		require.Error(t, err)
		if i == 0 {
			first = err.Error()
			continue
		}
		assert.Equal(t, first, err.Error(), "run %d", i)
	}

	var conflict *compose.ConfigConflictError
	_, err := compose.Compose([]fragment.ConfigFragment{a, b}, fragment.ConfigFragment{})
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, []string{"alpha", "mid", "zeta"}, conflict.Keys())
}

func TestCompose_SameAliasSameTargetIsNotAConflict(t *testing.T) {
	a := aliases("a", "resources", "/r")
	b := aliases("b", "resources", "/r")

	eff, err := compose.Compose([]fragment.ConfigFragment{a, b}, fragment.ConfigFragment{})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"resources": "/r"}, eff.Aliases())
}

func TestCompose_DisjointAliasesNeverConflict(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(1, 6).Draw(t, "n")
		keys := rapid.SliceOfNDistinct(rapid.StringMatching(`[a-z]{1,8}`), 2*n, 2*n, func(s string) string { return s }).Draw(t, "keys")

		left, right := map[string]string{}, map[string]string{}
		for i, k := range keys {
			target := rapid.StringMatching(`/[a-z]{1,6}`).Draw(t, fmt.Sprintf("target%d", i))
			if i%2 == 0 {
				left[k] = target
			} else {
				right[k] = target
			}
		}

		a := fragment.ConfigFragment{Name: "a", Resolution: fragment.Resolution{Aliases: left}}
		b := fragment.ConfigFragment{Name: "b", Resolution: fragment.Resolution{Aliases: right}}

		eff, err := compose.Compose([]fragment.ConfigFragment{a, b}, fragment.ConfigFragment{})
		if err != nil {
			t.Fatalf("disjoint aliases conflicted: %v", err)
		}
		if got := len(eff.Aliases()); got != 2*n {
			t.Fatalf("len(aliases) = %d, want %d", got, 2*n)
		}
	})
}

func TestCompose_Idempotent(t *testing.T) {
	frags := []fragment.ConfigFragment{
		fragment.AssetPassthrough(true),
		fragment.StyleExtraction(fragment.StyleOptions{ContentHash: true}),
		fragment.Minification(fragment.MinifyOptions{Enabled: true}),
		aliases("aliases", "resources", "/r"),
	}

	first, err := compose.Compose(frags, fragment.ConfigFragment{})
	require.NoError(t, err)
	second, err := compose.Compose(frags, fragment.ConfigFragment{})
	require.NoError(t, err)

	if diff := cmp.Diff(first.Config(), second.Config()); diff != "" {
		t.Errorf("compose is not idempotent:\n%s", diff)
	}
	assert.Equal(t, first.Rules(), second.Rules())
}

func TestCompose_DoesNotMutateInputs(t *testing.T) {
	a := fragment.StyleExtraction(fragment.StyleOptions{Pipeline: []string{"css", "less"}})
	before := a.Clone()

	_, err := compose.Compose([]fragment.ConfigFragment{a, fragment.Minification(fragment.MinifyOptions{Enabled: true})}, fragment.ConfigFragment{})
	require.NoError(t, err)

	if diff := cmp.Diff(before, a); diff != "" {
		t.Errorf("input fragment mutated:\n%s", diff)
	}
}

func TestCompose_AssetRulesSamePatternConcatenate(t *testing.T) {
	style := fragment.StyleExtraction(fragment.StyleOptions{ContentHash: true, Pipeline: []string{"css", "less", "autoprefix"}})
	minify := fragment.Minification(fragment.MinifyOptions{Enabled: true})

	eff, err := compose.Compose([]fragment.ConfigFragment{style, minify}, fragment.ConfigFragment{})
	require.NoError(t, err)

	rule, ok := eff.MatchAsset("less/style.less")
	require.True(t, ok)
	assert.Equal(t, []string{"css", "less", "autoprefix", fragment.TransformMinifyCSS}, rule.Pipeline)
	assert.Equal(t, fragment.HashedStyleNaming, rule.Naming, "empty naming keeps the earlier scheme")
}

func TestCompose_LaterRulesShadowEarlier(t *testing.T) {
	library := fragment.ConfigFragment{Name: "library", AssetRules: []fragment.AssetRule{
		{Pattern: `\.png$`, Pipeline: []string{"raw"}, Naming: "[name].[hash].[ext]"},
	}}
	profile := fragment.ConfigFragment{Name: "profile", AssetRules: []fragment.AssetRule{
		{Pattern: `^icons/.*\.png$`, Pipeline: []string{"raw"}, Naming: "icons/[name].[ext]"},
	}}

	eff, err := compose.Compose([]fragment.ConfigFragment{library, profile}, fragment.ConfigFragment{})
	require.NoError(t, err)

	rule, ok := eff.MatchAsset("icons/launcher.png")
	require.True(t, ok)
	assert.Equal(t, "icons/[name].[ext]", rule.Naming)

	rule, ok = eff.MatchAsset("images/logo.png")
	require.True(t, ok)
	assert.Equal(t, "[name].[hash].[ext]", rule.Naming)

	_, ok = eff.MatchAsset("main.scala")
	assert.False(t, ok)

	rules := eff.Rules()
	require.Len(t, rules, 2)
	assert.Equal(t, `^icons/.*\.png$`, rules[0].Pattern, "last composed is tried first")
}

func TestCompose_ExcludedPathsSkipRule(t *testing.T) {
	style := fragment.StyleExtraction(fragment.StyleOptions{Exclude: []string{`^theme/`}})

	eff, err := compose.Compose([]fragment.ConfigFragment{style}, fragment.ConfigFragment{})
	require.NoError(t, err)

	_, ok := eff.MatchAsset("theme/semantic.less")
	assert.False(t, ok)
	_, ok = eff.MatchAsset("less/style.less")
	assert.True(t, ok)
}

func TestCompose_PluginsKeepDuplicates(t *testing.T) {
	p := fragment.Plugin{Name: "html", Options: map[string]any{"filename": "index.html"}}
	a := fragment.ConfigFragment{Name: "a", Plugins: []fragment.Plugin{p}}
	b := fragment.ConfigFragment{Name: "b", Plugins: []fragment.Plugin{p, {Name: "define"}}}

	eff, err := compose.Compose([]fragment.ConfigFragment{a, b}, fragment.ConfigFragment{})
	require.NoError(t, err)

	var names []string
	for _, pl := range eff.Config().Plugins {
		names = append(names, pl.Name)
	}
	assert.Equal(t, []string{"html", "html", "define"}, names)
}

func TestCompose_RoutesReplacedByIdenticalPattern(t *testing.T) {
	base := fragment.ConfigFragment{Name: "devServer", Server: fragment.ServerOptions{
		Host: "localhost",
		Routes: []fragment.Route{
			{Path: "/api/seqexec/events", Upstream: "localhost:7070", WebSocket: true},
			{Path: "/api/**", Upstream: "localhost:7070"},
		},
	}}
	override := fragment.ConfigFragment{Server: fragment.ServerOptions{
		Port:   9090,
		Routes: []fragment.Route{{Path: "/api/**", Upstream: "localhost:9090", ChangeOrigin: true}},
	}}

	eff, err := compose.Compose([]fragment.ConfigFragment{base}, override)
	require.NoError(t, err)

	server := eff.Server()
	assert.Equal(t, "localhost", server.Host, "deep merge keeps unset keys")
	assert.Equal(t, 9090, server.Port)

	routes := eff.Routes()
	require.Len(t, routes, 2)
	assert.Equal(t, "/api/seqexec/events", routes[0].Path)
	assert.Equal(t, "/api/**", routes[1].Path)
	assert.Equal(t, "localhost:9090", routes[1].Upstream)
	assert.True(t, routes[1].ChangeOrigin)
}

func TestCompose_DuplicateRouteInOneFragmentIsConflict(t *testing.T) {
	f := fragment.ConfigFragment{Name: "devServer", Server: fragment.ServerOptions{Routes: []fragment.Route{
		{Path: "/api/**", Upstream: "localhost:7070"},
		{Path: "/api/**", Upstream: "localhost:9090"},
	}}}

	_, err := compose.Compose([]fragment.ConfigFragment{f}, fragment.ConfigFragment{})

	var conflict *compose.ConfigConflictError
	require.True(t, errors.As(err, &conflict))
	assert.Equal(t, compose.ConflictRoute, conflict.Conflicts[0].Kind)
	assert.Equal(t, "/api/**", conflict.Conflicts[0].Key)
}

func TestCompose_RouteOrderMostSpecificFirst(t *testing.T) {
	f := fragment.ConfigFragment{Name: "devServer", Server: fragment.ServerOptions{Routes: []fragment.Route{
		{Path: "/api/**", Upstream: "a:1"},
		{Path: "/ping", Upstream: "a:1"},
		{Path: "/api/seqexec/events", Upstream: "a:1", WebSocket: true},
		{Path: "/api", Upstream: "a:1"},
	}}}

	eff, err := compose.Compose([]fragment.ConfigFragment{f}, fragment.ConfigFragment{})
	require.NoError(t, err)

	var got []string
	for _, r := range eff.Routes() {
		got = append(got, r.Path)
	}
	assert.Equal(t, []string{"/api/seqexec/events", "/ping", "/api/**", "/api"}, got)
}

func TestCompose_InvalidAssetPattern(t *testing.T) {
	f := fragment.ConfigFragment{Name: "bad", AssetRules: []fragment.AssetRule{{Pattern: `\.(png$`}}}

	_, err := compose.Compose([]fragment.ConfigFragment{f}, fragment.ConfigFragment{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `\.(png$`)
}

func TestCompose_DisabledMinificationIsNoOp(t *testing.T) {
	base := []fragment.ConfigFragment{
		fragment.Scripts(true),
		fragment.StyleExtraction(fragment.StyleOptions{ContentHash: true}),
	}

	without, err := compose.Compose(base, fragment.ConfigFragment{})
	require.NoError(t, err)

	with, err := compose.Compose(append(base, fragment.Minification(fragment.MinifyOptions{Enabled: false})), fragment.ConfigFragment{})
	require.NoError(t, err)

	if diff := cmp.Diff(without.Config(), with.Config()); diff != "" {
		t.Errorf("disabled minification changed the configuration:\n%s", diff)
	}
	assert.Equal(t, without.Rules(), with.Rules())
}

func TestCompose_MarshalJSON(t *testing.T) {
	f := fragment.ConfigFragment{
		Name: "devServer",
		Mode: "development",
		Server: fragment.ServerOptions{Routes: []fragment.Route{
			{Path: "/api/**", Upstream: "localhost:7070", ChangeOrigin: true},
		}},
	}

	eff, err := compose.Compose([]fragment.ConfigFragment{f}, fragment.ConfigFragment{})
	require.NoError(t, err)

	data, err := eff.MarshalJSON()
	require.NoError(t, err)
	assert.JSONEq(t, `{
		"mode": "development",
		"output": {},
		"resolution-rules": {},
		"serverOptions": {"routes": [{"pathPattern": "/api/**", "upstream": "localhost:7070", "websocket": false, "changeOrigin": true}]},
		"sources": ["devServer"]
	}`, string(data))
}

func fragmentGen(name string) *rapid.Generator[fragment.ConfigFragment] {
	return rapid.Custom(func(t *rapid.T) fragment.ConfigFragment {
		f := fragment.ConfigFragment{
			Name:       name,
			Mode:       rapid.SampledFrom([]string{"", "development", "production"}).Draw(t, "mode"),
			PublicPath: rapid.SampledFrom([]string{"", "/", "/app/"}).Draw(t, "publicPath"),
		}

		for i, n := 0, rapid.IntRange(0, 3).Draw(t, "aliases"); i < n; i++ {
			if f.Resolution.Aliases == nil {
				f.Resolution.Aliases = map[string]string{}
			}
			key := rapid.SampledFrom([]string{"resources", "themeAssets", "root", "sjs"}).Draw(t, "aliasKey")
			f.Resolution.Aliases[key] = rapid.SampledFrom([]string{"/a", "/b"}).Draw(t, "aliasTarget")
		}

		f.Resolution.Modules = rapid.SliceOfN(rapid.SampledFrom([]string{"/m1", "/m2", "/m3"}), 0, 3).Draw(t, "modules")

		for i, n := 0, rapid.IntRange(0, 3).Draw(t, "rules"); i < n; i++ {
			f.AssetRules = append(f.AssetRules, fragment.AssetRule{
				Pattern:  rapid.SampledFrom([]string{fragment.StylePattern, fragment.ScriptPattern, fragment.ImagePattern}).Draw(t, "pattern"),
				Pipeline: rapid.SliceOfN(rapid.SampledFrom([]string{"raw", "css", "less", "minify-css"}), 0, 2).Draw(t, "pipeline"),
				Naming:   rapid.SampledFrom([]string{"", fragment.PlainNaming, fragment.HashedNaming}).Draw(t, "naming"),
			})
		}

		for i, n := 0, rapid.IntRange(0, 2).Draw(t, "plugins"); i < n; i++ {
			f.Plugins = append(f.Plugins, fragment.Plugin{Name: rapid.SampledFrom([]string{"html", "define"}).Draw(t, "plugin")})
		}

		seen := map[string]bool{}
		for i, n := 0, rapid.IntRange(0, 2).Draw(t, "routes"); i < n; i++ {
			path := rapid.SampledFrom([]string{"/api/**", "/ping", "/api/events"}).Draw(t, "routePath")
			if seen[path] {
				continue
			}
			seen[path] = true
			f.Server.Routes = append(f.Server.Routes, fragment.Route{
				Path:     path,
				Upstream: rapid.SampledFrom([]string{"localhost:7070", "localhost:9090"}).Draw(t, "upstream"),
			})
		}
		return f
	})
}

func TestMerge_Associative(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		a := fragmentGen("a").Draw(t, "a")
		b := fragmentGen("b").Draw(t, "b")
		c := fragmentGen("c").Draw(t, "c")

		ab, abConflicts := compose.Merge(a, b)
		left, leftConflicts := compose.Merge(ab, c)

		bc, bcConflicts := compose.Merge(b, c)
		right, rightConflicts := compose.Merge(a, bc)

		leftFailed := len(abConflicts)+len(leftConflicts) > 0
		rightFailed := len(bcConflicts)+len(rightConflicts) > 0
		if leftFailed != rightFailed {
			t.Fatalf("conflict detection differs: left=%v right=%v", leftFailed, rightFailed)
		}
		if leftFailed {
			return
		}

		if diff := cmp.Diff(left, right, equateEmpty); diff != "" {
			t.Fatalf("(a+b)+c != a+(b+c):\n%s", diff)
		}
	})
}
