package fragment_test

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/bundlegate/domain/fragment"
	"github.com/artpar/bundlegate/domain/paths"
)

func TestDecode(t *testing.T) {
	data := []byte(`
mode: production
publicPath: /static/
resolution-rules:
  aliases:
    sjs: /opt/app/target/scala-2.12/app-fastopt.js
asset-rules:
  - match: '\.png$'
    pipeline: [raw]
    naming: '[name].[hash].[ext]'
serverOptions:
  port: 9000
  hot: false
  routes:
    - pathPattern: /ping
      upstream: localhost:7070
`)

	f, err := fragment.Decode("custom", data)
	require.NoError(t, err)

	assert.Equal(t, "custom", f.Name)
	assert.Equal(t, "production", f.Mode)
	assert.Equal(t, "/static/", f.PublicPath)
	assert.Equal(t, "/opt/app/target/scala-2.12/app-fastopt.js", f.Resolution.Aliases["sjs"])
	require.Len(t, f.AssetRules, 1)
	assert.Equal(t, `\.png$`, f.AssetRules[0].Pattern)
	assert.Equal(t, 9000, f.Server.Port)
	require.NotNil(t, f.Server.Hot)
	assert.False(t, *f.Server.Hot)
	assert.Nil(t, f.Server.HistoryAPIFallback)
	require.Len(t, f.Server.Routes, 1)
	assert.Equal(t, "localhost:7070", f.Server.Routes[0].Upstream)
}

func TestDecode_RejectsUnknownTopLevelKeys(t *testing.T) {
	_, err := fragment.Decode("legacy", []byte("mode: development\nmodule:\n  rules: []\nextra: 1\n"))

	var unknown *fragment.UnknownKeyError
	require.True(t, errors.As(err, &unknown), "got %v", err)
	assert.Equal(t, []string{"extra", "module"}, unknown.Keys)
	assert.Equal(t, "legacy", unknown.Fragment)
}

func TestDecode_Empty(t *testing.T) {
	f, err := fragment.Decode("empty", []byte("  \n"))
	require.NoError(t, err)
	assert.True(t, f.IsZero())
}

func TestClone_IsDeep(t *testing.T) {
	orig := fragment.ConfigFragment{
		Entry:      map[string][]string{"app": {"a.js"}},
		Resolution: fragment.Resolution{Aliases: map[string]string{"k": "v"}, Modules: []string{"m"}},
		AssetRules: []fragment.AssetRule{{Pattern: "x", Pipeline: []string{"raw"}}},
		Plugins:    []fragment.Plugin{{Name: "p", Options: map[string]any{"a": 1}}},
		Server:     fragment.ServerOptions{Hot: fragment.Bool(true), Routes: []fragment.Route{{Path: "/a"}}},
	}
	c := orig.Clone()

	c.Entry["app"][0] = "b.js"
	c.Resolution.Aliases["k"] = "w"
	c.Resolution.Modules[0] = "n"
	c.AssetRules[0].Pipeline[0] = "css"
	c.Plugins[0].Options["a"] = 2
	*c.Server.Hot = false
	c.Server.Routes[0].Path = "/b"

	assert.Equal(t, "a.js", orig.Entry["app"][0])
	assert.Equal(t, "v", orig.Resolution.Aliases["k"])
	assert.Equal(t, "m", orig.Resolution.Modules[0])
	assert.Equal(t, "raw", orig.AssetRules[0].Pipeline[0])
	assert.Equal(t, 1, orig.Plugins[0].Options["a"])
	assert.True(t, *orig.Server.Hot)
	assert.Equal(t, "/a", orig.Server.Routes[0].Path)
}

func TestLibrary(t *testing.T) {
	lib := fragment.DefaultLibrary()

	assert.Equal(t, []string{
		"assetPassthrough", "developmentServer", "documents", "fontAssets", "minification",
		"resolutionAliases", "resolveTheme", "resourceModules", "scripts", "styleExtraction",
	}, lib.Names())

	f, ok := lib.Lookup(fragment.NameAssetPassthrough)
	require.True(t, ok)
	cf := f.Build(fragment.Params{ContentHash: true})
	assert.Equal(t, fragment.NameAssetPassthrough, cf.Name)
	require.Len(t, cf.AssetRules, 3)
	for _, r := range cf.AssetRules {
		assert.Equal(t, fragment.HashedNaming, r.Naming)
	}

	_, err := lib.With(fragment.Static(fragment.NameScripts, fragment.ConfigFragment{}))
	assert.Error(t, err, "duplicate names are rejected")

	ext, err := lib.With(fragment.Static("extra", fragment.ConfigFragment{Mode: "none"}))
	require.NoError(t, err)
	_, ok = ext.Lookup("extra")
	assert.True(t, ok)
	_, ok = lib.Lookup("extra")
	assert.False(t, ok, "With does not modify the receiver")
}

func TestProducersArePure(t *testing.T) {
	p, err := paths.Resolve(t.TempDir())
	require.NoError(t, err)
	params := fragment.Params{Paths: p, ContentHash: true, Minify: true}

	lib := fragment.DefaultLibrary()
	for _, name := range lib.Names() {
		f, _ := lib.Lookup(name)
		a := f.Build(params)
		b := f.Build(params)
		assert.Equal(t, a, b, name)
	}
}

func TestResolutionAliases(t *testing.T) {
	p, err := paths.Resolve(t.TempDir())
	require.NoError(t, err)

	aliases := fragment.ResolutionAliases(p).Resolution.Aliases
	assert.Equal(t, p.Resources(), aliases["resources"])
	assert.Equal(t, p.ThemeConfig(), aliases["themeAssets"])
	assert.Equal(t, p.Root(), aliases["root"])
}

func TestStyleExtraction(t *testing.T) {
	tests := []struct {
		name         string
		opts         fragment.StyleOptions
		wantPipeline []string
		wantNaming   string
	}{
		{
			name:         "production hashed",
			opts:         fragment.StyleOptions{ContentHash: true},
			wantPipeline: []string{"css"},
			wantNaming:   fragment.HashedStyleNaming,
		},
		{
			name:         "dev injects and never hashes",
			opts:         fragment.StyleOptions{DevMode: true, ContentHash: true, Pipeline: []string{"less", "autoprefix"}},
			wantPipeline: []string{"less", "autoprefix", "style-inject"},
			wantNaming:   fragment.PlainStyleNaming,
		},
		{
			name:         "ci plain",
			opts:         fragment.StyleOptions{},
			wantPipeline: []string{"css"},
			wantNaming:   fragment.PlainStyleNaming,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cf := fragment.StyleExtraction(tt.opts)
			require.Len(t, cf.AssetRules, 1)
			assert.Equal(t, tt.wantPipeline, cf.AssetRules[0].Pipeline)
			assert.Equal(t, tt.wantNaming, cf.AssetRules[0].Naming)
		})
	}
}

func TestMinification_Disabled(t *testing.T) {
	assert.True(t, fragment.Minification(fragment.MinifyOptions{}).IsZero())
	assert.False(t, fragment.Minification(fragment.MinifyOptions{Enabled: true}).IsZero())
}
