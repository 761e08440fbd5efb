package fragment

import (
	"fmt"
	"sort"

	"github.com/artpar/bundlegate/domain/paths"
)

// Asset family patterns. Fragments that must extend one another's pipelines
// use the identical pattern string so composition concatenates them.
const (
	StylePattern    = `\.less$|\.css$`
	ScriptPattern   = `\.js$`
	ImagePattern    = `\.jpe?g$|\.gif$|\.png$|\.svg$`
	FontPattern     = `\.(woff|woff2|ttf|eot)(\?v=\d+\.\d+\.\d+)?$`
	AudioPattern    = `\.mp3$`
	DocumentPattern = `\.html?$`
)

// Naming schemes. Placeholders: [name], [ext], [hash], [contenthash], [chunkhash].
const (
	HashedNaming      = "[name].[hash].[ext]"
	PlainNaming       = "[name].[ext]"
	HashedStyleNaming = "[name].[contenthash].css"
	PlainStyleNaming  = "[name].css"
	HashedChunkNaming = "[name].[chunkhash].js"
	PlainChunkNaming  = "[name].js"
)

// Transform names known to every build.
const (
	TransformRaw         = "raw"
	TransformCSS         = "css"
	TransformStyleInject = "style-inject"
	TransformMinifyCSS   = "minify-css"
	TransformMinifyJS    = "minify-js"
)

// Library fragment names.
const (
	NameResolutionAliases = "resolutionAliases"
	NameResourceModules   = "resourceModules"
	NameAssetPassthrough  = "assetPassthrough"
	NameStyleExtraction   = "styleExtraction"
	NameScripts           = "scripts"
	NameDocuments         = "documents"
	NameMinification      = "minification"
	NameDevelopmentServer = "developmentServer"
	NameResolveTheme      = "resolveTheme"
	NameFontAssets        = "fontAssets"
)

// ThemeConfigAlias is the import a UI theme uses to locate its site config.
const ThemeConfigAlias = "../../theme.config"

// Params is the parameter object every fragment producer receives.
type Params struct {
	Paths         paths.Paths
	DevMode       bool
	ContentHash   bool
	Minify        bool
	StylePipeline []string
	Server        ServerParams
}

// ServerParams parameterizes the development server fragment.
type ServerParams struct {
	Host   string
	Port   int
	Routes []Route
}

// Fragment is a named, pure configuration producer.
type Fragment struct {
	Name    string
	Produce func(Params) ConfigFragment
}

// Build runs the producer and stamps the fragment name on the result.
func (f Fragment) Build(p Params) ConfigFragment {
	out := f.Produce(p)
	out.Name = f.Name
	return out
}

// Static wraps a fixed fragment (e.g. one declared in a config file).
func Static(name string, cf ConfigFragment) Fragment {
	frozen := cf.Clone()
	return Fragment{
		Name: name,
		Produce: func(Params) ConfigFragment {
			return frozen.Clone()
		},
	}
}

// Library maps fragment names to producers. It is read-only once built.
type Library struct {
	fragments map[string]Fragment
}

// DefaultLibrary returns the built-in fragments.
func DefaultLibrary() Library {
	lib := Library{fragments: make(map[string]Fragment)}
	for _, f := range []Fragment{
		{Name: NameResolutionAliases, Produce: func(p Params) ConfigFragment { return ResolutionAliases(p.Paths) }},
		{Name: NameResourceModules, Produce: func(p Params) ConfigFragment { return ResourceModules(p.Paths) }},
		{Name: NameAssetPassthrough, Produce: func(p Params) ConfigFragment { return AssetPassthrough(p.ContentHash) }},
		{Name: NameStyleExtraction, Produce: func(p Params) ConfigFragment {
			return StyleExtraction(StyleOptions{DevMode: p.DevMode, ContentHash: p.ContentHash, Pipeline: p.StylePipeline})
		}},
		{Name: NameScripts, Produce: func(p Params) ConfigFragment { return Scripts(p.ContentHash) }},
		{Name: NameDocuments, Produce: func(Params) ConfigFragment { return Documents() }},
		{Name: NameMinification, Produce: func(p Params) ConfigFragment { return Minification(MinifyOptions{Enabled: p.Minify}) }},
		{Name: NameDevelopmentServer, Produce: func(p Params) ConfigFragment { return DevelopmentServer(p.Paths, p.Server) }},
		{Name: NameResolveTheme, Produce: func(p Params) ConfigFragment { return ResolveTheme(p.Paths) }},
		{Name: NameFontAssets, Produce: func(p Params) ConfigFragment { return FontAssets(p.ContentHash) }},
	} {
		lib.fragments[f.Name] = f
	}
	return lib
}

// With returns a new library that also contains extra. Names must be unique.
func (l Library) With(extra ...Fragment) (Library, error) {
	out := Library{fragments: make(map[string]Fragment, len(l.fragments)+len(extra))}
	for k, v := range l.fragments {
		out.fragments[k] = v
	}
	for _, f := range extra {
		if f.Name == "" {
			return Library{}, fmt.Errorf("fragment name is required")
		}
		if _, exists := out.fragments[f.Name]; exists {
			return Library{}, fmt.Errorf("fragment %q already defined", f.Name)
		}
		out.fragments[f.Name] = f
	}
	return out, nil
}

// Lookup returns the fragment registered under name.
func (l Library) Lookup(name string) (Fragment, bool) {
	f, ok := l.fragments[name]
	return f, ok
}

// Names returns all fragment names, sorted.
func (l Library) Names() []string {
	names := make([]string, 0, len(l.fragments))
	for name := range l.fragments {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ResolutionAliases maps symbolic import names to canonical locations.
func ResolutionAliases(p paths.Paths) ConfigFragment {
	return ConfigFragment{
		Resolution: Resolution{
			Aliases: map[string]string{
				"resources":   p.Resources(),
				"themeAssets": p.ThemeConfig(),
				"root":        p.Root(),
			},
		},
	}
}

// ResourceModules adds the module search roots.
func ResourceModules(p paths.Paths) ConfigFragment {
	return ConfigFragment{
		Resolution: Resolution{
			Modules: []string{p.Modules(), p.Resources()},
		},
	}
}

// ResolveTheme points the theme's relative config import at the project theme.
func ResolveTheme(p paths.Paths) ConfigFragment {
	return ConfigFragment{
		Resolution: Resolution{
			Aliases: map[string]string{ThemeConfigAlias: p.ThemeConfig()},
		},
	}
}

// AssetPassthrough emits binary assets (images, fonts, audio) unchanged.
func AssetPassthrough(contentHash bool) ConfigFragment {
	naming := PlainNaming
	if contentHash {
		naming = HashedNaming
	}
	return ConfigFragment{
		AssetRules: []AssetRule{
			{Pattern: ImagePattern, Pipeline: []string{TransformRaw}, Naming: naming},
			{Pattern: FontPattern, Pipeline: []string{TransformRaw}, Naming: naming},
			{Pattern: AudioPattern, Pipeline: []string{TransformRaw}, Naming: naming},
		},
	}
}

// FontAssets emits web fonts only, for profiles that do not take the full
// passthrough set.
func FontAssets(contentHash bool) ConfigFragment {
	naming := PlainNaming
	if contentHash {
		naming = HashedNaming
	}
	return ConfigFragment{
		AssetRules: []AssetRule{
			{Pattern: FontPattern, Pipeline: []string{TransformRaw}, Naming: naming},
		},
	}
}

// StyleOptions parameterizes style extraction.
type StyleOptions struct {
	DevMode     bool
	ContentHash bool
	Pipeline    []string
	Exclude     []string
}

// StyleExtraction emits style sheets. In dev mode the result is injected live
// and carries no hash; otherwise the file name is content hashed unless
// hashing is disabled (CI).
func StyleExtraction(opts StyleOptions) ConfigFragment {
	pipeline := []string{TransformCSS}
	if len(opts.Pipeline) > 0 {
		pipeline = cloneStrings(opts.Pipeline)
	}

	naming, chunk := PlainStyleNaming, "[id].css"
	if !opts.DevMode && opts.ContentHash {
		naming, chunk = HashedStyleNaming, "[id].[contenthash].css"
	}

	if opts.DevMode {
		pipeline = append(pipeline, TransformStyleInject)
	}

	return ConfigFragment{
		AssetRules: []AssetRule{
			{Pattern: StylePattern, Pipeline: pipeline, Naming: naming, Exclude: cloneStrings(opts.Exclude)},
		},
		Plugins: []Plugin{
			{Name: "extract-css", Options: map[string]any{"filename": naming, "chunkFilename": chunk}},
		},
	}
}

// Scripts emits compiled JavaScript.
func Scripts(contentHash bool) ConfigFragment {
	naming := PlainChunkNaming
	if contentHash {
		naming = HashedChunkNaming
	}
	return ConfigFragment{
		Output: Output{Filename: naming},
		AssetRules: []AssetRule{
			{Pattern: ScriptPattern, Pipeline: []string{TransformRaw}, Naming: naming},
		},
	}
}

// Documents emits root documents. They are never hashed: the router and the
// browser locate them by name.
func Documents() ConfigFragment {
	return ConfigFragment{
		AssetRules: []AssetRule{
			{Pattern: DocumentPattern, Pipeline: []string{TransformRaw}, Naming: PlainNaming},
		},
	}
}

// MinifyOptions parameterizes minification.
type MinifyOptions struct {
	Enabled bool
}

// Minification appends terminal minifiers to the script and style pipelines.
// Disabled, it yields the empty fragment so composing it is a no-op.
func Minification(opts MinifyOptions) ConfigFragment {
	if !opts.Enabled {
		return ConfigFragment{}
	}
	return ConfigFragment{
		AssetRules: []AssetRule{
			{Pattern: ScriptPattern, Pipeline: []string{TransformMinifyJS}},
			{Pattern: StylePattern, Pipeline: []string{TransformMinifyCSS}},
		},
	}
}

// DevelopmentServer configures the development router: hot reload, SPA
// fallback, content roots and the upstream routing table.
func DevelopmentServer(p paths.Paths, sp ServerParams) ConfigFragment {
	var routes []Route
	if len(sp.Routes) > 0 {
		routes = make([]Route, len(sp.Routes))
		copy(routes, sp.Routes)
	}
	return ConfigFragment{
		Server: ServerOptions{
			Host:               sp.Host,
			Port:               sp.Port,
			Hot:                Bool(true),
			HistoryAPIFallback: Bool(true),
			ContentBase:        []string{p.Output(), p.Root()},
			Routes:             routes,
		},
		Plugins: []Plugin{{Name: "hot-module-replacement"}},
	}
}
