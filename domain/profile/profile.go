// Package profile defines the environment profiles (development, production,
// test): ordered fragment selections plus overrides applied last.
package profile

import (
	"fmt"
	"sort"

	"github.com/artpar/bundlegate/domain/compose"
	"github.com/artpar/bundlegate/domain/fragment"
	"github.com/artpar/bundlegate/domain/paths"
)

// Profile names.
const (
	Development = "development"
	Production  = "production"
	Test        = "test"
)

// LiveReloadClient is the entry the development profile adds so pages open a
// live reload channel to the router.
const LiveReloadClient = "/__bundlegate/livereload.js"

// Profile is a named, ordered fragment selection.
type Profile struct {
	Name      string
	Fragments []string
	Overrides fragment.ConfigFragment

	DevMode     bool
	ContentHash bool
	Minify      bool
}

// Options carries the project inputs every profile composes with.
type Options struct {
	Paths         paths.Paths
	Entry         map[string][]string
	StylePipeline []string
	Server        fragment.ServerParams
	// CI disables content-hash naming so file names are stable across runs.
	CI bool
}

// UnknownFragmentError reports a profile referencing a fragment the library
// does not define.
type UnknownFragmentError struct {
	Profile  string
	Fragment string
}

func (e *UnknownFragmentError) Error() string {
	return fmt.Sprintf("profile %s: unknown fragment %q", e.Profile, e.Fragment)
}

var base = []string{
	fragment.NameResolutionAliases,
	fragment.NameResourceModules,
	fragment.NameStyleExtraction,
	fragment.NameAssetPassthrough,
	fragment.NameScripts,
	fragment.NameDocuments,
}

func builtins() map[string]Profile {
	return map[string]Profile{
		Development: {
			Name:      Development,
			Fragments: append(cloneStrings(base), fragment.NameDevelopmentServer),
			Overrides: fragment.ConfigFragment{
				Mode:       "development",
				PublicPath: "/",
				Devtool:    "eval-source-map",
				Entry:      map[string][]string{"livereload": {LiveReloadClient}},
			},
			DevMode: true,
		},
		Production: {
			Name:      Production,
			Fragments: append(cloneStrings(base), fragment.NameMinification),
			Overrides: fragment.ConfigFragment{
				Mode:       "production",
				PublicPath: "/",
			},
			ContentHash: true,
			Minify:      true,
		},
		Test: {
			Name: Test,
			Fragments: []string{
				fragment.NameAssetPassthrough,
				fragment.NameResourceModules,
			},
			Overrides: fragment.ConfigFragment{
				Mode:    "none",
				Devtool: "inline-source-map",
			},
		},
	}
}

// Lookup returns a fresh copy of a built-in profile.
func Lookup(name string) (Profile, bool) {
	p, ok := builtins()[name]
	return p, ok
}

// Names returns the built-in profile names, sorted.
func Names() []string {
	all := builtins()
	names := make([]string, 0, len(all))
	for name := range all {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Extend returns a copy of p with extra fragments appended and overrides
// merged over the built-in ones.
func (p Profile) Extend(extra []string, overrides fragment.ConfigFragment) (Profile, error) {
	out := p
	out.Fragments = append(cloneStrings(p.Fragments), extra...)

	merged, conflicts := compose.Merge(p.Overrides, overrides)
	if err := compose.NewConflictError(conflicts); err != nil {
		return Profile{}, fmt.Errorf("profile %s overrides: %w", p.Name, err)
	}
	out.Overrides = merged
	return out, nil
}

// Params returns the parameter object handed to every fragment producer.
func (p Profile) Params(opts Options) fragment.Params {
	return fragment.Params{
		Paths:         opts.Paths,
		DevMode:       p.DevMode,
		ContentHash:   p.ContentHash && !opts.CI,
		Minify:        p.Minify,
		StylePipeline: cloneStrings(opts.StylePipeline),
		Server:        opts.Server,
	}
}

// Build builds the profile's fragments in order. Project entries, when
// given, are composed first so every fragment can extend them.
func (p Profile) Build(lib fragment.Library, opts Options) ([]fragment.ConfigFragment, error) {
	params := p.Params(opts)
	out := make([]fragment.ConfigFragment, 0, len(p.Fragments)+1)

	if len(opts.Entry) > 0 {
		entry := make(map[string][]string, len(opts.Entry))
		for k, v := range opts.Entry {
			entry[k] = cloneStrings(v)
		}
		out = append(out, fragment.ConfigFragment{Name: "entry", Entry: entry})
	}

	for _, name := range p.Fragments {
		f, ok := lib.Lookup(name)
		if !ok {
			return nil, &UnknownFragmentError{Profile: p.Name, Fragment: name}
		}
		out = append(out, f.Build(params))
	}
	return out, nil
}

// Compose builds the fragments and composes them with the profile overrides.
func (p Profile) Compose(lib fragment.Library, opts Options) (*compose.Effective, error) {
	frags, err := p.Build(lib, opts)
	if err != nil {
		return nil, err
	}
	overrides := p.Overrides.Clone()
	overrides.Name = compose.OverridesName
	return compose.Compose(frags, overrides)
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
