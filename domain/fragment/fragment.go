// Package fragment defines the configuration fragment schema and the library of
// named, pure fragment producers that profiles compose into one effective build
// configuration.
package fragment

import (
	"fmt"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// ConfigFragment is a partial build configuration. Only the sub-trees declared
// here exist; unknown top-level keys are rejected when decoding.
type ConfigFragment struct {
	// Name identifies the producing fragment in conflict reports.
	Name string `yaml:"-" json:"-"`

	Mode       string              `yaml:"mode,omitempty" json:"mode,omitempty"`
	PublicPath string              `yaml:"publicPath,omitempty" json:"publicPath,omitempty"`
	Devtool    string              `yaml:"devtool,omitempty" json:"devtool,omitempty"`
	Entry      map[string][]string `yaml:"entry,omitempty" json:"entry,omitempty"`
	Output     Output              `yaml:"output,omitempty" json:"output,omitempty"`
	Resolution Resolution          `yaml:"resolution-rules,omitempty" json:"resolution-rules,omitempty"`
	AssetRules []AssetRule         `yaml:"asset-rules,omitempty" json:"asset-rules,omitempty"`
	Plugins    []Plugin            `yaml:"plugins,omitempty" json:"plugins,omitempty"`
	Server     ServerOptions       `yaml:"serverOptions,omitempty" json:"serverOptions,omitempty"`
}

// Output configures emitted bundle names.
type Output struct {
	Filename      string `yaml:"filename,omitempty" json:"filename,omitempty"`
	ChunkFilename string `yaml:"chunkFilename,omitempty" json:"chunkFilename,omitempty"`
}

// Resolution holds module resolution rules.
type Resolution struct {
	Aliases map[string]string `yaml:"aliases,omitempty" json:"aliases,omitempty"`
	Modules []string          `yaml:"modules,omitempty" json:"modules,omitempty"`
}

// AssetRule maps a class of input files to a transform pipeline and an output
// naming scheme.
type AssetRule struct {
	Pattern  string   `yaml:"match" json:"match"`
	Pipeline []string `yaml:"pipeline,omitempty" json:"pipeline,omitempty"`
	Naming   string   `yaml:"naming,omitempty" json:"naming,omitempty"`
	Exclude  []string `yaml:"exclude,omitempty" json:"exclude,omitempty"`
}

// Plugin is an opaque build-time extension handed to the compiler as is.
type Plugin struct {
	Name    string         `yaml:"name" json:"name"`
	Options map[string]any `yaml:"options,omitempty" json:"options,omitempty"`
}

// ServerOptions configures the development server. Pointer fields distinguish
// "unset" from an explicit false during deep merge.
type ServerOptions struct {
	Host               string   `yaml:"host,omitempty" json:"host,omitempty"`
	Port               int      `yaml:"port,omitempty" json:"port,omitempty"`
	Hot                *bool    `yaml:"hot,omitempty" json:"hot,omitempty"`
	HistoryAPIFallback *bool    `yaml:"historyApiFallback,omitempty" json:"historyApiFallback,omitempty"`
	ContentBase        []string `yaml:"contentBase,omitempty" json:"contentBase,omitempty"`
	Routes             []Route  `yaml:"routes,omitempty" json:"routes,omitempty"`
}

// Route is the routing table wire contract entry.
type Route struct {
	Path         string `yaml:"pathPattern" json:"pathPattern"`
	Upstream     string `yaml:"upstream" json:"upstream"`
	WebSocket    bool   `yaml:"websocket,omitempty" json:"websocket"`
	ChangeOrigin bool   `yaml:"changeOrigin,omitempty" json:"changeOrigin"`
	Bypass       string `yaml:"bypass,omitempty" json:"bypass,omitempty"`
}

// UnknownKeyError reports a top-level key outside the fragment schema.
type UnknownKeyError struct {
	Fragment string
	Keys     []string
}

func (e *UnknownKeyError) Error() string {
	name := e.Fragment
	if name == "" {
		name = "fragment"
	}
	return fmt.Sprintf("%s: unknown top-level keys: %s", name, strings.Join(e.Keys, ", "))
}

var knownKeys = map[string]bool{
	"mode":             true,
	"publicPath":       true,
	"devtool":          true,
	"entry":            true,
	"output":           true,
	"resolution-rules": true,
	"asset-rules":      true,
	"plugins":          true,
	"serverOptions":    true,
}

// UnmarshalYAML decodes a fragment, rejecting unknown top-level keys.
func (f *ConfigFragment) UnmarshalYAML(node *yaml.Node) error {
	if node.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: fragment must be a mapping", node.Line)
	}

	var unknown []string
	for i := 0; i+1 < len(node.Content); i += 2 {
		if key := node.Content[i].Value; !knownKeys[key] {
			unknown = append(unknown, key)
		}
	}
	if len(unknown) > 0 {
		sort.Strings(unknown)
		return &UnknownKeyError{Fragment: f.Name, Keys: unknown}
	}

	type plain ConfigFragment
	var out plain
	if err := node.Decode(&out); err != nil {
		return err
	}
	out.Name = f.Name
	*f = ConfigFragment(out)
	return nil
}

// Decode parses a named fragment from YAML.
func Decode(name string, data []byte) (ConfigFragment, error) {
	f := ConfigFragment{Name: name}
	if len(strings.TrimSpace(string(data))) == 0 {
		return f, nil
	}
	if err := yaml.Unmarshal(data, &f); err != nil {
		return ConfigFragment{}, fmt.Errorf("decode fragment %s: %w", name, err)
	}
	return f, nil
}

// IsZero reports whether the fragment sets nothing.
func (f ConfigFragment) IsZero() bool {
	return f.Mode == "" && f.PublicPath == "" && f.Devtool == "" &&
		len(f.Entry) == 0 && f.Output == (Output{}) &&
		len(f.Resolution.Aliases) == 0 && len(f.Resolution.Modules) == 0 &&
		len(f.AssetRules) == 0 && len(f.Plugins) == 0 && f.Server.isZero()
}

func (s ServerOptions) isZero() bool {
	return s.Host == "" && s.Port == 0 && s.Hot == nil && s.HistoryAPIFallback == nil &&
		len(s.ContentBase) == 0 && len(s.Routes) == 0
}

// Clone returns a deep copy. Plugin options are treated as immutable values and
// only the map itself is copied.
func (f ConfigFragment) Clone() ConfigFragment {
	out := f

	if f.Entry != nil {
		out.Entry = make(map[string][]string, len(f.Entry))
		for k, v := range f.Entry {
			out.Entry[k] = cloneStrings(v)
		}
	}

	if f.Resolution.Aliases != nil {
		out.Resolution.Aliases = make(map[string]string, len(f.Resolution.Aliases))
		for k, v := range f.Resolution.Aliases {
			out.Resolution.Aliases[k] = v
		}
	}
	out.Resolution.Modules = cloneStrings(f.Resolution.Modules)

	if f.AssetRules != nil {
		out.AssetRules = make([]AssetRule, len(f.AssetRules))
		for i, r := range f.AssetRules {
			out.AssetRules[i] = r.Clone()
		}
	}

	if f.Plugins != nil {
		out.Plugins = make([]Plugin, len(f.Plugins))
		for i, p := range f.Plugins {
			out.Plugins[i] = p.Clone()
		}
	}

	out.Server = f.Server.Clone()
	return out
}

// Clone returns a deep copy of the rule.
func (r AssetRule) Clone() AssetRule {
	r.Pipeline = cloneStrings(r.Pipeline)
	r.Exclude = cloneStrings(r.Exclude)
	return r
}

// Clone returns a copy of the plugin with its own options map.
func (p Plugin) Clone() Plugin {
	if p.Options != nil {
		opts := make(map[string]any, len(p.Options))
		for k, v := range p.Options {
			opts[k] = v
		}
		p.Options = opts
	}
	return p
}

// Clone returns a deep copy of the server options.
func (s ServerOptions) Clone() ServerOptions {
	if s.Hot != nil {
		v := *s.Hot
		s.Hot = &v
	}
	if s.HistoryAPIFallback != nil {
		v := *s.HistoryAPIFallback
		s.HistoryAPIFallback = &v
	}
	s.ContentBase = cloneStrings(s.ContentBase)
	if s.Routes != nil {
		routes := make([]Route, len(s.Routes))
		copy(routes, s.Routes)
		s.Routes = routes
	}
	return s
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}

// Bool returns a pointer to v, for ServerOptions flags.
func Bool(v bool) *bool { return &v }
