// Package config provides project configuration loading and validation.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/artpar/bundlegate/domain/fragment"
	"github.com/artpar/bundlegate/domain/paths"
	"github.com/artpar/bundlegate/domain/profile"
	"github.com/artpar/bundlegate/domain/route"
)

// DefaultFile is the project configuration file name.
const DefaultFile = "bundlegate.yaml"

// Config is the root configuration structure.
type Config struct {
	Project    ProjectConfig              `yaml:"project"`
	Server     ServerConfig               `yaml:"server"`
	Upstream   UpstreamConfig             `yaml:"upstream"`
	Routes     []RouteConfig              `yaml:"routes"`
	Entry      map[string][]string        `yaml:"entry"`
	Style      StyleConfig                `yaml:"style"`
	Transforms map[string]TransformConfig `yaml:"transforms"`
	Compiler   CompilerConfig             `yaml:"compiler"`
	Profiles   map[string]ProfileConfig   `yaml:"profiles"`
	Fragments  map[string]yaml.Node       `yaml:"fragments"`
	History    HistoryConfig              `yaml:"history"`
	Logging    LoggingConfig              `yaml:"logging"`
	Metrics    MetricsConfig              `yaml:"metrics"`
	Watch      WatchConfig                `yaml:"watch"`

	// CI is set from the CI environment marker.
	CI bool `yaml:"-"`

	// dir is the directory relative project paths are resolved against.
	dir       string
	fragments []fragment.Fragment
	overrides map[string]fragment.ConfigFragment
}

// ProjectConfig locates the project directories.
type ProjectConfig struct {
	BaseDir   string `yaml:"base_dir"`
	Resources string `yaml:"resources"`
	Output    string `yaml:"output"`
	Modules   string `yaml:"modules"`
}

// ServerConfig configures the development server.
type ServerConfig struct {
	Host         string        `yaml:"host"`
	Port         int           `yaml:"port"`
	ReadTimeout  time.Duration `yaml:"read_timeout"`
	WriteTimeout time.Duration `yaml:"write_timeout"`
	ContentBase  []string      `yaml:"content_base"`
}

// UpstreamConfig configures the default backend the router forwards to.
type UpstreamConfig struct {
	Host            string        `yaml:"host"`
	Port            int           `yaml:"port"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxIdleConns    int           `yaml:"max_idle_conns"`
	IdleConnTimeout time.Duration `yaml:"idle_conn_timeout"`
}

// RouteConfig is one routing table entry. An empty upstream means the
// default upstream.
type RouteConfig struct {
	Path         string `yaml:"path"`
	Upstream     string `yaml:"upstream"`
	WebSocket    bool   `yaml:"websocket"`
	ChangeOrigin bool   `yaml:"change_origin"`
	Bypass       string `yaml:"bypass"`
}

// StyleConfig configures the style sheet pipeline.
type StyleConfig struct {
	Pipeline []string `yaml:"pipeline"`
}

// TransformConfig declares an external command transform. "{path}" in the
// arguments is replaced with the source path.
type TransformConfig struct {
	Command []string `yaml:"command"`
}

// CompilerConfig configures the external build executor. No command means
// only the asset pipeline runs.
type CompilerConfig struct {
	Command []string `yaml:"command"`
}

// ProfileConfig extends a built-in profile, or defines a new one based on
// Extends.
type ProfileConfig struct {
	Extends   string    `yaml:"extends"`
	Fragments []string  `yaml:"fragments"`
	Overrides yaml.Node `yaml:"overrides"`
}

// HistoryConfig configures the build history store.
type HistoryConfig struct {
	DSN string `yaml:"dsn"`
}

// LoggingConfig configures logging.
type LoggingConfig struct {
	Level  string `yaml:"level"`  // "debug", "info", "warn", "error"
	Format string `yaml:"format"` // "json" or "console"
}

// MetricsConfig configures the Prometheus endpoint.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// WatchConfig configures the source watcher.
type WatchConfig struct {
	Debounce time.Duration `yaml:"debounce"`
	Paths    []string      `yaml:"paths"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}

	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("absolute path: %w", err)
	}
	return Parse(data, filepath.Dir(abs))
}

// Parse decodes configuration data. Relative project paths are resolved
// against dir.
func Parse(data []byte, dir string) (*Config, error) {
	// Expand environment variables
	data = []byte(os.ExpandEnv(string(data)))

	cfg := Config{dir: dir}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	// An empty document decodes to io.EOF and means "all defaults".
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	return finish(&cfg)
}

// LoadWithFallback loads path when it exists and otherwise builds the
// configuration from defaults and environment variables, rooted at the
// working directory.
func LoadWithFallback(path string) (*Config, error) {
	if path != "" {
		if _, err := os.Stat(path); err == nil {
			return Load(path)
		} else if !errors.Is(err, os.ErrNotExist) {
			return nil, fmt.Errorf("stat config: %w", err)
		}
	}

	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	return finish(&Config{dir: wd})
}

func finish(cfg *Config) (*Config, error) {
	// Apply environment variable overrides
	applyEnvOverrides(cfg)

	setDefaults(cfg)

	if err := cfg.decodeFragments(); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies BUNDLEGATE_* environment variables to the config.
// Environment variables always override file-based configuration.
func applyEnvOverrides(cfg *Config) {
	// Server configuration
	if v := os.Getenv("BUNDLEGATE_SERVER_HOST"); v != "" {
		cfg.Server.Host = v
	}
	if v := os.Getenv("BUNDLEGATE_SERVER_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	// Upstream configuration
	if v := os.Getenv("BUNDLEGATE_UPSTREAM_HOST"); v != "" {
		cfg.Upstream.Host = v
	}
	if v := os.Getenv("BUNDLEGATE_UPSTREAM_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Upstream.Port = port
		}
	}
	if v := os.Getenv("BUNDLEGATE_UPSTREAM_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Upstream.Timeout = d
		}
	}

	if v := os.Getenv("BUNDLEGATE_HISTORY_DSN"); v != "" {
		cfg.History.DSN = v
	}

	// Logging configuration
	if v := os.Getenv("BUNDLEGATE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("BUNDLEGATE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}

	if v := os.Getenv("BUNDLEGATE_METRICS_ENABLED"); v != "" {
		cfg.Metrics.Enabled = parseBool(v)
	}

	cfg.CI = parseBool(os.Getenv("CI"))
}

// parseBool parses a boolean from common string values.
func parseBool(v string) bool {
	v = strings.ToLower(strings.TrimSpace(v))
	return v == "true" || v == "1" || v == "yes" || v == "on"
}

func setDefaults(cfg *Config) {
	if cfg.Project.BaseDir == "" {
		cfg.Project.BaseDir = "."
	}

	if cfg.Server.Host == "" {
		cfg.Server.Host = "0.0.0.0"
	}
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.ReadTimeout == 0 {
		cfg.Server.ReadTimeout = 30 * time.Second
	}
	if cfg.Server.WriteTimeout == 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}

	if cfg.Upstream.Host == "" {
		cfg.Upstream.Host = "127.0.0.1"
	}
	if cfg.Upstream.Port == 0 {
		cfg.Upstream.Port = 7070
	}
	if cfg.Upstream.Timeout == 0 {
		cfg.Upstream.Timeout = 5 * time.Second
	}

	if cfg.History.DSN == "" {
		cfg.History.DSN = filepath.Join(".bundlegate", "history.db")
	}

	if cfg.Logging.Level == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Format == "" {
		cfg.Logging.Format = "json"
	}

	if cfg.Watch.Debounce == 0 {
		cfg.Watch.Debounce = 200 * time.Millisecond
	}
}

func (cfg *Config) decodeFragments() error {
	names := make([]string, 0, len(cfg.Fragments))
	for name := range cfg.Fragments {
		names = append(names, name)
	}
	sort.Strings(names)

	cfg.fragments = nil
	for _, name := range names {
		node := cfg.Fragments[name]
		f := fragment.ConfigFragment{Name: name}
		if err := node.Decode(&f); err != nil {
			return fmt.Errorf("fragments.%s: %w", name, err)
		}
		cfg.fragments = append(cfg.fragments, fragment.Static(name, f))
	}

	cfg.overrides = make(map[string]fragment.ConfigFragment, len(cfg.Profiles))
	for name, p := range cfg.Profiles {
		f := fragment.ConfigFragment{Name: name + ".overrides"}
		if !p.Overrides.IsZero() {
			if err := p.Overrides.Decode(&f); err != nil {
				return fmt.Errorf("profiles.%s.overrides: %w", name, err)
			}
		}
		cfg.overrides[name] = f
	}
	return nil
}

var validLevels = map[string]bool{"debug": true, "info": true, "warn": true, "error": true}

func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("server.port must be between 1 and 65535, got %d", cfg.Server.Port)
	}
	if cfg.Upstream.Port < 1 || cfg.Upstream.Port > 65535 {
		return fmt.Errorf("upstream.port must be between 1 and 65535, got %d", cfg.Upstream.Port)
	}

	if !validLevels[cfg.Logging.Level] {
		return fmt.Errorf("logging.level must be one of debug, info, warn, error, got %q", cfg.Logging.Level)
	}
	if cfg.Logging.Format != "json" && cfg.Logging.Format != "console" {
		return fmt.Errorf("logging.format must be 'json' or 'console', got %q", cfg.Logging.Format)
	}

	for i, r := range cfg.Routes {
		if r.Path == "" {
			return fmt.Errorf("routes[%d].path is required", i)
		}
		if r.Upstream != "" {
			if _, err := route.ParseUpstream(r.Upstream); err != nil {
				return fmt.Errorf("routes[%d].upstream: %w", i, err)
			}
		}
		if _, err := route.CompileBypass(r.Bypass); err != nil {
			return fmt.Errorf("routes[%d].bypass: %w", i, err)
		}
	}

	for name, t := range cfg.Transforms {
		if len(t.Command) == 0 {
			return fmt.Errorf("transforms.%s.command is required", name)
		}
	}

	lib, err := cfg.Library()
	if err != nil {
		return err
	}
	for name := range cfg.Profiles {
		p, err := cfg.Profile(name)
		if err != nil {
			return err
		}
		for _, f := range p.Fragments {
			if _, ok := lib.Lookup(f); !ok {
				return &profile.UnknownFragmentError{Profile: name, Fragment: f}
			}
		}
	}

	return nil
}

// Dir returns the directory the configuration was loaded from.
func (c *Config) Dir() string { return c.dir }

// Paths resolves the project directories.
func (c *Config) Paths() (paths.Paths, error) {
	base := c.Project.BaseDir
	if !filepath.IsAbs(base) {
		base = filepath.Join(c.dir, base)
	}
	return paths.ResolveLayout(base, paths.Layout{
		Resources: c.Project.Resources,
		Output:    c.Project.Output,
		Modules:   c.Project.Modules,
	})
}

// ServerAddr returns the development server listen address.
func (c *Config) ServerAddr() string {
	return fmt.Sprintf("%s:%d", c.Server.Host, c.Server.Port)
}

// UpstreamAddr returns the default upstream address.
func (c *Config) UpstreamAddr() string {
	return fmt.Sprintf("%s:%d", c.Upstream.Host, c.Upstream.Port)
}

// DefaultRoutes is the routing table used when the project file has no
// routes section: the event stream, the ping endpoint and the API, with
// script requests under /api kept local.
var DefaultRoutes = []RouteConfig{
	{Path: "/api/seqexec/events", WebSocket: true, ChangeOrigin: true},
	{Path: "/ping"},
	{Path: "/api/**", ChangeOrigin: true, Bypass: `path endsWith ".js" ? path : ""`},
}

// RouteTable returns the routing table wire entries in declaration order.
// A missing routes section means DefaultRoutes; an empty list forwards
// nothing.
func (c *Config) RouteTable() []fragment.Route {
	routes := c.Routes
	if routes == nil {
		routes = DefaultRoutes
	}
	if len(routes) == 0 {
		return nil
	}
	out := make([]fragment.Route, len(routes))
	for i, r := range routes {
		up := r.Upstream
		if up == "" {
			up = c.UpstreamAddr()
		}
		out[i] = fragment.Route{
			Path:         r.Path,
			Upstream:     up,
			WebSocket:    r.WebSocket,
			ChangeOrigin: r.ChangeOrigin,
			Bypass:       r.Bypass,
		}
	}
	return out
}

// Library returns the built-in fragments plus the project's own.
func (c *Config) Library() (fragment.Library, error) {
	lib, err := fragment.DefaultLibrary().With(c.fragments...)
	if err != nil {
		return fragment.Library{}, fmt.Errorf("fragments: %w", err)
	}
	return lib, nil
}

// Profile returns the named profile with the project's extensions applied.
func (c *Config) Profile(name string) (profile.Profile, error) {
	pc, custom := c.Profiles[name]

	baseName := name
	if custom && pc.Extends != "" {
		baseName = pc.Extends
	}
	p, ok := profile.Lookup(baseName)
	if !ok {
		if !custom || pc.Extends != "" {
			return profile.Profile{}, fmt.Errorf("unknown profile %q", baseName)
		}
	}
	p.Name = name
	if !custom {
		return p, nil
	}
	return p.Extend(pc.Fragments, c.overrides[name])
}

// ProfileNames returns the built-in and project profile names, sorted.
func (c *Config) ProfileNames() []string {
	seen := make(map[string]bool)
	var names []string
	for _, n := range profile.Names() {
		seen[n] = true
		names = append(names, n)
	}
	for n := range c.Profiles {
		if !seen[n] {
			names = append(names, n)
		}
	}
	sort.Strings(names)
	return names
}

// ProfileOptions returns the project inputs every profile composes with.
func (c *Config) ProfileOptions() (profile.Options, error) {
	p, err := c.Paths()
	if err != nil {
		return profile.Options{}, err
	}
	return profile.Options{
		Paths:         p,
		Entry:         c.Entry,
		StylePipeline: c.Style.Pipeline,
		Server: fragment.ServerParams{
			Host:   c.Server.Host,
			Port:   c.Server.Port,
			Routes: c.RouteTable(),
		},
		CI: c.CI,
	}, nil
}

// HistoryPath returns the history database location. Relative DSNs are
// placed under the project root; ":memory:" is kept.
func (c *Config) HistoryPath() (string, error) {
	if c.History.DSN == ":memory:" || filepath.IsAbs(c.History.DSN) {
		return c.History.DSN, nil
	}
	p, err := c.Paths()
	if err != nil {
		return "", err
	}
	return filepath.Join(p.Root(), c.History.DSN), nil
}
