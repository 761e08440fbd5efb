// Package paths computes the canonical filesystem locations shared by all
// configuration fragments. Resolution is pure: nothing is checked on disk until
// a caller dereferences a location.
package paths

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
)

// Location names one of the canonical project directories.
type Location string

const (
	Root      Location = "root"
	Resources Location = "resources"
	Output    Location = "output"
	Modules   Location = "modules"
	Theme     Location = "theme"
)

// Default relative layout, mirroring an sbt-style web client module.
const (
	DefaultResourcesDir = "src/main/resources"
	DefaultOutputDir    = "target/web"
	DefaultModulesDir   = "node_modules"
	DefaultThemeConfig  = "theme/theme.config"
)

// Layout overrides the default relative directories. Empty fields keep defaults.
type Layout struct {
	Resources string
	Output    string
	Modules   string
}

// Paths holds absolute canonical locations (immutable value type).
type Paths struct {
	root      string
	resources string
	output    string
	modules   string
}

// ResolutionError reports that a location does not exist when dereferenced.
type ResolutionError struct {
	Location Location
	Path     string
	Err      error
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("resolve %s: %s: %v", e.Location, e.Path, e.Err)
}

func (e *ResolutionError) Unwrap() error { return e.Err }

// Resolve computes the canonical paths for baseDir using the default layout.
func Resolve(baseDir string) (Paths, error) {
	return ResolveLayout(baseDir, Layout{})
}

// ResolveLayout computes the canonical paths for baseDir. Relative layout
// entries are joined to the project root; absolute ones are kept as is.
func ResolveLayout(baseDir string, layout Layout) (Paths, error) {
	root, err := filepath.Abs(baseDir)
	if err != nil {
		return Paths{}, fmt.Errorf("absolute base dir: %w", err)
	}

	return Paths{
		root:      root,
		resources: under(root, layout.Resources, DefaultResourcesDir),
		output:    under(root, layout.Output, DefaultOutputDir),
		modules:   under(root, layout.Modules, DefaultModulesDir),
	}, nil
}

func under(root, dir, fallback string) string {
	if dir == "" {
		dir = fallback
	}
	if filepath.IsAbs(dir) {
		return filepath.Clean(dir)
	}
	return filepath.Join(root, dir)
}

// Root returns the project root.
func (p Paths) Root() string { return p.root }

// Resources returns the resource root.
func (p Paths) Resources() string { return p.resources }

// Output returns the build output root.
func (p Paths) Output() string { return p.output }

// Modules returns the third-party module search root.
func (p Paths) Modules() string { return p.modules }

// ThemeConfig returns the theme configuration file inside the resource root.
func (p Paths) ThemeConfig() string { return filepath.Join(p.resources, DefaultThemeConfig) }

// Get returns the path for a location without touching the filesystem.
func (p Paths) Get(loc Location) (string, bool) {
	switch loc {
	case Root:
		return p.root, true
	case Resources:
		return p.resources, true
	case Output:
		return p.output, true
	case Modules:
		return p.modules, true
	case Theme:
		return p.ThemeConfig(), true
	}
	return "", false
}

// Dereference returns the path for loc after checking that it exists.
func (p Paths) Dereference(loc Location) (string, error) {
	path, ok := p.Get(loc)
	if !ok {
		return "", &ResolutionError{Location: loc, Err: errors.New("unknown location")}
	}
	if _, err := os.Stat(path); err != nil {
		return "", &ResolutionError{Location: loc, Path: path, Err: err}
	}
	return path, nil
}

// WithOutput returns a copy of p with a different output root.
func (p Paths) WithOutput(dir string) Paths {
	p.output = under(p.root, dir, DefaultOutputDir)
	return p
}
