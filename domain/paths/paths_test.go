package paths_test

import (
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"testing"

	"github.com/artpar/bundlegate/domain/paths"
)

func TestResolve_DefaultLayout(t *testing.T) {
	base := t.TempDir()

	p, err := paths.Resolve(base)
	if err != nil {
		t.Fatalf("Resolve failed: %v", err)
	}

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"root", p.Root(), base},
		{"resources", p.Resources(), filepath.Join(base, "src", "main", "resources")},
		{"output", p.Output(), filepath.Join(base, "target", "web")},
		{"modules", p.Modules(), filepath.Join(base, "node_modules")},
		{"theme", p.ThemeConfig(), filepath.Join(base, "src", "main", "resources", "theme", "theme.config")},
	}
	for _, tt := range tests {
		if tt.got != tt.want {
			t.Errorf("%s = %q, want %q", tt.name, tt.got, tt.want)
		}
	}
}

func TestResolve_DoesNotTouchDisk(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "does", "not", "exist")

	p, err := paths.Resolve(missing)
	if err != nil {
		t.Fatalf("Resolve of a missing dir should succeed, got %v", err)
	}
	if p.Root() != missing {
		t.Errorf("Root() = %q, want %q", p.Root(), missing)
	}
}

func TestResolveLayout_Overrides(t *testing.T) {
	base := t.TempDir()
	abs := filepath.Join(t.TempDir(), "out")

	p, err := paths.ResolveLayout(base, paths.Layout{Resources: "web", Output: abs})
	if err != nil {
		t.Fatalf("ResolveLayout failed: %v", err)
	}
	if p.Resources() != filepath.Join(base, "web") {
		t.Errorf("Resources() = %q", p.Resources())
	}
	if p.Output() != abs {
		t.Errorf("Output() = %q, want %q", p.Output(), abs)
	}
	if p.Modules() != filepath.Join(base, "node_modules") {
		t.Errorf("Modules() = %q", p.Modules())
	}
}

func TestDereference(t *testing.T) {
	base := t.TempDir()
	if err := os.MkdirAll(filepath.Join(base, "src", "main", "resources"), 0o755); err != nil {
		t.Fatal(err)
	}
	p, err := paths.Resolve(base)
	if err != nil {
		t.Fatal(err)
	}

	got, err := p.Dereference(paths.Resources)
	if err != nil {
		t.Fatalf("Dereference(resources) failed: %v", err)
	}
	if got != p.Resources() {
		t.Errorf("got %q", got)
	}

	_, err = p.Dereference(paths.Output)
	var rerr *paths.ResolutionError
	if !errors.As(err, &rerr) {
		t.Fatalf("expected ResolutionError, got %v", err)
	}
	if rerr.Location != paths.Output || rerr.Path != p.Output() {
		t.Errorf("unexpected error fields: %+v", rerr)
	}
	if !errors.Is(err, fs.ErrNotExist) {
		t.Errorf("expected wrapped ErrNotExist, got %v", err)
	}

	if _, err := p.Dereference(paths.Location("nowhere")); err == nil {
		t.Error("expected error for unknown location")
	}
}

func TestWithOutput(t *testing.T) {
	p, err := paths.Resolve(t.TempDir())
	if err != nil {
		t.Fatal(err)
	}
	q := p.WithOutput("dist")
	if q.Output() != filepath.Join(p.Root(), "dist") {
		t.Errorf("Output() = %q", q.Output())
	}
	if p.Output() == q.Output() {
		t.Error("WithOutput mutated the receiver")
	}
}
