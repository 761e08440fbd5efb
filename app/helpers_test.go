package app_test

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/artpar/bundlegate/adapters/clock"
	"github.com/artpar/bundlegate/adapters/compiler"
	"github.com/artpar/bundlegate/adapters/idgen"
	"github.com/artpar/bundlegate/adapters/metrics"
	"github.com/artpar/bundlegate/adapters/sqlite"
	"github.com/artpar/bundlegate/adapters/transform"
	"github.com/artpar/bundlegate/app"
	"github.com/artpar/bundlegate/domain/compose"
	"github.com/artpar/bundlegate/domain/fragment"
	"github.com/artpar/bundlegate/domain/paths"
	"github.com/artpar/bundlegate/domain/profile"
	"github.com/artpar/bundlegate/ports"
)

var epoch = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// writeTree writes files (slash separated paths) below root.
func writeTree(t *testing.T, root string, files map[string]string) {
	t.Helper()
	for name, content := range files {
		p := filepath.Join(root, filepath.FromSlash(name))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0755))
		require.NoError(t, os.WriteFile(p, []byte(content), 0644))
	}
}

// newProject lays out a project with the default layout in a temp dir and
// writes files below its resource root.
func newProject(t *testing.T, files map[string]string) app.Project {
	t.Helper()
	p, err := paths.Resolve(t.TempDir())
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(p.Resources(), 0755))
	writeTree(t, p.Resources(), files)
	return app.Project{
		Library: fragment.DefaultLibrary(),
		Options: profile.Options{Paths: p},
	}
}

func lookupProfile(t *testing.T, name string) profile.Profile {
	t.Helper()
	p, ok := profile.Lookup(name)
	require.True(t, ok, "profile %s", name)
	return p
}

func composeFor(t *testing.T, name string, proj app.Project) *compose.Effective {
	t.Helper()
	eff, err := lookupProfile(t, name).Compose(proj.Library, proj.Options)
	require.NoError(t, err)
	return eff
}

func newEmitter() *app.Emitter {
	return app.NewEmitter(transform.NewRegistry(), zerolog.Nop(), 2)
}

func newHistory(t *testing.T) *sqlite.HistoryStore {
	t.Helper()
	db, err := sqlite.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	require.NoError(t, db.Migrate(context.Background()))
	return sqlite.NewHistoryStore(db)
}

type buildFixture struct {
	svc      *app.BuildService
	history  *sqlite.HistoryStore
	metrics  *metrics.Collector
	compiler *fakeCompiler
}

func newBuildFixture(t *testing.T) *buildFixture {
	t.Helper()
	f := &buildFixture{
		history:  newHistory(t),
		metrics:  metrics.NewWithRegistry(prometheus.NewRegistry()),
		compiler: &fakeCompiler{},
	}
	f.svc = app.NewBuildService(app.BuildDeps{
		Compiler: f.compiler,
		Emitter:  newEmitter(),
		History:  f.history,
		IDGen:    idgen.NewSequential("build-"),
		Clock:    clock.NewTicking(epoch, time.Second),
		Metrics:  f.metrics,
		Logger:   zerolog.Nop(),
	})
	return f
}

// fakeCompiler records requests and fails while err is set.
type fakeCompiler struct {
	mu       sync.Mutex
	requests []ports.CompileRequest
	err      error
}

func (c *fakeCompiler) Compile(ctx context.Context, req ports.CompileRequest) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.requests = append(c.requests, req)
	if c.err != nil {
		return c.err
	}
	return compiler.Noop{}.Compile(ctx, req)
}

func (c *fakeCompiler) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *fakeCompiler) last() ports.CompileRequest {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.requests[len(c.requests)-1]
}
