// Package bootstrap wires all dependencies and runs builds and the
// development server. Configuration comes from the project file, with
// environment overrides applied on load.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"

	"github.com/artpar/bundlegate/adapters/clock"
	"github.com/artpar/bundlegate/adapters/compiler"
	"github.com/artpar/bundlegate/adapters/idgen"
	"github.com/artpar/bundlegate/adapters/metrics"
	"github.com/artpar/bundlegate/adapters/sqlite"
	"github.com/artpar/bundlegate/adapters/transform"
	"github.com/artpar/bundlegate/app"
	"github.com/artpar/bundlegate/config"
	"github.com/artpar/bundlegate/domain/compose"
	"github.com/artpar/bundlegate/ports"
)

// Options configures application initialization.
type Options struct {
	// ConfigPath is the project file. Empty means config.DefaultFile.
	ConfigPath string
	// RequireConfig fails when the file is missing instead of using defaults.
	RequireConfig bool
	// LogOutput receives log lines. Defaults to stderr.
	LogOutput io.Writer
	// Stdout and Stderr receive the build executor's output.
	Stdout io.Writer
	Stderr io.Writer
}

// App represents the wired application.
type App struct {
	Logger  zerolog.Logger
	DB      *sqlite.DB
	Metrics *metrics.Collector
	Builds  *app.BuildService
	History ports.HistoryStore

	mu  sync.RWMutex
	cfg *config.Config
	// fromFile is set when the project file exists and can be watched.
	fromFile bool
	opts     Options
}

// New loads the configuration and wires the build pipeline.
func New(opts Options) (*App, error) {
	if opts.ConfigPath == "" {
		opts.ConfigPath = config.DefaultFile
	}
	if opts.LogOutput == nil {
		opts.LogOutput = os.Stderr
	}
	if opts.Stdout == nil {
		opts.Stdout = os.Stdout
	}
	if opts.Stderr == nil {
		opts.Stderr = os.Stderr
	}

	a := &App{opts: opts}

	if err := a.initConfig(); err != nil {
		return nil, err
	}
	cfg := a.Config()

	a.Logger = NewLogger(cfg.Logging, opts.LogOutput)
	a.Logger.Debug().Str("config", opts.ConfigPath).Bool("from_file", a.fromFile).Msg("initializing bundlegate")

	if cfg.Metrics.Enabled {
		a.Metrics = metrics.New()
	}

	if err := a.initHistory(); err != nil {
		return nil, fmt.Errorf("init history: %w", err)
	}

	builds, err := a.newBuildService(cfg)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.Builds = builds

	return a, nil
}

func (a *App) initConfig() error {
	_, statErr := os.Stat(a.opts.ConfigPath)
	switch {
	case statErr == nil:
		cfg, err := config.Load(a.opts.ConfigPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
		a.fromFile = true
		return nil
	case errors.Is(statErr, fs.ErrNotExist) && !a.opts.RequireConfig:
		cfg, err := config.LoadWithFallback(a.opts.ConfigPath)
		if err != nil {
			return err
		}
		a.cfg = cfg
		return nil
	default:
		return fmt.Errorf("read config: %w", statErr)
	}
}

func (a *App) initHistory() error {
	dsn, err := a.Config().HistoryPath()
	if err != nil {
		return err
	}

	db, err := sqlite.Open(dsn)
	if err != nil {
		return err
	}

	if err := db.Migrate(context.Background()); err != nil {
		db.Close()
		return fmt.Errorf("migrate: %w", err)
	}

	a.DB = db
	a.History = sqlite.NewHistoryStore(db)
	return nil
}

// newBuildService builds the compile and emit pipeline for cfg. Transform
// and compiler commands run in the project root.
func (a *App) newBuildService(cfg *config.Config) (*app.BuildService, error) {
	p, err := cfg.Paths()
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(cfg.Transforms))
	for name := range cfg.Transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	extra := make([]ports.Transform, 0, len(names))
	for _, name := range names {
		extra = append(extra, transform.Command(name, cfg.Transforms[name].Command, p.Root()))
	}
	registry := transform.NewRegistry(extra...)

	var comp ports.Compiler = compiler.Noop{}
	if len(cfg.Compiler.Command) > 0 {
		comp = compiler.NewExec(cfg.Compiler.Command, a.Logger, compiler.WithOutput(a.opts.Stdout, a.opts.Stderr))
	} else {
		a.Logger.Debug().Msg("no compiler command configured, running the asset pipeline only")
	}

	return app.NewBuildService(app.BuildDeps{
		Compiler: comp,
		Emitter:  app.NewEmitter(registry, a.Logger, 0),
		History:  a.History,
		IDGen:    idgen.UUID{},
		Clock:    clock.Real{},
		Metrics:  a.Metrics,
		Logger:   a.Logger,
	}), nil
}

// Config returns the current configuration.
func (a *App) Config() *config.Config {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return a.cfg
}

func (a *App) setConfig(cfg *config.Config) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.cfg = cfg
}

// Project returns the build inputs of cfg.
func Project(cfg *config.Config) (app.Project, error) {
	lib, err := cfg.Library()
	if err != nil {
		return app.Project{}, err
	}
	opts, err := cfg.ProfileOptions()
	if err != nil {
		return app.Project{}, err
	}
	return app.Project{Library: lib, Options: opts}, nil
}

// Build runs one build of the named profile into the project output root.
func (a *App) Build(ctx context.Context, profileName string) (*app.BuildResult, error) {
	cfg := a.Config()
	p, err := cfg.Profile(profileName)
	if err != nil {
		return nil, err
	}
	proj, err := Project(cfg)
	if err != nil {
		return nil, err
	}
	return a.Builds.Build(ctx, app.BuildRequest{Profile: p, Project: proj})
}

// Effective composes the named profile without building it.
func (a *App) Effective(profileName string) (*compose.Effective, error) {
	cfg := a.Config()
	p, err := cfg.Profile(profileName)
	if err != nil {
		return nil, err
	}
	proj, err := Project(cfg)
	if err != nil {
		return nil, err
	}
	return a.Builds.Compose(p, proj)
}

// ProfileNames returns every profile the project can build.
func (a *App) ProfileNames() []string {
	return a.Config().ProfileNames()
}

// Weigh writes the size report of the named profile's latest build.
func (a *App) Weigh(ctx context.Context, profileName string, w io.Writer) error {
	report, err := app.Weigh(ctx, a.History, profileName)
	if err != nil {
		return err
	}
	return report.Render(w)
}

// Close releases the application's resources.
func (a *App) Close() error {
	if a.DB != nil {
		if err := a.DB.Close(); err != nil {
			a.Logger.Error().Err(err).Msg("database close error")
			return err
		}
	}
	return nil
}
