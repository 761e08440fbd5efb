package bootstrap

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"

	apihttp "github.com/artpar/bundlegate/adapters/http"
	"github.com/artpar/bundlegate/adapters/idgen"
	"github.com/artpar/bundlegate/app"
	"github.com/artpar/bundlegate/config"
	"github.com/artpar/bundlegate/domain/compose"
	"github.com/artpar/bundlegate/domain/paths"
	"github.com/artpar/bundlegate/domain/profile"
	"github.com/artpar/bundlegate/domain/route"
)

// ServeOptions configures the development server.
type ServeOptions struct {
	// Profile defaults to development.
	Profile string
	// Listener replaces listening on the configured address.
	Listener net.Listener
	// ShutdownTimeout bounds graceful shutdown. Defaults to 30s.
	ShutdownTimeout time.Duration
	// DisableConfigReload ignores project file changes.
	DisableConfigReload bool
}

// Serve runs the development server until ctx is done: an initial build,
// the request router, the source watcher and, when the project file exists,
// configuration hot reload.
func (a *App) Serve(ctx context.Context, opts ServeOptions) error {
	if opts.Profile == "" {
		opts.Profile = profile.Development
	}
	if opts.ShutdownTimeout <= 0 {
		opts.ShutdownTimeout = 30 * time.Second
	}

	cfg := a.Config()
	p, err := cfg.Profile(opts.Profile)
	if err != nil {
		return err
	}
	proj, err := Project(cfg)
	if err != nil {
		return err
	}
	eff, err := a.Builds.Compose(p, proj)
	if err != nil {
		return err
	}
	table, err := route.FromEffective(eff)
	if err != nil {
		return fmt.Errorf("route table: %w", err)
	}

	dirs := proj.Options.Paths
	resources, err := dirs.Dereference(paths.Resources)
	if err != nil {
		return err
	}

	gens := app.NewGenerations(dirs.Output())
	if err := gens.Clean(); err != nil {
		return fmt.Errorf("clean previous builds: %w", err)
	}

	session := app.NewDevSession(a.Builds, gens, p, proj, a.Logger)
	if _, err := session.Rebuild(ctx, nil); err != nil {
		a.Logger.Error().Err(err).Msg("initial build failed, waiting for changes")
	}

	server := eff.Server()
	router := apihttp.NewRouter(apihttp.RouterConfig{
		Table:              table,
		Site:               gens,
		ContentBase:        contentBase(eff, cfg, dirs),
		HistoryAPIFallback: server.HistoryAPIFallback != nil && *server.HistoryAPIFallback,
		LiveReload:         server.Hot != nil && *server.Hot,
		WriteTimeout:       cfg.Server.WriteTimeout,
		Upstream: apihttp.UpstreamConfig{
			DialTimeout:     cfg.Upstream.Timeout,
			MaxIdleConns:    cfg.Upstream.MaxIdleConns,
			IdleConnTimeout: cfg.Upstream.IdleConnTimeout,
		},
		Metrics: a.Metrics,
		IDs:     idgen.UUID{},
	}, a.Logger)
	session.SetReloader(router)

	addr := cfg.ServerAddr()
	if server.Port != 0 {
		addr = net.JoinHostPort(server.Host, fmt.Sprint(server.Port))
	}
	srv := apihttp.NewServer(addr, router, cfg.Server.ReadTimeout)

	l := opts.Listener
	if l == nil {
		l, err = net.Listen("tcp", addr)
		if err != nil {
			router.Close()
			return fmt.Errorf("listen: %w", err)
		}
	}

	g, gctx := errgroup.WithContext(ctx)

	if a.fromFile && !opts.DisableConfigReload {
		holder, err := config.NewHolder(a.opts.ConfigPath, a.Logger)
		if err != nil {
			l.Close()
			router.Close()
			return err
		}
		defer holder.Stop()
		holder.OnChange(a.applyConfig(gctx, session, opts.Profile))
		holder.OnError(func(error) {
			if a.Metrics != nil {
				a.Metrics.ConfigReloadErrors.Inc()
			}
		})
		if err := holder.WatchFile(); err != nil {
			a.Logger.Warn().Err(err).Msg("config hot reload disabled")
		}
		holder.WatchSignals()
	}

	watcher := app.NewWatcher(watchRoots(resources, cfg, dirs), []string{dirs.Output()}, cfg.Watch.Debounce, a.Logger, session.OnChange)

	g.Go(func() error {
		a.Logger.Info().
			Str("addr", l.Addr().String()).
			Str("profile", opts.Profile).
			Int("routes", table.Len()).
			Msg("development server listening")
		return srv.Serve(l)
	})
	g.Go(func() error {
		return watcher.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		a.Logger.Info().Msg("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), opts.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			a.Logger.Error().Err(err).Msg("http server shutdown error")
		}
		return nil
	})

	err = g.Wait()
	a.Logger.Info().Msg("shutdown complete")
	return err
}

// applyConfig returns the reload listener: reloadable settings take effect
// and the session rebuilds.
func (a *App) applyConfig(ctx context.Context, session *app.DevSession, profileName string) func(*config.Config) {
	return func(cfg *config.Config) {
		fail := func(err error) {
			a.Logger.Error().Err(err).Msg("reloaded configuration rejected")
			if a.Metrics != nil {
				a.Metrics.ConfigReloadErrors.Inc()
			}
		}

		p, err := cfg.Profile(profileName)
		if err != nil {
			fail(err)
			return
		}
		proj, err := Project(cfg)
		if err != nil {
			fail(err)
			return
		}
		builds, err := a.newBuildService(cfg)
		if err != nil {
			fail(err)
			return
		}

		a.setConfig(cfg)
		SetLogLevel(cfg.Logging.Level)
		session.SetBuildService(builds)
		session.Update(p, proj)
		if a.Metrics != nil {
			a.Metrics.ConfigReloads.Inc()
		}
		session.OnChange(ctx, nil)
	}
}

// contentBase returns the extra static roots: the composed content base
// without the output root, which the live generation replaces, plus the
// project's own.
func contentBase(eff *compose.Effective, cfg *config.Config, dirs paths.Paths) []string {
	var out []string
	for _, dir := range eff.Server().ContentBase {
		if filepath.Clean(dir) != filepath.Clean(dirs.Output()) {
			out = append(out, dir)
		}
	}
	for _, dir := range cfg.Server.ContentBase {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(dirs.Root(), dir)
		}
		out = append(out, dir)
	}
	return out
}

func watchRoots(resources string, cfg *config.Config, dirs paths.Paths) []string {
	roots := []string{resources}
	for _, dir := range cfg.Watch.Paths {
		if !filepath.IsAbs(dir) {
			dir = filepath.Join(dirs.Root(), dir)
		}
		if _, err := os.Stat(dir); err == nil {
			roots = append(roots, dir)
		}
	}
	return roots
}
