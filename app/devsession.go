package app

import (
	"context"
	"path/filepath"
	"slices"
	"sync"

	"github.com/rs/zerolog"

	apihttp "github.com/artpar/bundlegate/adapters/http"
	"github.com/artpar/bundlegate/domain/fragment"
	"github.com/artpar/bundlegate/domain/profile"
)

// Reloader tells open pages that a new build is live.
type Reloader interface {
	Reload(msg apihttp.Message)
}

// DevSession owns the development rebuild cycle: every rebuild goes into a
// fresh generation that is swapped in only after it completes.
type DevSession struct {
	gens   *Generations
	logger zerolog.Logger

	// rebuildMu serializes rebuilds from the watcher and config reloads.
	rebuildMu sync.Mutex

	mu       sync.Mutex
	builds   *BuildService
	profile  profile.Profile
	project  Project
	reloader Reloader
	last     *BuildResult
}

// NewDevSession creates a session for p.
func NewDevSession(builds *BuildService, gens *Generations, p profile.Profile, proj Project, logger zerolog.Logger) *DevSession {
	return &DevSession{
		builds:  builds,
		gens:    gens,
		profile: p,
		project: proj,
		logger:  logger,
	}
}

// SetReloader sets where reload notices go. The router is built after the
// first build, so it is attached late.
func (d *DevSession) SetReloader(r Reloader) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.reloader = r
}

// Update replaces the profile and project inputs used by later rebuilds.
func (d *DevSession) Update(p profile.Profile, proj Project) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.profile = p
	d.project = proj
}

// SetBuildService replaces the pipeline used by later rebuilds, e.g. after
// the transform or compiler commands changed.
func (d *DevSession) SetBuildService(b *BuildService) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.builds = b
}

// Last returns the live build, or nil before the first success.
func (d *DevSession) Last() *BuildResult {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.last
}

// Rebuild builds into a new generation and swaps it in. On failure the
// previous generation keeps being served. changed lists the files that
// triggered the rebuild, if any.
func (d *DevSession) Rebuild(ctx context.Context, changed []string) (*BuildResult, error) {
	d.rebuildMu.Lock()
	defer d.rebuildMu.Unlock()

	d.mu.Lock()
	p, proj, builds := d.profile, d.project, d.builds
	d.mu.Unlock()

	dir, err := d.gens.Next()
	if err != nil {
		return nil, err
	}

	res, err := builds.Build(ctx, BuildRequest{Profile: p, Project: proj, OutputDir: dir})
	if err != nil {
		d.gens.Discard(dir)
		return nil, err
	}
	d.gens.Swap(dir, res.InjectedStyles)

	d.mu.Lock()
	d.last = res
	reloader := d.reloader
	d.mu.Unlock()

	if reloader != nil {
		reloader.Reload(reloadMessage(res, proj.Options.Paths.Resources(), changed))
	}
	return res, nil
}

// OnChange is the watcher handler: rebuild and log failures.
func (d *DevSession) OnChange(ctx context.Context, changed []string) {
	if _, err := d.Rebuild(ctx, changed); err != nil && ctx.Err() == nil {
		d.logger.Error().Err(err).Strs("changed", changed).Msg("rebuild failed, serving previous build")
	}
}

// reloadMessage asks pages to refresh only their injected style sheets when
// every changed file is an injected style; otherwise to reload.
func reloadMessage(res *BuildResult, resources string, changed []string) apihttp.Message {
	if len(changed) == 0 || len(res.InjectedStyles) == 0 {
		return apihttp.Message{Type: apihttp.ReloadPage}
	}
	for _, c := range changed {
		rel, err := filepath.Rel(resources, c)
		if err != nil || !filepath.IsLocal(rel) {
			return apihttp.Message{Type: apihttp.ReloadPage}
		}
		rule, ok := res.Effective.MatchAsset(filepath.ToSlash(rel))
		if !ok || !slices.Contains(rule.Pipeline, fragment.TransformStyleInject) {
			return apihttp.Message{Type: apihttp.ReloadPage}
		}
	}
	return apihttp.Message{Type: apihttp.ReloadStyles, Styles: res.InjectedStyles}
}
