package app

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/artpar/bundlegate/adapters/metrics"
	"github.com/artpar/bundlegate/domain/compose"
	"github.com/artpar/bundlegate/domain/fragment"
	"github.com/artpar/bundlegate/domain/paths"
	"github.com/artpar/bundlegate/domain/profile"
	"github.com/artpar/bundlegate/ports"
)

// Project is the project-level input to every build: the fragment library
// and the options profiles compose with. It is replaced on config reload.
type Project struct {
	Library fragment.Library
	Options profile.Options
}

// BuildRequest asks for one build.
type BuildRequest struct {
	Profile profile.Profile
	Project Project
	// OutputDir overrides the project's output root (development
	// generations). Empty means the project output root.
	OutputDir string
}

// BuildResult describes a successful build.
type BuildResult struct {
	ID             string
	Profile        string
	Effective      *compose.Effective
	OutputDir      string
	Assets         []ports.AssetSize
	InjectedStyles []string
	Duration       time.Duration
}

// BuildDeps contains dependencies for BuildService.
type BuildDeps struct {
	Compiler ports.Compiler
	Emitter  *Emitter
	// History is optional.
	History ports.HistoryStore
	IDGen   ports.IDGenerator
	Clock   ports.Clock
	Metrics *metrics.Collector
	Logger  zerolog.Logger
}

// BuildService runs builds: compose, compile, emit, record. Builds are
// serialized; a build completes or fails before the next one starts.
type BuildService struct {
	mu sync.Mutex

	compiler ports.Compiler
	emitter  *Emitter
	history  ports.HistoryStore
	idGen    ports.IDGenerator
	clock    ports.Clock
	metrics  *metrics.Collector
	logger   zerolog.Logger
}

// NewBuildService creates a new build service.
func NewBuildService(deps BuildDeps) *BuildService {
	return &BuildService{
		compiler: deps.Compiler,
		emitter:  deps.Emitter,
		history:  deps.History,
		idGen:    deps.IDGen,
		clock:    deps.Clock,
		metrics:  deps.Metrics,
		logger:   deps.Logger,
	}
}

// Compose returns the effective configuration of p. Conflicts are counted.
func (s *BuildService) Compose(p profile.Profile, proj Project) (*compose.Effective, error) {
	eff, err := p.Compose(proj.Library, proj.Options)
	if err != nil {
		var conflict *compose.ConfigConflictError
		if s.metrics != nil && errors.As(err, &conflict) {
			s.metrics.CompositionConflict.Inc()
		}
		return nil, err
	}
	return eff, nil
}

// Build runs one build and records it in the history store, failed or not.
func (s *BuildService) Build(ctx context.Context, req BuildRequest) (*BuildResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.idGen.New()
	started := s.clock.Now()
	log := s.logger.With().Str("build_id", id).Str("profile", req.Profile.Name).Logger()

	res, err := s.run(ctx, id, req, log)

	finished := s.clock.Now()
	rec := ports.BuildRecord{
		ID:         id,
		Profile:    req.Profile.Name,
		StartedAt:  started,
		FinishedAt: finished,
		Succeeded:  err == nil,
	}
	if err != nil {
		rec.Error = err.Error()
	} else {
		rec.Assets = res.Assets
		res.Duration = finished.Sub(started)
	}
	s.record(ctx, rec, log)
	s.observe(req.Profile.Name, rec, finished.Sub(started))

	if err != nil {
		log.Error().Err(err).Msg("build failed")
		return nil, err
	}
	log.Info().
		Int("assets", len(res.Assets)).
		Dur("duration", res.Duration).
		Str("output", res.OutputDir).
		Msg("build finished")
	return res, nil
}

func (s *BuildService) run(ctx context.Context, id string, req BuildRequest, log zerolog.Logger) (*BuildResult, error) {
	eff, err := s.Compose(req.Profile, req.Project)
	if err != nil {
		return nil, err
	}
	log.Debug().Strs("fragments", eff.Sources()).Msg("configuration composed")

	p := req.Project.Options.Paths
	outDir := req.OutputDir
	if outDir == "" {
		outDir = p.Output()
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return nil, fmt.Errorf("create output: %w", err)
	}

	cfg, err := json.Marshal(eff)
	if err != nil {
		return nil, fmt.Errorf("encode effective config: %w", err)
	}
	if err := s.compiler.Compile(ctx, ports.CompileRequest{
		BuildID:   id,
		Profile:   req.Profile.Name,
		Config:    cfg,
		OutputDir: outDir,
		WorkDir:   p.Root(),
	}); err != nil {
		return nil, err
	}
	log.Debug().Msg("compiler finished")

	resources, err := p.Dereference(paths.Resources)
	if err != nil {
		return nil, err
	}
	em, err := s.emitter.Emit(ctx, eff, resources, outDir)
	if err != nil {
		return nil, fmt.Errorf("emit assets: %w", err)
	}

	return &BuildResult{
		ID:             id,
		Profile:        req.Profile.Name,
		Effective:      eff,
		OutputDir:      outDir,
		Assets:         em.Assets,
		InjectedStyles: em.InjectedStyles,
	}, nil
}

func (s *BuildService) record(ctx context.Context, rec ports.BuildRecord, log zerolog.Logger) {
	if s.history == nil {
		return
	}
	// A canceled build is still recorded.
	if err := s.history.Record(context.WithoutCancel(ctx), rec); err != nil {
		log.Warn().Err(err).Msg("record build history")
	}
}

func (s *BuildService) observe(profileName string, rec ports.BuildRecord, d time.Duration) {
	if s.metrics == nil {
		return
	}
	result := "succeeded"
	if !rec.Succeeded {
		result = "failed"
	}
	s.metrics.BuildsTotal.WithLabelValues(profileName, result).Inc()
	s.metrics.BuildDuration.WithLabelValues(profileName).Observe(d.Seconds())
	s.metrics.AssetsEmitted.WithLabelValues(profileName).Add(float64(len(rec.Assets)))
}
