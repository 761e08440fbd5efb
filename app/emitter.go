// Package app provides application services that orchestrate domain logic:
// builds, asset emission, source watching and size reports.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path"
	"path/filepath"
	"runtime"
	"slices"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/artpar/bundlegate/adapters/transform"
	"github.com/artpar/bundlegate/domain/asset"
	"github.com/artpar/bundlegate/domain/compose"
	"github.com/artpar/bundlegate/domain/fragment"
	"github.com/artpar/bundlegate/ports"
)

// ManifestFile maps every emitted source to its output name.
const ManifestFile = "manifest.json"

// Emission is the outcome of running the asset rules over a source tree.
type Emission struct {
	// Assets are sorted by source path.
	Assets []ports.AssetSize
	// Manifest maps source paths to output paths, both slash separated and
	// relative to their roots.
	Manifest map[string]string
	// InjectedStyles are URL paths of style sheets a development page links
	// instead of extracting them.
	InjectedStyles []string
}

// DuplicateOutputError reports two sources rendering to the same output.
type DuplicateOutputError struct {
	Output  string
	Sources [2]string
}

func (e *DuplicateOutputError) Error() string {
	return fmt.Sprintf("output %s is produced by both %s and %s", e.Output, e.Sources[0], e.Sources[1])
}

// Emitter executes asset rules: rule lookup, transform pipeline, naming and
// output write.
type Emitter struct {
	transforms  ports.TransformRegistry
	logger      zerolog.Logger
	concurrency int
}

// NewEmitter creates an emitter. concurrency <= 0 means GOMAXPROCS.
func NewEmitter(transforms ports.TransformRegistry, logger zerolog.Logger, concurrency int) *Emitter {
	if concurrency <= 0 {
		concurrency = runtime.GOMAXPROCS(0)
	}
	return &Emitter{transforms: transforms, logger: logger, concurrency: concurrency}
}

type emitted struct {
	source string
	output string
	bytes  int64
	inject bool
}

// Emit runs eff's asset rules over every file under srcRoot and writes the
// results below outDir. Files no rule matches are skipped. The manifest is
// written last, so its presence marks a complete emission.
func (e *Emitter) Emit(ctx context.Context, eff *compose.Effective, srcRoot, outDir string) (*Emission, error) {
	sources, err := walkSources(srcRoot)
	if err != nil {
		return nil, err
	}

	var (
		mu      sync.Mutex
		results []emitted
		owners  = make(map[string]string)
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)

	for _, rel := range sources {
		rule, ok := eff.MatchAsset(rel)
		if !ok {
			e.logger.Debug().Str("source", rel).Msg("no asset rule matches, skipping")
			continue
		}

		g.Go(func() error {
			out, err := e.emitOne(gctx, rule, srcRoot, outDir, rel, &mu, owners)
			if err != nil {
				return err
			}
			mu.Lock()
			results = append(results, out)
			mu.Unlock()
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}

	sort.Slice(results, func(i, j int) bool { return results[i].source < results[j].source })

	em := &Emission{
		Assets:   make([]ports.AssetSize, 0, len(results)),
		Manifest: make(map[string]string, len(results)),
	}
	for _, r := range results {
		em.Assets = append(em.Assets, ports.AssetSize{Source: r.source, Output: r.output, Bytes: r.bytes})
		em.Manifest[r.source] = r.output
		if r.inject {
			em.InjectedStyles = append(em.InjectedStyles, "/"+r.output)
		}
	}

	if err := writeManifest(outDir, em.Manifest); err != nil {
		return nil, err
	}
	return em, nil
}

func (e *Emitter) emitOne(ctx context.Context, rule fragment.AssetRule, srcRoot, outDir, rel string, mu *sync.Mutex, owners map[string]string) (emitted, error) {
	src := filepath.Join(srcRoot, filepath.FromSlash(rel))
	data, err := os.ReadFile(src)
	if err != nil {
		return emitted{}, fmt.Errorf("read %s: %w", rel, err)
	}

	out, err := transform.Run(ctx, e.transforms, rule.Pipeline, src, data)
	if err != nil {
		return emitted{}, err
	}

	name, err := OutputName(rule.Naming, rel, out)
	if err != nil {
		return emitted{}, fmt.Errorf("%s: %w", rel, err)
	}

	mu.Lock()
	if prev, dup := owners[name]; dup {
		mu.Unlock()
		// Sorted, so the message does not depend on which source won the race.
		sources := [2]string{prev, rel}
		if sources[1] < sources[0] {
			sources[0], sources[1] = sources[1], sources[0]
		}
		return emitted{}, &DuplicateOutputError{Output: name, Sources: sources}
	}
	owners[name] = rel
	mu.Unlock()

	dst := filepath.Join(outDir, filepath.FromSlash(name))
	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return emitted{}, fmt.Errorf("create output dir: %w", err)
	}
	if err := os.WriteFile(dst, out, 0644); err != nil {
		return emitted{}, fmt.Errorf("write %s: %w", name, err)
	}

	e.logger.Debug().Str("source", rel).Str("output", name).Int("bytes", len(out)).Msg("asset emitted")

	return emitted{
		source: rel,
		output: name,
		bytes:  int64(len(out)),
		inject: slices.Contains(rule.Pipeline, fragment.TransformStyleInject),
	}, nil
}

// OutputName renders the output path for source rel. Unless the scheme
// places [path] itself, the output keeps the source's directory.
func OutputName(scheme, rel string, content []byte) (string, error) {
	name, err := asset.Render(scheme, rel, content)
	if err != nil {
		return "", err
	}
	if strings.Contains(scheme, "[path]") {
		return path.Clean(name), nil
	}
	return path.Join(path.Dir(rel), name), nil
}

// walkSources lists regular files under root, slash separated and sorted.
// Hidden files and directories are skipped.
func walkSources(root string) ([]string, error) {
	var out []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if p != root && strings.HasPrefix(d.Name(), ".") {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if !d.Type().IsRegular() {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		out = append(out, filepath.ToSlash(rel))
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("walk %s: %w", root, err)
	}
	sort.Strings(out)
	return out, nil
}

func writeManifest(outDir string, manifest map[string]string) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(outDir, 0755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	return os.WriteFile(filepath.Join(outDir, ManifestFile), append(data, '\n'), 0644)
}
