package app

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog"
)

// Watcher watches source trees and reports changed files in debounced
// batches. Batches are delivered one at a time: a handler run completes
// before the next starts, and changes arriving meanwhile form the next batch.
type Watcher struct {
	roots    []string
	ignore   []string
	debounce time.Duration
	handle   func(ctx context.Context, changed []string)
	logger   zerolog.Logger

	mu      sync.Mutex
	pending map[string]struct{}
	kick    chan struct{}
}

// NewWatcher creates a watcher over roots. Paths under ignore (typically the
// output root) and hidden entries never trigger a batch.
func NewWatcher(roots, ignore []string, debounce time.Duration, logger zerolog.Logger, handle func(ctx context.Context, changed []string)) *Watcher {
	if debounce <= 0 {
		debounce = 100 * time.Millisecond
	}
	return &Watcher{
		roots:    roots,
		ignore:   ignore,
		debounce: debounce,
		handle:   handle,
		logger:   logger,
		pending:  make(map[string]struct{}),
		kick:     make(chan struct{}, 1),
	}
}

// Run watches until ctx is done.
func (w *Watcher) Run(ctx context.Context) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create file watcher: %w", err)
	}
	defer watcher.Close()

	for _, root := range w.roots {
		if err := w.addTree(watcher, root); err != nil {
			return err
		}
	}
	w.logger.Info().Strs("roots", w.roots).Msg("watching sources")

	done := make(chan struct{})
	go func() {
		defer close(done)
		w.deliver(ctx)
	}()

	var debounceTimer *time.Timer
	defer func() {
		if debounceTimer != nil {
			debounceTimer.Stop()
		}
		<-done
	}()

	for {
		select {
		case <-ctx.Done():
			return nil

		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if w.ignored(event.Name) {
				continue
			}

			// React to write/create/remove/rename events
			// (Remove/Rename are common in atomic saves)
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
				continue
			}

			if event.Op&fsnotify.Create != 0 {
				if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
					if err := w.addTree(watcher, event.Name); err != nil {
						w.logger.Warn().Err(err).Str("dir", event.Name).Msg("watch new directory")
					}
				}
			}

			w.mu.Lock()
			w.pending[event.Name] = struct{}{}
			w.mu.Unlock()

			// Reset debounce timer
			if debounceTimer != nil {
				debounceTimer.Stop()
			}
			debounceTimer = time.AfterFunc(w.debounce, func() {
				select {
				case w.kick <- struct{}{}:
				default:
				}
			})

		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Error().Err(err).Msg("file watcher error")
		}
	}
}

func (w *Watcher) deliver(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-w.kick:
		}

		w.mu.Lock()
		changed := make([]string, 0, len(w.pending))
		for p := range w.pending {
			changed = append(changed, p)
		}
		w.pending = make(map[string]struct{})
		w.mu.Unlock()

		if len(changed) == 0 {
			continue
		}
		sort.Strings(changed)
		w.logger.Debug().Strs("changed", changed).Msg("sources changed")
		w.handle(ctx, changed)
	}
}

func (w *Watcher) addTree(watcher *fsnotify.Watcher, root string) error {
	return filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if p != root && w.ignored(p) {
			return filepath.SkipDir
		}
		if err := watcher.Add(p); err != nil {
			return fmt.Errorf("watch %s: %w", p, err)
		}
		return nil
	})
}

func (w *Watcher) ignored(p string) bool {
	if strings.HasPrefix(filepath.Base(p), ".") {
		return true
	}
	for _, dir := range w.ignore {
		if p == dir || strings.HasPrefix(p, dir+string(filepath.Separator)) {
			return true
		}
	}
	return false
}
