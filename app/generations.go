package app

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
)

const generationPrefix = ".gen-"

// Generations keeps development builds in separate directories below base
// and swaps the live one atomically, so the router never serves a half
// written build. It implements the router's Site.
type Generations struct {
	base string
	keep int

	seq atomic.Uint64

	mu      sync.RWMutex
	current string
	styles  []string
	order   []string
}

// NewGenerations manages generation directories under base. The live
// generation and its predecessor are kept; older ones are removed on swap.
func NewGenerations(base string) *Generations {
	return &Generations{base: base, keep: 2}
}

// Next creates an empty directory for the next generation.
func (g *Generations) Next() (string, error) {
	dir := filepath.Join(g.base, fmt.Sprintf("%s%06d", generationPrefix, g.seq.Add(1)))
	if err := os.RemoveAll(dir); err != nil {
		return "", fmt.Errorf("clear generation: %w", err)
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return "", fmt.Errorf("create generation: %w", err)
	}
	return dir, nil
}

// Swap makes dir the live generation.
func (g *Generations) Swap(dir string, injectedStyles []string) {
	g.mu.Lock()
	g.current = dir
	g.styles = append([]string(nil), injectedStyles...)
	g.order = append(g.order, dir)
	var stale []string
	if len(g.order) > g.keep {
		stale = g.order[:len(g.order)-g.keep]
		g.order = append([]string(nil), g.order[len(g.order)-g.keep:]...)
	}
	g.mu.Unlock()

	for _, d := range stale {
		os.RemoveAll(d)
	}
}

// Discard removes a generation that failed to build.
func (g *Generations) Discard(dir string) {
	g.mu.RLock()
	live := dir == g.current
	g.mu.RUnlock()
	if !live {
		os.RemoveAll(dir)
	}
}

// Root returns the live generation, or "" before the first swap.
func (g *Generations) Root() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.current
}

// InjectedStyles returns the live generation's injected style sheets.
func (g *Generations) InjectedStyles() []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return append([]string(nil), g.styles...)
}

// Clean removes every generation directory left below base, e.g. by a
// previous run.
func (g *Generations) Clean() error {
	entries, err := os.ReadDir(g.base)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return err
	}
	var names []string
	for _, e := range entries {
		if e.IsDir() && strings.HasPrefix(e.Name(), generationPrefix) {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)
	for _, n := range names {
		if err := os.RemoveAll(filepath.Join(g.base, n)); err != nil {
			return err
		}
	}
	return nil
}
