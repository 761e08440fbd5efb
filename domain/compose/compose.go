package compose

import (
	"encoding/json"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/artpar/bundlegate/domain/fragment"
)

// OverridesName is the source name reported for profile overrides.
const OverridesName = "overrides"

// Effective is the immutable result of composition. Accessors return copies.
type Effective struct {
	cfg     fragment.ConfigFragment
	rules   []compiledRule // evaluation order: last composed first
	routes  []fragment.Route
	sources []string
}

type compiledRule struct {
	rule    fragment.AssetRule
	match   *regexp.Regexp
	exclude []*regexp.Regexp
}

// Compose merges fragments in order, then overrides, into an Effective
// configuration. Alias conflicts and duplicate routes within one fragment fail
// with a ConfigConflictError listing every conflict in sorted order.
func Compose(fragments []fragment.ConfigFragment, overrides fragment.ConfigFragment) (*Effective, error) {
	m := newMerger()
	sources := make([]string, 0, len(fragments)+1)

	for i, f := range fragments {
		if f.Name == "" {
			f.Name = fmt.Sprintf("fragment[%d]", i)
		}
		m.add(f)
		sources = append(sources, f.Name)
	}

	if overrides.Name == "" {
		overrides.Name = OverridesName
	}
	m.add(overrides)
	if !overrides.IsZero() {
		sources = append(sources, overrides.Name)
	}

	if err := NewConflictError(m.conflicts); err != nil {
		return nil, err
	}

	cfg := m.acc
	cfg.Name = ""

	rules, err := compileRules(cfg.AssetRules)
	if err != nil {
		return nil, err
	}

	return &Effective{
		cfg:     cfg,
		rules:   rules,
		routes:  orderRoutes(cfg.Server.Routes),
		sources: sources,
	}, nil
}

func compileRules(rules []fragment.AssetRule) ([]compiledRule, error) {
	out := make([]compiledRule, 0, len(rules))
	for i := len(rules) - 1; i >= 0; i-- {
		r := rules[i]
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("asset rule %q: %w", r.Pattern, err)
		}
		cr := compiledRule{rule: r.Clone(), match: re}
		for _, ex := range r.Exclude {
			exRe, err := regexp.Compile(ex)
			if err != nil {
				return nil, fmt.Errorf("asset rule %q exclude %q: %w", r.Pattern, ex, err)
			}
			cr.exclude = append(cr.exclude, exRe)
		}
		out = append(out, cr)
	}
	return out, nil
}

// orderRoutes sorts most specific first. Specificity is the literal prefix
// before the first wildcard; a pattern without wildcards beats a glob with the
// same prefix. Ties go to the later composed entry.
func orderRoutes(routes []fragment.Route) []fragment.Route {
	type ranked struct {
		route fragment.Route
		idx   int
	}
	rs := make([]ranked, len(routes))
	for i, r := range routes {
		rs[i] = ranked{route: r, idx: i}
	}
	sort.SliceStable(rs, func(i, j int) bool {
		li, gi := literalPrefix(rs[i].route.Path)
		lj, gj := literalPrefix(rs[j].route.Path)
		if li != lj {
			return li > lj
		}
		if gi != gj {
			return !gi
		}
		return rs[i].idx > rs[j].idx
	})
	out := make([]fragment.Route, len(rs))
	for i, r := range rs {
		out[i] = r.route
	}
	return out
}

func literalPrefix(pattern string) (int, bool) {
	if i := strings.IndexAny(pattern, "*?"); i >= 0 {
		return i, true
	}
	return len(pattern), false
}

// Config returns a deep copy of the merged configuration tree.
func (e *Effective) Config() fragment.ConfigFragment { return e.cfg.Clone() }

// Mode returns the build mode.
func (e *Effective) Mode() string { return e.cfg.Mode }

// PublicPath returns the public URL prefix.
func (e *Effective) PublicPath() string { return e.cfg.PublicPath }

// Sources returns the names of the composed fragments in order.
func (e *Effective) Sources() []string { return cloneStrings(e.sources) }

// Aliases returns a copy of the alias table.
func (e *Effective) Aliases() map[string]string {
	out := make(map[string]string, len(e.cfg.Resolution.Aliases))
	for k, v := range e.cfg.Resolution.Aliases {
		out[k] = v
	}
	return out
}

// Entry returns a copy of the entry points.
func (e *Effective) Entry() map[string][]string { return e.cfg.Clone().Entry }

// Server returns a copy of the development server options.
func (e *Effective) Server() fragment.ServerOptions { return e.cfg.Server.Clone() }

// Routes returns the routing table, most specific first.
func (e *Effective) Routes() []fragment.Route {
	out := make([]fragment.Route, len(e.routes))
	copy(out, e.routes)
	return out
}

// Rules returns the asset rules in evaluation order (last composed first).
func (e *Effective) Rules() []fragment.AssetRule {
	out := make([]fragment.AssetRule, len(e.rules))
	for i, r := range e.rules {
		out[i] = r.rule.Clone()
	}
	return out
}

// MatchAsset returns the first rule, in evaluation order, whose pattern matches
// path and whose excludes do not.
func (e *Effective) MatchAsset(path string) (fragment.AssetRule, bool) {
	for _, r := range e.rules {
		if !r.match.MatchString(path) {
			continue
		}
		excluded := false
		for _, ex := range r.exclude {
			if ex.MatchString(path) {
				excluded = true
				break
			}
		}
		if excluded {
			continue
		}
		return r.rule.Clone(), true
	}
	return fragment.AssetRule{}, false
}

// MarshalJSON renders the configuration handed to the external compiler. Asset
// rules and routes are emitted in evaluation order.
func (e *Effective) MarshalJSON() ([]byte, error) {
	cfg := e.cfg.Clone()
	cfg.AssetRules = e.Rules()
	cfg.Server.Routes = e.Routes()
	return json.Marshal(struct {
		fragment.ConfigFragment
		Sources []string `json:"sources"`
	}{cfg, e.sources})
}
