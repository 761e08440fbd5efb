// Package compose merges ordered configuration fragments into one immutable
// effective build configuration.
//
// Merge rules, applied fragment by fragment and then to the overrides:
//   - scalars (mode, publicPath, devtool, output names, server host/port/flags):
//     last non-empty writer wins
//   - resolution aliases: key-wise union; the same key with a different target
//     is a ConfigConflictError
//   - resolution modules: concatenated, first occurrence kept
//   - entry: key-wise, lists concatenated
//   - asset rules: identical patterns concatenate their pipelines in order,
//     distinct patterns are appended as independent rules
//   - plugins: concatenated, duplicates kept
//   - server routes: an identical pathPattern replaces the earlier entry
package compose

import (
	"github.com/artpar/bundlegate/domain/fragment"
)

// merger folds fragments left to right and remembers which fragment set each
// alias, so conflicts can name both sources.
type merger struct {
	acc         fragment.ConfigFragment
	aliasSource map[string]string
	conflicts   []Conflict
}

func newMerger() *merger {
	return &merger{aliasSource: make(map[string]string)}
}

// Merge combines a and b with b taking precedence. It returns the conflicts
// found; the merged value keeps a's side of each conflict.
func Merge(a, b fragment.ConfigFragment) (fragment.ConfigFragment, []Conflict) {
	m := newMerger()
	m.add(a)
	m.add(b)
	out := m.acc
	out.Name = ""
	return out, m.conflicts
}

func (m *merger) add(f fragment.ConfigFragment) {
	m.conflicts = append(m.conflicts, duplicateRoutes(f)...)

	acc := &m.acc

	if f.Mode != "" {
		acc.Mode = f.Mode
	}
	if f.PublicPath != "" {
		acc.PublicPath = f.PublicPath
	}
	if f.Devtool != "" {
		acc.Devtool = f.Devtool
	}
	if f.Output.Filename != "" {
		acc.Output.Filename = f.Output.Filename
	}
	if f.Output.ChunkFilename != "" {
		acc.Output.ChunkFilename = f.Output.ChunkFilename
	}

	for name, files := range f.Entry {
		if acc.Entry == nil {
			acc.Entry = make(map[string][]string)
		}
		acc.Entry[name] = append(cloneStrings(acc.Entry[name]), files...)
	}

	m.mergeAliases(f)
	acc.Resolution.Modules = appendUnique(acc.Resolution.Modules, f.Resolution.Modules)

	for _, rule := range f.AssetRules {
		acc.AssetRules = mergeRule(acc.AssetRules, rule)
	}

	for _, p := range f.Plugins {
		acc.Plugins = append(acc.Plugins, p.Clone())
	}

	mergeServer(&acc.Server, f.Server)
}

func (m *merger) mergeAliases(f fragment.ConfigFragment) {
	for key, target := range f.Resolution.Aliases {
		acc := &m.acc.Resolution
		if acc.Aliases == nil {
			acc.Aliases = make(map[string]string)
		}
		existing, ok := acc.Aliases[key]
		if !ok {
			acc.Aliases[key] = target
			m.aliasSource[key] = f.Name
			continue
		}
		if existing != target {
			m.conflicts = append(m.conflicts, Conflict{
				Kind:   ConflictAlias,
				Key:    key,
				First:  Claim{Value: existing, Source: m.aliasSource[key]},
				Second: Claim{Value: target, Source: f.Name},
			})
		}
	}
}

func mergeRule(rules []fragment.AssetRule, rule fragment.AssetRule) []fragment.AssetRule {
	for i := range rules {
		if rules[i].Pattern != rule.Pattern {
			continue
		}
		merged := rules[i].Clone()
		merged.Pipeline = append(merged.Pipeline, rule.Pipeline...)
		if rule.Naming != "" {
			merged.Naming = rule.Naming
		}
		merged.Exclude = appendUnique(merged.Exclude, rule.Exclude)
		out := make([]fragment.AssetRule, len(rules))
		copy(out, rules)
		out[i] = merged
		return out
	}
	return append(rules, rule.Clone())
}

func mergeServer(acc *fragment.ServerOptions, s fragment.ServerOptions) {
	if s.Host != "" {
		acc.Host = s.Host
	}
	if s.Port != 0 {
		acc.Port = s.Port
	}
	if s.Hot != nil {
		v := *s.Hot
		acc.Hot = &v
	}
	if s.HistoryAPIFallback != nil {
		v := *s.HistoryAPIFallback
		acc.HistoryAPIFallback = &v
	}
	if s.ContentBase != nil {
		acc.ContentBase = cloneStrings(s.ContentBase)
	}

	for _, r := range s.Routes {
		kept := acc.Routes[:0:0]
		for _, existing := range acc.Routes {
			if existing.Path != r.Path {
				kept = append(kept, existing)
			}
		}
		acc.Routes = append(kept, r)
	}
}

// duplicateRoutes reports identical path patterns declared inside one fragment;
// across fragments the later one replaces the earlier.
func duplicateRoutes(f fragment.ConfigFragment) []Conflict {
	var out []Conflict
	seen := make(map[string]string, len(f.Server.Routes))
	for _, r := range f.Server.Routes {
		if prev, ok := seen[r.Path]; ok {
			out = append(out, Conflict{
				Kind:   ConflictRoute,
				Key:    r.Path,
				First:  Claim{Value: prev, Source: f.Name},
				Second: Claim{Value: r.Upstream, Source: f.Name},
			})
			continue
		}
		seen[r.Path] = r.Upstream
	}
	return out
}

func appendUnique(dst, src []string) []string {
	if dst == nil && src == nil {
		return nil
	}
	seen := make(map[string]bool, len(dst)+len(src))
	out := make([]string, 0, len(dst)+len(src))
	for _, s := range dst {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	for _, s := range src {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	return out
}

func cloneStrings(in []string) []string {
	if in == nil {
		return nil
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
