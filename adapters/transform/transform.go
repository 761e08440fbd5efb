// Package transform implements the named asset pipeline steps: identity
// passthroughs, the stylesheet checker, minifiers and external commands.
package transform

import (
	"context"
	"fmt"
	"sort"

	"github.com/artpar/bundlegate/domain/fragment"
	"github.com/artpar/bundlegate/ports"
)

// Func adapts a function to ports.Transform.
type Func struct {
	name string
	fn   func(ctx context.Context, path string, in []byte) ([]byte, error)
}

// NewFunc creates a named transform from fn.
func NewFunc(name string, fn func(ctx context.Context, path string, in []byte) ([]byte, error)) Func {
	return Func{name: name, fn: fn}
}

// Name returns the transform name.
func (f Func) Name() string { return f.name }

// Apply runs the function.
func (f Func) Apply(ctx context.Context, path string, in []byte) ([]byte, error) {
	return f.fn(ctx, path, in)
}

// Identity returns a transform that passes content through unchanged.
func Identity(name string) Func {
	return NewFunc(name, func(_ context.Context, _ string, in []byte) ([]byte, error) {
		return in, nil
	})
}

// Registry maps transform names to implementations. It is read-only after
// construction.
type Registry struct {
	transforms map[string]ports.Transform
}

// NewRegistry returns the built-in transforms plus extra. Extra transforms may
// replace built-ins of the same name (e.g. a real css preprocessor).
func NewRegistry(extra ...ports.Transform) *Registry {
	r := &Registry{transforms: make(map[string]ports.Transform)}
	for _, t := range []ports.Transform{
		Identity(fragment.TransformRaw),
		Stylesheet(),
		Identity(fragment.TransformStyleInject),
		MinifyCSS(),
		MinifyJS(),
	} {
		r.transforms[t.Name()] = t
	}
	for _, t := range extra {
		r.transforms[t.Name()] = t
	}
	return r
}

// Lookup returns the transform registered under name.
func (r *Registry) Lookup(name string) (ports.Transform, bool) {
	t, ok := r.transforms[name]
	return t, ok
}

// Names returns registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.transforms))
	for name := range r.transforms {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

var _ ports.TransformRegistry = (*Registry)(nil)

// UnknownTransformError reports a pipeline step with no implementation.
type UnknownTransformError struct {
	Name string
}

func (e *UnknownTransformError) Error() string {
	return fmt.Sprintf("unknown transform %q", e.Name)
}

// Run applies the named pipeline to in, in declared order.
func Run(ctx context.Context, reg ports.TransformRegistry, pipeline []string, path string, in []byte) ([]byte, error) {
	out := in
	for _, name := range pipeline {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		t, ok := reg.Lookup(name)
		if !ok {
			return nil, &UnknownTransformError{Name: name}
		}
		next, err := t.Apply(ctx, path, out)
		if err != nil {
			return nil, fmt.Errorf("%s: %s: %w", path, name, err)
		}
		out = next
	}
	return out, nil
}
