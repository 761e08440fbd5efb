package route

import (
	"fmt"
	"strings"

	"github.com/expr-lang/expr"
	"github.com/expr-lang/expr/vm"
)

// Bypass is a compiled predicate deciding whether a matched request is served
// locally instead of forwarded. The expression sees method, path, query and
// headers and returns the local path to serve, or "" (or nil) to forward.
//
// Example: path endsWith ".js" ? path : ""
type Bypass struct {
	source  string
	program *vm.Program
}

func bypassEnv(req Request) map[string]any {
	headers := req.Headers
	if headers == nil {
		headers = map[string]string{}
	}
	return map[string]any{
		"method":  req.Method,
		"path":    req.Path,
		"query":   req.Query,
		"headers": headers,
	}
}

// CompileBypass compiles a bypass expression. An empty source yields nil.
func CompileBypass(source string) (*Bypass, error) {
	if strings.TrimSpace(source) == "" {
		return nil, nil
	}
	program, err := expr.Compile(source, expr.Env(bypassEnv(Request{})))
	if err != nil {
		return nil, fmt.Errorf("compile bypass %q: %w", source, err)
	}
	return &Bypass{source: source, program: program}, nil
}

// String returns the expression source.
func (b *Bypass) String() string { return b.source }

// Eval runs the predicate once. Evaluation is pure; errors are not retried.
func (b *Bypass) Eval(req Request) (string, error) {
	out, err := expr.Run(b.program, bypassEnv(req))
	if err != nil {
		return "", fmt.Errorf("bypass %q: %w", b.source, err)
	}
	switch v := out.(type) {
	case nil:
		return "", nil
	case string:
		return v, nil
	case bool:
		// A bare condition serves the request path itself.
		if v {
			return req.Path, nil
		}
		return "", nil
	default:
		return "", fmt.Errorf("bypass %q: result must be a string, got %T", b.source, out)
	}
}
