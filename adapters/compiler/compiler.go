// Package compiler is the boundary to the external build executor. The
// executor receives the effective configuration as a JSON file and its
// failures are reported as opaque BuildExecutionErrors.
package compiler

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"

	"github.com/artpar/bundlegate/ports"
)

// ConfigEnv names the environment variable holding the config file path.
const ConfigEnv = "BUNDLEGATE_CONFIG"

// BuildExecutionError is an executor failure. ExitCode is -1 when the
// process never ran or was killed.
type BuildExecutionError struct {
	Command  string
	ExitCode int
	Err      error
}

func (e *BuildExecutionError) Error() string {
	return fmt.Sprintf("build executor %q failed (exit %d): %v", e.Command, e.ExitCode, e.Err)
}

func (e *BuildExecutionError) Unwrap() error { return e.Err }

// Exec runs a configured command.
type Exec struct {
	argv   []string
	logger zerolog.Logger
	stdout io.Writer
	stderr io.Writer
}

// Option configures Exec.
type Option func(*Exec)

// WithOutput redirects the executor's stdout and stderr.
func WithOutput(stdout, stderr io.Writer) Option {
	return func(e *Exec) {
		e.stdout = stdout
		e.stderr = stderr
	}
}

// NewExec creates an executor for argv.
func NewExec(argv []string, logger zerolog.Logger, opts ...Option) *Exec {
	e := &Exec{
		argv:   append([]string(nil), argv...),
		logger: logger,
		stdout: os.Stdout,
		stderr: os.Stderr,
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Compile writes the configuration next to the output root and runs the
// command with BUNDLEGATE_CONFIG, BUNDLEGATE_PROFILE and BUNDLEGATE_OUTPUT set.
func (e *Exec) Compile(ctx context.Context, req ports.CompileRequest) error {
	command := strings.Join(e.argv, " ")
	if len(e.argv) == 0 {
		return &BuildExecutionError{Command: command, ExitCode: -1, Err: errors.New("no compiler command configured")}
	}

	if err := os.MkdirAll(req.OutputDir, 0o755); err != nil {
		return fmt.Errorf("create output dir: %w", err)
	}
	cfgPath := filepath.Join(req.OutputDir, ".bundlegate-config.json")
	if err := os.WriteFile(cfgPath, req.Config, 0o644); err != nil {
		return fmt.Errorf("write effective config: %w", err)
	}

	cmd := exec.CommandContext(ctx, e.argv[0], e.argv[1:]...)
	cmd.Dir = req.WorkDir
	cmd.Env = append(os.Environ(),
		ConfigEnv+"="+cfgPath,
		"BUNDLEGATE_PROFILE="+req.Profile,
		"BUNDLEGATE_OUTPUT="+req.OutputDir,
		"BUNDLEGATE_BUILD_ID="+req.BuildID,
	)
	cmd.Stdout = e.stdout
	cmd.Stderr = e.stderr

	e.logger.Debug().
		Str("build_id", req.BuildID).
		Str("command", command).
		Str("config", cfgPath).
		Msg("running build executor")

	if err := cmd.Run(); err != nil {
		code := -1
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			code = exitErr.ExitCode()
		}
		return &BuildExecutionError{Command: command, ExitCode: code, Err: err}
	}
	return nil
}

var _ ports.Compiler = (*Exec)(nil)

// Noop is used when no compiler is configured: assets are still emitted by
// the pipeline, but nothing is compiled.
type Noop struct{}

// Compile does nothing.
func (Noop) Compile(context.Context, ports.CompileRequest) error { return nil }

var _ ports.Compiler = Noop{}
