package transform

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// CommandError is a failing external transform, with its stderr.
type CommandError struct {
	Transform string
	Stderr    string
	Err       error
}

func (e *CommandError) Error() string {
	msg := strings.TrimSpace(e.Stderr)
	if msg == "" {
		return fmt.Sprintf("transform %s: %v", e.Transform, e.Err)
	}
	return fmt.Sprintf("transform %s: %v: %s", e.Transform, e.Err, msg)
}

func (e *CommandError) Unwrap() error { return e.Err }

// Command runs an external program as a pipeline step: content on stdin,
// result on stdout. The source path is passed as BUNDLEGATE_SOURCE and
// substituted for {path} in args.
func Command(name string, argv []string, dir string) Func {
	return NewFunc(name, func(ctx context.Context, path string, in []byte) ([]byte, error) {
		if len(argv) == 0 {
			return nil, fmt.Errorf("transform %s: empty command", name)
		}
		args := make([]string, len(argv)-1)
		for i, a := range argv[1:] {
			args[i] = strings.ReplaceAll(a, "{path}", path)
		}

		cmd := exec.CommandContext(ctx, argv[0], args...)
		cmd.Dir = dir
		cmd.Env = append(os.Environ(), "BUNDLEGATE_SOURCE="+path)
		cmd.Stdin = bytes.NewReader(in)
		var stdout, stderr bytes.Buffer
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr

		if err := cmd.Run(); err != nil {
			return nil, &CommandError{Transform: name, Stderr: stderr.String(), Err: err}
		}
		return stdout.Bytes(), nil
	})
}
