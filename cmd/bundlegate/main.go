// Package main is the entry point for bundlegate.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/artpar/bundlegate/adapters/compiler"
	"github.com/artpar/bundlegate/domain/compose"
	"github.com/artpar/bundlegate/domain/paths"
	"github.com/artpar/bundlegate/domain/profile"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()

	if err != nil {
		fmt.Fprintln(os.Stderr, errorStyle.Render("Error: "+err.Error()))
		os.Exit(exitCode(err))
	}
}

// exitCode maps an error to the process exit status: the executor's own
// status for a failed build command, 2 for configuration errors, 1 otherwise.
func exitCode(err error) int {
	if err == nil {
		return 0
	}

	var execErr *compiler.BuildExecutionError
	if errors.As(err, &execErr) && execErr.ExitCode > 0 {
		return execErr.ExitCode
	}

	var conflict *compose.ConfigConflictError
	var resolution *paths.ResolutionError
	var unknown *profile.UnknownFragmentError
	if errors.As(err, &conflict) || errors.As(err, &resolution) || errors.As(err, &unknown) {
		return 2
	}
	return 1
}
