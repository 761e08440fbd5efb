package main

import (
	"fmt"
	"io"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"

	"github.com/artpar/bundlegate/bootstrap"
	"github.com/artpar/bundlegate/config"
)

var (
	// Global flags
	cfgFile string

	successStyle = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00D787", Dark: "#00D787"})
	errorStyle   = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#FF5F87", Dark: "#FF5F87"})
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.AdaptiveColor{Light: "#00D7D7", Dark: "#00D7D7"})
)

// rootCmd represents the base command when called without any subcommands
var rootCmd = &cobra.Command{
	Use:   "bundlegate",
	Short: "Build profiles and a development router for web front ends",
	Long: `bundlegate composes build configuration from reusable fragments,
runs the asset pipeline for a profile and serves the result in development
behind a router that forwards API and websocket traffic to a backend.

Quick start:
  bundlegate serve               # Development server with live reload
  bundlegate build:production    # Hashed, minified production build

Inspection:
  bundlegate validate            # Print every profile's effective configuration
  bundlegate weigh production    # Asset sizes against the previous build`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&cfgFile, "config", "c", config.DefaultFile, "config file path")
}

// openApp wires the application. A config file named with --config must
// exist; the default one may be absent.
func openApp(cmd *cobra.Command) (*bootstrap.App, error) {
	a, err := bootstrap.New(bootstrap.Options{
		ConfigPath:    cfgFile,
		RequireConfig: cmd.Flags().Changed("config"),
		Stdout:        cmd.OutOrStdout(),
		Stderr:        cmd.ErrOrStderr(),
		LogOutput:     cmd.ErrOrStderr(),
	})
	if err != nil {
		return nil, fmt.Errorf("error initializing: %w", err)
	}
	return a, nil
}

func printSuccess(w io.Writer, format string, args ...any) {
	_, _ = fmt.Fprintf(w, "%s %s\n", successStyle.Render("✓"), fmt.Sprintf(format, args...))
}
