package main

import (
	"github.com/spf13/cobra"

	"github.com/artpar/bundlegate/bootstrap"
)

var (
	hotReload    bool
	serveProfile string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the development server",
	Long: `Start the development server.

The server will:
  - Build the development profile into a fresh generation directory
  - Serve it with history API fallback and live reload
  - Forward routed paths to the upstream, including websocket upgrades
  - Rebuild when sources change and reload open pages
  - Reload bundlegate.yaml (or --config) when it changes

Environment variables:
  BUNDLEGATE_SERVER_HOST    - Listen host (default: 0.0.0.0)
  BUNDLEGATE_SERVER_PORT    - Listen port (default: 8080)
  BUNDLEGATE_UPSTREAM_HOST  - Backend host (default: 127.0.0.1)
  BUNDLEGATE_UPSTREAM_PORT  - Backend port (default: 7070)
  BUNDLEGATE_LOG_LEVEL      - Log level: debug, info, warn, error

Examples:
  bundlegate serve
  bundlegate serve --config web/bundlegate.yaml
  BUNDLEGATE_UPSTREAM_PORT=9090 bundlegate serve --hot-reload=false`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().BoolVar(&hotReload, "hot-reload", true, "enable hot reload of configuration")
	serveCmd.Flags().StringVarP(&serveProfile, "profile", "p", "", "profile to serve (default development)")
}

func runServe(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	// Run (blocks until interrupted)
	return a.Serve(cmd.Context(), bootstrap.ServeOptions{
		Profile:             serveProfile,
		DisableConfigReload: !hotReload,
	})
}
