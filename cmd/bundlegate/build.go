package main

import (
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"

	"github.com/artpar/bundlegate/domain/profile"
)

var buildCmd = &cobra.Command{
	Use:   "build [profile]",
	Short: "Build a profile into the output root",
	Long: `Compose the profile, run the build executor and the asset pipeline,
and record asset sizes in the build history.

Examples:
  bundlegate build production
  bundlegate build:test
  CI=true bundlegate build:production   # stable, unhashed names`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := profile.Production
		if len(args) == 1 {
			name = args[0]
		}
		return runBuild(cmd, name)
	},
}

func init() {
	rootCmd.AddCommand(buildCmd)

	// Shortcuts for the built-in profiles.
	for _, name := range profile.Names() {
		rootCmd.AddCommand(&cobra.Command{
			Use:   "build:" + name,
			Short: "Build the " + name + " profile",
			Args:  cobra.NoArgs,
			RunE: func(cmd *cobra.Command, args []string) error {
				return runBuild(cmd, name)
			},
		})
	}
}

func runBuild(cmd *cobra.Command, name string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Build(cmd.Context(), name)
	if err != nil {
		return err
	}

	var total int64
	for _, asset := range res.Assets {
		total += asset.Bytes
	}
	printSuccess(cmd.OutOrStdout(), "built %s: %d assets, %s in %s -> %s",
		res.Profile, len(res.Assets), humanize.Bytes(uint64(total)), res.Duration.Round(time.Millisecond), pathStyle.Render(res.OutputDir))
	return nil
}
