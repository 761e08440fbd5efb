package main

import (
	"github.com/spf13/cobra"

	"github.com/artpar/bundlegate/domain/profile"
)

var weighCmd = &cobra.Command{
	Use:   "weigh [profile]",
	Short: "Report asset sizes of the latest build",
	Long: `Print each asset of the profile's latest successful build with its
size and the change against the build before it.

Examples:
  bundlegate weigh
  bundlegate weigh development`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		name := profile.Production
		if len(args) == 1 {
			name = args[0]
		}

		a, err := openApp(cmd)
		if err != nil {
			return err
		}
		defer a.Close()

		return a.Weigh(cmd.Context(), name, cmd.OutOrStdout())
	},
}

func init() {
	rootCmd.AddCommand(weighCmd)
}
