package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/artpar/bundlegate/domain/compose"
)

var validateCmd = &cobra.Command{
	Use:   "validate [profile]",
	Short: "Compose profiles and print their effective configuration",
	Long: `Validate the configuration file, compose every profile (or the one
named) and print the effective configuration handed to the build executor.

Conflicting alias or route definitions are reported with both fragment
names and exit with status 2.

Examples:
  bundlegate validate
  bundlegate validate development`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func init() {
	rootCmd.AddCommand(validateCmd)
}

func runValidate(cmd *cobra.Command, args []string) error {
	a, err := openApp(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	names := a.ProfileNames()
	if len(args) == 1 {
		names = args
	}

	effective := make(map[string]*compose.Effective, len(names))
	for _, name := range names {
		eff, err := a.Effective(name)
		if err != nil {
			return fmt.Errorf("profile %s: %w", name, err)
		}
		effective[name] = eff
	}

	var out any = effective
	if len(args) == 1 {
		out = effective[args[0]]
	}
	data, err := json.MarshalIndent(out, "", "  ")
	if err != nil {
		return fmt.Errorf("encode effective config: %w", err)
	}
	fmt.Fprintln(cmd.OutOrStdout(), string(data))

	printSuccess(cmd.ErrOrStderr(), "configuration valid (%d profiles)", len(names))
	return nil
}
