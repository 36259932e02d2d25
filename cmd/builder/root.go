package main

import (
	"github.com/spf13/cobra"

	"github.com/agentforge/builder/internal/version"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "builder",
	Short: "Autonomous test-and-code builder",
	Long: `builder turns a requirements document into a tested implementation:
it designs tests and generates source concurrently, adapts the tests to the
generated code, and iterates fixes against sandboxed test runs until the
suite passes or the fix budget is exhausted.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	Version:       version.Get(),
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Path to the builder configuration file (searches ./builder.yaml and the XDG config dir if unset)")
	rootCmd.SetVersionTemplate("builder {{.Version}}\n")
}
