// Package commands implements the WaBot CLI commands using cobra.
package commands

import (
	"github.com/spf13/cobra"
)

// NewRootCmd creates the root CLI command with all subcommands registered.
func NewRootCmd(version string) *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "wabot",
		Short: "WaBot - WhatsApp conversational bot",
		Long: `WaBot is a WhatsApp bot that answers commands and holds LLM-backed
conversations with memory, web search, and image understanding.

Examples:
  wabot serve
  wabot serve --config ./config.yaml
  wabot setup
  wabot config set-key`,
		Version: version,
	}

	rootCmd.AddCommand(
		newServeCmd(),
		newSetupCmd(),
		newConfigCmd(),
	)

	// Global flags.
	rootCmd.PersistentFlags().StringP("config", "c", "", "path to the configuration file")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "enable debug logging")

	return rootCmd
}
