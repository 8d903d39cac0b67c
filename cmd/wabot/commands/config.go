package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"github.com/wabotdev/wabot/pkg/wabot/config"
	"gopkg.in/yaml.v3"
)

// newConfigCmd creates the `wabot config` command for managing configuration.
func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage bot configuration",
		Long: `Manage the WaBot configuration and secrets.

Examples:
  wabot config init
  wabot config show
  wabot config set-key
  wabot config delete-key`,
	}

	cmd.AddCommand(
		newConfigInitCmd(),
		newConfigShowCmd(),
		newConfigSetKeyCmd(),
		newConfigDeleteKeyCmd(),
	)

	return cmd
}

func newConfigInitCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Write a default config.yaml",
		RunE: func(_ *cobra.Command, _ []string) error {
			target := "config.yaml"
			if _, err := os.Stat(target); err == nil {
				return fmt.Errorf("%s already exists, remove it first or use 'wabot setup'", target)
			}
			if err := config.Save(config.DefaultConfig(), target); err != nil {
				return err
			}
			fmt.Printf("Default configuration written to %s\n", target)
			return nil
		},
	}
}

func newConfigShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show",
		Short: "Display the effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := resolveConfig(cmd)
			if err != nil {
				return err
			}

			// Secrets never reach stdout.
			if cfg.LLM.APIKey != "" {
				cfg.LLM.APIKey = "****"
			}
			if cfg.Search.Tavily.APIKey != "" {
				cfg.Search.Tavily.APIKey = "****"
			}
			if cfg.State.Redis.Password != "" {
				cfg.State.Redis.Password = "****"
			}

			out, err := yaml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("marshaling config: %w", err)
			}
			fmt.Print(string(out))
			return nil
		},
	}
}

func newConfigSetKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set-key",
		Short: "Store the LLM API key in the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if !config.KeyringAvailable() {
				return fmt.Errorf("no OS keyring available, set WABOT_API_KEY in your environment instead")
			}

			apiKey, err := config.ReadPassword("API key (hidden input): ")
			if err != nil {
				return err
			}
			if apiKey == "" {
				return fmt.Errorf("empty API key")
			}

			if err := config.StoreKeyring("llm_api_key", apiKey); err != nil {
				return fmt.Errorf("storing in keyring: %w", err)
			}
			fmt.Println("API key stored in the OS keyring.")
			fmt.Println("You can now remove it from .env and config.yaml.")
			return nil
		},
	}
}

func newConfigDeleteKeyCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete-key",
		Short: "Remove the LLM API key from the OS keyring",
		RunE: func(_ *cobra.Command, _ []string) error {
			if err := config.DeleteKeyring("llm_api_key"); err != nil {
				return fmt.Errorf("deleting from keyring: %w", err)
			}
			fmt.Println("API key removed from the OS keyring.")
			return nil
		},
	}
}
