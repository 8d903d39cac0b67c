package commands

import (
	"bufio"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
	"github.com/wabotdev/wabot/pkg/wabot/config"
)

// newSetupCmd creates the `wabot setup` command for interactive configuration.
func newSetupCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Interactive setup wizard",
		Long: `Starts an interactive wizard to create your initial config.yaml.
Asks for the command prefix, LLM provider, model, and state backend.
The API key is stored in the OS keyring when available, never in the file.

Examples:
  wabot setup`,
		RunE: func(_ *cobra.Command, _ []string) error {
			return runInteractiveSetup()
		},
	}
}

var stdinReader = bufio.NewReader(os.Stdin)

// readLine reads one trimmed line from stdin.
func readLine() string {
	line, _ := stdinReader.ReadString('\n')
	return strings.TrimSpace(line)
}

// runInteractiveSetup guides the user through config creation step by step.
func runInteractiveSetup() error {
	cfg := config.DefaultConfig()
	keyInKeyring := false

	fmt.Println()
	fmt.Println("╔══════════════════════════════════════════════╗")
	fmt.Println("║             WaBot — Setup Wizard             ║")
	fmt.Println("╚══════════════════════════════════════════════╝")
	fmt.Println()

	// ── Step 1: Command prefix ──
	fmt.Println("   Command prefix, e.g. \"!\" makes commands look like !sticker.")
	fmt.Println("   Leave empty to accept bare command words.")
	fmt.Println()
	fmt.Print("1. Command prefix [none]: ")
	cfg.Bot.Prefix = readLine()

	// ── Step 2: Device name ──
	fmt.Printf("2. Device name shown in WhatsApp [%s]: ", cfg.WhatsApp.DeviceName)
	if name := readLine(); name != "" {
		cfg.WhatsApp.DeviceName = name
	}

	// ── Step 3: API endpoint ──
	fmt.Println()
	fmt.Println("   API endpoint (OpenAI-compatible):")
	fmt.Println()
	fmt.Printf("3. API base URL [%s]: ", cfg.LLM.BaseURL)
	if url := readLine(); url != "" {
		cfg.LLM.BaseURL = url
	}

	// ── Step 4: API key ──
	fmt.Println()
	fmt.Println("   The API key is stored in the OS keyring when one is available.")
	fmt.Println("   Otherwise set the WABOT_API_KEY environment variable.")
	fmt.Println()
	fmt.Print("4. API key (or press Enter to skip): ")
	if apiKey := readLine(); apiKey != "" {
		if config.KeyringAvailable() {
			if err := config.StoreKeyring("llm_api_key", apiKey); err != nil {
				fmt.Printf("   [!] Keyring store failed: %v\n", err)
				fmt.Println("   Set WABOT_API_KEY in your environment instead.")
			} else {
				keyInKeyring = true
				fmt.Println("   API key stored in the OS keyring.")
			}
		} else {
			fmt.Println("   [!] No OS keyring available.")
			fmt.Println("   Set WABOT_API_KEY in your environment or .env file.")
		}
	} else {
		fmt.Println("   Skipped. Set it later with: wabot config set-key")
	}

	// ── Step 5: Model ──
	models := []struct {
		id   string
		desc string
	}{
		{"gpt-4o-mini", "fast and cheap (default)"},
		{"gpt-4o", "great all-around"},
		{"gpt-4.1-mini", "newer mini model"},
		{"gpt-4.1", "strong reasoning"},
	}

	fmt.Println()
	fmt.Println("5. Select LLM model:")
	fmt.Println()
	for i, m := range models {
		marker := "  "
		if m.id == cfg.LLM.Model {
			marker = " *"
		}
		fmt.Printf("   %s %d) %-14s — %s\n", marker, i+1, m.id, m.desc)
	}
	fmt.Println()
	fmt.Printf("   Choose [1-%d] or type a model name [%s]: ", len(models), cfg.LLM.Model)

	if input := readLine(); input != "" {
		if num, err := strconv.Atoi(input); err == nil {
			if num >= 1 && num <= len(models) {
				cfg.LLM.Model = models[num-1].id
			} else {
				fmt.Printf("   [!] Invalid number, keeping '%s'.\n", cfg.LLM.Model)
			}
		} else {
			cfg.LLM.Model = input
		}
	}

	// ── Step 6: State backend ──
	fmt.Println()
	fmt.Println("   Conversation memory backend:")
	fmt.Println("   memory — in-process, lost on restart (default)")
	fmt.Println("   redis  — shared and persistent across restarts")
	fmt.Println()
	fmt.Printf("6. State backend [%s]: ", cfg.State.Backend)
	if backend := readLine(); backend != "" {
		switch strings.ToLower(backend) {
		case "memory":
			cfg.State.Backend = "memory"
		case "redis":
			cfg.State.Backend = "redis"
			fmt.Printf("   Redis address [localhost:6379]: ")
			cfg.State.Redis.Addr = "localhost:6379"
			if addr := readLine(); addr != "" {
				cfg.State.Redis.Addr = addr
			}
		default:
			fmt.Println("   [!] Invalid value, using 'memory'.")
		}
	}

	// ── Step 7: Web search ──
	fmt.Println()
	fmt.Print("7. Enable web search via Tavily? (y/n) [n]: ")
	if strings.ToLower(readLine()) == "y" {
		cfg.Search.Enabled = true
		fmt.Print("   Tavily API key (tvly-..., Enter to use TAVILY_API_KEY env): ")
		if tavilyKey := readLine(); tavilyKey != "" {
			if config.KeyringAvailable() {
				if err := config.StoreKeyring("tavily_api_key", tavilyKey); err == nil {
					fmt.Println("   Tavily key stored in the OS keyring.")
				} else {
					cfg.Search.Tavily.APIKey = tavilyKey
				}
			} else {
				cfg.Search.Tavily.APIKey = tavilyKey
			}
		}
	}

	// ── Summary ──
	fmt.Println()
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println("  Configuration summary:")
	fmt.Println("─────────────────────────────────────────────")
	prefix := cfg.Bot.Prefix
	if prefix == "" {
		prefix = "(none)"
	}
	fmt.Printf("  Prefix:    %s\n", prefix)
	fmt.Printf("  Device:    %s\n", cfg.WhatsApp.DeviceName)
	fmt.Printf("  API URL:   %s\n", cfg.LLM.BaseURL)
	if keyInKeyring {
		fmt.Println("  API key:   **** (OS keyring)")
	} else {
		fmt.Println("  API key:   (from environment)")
	}
	fmt.Printf("  Model:     %s\n", cfg.LLM.Model)
	fmt.Printf("  State:     %s\n", cfg.State.Backend)
	fmt.Printf("  Search:    %v\n", cfg.Search.Enabled)
	fmt.Println("─────────────────────────────────────────────")
	fmt.Println()

	// ── Confirm and save ──
	target := "config.yaml"
	fmt.Printf("Save to %s? (y/n) [y]: ", target)
	if strings.ToLower(readLine()) == "n" {
		fmt.Println("Setup cancelled.")
		return nil
	}

	if _, err := os.Stat(target); err == nil {
		fmt.Printf("File %s already exists. Overwrite? (y/n) [n]: ", target)
		if strings.ToLower(readLine()) != "y" {
			fmt.Println("Setup cancelled. Existing file kept.")
			return nil
		}
	}

	if err := config.Save(cfg, target); err != nil {
		return fmt.Errorf("saving config: %w", err)
	}

	fmt.Println()
	fmt.Println("config.yaml created successfully!")
	fmt.Println()
	fmt.Println("Next steps:")
	fmt.Println("  wabot serve   — connect to WhatsApp (a QR code appears on first run)")
	fmt.Println()

	return nil
}
