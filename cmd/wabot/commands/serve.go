package commands

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/wabotdev/wabot/pkg/wabot/agent"
	"github.com/wabotdev/wabot/pkg/wabot/bot"
	"github.com/wabotdev/wabot/pkg/wabot/channels/whatsapp"
	"github.com/wabotdev/wabot/pkg/wabot/command"
	"github.com/wabotdev/wabot/pkg/wabot/config"
	"github.com/wabotdev/wabot/pkg/wabot/llm"
	"github.com/wabotdev/wabot/pkg/wabot/media"
	"github.com/wabotdev/wabot/pkg/wabot/state"
	"github.com/wabotdev/wabot/pkg/wabot/tools"
)

// newServeCmd creates the `wabot serve` command that starts the bot.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Connect to WhatsApp and start handling messages",
		Long: `Start WaBot as a daemon: connect to WhatsApp (showing a QR code on
first run), register commands, and route messages to the agent.

Examples:
  wabot serve
  wabot serve --config ./config.yaml`,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, _ []string) error {
	// ── Load config ──
	cfg, err := resolveConfig(cmd)
	if err != nil {
		return err
	}

	// ── Configure logger ──
	verbose, _ := cmd.Root().PersistentFlags().GetBool("verbose")
	logLevel := slog.LevelInfo
	if verbose || cfg.Logging.Level == "debug" {
		logLevel = slog.LevelDebug
	}

	var handler slog.Handler
	if cfg.Logging.Format == "json" {
		handler = slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	} else {
		handler = slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: logLevel})
	}
	logger := slog.New(handler)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// ── Conversation store ──
	store, err := buildStateStore(ctx, cfg, logger)
	if err != nil {
		return err
	}

	// ── Media archive ──
	mediaStore, err := media.NewFileSystemStore(cfg.Media, logger)
	if err != nil {
		return fmt.Errorf("creating media store: %w", err)
	}

	// ── WhatsApp transport ──
	wa := whatsapp.New(cfg.WhatsApp, logger)

	// ── Agent ──
	var turnHandler bot.TurnHandler
	if cfg.Agent.Enabled {
		if cfg.LLM.APIKey == "" {
			logger.Warn("no LLM API key configured, agent replies will fail",
				"hint", "run 'wabot config set-key' or set WABOT_API_KEY")
		}

		client := llm.NewClient(cfg.LLM, logger)

		var agentTools []llm.Tool
		if cfg.Search.Enabled {
			if cfg.Search.Tavily.APIKey == "" {
				logger.Warn("search enabled but no Tavily API key, skipping web search tool")
			} else {
				tavily := tools.NewTavilyClient(cfg.Search.Tavily, logger)
				agentTools = append(agentTools, tools.SearchTool(tavily, logger))
				logger.Info("web search tool enabled")
			}
		}

		turnHandler = agent.New(cfg.Agent, store, client, wa, mediaStore, agentTools, logger)
	} else {
		logger.Info("agent disabled, only commands will be handled")
	}

	// ── Commands ──
	registry := command.NewRegistry(logger)
	command.RegisterBuiltins(registry, command.BuiltinDeps{
		Store:   store,
		Encoder: command.PassthroughEncoder,
		Logger:  logger,
	})

	// ── Bot ──
	b := bot.New(cfg.Bot, registry, wa, turnHandler, logger)
	b.Start(ctx)
	wa.OnMessage(b.HandleEvent)

	// ── Connect ──
	if err := wa.Connect(ctx); err != nil {
		return fmt.Errorf("connecting to WhatsApp: %w", err)
	}

	logger.Info("WaBot running. Press Ctrl+C to stop.",
		"prefix", cfg.Bot.Prefix,
		"model", cfg.LLM.Model,
		"state_backend", cfg.State.Backend,
	)

	// ── Wait for shutdown ──
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received, stopping...")
	cancel()

	done := make(chan struct{})
	go func() {
		if err := wa.Disconnect(); err != nil {
			logger.Warn("disconnect failed", "error", err)
		}
		close(done)
	}()

	select {
	case <-done:
		logger.Info("shutdown complete")
	case <-time.After(10 * time.Second):
		logger.Warn("shutdown timed out after 10s, forcing exit")
	}

	return nil
}

// buildStateStore creates the configured conversation store backend.
func buildStateStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (state.Store, error) {
	switch cfg.State.Backend {
	case "", "memory":
		mem := state.NewMemoryStore(cfg.State.TTL, logger)
		mem.StartSweeper(ctx)
		return mem, nil
	case "redis":
		rs := state.NewRedisStore(cfg.State.Redis, cfg.State.TTL, logger)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		defer cancel()
		if err := rs.Ping(pingCtx); err != nil {
			return nil, fmt.Errorf("connecting to redis at %s: %w", cfg.State.Redis.Addr, err)
		}
		logger.Info("redis state store connected", "addr", cfg.State.Redis.Addr)
		return rs, nil
	default:
		return nil, fmt.Errorf("unknown state backend %q (use memory or redis)", cfg.State.Backend)
	}
}

// resolveConfig loads config from file, offering interactive setup if missing.
func resolveConfig(cmd *cobra.Command) (*config.Config, error) {
	configPath, _ := cmd.Root().PersistentFlags().GetString("config")

	if configPath != "" {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, fmt.Errorf("loading config: %w", err)
		}
		return cfg, nil
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.Load(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, nil
	}

	fmt.Println()
	fmt.Println("No configuration file found.")
	fmt.Println("WaBot needs a config.yaml before connecting to WhatsApp.")
	fmt.Println()
	fmt.Print("Run interactive setup now? (y/n) [y]: ")

	if answer := readLine(); answer != "" && answer != "y" && answer != "Y" {
		fmt.Println()
		fmt.Println("Run 'wabot setup' to create the configuration.")
		return nil, fmt.Errorf("configuration required before starting")
	}

	if err := runInteractiveSetup(); err != nil {
		return nil, fmt.Errorf("setup: %w", err)
	}

	if found := config.FindConfigFile(); found != "" {
		cfg, err := config.Load(found)
		if err != nil {
			return nil, fmt.Errorf("loading config from %s: %w", found, err)
		}
		return cfg, nil
	}

	return nil, fmt.Errorf("setup finished but no config.yaml was found")
}
