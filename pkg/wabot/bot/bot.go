// Package bot wires the transport, command registry, and agent into a
// message dispatcher. Each incoming event is normalized and handled on
// its own goroutine so one slow conversation never blocks the rest.
package bot

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.mau.fi/whatsmeow/types/events"

	"github.com/wabotdev/wabot/pkg/wabot/channels"
	"github.com/wabotdev/wabot/pkg/wabot/command"
	"github.com/wabotdev/wabot/pkg/wabot/message"
)

// handleTimeout bounds one message's end-to-end processing, tool loop
// included.
const handleTimeout = 5 * time.Minute

// Config holds dispatcher configuration.
type Config struct {
	// Prefix optionally marks command messages (e.g. "!"). Bare command
	// tokens are accepted either way.
	Prefix string `yaml:"prefix"`
}

// TurnHandler handles non-command messages. *agent.Agent satisfies it.
type TurnHandler interface {
	HandleTurn(ctx context.Context, env *message.Envelope) error
}

// Bot dispatches incoming messages to commands or the agent.
type Bot struct {
	cfg       Config
	registry  *command.Registry
	transport channels.Transport
	agent     TurnHandler // nil disables conversational handling
	logger    *slog.Logger

	cooldownMu sync.Mutex
	cooldowns  map[string]time.Time

	baseCtx context.Context
	now     func() time.Time
}

// New creates a Bot. Pass a nil agent to drop non-command messages.
func New(cfg Config, registry *command.Registry, transport channels.Transport, agent TurnHandler, logger *slog.Logger) *Bot {
	if logger == nil {
		logger = slog.Default()
	}
	return &Bot{
		cfg:       cfg,
		registry:  registry,
		transport: transport,
		agent:     agent,
		logger:    logger.With("component", "bot"),
		cooldowns: make(map[string]time.Time),
		baseCtx:   context.Background(),
		now:       time.Now,
	}
}

// Start binds the bot's lifetime to ctx. In-flight handlers are
// cancelled when it expires.
func (b *Bot) Start(ctx context.Context) {
	b.baseCtx = ctx
}

// HandleEvent is the transport's message callback. It normalizes the
// event and hands it off without blocking the event loop.
func (b *Bot) HandleEvent(evt *events.Message) {
	env := message.Normalize(evt)
	if env == nil {
		return
	}

	go func() {
		ctx, cancel := context.WithTimeout(b.baseCtx, handleTimeout)
		defer cancel()
		b.Dispatch(ctx, env)
	}()
}

// Dispatch routes one envelope: commands first, then the agent.
func (b *Bot) Dispatch(ctx context.Context, env *message.Envelope) {
	// Read receipt is cosmetic, never wait on it.
	go func() {
		if err := b.transport.MarkRead(ctx, env); err != nil {
			b.logger.Debug("mark read failed", "error", err)
		}
	}()

	token, fullArgs, args := message.Tokenize(env.Body, b.cfg.Prefix)
	if token != "" {
		if def, ok := b.registry.Resolve(token); ok {
			b.runCommand(ctx, def, env, args, fullArgs)
			return
		}
	}

	if b.agent == nil {
		b.logger.Debug("dropping non-command message, agent disabled",
			"user", env.SenderID)
		return
	}
	if err := b.agent.HandleTurn(ctx, env); err != nil {
		b.logger.Error("agent turn failed", "user", env.SenderID, "error", err)
	}
}

// runCommand enforces the command's policy and executes its callback,
// converting panics into an error notice instead of crashing the bot.
func (b *Bot) runCommand(ctx context.Context, def *command.Definition, env *message.Envelope, args []string, fullArgs string) {
	inv := command.NewInvocation(env, args, fullArgs, b.transport, b.logger)

	if notice := b.checkPolicy(def, env, args); notice != "" {
		if err := inv.Reply(ctx, notice); err != nil {
			b.logger.Warn("policy notice not delivered", "command", def.Name, "error", err)
		}
		return
	}

	defer func() {
		if r := recover(); r != nil {
			b.logger.Error("command panicked", "command", def.Name, "panic", r)
			b.notifyCommandError(ctx, inv, def.Name)
		}
	}()

	b.logger.Info("executing command",
		"command", def.Name, "user", env.SenderID, "args", len(args))

	if err := def.Callback(ctx, inv); err != nil {
		b.logger.Error("command failed", "command", def.Name, "error", err)
		b.notifyCommandError(ctx, inv, def.Name)
	}
}

// checkPolicy validates origin, argument count, and cooldown. It
// returns a user-facing notice when the command may not run.
func (b *Bot) checkPolicy(def *command.Definition, env *message.Envelope, args []string) string {
	if def.GroupOnly && !env.IsGroup() {
		return fmt.Sprintf("The %s command only works in group chats.", def.Name)
	}
	if def.PrivateOnly && env.IsGroup() {
		return fmt.Sprintf("The %s command only works in private chat.", def.Name)
	}
	if len(args) < def.MinArgs {
		return fmt.Sprintf("The %s command needs at least %d argument(s).", def.Name, def.MinArgs)
	}

	if def.Cooldown > 0 {
		key := env.SenderID + "|" + def.Name
		now := b.now()

		b.cooldownMu.Lock()
		defer b.cooldownMu.Unlock()
		if last, ok := b.cooldowns[key]; ok {
			if remaining := def.Cooldown - now.Sub(last); remaining > 0 {
				return fmt.Sprintf("Easy there! Try %s again in %s.",
					def.Name, remaining.Round(time.Second))
			}
		}
		b.cooldowns[key] = now
	}
	return ""
}

func (b *Bot) notifyCommandError(ctx context.Context, inv *command.Invocation, name string) {
	if err := inv.Reply(ctx, fmt.Sprintf("error executing command %s", name)); err != nil {
		b.logger.Warn("error notice not delivered", "command", name, "error", err)
	}
}
