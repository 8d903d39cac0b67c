package command

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/wabotdev/wabot/pkg/wabot/message"
	"github.com/wabotdev/wabot/pkg/wabot/state"
)

// StickerEncoder converts downloaded media bytes into webp sticker
// bytes. The default encoder passes webp input through unchanged and
// rejects other formats.
type StickerEncoder func(ctx context.Context, data []byte, mimeType string) ([]byte, error)

// PassthroughEncoder accepts media that is already webp.
func PassthroughEncoder(_ context.Context, data []byte, mimeType string) ([]byte, error) {
	if mimeType != "image/webp" {
		return nil, fmt.Errorf("unsupported sticker source format: %s", mimeType)
	}
	return data, nil
}

// BuiltinDeps carries the dependencies of the built-in commands.
type BuiltinDeps struct {
	Store   state.Store
	Encoder StickerEncoder
	Logger  *slog.Logger
}

// RegisterBuiltins installs the standard command set into the registry.
func RegisterBuiltins(reg *Registry, deps BuiltinDeps) {
	if deps.Encoder == nil {
		deps.Encoder = PassthroughEncoder
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	reg.Register(PingCommand())
	reg.Register(ResetCommand(deps.Store))
	reg.Register(StickerCommand(deps.Encoder, deps.Logger))
	reg.Register(HelpCommand(reg))
}

// PingCommand replies with the message round-trip latency.
func PingCommand() *Definition {
	return &Definition{
		Name:        "ping",
		Aliases:     []string{"pong", "p"},
		Description: "Check whether the bot is alive",
		Callback: func(ctx context.Context, inv *Invocation) error {
			latency := time.Since(inv.Env.Timestamp).Round(time.Millisecond)
			return inv.Reply(ctx, fmt.Sprintf("pong! 🏓 took %s", latency))
		},
	}
}

// ResetCommand clears the sender's conversation history.
func ResetCommand(store state.Store) *Definition {
	return &Definition{
		Name:        "reset",
		Aliases:     []string{"clear"},
		Description: "Forget the current conversation",
		Callback: func(ctx context.Context, inv *Invocation) error {
			if err := store.Reset(ctx, inv.Env.SenderID); err != nil {
				return fmt.Errorf("resetting conversation: %w", err)
			}
			return inv.Reply(ctx, "Conversation cleared. Let's start fresh!")
		},
	}
}

// StickerCommand turns an image into a sticker. The image may be
// attached directly or come from the message being replied to.
func StickerCommand(encode StickerEncoder, logger *slog.Logger) *Definition {
	return &Definition{
		Name:        "sticker",
		Aliases:     []string{"s", "stiker"},
		Description: "Turn an attached or quoted image into a sticker",
		Cooldown:    5 * time.Second,
		Callback: func(ctx context.Context, inv *Invocation) error {
			if !hasImage(inv.Env) {
				return inv.Reply(ctx, "Send an image with the caption `sticker`, or reply to one, to make a sticker.")
			}

			// Acknowledge before the download, it can take a while.
			if err := inv.React(ctx, "👍🏻"); err != nil {
				logger.Warn("sticker ack reaction failed", "error", err)
			}

			data, mimeType, err := inv.DownloadMedia(ctx)
			if err == nil {
				var sticker []byte
				sticker, err = encode(ctx, data, mimeType)
				if err == nil {
					err = inv.SendSticker(ctx, sticker)
				}
			}
			if err != nil {
				if rerr := inv.React(ctx, "❌"); rerr != nil {
					logger.Warn("sticker failure reaction failed", "error", rerr)
				}
				return fmt.Errorf("making sticker: %w", err)
			}
			return nil
		},
	}
}

// hasImage reports whether the envelope or its quoted message carries
// image media.
func hasImage(env *message.Envelope) bool {
	if env.Media != nil && env.Media.Kind == message.MediaImage {
		return true
	}
	return env.Quoted != nil && env.Quoted.Media != nil && env.Quoted.Media.Kind == message.MediaImage
}

// HelpCommand lists the registered commands.
func HelpCommand(reg *Registry) *Definition {
	return &Definition{
		Name:        "help",
		Aliases:     []string{"menu", "commands"},
		Description: "Show this command list",
		Callback: func(ctx context.Context, inv *Invocation) error {
			var b strings.Builder
			b.WriteString("Available commands:\n")
			for _, def := range reg.All() {
				b.WriteString(fmt.Sprintf("• *%s*", def.Name))
				if len(def.Aliases) > 0 {
					b.WriteString(fmt.Sprintf(" (%s)", strings.Join(def.Aliases, ", ")))
				}
				if def.Description != "" {
					b.WriteString(": " + def.Description)
				}
				b.WriteString("\n")
			}
			return inv.Reply(ctx, strings.TrimRight(b.String(), "\n"))
		},
	}
}
