// Package command implements the chat command registry and the built-in
// commands. Commands are looked up by name or alias from the first token
// of a message body and execute against an Invocation bound to the
// incoming envelope.
package command

import (
	"context"
	"log/slog"
	"time"

	"github.com/wabotdev/wabot/pkg/wabot/channels"
	"github.com/wabotdev/wabot/pkg/wabot/message"
)

// Definition describes a registered command.
type Definition struct {
	// Name is the canonical command name.
	Name string

	// Aliases are the additional tokens that resolve to this command.
	Aliases []string

	// Description is shown in the help listing.
	Description string

	// GroupOnly restricts the command to group chats.
	GroupOnly bool

	// PrivateOnly restricts the command to direct messages.
	PrivateOnly bool

	// MinArgs is the minimum number of arguments required.
	MinArgs int

	// Cooldown is the per-user minimum interval between executions.
	Cooldown time.Duration

	// Callback executes the command.
	Callback func(ctx context.Context, inv *Invocation) error
}

// Invocation carries everything a command callback needs: the parsed
// envelope, its arguments, and reply helpers bound to the transport.
type Invocation struct {
	// Env is the normalized incoming message.
	Env *message.Envelope

	// Args are the whitespace-split arguments after the command token.
	Args []string

	// FullArgs is the raw remainder after the command token.
	FullArgs string

	transport channels.Transport
	logger    *slog.Logger
}

// NewInvocation binds an envelope and its parsed arguments to a
// transport for replying.
func NewInvocation(env *message.Envelope, args []string, fullArgs string, transport channels.Transport, logger *slog.Logger) *Invocation {
	if logger == nil {
		logger = slog.Default()
	}
	return &Invocation{
		Env:       env,
		Args:      args,
		FullArgs:  fullArgs,
		transport: transport,
		logger:    logger,
	}
}

// Reply sends text back to the originating chat, quoting the
// triggering message so the answer reads in context even when other
// messages arrived in between.
func (inv *Invocation) Reply(ctx context.Context, text string) error {
	return inv.transport.SendText(ctx, inv.Env.ChatJID, text, inv.Env)
}

// React attaches an emoji reaction to the triggering message.
func (inv *Invocation) React(ctx context.Context, emoji string) error {
	return inv.transport.React(ctx, inv.Env, emoji)
}

// DownloadMedia fetches the triggering message's media attachment.
func (inv *Invocation) DownloadMedia(ctx context.Context) ([]byte, string, error) {
	return inv.transport.DownloadMedia(ctx, inv.Env)
}

// SendSticker sends sticker bytes to the originating chat, quoting the
// triggering message.
func (inv *Invocation) SendSticker(ctx context.Context, data []byte) error {
	return inv.transport.SendSticker(ctx, inv.Env.ChatJID, data, inv.Env)
}
