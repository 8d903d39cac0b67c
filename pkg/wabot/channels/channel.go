// Package channels defines the transport contract the bot core speaks
// to a messaging platform. The core never imports platform SDKs; it
// sends and reacts through a Transport and receives already-normalized
// envelopes from it.
package channels

import (
	"context"
	"fmt"

	"github.com/wabotdev/wabot/pkg/wabot/message"
)

// Transport is the outbound side of a messaging platform connection.
type Transport interface {
	// Name returns the platform identifier (e.g. "whatsapp").
	Name() string

	// Connect establishes the connection to the platform. It blocks
	// only until the session is up, not for its lifetime.
	Connect(ctx context.Context) error

	// Disconnect gracefully closes the connection.
	Disconnect() error

	// IsConnected reports whether the session is currently up.
	IsConnected() bool

	// SendText sends a text message to the chat. When quote is non-nil
	// the outgoing message is attached as a reply to it.
	SendText(ctx context.Context, chatJID, text string, quote *message.Envelope) error

	// SendSticker sends sticker bytes (webp) to the chat.
	SendSticker(ctx context.Context, chatJID string, data []byte, quote *message.Envelope) error

	// React attaches an emoji reaction to the envelope's message.
	// An empty emoji removes a previous reaction.
	React(ctx context.Context, env *message.Envelope, emoji string) error

	// MarkRead marks the envelope's message as read.
	MarkRead(ctx context.Context, env *message.Envelope) error

	// DownloadMedia fetches the raw bytes of the envelope's media
	// attachment. Returns the bytes and the MIME type.
	DownloadMedia(ctx context.Context, env *message.Envelope) ([]byte, string, error)
}

// Errors.
var (
	ErrDisconnected        = fmt.Errorf("transport is not connected")
	ErrNoMedia             = fmt.Errorf("message carries no media")
	ErrMediaDownloadFailed = fmt.Errorf("failed to download media")
)
