// Package message decodes raw WhatsApp message events into the
// canonical envelope consumed by the dispatcher and the agent, and
// tokenizes message bodies into command invocations.
package message

import (
	"strings"
	"time"

	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
)

// Origin classifies where an envelope came from.
type Origin string

const (
	OriginGroup   Origin = "group"
	OriginPrivate Origin = "private"
)

// MediaKind identifies the downloadable media variant of an envelope.
type MediaKind string

const (
	MediaImage MediaKind = "image"
	MediaVideo MediaKind = "video"
)

// Quoted is the one modeled level of reply context. When the quoted
// message carries downloadable media, Media and Raw let transports
// fetch it the same way they fetch the envelope's own media.
type Quoted struct {
	Text     string
	SenderID string
	Media    *MediaRef
	Raw      *waE2E.Message
}

// MediaRef is an opaque handle to the envelope's media. The actual
// download goes through the transport using the envelope's Raw message.
type MediaRef struct {
	Kind     MediaKind
	MimeType string
}

// Envelope is the canonical decoded form of one inbound chat event.
type Envelope struct {
	// ID is the platform message id, used for receipts and reactions.
	ID string

	// SenderJID is the full sender JID (with server), needed when
	// quoting the message back in a group.
	SenderJID string

	// SenderID is the bare phone number of the sender and the key for
	// conversation state.
	SenderID string

	// SenderName is the sender's display (push) name.
	SenderName string

	// ChatJID is the conversation the event arrived in.
	ChatJID string

	// Origin is derived once from the chat JID and never recomputed.
	Origin Origin

	// Body is the user-visible text: the message text for text
	// variants, the caption for image and video variants.
	Body string

	Quoted *Quoted
	Media  *MediaRef

	Timestamp time.Time

	// Raw is the unwrapped protocol message backing this envelope.
	// Transports use it for media download and reply quoting; the core
	// treats it as opaque.
	Raw *waE2E.Message
}

// IsGroup reports whether the envelope originated in a group chat.
func (e *Envelope) IsGroup() bool {
	return e.Origin == OriginGroup
}

// Tokenize splits a message body into a command token, the raw
// remainder, and the remainder's individual fields. The split happens
// on the first whitespace run. When prefix is non-empty and present it
// is stripped from the command token; a bare token is accepted either
// way.
func Tokenize(body, prefix string) (command, fullArgs string, args []string) {
	trimmed := strings.TrimSpace(body)
	if trimmed == "" {
		return "", "", nil
	}

	fields := strings.Fields(trimmed)
	command = fields[0]
	if prefix != "" {
		command = strings.TrimPrefix(command, prefix)
	}
	fullArgs = strings.TrimSpace(strings.TrimPrefix(trimmed, fields[0]))
	if len(fields) > 1 {
		args = fields[1:]
	}
	return command, fullArgs, args
}
