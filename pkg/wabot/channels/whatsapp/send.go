package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/wabotdev/wabot/pkg/wabot/channels"
	"github.com/wabotdev/wabot/pkg/wabot/message"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"
)

var _ channels.Transport = (*WhatsApp)(nil)

// SendText sends a text message, optionally quoting an envelope.
func (w *WhatsApp) SendText(ctx context.Context, chatJID, text string, quote *message.Envelope) error {
	if !w.connected.Load() {
		return channels.ErrDisconnected
	}

	jid, err := parseJID(chatJID)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", chatJID, err)
	}

	_, err = w.client.SendMessage(ctx, jid, buildTextMessage(text, quote))
	if err != nil {
		return fmt.Errorf("sending message: %w", err)
	}
	return nil
}

// SendSticker uploads webp sticker bytes and sends them to the chat.
func (w *WhatsApp) SendSticker(ctx context.Context, chatJID string, data []byte, quote *message.Envelope) error {
	if !w.connected.Load() {
		return channels.ErrDisconnected
	}

	jid, err := parseJID(chatJID)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", chatJID, err)
	}

	uploaded, err := w.client.Upload(ctx, data, whatsmeow.MediaImage)
	if err != nil {
		return fmt.Errorf("uploading sticker: %w", err)
	}

	sticker := &waE2E.StickerMessage{
		URL:           proto.String(uploaded.URL),
		DirectPath:    proto.String(uploaded.DirectPath),
		MediaKey:      uploaded.MediaKey,
		Mimetype:      proto.String("image/webp"),
		FileEncSHA256: uploaded.FileEncSHA256,
		FileSHA256:    uploaded.FileSHA256,
		FileLength:    proto.Uint64(uploaded.FileLength),
	}
	if quote != nil {
		sticker.ContextInfo = quoteContext(quote)
	}

	_, err = w.client.SendMessage(ctx, jid, &waE2E.Message{StickerMessage: sticker})
	if err != nil {
		return fmt.Errorf("sending sticker: %w", err)
	}
	return nil
}

// React attaches an emoji reaction to the envelope's message.
func (w *WhatsApp) React(ctx context.Context, env *message.Envelope, emoji string) error {
	if !w.connected.Load() {
		return channels.ErrDisconnected
	}

	chat, err := parseJID(env.ChatJID)
	if err != nil {
		return fmt.Errorf("invalid chat JID: %w", err)
	}
	sender, err := parseJID(env.SenderJID)
	if err != nil {
		return fmt.Errorf("invalid sender JID: %w", err)
	}

	reaction := w.client.BuildReaction(chat, sender, types.MessageID(env.ID), emoji)
	_, err = w.client.SendMessage(ctx, chat, reaction)
	if err != nil {
		return fmt.Errorf("sending reaction: %w", err)
	}
	return nil
}

// MarkRead marks the envelope's message as read.
func (w *WhatsApp) MarkRead(ctx context.Context, env *message.Envelope) error {
	if !w.connected.Load() {
		return channels.ErrDisconnected
	}

	chat, err := parseJID(env.ChatJID)
	if err != nil {
		return err
	}
	sender, err := parseJID(env.SenderJID)
	if err != nil {
		return err
	}

	ids := []types.MessageID{types.MessageID(env.ID)}
	return w.client.MarkRead(ctx, ids, time.Now(), chat, sender)
}

// DownloadMedia fetches and decrypts the envelope's media attachment.
// A quoted message's media is preferred over the envelope's own, so
// replying "sticker" to an image works the same as captioning one.
func (w *WhatsApp) DownloadMedia(ctx context.Context, env *message.Envelope) ([]byte, string, error) {
	raw, mimeType, err := downloadSource(env)
	if err != nil {
		return nil, "", err
	}

	data, err := w.client.DownloadAny(ctx, raw)
	if err != nil {
		return nil, "", fmt.Errorf("%w: %v", channels.ErrMediaDownloadFailed, err)
	}
	return data, mimeType, nil
}

// downloadSource picks the message to download from: the quoted
// message when it carries media, otherwise the envelope's own.
func downloadSource(env *message.Envelope) (*waE2E.Message, string, error) {
	if env.Quoted != nil && env.Quoted.Media != nil && env.Quoted.Raw != nil {
		return env.Quoted.Raw, env.Quoted.Media.MimeType, nil
	}
	if env.Media != nil && env.Raw != nil {
		return env.Raw, env.Media.MimeType, nil
	}
	return nil, "", channels.ErrNoMedia
}

// buildTextMessage builds an outgoing text proto. With a quote the
// message becomes an extended text carrying reply context.
func buildTextMessage(text string, quote *message.Envelope) *waE2E.Message {
	if quote == nil {
		return &waE2E.Message{Conversation: proto.String(text)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(text),
			ContextInfo: quoteContext(quote),
		},
	}
}

// quoteContext builds the reply context pointing at an envelope.
func quoteContext(quote *message.Envelope) *waE2E.ContextInfo {
	return &waE2E.ContextInfo{
		StanzaID:      proto.String(quote.ID),
		Participant:   proto.String(quote.SenderJID),
		QuotedMessage: quote.Raw,
	}
}

// parseJID converts a string JID to types.JID. Accepts a full JID like
// "5511999999999@s.whatsapp.net", a group ID like "123456789@g.us", or
// a bare phone number.
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	if strings.Contains(s, "@") {
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}

	return types.NewJID(digits, types.DefaultUserServer), nil
}
