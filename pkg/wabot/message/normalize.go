package message

import (
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"
)

// Normalize decodes a raw whatsmeow message event into an Envelope.
// It returns nil for events carrying no user content: protocol and
// sender-key-distribution frames, unrecognized variants, and anything
// in the status broadcast channel. Dropping is silent; the caller just
// moves on to the next event.
//
// Exactly one content variant is extracted per event, in a fixed
// priority order (extended text > image > video > plain conversation),
// because payloads may carry residual fields from unrelated variants.
func Normalize(evt *events.Message) *Envelope {
	if evt == nil || evt.Message == nil {
		return nil
	}
	if evt.Info.Chat == types.StatusBroadcastJID {
		return nil
	}

	msg := unwrap(evt.Message)

	body, ctxInfo, media, ok := extractContent(msg)
	if !ok {
		return nil
	}

	env := &Envelope{
		ID:         string(evt.Info.ID),
		SenderJID:  evt.Info.Sender.String(),
		SenderID:   evt.Info.Sender.User,
		SenderName: evt.Info.PushName,
		ChatJID:    evt.Info.Chat.String(),
		Origin:     originOf(evt.Info.Chat),
		Body:       body,
		Media:      media,
		Timestamp:  evt.Info.Timestamp,
		Raw:        msg,
	}
	if env.SenderName == "" {
		env.SenderName = "anonymous"
	}

	if ctxInfo != nil && ctxInfo.QuotedMessage != nil {
		quoted := &Quoted{
			SenderID: participantUser(ctxInfo.GetParticipant()),
		}
		if text, _, qMedia, ok := extractContent(ctxInfo.QuotedMessage); ok {
			quoted.Text = text
			quoted.Media = qMedia
			if qMedia != nil {
				quoted.Raw = ctxInfo.QuotedMessage
			}
		}
		env.Quoted = quoted
	}

	return env
}

// unwrap peels a single ephemeral (disappearing-message) wrapper.
// Only one level exists on the wire.
func unwrap(msg *waE2E.Message) *waE2E.Message {
	if eph := msg.GetEphemeralMessage(); eph != nil && eph.GetMessage() != nil {
		return eph.GetMessage()
	}
	return msg
}

// extractContent picks the first matching content variant and returns
// its text, reply context, and media reference. ok is false for
// control frames and unrecognized variants.
func extractContent(msg *waE2E.Message) (body string, ctxInfo *waE2E.ContextInfo, media *MediaRef, ok bool) {
	switch {
	case msg.ExtendedTextMessage != nil:
		ext := msg.ExtendedTextMessage
		return ext.GetText(), ext.GetContextInfo(), nil, true

	case msg.ImageMessage != nil:
		img := msg.ImageMessage
		return img.GetCaption(), img.GetContextInfo(), &MediaRef{
			Kind:     MediaImage,
			MimeType: img.GetMimetype(),
		}, true

	case msg.VideoMessage != nil:
		vid := msg.VideoMessage
		return vid.GetCaption(), vid.GetContextInfo(), &MediaRef{
			Kind:     MediaVideo,
			MimeType: vid.GetMimetype(),
		}, true

	case msg.Conversation != nil:
		return msg.GetConversation(), nil, nil, true

	default:
		// Protocol frames, key distribution, reactions, everything else.
		return "", nil, nil, false
	}
}

func originOf(chat types.JID) Origin {
	if chat.Server == types.GroupServer {
		return OriginGroup
	}
	return OriginPrivate
}

// participantUser extracts the bare user part from a JID string like
// "6281234567890@s.whatsapp.net" or "6281234567890:12@s.whatsapp.net".
func participantUser(jid string) string {
	if jid == "" {
		return ""
	}
	parsed, err := types.ParseJID(jid)
	if err != nil {
		return ""
	}
	return parsed.User
}
