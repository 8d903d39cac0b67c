// Package agent drives LLM-backed conversations: it loads the user's
// history, folds the incoming message in, runs a completion with tools
// enabled, persists the exchange, and replies over the transport.
package agent

import (
	"context"
	"encoding/base64"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/wabotdev/wabot/pkg/wabot/channels"
	"github.com/wabotdev/wabot/pkg/wabot/llm"
	"github.com/wabotdev/wabot/pkg/wabot/media"
	"github.com/wabotdev/wabot/pkg/wabot/message"
	"github.com/wabotdev/wabot/pkg/wabot/state"
)

// DefaultSystemPrompt is used when no system prompt is configured.
const DefaultSystemPrompt = "You are a helpful WhatsApp assistant. Keep answers concise and conversational."

// failureNotice is sent best-effort when the provider call fails.
const failureNotice = "Sorry, I'm having trouble thinking right now. Please try again in a moment."

// Completer is the inference surface the agent needs. *llm.Client
// satisfies it.
type Completer interface {
	Generate(ctx context.Context, history []state.Turn, opts llm.GenerateOptions) (*llm.Result, error)
}

// MediaStore is the subset of the media store the agent uses.
type MediaStore interface {
	Save(ctx context.Context, req media.SaveRequest) (*media.StoredMedia, error)
}

// Config holds agent configuration.
type Config struct {
	// Enabled turns conversational handling on.
	Enabled bool `yaml:"enabled"`

	// SystemPrompt is prepended to every conversation.
	SystemPrompt string `yaml:"system_prompt"`

	// MaxSteps bounds the tool loop per turn.
	MaxSteps int `yaml:"max_steps"`
}

// Agent handles non-command messages through the LLM.
type Agent struct {
	cfg       Config
	store     state.Store
	completer Completer
	transport channels.Transport
	media     MediaStore
	tools     []llm.Tool
	logger    *slog.Logger
}

// New creates an agent. The media store is optional; without one,
// incoming images are still sent to the model but not archived.
func New(cfg Config, store state.Store, completer Completer, transport channels.Transport, mediaStore MediaStore, tools []llm.Tool, logger *slog.Logger) *Agent {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.SystemPrompt == "" {
		cfg.SystemPrompt = DefaultSystemPrompt
	}
	return &Agent{
		cfg:       cfg,
		store:     store,
		completer: completer,
		transport: transport,
		media:     mediaStore,
		tools:     tools,
		logger:    logger.With("component", "agent"),
	}
}

// HandleTurn processes one incoming message end to end. On provider
// failure nothing is persisted, so a retry replays the same exchange.
func (a *Agent) HandleTurn(ctx context.Context, env *message.Envelope) error {
	st, err := a.store.Get(ctx, env.SenderID)
	if err != nil {
		a.logger.Warn("loading chat state failed, starting fresh",
			"user", env.SenderID, "error", err)
		st = nil
	}
	if st == nil {
		st = &state.ChatState{
			UserID:      env.SenderID,
			DisplayName: env.SenderName,
			CreatedAt:   time.Now(),
		}
	}

	userTurn, err := a.buildUserTurn(ctx, env)
	if err != nil {
		return err
	}
	history := append(st.History, userTurn)

	res, err := a.completer.Generate(ctx, history, llm.GenerateOptions{
		System:   a.cfg.SystemPrompt,
		MaxSteps: a.cfg.MaxSteps,
		Tools:    a.tools,
	})
	if err != nil {
		a.logger.Error("completion failed", "user", env.SenderID, "error", err)
		a.notifyFailure(ctx, env)
		return fmt.Errorf("generating reply: %w", err)
	}

	st.History = append(history, res.Messages...)
	if err := a.store.CreateOrReplace(ctx, st); err != nil {
		// The reply is still worth sending, the history just loses
		// this exchange.
		a.logger.Error("persisting chat state failed",
			"user", env.SenderID, "error", err)
	}

	var quote *message.Envelope
	if env.IsGroup() {
		quote = env
	}
	if err := a.transport.SendText(ctx, env.ChatJID, res.Text, quote); err != nil {
		return fmt.Errorf("sending reply: %w", err)
	}

	a.logger.Info("turn handled",
		"user", env.SenderID,
		"history_len", len(st.History),
		"total_tokens", res.Usage.TotalTokens)
	return nil
}

// buildUserTurn converts the envelope into a history turn, attaching
// image bytes when the message carries them.
func (a *Agent) buildUserTurn(ctx context.Context, env *message.Envelope) (state.Turn, error) {
	text := env.Body
	if env.Quoted != nil && env.Quoted.Text != "" {
		text = fmt.Sprintf("[in reply to: %s]\n%s", env.Quoted.Text, env.Body)
	}

	if env.Media == nil || env.Media.Kind != message.MediaImage {
		return state.TextTurn(state.RoleUser, text), nil
	}

	data, mimeType, err := a.transport.DownloadMedia(ctx, env)
	if err != nil {
		// Degrade to text-only rather than dropping the message.
		a.logger.Warn("media download failed, continuing without image",
			"user", env.SenderID, "error", err)
		return state.TextTurn(state.RoleUser, text), nil
	}
	if mimeType == "" {
		mimeType = http.DetectContentType(data)
	}

	if a.media != nil {
		if _, err := a.media.Save(ctx, media.SaveRequest{
			Data:     data,
			MimeType: mimeType,
			UserID:   env.SenderID,
			TTL:      24 * time.Hour,
		}); err != nil {
			a.logger.Warn("archiving media failed", "error", err)
		}
	}

	turn := state.Turn{
		Role: state.RoleUser,
		Parts: []state.Part{
			{Type: state.PartImage, Data: base64.StdEncoding.EncodeToString(data), MimeType: mimeType},
		},
	}
	if text != "" {
		turn.Parts = append([]state.Part{{Type: state.PartText, Text: text}}, turn.Parts...)
	}
	return turn, nil
}

func (a *Agent) notifyFailure(ctx context.Context, env *message.Envelope) {
	var quote *message.Envelope
	if env.IsGroup() {
		quote = env
	}
	if err := a.transport.SendText(ctx, env.ChatJID, failureNotice, quote); err != nil {
		a.logger.Warn("failure notice not delivered", "error", err)
	}
}
