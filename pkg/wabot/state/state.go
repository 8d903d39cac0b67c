// Package state holds per-user conversation history with a sliding
// expiry window. Two backends implement the same Store contract: Redis
// (hash per user, TTL refreshed on every write) and an in-memory map
// for tests and single-node deployments without Redis.
package state

import (
	"errors"
	"fmt"
	"time"
)

// Errors returned by Store implementations.
var (
	// ErrNotFound is returned by operations that require an existing
	// record (Append, ReplaceTurnContent, FilterByRole).
	ErrNotFound = errors.New("chat state not found")

	// ErrIndexOutOfRange is returned by ReplaceTurnContent when the turn
	// index does not exist.
	ErrIndexOutOfRange = errors.New("turn index out of range")
)

// DefaultTTL is the sliding expiry window for a conversation. Every
// write refreshes it; idle conversations expire without a sweep.
const DefaultTTL = 2 * time.Hour

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// PartType identifies the kind of a content part within a turn.
type PartType string

const (
	PartText  PartType = "text"
	PartImage PartType = "image"
)

// Part is a single content element of a turn. Image parts carry the
// raw bytes base64-encoded plus the MIME type.
type Part struct {
	Type     PartType `json:"type"`
	Text     string   `json:"text,omitempty"`
	Data     string   `json:"data,omitempty"`
	MimeType string   `json:"mime_type,omitempty"`
}

// ToolCall records a tool invocation requested by the assistant, kept
// verbatim in history so the provider sees its own prior calls.
type ToolCall struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// Turn is one role-tagged message in a conversation history.
// Assistant turns may carry tool calls; tool turns carry the matching
// ToolCallID so call/result pairs survive a round trip through storage.
type Turn struct {
	Role       Role       `json:"role"`
	Parts      []Part     `json:"parts,omitempty"`
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

// TextTurn builds a turn with a single text part.
func TextTurn(role Role, text string) Turn {
	return Turn{
		Role:  role,
		Parts: []Part{{Type: PartText, Text: text}},
	}
}

// TextContent joins the text parts of the turn.
func (t Turn) TextContent() string {
	var out string
	for _, p := range t.Parts {
		if p.Type != PartText {
			continue
		}
		if out != "" {
			out += "\n"
		}
		out += p.Text
	}
	return out
}

// ChatState is the durable conversation record for one end user.
type ChatState struct {
	UserID      string    `json:"user_id"`
	DisplayName string    `json:"display_name"`
	CreatedAt   time.Time `json:"created_at"`
	History     []Turn    `json:"history"`
}

// Clone returns a deep copy so callers can mutate freely.
func (s *ChatState) Clone() *ChatState {
	if s == nil {
		return nil
	}
	cp := *s
	cp.History = cloneHistory(s.History)
	return &cp
}

func cloneHistory(h []Turn) []Turn {
	if h == nil {
		return nil
	}
	out := make([]Turn, len(h))
	for i, t := range h {
		out[i] = t
		out[i].Parts = append([]Part(nil), t.Parts...)
		out[i].ToolCalls = append([]ToolCall(nil), t.ToolCalls...)
	}
	return out
}

// removeTurn drops the turn at index, preserving the order of the rest.
// Out-of-range indexes are a no-op, mirroring a filter.
func removeTurn(h []Turn, index int) []Turn {
	if index < 0 || index >= len(h) {
		return h
	}
	out := make([]Turn, 0, len(h)-1)
	out = append(out, h[:index]...)
	return append(out, h[index+1:]...)
}

// replaceTurnContent swaps the content of the turn at index for a
// single text part. The role and tool metadata are untouched.
func replaceTurnContent(h []Turn, index int, text string) error {
	if index < 0 || index >= len(h) {
		return fmt.Errorf("index %d: %w", index, ErrIndexOutOfRange)
	}
	h[index].Parts = []Part{{Type: PartText, Text: text}}
	return nil
}

// filterByRole returns the turns matching role, in history order.
func filterByRole(h []Turn, role Role) []Turn {
	var out []Turn
	for _, t := range h {
		if t.Role == role {
			out = append(out, t)
		}
	}
	return out
}
