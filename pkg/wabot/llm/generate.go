package llm

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wabotdev/wabot/pkg/wabot/state"
)

// DefaultMaxSteps bounds the tool loop when the caller does not.
const DefaultMaxSteps = 4

// Tool pairs a wire-level definition with its local handler.
type Tool struct {
	Definition ToolDefinition
	Handler    func(ctx context.Context, args map[string]any) (string, error)
}

// GenerateOptions controls a Generate call.
type GenerateOptions struct {
	// System is the system prompt prepended to the conversation.
	System string

	// MaxSteps bounds the number of model round trips in the tool loop.
	MaxSteps int

	// Tools are offered to the model for function calling.
	Tools []Tool
}

// Result is the outcome of a Generate call.
type Result struct {
	// Text is the final assistant message.
	Text string

	// Messages are the new turns this call produced, in order: any
	// assistant tool-call turns, their tool results, and the final
	// assistant text. Appending them to the stored history preserves
	// the full exchange.
	Messages []state.Turn

	// Usage is the token usage accumulated across all steps.
	Usage Usage
}

// Generate runs a chat completion over the conversation history,
// executing requested tools until the model produces a final text
// answer or the step budget runs out.
func (c *Client) Generate(ctx context.Context, history []state.Turn, opts GenerateOptions) (*Result, error) {
	maxSteps := opts.MaxSteps
	if maxSteps <= 0 {
		maxSteps = DefaultMaxSteps
	}

	messages := make([]chatMessage, 0, len(history)+2)
	if opts.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: opts.System})
	}
	for _, turn := range history {
		messages = append(messages, turnToWire(turn))
	}

	defs := make([]ToolDefinition, len(opts.Tools))
	byName := make(map[string]Tool, len(opts.Tools))
	for i, tool := range opts.Tools {
		defs[i] = tool.Definition
		byName[tool.Definition.Function.Name] = tool
	}

	result := &Result{}

	for step := 0; step < maxSteps; step++ {
		// Withhold tools on the last step to force a text answer.
		stepTools := defs
		if step == maxSteps-1 {
			stepTools = nil
		}

		resp, err := c.complete(ctx, messages, stepTools)
		if err != nil {
			return nil, err
		}
		result.Usage.Add(resp.Usage)

		if len(resp.ToolCalls) == 0 {
			result.Text = resp.Content
			result.Messages = append(result.Messages, state.TextTurn(state.RoleAssistant, resp.Content))
			return result, nil
		}

		callTurn := assistantCallTurn(resp)
		result.Messages = append(result.Messages, callTurn)
		messages = append(messages, turnToWire(callTurn))

		for _, call := range resp.ToolCalls {
			output := c.executeTool(ctx, byName, call)
			toolTurn := state.Turn{
				Role:       state.RoleTool,
				Parts:      []state.Part{{Type: state.PartText, Text: output}},
				ToolCallID: call.ID,
			}
			result.Messages = append(result.Messages, toolTurn)
			messages = append(messages, turnToWire(toolTurn))
		}
	}

	return nil, fmt.Errorf("no final answer after %d steps", maxSteps)
}

// executeTool runs one requested tool call. Failures are reported back
// to the model as the tool output so it can recover or apologize.
func (c *Client) executeTool(ctx context.Context, byName map[string]Tool, call ToolCall) string {
	name := call.Function.Name
	tool, ok := byName[name]
	if !ok {
		c.logger.Warn("model requested unknown tool", "tool", name)
		return fmt.Sprintf("error: unknown tool %q", name)
	}

	var args map[string]any
	if call.Function.Arguments != "" {
		if err := json.Unmarshal([]byte(call.Function.Arguments), &args); err != nil {
			c.logger.Warn("invalid tool arguments", "tool", name, "error", err)
			return fmt.Sprintf("error: invalid arguments: %v", err)
		}
	}

	c.logger.Info("executing tool", "tool", name)
	output, err := tool.Handler(ctx, args)
	if err != nil {
		c.logger.Warn("tool execution failed", "tool", name, "error", err)
		return fmt.Sprintf("error: %v", err)
	}
	return output
}

// assistantCallTurn converts a tool-calling completion into a history
// turn, preserving call IDs and serialized arguments verbatim.
func assistantCallTurn(resp *completion) state.Turn {
	turn := state.Turn{Role: state.RoleAssistant}
	if resp.Content != "" {
		turn.Parts = []state.Part{{Type: state.PartText, Text: resp.Content}}
	}
	for _, call := range resp.ToolCalls {
		turn.ToolCalls = append(turn.ToolCalls, state.ToolCall{
			ID:        call.ID,
			Name:      call.Function.Name,
			Arguments: call.Function.Arguments,
		})
	}
	return turn
}

// turnToWire converts a stored turn to the OpenAI message shape.
// Single-text turns stay plain strings; turns with image parts become
// multimodal content arrays with base64 data URLs.
func turnToWire(turn state.Turn) chatMessage {
	msg := chatMessage{
		Role:       string(turn.Role),
		ToolCallID: turn.ToolCallID,
	}
	for _, call := range turn.ToolCalls {
		msg.ToolCalls = append(msg.ToolCalls, ToolCall{
			ID:   call.ID,
			Type: "function",
			Function: FunctionCall{
				Name:      call.Name,
				Arguments: call.Arguments,
			},
		})
	}

	if !hasImageParts(turn) {
		msg.Content = turn.TextContent()
		return msg
	}

	parts := make([]contentPart, 0, len(turn.Parts))
	for _, p := range turn.Parts {
		switch p.Type {
		case state.PartText:
			parts = append(parts, contentPart{Type: "text", Text: p.Text})
		case state.PartImage:
			parts = append(parts, contentPart{
				Type:     "image_url",
				ImageURL: &imageURL{URL: fmt.Sprintf("data:%s;base64,%s", p.MimeType, p.Data)},
			})
		}
	}
	msg.Content = parts
	return msg
}

func hasImageParts(turn state.Turn) bool {
	for _, p := range turn.Parts {
		if p.Type == state.PartImage {
			return true
		}
	}
	return false
}
