package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/wabotdev/wabot/pkg/wabot/state"
)

func testClient(baseURL string) *Client {
	c := NewClient(Config{
		BaseURL: baseURL,
		APIKey:  "test-key",
		Model:   "test-model",
	}, slog.New(slog.NewTextHandler(os.Stdout, nil)))
	c.initialBackoff = time.Millisecond
	return c
}

func textResponse(text string) string {
	return fmt.Sprintf(`{
		"choices": [{"message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": 5, "total_tokens": 15}
	}`, text)
}

const toolCallResponse = `{
	"choices": [{
		"message": {
			"role": "assistant",
			"content": "",
			"tool_calls": [{
				"id": "call_1",
				"type": "function",
				"function": {"name": "search", "arguments": "{\"query\":\"golang\"}"}
			}]
		},
		"finish_reason": "tool_calls"
	}],
	"usage": {"prompt_tokens": 20, "completion_tokens": 8, "total_tokens": 28}
}`

func TestGenerate(t *testing.T) {
	t.Run("simple completion", func(t *testing.T) {
		var gotReq chatRequest
		var gotAuth string
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			gotAuth = r.Header.Get("Authorization")
			if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
				t.Errorf("decoding request: %v", err)
			}
			fmt.Fprint(w, textResponse("hello there"))
		}))
		defer srv.Close()

		history := []state.Turn{state.TextTurn(state.RoleUser, "hi")}
		res, err := testClient(srv.URL).Generate(context.Background(), history, GenerateOptions{
			System: "be helpful",
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if res.Text != "hello there" {
			t.Errorf("expected text, got %q", res.Text)
		}
		if len(res.Messages) != 1 || res.Messages[0].Role != state.RoleAssistant {
			t.Errorf("expected one assistant turn, got %+v", res.Messages)
		}
		if res.Usage.TotalTokens != 15 {
			t.Errorf("expected usage 15, got %d", res.Usage.TotalTokens)
		}
		if gotAuth != "Bearer test-key" {
			t.Errorf("expected bearer auth, got %q", gotAuth)
		}
		if gotReq.Model != "test-model" {
			t.Errorf("expected model in request, got %q", gotReq.Model)
		}
		if len(gotReq.Messages) != 2 || gotReq.Messages[0].Role != "system" {
			t.Errorf("expected system + user messages, got %+v", gotReq.Messages)
		}
	})

	t.Run("tool loop", func(t *testing.T) {
		var requests []chatRequest
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			var req chatRequest
			if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
				t.Errorf("decoding request: %v", err)
			}
			requests = append(requests, req)
			if len(requests) == 1 {
				fmt.Fprint(w, toolCallResponse)
				return
			}
			fmt.Fprint(w, textResponse("golang is a language"))
		}))
		defer srv.Close()

		var gotQuery string
		search := Tool{
			Definition: ToolDefinition{
				Type: "function",
				Function: FunctionDef{
					Name:       "search",
					Parameters: json.RawMessage(`{"type":"object"}`),
				},
			},
			Handler: func(_ context.Context, args map[string]any) (string, error) {
				gotQuery, _ = args["query"].(string)
				return "search results here", nil
			},
		}

		history := []state.Turn{state.TextTurn(state.RoleUser, "what is golang")}
		res, err := testClient(srv.URL).Generate(context.Background(), history, GenerateOptions{
			Tools: []Tool{search},
		})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}

		if gotQuery != "golang" {
			t.Errorf("expected parsed arguments, got %q", gotQuery)
		}
		if res.Text != "golang is a language" {
			t.Errorf("unexpected final text: %q", res.Text)
		}

		// New turns: assistant call, tool result, final assistant text.
		if len(res.Messages) != 3 {
			t.Fatalf("expected 3 new turns, got %d", len(res.Messages))
		}
		if res.Messages[0].Role != state.RoleAssistant || len(res.Messages[0].ToolCalls) != 1 {
			t.Errorf("expected assistant call turn, got %+v", res.Messages[0])
		}
		if res.Messages[1].Role != state.RoleTool || res.Messages[1].ToolCallID != "call_1" {
			t.Errorf("expected tool turn bound to call_1, got %+v", res.Messages[1])
		}
		if res.Messages[2].Role != state.RoleAssistant {
			t.Errorf("expected final assistant turn, got %+v", res.Messages[2])
		}

		// The second request must replay the call and its result.
		second := requests[1].Messages
		if second[len(second)-1].ToolCallID != "call_1" {
			t.Errorf("expected tool result in second request, got %+v", second[len(second)-1])
		}
		if res.Usage.TotalTokens != 43 {
			t.Errorf("expected accumulated usage 43, got %d", res.Usage.TotalTokens)
		}
	})

	t.Run("tool handler error is reported to the model", func(t *testing.T) {
		var requests int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			if requests == 1 {
				fmt.Fprint(w, toolCallResponse)
				return
			}
			var req chatRequest
			_ = json.NewDecoder(r.Body).Decode(&req)
			last := req.Messages[len(req.Messages)-1]
			if text, ok := last.Content.(string); !ok || !strings.Contains(text, "error:") {
				t.Errorf("expected error string as tool output, got %+v", last.Content)
			}
			fmt.Fprint(w, textResponse("sorry, search is down"))
		}))
		defer srv.Close()

		failing := Tool{
			Definition: ToolDefinition{
				Type:     "function",
				Function: FunctionDef{Name: "search"},
			},
			Handler: func(context.Context, map[string]any) (string, error) {
				return "", fmt.Errorf("upstream unavailable")
			},
		}

		res, err := testClient(srv.URL).Generate(context.Background(),
			[]state.Turn{state.TextTurn(state.RoleUser, "search something")},
			GenerateOptions{Tools: []Tool{failing}})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Text != "sorry, search is down" {
			t.Errorf("unexpected final text: %q", res.Text)
		}
	})

	t.Run("retries transient server error", func(t *testing.T) {
		var requests int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			if requests == 1 {
				w.WriteHeader(http.StatusInternalServerError)
				fmt.Fprint(w, `{"error": {"message": "internal"}}`)
				return
			}
			fmt.Fprint(w, textResponse("recovered"))
		}))
		defer srv.Close()

		res, err := testClient(srv.URL).Generate(context.Background(),
			[]state.Turn{state.TextTurn(state.RoleUser, "hi")}, GenerateOptions{})
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if res.Text != "recovered" || requests != 2 {
			t.Errorf("expected recovery on second request, got text=%q requests=%d", res.Text, requests)
		}
	})

	t.Run("auth error fails without retry", func(t *testing.T) {
		var requests int
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			requests++
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error": {"message": "invalid api key"}}`)
		}))
		defer srv.Close()

		_, err := testClient(srv.URL).Generate(context.Background(),
			[]state.Turn{state.TextTurn(state.RoleUser, "hi")}, GenerateOptions{})
		if err == nil {
			t.Fatal("expected error")
		}
		if requests != 1 {
			t.Errorf("expected a single request, got %d", requests)
		}
	})
}

func TestClassifyAPIError(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   ErrorKind
	}{
		{"rate limit status", 429, "", ErrorRateLimit},
		{"rate limit body", 500, "rate limit exceeded", ErrorRateLimit},
		{"overloaded status", 529, "", ErrorOverloaded},
		{"context overflow", 400, "maximum context length is 8192 tokens", ErrorContext},
		{"billing", 402, "", ErrorBilling},
		{"quota in body", 429, "insufficient_quota", ErrorBilling},
		{"auth", 401, "", ErrorAuth},
		{"bad request", 400, "invalid role", ErrorBadRequest},
		{"transient", 503, "", ErrorRetryable},
		{"fatal", 418, "", ErrorFatal},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyAPIError(tt.status, tt.body); got != tt.want {
				t.Errorf("expected %s, got %s", tt.want, got)
			}
		})
	}

	t.Run("retryable kinds", func(t *testing.T) {
		retryable := []ErrorKind{ErrorRetryable, ErrorRateLimit, ErrorOverloaded, ErrorTimeout}
		for _, k := range retryable {
			if !k.IsRetryable() {
				t.Errorf("expected %s to be retryable", k)
			}
		}
		for _, k := range []ErrorKind{ErrorAuth, ErrorBilling, ErrorContext, ErrorBadRequest, ErrorFatal} {
			if k.IsRetryable() {
				t.Errorf("expected %s to not be retryable", k)
			}
		}
	})
}

func TestTurnToWire(t *testing.T) {
	t.Run("text turn stays a plain string", func(t *testing.T) {
		msg := turnToWire(state.TextTurn(state.RoleUser, "hello"))
		if msg.Role != "user" {
			t.Errorf("unexpected role %q", msg.Role)
		}
		if msg.Content != "hello" {
			t.Errorf("expected plain string content, got %#v", msg.Content)
		}
	})

	t.Run("image turn becomes multimodal parts", func(t *testing.T) {
		turn := state.Turn{
			Role: state.RoleUser,
			Parts: []state.Part{
				{Type: state.PartText, Text: "what is this"},
				{Type: state.PartImage, Data: "QUJD", MimeType: "image/jpeg"},
			},
		}
		msg := turnToWire(turn)
		parts, ok := msg.Content.([]contentPart)
		if !ok {
			t.Fatalf("expected content parts, got %#v", msg.Content)
		}
		if len(parts) != 2 || parts[0].Type != "text" || parts[1].Type != "image_url" {
			t.Fatalf("unexpected parts: %+v", parts)
		}
		if parts[1].ImageURL.URL != "data:image/jpeg;base64,QUJD" {
			t.Errorf("unexpected data URL: %q", parts[1].ImageURL.URL)
		}
	})

	t.Run("tool call turn carries call metadata", func(t *testing.T) {
		turn := state.Turn{
			Role: state.RoleAssistant,
			ToolCalls: []state.ToolCall{
				{ID: "call_9", Name: "search", Arguments: `{"query":"x"}`},
			},
		}
		msg := turnToWire(turn)
		if len(msg.ToolCalls) != 1 {
			t.Fatalf("expected one tool call, got %d", len(msg.ToolCalls))
		}
		tc := msg.ToolCalls[0]
		if tc.ID != "call_9" || tc.Type != "function" || tc.Function.Name != "search" {
			t.Errorf("unexpected tool call: %+v", tc)
		}
	})
}
