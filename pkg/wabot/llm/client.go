// Package llm implements an OpenAI-compatible chat completions client
// with function calling support and provider-aware retry. It works
// against OpenAI, OpenRouter, Groq, local ollama, and any other
// endpoint speaking the same wire format.
package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"
)

// Config holds LLM client configuration.
type Config struct {
	// BaseURL is the API root, e.g. "https://api.openai.com/v1".
	BaseURL string `yaml:"base_url"`

	// APIKey is sent as an Authorization bearer token.
	APIKey string `yaml:"api_key"`

	// Model is the model identifier to request.
	Model string `yaml:"model"`

	// MaxRetries caps retry attempts for retryable errors.
	MaxRetries int `yaml:"max_retries"`
}

// Client talks to an OpenAI-compatible chat completions endpoint.
type Client struct {
	cfg        Config
	httpClient *http.Client
	logger     *slog.Logger

	initialBackoff time.Duration
	maxBackoff     time.Duration
}

// NewClient creates an LLM client from config.
func NewClient(cfg Config, logger *slog.Logger) *Client {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = "https://api.openai.com/v1"
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.MaxRetries == 0 {
		cfg.MaxRetries = 2
	}

	return &Client{
		cfg:            cfg,
		logger:         logger.With("component", "llm"),
		initialBackoff: time.Second,
		maxBackoff:     30 * time.Second,
		httpClient: &http.Client{
			// No global timeout, each call carries its own context
			// deadline. A client-wide timeout would race long tool-heavy
			// completions.
			Transport: &http.Transport{
				MaxIdleConns:          10,
				MaxIdleConnsPerHost:   5,
				IdleConnTimeout:       120 * time.Second,
				TLSHandshakeTimeout:   10 * time.Second,
				ResponseHeaderTimeout: 180 * time.Second,
			},
		},
	}
}

// ---------- Wire Types ----------

type chatMessage struct {
	Role       string     `json:"role"`
	Content    any        `json:"content"` // string or []contentPart
	ToolCalls  []ToolCall `json:"tool_calls,omitempty"`
	ToolCallID string     `json:"tool_call_id,omitempty"`
}

type contentPart struct {
	Type     string    `json:"type"` // "text" or "image_url"
	Text     string    `json:"text,omitempty"`
	ImageURL *imageURL `json:"image_url,omitempty"`
}

type imageURL struct {
	URL string `json:"url"`
}

type chatRequest struct {
	Model    string           `json:"model"`
	Messages []chatMessage    `json:"messages"`
	Tools    []ToolDefinition `json:"tools,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Role      string     `json:"role"`
			Content   string     `json:"content"`
			ToolCalls []ToolCall `json:"tool_calls"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
	} `json:"error"`
}

// ToolDefinition is an OpenAI-compatible tool definition.
type ToolDefinition struct {
	Type     string      `json:"type"`
	Function FunctionDef `json:"function"`
}

// FunctionDef describes a callable function exposed to the model.
type FunctionDef struct {
	Name        string          `json:"name"`
	Description string          `json:"description"`
	Parameters  json.RawMessage `json:"parameters"`
}

// ToolCall represents a tool invocation requested by the model.
type ToolCall struct {
	ID       string       `json:"id"`
	Type     string       `json:"type"`
	Function FunctionCall `json:"function"`
}

// FunctionCall holds the function name and serialized arguments.
type FunctionCall struct {
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// completion is the parsed result of one request.
type completion struct {
	Content      string
	ToolCalls    []ToolCall
	FinishReason string
	Usage        Usage
}

// Usage holds token usage from the API response.
type Usage struct {
	PromptTokens     int
	CompletionTokens int
	TotalTokens      int
}

// Add accumulates usage across the steps of a tool loop.
func (u *Usage) Add(other Usage) {
	u.PromptTokens += other.PromptTokens
	u.CompletionTokens += other.CompletionTokens
	u.TotalTokens += other.TotalTokens
}

// ---------- Request Path ----------

// complete performs a chat completion with retry on transient errors,
// honoring Retry-After for rate limits.
func (c *Client) complete(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*completion, error) {
	var lastErr error

	for attempt := 0; ; attempt++ {
		resp, err := c.completeOnce(ctx, messages, tools)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		apierr, isAPI := err.(*apiError)
		if !isAPI || !apierr.Kind().IsRetryable() {
			return nil, err
		}
		if attempt >= c.cfg.MaxRetries {
			c.logger.Warn("exhausted completion retries",
				"attempts", attempt+1, "error", err)
			break
		}

		backoff := c.initialBackoff
		for i := 0; i < attempt; i++ {
			backoff *= 2
			if backoff > c.maxBackoff {
				backoff = c.maxBackoff
				break
			}
		}
		if apierr.statusCode == 429 && apierr.retryAfterSec > 0 {
			serverDelay := time.Duration(apierr.retryAfterSec) * time.Second
			if serverDelay > c.maxBackoff {
				serverDelay = c.maxBackoff
			}
			if serverDelay > backoff {
				backoff = serverDelay
			}
		}

		c.logger.Info("retrying after retryable error",
			"attempt", attempt+1,
			"kind", apierr.Kind().String(),
			"backoff_ms", backoff.Milliseconds(),
			"error", err)

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("context cancelled during backoff: %w", ctx.Err())
		case <-time.After(backoff):
		}
	}

	return nil, fmt.Errorf("retries exhausted: %w", lastErr)
}

// completeOnce performs a single chat completion request. Returns
// *apiError on HTTP errors so the caller can classify and retry.
func (c *Client) completeOnce(ctx context.Context, messages []chatMessage, tools []ToolDefinition) (*completion, error) {
	reqBody := chatRequest{
		Model:    c.cfg.Model,
		Messages: messages,
	}
	if len(tools) > 0 {
		reqBody.Tools = tools
	}

	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("marshaling request: %w", err)
	}

	endpoint := c.cfg.BaseURL + "/chat/completions"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	c.logger.Debug("sending chat completion",
		"model", c.cfg.Model,
		"messages", len(messages),
		"tools", len(tools))

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	bodyStr := string(respBody)

	if resp.StatusCode != http.StatusOK {
		apierr := &apiError{statusCode: resp.StatusCode, body: bodyStr}
		if resp.StatusCode == 429 {
			if ra := resp.Header.Get("Retry-After"); ra != "" {
				if sec, err := strconv.Atoi(ra); err == nil && sec > 0 {
					apierr.retryAfterSec = sec
				}
			}
		}
		c.logger.Error("API error",
			"status", resp.StatusCode,
			"body", truncate(bodyStr, 500))
		return nil, apierr
	}

	var chatResp chatResponse
	if err := json.Unmarshal(respBody, &chatResp); err != nil {
		return nil, fmt.Errorf("parsing response: %w", err)
	}
	if chatResp.Error != nil {
		return nil, fmt.Errorf("API error: %s", chatResp.Error.Message)
	}
	if len(chatResp.Choices) == 0 {
		return nil, fmt.Errorf("no response from model")
	}

	choice := chatResp.Choices[0]
	c.logger.Info("chat completion done",
		"model", c.cfg.Model,
		"duration_ms", time.Since(start).Milliseconds(),
		"prompt_tokens", chatResp.Usage.PromptTokens,
		"completion_tokens", chatResp.Usage.CompletionTokens,
		"finish_reason", choice.FinishReason,
		"tool_calls", len(choice.Message.ToolCalls))

	return &completion{
		Content:      strings.TrimSpace(choice.Message.Content),
		ToolCalls:    choice.Message.ToolCalls,
		FinishReason: choice.FinishReason,
		Usage: Usage{
			PromptTokens:     chatResp.Usage.PromptTokens,
			CompletionTokens: chatResp.Usage.CompletionTokens,
			TotalTokens:      chatResp.Usage.TotalTokens,
		},
	}, nil
}
