// Package tools provides the agent tools exposed to the LLM, currently
// web search backed by the Tavily API.
package tools

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"
)

// DefaultTavilyURL is the Tavily search endpoint.
const DefaultTavilyURL = "https://api.tavily.com/search"

// TavilyConfig holds Tavily client configuration.
type TavilyConfig struct {
	// APIKey authorizes requests (tvly-...).
	APIKey string `yaml:"api_key"`

	// BaseURL overrides the API endpoint, mainly for tests.
	BaseURL string `yaml:"base_url"`
}

// TavilyClient calls the Tavily web search API.
type TavilyClient struct {
	cfg        TavilyConfig
	httpClient *http.Client
	logger     *slog.Logger
}

// NewTavilyClient creates a Tavily search client.
func NewTavilyClient(cfg TavilyConfig, logger *slog.Logger) *TavilyClient {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = DefaultTavilyURL
	}
	return &TavilyClient{
		cfg:        cfg,
		logger:     logger.With("component", "tavily"),
		httpClient: &http.Client{Timeout: 30 * time.Second},
	}
}

// SearchOptions mirror the Tavily request parameters.
type SearchOptions struct {
	SearchDepth              string   `json:"search_depth,omitempty"` // "basic" or "advanced"
	Topic                    string   `json:"topic,omitempty"`        // "general" or "news"
	MaxResults               int      `json:"max_results,omitempty"`
	IncludeAnswer            bool     `json:"include_answer,omitempty"`
	IncludeImages            bool     `json:"include_images,omitempty"`
	IncludeImageDescriptions bool     `json:"include_image_descriptions,omitempty"`
	IncludeRawContent        bool     `json:"include_raw_content,omitempty"`
	IncludeDomains           []string `json:"include_domains,omitempty"`
	ExcludeDomains           []string `json:"exclude_domains,omitempty"`
}

// SearchResult is one hit in a Tavily response.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// SearchResponse is the Tavily search response.
type SearchResponse struct {
	Query        string         `json:"query"`
	Answer       string         `json:"answer,omitempty"`
	Results      []SearchResult `json:"results"`
	ResponseTime float64        `json:"response_time"`
}

type searchRequest struct {
	APIKey string `json:"api_key"`
	Query  string `json:"query"`
	SearchOptions
}

// Search runs a web search query.
func (c *TavilyClient) Search(ctx context.Context, query string, opts SearchOptions) (*SearchResponse, error) {
	body, err := json.Marshal(searchRequest{
		APIKey:        c.cfg.APIKey,
		Query:         query,
		SearchOptions: opts,
	})
	if err != nil {
		return nil, fmt.Errorf("marshaling search request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	start := time.Now()
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("search request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("reading response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("search API returned %d: %s", resp.StatusCode, string(respBody))
	}

	var searchResp SearchResponse
	if err := json.Unmarshal(respBody, &searchResp); err != nil {
		return nil, fmt.Errorf("parsing search response: %w", err)
	}

	c.logger.Info("web search done",
		"query", query,
		"results", len(searchResp.Results),
		"duration_ms", time.Since(start).Milliseconds())
	return &searchResp, nil
}
