package tools

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/wabotdev/wabot/pkg/wabot/llm"
)

// searchParameters is the JSON schema for the web search tool.
var searchParameters = json.RawMessage(`{
	"type": "object",
	"properties": {
		"query": {
			"type": "string",
			"description": "The search query"
		},
		"topic": {
			"type": "string",
			"enum": ["general", "news"],
			"description": "Search topic, use news for current events"
		}
	},
	"required": ["query"]
}`)

// SearchTool exposes Tavily web search to the agent.
func SearchTool(client *TavilyClient, logger *slog.Logger) llm.Tool {
	if logger == nil {
		logger = slog.Default()
	}

	return llm.Tool{
		Definition: llm.ToolDefinition{
			Type: "function",
			Function: llm.FunctionDef{
				Name:        "web_search",
				Description: "Search the web for up-to-date information. Use this for questions about current events, facts you are unsure about, or anything after your knowledge cutoff.",
				Parameters:  searchParameters,
			},
		},
		Handler: func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			if strings.TrimSpace(query) == "" {
				return "", fmt.Errorf("query is required")
			}
			topic, _ := args["topic"].(string)

			resp, err := client.Search(ctx, query, SearchOptions{
				SearchDepth:   "basic",
				Topic:         topic,
				MaxResults:    5,
				IncludeAnswer: true,
			})
			if err != nil {
				return "", err
			}
			return formatResults(resp), nil
		},
	}
}

// formatResults renders a search response as compact text for the
// model's context window.
func formatResults(resp *SearchResponse) string {
	var b strings.Builder
	if resp.Answer != "" {
		b.WriteString("Answer: " + resp.Answer + "\n\n")
	}
	if len(resp.Results) == 0 {
		b.WriteString("No results found.")
		return b.String()
	}
	b.WriteString("Sources:\n")
	for i, r := range resp.Results {
		fmt.Fprintf(&b, "%d. %s (%s)\n%s\n", i+1, r.Title, r.URL, r.Content)
	}
	return strings.TrimRight(b.String(), "\n")
}
