// Package knowledge implements the knowledge-base search tool offered to the voice agent.
package knowledge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/ashureev/voicewidget/internal/realtime"
)

// ToolName is the function name the model calls to search the knowledge base.
const ToolName = "search_knowledge_base"

// Result is one matching passage.
type Result struct {
	FileID   string  `json:"file_id,omitempty"`
	Filename string  `json:"filename,omitempty"`
	Score    float64 `json:"score"`
	Text     string  `json:"text"`
}

// Searcher queries a vector store.
type Searcher interface {
	Search(ctx context.Context, vectorStoreID, query string, maxResults int) ([]Result, error)
}

// Tool returns the function tool definition for the realtime session.
func Tool() realtime.Tool {
	return realtime.Tool{
		Type:        "function",
		Name:        ToolName,
		Description: "Search the knowledge base for information relevant to the user's question. Use this before answering questions about products, policies, or facts you are unsure of.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"query": map[string]any{
					"type":        "string",
					"description": "The search query.",
				},
			},
			"required": []string{"query"},
		},
	}
}

// ParseQuery extracts the query from the tool call arguments.
func ParseQuery(arguments string) (string, error) {
	var args struct {
		Query string `json:"query"`
	}
	if err := json.Unmarshal([]byte(arguments), &args); err != nil {
		return "", fmt.Errorf("invalid %s arguments: %w", ToolName, err)
	}
	query := strings.TrimSpace(args.Query)
	if query == "" {
		return "", errors.New("knowledge base query is empty")
	}
	return query, nil
}

// FormatResults renders search results as the function call output.
func FormatResults(results []Result) string {
	payload := struct {
		Results []Result `json:"results"`
		Message string   `json:"message,omitempty"`
	}{Results: results}
	if len(results) == 0 {
		payload.Results = []Result{}
		payload.Message = "No relevant information found in the knowledge base."
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return `{"results":[]}`
	}
	return string(raw)
}

// FormatError renders a failed search as the function call output.
func FormatError(err error) string {
	raw, _ := json.Marshal(map[string]string{"error": "Knowledge base search failed: " + err.Error()})
	return string(raw)
}
