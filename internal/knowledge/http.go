package knowledge

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPSearcher searches an OpenAI-compatible vector store endpoint.
type HTTPSearcher struct {
	baseURL string
	apiKey  string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPSearcher creates a searcher for POST <base>/vector_stores/{id}/search.
func NewHTTPSearcher(baseURL, apiKey string, client *http.Client, logger *slog.Logger) *HTTPSearcher {
	if client == nil {
		client = &http.Client{Timeout: 20 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPSearcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		client:  client,
		logger:  logger,
	}
}

type vectorSearchResponse struct {
	Data []struct {
		FileID   string  `json:"file_id"`
		Filename string  `json:"filename"`
		Score    float64 `json:"score"`
		Content  []struct {
			Type string `json:"type"`
			Text string `json:"text"`
		} `json:"content"`
	} `json:"data"`
}

// Search runs query against the vector store.
func (s *HTTPSearcher) Search(ctx context.Context, vectorStoreID, query string, maxResults int) ([]Result, error) {
	if vectorStoreID == "" {
		return nil, fmt.Errorf("vector store id is required")
	}
	body, err := json.Marshal(map[string]any{
		"query":           query,
		"max_num_results": maxResults,
	})
	if err != nil {
		return nil, fmt.Errorf("encode search request: %w", err)
	}

	endpoint := s.baseURL + "/vector_stores/" + url.PathEscape(vectorStoreID) + "/search"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build search request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if s.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+s.apiKey)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("knowledge search request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("knowledge search returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(snippet)))
	}

	var decoded vectorSearchResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 4<<20)).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("decode search response: %w", err)
	}

	results := make([]Result, 0, len(decoded.Data))
	for _, d := range decoded.Data {
		var parts []string
		for _, c := range d.Content {
			if c.Type == "text" && c.Text != "" {
				parts = append(parts, c.Text)
			}
		}
		results = append(results, Result{
			FileID:   d.FileID,
			Filename: d.Filename,
			Score:    d.Score,
			Text:     strings.Join(parts, "\n"),
		})
	}
	s.logger.Debug("knowledge search completed", "vector_store_id", vectorStoreID, "results", len(results))
	return results, nil
}
