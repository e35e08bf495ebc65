// Package credential fetches short-lived realtime credentials for a session.
package credential

import (
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

// Credential is an ephemeral client secret scoped to one realtime session.
type Credential struct {
	Value     string
	ExpiresAt time.Time
}

// Fetcher issues credentials.
type Fetcher interface {
	Fetch(ctx context.Context, accountID, agentID string) (Credential, error)
}

// HTTPFetcher implements Fetcher against POST <base>/{accountId}/{agentId}.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPFetcher creates a credential fetcher for the token endpoint.
func NewHTTPFetcher(baseURL string, client *http.Client, logger *slog.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &HTTPFetcher{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  client,
		logger:  logger,
	}
}

// tokenResponse accepts both the flat and the nested client_secret shapes.
type tokenResponse struct {
	Value        string `json:"value"`
	ExpiresAt    int64  `json:"expires_at"`
	ClientSecret *struct {
		Value     string `json:"value"`
		ExpiresAt int64  `json:"expires_at"`
	} `json:"client_secret"`
}

// Fetch requests a new credential.
func (f *HTTPFetcher) Fetch(ctx context.Context, accountID, agentID string) (Credential, error) {
	endpoint := f.baseURL + "/" + url.PathEscape(accountID) + "/" + url.PathEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, nil)
	if err != nil {
		return Credential{}, fmt.Errorf("build token request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return Credential{}, fmt.Errorf("network error fetching session token: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Debug("failed to close token response body", "error", closeErr)
		}
	}()

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return Credential{}, fmt.Errorf("session token request lacks permission (status %d)", resp.StatusCode)
	case resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated:
		return Credential{}, fmt.Errorf("session token request failed with status %d", resp.StatusCode)
	}

	var body tokenResponse
	if err := json.NewDecoder(io.LimitReader(resp.Body, 64<<10)).Decode(&body); err != nil {
		return Credential{}, fmt.Errorf("decode session token: %w", err)
	}

	cred := Credential{Value: body.Value}
	expires := body.ExpiresAt
	if body.ClientSecret != nil && body.ClientSecret.Value != "" {
		cred.Value = body.ClientSecret.Value
		expires = body.ClientSecret.ExpiresAt
	}
	if cred.Value == "" {
		return Credential{}, fmt.Errorf("session token response has no value")
	}
	if expires > 0 {
		cred.ExpiresAt = time.Unix(expires, 0)
	}
	return cred, nil
}
