// Package agentconfig retrieves agent definitions from the remote configuration endpoint.
package agentconfig

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ashureev/voicewidget/internal/domain"
)

// maxConfigBodySize bounds the configuration document read from the endpoint.
const maxConfigBodySize = 1 << 20

var (
	// ErrInactive is returned when the agent exists but is switched off.
	ErrInactive = errors.New("agent is inactive")
	// ErrInvalidConfig is returned when required fields are missing.
	ErrInvalidConfig = errors.New("invalid agent config")
)

// Fetcher retrieves the configuration of one agent.
type Fetcher interface {
	Fetch(ctx context.Context, accountID, agentID string) (*domain.AgentConfig, error)
}

// HTTPFetcher implements Fetcher against GET <base>/{accountId}/{agentId}.
type HTTPFetcher struct {
	baseURL string
	client  *http.Client
	logger  *slog.Logger
}

// NewHTTPFetcher creates a fetcher for the given endpoint base.
func NewHTTPFetcher(baseURL string, client *http.Client, logger *slog.Logger) *HTTPFetcher {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
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

// Fetch loads and validates the agent config. Callers bound the wait through ctx.
func (f *HTTPFetcher) Fetch(ctx context.Context, accountID, agentID string) (*domain.AgentConfig, error) {
	if strings.TrimSpace(accountID) == "" || strings.TrimSpace(agentID) == "" {
		return nil, fmt.Errorf("%w: account and agent identifiers are required", ErrInvalidConfig)
	}

	endpoint := f.baseURL + "/" + url.PathEscape(accountID) + "/" + url.PathEscape(agentID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("build config request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch agent config: %w", err)
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			f.logger.Debug("failed to close config response body", "error", closeErr)
		}
	}()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch agent config: unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxConfigBodySize))
	if err != nil {
		return nil, fmt.Errorf("read agent config: %w", err)
	}

	var cfg domain.AgentConfig
	if err := json.Unmarshal(body, &cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.ID == "" {
		cfg.ID = agentID
	}

	if !cfg.Active {
		return &cfg, ErrInactive
	}
	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks the fields a session cannot start without.
func Validate(cfg *domain.AgentConfig) error {
	if cfg == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	var missing []string
	if strings.TrimSpace(cfg.Name) == "" {
		missing = append(missing, "name")
	}
	if strings.TrimSpace(cfg.Voice) == "" {
		missing = append(missing, "voice")
	}
	if len(missing) > 0 {
		return fmt.Errorf("%w: missing %s", ErrInvalidConfig, strings.Join(missing, ", "))
	}
	return nil
}
