// Package summary condenses finished conversation transcripts into short notes that are
// fed back to the agent as conversation history.
package summary

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ashureev/voicewidget/internal/domain"
)

// ErrEmptyTranscript is returned when there is nothing to summarize.
var ErrEmptyTranscript = errors.New("empty transcript")

// Summarizer produces a short summary of a finished conversation.
type Summarizer interface {
	Summarize(ctx context.Context, transcript []domain.TranscriptEntry) (string, error)
}

const systemPrompt = `You summarize customer conversations held with a voice assistant.
Write two or three plain sentences covering what the user wanted and what they were told.
Do not invent details. Output only the summary.`

// OpenAISummarizer summarizes with a chat completion model.
type OpenAISummarizer struct {
	client    *openai.Client
	model     string
	maxTokens int
	timeout   time.Duration
	logger    *slog.Logger
}

// NewOpenAISummarizer creates a summarizer. An empty baseURL uses the public API.
func NewOpenAISummarizer(apiKey, model, baseURL string, logger *slog.Logger) *OpenAISummarizer {
	if logger == nil {
		logger = slog.Default()
	}
	if model == "" {
		model = openai.GPT4oMini
	}
	cfg := openai.DefaultConfig(apiKey)
	if baseURL != "" {
		cfg.BaseURL = strings.TrimRight(baseURL, "/")
	}
	return &OpenAISummarizer{
		client:    openai.NewClientWithConfig(cfg),
		model:     model,
		maxTokens: 200,
		timeout:   30 * time.Second,
		logger:    logger,
	}
}

// Summarize renders the transcript as "ROLE: text" lines and asks the model for a summary.
func (s *OpenAISummarizer) Summarize(ctx context.Context, transcript []domain.TranscriptEntry) (string, error) {
	var b strings.Builder
	for _, entry := range transcript {
		text := strings.TrimSpace(entry.Text)
		if text == "" {
			continue
		}
		b.WriteString(strings.ToUpper(entry.Role))
		b.WriteString(": ")
		b.WriteString(text)
		b.WriteString("\n")
	}
	if b.Len() == 0 {
		return "", ErrEmptyTranscript
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	resp, err := s.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model:       s.model,
		Temperature: 0.2,
		MaxTokens:   s.maxTokens,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt},
			{Role: openai.ChatMessageRoleUser, Content: b.String()},
		},
	})
	if err != nil {
		return "", fmt.Errorf("summarize conversation: %w", err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("summarize conversation: no choices")
	}

	out := strings.TrimSpace(resp.Choices[0].Message.Content)
	s.logger.Debug("conversation summarized", "model", s.model, "turns", len(transcript), "chars", len(out))
	return out, nil
}
