// Package store provides data persistence interfaces and implementations.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/ashureev/voicewidget/internal/domain"
)

// ErrNotFound is returned when an update targets a conversation that does not exist.
var ErrNotFound = errors.New("conversation not found")

// Repository defines the interface for persisting finished conversations.
type Repository interface {
	// SaveConversation inserts a finished conversation. Saving the same ID twice is a no-op.
	SaveConversation(ctx context.Context, rec *domain.ConversationRecord) error

	// UpdateSummary attaches a summary to a stored conversation.
	UpdateSummary(ctx context.Context, id, summary string) error

	// GetConversation retrieves a conversation by ID, or nil when absent.
	GetConversation(ctx context.Context, id string) (*domain.ConversationRecord, error)

	// ListConversations returns the newest conversations first. An empty agentID lists all agents.
	ListConversations(ctx context.Context, agentID string, limit int) ([]*domain.ConversationRecord, error)

	// RecentHistory projects the last limit conversations of an agent, oldest first, into
	// the shape assigned to the widget's history property.
	RecentHistory(ctx context.Context, agentID string, limit int) ([]map[string]any, error)

	// CleanupExpired removes conversations that ended before now minus ttl.
	CleanupExpired(ctx context.Context, ttl time.Duration) (int64, error)

	// Ping verifies database connectivity and returns an error if the database is unreachable.
	Ping(ctx context.Context) error

	// Close closes the database connection.
	Close() error
}
