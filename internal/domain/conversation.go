package domain

import (
	"time"
)

// Transcript roles.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// TranscriptEntry is a single finished utterance within a conversation.
type TranscriptEntry struct {
	Role string    `json:"role"`
	Text string    `json:"text"`
	At   time.Time `json:"at"`
}

// ConversationRecord is a finished conversation as persisted by the host.
type ConversationRecord struct {
	ID         string
	SessionID  string
	AccountID  string
	AgentID    string
	Trigger    string
	StartedAt  time.Time
	EndedAt    time.Time
	Duration   time.Duration
	Transcript []TranscriptEntry
	Summary    *string
	CreatedAt  time.Time
}

// TranscriptText renders the transcript as "role: text" lines.
func (c *ConversationRecord) TranscriptText() string {
	var out []byte
	for i, e := range c.Transcript {
		if i > 0 {
			out = append(out, '\n')
		}
		out = append(out, e.Role...)
		out = append(out, ": "...)
		out = append(out, e.Text...)
	}
	return string(out)
}
