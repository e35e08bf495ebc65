// Package domain holds the data types shared across the widget, its collaborators and the host.
package domain

import "strings"

// AgentConfig is the remotely managed agent definition. It is fetched once per widget
// attachment and replaced wholesale; nothing mutates it after load.
type AgentConfig struct {
	ID            string        `json:"id"`
	Name          string        `json:"name"`
	Voice         string        `json:"voice"`
	Instructions  string        `json:"instructions"`
	Active        bool          `json:"active"`
	Greeting      string        `json:"greeting,omitempty"`
	Theme         Theme         `json:"theme"`
	KnowledgeBase KnowledgeBase `json:"knowledgeBase"`
	Guardrails    Guardrails    `json:"guardrails"`
}

// Theme carries the display fields rendered by the presentation layer.
type Theme struct {
	PrimaryColor string `json:"primaryColor,omitempty"`
	Position     string `json:"position,omitempty"`
	ButtonText   string `json:"buttonText,omitempty"`
	AvatarURL    string `json:"avatarUrl,omitempty"`
}

// KnowledgeBase is the optional file-search capability.
type KnowledgeBase struct {
	Enabled       bool   `json:"enabled"`
	VectorStoreID string `json:"vectorStoreId,omitempty"`
}

// Usable reports whether the capability flag and the vector store are both present.
func (k KnowledgeBase) Usable() bool {
	return k.Enabled && strings.TrimSpace(k.VectorStoreID) != ""
}

// Guardrails lists output checks applied to assistant transcripts.
type Guardrails struct {
	BlockedPhrases []string `json:"blockedPhrases,omitempty"`
}

// Match returns the first blocked phrase contained in text, case-insensitively.
func (g Guardrails) Match(text string) (string, bool) {
	lower := strings.ToLower(text)
	for _, phrase := range g.BlockedPhrases {
		p := strings.TrimSpace(phrase)
		if p == "" {
			continue
		}
		if strings.Contains(lower, strings.ToLower(p)) {
			return p, true
		}
	}
	return "", false
}
