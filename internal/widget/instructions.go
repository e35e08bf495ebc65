package widget

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

const (
	dataPreamble    = "The following contextual information is available for this conversation:"
	historyPreamble = "The following is context from previous conversations with this user. Use it to personalize the conversation and avoid repeating information they have already received:"
)

// BuildInstructions assembles the system prompt for a new conversation: base instructions
// as configured, the date line, then data and history blocks. Data always precedes history.
func (w *Widget) BuildInstructions(now time.Time) (string, error) {
	w.mu.Lock()
	cfg := w.config
	data := w.data
	history := w.history
	w.mu.Unlock()

	if cfg == nil {
		return "", ErrConfigNotLoaded
	}

	blocks := make([]string, 0, 4)
	blocks = append(blocks, cfg.Instructions)
	blocks = append(blocks, fmt.Sprintf("Today's date is %s.", now.Format(w.opts.DateLayout)))

	if !isEmptyObject(data) {
		raw, err := json.MarshalIndent(data, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode data: %w", err)
		}
		blocks = append(blocks, dataPreamble+"\n"+string(raw))
	}

	if history != nil {
		raw, err := json.MarshalIndent(history, "", "  ")
		if err != nil {
			return "", fmt.Errorf("encode history: %w", err)
		}
		blocks = append(blocks, historyPreamble+"\n"+string(raw))
	}

	return strings.Join(blocks, "\n\n"), nil
}
