package widget

import (
	"sync"
	"time"

	"github.com/ashureev/voicewidget/internal/domain"
	"github.com/ashureev/voicewidget/internal/realtime"
)

// Events synthesized by the widget. Everything else is relayed from the transport.
const (
	EventConversationEnded = "conversation.ended"
	EventGuardrailTripped  = "guardrail_tripped"
	EventError             = realtime.EventError
)

// AllEvents subscribes a listener to every event.
const AllEvents = "*"

// End-of-conversation triggers.
const (
	TriggerUser     = "user"
	TriggerEscape   = "escape"
	TriggerDetached = "detached"
	TriggerRestart  = "restart"
)

// ConversationEnded is the detail of the end-of-conversation event.
type ConversationEnded struct {
	Trigger    string                   `json:"trigger"`
	Timestamp  time.Time                `json:"timestamp"`
	Transcript []domain.TranscriptEntry `json:"transcript"`
	DurationMs int64                    `json:"durationMs"`
	SessionID  string                   `json:"sessionId"`
	StartedAt  time.Time                `json:"startedAt"`
}

// GuardrailTripped is the detail of the guardrail event.
type GuardrailTripped struct {
	Phrase     string `json:"phrase"`
	Transcript string `json:"transcript"`
}

// Listener receives widget events.
type Listener func(realtime.Event)

type listenerEntry struct {
	id   uint64
	name string
	fn   Listener
}

type listenerRegistry struct {
	mu      sync.RWMutex
	nextID  uint64
	entries []listenerEntry
}

// AddEventListener registers fn for events named name, or every event with AllEvents.
// The returned function removes the listener.
func (w *Widget) AddEventListener(name string, fn Listener) (remove func()) {
	r := &w.listeners
	r.mu.Lock()
	r.nextID++
	id := r.nextID
	r.entries = append(r.entries, listenerEntry{id: id, name: name, fn: fn})
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			defer r.mu.Unlock()
			for i, e := range r.entries {
				if e.id == id {
					r.entries = append(r.entries[:i:i], r.entries[i+1:]...)
					return
				}
			}
		})
	}
}

func (w *Widget) emit(ev realtime.Event) {
	r := &w.listeners
	r.mu.RLock()
	targets := make([]Listener, 0, len(r.entries))
	for _, e := range r.entries {
		if e.name == ev.Type || e.name == AllEvents {
			targets = append(targets, e.fn)
		}
	}
	r.mu.RUnlock()

	for _, fn := range targets {
		w.dispatch(fn, ev)
	}
}

func (w *Widget) dispatch(fn Listener, ev realtime.Event) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error("event listener panicked", "event", ev.Type, "panic", r)
		}
	}()
	fn(ev)
}
