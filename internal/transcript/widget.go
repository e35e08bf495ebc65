package transcript

import (
	"github.com/ashureev/voicewidget/internal/realtime"
	"github.com/ashureev/voicewidget/internal/widget"
)

// Channel tags records written for widget events.
const Channel = "voice_widget"

// Directions of logged events.
const (
	DirectionInbound  = "inbound"
	DirectionOutbound = "outbound"
)

// Listen logs every event of w and returns the function that stops logging. Audio
// deltas are skipped.
func Listen(l ConversationLogger, w *widget.Widget) (stop func()) {
	return w.AddEventListener(widget.AllEvents, func(ev realtime.Event) {
		if ev.Type == realtime.EventOutputAudioDelta || ev.Type == realtime.EventLegacyAudioDelta {
			return
		}
		l.Log(recordFor(w, ev))
	})
}

func recordFor(w *widget.Widget, ev realtime.Event) ConversationLogEvent {
	rec := ConversationLogEvent{
		AccountID: w.AccountID(),
		AgentID:   w.AgentID(),
		SessionID: w.SessionID(),
		Channel:   Channel,
		Direction: DirectionInbound,
		EventType: ev.Type,
	}

	switch ev.Type {
	case realtime.EventOutputTranscriptDone, realtime.EventLegacyTranscriptDone, realtime.EventInputTranscriptComplete:
		rec.ContentRaw = ev.Transcript()
	case widget.EventConversationEnded:
		var ended widget.ConversationEnded
		if err := ev.Decode(&ended); err == nil {
			rec.SessionID = ended.SessionID
			rec.Direction = DirectionOutbound
			rec.Meta = map[string]any{
				"trigger":     ended.Trigger,
				"duration_ms": ended.DurationMs,
				"turns":       len(ended.Transcript),
			}
		}
	case widget.EventGuardrailTripped:
		var tripped widget.GuardrailTripped
		if err := ev.Decode(&tripped); err == nil {
			rec.Direction = DirectionOutbound
			rec.ContentRaw = tripped.Transcript
			rec.Meta = map[string]any{"phrase": tripped.Phrase}
		}
	default:
		rec.ContentRaw = string(ev.Detail)
	}
	return rec
}
