// Package realtime connects a voice session to a realtime speech model. Server events are
// treated as an opaque tagged union: the session inspects the few types that drive local
// state and relays everything else unchanged.
package realtime

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Server event types that drive local session state.
const (
	EventSessionCreated          = "session.created"
	EventOutputAudioStarted      = "output_audio_buffer.started"
	EventOutputAudioStopped      = "output_audio_buffer.stopped"
	EventOutputTranscriptDone    = "response.output_audio_transcript.done"
	EventLegacyTranscriptDone    = "response.audio_transcript.done"
	EventInputTranscriptComplete = "conversation.item.input_audio_transcription.completed"
	EventFunctionCallDone        = "response.function_call_arguments.done"
	EventOutputAudioDelta        = "response.output_audio.delta"
	EventLegacyAudioDelta        = "response.audio.delta"
	EventError                   = "error"
)

// ErrClosed is returned when sending on a closed connection.
var ErrClosed = errors.New("realtime connection closed")

// Event is one named event with its raw JSON payload.
type Event struct {
	Type   string          `json:"type"`
	Detail json.RawMessage `json:"detail"`
}

// DecodeEvent parses a server frame. The whole frame becomes the event detail.
func DecodeEvent(frame []byte) (Event, error) {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(frame, &head); err != nil {
		return Event{}, fmt.Errorf("decode realtime event: %w", err)
	}
	if head.Type == "" {
		return Event{}, errors.New("decode realtime event: missing type")
	}
	detail := make(json.RawMessage, len(frame))
	copy(detail, frame)
	return Event{Type: head.Type, Detail: detail}, nil
}

// NewEvent builds an event whose detail is the JSON encoding of detail.
func NewEvent(typ string, detail any) Event {
	raw, err := json.Marshal(detail)
	if err != nil {
		raw = json.RawMessage(`{}`)
	}
	return Event{Type: typ, Detail: raw}
}

// ErrorEvent builds a generic error event carrying message.
func ErrorEvent(message string) Event {
	return NewEvent(EventError, map[string]string{"message": message})
}

// Decode unmarshals the event detail into v.
func (e Event) Decode(v any) error {
	if len(e.Detail) == 0 {
		return fmt.Errorf("event %s has no detail", e.Type)
	}
	return json.Unmarshal(e.Detail, v)
}

// Transcript returns the transcript text carried by a transcript event.
func (e Event) Transcript() string {
	var body struct {
		Transcript string `json:"transcript"`
	}
	if err := e.Decode(&body); err != nil {
		return ""
	}
	return body.Transcript
}

// FunctionCall is a completed function call request from the model.
type FunctionCall struct {
	CallID    string `json:"call_id"`
	Name      string `json:"name"`
	Arguments string `json:"arguments"`
}

// FunctionCall decodes a response.function_call_arguments.done event.
func (e Event) FunctionCall() (FunctionCall, error) {
	var fc FunctionCall
	if err := e.Decode(&fc); err != nil {
		return FunctionCall{}, err
	}
	if fc.CallID == "" || fc.Name == "" {
		return FunctionCall{}, fmt.Errorf("event %s is missing call_id or name", e.Type)
	}
	return fc, nil
}
