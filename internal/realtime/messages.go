package realtime

import "encoding/base64"

// Tool is a function tool offered to the model.
type Tool struct {
	Type        string         `json:"type"`
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters"`
}

// Agent describes the conversational agent for one session.
type Agent struct {
	Name         string
	Voice        string
	Instructions string
	Tools        []Tool
}

// HasTool reports whether the agent offers a tool named name.
func (a Agent) HasTool(name string) bool {
	for _, t := range a.Tools {
		if t.Name == name {
			return true
		}
	}
	return false
}

type audioFormat struct {
	Type string `json:"type"`
	Rate int    `json:"rate,omitempty"`
}

type transcriptionConfig struct {
	Model string `json:"model"`
}

type sessionAudioInput struct {
	Format        audioFormat          `json:"format"`
	Transcription *transcriptionConfig `json:"transcription,omitempty"`
}

type sessionAudioOutput struct {
	Format audioFormat `json:"format"`
	Voice  string      `json:"voice,omitempty"`
}

type sessionAudio struct {
	Input  sessionAudioInput  `json:"input"`
	Output sessionAudioOutput `json:"output"`
}

type sessionConfig struct {
	Type         string       `json:"type"`
	Model        string       `json:"model,omitempty"`
	Instructions string       `json:"instructions"`
	Audio        sessionAudio `json:"audio"`
	Tools        []Tool       `json:"tools,omitempty"`
	ToolChoice   string       `json:"tool_choice,omitempty"`
}

// SessionUpdate configures the remote session for agent.
type SessionUpdate struct {
	Type    string        `json:"type"`
	Session sessionConfig `json:"session"`
}

// NewSessionUpdate builds the session.update message for agent.
func NewSessionUpdate(model string, agent Agent, sampleRate int, transcriptionModel string) SessionUpdate {
	format := audioFormat{Type: "audio/pcm", Rate: sampleRate}
	cfg := sessionConfig{
		Type:         "realtime",
		Model:        model,
		Instructions: agent.Instructions,
		Audio: sessionAudio{
			Input:  sessionAudioInput{Format: format},
			Output: sessionAudioOutput{Format: format, Voice: agent.Voice},
		},
		Tools: agent.Tools,
	}
	if transcriptionModel != "" {
		cfg.Audio.Input.Transcription = &transcriptionConfig{Model: transcriptionModel}
	}
	if len(agent.Tools) > 0 {
		cfg.ToolChoice = "auto"
	}
	return SessionUpdate{Type: "session.update", Session: cfg}
}

type contentPart struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

type conversationItem struct {
	Type    string        `json:"type"`
	Role    string        `json:"role,omitempty"`
	Content []contentPart `json:"content,omitempty"`
	CallID  string        `json:"call_id,omitempty"`
	Output  string        `json:"output,omitempty"`
}

// ItemCreate adds an item to the remote conversation.
type ItemCreate struct {
	Type string           `json:"type"`
	Item conversationItem `json:"item"`
}

// UserText builds a user text message item.
func UserText(text string) ItemCreate {
	return ItemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{
			Type:    "message",
			Role:    "user",
			Content: []contentPart{{Type: "input_text", Text: text}},
		},
	}
}

// FunctionOutput builds the result item for a function call.
func FunctionOutput(callID, output string) ItemCreate {
	return ItemCreate{
		Type: "conversation.item.create",
		Item: conversationItem{Type: "function_call_output", CallID: callID, Output: output},
	}
}

// Control is a bare typed client message.
type Control struct {
	Type string `json:"type"`
}

// ResponseCreate asks the model to respond.
func ResponseCreate() Control { return Control{Type: "response.create"} }

// ResponseCancel cancels the in-progress response.
func ResponseCancel() Control { return Control{Type: "response.cancel"} }

// AudioAppend carries one chunk of base64 PCM16 input audio.
type AudioAppend struct {
	Type  string `json:"type"`
	Audio string `json:"audio"`
}

// NewAudioAppend encodes pcm as an input_audio_buffer.append message.
func NewAudioAppend(pcm []byte) AudioAppend {
	return AudioAppend{Type: "input_audio_buffer.append", Audio: base64.StdEncoding.EncodeToString(pcm)}
}
