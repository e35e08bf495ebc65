package widget

import "github.com/ashureev/voicewidget/internal/domain"

// State is the session lifecycle state.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateError
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// MarshalText renders the state name.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// Visibility is the widget's presence on the host surface.
type Visibility int

const (
	// VisibilityPending is the state before configuration intake completes.
	VisibilityPending Visibility = iota
	// VisibilityHidden means the agent is unavailable; the widget stays hidden.
	VisibilityHidden
	// VisibilityReady means the entry affordance is rendered.
	VisibilityReady
)

func (v Visibility) String() string {
	switch v {
	case VisibilityHidden:
		return "hidden"
	case VisibilityReady:
		return "ready"
	default:
		return "pending"
	}
}

// MarshalText renders the visibility name.
func (v Visibility) MarshalText() ([]byte, error) {
	return []byte(v.String()), nil
}

// Status messages shown to the user.
const (
	StatusConnecting       = "Connecting…"
	StatusConnected        = "Connected"
	StatusPermissionDenied = "Microphone access was denied. Please allow microphone access and try again."
	StatusNetworkError     = "Network error. Please check your connection and try again."
	StatusStartFailed      = "Failed to start conversation. Please try again."
	StatusConnectionError  = "Connection error. Please try again."
)

// View is everything the presentation layer needs to render the widget.
type View struct {
	Visibility Visibility   `json:"visibility"`
	State      State        `json:"state"`
	ModalOpen  bool         `json:"modalOpen"`
	Connected  bool         `json:"connected"`
	Speaking   bool         `json:"speaking"`
	Muted      bool         `json:"muted"`
	Status     string       `json:"status,omitempty"`
	AgentName  string       `json:"agentName,omitempty"`
	Theme      domain.Theme `json:"theme"`
}

// Presenter renders view state. Render is called after every change.
type Presenter interface {
	Render(View)
}

// PresenterFunc adapts a function to Presenter.
type PresenterFunc func(View)

// Render calls f(v).
func (f PresenterFunc) Render(v View) { f(v) }

type nopPresenter struct{}

func (nopPresenter) Render(View) {}
