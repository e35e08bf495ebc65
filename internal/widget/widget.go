// Package widget implements the embeddable voice-chat widget: configuration intake,
// validated data and history properties, instruction assembly and the voice session
// state machine. A widget owns at most one session at a time.
package widget

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ashureev/voicewidget/internal/agentconfig"
	"github.com/ashureev/voicewidget/internal/credential"
	"github.com/ashureev/voicewidget/internal/domain"
	"github.com/ashureev/voicewidget/internal/knowledge"
	"github.com/ashureev/voicewidget/internal/media"
	"github.com/ashureev/voicewidget/internal/realtime"
)

// ErrConfigNotLoaded is returned when an operation needs the agent configuration before
// intake has completed.
var ErrConfigNotLoaded = errors.New("agent config not loaded")

// Options tune session behavior.
type Options struct {
	FetchTimeout        time.Duration
	GreetingDelay       time.Duration
	GreetingText        string
	DateLayout          string
	RealtimeURL         string
	Model               string
	TranscriptionModel  string
	Constraints         media.Constraints
	KnowledgeMaxResults int
	KnowledgeTimeout    time.Duration
}

// DefaultOptions returns the standard session settings.
func DefaultOptions() Options {
	return Options{
		FetchTimeout:        10 * time.Second,
		GreetingDelay:       500 * time.Millisecond,
		GreetingText:        "Hello!",
		DateLayout:          "Monday, January 2, 2006",
		RealtimeURL:         "wss://api.openai.com/v1/realtime",
		Model:               "gpt-realtime",
		TranscriptionModel:  "whisper-1",
		Constraints:         media.DefaultConstraints(),
		KnowledgeMaxResults: 5,
		KnowledgeTimeout:    20 * time.Second,
	}
}

// Deps are the widget's collaborators. Searcher and Presenter are optional.
type Deps struct {
	Configs     agentconfig.Fetcher
	Credentials credential.Fetcher
	Transport   realtime.Transport
	Capture     media.Capture
	Searcher    knowledge.Searcher
	Presenter   Presenter
	Logger      *slog.Logger
	Now         func() time.Time
	Options     Options
}

// Widget is one widget instance.
type Widget struct {
	element     *Element
	configs     agentconfig.Fetcher
	credentials credential.Fetcher
	transport   realtime.Transport
	capture     media.Capture
	searcher    knowledge.Searcher
	presenter   Presenter
	logger      *slog.Logger
	now         func() time.Time
	opts        Options

	listeners listenerRegistry

	mu        sync.Mutex
	accountID string
	agentID   string
	config    *domain.AgentConfig
	data      any
	history   any
	view      View
	session   *session
	detached  bool
}

func newWidget(el *Element, deps Deps) *Widget {
	opts := deps.Options
	defaults := DefaultOptions()
	if opts.FetchTimeout <= 0 {
		opts.FetchTimeout = defaults.FetchTimeout
	}
	if opts.GreetingDelay < 0 {
		opts.GreetingDelay = 0
	}
	if opts.GreetingText == "" {
		opts.GreetingText = defaults.GreetingText
	}
	if opts.DateLayout == "" {
		opts.DateLayout = defaults.DateLayout
	}
	if opts.Constraints.SampleRate <= 0 {
		opts.Constraints = defaults.Constraints
	}
	if opts.KnowledgeMaxResults <= 0 {
		opts.KnowledgeMaxResults = defaults.KnowledgeMaxResults
	}
	if opts.KnowledgeTimeout <= 0 {
		opts.KnowledgeTimeout = defaults.KnowledgeTimeout
	}

	w := &Widget{
		element:     el,
		configs:     deps.Configs,
		credentials: deps.Credentials,
		transport:   deps.Transport,
		capture:     deps.Capture,
		searcher:    deps.Searcher,
		presenter:   deps.Presenter,
		logger:      deps.Logger,
		now:         deps.Now,
		opts:        opts,
		data:        map[string]any{},
	}
	if w.presenter == nil {
		w.presenter = nopPresenter{}
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	if w.now == nil {
		w.now = time.Now
	}
	return w
}

// Attach runs configuration intake. The agent configuration is fetched once with a
// bounded wait; an inactive, invalid or unreachable agent hides the widget. Failures are
// logged and never retried.
func (w *Widget) Attach(ctx context.Context) {
	accountID := w.element.Attribute(AttrAccountID)
	agentID := w.element.Attribute(AttrAgentID)

	w.mu.Lock()
	if w.detached {
		w.mu.Unlock()
		return
	}
	w.accountID = accountID
	w.agentID = agentID
	w.mu.Unlock()

	if accountID == "" || agentID == "" {
		w.hide("missing agent-id or account-id attribute", nil)
		return
	}
	if w.configs == nil {
		w.hide("no agent config source", nil)
		return
	}

	fetchCtx, cancel := context.WithTimeout(ctx, w.opts.FetchTimeout)
	defer cancel()
	cfg, err := w.configs.Fetch(fetchCtx, accountID, agentID)

	switch {
	case err != nil:
		w.hide("agent config unavailable", err)
		return
	case cfg == nil:
		w.hide("agent config unavailable", agentconfig.ErrInvalidConfig)
		return
	case !cfg.Active:
		w.hide("agent is inactive", agentconfig.ErrInactive)
		return
	}
	if err := agentconfig.Validate(cfg); err != nil {
		w.hide("agent config invalid", err)
		return
	}

	w.mu.Lock()
	if w.detached {
		w.mu.Unlock()
		return
	}
	w.config = cfg
	w.view.Visibility = VisibilityReady
	w.view.AgentName = cfg.Name
	w.view.Theme = cfg.Theme
	view := w.view
	w.mu.Unlock()

	w.logger.Info("widget ready", "agent_id", agentID, "account_id", accountID, "agent_name", cfg.Name)
	w.presenter.Render(view)
}

func (w *Widget) hide(reason string, err error) {
	w.mu.Lock()
	if w.detached {
		w.mu.Unlock()
		return
	}
	w.config = nil
	w.view.Visibility = VisibilityHidden
	view := w.view
	agentID := w.agentID
	w.mu.Unlock()

	attrs := []any{"agent_id", agentID, "reason", reason}
	if err != nil {
		attrs = append(attrs, "error", err)
	}
	w.logger.Warn("widget hidden", attrs...)
	w.presenter.Render(view)
}

// Detach tears down any live session and disables the widget.
func (w *Widget) Detach() {
	w.mu.Lock()
	if w.detached {
		w.mu.Unlock()
		return
	}
	w.detached = true
	w.mu.Unlock()

	w.stop(TriggerDetached)
}

// View returns a snapshot of the current view state.
func (w *Widget) View() View {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view
}

// Config returns the loaded agent configuration, or nil.
func (w *Widget) Config() *domain.AgentConfig {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.config
}

// IsMuted reports whether the microphone is muted.
func (w *Widget) IsMuted() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.view.Muted
}

// SessionID returns the live session's ID, or "" without one.
func (w *Widget) SessionID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.session == nil {
		return ""
	}
	return w.session.id
}

// AgentID returns the agent identifier read at attachment.
func (w *Widget) AgentID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.agentID
}

// AccountID returns the account identifier read at attachment.
func (w *Widget) AccountID() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.accountID
}

// Intent is a user intent signalled by the presentation layer.
type Intent string

const (
	IntentStart  Intent = "start"
	IntentStop   Intent = "stop"
	IntentMute   Intent = "mute"
	IntentEscape Intent = "escape"
)

// ParseIntent maps a command word to an intent.
func ParseIntent(s string) (Intent, bool) {
	switch Intent(s) {
	case IntentStart, IntentStop, IntentMute, IntentEscape:
		return Intent(s), true
	case "esc":
		return IntentEscape, true
	}
	return "", false
}

// HandleIntent dispatches a presentation-layer intent.
func (w *Widget) HandleIntent(ctx context.Context, intent Intent) {
	switch intent {
	case IntentStart:
		w.StartConversation(ctx)
	case IntentStop:
		w.StopConversation()
	case IntentMute:
		w.ToggleMute()
	case IntentEscape:
		w.stop(TriggerEscape)
	default:
		w.logger.Debug("ignoring unknown intent", "intent", string(intent))
	}
}
