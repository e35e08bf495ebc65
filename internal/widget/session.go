package widget

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/voicewidget/internal/domain"
	"github.com/ashureev/voicewidget/internal/knowledge"
	"github.com/ashureev/voicewidget/internal/media"
	"github.com/ashureev/voicewidget/internal/realtime"
)

const sendTimeout = 5 * time.Second

// session is one live conversation. Fields below the marker are guarded by Widget.mu.
type session struct {
	id        string
	scope     *media.Scope
	ctx       context.Context
	cancel    context.CancelFunc
	startedAt time.Time

	// ready is closed once StartConversation has finished with the connection, so event
	// handling never observes a half-built session.
	ready     chan struct{}
	readyOnce sync.Once

	conn       realtime.Conn
	agent      realtime.Agent
	muted      bool
	greeting   *time.Timer
	transcript []domain.TranscriptEntry
}

func newSession(capture media.Capture, now time.Time) *session {
	ctx, cancel := context.WithCancel(context.Background())
	return &session{
		id:        uuid.NewString(),
		scope:     media.NewScope(capture),
		ctx:       ctx,
		cancel:    cancel,
		startedAt: now,
		ready:     make(chan struct{}),
	}
}

func (s *session) markReady() {
	s.readyOnce.Do(func() { close(s.ready) })
}

// StartConversation opens a new session. It is a no-op while a session is connecting or
// connected, before configuration has loaded, and after Detach. Failures are converted into
// view state, log output and an error event; nothing is returned to the caller.
func (w *Widget) StartConversation(ctx context.Context) {
	w.mu.Lock()
	if w.detached || w.config == nil {
		w.mu.Unlock()
		w.logger.Debug("start ignored", "reason", "config not loaded")
		return
	}
	if w.session != nil && w.view.State != StateError {
		w.mu.Unlock()
		return
	}
	stale := w.session != nil
	w.mu.Unlock()

	if stale {
		w.stop(TriggerRestart)
	}

	w.mu.Lock()
	if w.detached || w.config == nil || w.session != nil {
		w.mu.Unlock()
		return
	}
	sess := newSession(w.capture, w.now())
	w.session = sess
	w.resetIndicatorsLocked()
	w.view.State = StateConnecting
	w.view.ModalOpen = true
	w.view.Status = StatusConnecting
	view := w.view
	cfg := w.config
	accountID, agentID := w.accountID, w.agentID
	w.mu.Unlock()

	defer sess.markReady()

	w.logger.Info("starting conversation", "session_id", sess.id, "agent_id", agentID)
	w.presenter.Render(view)

	stream, err := sess.scope.Acquire(ctx, w.opts.Constraints)
	if !w.isCurrent(sess) {
		return
	}
	if err != nil {
		if errors.Is(err, media.ErrPermissionDenied) {
			w.abortStart(sess, StatusPermissionDenied, err, false)
			return
		}
		w.abortStart(sess, startFailureStatus(err), fmt.Errorf("acquire microphone: %w", err), true)
		return
	}

	if w.credentials == nil {
		w.abortStart(sess, StatusStartFailed, errors.New("no credential source configured"), true)
		return
	}
	cred, err := w.credentials.Fetch(ctx, accountID, agentID)
	if !w.isCurrent(sess) {
		return
	}
	if err != nil {
		w.abortStart(sess, startFailureStatus(err), fmt.Errorf("fetch credential: %w", err), true)
		return
	}

	instructions, err := w.BuildInstructions(w.now())
	if err != nil {
		w.abortStart(sess, StatusStartFailed, fmt.Errorf("build instructions: %w", err), true)
		return
	}

	agent := realtime.Agent{
		Name:         cfg.Name,
		Voice:        cfg.Voice,
		Instructions: instructions,
	}
	if cfg.KnowledgeBase.Usable() && w.searcher != nil {
		agent.Tools = append(agent.Tools, knowledge.Tool())
	}

	if w.transport == nil {
		w.abortStart(sess, StatusStartFailed, errors.New("no realtime transport configured"), true)
		return
	}
	conn, err := w.transport.Connect(ctx, realtime.ConnectRequest{
		URL:                w.opts.RealtimeURL,
		Model:              w.opts.Model,
		Credential:         cred.Value,
		Agent:              agent,
		Audio:              stream,
		SampleRate:         w.opts.Constraints.SampleRate,
		TranscriptionModel: w.opts.TranscriptionModel,
	}, func(ev realtime.Event) {
		w.handleEvent(sess, ev)
	})
	if err != nil {
		w.abortStart(sess, startFailureStatus(err), fmt.Errorf("connect: %w", err), true)
		return
	}

	w.mu.Lock()
	if w.session != sess {
		w.mu.Unlock()
		if closeErr := conn.Close(); closeErr != nil {
			w.logger.Warn("failed to close discarded connection", "session_id", sess.id, "error", closeErr)
		}
		return
	}
	sess.conn = conn
	sess.agent = agent
	w.mu.Unlock()

	w.logger.Info("realtime connection opened", "session_id", sess.id, "tools", len(agent.Tools))
}

// abortStart tears down a session that failed while connecting. Permission denial is
// reported only through the status line; other failures also emit an error event.
func (w *Widget) abortStart(sess *session, status string, err error, emitError bool) {
	w.mu.Lock()
	if w.session != sess {
		w.mu.Unlock()
		return
	}
	w.session = nil
	w.resetIndicatorsLocked()
	w.view.ModalOpen = false
	w.view.Status = status
	view := w.view
	w.mu.Unlock()

	sess.cancel()
	sess.scope.Release()
	w.presenter.Render(view)

	if !emitError {
		w.logger.Warn("microphone permission denied", "session_id", sess.id, "error", err)
		return
	}
	w.logger.Error("failed to start conversation", "session_id", sess.id, "error", err)
	w.emit(realtime.ErrorEvent(err.Error()))
}

func startFailureStatus(err error) string {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "permission"):
		return StatusPermissionDenied
	case strings.Contains(msg, "network"):
		return StatusNetworkError
	default:
		return StatusStartFailed
	}
}

// StopConversation ends the live session. It is safe to call without one.
func (w *Widget) StopConversation() {
	w.stop(TriggerUser)
}

func (w *Widget) stop(trigger string) {
	w.mu.Lock()
	before := w.view
	sess := w.session
	w.session = nil
	w.resetIndicatorsLocked()
	w.view.ModalOpen = false
	w.view.Status = ""
	view := w.view

	var (
		conn  realtime.Conn
		timer *time.Timer
		ended *ConversationEnded
	)
	if sess != nil {
		conn = sess.conn
		timer = sess.greeting
		if conn != nil {
			endedAt := w.now()
			ended = &ConversationEnded{
				Trigger:    trigger,
				Timestamp:  endedAt,
				Transcript: append([]domain.TranscriptEntry{}, sess.transcript...),
				DurationMs: endedAt.Sub(sess.startedAt).Milliseconds(),
				SessionID:  sess.id,
				StartedAt:  sess.startedAt,
			}
		}
	}
	w.mu.Unlock()

	if sess != nil {
		if timer != nil {
			timer.Stop()
		}
		sess.cancel()
		if conn != nil {
			if err := conn.Close(); err != nil {
				w.logger.Warn("failed to close realtime connection", "session_id", sess.id, "error", err)
			}
		}
		sess.scope.Release()
		w.logger.Info("conversation stopped", "session_id", sess.id, "trigger", trigger)
	}

	if view != before {
		w.presenter.Render(view)
	}
	if ended != nil {
		w.emit(realtime.NewEvent(EventConversationEnded, ended))
	}
}

// ToggleMute flips the mute state and enables or disables the captured audio tracks. It
// is a no-op without a session.
func (w *Widget) ToggleMute() {
	w.mu.Lock()
	sess := w.session
	if sess == nil {
		w.mu.Unlock()
		return
	}
	sess.muted = !sess.muted
	sess.scope.SetEnabled(!sess.muted)
	w.view.Muted = sess.muted
	view := w.view
	w.mu.Unlock()

	w.presenter.Render(view)
}

func (w *Widget) resetIndicatorsLocked() {
	w.view.State = StateIdle
	w.view.Connected = false
	w.view.Speaking = false
	w.view.Muted = false
}

func (w *Widget) isCurrent(sess *session) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.session == sess
}

// handleEvent updates local state for the events that drive it, then relays the event to
// listeners unchanged. Events from a session that is no longer current are dropped.
func (w *Widget) handleEvent(sess *session, ev realtime.Event) {
	<-sess.ready

	w.mu.Lock()
	if w.session != sess {
		w.mu.Unlock()
		return
	}
	before := w.view

	var (
		tripped *GuardrailTripped
		call    *realtime.FunctionCall
	)
	switch ev.Type {
	case realtime.EventSessionCreated:
		w.view.State = StateConnected
		w.view.Connected = true
		w.view.Status = StatusConnected
		if sess.greeting == nil {
			sess.greeting = time.AfterFunc(w.opts.GreetingDelay, func() { w.sendGreeting(sess) })
		}
	case realtime.EventOutputAudioStarted:
		w.view.Speaking = true
	case realtime.EventOutputAudioStopped:
		w.view.Speaking = false
	case realtime.EventOutputTranscriptDone, realtime.EventLegacyTranscriptDone:
		if text := strings.TrimSpace(ev.Transcript()); text != "" {
			sess.transcript = append(sess.transcript, domain.TranscriptEntry{Role: domain.RoleAssistant, Text: text, At: w.now()})
			if w.config != nil {
				if phrase, ok := w.config.Guardrails.Match(text); ok {
					tripped = &GuardrailTripped{Phrase: phrase, Transcript: text}
				}
			}
		}
	case realtime.EventInputTranscriptComplete:
		if text := strings.TrimSpace(ev.Transcript()); text != "" {
			sess.transcript = append(sess.transcript, domain.TranscriptEntry{Role: domain.RoleUser, Text: text, At: w.now()})
		}
	case realtime.EventError:
		w.view.State = StateError
		w.view.Connected = false
		w.view.Speaking = false
		w.view.Status = StatusConnectionError
	case realtime.EventFunctionCallDone:
		if fc, err := ev.FunctionCall(); err == nil && fc.Name == knowledge.ToolName && sess.agent.HasTool(fc.Name) {
			call = &fc
		}
	}
	view := w.view
	conn := sess.conn
	w.mu.Unlock()

	if ev.Type == realtime.EventError {
		w.logger.Error("realtime session error", "session_id", sess.id, "detail", string(ev.Detail))
	}
	if view != before {
		w.presenter.Render(view)
	}
	w.emit(ev)

	if tripped != nil {
		w.logger.Warn("guardrail tripped", "session_id", sess.id, "phrase", tripped.Phrase)
		w.emit(realtime.NewEvent(EventGuardrailTripped, tripped))
		if conn != nil {
			ctx, cancel := context.WithTimeout(sess.ctx, sendTimeout)
			if err := conn.Send(ctx, realtime.ResponseCancel()); err != nil {
				w.logger.Warn("failed to cancel response", "session_id", sess.id, "error", err)
			}
			cancel()
		}
	}
	if call != nil {
		go w.runKnowledgeSearch(sess, *call)
	}
}

func (w *Widget) sendGreeting(sess *session) {
	w.mu.Lock()
	if w.session != sess || sess.conn == nil || w.view.State != StateConnected {
		w.mu.Unlock()
		return
	}
	conn := sess.conn
	text := w.opts.GreetingText
	if w.config != nil && w.config.Greeting != "" {
		text = w.config.Greeting
	}
	w.mu.Unlock()

	ctx, cancel := context.WithTimeout(sess.ctx, sendTimeout)
	defer cancel()
	if err := conn.Send(ctx, realtime.UserText(text)); err != nil {
		w.logger.Warn("failed to send greeting", "session_id", sess.id, "error", err)
		return
	}
	if err := conn.Send(ctx, realtime.ResponseCreate()); err != nil {
		w.logger.Warn("failed to request greeting response", "session_id", sess.id, "error", err)
	}
}

func (w *Widget) runKnowledgeSearch(sess *session, call realtime.FunctionCall) {
	w.mu.Lock()
	var vectorStoreID string
	if w.config != nil {
		vectorStoreID = w.config.KnowledgeBase.VectorStoreID
	}
	w.mu.Unlock()

	var output string
	query, err := knowledge.ParseQuery(call.Arguments)
	if err == nil {
		ctx, cancel := context.WithTimeout(sess.ctx, w.opts.KnowledgeTimeout)
		var results []knowledge.Result
		results, err = w.searcher.Search(ctx, vectorStoreID, query, w.opts.KnowledgeMaxResults)
		cancel()
		if err == nil {
			output = knowledge.FormatResults(results)
			w.logger.Info("knowledge search completed", "session_id", sess.id, "results", len(results))
		}
	}
	if err != nil {
		w.logger.Warn("knowledge search failed", "session_id", sess.id, "error", err)
		output = knowledge.FormatError(err)
	}

	w.mu.Lock()
	live := w.session == sess
	conn := sess.conn
	w.mu.Unlock()
	if !live || conn == nil {
		return
	}

	ctx, cancel := context.WithTimeout(sess.ctx, sendTimeout)
	defer cancel()
	if err := conn.Send(ctx, realtime.FunctionOutput(call.CallID, output)); err != nil {
		w.logger.Warn("failed to send tool output", "session_id", sess.id, "error", err)
		return
	}
	if err := conn.Send(ctx, realtime.ResponseCreate()); err != nil {
		w.logger.Warn("failed to request response after tool output", "session_id", sess.id, "error", err)
	}
}
