// Package host glues the widget to the embedding service: it persists finished
// conversations and feeds them back to the widget as history.
package host

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ashureev/voicewidget/internal/domain"
	"github.com/ashureev/voicewidget/internal/realtime"
	"github.com/ashureev/voicewidget/internal/store"
	"github.com/ashureev/voicewidget/internal/summary"
	"github.com/ashureev/voicewidget/internal/widget"
)

// Target is the part of a widget the recorder drives.
type Target interface {
	AddEventListener(name string, fn widget.Listener) (remove func())
	SetHistory(v any)
	AgentID() string
	AccountID() string
}

// RecorderConfig tunes the recorder.
type RecorderConfig struct {
	HistoryLimit int
	QueueSize    int
	Timeout      time.Duration
}

// Recorder stores every finished conversation and refreshes the widget history.
type Recorder struct {
	repo       store.Repository
	summarizer summary.Summarizer
	target     Target
	cfg        RecorderConfig
	logger     *slog.Logger

	queue  chan *domain.ConversationRecord
	remove func()
	wg     sync.WaitGroup

	mu     sync.RWMutex
	closed bool
}

// NewRecorder subscribes to the end-of-conversation event of target. summarizer may be nil.
func NewRecorder(repo store.Repository, summarizer summary.Summarizer, target Target, cfg RecorderConfig, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 5
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 32
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}

	r := &Recorder{
		repo:       repo,
		summarizer: summarizer,
		target:     target,
		cfg:        cfg,
		logger:     logger,
		queue:      make(chan *domain.ConversationRecord, cfg.QueueSize),
	}
	r.remove = target.AddEventListener(widget.EventConversationEnded, r.onEnded)

	r.wg.Add(1)
	go r.run()
	return r
}

func (r *Recorder) onEnded(ev realtime.Event) {
	var ended widget.ConversationEnded
	if err := ev.Decode(&ended); err != nil {
		r.logger.Warn("failed to decode conversation.ended", "error", err)
		return
	}
	if len(ended.Transcript) == 0 {
		r.logger.Debug("skipping empty conversation", "session_id", ended.SessionID)
		return
	}

	rec := &domain.ConversationRecord{
		ID:         uuid.NewString(),
		SessionID:  ended.SessionID,
		AccountID:  r.target.AccountID(),
		AgentID:    r.target.AgentID(),
		Trigger:    ended.Trigger,
		StartedAt:  ended.StartedAt,
		EndedAt:    ended.Timestamp,
		Duration:   time.Duration(ended.DurationMs) * time.Millisecond,
		Transcript: ended.Transcript,
		CreatedAt:  time.Now(),
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	if r.closed {
		return
	}
	select {
	case r.queue <- rec:
	default:
		r.logger.Warn("recorder queue full, dropping conversation", "session_id", rec.SessionID)
	}
}

func (r *Recorder) run() {
	defer r.wg.Done()
	for rec := range r.queue {
		r.persist(rec)
	}
}

func (r *Recorder) persist(rec *domain.ConversationRecord) {
	ctx, cancel := context.WithTimeout(context.Background(), r.cfg.Timeout)
	defer cancel()

	if err := r.repo.SaveConversation(ctx, rec); err != nil {
		r.logger.Error("failed to save conversation", "session_id", rec.SessionID, "error", err)
		return
	}
	r.logger.Info("conversation saved",
		"conversation_id", rec.ID,
		"session_id", rec.SessionID,
		"agent_id", rec.AgentID,
		"turns", len(rec.Transcript),
	)

	if r.summarizer != nil {
		text, err := r.summarizer.Summarize(ctx, rec.Transcript)
		switch {
		case errors.Is(err, summary.ErrEmptyTranscript):
		case err != nil:
			r.logger.Warn("failed to summarize conversation", "conversation_id", rec.ID, "error", err)
		default:
			if err := r.repo.UpdateSummary(ctx, rec.ID, text); err != nil {
				r.logger.Warn("failed to store summary", "conversation_id", rec.ID, "error", err)
			}
		}
	}

	if err := r.Refresh(ctx); err != nil {
		r.logger.Warn("failed to refresh history", "agent_id", rec.AgentID, "error", err)
	}
}

// Refresh assigns the most recent stored conversations to the widget history, or nil
// when none exist.
func (r *Recorder) Refresh(ctx context.Context) error {
	history, err := r.repo.RecentHistory(ctx, r.target.AgentID(), r.cfg.HistoryLimit)
	if err != nil {
		return err
	}
	if len(history) == 0 {
		r.target.SetHistory(nil)
		return nil
	}
	r.target.SetHistory(history)
	return nil
}

// Close unsubscribes and waits for queued conversations to be stored.
func (r *Recorder) Close() {
	r.remove()

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return
	}
	r.closed = true
	close(r.queue)
	r.mu.Unlock()

	r.wg.Wait()
}
