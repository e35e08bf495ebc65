package host

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"github.com/ashureev/voicewidget/internal/domain"
	"github.com/ashureev/voicewidget/internal/realtime"
	"github.com/ashureev/voicewidget/internal/store"
	"github.com/ashureev/voicewidget/internal/widget"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

type fakeTarget struct {
	mu        sync.Mutex
	listeners map[string]widget.Listener
	history   any
	sets      int
}

func newFakeTarget() *fakeTarget {
	return &fakeTarget{listeners: map[string]widget.Listener{}}
}

func (f *fakeTarget) AddEventListener(name string, fn widget.Listener) func() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listeners[name] = fn
	return func() {
		f.mu.Lock()
		defer f.mu.Unlock()
		delete(f.listeners, name)
	}
}

func (f *fakeTarget) SetHistory(v any) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.history = v
	f.sets++
}

func (f *fakeTarget) AgentID() string   { return "agent-1" }
func (f *fakeTarget) AccountID() string { return "acct-1" }

func (f *fakeTarget) fire(ended widget.ConversationEnded) {
	f.mu.Lock()
	fn := f.listeners[widget.EventConversationEnded]
	f.mu.Unlock()
	if fn != nil {
		fn(realtime.NewEvent(widget.EventConversationEnded, ended))
	}
}

func (f *fakeTarget) snapshot() (any, int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.history, f.sets
}

type fakeSummarizer struct {
	text string
	err  error
}

func (s fakeSummarizer) Summarize(context.Context, []domain.TranscriptEntry) (string, error) {
	return s.text, s.err
}

func newRepo(t *testing.T) store.Repository {
	t.Helper()
	repo, err := store.NewSQLite(filepath.Join(t.TempDir(), "host.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = repo.Close() })
	return repo
}

func ended(sessionID string, turns ...string) widget.ConversationEnded {
	now := time.Now()
	ev := widget.ConversationEnded{
		Trigger:    widget.TriggerUser,
		Timestamp:  now,
		StartedAt:  now.Add(-30 * time.Second),
		DurationMs: 30000,
		SessionID:  sessionID,
	}
	for _, text := range turns {
		ev.Transcript = append(ev.Transcript, domain.TranscriptEntry{Role: domain.RoleUser, Text: text, At: now})
	}
	return ev
}

func TestRecorderPersistsAndRefreshesHistory(t *testing.T) {
	repo := newRepo(t)
	target := newFakeTarget()
	rec := NewRecorder(repo, fakeSummarizer{text: "Asked about hours."}, target, RecorderConfig{}, nil)

	target.fire(ended("sess-1", "when are you open"))
	rec.Close()

	list, err := repo.ListConversations(context.Background(), "agent-1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "sess-1", list[0].SessionID)
	assert.Equal(t, "acct-1", list[0].AccountID)
	require.NotNil(t, list[0].Summary)
	assert.Equal(t, "Asked about hours.", *list[0].Summary)

	history, _ := target.snapshot()
	entries, ok := history.([]map[string]any)
	require.True(t, ok, "history should be a list, got %T", history)
	require.Len(t, entries, 1)
	assert.Equal(t, "Asked about hours.", entries[0]["summary"])
}

func TestRecorderSummaryFailureKeepsTranscript(t *testing.T) {
	repo := newRepo(t)
	target := newFakeTarget()
	rec := NewRecorder(repo, fakeSummarizer{err: errors.New("boom")}, target, RecorderConfig{}, nil)

	target.fire(ended("sess-1", "hello"))
	rec.Close()

	history, _ := target.snapshot()
	entries := history.([]map[string]any)
	require.Len(t, entries, 1)
	assert.Contains(t, entries[0], "transcript")
}

func TestRecorderSkipsEmptyConversations(t *testing.T) {
	repo := newRepo(t)
	target := newFakeTarget()
	rec := NewRecorder(repo, nil, target, RecorderConfig{}, nil)

	target.fire(ended("sess-empty"))
	rec.Close()

	list, err := repo.ListConversations(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
	_, sets := target.snapshot()
	assert.Zero(t, sets)
}

func TestRefreshWithoutConversationsAssignsNull(t *testing.T) {
	repo := newRepo(t)
	target := newFakeTarget()
	target.history = []map[string]any{{"summary": "stale"}}
	rec := NewRecorder(repo, nil, target, RecorderConfig{}, nil)
	defer rec.Close()

	require.NoError(t, rec.Refresh(context.Background()))
	history, sets := target.snapshot()
	assert.Nil(t, history)
	assert.Equal(t, 1, sets)
}

func TestCloseUnsubscribes(t *testing.T) {
	repo := newRepo(t)
	target := newFakeTarget()
	rec := NewRecorder(repo, nil, target, RecorderConfig{}, nil)
	rec.Close()
	rec.Close()

	target.fire(ended("late", "hi"))
	list, err := repo.ListConversations(context.Background(), "", 10)
	require.NoError(t, err)
	assert.Empty(t, list)
}
