package widget

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ashureev/voicewidget/internal/credential"
	"github.com/ashureev/voicewidget/internal/domain"
	"github.com/ashureev/voicewidget/internal/knowledge"
	"github.com/ashureev/voicewidget/internal/media"
	"github.com/ashureev/voicewidget/internal/realtime"
)

type fakeConfigs struct {
	cfg   *domain.AgentConfig
	err   error
	block bool
}

func (f *fakeConfigs) Fetch(ctx context.Context, accountID, agentID string) (*domain.AgentConfig, error) {
	if f.block {
		<-ctx.Done()
		return nil, ctx.Err()
	}
	return f.cfg, f.err
}

type fakeCredentials struct {
	err     error
	gate    chan struct{}
	entered chan struct{}
}

func (f *fakeCredentials) Fetch(ctx context.Context, accountID, agentID string) (credential.Credential, error) {
	if f.entered != nil {
		close(f.entered)
	}
	if f.gate != nil {
		<-f.gate
	}
	if f.err != nil {
		return credential.Credential{}, f.err
	}
	return credential.Credential{Value: "ek_test", ExpiresAt: time.Now().Add(time.Minute)}, nil
}

type fakeCapture struct {
	mu      sync.Mutex
	err     error
	streams []*media.Stream
}

func (f *fakeCapture) GetUserMedia(ctx context.Context, c media.Constraints) (*media.Stream, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return nil, f.err
	}
	s := media.NewStream(io.NopCloser(strings.NewReader("")), c)
	f.streams = append(f.streams, s)
	return s, nil
}

func (f *fakeCapture) last() *media.Stream {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.streams) == 0 {
		return nil
	}
	return f.streams[len(f.streams)-1]
}

type fakeConn struct {
	mu     sync.Mutex
	sent   []any
	closed int
}

func (c *fakeConn) Send(ctx context.Context, msg any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed > 0 {
		return realtime.ErrClosed
	}
	c.sent = append(c.sent, msg)
	return nil
}

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) messages() []any {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]any(nil), c.sent...)
}

func (c *fakeConn) closeCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

type fakeTransport struct {
	mu       sync.Mutex
	err      error
	requests []realtime.ConnectRequest
	conns    []*fakeConn
	handler  realtime.Handler
}

func (f *fakeTransport) Connect(ctx context.Context, req realtime.ConnectRequest, handler realtime.Handler) (realtime.Conn, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if f.err != nil {
		return nil, f.err
	}
	conn := &fakeConn{}
	f.conns = append(f.conns, conn)
	f.handler = handler
	return conn, nil
}

func (f *fakeTransport) connects() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.requests)
}

func (f *fakeTransport) lastRequest() realtime.ConnectRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func (f *fakeTransport) conn() *fakeConn {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.conns[len(f.conns)-1]
}

// deliver plays a server frame through the registered handler.
func (f *fakeTransport) deliver(t *testing.T, frame string) {
	t.Helper()
	ev, err := realtime.DecodeEvent([]byte(frame))
	require.NoError(t, err)
	f.mu.Lock()
	h := f.handler
	f.mu.Unlock()
	require.NotNil(t, h, "no connected handler")
	h(ev)
}

type fakeSearcher struct {
	mu      sync.Mutex
	queries []string
	stores  []string
}

func (f *fakeSearcher) Search(ctx context.Context, vectorStoreID, query string, maxResults int) ([]knowledge.Result, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queries = append(f.queries, query)
	f.stores = append(f.stores, vectorStoreID)
	return []knowledge.Result{{Filename: "faq.md", Score: 0.8, Text: "We open at 9."}}, nil
}

type recordingPresenter struct {
	mu    sync.Mutex
	views []View
}

func (p *recordingPresenter) Render(v View) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.views = append(p.views, v)
}

type eventLog struct {
	mu     sync.Mutex
	events []realtime.Event
}

func (l *eventLog) record(ev realtime.Event) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.events = append(l.events, ev)
}

func (l *eventLog) types() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	out := make([]string, 0, len(l.events))
	for _, ev := range l.events {
		out = append(out, ev.Type)
	}
	return out
}

func (l *eventLog) find(typ string) (realtime.Event, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, ev := range l.events {
		if ev.Type == typ {
			return ev, true
		}
	}
	return realtime.Event{}, false
}

func (l *eventLog) count(typ string) int {
	n := 0
	for _, t := range l.types() {
		if t == typ {
			n++
		}
	}
	return n
}

type logBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *logBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

// warnings returns the messages of WARN records.
func (b *logBuffer) warnings() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []string
	for _, line := range strings.Split(strings.TrimSpace(b.buf.String()), "\n") {
		if line == "" {
			continue
		}
		var rec struct {
			Level string `json:"level"`
			Msg   string `json:"msg"`
		}
		if json.Unmarshal([]byte(line), &rec) == nil && rec.Level == "WARN" {
			out = append(out, rec.Msg)
		}
	}
	return out
}

func newJSONLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

type harness struct {
	widget      *Widget
	element     *Element
	configs     *fakeConfigs
	credentials *fakeCredentials
	capture     *fakeCapture
	transport   *fakeTransport
	searcher    *fakeSearcher
	presenter   *recordingPresenter
	events      *eventLog
	logs        *logBuffer
}

func activeConfig() *domain.AgentConfig {
	return &domain.AgentConfig{
		ID:           "agent-1",
		Name:         "Ava",
		Voice:        "marin",
		Instructions: "You are a helpful concierge.",
		Active:       true,
	}
}

func newHarness(t *testing.T, cfg *domain.AgentConfig) *harness {
	t.Helper()
	h := &harness{
		element:     NewElement(map[string]string{AttrAgentID: "agent-1", AttrAccountID: "acct-1"}),
		configs:     &fakeConfigs{cfg: cfg},
		credentials: &fakeCredentials{},
		capture:     &fakeCapture{},
		transport:   &fakeTransport{},
		searcher:    &fakeSearcher{},
		presenter:   &recordingPresenter{},
		events:      &eventLog{},
		logs:        &logBuffer{},
	}
	opts := DefaultOptions()
	opts.GreetingDelay = time.Millisecond
	h.widget = Upgrade(h.element, Deps{
		Configs:     h.configs,
		Credentials: h.credentials,
		Transport:   h.transport,
		Capture:     h.capture,
		Searcher:    h.searcher,
		Presenter:   h.presenter,
		Logger:      newJSONLogger(h.logs),
		Now:         func() time.Time { return time.Date(2026, time.March, 14, 10, 0, 0, 0, time.UTC) },
		Options:     opts,
	})
	h.widget.AddEventListener(AllEvents, h.events.record)
	t.Cleanup(h.widget.Detach)
	return h
}

// connected attaches, starts and completes the session.created handshake.
func (h *harness) connected(t *testing.T) {
	t.Helper()
	h.widget.Attach(context.Background())
	h.widget.StartConversation(context.Background())
	require.Equal(t, 1, h.transport.connects())
	h.transport.deliver(t, `{"type":"session.created","session":{"id":"sess_remote"}}`)
	require.Equal(t, StateConnected, h.widget.View().State)
}
