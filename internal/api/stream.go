package api

import (
	"container/list"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ashureev/voicewidget/internal/config"
	"github.com/ashureev/voicewidget/internal/realtime"
	"github.com/ashureev/voicewidget/internal/widget"
)

// EventQueue keeps the most recent stream messages for clients that reconnect with
// Last-Event-ID.
type EventQueue struct {
	mu      sync.RWMutex
	items   *list.List
	maxSize int
}

// QueuedMessage is a message retained for replay.
type QueuedMessage struct {
	EventID   int64
	Data      []byte
	Timestamp time.Time
}

// NewEventQueue creates a bounded replay queue.
func NewEventQueue(maxSize int) *EventQueue {
	if maxSize <= 0 {
		maxSize = 100
	}
	return &EventQueue{items: list.New(), maxSize: maxSize}
}

// Enqueue appends a message, evicting the oldest beyond capacity.
func (q *EventQueue) Enqueue(eventID int64, data []byte) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.items.PushBack(&QueuedMessage{EventID: eventID, Data: data, Timestamp: time.Now()})
	for q.items.Len() > q.maxSize {
		q.items.Remove(q.items.Front())
	}
}

// After returns the retained messages with an ID greater than afterEventID.
func (q *EventQueue) After(afterEventID int64) []*QueuedMessage {
	q.mu.RLock()
	defer q.mu.RUnlock()
	var missed []*QueuedMessage
	for e := q.items.Front(); e != nil; e = e.Next() {
		msg := e.Value.(*QueuedMessage)
		if msg.EventID > afterEventID {
			missed = append(missed, msg)
		}
	}
	return missed
}

type sseConnection struct {
	id      int64
	writer  http.ResponseWriter
	flusher http.Flusher
	eventID int64
	done    chan struct{}
	mu      sync.Mutex
}

type streamMessage struct {
	Type   string          `json:"type"`
	Detail json.RawMessage `json:"detail,omitempty"`
	View   widget.View     `json:"view"`
}

// Stream fans widget events out to server-sent-event clients.
type Stream struct {
	widget Widget
	cfg    config.SSEConfig
	logger *slog.Logger

	queue    *EventQueue
	incoming chan realtime.Event
	remove   func()

	connsMu      sync.RWMutex
	conns        map[int64]*sseConnection
	counterMu    sync.Mutex
	eventCounter int64
	connectionID int64

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

// NewStream subscribes to every widget event except audio deltas and starts the
// broadcast loop.
func NewStream(w Widget, cfg config.SSEConfig, logger *slog.Logger) *Stream {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.KeepaliveInterval <= 0 {
		cfg.KeepaliveInterval = 10 * time.Second
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = 5 * time.Second
	}

	s := &Stream{
		widget:   w,
		cfg:      cfg,
		logger:   logger,
		queue:    NewEventQueue(cfg.ReplayQueueSize),
		incoming: make(chan realtime.Event, 256),
		conns:    make(map[int64]*sseConnection),
		done:     make(chan struct{}),
	}
	s.remove = w.AddEventListener(widget.AllEvents, s.onEvent)

	s.wg.Add(1)
	go s.broadcastLoop()
	return s
}

func (s *Stream) onEvent(ev realtime.Event) {
	if ev.Type == realtime.EventOutputAudioDelta || ev.Type == realtime.EventLegacyAudioDelta {
		return
	}
	select {
	case <-s.done:
	case s.incoming <- ev:
	default:
		s.logger.Warn("SSE broadcast queue full, dropping event", "type", ev.Type)
	}
}

// Close unsubscribes from the widget and stops the broadcast loop. Open streams end.
func (s *Stream) Close() {
	s.closeOnce.Do(func() {
		s.remove()
		close(s.done)
	})
	s.wg.Wait()
}

func (s *Stream) nextEventID() int64 {
	s.counterMu.Lock()
	defer s.counterMu.Unlock()
	s.eventCounter++
	return s.eventCounter
}

func (s *Stream) broadcastLoop() {
	defer s.wg.Done()
	for {
		select {
		case <-s.done:
			return
		case ev := <-s.incoming:
			data, err := json.Marshal(streamMessage{Type: ev.Type, Detail: ev.Detail, View: s.widget.View()})
			if err != nil {
				s.logger.Error("Failed to marshal SSE message", "type", ev.Type, "error", err)
				continue
			}

			eventID := s.nextEventID()
			s.queue.Enqueue(eventID, data)

			s.connsMu.RLock()
			conns := make([]*sseConnection, 0, len(s.conns))
			for _, c := range s.conns {
				conns = append(conns, c)
			}
			s.connsMu.RUnlock()

			for _, conn := range conns {
				s.sendToConnection(conn, eventID, data)
			}
		}
	}
}

func (s *Stream) sendToConnection(conn *sseConnection, eventID int64, data []byte) {
	conn.mu.Lock()
	defer conn.mu.Unlock()

	select {
	case <-conn.done:
		return
	default:
	}
	if eventID <= conn.eventID {
		return
	}

	if err := writeSSEWithID(conn.writer, eventID, "widget", string(data)); err != nil {
		s.logger.Warn("Failed to write to SSE connection", "error", err, "conn_id", conn.id)
		return
	}
	conn.flusher.Flush()
	conn.eventID = eventID
}

// RegisterRoutes registers the event stream route.
func (s *Stream) RegisterRoutes(r chi.Router) {
	r.Get("/api/widget/events", s.HandleEvents)
}

// HandleEvents streams widget events. Clients reconnecting with Last-Event-ID (header
// or lastEventId query parameter) first receive the retained messages they missed.
func (s *Stream) HandleEvents(w http.ResponseWriter, r *http.Request) {
	lastEventID := int64(0)
	idHeader := r.Header.Get("Last-Event-ID")
	if idHeader == "" {
		idHeader = r.URL.Query().Get("lastEventId")
	}
	if idHeader != "" {
		if parsed, err := strconv.ParseInt(idHeader, 10, 64); err == nil {
			lastEventID = parsed
			s.logger.Info("SSE client reconnecting with Last-Event-ID", "last_event_id", lastEventID)
		}
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		Error(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	if _, err := io.WriteString(w, fmt.Sprintf("retry: %d\n\n", s.cfg.RetryDelay.Milliseconds())); err != nil {
		s.logger.Warn("failed to write SSE retry header", "error", err)
		return
	}
	flusher.Flush()

	s.counterMu.Lock()
	s.connectionID++
	connID := s.connectionID
	s.counterMu.Unlock()

	conn := &sseConnection{
		id:      connID,
		writer:  w,
		flusher: flusher,
		done:    make(chan struct{}),
	}

	// Hold the connection lock while registering and replaying so broadcasts queue
	// behind the missed messages.
	conn.mu.Lock()
	s.connsMu.Lock()
	s.conns[connID] = conn
	s.connsMu.Unlock()

	defer func() {
		s.connsMu.Lock()
		delete(s.conns, connID)
		s.connsMu.Unlock()
		conn.mu.Lock()
		close(conn.done)
		conn.mu.Unlock()
		s.logger.Info("SSE connection closed", "conn_id", connID)
	}()

	if lastEventID > 0 {
		missed := s.queue.After(lastEventID)
		if len(missed) > 0 {
			s.logger.Info("Sending missed messages", "count", len(missed))
		}
		for _, msg := range missed {
			if err := writeSSEWithID(w, msg.EventID, "widget", string(msg.Data)); err != nil {
				conn.mu.Unlock()
				return
			}
			conn.eventID = msg.EventID
		}
	}

	connected, _ := json.Marshal(map[string]any{
		"status":     "connected",
		"session_id": s.widget.SessionID(),
		"view":       s.widget.View(),
	})
	if err := writeSSE(w, "connected", string(connected)); err != nil {
		conn.mu.Unlock()
		s.logger.Warn("failed to write SSE connected event", "error", err)
		return
	}
	flusher.Flush()
	conn.mu.Unlock()

	s.logger.Info("SSE connection established", "conn_id", connID, "reconnect", lastEventID > 0)

	keepalive := time.NewTicker(s.cfg.KeepaliveInterval)
	defer keepalive.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.done:
			return
		case <-keepalive.C:
			conn.mu.Lock()
			if err := writeSSE(w, "ping", `{"status":"alive"}`); err != nil {
				conn.mu.Unlock()
				s.logger.Warn("failed to write SSE keepalive ping", "error", err)
				return
			}
			flusher.Flush()
			conn.mu.Unlock()
		}
	}
}

func writeSSE(w io.Writer, event, data string) error {
	_, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, data)
	return err
}

func writeSSEWithID(w io.Writer, id int64, event, data string) error {
	_, err := fmt.Fprintf(w, "id: %d\nevent: %s\ndata: %s\n\n", id, event, data)
	return err
}
