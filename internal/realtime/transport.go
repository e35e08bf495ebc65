package realtime

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"sync/atomic"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
	"golang.org/x/sync/errgroup"
)

// AudioSource is captured microphone audio. Chunks read while disabled are dropped.
type AudioSource interface {
	io.Reader
	Enabled() bool
}

// ConnectRequest holds everything needed to open one realtime session.
type ConnectRequest struct {
	URL                string
	Model              string
	Credential         string
	Agent              Agent
	Audio              AudioSource
	SampleRate         int
	TranscriptionModel string
}

// Handler receives server events in arrival order.
type Handler func(Event)

// Conn is an open realtime session.
type Conn interface {
	Send(ctx context.Context, msg any) error
	Close() error
}

// Transport opens realtime sessions.
type Transport interface {
	Connect(ctx context.Context, req ConnectRequest, handler Handler) (Conn, error)
}

// WebSocketTransport implements Transport over a websocket.
type WebSocketTransport struct {
	client    *http.Client
	sink      io.Writer
	chunkSize int
	logger    *slog.Logger
}

// NewWebSocketTransport creates a websocket transport. Decoded assistant audio is written
// to sink when it is non-nil.
func NewWebSocketTransport(client *http.Client, sink io.Writer, logger *slog.Logger) *WebSocketTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &WebSocketTransport{
		client:    client,
		sink:      sink,
		chunkSize: 4800, // 100ms of 24kHz mono PCM16
		logger:    logger,
	}
}

// Connect dials the service, configures the session and starts the read loop and the
// audio pump.
func (t *WebSocketTransport) Connect(ctx context.Context, req ConnectRequest, handler Handler) (Conn, error) {
	if handler == nil {
		return nil, errors.New("realtime handler is required")
	}
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("invalid realtime url: %w", err)
	}
	if req.Model != "" {
		q := target.Query()
		q.Set("model", req.Model)
		target.RawQuery = q.Encode()
	}

	header := http.Header{}
	header.Set("Authorization", "Bearer "+req.Credential)
	ws, _, err := websocket.Dial(ctx, target.String(), &websocket.DialOptions{
		HTTPClient: t.client,
		HTTPHeader: header,
	})
	if err != nil {
		return nil, fmt.Errorf("network error connecting to realtime service: %w", err)
	}
	ws.SetReadLimit(1 << 22)

	sampleRate := req.SampleRate
	if sampleRate <= 0 {
		sampleRate = 24000
	}
	update := NewSessionUpdate(req.Model, req.Agent, sampleRate, req.TranscriptionModel)
	if err := wsjson.Write(ctx, ws, update); err != nil {
		_ = ws.CloseNow()
		return nil, fmt.Errorf("network error configuring realtime session: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	c := &wsConn{
		ws:      ws,
		handler: handler,
		sink:    t.sink,
		cancel:  cancel,
		done:    make(chan struct{}),
		logger:  t.logger,
	}

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return c.readLoop(gctx) })
	if req.Audio != nil {
		g.Go(func() error { return c.pumpAudio(gctx, req.Audio, t.chunkSize) })
	}
	go func() {
		defer close(c.done)
		if err := g.Wait(); err != nil {
			t.logger.Debug("realtime session ended", "error", err)
		}
	}()

	return c, nil
}

type wsConn struct {
	ws      *websocket.Conn
	handler Handler
	sink    io.Writer
	cancel  context.CancelFunc
	closed  atomic.Bool
	done    chan struct{}
	logger  *slog.Logger
}

// Send writes msg as a JSON text frame.
func (c *wsConn) Send(ctx context.Context, msg any) error {
	if c.closed.Load() {
		return ErrClosed
	}
	if err := wsjson.Write(ctx, c.ws, msg); err != nil {
		if c.closed.Load() {
			return ErrClosed
		}
		return fmt.Errorf("send realtime message: %w", err)
	}
	return nil
}

// Close ends the session. It may be called from inside the event handler and does not
// wait for the read loop to exit.
func (c *wsConn) Close() error {
	if !c.closed.CompareAndSwap(false, true) {
		return nil
	}
	if err := c.ws.Close(websocket.StatusNormalClosure, "session ended"); err != nil {
		c.logger.Debug("realtime close handshake incomplete", "error", err)
	}
	c.cancel()
	return nil
}

// Done is closed once the read loop and the audio pump have exited.
func (c *wsConn) Done() <-chan struct{} {
	return c.done
}

func (c *wsConn) readLoop(ctx context.Context) error {
	for {
		typ, frame, err := c.ws.Read(ctx)
		if err != nil {
			if c.closed.Load() || ctx.Err() != nil {
				return nil
			}
			c.handler(ErrorEvent("realtime connection lost: " + err.Error()))
			return fmt.Errorf("read realtime frame: %w", err)
		}
		if typ != websocket.MessageText {
			continue
		}
		ev, err := DecodeEvent(frame)
		if err != nil {
			c.logger.Warn("dropping malformed realtime frame", "error", err)
			continue
		}
		if ev.Type == EventOutputAudioDelta || ev.Type == EventLegacyAudioDelta {
			c.writeAudio(ev)
		}
		if c.closed.Load() {
			return nil
		}
		c.handler(ev)
	}
}

func (c *wsConn) writeAudio(ev Event) {
	if c.sink == nil {
		return
	}
	var body struct {
		Delta string `json:"delta"`
	}
	if err := ev.Decode(&body); err != nil || body.Delta == "" {
		return
	}
	pcm, err := base64.StdEncoding.DecodeString(body.Delta)
	if err != nil {
		c.logger.Warn("dropping undecodable audio delta", "error", err)
		return
	}
	if _, err := c.sink.Write(pcm); err != nil {
		c.logger.Warn("failed to write assistant audio", "error", err)
	}
}

func (c *wsConn) pumpAudio(ctx context.Context, audio AudioSource, chunkSize int) error {
	buf := make([]byte, chunkSize)
	for {
		n, err := audio.Read(buf)
		if n > 0 && audio.Enabled() {
			if sendErr := c.Send(ctx, NewAudioAppend(buf[:n])); sendErr != nil {
				if c.closed.Load() || ctx.Err() != nil {
					return nil
				}
				return sendErr
			}
		}
		if err != nil {
			if errors.Is(err, io.EOF) || c.closed.Load() || ctx.Err() != nil {
				return nil
			}
			return fmt.Errorf("read microphone audio: %w", err)
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}
