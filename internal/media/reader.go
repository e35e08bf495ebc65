package media

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"time"
)

// ReaderCapture grants streams backed by a PCM16 file, or stdin when the source is "-".
// File sources are paced to real time so they behave like a live microphone.
type ReaderCapture struct {
	source string
	stdin  io.Reader
}

// NewReaderCapture creates a capture over source. An empty source has no device.
func NewReaderCapture(source string) *ReaderCapture {
	return &ReaderCapture{source: source, stdin: os.Stdin}
}

// GetUserMedia opens the source.
func (c *ReaderCapture) GetUserMedia(ctx context.Context, cons Constraints) (*Stream, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	switch c.source {
	case "":
		return nil, ErrDeviceNotFound
	case "-":
		return NewStream(io.NopCloser(c.stdin), cons), nil
	}

	f, err := os.Open(c.source)
	if err != nil {
		switch {
		case errors.Is(err, os.ErrPermission):
			return nil, fmt.Errorf("%w: %s", ErrPermissionDenied, c.source)
		case errors.Is(err, os.ErrNotExist):
			return nil, fmt.Errorf("%w: %s", ErrDeviceNotFound, c.source)
		default:
			return nil, fmt.Errorf("open audio source: %w", err)
		}
	}
	return NewStream(&pacedReader{rc: f, bytesPerSecond: cons.BytesPerSecond(), start: time.Now()}, cons), nil
}

// pacedReader delays reads so that data is delivered no faster than bytesPerSecond.
type pacedReader struct {
	rc             io.ReadCloser
	bytesPerSecond int
	start          time.Time
	delivered      int64
}

func (p *pacedReader) Read(b []byte) (int, error) {
	n, err := p.rc.Read(b)
	if n > 0 && p.bytesPerSecond > 0 {
		p.delivered += int64(n)
		due := p.start.Add(time.Duration(p.delivered) * time.Second / time.Duration(p.bytesPerSecond))
		if wait := time.Until(due); wait > 0 {
			time.Sleep(wait)
		}
	}
	return n, err
}

func (p *pacedReader) Close() error {
	return p.rc.Close()
}

// OpenSink opens the playback destination for assistant audio. An empty path discards it.
func OpenSink(path string) (io.WriteCloser, error) {
	switch path {
	case "":
		return nopWriteCloser{io.Discard}, nil
	case "-":
		return nopWriteCloser{os.Stdout}, nil
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open audio sink: %w", err)
	}
	return f, nil
}

type nopWriteCloser struct{ io.Writer }

func (nopWriteCloser) Close() error { return nil }
