// Package media models microphone capture: streams with toggleable audio tracks, the
// capture capability that produces them, and a session-scoped accessor that releases
// everything it handed out.
package media

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"github.com/google/uuid"
)

var (
	// ErrPermissionDenied is returned when the host refuses microphone access.
	ErrPermissionDenied = errors.New("microphone permission denied")
	// ErrDeviceNotFound is returned when no capture source is available.
	ErrDeviceNotFound = errors.New("microphone not found")
	// ErrScopeReleased is returned by Scope.Acquire after Release.
	ErrScopeReleased = errors.New("media scope released")
)

// Constraints describes the requested capture format (PCM16 little-endian).
type Constraints struct {
	SampleRate       int
	Channels         int
	EchoCancellation bool
}

// DefaultConstraints matches the realtime transport's input format.
func DefaultConstraints() Constraints {
	return Constraints{SampleRate: 24000, Channels: 1, EchoCancellation: true}
}

// BytesPerSecond returns the PCM16 byte rate for the constraints.
func (c Constraints) BytesPerSecond() int {
	channels := c.Channels
	if channels <= 0 {
		channels = 1
	}
	return c.SampleRate * channels * 2
}

// Capture is the host capability that grants microphone streams.
type Capture interface {
	GetUserMedia(ctx context.Context, c Constraints) (*Stream, error)
}

// Track is a single audio track. A disabled track still exists but produces no audio.
type Track struct {
	id      string
	kind    string
	enabled atomic.Bool
	stopped atomic.Bool
}

func newAudioTrack() *Track {
	t := &Track{id: uuid.NewString(), kind: "audio"}
	t.enabled.Store(true)
	return t
}

// ID returns the track identifier.
func (t *Track) ID() string { return t.id }

// Kind returns the track kind.
func (t *Track) Kind() string { return t.kind }

// Enabled reports whether the track currently produces audio.
func (t *Track) Enabled() bool { return t.enabled.Load() && !t.stopped.Load() }

// SetEnabled enables or disables the track.
func (t *Track) SetEnabled(enabled bool) { t.enabled.Store(enabled) }

// Stop ends the track permanently.
func (t *Track) Stop() { t.stopped.Store(true) }

// Stopped reports whether Stop was called.
func (t *Track) Stopped() bool { return t.stopped.Load() }

// Stream is a captured microphone stream. Reads yield PCM16 audio.
type Stream struct {
	id          string
	src         io.ReadCloser
	tracks      []*Track
	constraints Constraints
	stopOnce    sync.Once
}

// NewStream wraps src as a stream with one audio track.
func NewStream(src io.ReadCloser, c Constraints) *Stream {
	return &Stream{
		id:          uuid.NewString(),
		src:         src,
		tracks:      []*Track{newAudioTrack()},
		constraints: c,
	}
}

// ID returns the stream identifier.
func (s *Stream) ID() string { return s.id }

// Constraints returns the format the stream was opened with.
func (s *Stream) Constraints() Constraints { return s.constraints }

// AudioTracks returns the stream's audio tracks.
func (s *Stream) AudioTracks() []*Track { return s.tracks }

// Enabled reports whether any audio track is enabled.
func (s *Stream) Enabled() bool {
	for _, t := range s.tracks {
		if t.Enabled() {
			return true
		}
	}
	return false
}

// SetEnabled enables or disables every audio track.
func (s *Stream) SetEnabled(enabled bool) {
	for _, t := range s.tracks {
		t.SetEnabled(enabled)
	}
}

// Read reads captured audio. It returns io.EOF once the stream is stopped.
func (s *Stream) Read(p []byte) (int, error) {
	if s.stopped() {
		return 0, io.EOF
	}
	return s.src.Read(p)
}

// Stop stops all tracks and closes the underlying source.
func (s *Stream) Stop() {
	s.stopOnce.Do(func() {
		for _, t := range s.tracks {
			t.Stop()
		}
		if s.src != nil {
			_ = s.src.Close()
		}
	})
}

func (s *Stream) stopped() bool {
	for _, t := range s.tracks {
		if !t.Stopped() {
			return false
		}
	}
	return true
}
