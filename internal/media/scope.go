package media

import (
	"context"
	"sync"
)

// Scope is a session-owned accessor over a Capture. Every stream acquired through it is
// stopped by Release, and a released scope grants nothing further.
type Scope struct {
	mu       sync.Mutex
	capture  Capture
	streams  []*Stream
	enabled  bool
	released bool
}

// NewScope creates an accessor over capture.
func NewScope(capture Capture) *Scope {
	return &Scope{capture: capture, enabled: true}
}

// Acquire requests a stream and records it for release. The current enabled state is
// applied to the new stream.
func (s *Scope) Acquire(ctx context.Context, c Constraints) (*Stream, error) {
	s.mu.Lock()
	if s.released {
		s.mu.Unlock()
		return nil, ErrScopeReleased
	}
	capture := s.capture
	s.mu.Unlock()

	if capture == nil {
		return nil, ErrDeviceNotFound
	}
	stream, err := capture.GetUserMedia(ctx, c)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.released {
		// Released while the host was granting access.
		stream.Stop()
		return nil, ErrScopeReleased
	}
	stream.SetEnabled(s.enabled)
	s.streams = append(s.streams, stream)
	return stream, nil
}

// SetEnabled enables or disables the audio tracks of every held stream.
func (s *Scope) SetEnabled(enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.enabled = enabled
	for _, st := range s.streams {
		st.SetEnabled(enabled)
	}
}

// Active returns the number of streams currently held.
func (s *Scope) Active() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.streams)
}

// Release stops every held stream. It is safe to call more than once.
func (s *Scope) Release() {
	s.mu.Lock()
	streams := s.streams
	s.streams = nil
	s.released = true
	s.mu.Unlock()

	for _, st := range streams {
		st.Stop()
	}
}
