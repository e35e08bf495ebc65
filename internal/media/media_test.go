package media

import (
	"bytes"
	"context"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubCapture struct {
	err     error
	granted []*Stream
}

func (c *stubCapture) GetUserMedia(ctx context.Context, cons Constraints) (*Stream, error) {
	if c.err != nil {
		return nil, c.err
	}
	s := NewStream(io.NopCloser(bytes.NewReader(make([]byte, 64))), cons)
	c.granted = append(c.granted, s)
	return s, nil
}

func TestStreamStopEndsReads(t *testing.T) {
	s := NewStream(io.NopCloser(bytes.NewReader([]byte{1, 2, 3, 4})), DefaultConstraints())
	require.True(t, s.Enabled())

	s.Stop()
	for _, tr := range s.AudioTracks() {
		assert.True(t, tr.Stopped())
		assert.False(t, tr.Enabled())
	}
	_, err := s.Read(make([]byte, 4))
	assert.ErrorIs(t, err, io.EOF)
}

func TestStreamSetEnabled(t *testing.T) {
	s := NewStream(io.NopCloser(bytes.NewReader(nil)), DefaultConstraints())
	s.SetEnabled(false)
	assert.False(t, s.Enabled())
	s.SetEnabled(true)
	assert.True(t, s.Enabled())
}

func TestScopeReleaseStopsAcquiredStreams(t *testing.T) {
	capture := &stubCapture{}
	scope := NewScope(capture)

	_, err := scope.Acquire(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	_, err = scope.Acquire(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	assert.Equal(t, 2, scope.Active())

	scope.Release()
	scope.Release()

	assert.Equal(t, 0, scope.Active())
	for _, s := range capture.granted {
		assert.False(t, s.Enabled())
	}
	_, err = scope.Acquire(context.Background(), DefaultConstraints())
	assert.ErrorIs(t, err, ErrScopeReleased)
}

func TestScopeAppliesMuteToLaterStreams(t *testing.T) {
	scope := NewScope(&stubCapture{})
	scope.SetEnabled(false)

	s, err := scope.Acquire(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	assert.False(t, s.Enabled())

	scope.SetEnabled(true)
	assert.True(t, s.Enabled())
}

func TestScopePropagatesPermissionDenied(t *testing.T) {
	scope := NewScope(&stubCapture{err: ErrPermissionDenied})
	_, err := scope.Acquire(context.Background(), DefaultConstraints())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestReaderCaptureMissingSource(t *testing.T) {
	_, err := NewReaderCapture("").GetUserMedia(context.Background(), DefaultConstraints())
	assert.ErrorIs(t, err, ErrDeviceNotFound)

	_, err = NewReaderCapture(filepath.Join(t.TempDir(), "nope.pcm")).GetUserMedia(context.Background(), DefaultConstraints())
	assert.ErrorIs(t, err, ErrDeviceNotFound)
}

func TestReaderCaptureUnreadableSourceIsPermissionDenied(t *testing.T) {
	if runtime.GOOS == "windows" || os.Geteuid() == 0 {
		t.Skip("file permissions are not enforced for this user")
	}
	path := filepath.Join(t.TempDir(), "locked.pcm")
	require.NoError(t, os.WriteFile(path, []byte{0, 0}, 0o000))

	_, err := NewReaderCapture(path).GetUserMedia(context.Background(), DefaultConstraints())
	assert.ErrorIs(t, err, ErrPermissionDenied)
}

func TestReaderCaptureReadsFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "voice.pcm")
	payload := bytes.Repeat([]byte{7}, 480)
	require.NoError(t, os.WriteFile(path, payload, 0o600))

	s, err := NewReaderCapture(path).GetUserMedia(context.Background(), DefaultConstraints())
	require.NoError(t, err)
	defer s.Stop()

	got, err := io.ReadAll(s)
	require.NoError(t, err)
	assert.Equal(t, payload, got)
}

func TestOpenSinkDiscard(t *testing.T) {
	w, err := OpenSink("")
	require.NoError(t, err)
	n, err := w.Write([]byte("pcm"))
	require.NoError(t, err)
	assert.Equal(t, 3, n)
	require.NoError(t, w.Close())
}
