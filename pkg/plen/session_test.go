package plen

import (
	"context"
	"sync"
	"testing"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeStream feeds queued requests to a session and records its replies.
type fakeStream struct {
	in      chan string
	replies chan string

	mu     sync.Mutex
	closed chan struct{}
	cause  error
	closes int
}

func newFakeStream() *fakeStream {
	return &fakeStream{
		in:      make(chan string, 16),
		replies: make(chan string, 16),
		closed:  make(chan struct{}),
	}
}

func (s *fakeStream) ReadMessage() (string, error) {
	select {
	case msg, ok := <-s.in:
		if !ok {
			return "", ErrTransportClosed
		}
		return msg, nil
	case <-s.closed:
		return "", ErrTransportClosed
	}
}

func (s *fakeStream) WriteMessage(msg string) error {
	s.replies <- msg
	return nil
}

func (s *fakeStream) Close(cause error) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closes++
	if s.closes == 1 {
		s.cause = cause
		close(s.closed)
	}
	return nil
}

func (s *fakeStream) Cause() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cause
}

func testLogger() log.FieldLogger {
	logger := log.New()
	logger.SetLevel(log.DebugLevel)
	return logger.WithField("test", true)
}

func serveAsync(t *testing.T, ctx context.Context, s *Session, stream Stream) <-chan error {
	t.Helper()
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.Serve(ctx, stream)
	}()
	return errCh
}

func waitServe(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("session did not terminate")
		return nil
	}
}

func TestSessionPlayKeepsStreaming(t *testing.T) {
	drv := newFakeDriver()
	drv.motions[3] = playableMotion(3)
	s := NewSession(drv, &Gate{}, testLogger())

	require.NoError(t, s.Connect())
	assert.Equal(t, StateStreaming, s.State())

	stream := newFakeStream()
	errCh := serveAsync(t, context.Background(), s, stream)

	stream.in <- "play/3"
	assert.Equal(t, "true", <-stream.replies)
	assert.Equal(t, StateStreaming, s.State())

	stream.in <- "stop"
	assert.Equal(t, "true", <-stream.replies)

	close(stream.in)
	assert.NoError(t, waitServe(t, errCh))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, drv.Disconnects())
	assert.Equal(t, []string{"connect", "play 3", "stop", "disconnect"}, drv.Calls())
}

func TestSessionRepliesInOrder(t *testing.T) {
	drv := newFakeDriver()
	s := NewSession(drv, &Gate{}, testLogger())
	require.NoError(t, s.Connect())

	stream := newFakeStream()
	for _, msg := range []string{"play/1", "stop", "getMotion/2", "apply/0/10"} {
		stream.in <- msg
	}
	close(stream.in)

	require.NoError(t, waitServe(t, serveAsync(t, context.Background(), s, stream)))
	close(stream.replies)

	var replies []string
	for r := range stream.replies {
		replies = append(replies, r)
	}
	assert.Equal(t, []string{
		"false",
		"true",
		`{"slot":2,"name":"Empty","codes":[],"frames":[]}`,
		"true",
	}, replies)
}

func TestSessionUnknownMethodIsFatal(t *testing.T) {
	drv := newFakeDriver()
	s := NewSession(drv, &Gate{}, testLogger())
	require.NoError(t, s.Connect())

	stream := newFakeStream()
	stream.in <- "fooBar/1"
	stream.in <- "play/3"

	err := waitServe(t, serveAsync(t, context.Background(), s, stream))
	assert.True(t, IsDispatchError(err, UnknownMethod))
	assert.True(t, IsDispatchError(stream.Cause(), UnknownMethod))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, drv.Disconnects())
	assert.NotContains(t, drv.Calls(), "play 3")
}

func TestSessionDriverErrorIsFatal(t *testing.T) {
	drv := newFakeDriver()
	drv.failOp = "play"
	s := NewSession(drv, &Gate{}, testLogger())
	require.NoError(t, s.Connect())

	stream := newFakeStream()
	stream.in <- "play/3"

	err := waitServe(t, serveAsync(t, context.Background(), s, stream))
	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "play", de.Op)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, drv.Disconnects())
}

func TestSessionDeviceNotFound(t *testing.T) {
	drv := newFakeDriver()
	drv.present = false
	gate := &Gate{}
	s := NewSession(drv, gate, testLogger())

	assert.ErrorIs(t, s.Connect(), ErrDeviceNotFound)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, drv.Disconnects())
	assert.False(t, gate.Busy())

	stream := newFakeStream()
	assert.ErrorIs(t, s.Serve(context.Background(), stream), ErrSessionClosed)
}

func TestSessionConnectError(t *testing.T) {
	drv := newFakeDriver()
	drv.connectErr = errFake
	gate := &Gate{}
	s := NewSession(drv, gate, testLogger())

	err := s.Connect()
	var de *DriverError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, "connect", de.Op)
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 0, drv.Disconnects())
	assert.False(t, gate.Busy())
}

func TestSessionRejectsSecondStream(t *testing.T) {
	drv := newFakeDriver()
	gate := &Gate{}

	first := NewSession(drv, gate, testLogger())
	require.NoError(t, first.Connect())
	stream := newFakeStream()
	errCh := serveAsync(t, context.Background(), first, stream)

	second := NewSession(drv, gate, testLogger())
	assert.ErrorIs(t, second.Connect(), ErrAlreadyConnected)
	assert.Equal(t, StateClosed, second.State())
	second.Close()

	assert.Equal(t, StateStreaming, first.State())
	assert.Equal(t, 0, drv.Disconnects())
	assert.Equal(t, []string{"connect"}, drv.Calls())

	close(stream.in)
	require.NoError(t, waitServe(t, errCh))
	assert.Equal(t, 1, drv.Disconnects())

	// The device is free again for a fresh session.
	third := NewSession(drv, gate, testLogger())
	require.NoError(t, third.Connect())
	third.Close()
	assert.Equal(t, 2, drv.Disconnects())
}

func TestSessionCancelClosesStream(t *testing.T) {
	drv := newFakeDriver()
	s := NewSession(drv, &Gate{}, testLogger())
	require.NoError(t, s.Connect())

	ctx, cancel := context.WithCancel(context.Background())
	stream := newFakeStream()
	errCh := serveAsync(t, ctx, s, stream)

	cancel()
	assert.NoError(t, waitServe(t, errCh))
	assert.Equal(t, StateClosed, s.State())
	assert.Equal(t, 1, drv.Disconnects())
	assert.Nil(t, stream.Cause())
}

func TestSessionIsNotReused(t *testing.T) {
	drv := newFakeDriver()
	s := NewSession(drv, &Gate{}, testLogger())
	require.NoError(t, s.Connect())
	s.Close()
	s.Close()

	assert.Equal(t, 1, drv.Disconnects())
	assert.ErrorIs(t, s.Connect(), ErrSessionClosed)
}
