package plen

import (
	"context"
	"errors"
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"
)

type SessionState int32

const (
	StateIdle SessionState = iota
	StateConnecting
	StateStreaming
	StateClosed
)

func (s SessionState) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateStreaming:
		return "streaming"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("SessionState(%d)", int32(s))
	}
}

// Stream is the transport of a single command stream connection.
type Stream interface {
	// ReadMessage blocks until the next request arrives. It returns an
	// error wrapping ErrTransportClosed once the peer has gone away.
	ReadMessage() (string, error)
	WriteMessage(msg string) error
	// Close ends the connection. A non-nil cause is reported to the peer
	// before the connection is torn down.
	Close(cause error) error
}

// Gate admits at most one active session at a time.
type Gate struct {
	mu    sync.Mutex
	owner *Session
}

func (g *Gate) acquire(s *Session) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner != nil {
		return false
	}
	g.owner = s
	return true
}

func (g *Gate) release(s *Session) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.owner == s {
		g.owner = nil
	}
}

// Busy reports whether a session currently holds the device.
func (g *Gate) Busy() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.owner != nil
}

// Session drives one command stream connection from connect to close.
// A session is never reused once closed.
type Session struct {
	driver     Driver
	dispatcher *Dispatcher
	gate       *Gate
	logger     log.FieldLogger

	mu        sync.Mutex
	state     SessionState
	connected bool // Connect succeeded; Disconnect is owed
	closeOnce sync.Once
}

func NewSession(d Driver, gate *Gate, logger log.FieldLogger) *Session {
	return &Session{
		driver:     d,
		dispatcher: NewDispatcher(d),
		gate:       gate,
		logger:     logger,
		state:      StateIdle,
	}
}

func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

func (s *Session) setState(state SessionState) {
	s.mu.Lock()
	s.state = state
	s.mu.Unlock()
}

// Connect moves the session from Idle to Streaming. It fails with
// ErrAlreadyConnected when another session holds the device and with
// ErrDeviceNotFound when the driver finds no robot; in both cases the
// session ends up Closed.
func (s *Session) Connect() error {
	if s.State() != StateIdle {
		return ErrSessionClosed
	}

	if !s.gate.acquire(s) {
		s.setState(StateClosed)
		s.logger.Info("Rejecting command stream: device is held by another session")
		return ErrAlreadyConnected
	}
	s.setState(StateConnecting)

	ok, err := s.driver.Connect()
	if err != nil {
		s.logger.Errorf("Failed to connect driver: %v", err)
		s.close()
		return NewDriverError("connect", err)
	}
	if !ok {
		s.logger.Info("PLEN is not found")
		s.close()
		return ErrDeviceNotFound
	}

	s.mu.Lock()
	s.connected = true
	s.state = StateStreaming
	s.mu.Unlock()

	s.logger.Debug("Command stream connected")
	return nil
}

// Serve pumps requests from stream through the dispatcher until the
// stream closes, ctx is cancelled, or a command fails. Any command
// failure is fatal to the session. Serve returns nil when the client
// closed the stream.
func (s *Session) Serve(ctx context.Context, stream Stream) error {
	if s.State() != StateStreaming {
		stream.Close(ErrSessionClosed)
		return ErrSessionClosed
	}
	defer s.close()

	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			s.logger.Debug("Server shutting down, closing command stream")
			stream.Close(nil)
		case <-done:
		}
	}()

	for {
		msg, err := stream.ReadMessage()
		if err != nil {
			if errors.Is(err, ErrTransportClosed) {
				s.logger.Info("Command stream closed by client")
			} else {
				s.logger.Warnf("Command stream read failed: %v", err)
			}
			stream.Close(nil)
			return nil
		}

		cmd := ParseCommand(msg)
		reply, err := s.dispatcher.Dispatch(msg)
		if err != nil {
			s.logger.WithFields(log.Fields{
				"method": cmd.Method,
				"args":   cmd.Args,
			}).Errorf("Command failed, closing session: %v", err)
			stream.Close(err)
			return err
		}

		if err := stream.WriteMessage(reply); err != nil {
			s.logger.Warnf("Failed to write reply: %v", err)
			stream.Close(nil)
			return fmt.Errorf("write reply: %w", err)
		}
	}
}

// Close ends the session, disconnecting the driver if it was connected.
func (s *Session) Close() {
	s.close()
}

func (s *Session) close() {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		connected := s.connected
		s.state = StateClosed
		s.mu.Unlock()

		if connected {
			if _, err := s.driver.Disconnect(); err != nil {
				s.logger.Errorf("Failed to disconnect driver: %v", err)
			}
		}
		s.gate.release(s)
		s.logger.Debug("Session closed")
	})
}
