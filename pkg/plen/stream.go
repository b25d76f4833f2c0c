package plen

import (
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	closeWriteWait = time.Second
	maxCloseReason = 123 // control frame payload minus the status code
)

// wsStream adapts a WebSocket connection to the Stream interface.
type wsStream struct {
	conn      *websocket.Conn
	closeOnce sync.Once
}

// NewWebSocketStream wraps an upgraded connection.
func NewWebSocketStream(conn *websocket.Conn) Stream {
	return &wsStream{conn: conn}
}

func (s *wsStream) ReadMessage() (string, error) {
	_, data, err := s.conn.ReadMessage()
	if err != nil {
		var ce *websocket.CloseError
		if errors.As(err, &ce) || errors.Is(err, net.ErrClosed) || errors.Is(err, io.EOF) {
			return "", fmt.Errorf("%w: %v", ErrTransportClosed, err)
		}
		return "", err
	}
	return string(data), nil
}

func (s *wsStream) WriteMessage(msg string) error {
	return s.conn.WriteMessage(websocket.TextMessage, []byte(msg))
}

func (s *wsStream) Close(cause error) error {
	var err error
	s.closeOnce.Do(func() {
		code, reason := closeFrame(cause)
		deadline := time.Now().Add(closeWriteWait)
		// The peer may already be gone; the close frame is best effort.
		_ = s.conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), deadline)
		err = s.conn.Close()
	})
	return err
}

// closeFrame picks the close status reported to the client.
func closeFrame(cause error) (int, string) {
	if cause == nil {
		return websocket.CloseNormalClosure, ""
	}

	code := websocket.CloseInternalServerErr
	var de *DispatchError
	if errors.As(cause, &de) {
		code = websocket.ClosePolicyViolation
	}

	reason := cause.Error()
	if len(reason) > maxCloseReason {
		reason = reason[:maxCloseReason]
	}
	return code, reason
}
