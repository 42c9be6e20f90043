package ws

import (
	"context"
	"errors"
	"io"
	"net"
	"sync"

	"go.uber.org/zap"
	"nhooyr.io/websocket"
)

// socket is the WebSocket shared by a Reader and a Writer.
type socket struct {
	log  *zap.SugaredLogger
	conn *websocket.Conn

	closeOnce sync.Once
	closeErr  error
}

func (s *socket) close(code websocket.StatusCode, reason string) error {
	s.closeOnce.Do(func() {
		s.closeErr = s.conn.Close(code, reason)
		if s.closeErr != nil {
			s.log.Debugf("error closing conn: %s", s.closeErr)
		}
		if isClosed(s.closeErr) {
			s.closeErr = nil
		}
	})
	return s.closeErr
}

// isClosed reports whether err is the orderly end of a WebSocket.
func isClosed(err error) bool {
	if err == nil {
		return false
	}
	switch websocket.CloseStatus(err) {
	case websocket.StatusNormalClosure, websocket.StatusGoingAway:
		return true
	}
	return errors.Is(err, context.Canceled) ||
		errors.Is(err, io.EOF) ||
		errors.Is(err, net.ErrClosed)
}
