package conn

import (
	"errors"

	"github.com/guseggert/rpcconn/message"
)

var (
	// ErrClosed rejects requests that are pending when the connection closes, and any
	// request sent afterwards.
	ErrClosed = errors.New("conn: connection is closed")
	// ErrAlreadyListening is returned by a second call to Listen.
	ErrAlreadyListening = errors.New("conn: connection is already listening")
	// ErrInvalidResponse rejects a pending request whose response was malformed.
	ErrInvalidResponse = errors.New("conn: the received response has neither a result nor an error property")
	// ErrNotSettled is returned by Pending.Result before a response has arrived.
	ErrNotSettled = errors.New("conn: request has not settled")
)

// ErrorEvent is fired for read and write failures. Message and Count are only known for
// write failures.
type ErrorEvent struct {
	Err     error
	Message message.Message
	Count   int
}

func (e ErrorEvent) Error() string { return e.Err.Error() }

func (e ErrorEvent) Unwrap() error { return e.Err }
