package framing

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"sync"

	"github.com/guseggert/rpcconn/event"
	"github.com/guseggert/rpcconn/message"
	"go.uber.org/zap"
)

var ErrWriterClosed = errors.New("framing: writer is closed")

// WriteError reports a failed write together with the message and the number of
// failed writes so far.
type WriteError struct {
	Err     error
	Message message.Message
	Count   int
}

func (e *WriteError) Error() string { return e.Err.Error() }

func (e *WriteError) Unwrap() error { return e.Err }

// MessageWriter sends messages to some transport. Write must be safe to call from
// multiple goroutines; each message is emitted as one unit.
type MessageWriter interface {
	Write(msg message.Message) error
	OnError(fn func(*WriteError)) event.Disposable
	OnClose(fn func()) event.Disposable
}

// StreamWriter writes Content-Length framed messages to an io.Writer.
type StreamWriter struct {
	w    io.Writer
	opts options
	log  *zap.SugaredLogger

	mut        sync.Mutex
	errorCount int
	closed     bool

	errorEmitter event.Emitter[*WriteError]
	closeEmitter event.Emitter[struct{}]
	closeOnce    sync.Once
}

func NewStreamWriter(w io.Writer, opts ...Option) *StreamWriter {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &StreamWriter{
		w:    w,
		opts: o,
		log:  o.log.Named("stream_writer"),
	}
}

func (w *StreamWriter) OnError(fn func(*WriteError)) event.Disposable {
	return w.errorEmitter.Subscribe(fn)
}

func (w *StreamWriter) OnClose(fn func()) event.Disposable {
	return w.closeEmitter.Subscribe(func(struct{}) { fn() })
}

// Encode renders the complete frame for msg: ASCII header followed by the encoded body.
func Encode(msg message.Message, opts ...Option) (header, body []byte, err error) {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return encode(msg, o)
}

func encode(msg message.Message, o options) (header, body []byte, err error) {
	body, err = json.Marshal(msg)
	if err != nil {
		return nil, nil, fmt.Errorf("marshaling message: %w", err)
	}
	if o.enc != nil {
		body, err = o.enc.NewEncoder().Bytes(body)
		if err != nil {
			return nil, nil, fmt.Errorf("encoding message: %w", err)
		}
	}
	header = make([]byte, 0, 32)
	header = append(header, headerContentLength...)
	header = append(header, ": "...)
	header = strconv.AppendInt(header, int64(len(body)), 10)
	header = append(header, "\r\n\r\n"...)
	return header, body, nil
}

// Write emits the header and then the body. Concurrent calls are serialised so the two
// parts of one message are never interleaved with another message.
func (w *StreamWriter) Write(msg message.Message) error {
	header, body, err := encode(msg, w.opts)
	if err != nil {
		return w.fail(err, msg, false)
	}

	w.mut.Lock()
	if w.closed {
		w.mut.Unlock()
		return ErrWriterClosed
	}
	_, err = w.w.Write(header)
	if err == nil {
		_, err = w.w.Write(body)
	}
	w.mut.Unlock()

	if err != nil {
		return w.fail(fmt.Errorf("writing message: %w", err), msg, isClosedErr(err))
	}
	return nil
}

func (w *StreamWriter) fail(err error, msg message.Message, closed bool) error {
	w.mut.Lock()
	w.errorCount++
	werr := &WriteError{Err: err, Message: msg, Count: w.errorCount}
	if closed {
		w.closed = true
	}
	w.mut.Unlock()

	w.log.Debugf("write failed: %s", err)
	w.errorEmitter.Fire(werr)
	if closed {
		w.fireClose()
	}
	return werr
}

func (w *StreamWriter) fireClose() {
	w.closeOnce.Do(func() {
		w.closeEmitter.Fire(struct{}{})
	})
}

// Close marks the writer closed and closes the underlying writer if it is an io.Closer.
func (w *StreamWriter) Close() error {
	w.mut.Lock()
	already := w.closed
	w.closed = true
	w.mut.Unlock()

	var err error
	if c, ok := w.w.(io.Closer); ok && !already {
		err = c.Close()
	}
	w.fireClose()
	return err
}
