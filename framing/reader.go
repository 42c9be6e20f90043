package framing

import (
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/guseggert/rpcconn/event"
	"github.com/guseggert/rpcconn/message"
	"go.uber.org/zap"
)

var ErrAlreadyListening = errors.New("framing: reader is already listening")

// DataCallback receives decoded messages in arrival order.
type DataCallback func(msg message.Message)

// MessageReader delivers messages from some transport to a single callback.
type MessageReader interface {
	// Listen starts delivery. It may only be called once.
	Listen(cb DataCallback) error
	OnError(fn func(error)) event.Disposable
	OnClose(fn func()) event.Disposable
}

// StreamReader reads Content-Length framed messages from an io.Reader.
type StreamReader struct {
	r    io.Reader
	opts options
	log  *zap.SugaredLogger

	errorEmitter event.Emitter[error]
	closeEmitter event.Emitter[struct{}]

	listenOnce sync.Once
	closeOnce  sync.Once
	done       chan struct{}
}

func NewStreamReader(r io.Reader, opts ...Option) *StreamReader {
	o := defaultOptions()
	for _, opt := range opts {
		opt(&o)
	}
	return &StreamReader{
		r:    r,
		opts: o,
		log:  o.log.Named("stream_reader"),
		done: make(chan struct{}),
	}
}

func (r *StreamReader) OnError(fn func(error)) event.Disposable { return r.errorEmitter.Subscribe(fn) }

func (r *StreamReader) OnClose(fn func()) event.Disposable {
	return r.closeEmitter.Subscribe(func(struct{}) { fn() })
}

// Done is closed once the read loop has exited.
func (r *StreamReader) Done() <-chan struct{} { return r.done }

func (r *StreamReader) Listen(cb DataCallback) error {
	started := false
	r.listenOnce.Do(func() {
		started = true
		go r.readLoop(cb)
	})
	if !started {
		return ErrAlreadyListening
	}
	return nil
}

// Close closes the underlying reader if it is an io.Closer.
func (r *StreamReader) Close() error {
	if c, ok := r.r.(io.Closer); ok {
		return c.Close()
	}
	return nil
}

func (r *StreamReader) fireClose() {
	r.closeOnce.Do(func() {
		r.closeEmitter.Fire(struct{}{})
	})
}

func (r *StreamReader) readLoop(cb DataCallback) {
	defer close(r.done)
	defer r.fireClose()

	p := newParser(r.opts)
	chunk := make([]byte, r.opts.readSize)
	for {
		n, readErr := r.r.Read(chunk)
		if n > 0 {
			err := p.feed(chunk[:n], cb)
			if err != nil {
				r.log.Debugf("fatal framing error: %s", err)
				r.errorEmitter.Fire(err)
				return
			}
		}
		if readErr != nil {
			if isClosedErr(readErr) {
				r.log.Debugf("stream closed: %s", readErr)
				return
			}
			r.log.Debugf("read error: %s", readErr)
			r.errorEmitter.Fire(fmt.Errorf("reading stream: %w", readErr))
			return
		}
	}
}

// parser drives a Buffer: headers first, then the body they announce.
type parser struct {
	buf  *Buffer
	max  int
	next int
}

func newParser(o options) *parser {
	return &parser{buf: NewBuffer(o.enc), max: o.maxContentLength, next: -1}
}

func (p *parser) feed(chunk []byte, cb DataCallback) error {
	p.buf.Append(chunk)
	for {
		if p.next == -1 {
			headers, ok, err := p.buf.TryReadHeaders()
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			length, err := ContentLength(headers)
			if err != nil {
				return err
			}
			if p.max > 0 && length > p.max {
				return fmt.Errorf("%w: %d > %d", ErrContentLengthTooLarge, length, p.max)
			}
			p.next = length
		}
		content, ok, err := p.buf.TryReadContent(p.next)
		if err != nil {
			return err
		}
		if !ok {
			return nil
		}
		p.next = -1
		msg, err := message.Decode(content)
		if err != nil {
			return fmt.Errorf("framing: %w", err)
		}
		cb(msg)
	}
}

func isClosedErr(err error) bool {
	return errors.Is(err, io.EOF) ||
		errors.Is(err, io.ErrClosedPipe) ||
		errors.Is(err, net.ErrClosed) ||
		errors.Is(err, os.ErrClosed)
}
