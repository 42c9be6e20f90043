package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/guseggert/rpcconn/event"
	"github.com/guseggert/rpcconn/framing"
	"github.com/guseggert/rpcconn/message"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Reader reads one JSON-RPC message per WebSocket message.
type Reader struct {
	log    *zap.SugaredLogger
	ctx    context.Context
	socket *socket

	errorEmitter event.Emitter[error]
	closeEmitter event.Emitter[struct{}]

	listenOnce sync.Once
	closeOnce  sync.Once
	done       chan struct{}
}

var _ framing.MessageReader = (*Reader)(nil)

func (r *Reader) OnError(fn func(error)) event.Disposable { return r.errorEmitter.Subscribe(fn) }

func (r *Reader) OnClose(fn func()) event.Disposable {
	return r.closeEmitter.Subscribe(func(struct{}) { fn() })
}

// Done is closed once the read loop has exited.
func (r *Reader) Done() <-chan struct{} { return r.done }

func (r *Reader) Listen(cb framing.DataCallback) error {
	started := false
	r.listenOnce.Do(func() {
		started = true
		go r.readMessages(cb)
	})
	if !started {
		return framing.ErrAlreadyListening
	}
	return nil
}

// Close closes the WebSocket with a normal closure.
func (r *Reader) Close() error {
	return r.socket.close(websocket.StatusNormalClosure, "")
}

func (r *Reader) readMessages(cb framing.DataCallback) {
	defer close(r.done)
	defer r.closeOnce.Do(func() { r.closeEmitter.Fire(struct{}{}) })

	for {
		var raw json.RawMessage
		err := wsjson.Read(r.ctx, r.socket.conn, &raw)
		if isClosed(err) {
			r.log.Debugf("got closure, wrapping up: %s", err)
			return
		}
		if err != nil {
			r.log.Debugf("message reader got error: %s", err)
			r.errorEmitter.Fire(fmt.Errorf("reading message: %w", err))
			r.socket.close(websocket.StatusInternalError, err.Error())
			return
		}
		cb(message.Classify(raw))
	}
}

// Writer writes one JSON-RPC message per WebSocket message.
type Writer struct {
	log    *zap.SugaredLogger
	ctx    context.Context
	socket *socket

	mut        sync.Mutex
	errorCount int
	closed     bool

	errorEmitter event.Emitter[*framing.WriteError]
	closeEmitter event.Emitter[struct{}]
	closeOnce    sync.Once
}

var _ framing.MessageWriter = (*Writer)(nil)

func (w *Writer) OnError(fn func(*framing.WriteError)) event.Disposable {
	return w.errorEmitter.Subscribe(fn)
}

func (w *Writer) OnClose(fn func()) event.Disposable {
	return w.closeEmitter.Subscribe(func(struct{}) { fn() })
}

func (w *Writer) Write(msg message.Message) error {
	w.mut.Lock()
	if w.closed {
		w.mut.Unlock()
		return framing.ErrWriterClosed
	}
	err := wsjson.Write(w.ctx, w.socket.conn, msg)
	if err == nil {
		w.mut.Unlock()
		return nil
	}
	w.errorCount++
	werr := &framing.WriteError{Err: err, Message: msg, Count: w.errorCount}
	closed := isClosed(err) || errors.Is(err, context.DeadlineExceeded)
	if closed {
		w.closed = true
	}
	w.mut.Unlock()

	w.log.Debugf("error writing message: %s", err)
	w.errorEmitter.Fire(werr)
	if closed {
		w.closeOnce.Do(func() { w.closeEmitter.Fire(struct{}{}) })
	}
	return werr
}

// Close closes the WebSocket with a normal closure.
func (w *Writer) Close() error {
	w.mut.Lock()
	w.closed = true
	w.mut.Unlock()
	err := w.socket.close(websocket.StatusNormalClosure, "")
	w.closeOnce.Do(func() { w.closeEmitter.Fire(struct{}{}) })
	return err
}

// New returns a reader and writer sharing c. ctx bounds every read and write.
func New(ctx context.Context, c *websocket.Conn, opts ...Option) (*Reader, *Writer) {
	o := buildOptions(opts)
	c.SetReadLimit(o.readLimit)
	s := &socket{log: o.log.Named("socket"), conn: c}
	r := &Reader{
		log:    o.log.Named("ws_reader"),
		ctx:    ctx,
		socket: s,
		done:   make(chan struct{}),
	}
	w := &Writer{
		log:    o.log.Named("ws_writer"),
		ctx:    ctx,
		socket: s,
	}
	return r, w
}
