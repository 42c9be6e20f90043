package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/guseggert/rpcconn/cancellation"
	"github.com/guseggert/rpcconn/event"
	"github.com/guseggert/rpcconn/framing"
	"github.com/guseggert/rpcconn/message"
	"go.uber.org/multierr"
)

// State is the lifecycle state of a Connection.
type State int32

const (
	StateActive State = iota
	StateClosed
)

func (s State) String() string {
	if s == StateClosed {
		return "closed"
	}
	return "active"
}

// RequestHandler answers a request. Returning a *message.ResponseError, either as the error
// or as the result, sends that error to the peer. Any other error becomes an InternalError.
// ctx is cancelled when the peer cancels the request or the connection closes.
type RequestHandler func(ctx context.Context, params json.RawMessage, token cancellation.Token) (any, error)

// NotificationHandler handles a notification on the dispatch goroutine.
type NotificationHandler func(ctx context.Context, params json.RawMessage)

// UnhandledRequestHandler receives requests for methods without a registered handler.
type UnhandledRequestHandler func(ctx context.Context, method string, params json.RawMessage, token cancellation.Token) (any, error)

// UnhandledNotificationHandler receives notifications for methods without a registered handler.
type UnhandledNotificationHandler func(ctx context.Context, method string, params json.RawMessage)

// Connection is one end of a JSON-RPC conversation.
type Connection struct {
	id     string
	log    Logger
	reader framing.MessageReader
	writer framing.MessageWriter

	framingOpts []framing.Option

	// ctx is the parent of every handler context and is cancelled on close.
	ctx    context.Context
	cancel context.CancelFunc

	mut                   sync.Mutex
	nextID                int64
	pending               map[message.ID]*Pending
	// writing holds the ids of requests still being written. close leaves them to SendRequest.
	writing               map[message.ID]struct{}
	inbound               map[message.ID]*cancellation.Source
	requestHandlers       map[string]RequestHandler
	notificationHandlers  map[string]NotificationHandler
	unhandledRequest      UnhandledRequestHandler
	unhandledNotification UnhandledNotificationHandler
	tracer                *tracer
	now                   func() time.Time

	state     atomic.Int32
	listening atomic.Bool
	closeOnce sync.Once
	closed    chan struct{}

	disposeOnce sync.Once
	disposeErr  error

	subscriptions []event.Disposable
	errorEmitter  event.Emitter[ErrorEvent]
	closeEmitter  event.Emitter[struct{}]
}

type Option func(c *Connection)

// WithLogger sets the diagnostics logger. A *zap.SugaredLogger gets the connection id
// attached as a field.
func WithLogger(l Logger) Option {
	return func(c *Connection) {
		c.log = l
	}
}

// WithID overrides the generated connection id used in logs.
func WithID(id string) Option {
	return func(c *Connection) {
		c.id = id
	}
}

// WithFraming sets the framing options used by NewStream.
func WithFraming(opts ...framing.Option) Option {
	return func(c *Connection) {
		c.framingOpts = append(c.framingOpts, opts...)
	}
}

// WithTrace enables tracing from the start.
func WithTrace(level Trace, t Tracer) Option {
	return func(c *Connection) {
		c.setTrace(level, t)
	}
}

// New creates a connection over a reader and writer. The connection takes ownership of
// both: Dispose closes them if they implement io.Closer.
func New(reader framing.MessageReader, writer framing.MessageWriter, opts ...Option) *Connection {
	ctx, cancel := context.WithCancel(context.Background())
	c := &Connection{
		id:                   uuid.NewString(),
		log:                  nopLogger(),
		reader:               reader,
		writer:               writer,
		ctx:                  ctx,
		cancel:               cancel,
		pending:              map[message.ID]*Pending{},
		writing:              map[message.ID]struct{}{},
		inbound:              map[message.ID]*cancellation.Source{},
		requestHandlers:      map[string]RequestHandler{},
		notificationHandlers: map[string]NotificationHandler{},
		now:                  time.Now,
		closed:               make(chan struct{}),
	}
	for _, o := range opts {
		o(c)
	}
	c.log = withConnID(c.log, c.id)

	c.subscriptions = append(c.subscriptions,
		reader.OnError(func(err error) {
			c.log.Debugf("read error: %s", err)
			c.errorEmitter.Fire(ErrorEvent{Err: err})
		}),
		reader.OnClose(c.close),
		writer.OnError(func(werr *framing.WriteError) {
			c.errorEmitter.Fire(ErrorEvent{Err: werr.Err, Message: werr.Message, Count: werr.Count})
		}),
		writer.OnClose(c.close),
	)
	return c
}

// NewStream creates a connection that reads framed messages from r and writes them to w.
// Framing options are passed with WithFraming.
func NewStream(r io.Reader, w io.Writer, opts ...Option) *Connection {
	var cfg Connection
	for _, o := range opts {
		o(&cfg)
	}
	return New(framing.NewStreamReader(r, cfg.framingOpts...), framing.NewStreamWriter(w, cfg.framingOpts...), opts...)
}

// ID identifies the connection in logs.
func (c *Connection) ID() string { return c.id }

func (c *Connection) State() State { return State(c.state.Load()) }

// Closed is closed when the connection moves to StateClosed.
func (c *Connection) Closed() <-chan struct{} { return c.closed }

// OnError registers a listener for read and write failures.
func (c *Connection) OnError(fn func(ErrorEvent)) event.Disposable {
	return c.errorEmitter.Subscribe(fn)
}

// OnClose registers a listener that runs once when the connection closes. Listeners run
// on the goroutine that closed the connection and may call Dispose.
func (c *Connection) OnClose(fn func()) event.Disposable {
	return c.closeEmitter.Subscribe(func(struct{}) { fn() })
}

// OnRequest registers the handler for method, replacing any previous one.
func (c *Connection) OnRequest(method string, h RequestHandler) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.requestHandlers[method] = h
}

// OnNotification registers the handler for method, replacing any previous one.
func (c *Connection) OnNotification(method string, h NotificationHandler) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.notificationHandlers[method] = h
}

// OnUnhandledRequest sets the fallback for requests without a handler. Without a fallback
// such requests are answered with MethodNotFound.
func (c *Connection) OnUnhandledRequest(h UnhandledRequestHandler) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.unhandledRequest = h
}

// OnUnhandledNotification sets the fallback for notifications without a handler. Without
// a fallback such notifications are dropped.
func (c *Connection) OnUnhandledNotification(h UnhandledNotificationHandler) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.unhandledNotification = h
}

// Trace sets the trace level and sink. TraceOff or a nil tracer disables tracing.
func (c *Connection) Trace(level Trace, t Tracer) {
	c.mut.Lock()
	defer c.mut.Unlock()
	c.setTrace(level, t)
}

func (c *Connection) setTrace(level Trace, t Tracer) {
	if level == TraceOff || t == nil {
		c.tracer = nil
		return
	}
	c.tracer = &tracer{level: level, out: t, now: func() time.Time { return c.now() }}
}

func (c *Connection) currentTracer() *tracer {
	c.mut.Lock()
	defer c.mut.Unlock()
	return c.tracer
}

// Listen starts reading. Handlers should be registered before calling it.
func (c *Connection) Listen() error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	if !c.listening.CompareAndSwap(false, true) {
		return ErrAlreadyListening
	}
	if err := c.reader.Listen(c.dispatch); err != nil {
		return fmt.Errorf("starting reader: %w", err)
	}
	return nil
}

// SendNotification writes a notification. No state is kept for it.
func (c *Connection) SendNotification(method string, params any) error {
	if c.State() == StateClosed {
		return ErrClosed
	}
	n, err := message.NewNotification(method, params)
	if err != nil {
		return err
	}
	c.currentTracer().sendingNotification(n)
	if err := c.writer.Write(n); err != nil {
		return fmt.Errorf("sending notification %s: %w", method, err)
	}
	return nil
}

// SendRequest writes a request and returns its pending response. If token is cancelled
// while the request is pending, a single $/cancelRequest notification is sent to the peer.
// A failed write rejects the request with a MessageWriteError.
func (c *Connection) SendRequest(method string, params any, token cancellation.Token) *Pending {
	p := newPending(method)
	if c.State() == StateClosed {
		p.reject(ErrClosed)
		return p
	}

	c.mut.Lock()
	p.ID = message.NumberID(c.nextID)
	c.nextID++
	c.pending[p.ID] = p
	c.writing[p.ID] = struct{}{}
	c.mut.Unlock()

	req, err := message.NewRequest(p.ID, method, params)
	if err != nil {
		c.doneWriting(p.ID)
		c.removePending(p.ID)
		p.reject(err)
		return p
	}
	c.currentTracer().sendingRequest(req)

	err = c.writer.Write(req)
	c.doneWriting(p.ID)
	if err != nil {
		if c.removePending(p.ID) {
			p.reject(message.Errorf(message.MessageWriteError, "Sending request %s failed: %s", method, err))
		}
		return p
	}
	// the connection may have closed while writing, after pending entries were rejected
	if c.State() == StateClosed && c.removePending(p.ID) {
		p.reject(ErrClosed)
		return p
	}

	if token != nil && token != cancellation.None {
		var once sync.Once
		d := token.OnCancellationRequested(func() {
			once.Do(func() { c.sendCancel(p) })
		})
		p.afterSettle(d.Dispose)
	}
	return p
}

func (c *Connection) sendCancel(p *Pending) {
	select {
	case <-p.Done():
		return
	default:
	}
	if err := c.SendNotification(message.CancelRequestMethod, message.CancelParams{ID: p.ID}); err != nil {
		c.log.Debugf("sending cancellation for request %s: %s", p.ID, err)
	}
}

// Call sends a request and waits for its response, decoding the result into result unless
// result is nil. If ctx is done first, the peer is asked to cancel and ctx.Err() is returned.
func (c *Connection) Call(ctx context.Context, method string, params any, result any) error {
	src := cancellation.NewSource()
	defer src.Dispose()

	p := c.SendRequest(method, params, src.Token())
	raw, err := p.Wait(ctx)
	if err != nil {
		if ctx.Err() != nil {
			src.Cancel()
		}
		return err
	}
	if result == nil {
		return nil
	}
	if err := json.Unmarshal(raw, result); err != nil {
		return fmt.Errorf("decoding result of %s: %w", method, err)
	}
	return nil
}

func (c *Connection) doneWriting(id message.ID) {
	c.mut.Lock()
	delete(c.writing, id)
	c.mut.Unlock()
}

func (c *Connection) removePending(id message.ID) bool {
	c.mut.Lock()
	defer c.mut.Unlock()
	_, ok := c.pending[id]
	delete(c.pending, id)
	return ok
}

// close moves the connection to StateClosed. It rejects everything still pending and
// cancels the requests being handled. Callbacks run outside closeOnce so that they may
// call Dispose.
func (c *Connection) close() {
	var (
		first   bool
		pending []*Pending
		inbound map[message.ID]*cancellation.Source
	)
	c.closeOnce.Do(func() {
		first = true
		c.state.Store(int32(StateClosed))
		close(c.closed)
		c.cancel()

		c.mut.Lock()
		for id, p := range c.pending {
			if _, ok := c.writing[id]; ok {
				continue
			}
			pending = append(pending, p)
			delete(c.pending, id)
		}
		inbound = c.inbound
		c.inbound = map[message.ID]*cancellation.Source{}
		c.mut.Unlock()
	})
	if !first {
		return
	}

	for _, p := range pending {
		p.reject(fmt.Errorf("request %s (%s): %w", p.Method, p.ID, ErrClosed))
	}
	for _, src := range inbound {
		src.Cancel()
	}
	c.log.Debugf("connection closed, rejected %d pending requests", len(pending))
	c.closeEmitter.Fire(struct{}{})
	c.closeEmitter.Dispose()
}

// Dispose closes the connection and the underlying reader and writer. It may be called
// from an OnClose listener.
func (c *Connection) Dispose() error {
	c.close()
	c.disposeOnce.Do(func() {
		for _, d := range c.subscriptions {
			d.Dispose()
		}
		var err error
		if closer, ok := c.reader.(io.Closer); ok {
			err = multierr.Append(err, ignoreClosed(closer.Close()))
		}
		if closer, ok := c.writer.(io.Closer); ok {
			err = multierr.Append(err, ignoreClosed(closer.Close()))
		}
		c.disposeErr = err
		c.errorEmitter.Dispose()
	})
	return c.disposeErr
}

func ignoreClosed(err error) error {
	if errors.Is(err, net.ErrClosed) || errors.Is(err, os.ErrClosed) || errors.Is(err, io.ErrClosedPipe) {
		return nil
	}
	return err
}
