// Package lsp serves a Language Server Protocol handler table over a conn.Connection.
//
// Requests and notifications without a handler registered on the connection are passed to
// a glsp.Handler, such as a protocol_3_16.Handler. The bridge also implements the $/setTrace
// notification by adjusting the connection's trace level.
//
// Notifications are handed to the handler one at a time on a worker goroutine, in arrival
// order, so a notification handler may call back into the client. A request is handled
// once every notification received before it has been.
package lsp

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/guseggert/rpcconn/cancellation"
	"github.com/guseggert/rpcconn/conn"
	"github.com/guseggert/rpcconn/message"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"
)

// ErrServerNotInitialized is returned for requests that arrive before initialize.
var ErrServerNotInitialized = message.NewError(message.ServerNotInitialized, "server not initialized")

// initializer is implemented by protocol_3_16.Handler.
type initializer interface {
	IsInitialized() bool
}

// Bridge dispatches unhandled connection traffic to an LSP handler.
type Bridge struct {
	conn    *conn.Connection
	handler glsp.Handler
	log     *zap.SugaredLogger
	tracer  conn.Tracer

	mut   sync.Mutex
	trace conn.Trace
	queue []func()
	wake  chan struct{}
}

type Option func(b *Bridge)

func WithLogger(l *zap.SugaredLogger) Option {
	return func(b *Bridge) {
		b.log = l
	}
}

// WithTracer sets where traffic traces go once the client enables tracing with $/setTrace.
// The default writes them to the logger at debug level.
func WithTracer(t conn.Tracer) Option {
	return func(b *Bridge) {
		b.tracer = t
	}
}

// Serve attaches handler to c. It must be called before c.Listen.
func Serve(c *conn.Connection, handler glsp.Handler, opts ...Option) *Bridge {
	b := &Bridge{
		conn:    c,
		handler: handler,
		log:     zap.NewNop().Sugar(),
		wake:    make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(b)
	}
	b.log = b.log.Named("lsp")
	if b.tracer == nil {
		b.tracer = conn.TracerFunc(func(msg string) { b.log.Debug(msg) })
	}

	c.OnNotification(protocol.MethodSetTrace, b.setTrace)
	c.OnUnhandledRequest(b.handleRequest)
	c.OnUnhandledNotification(func(ctx context.Context, method string, params json.RawMessage) {
		b.enqueue(func() { b.handleNotification(ctx, method, params) })
	})
	go b.run(c.Closed())
	return b
}

// Trace returns the trace level last set by the client.
func (b *Bridge) Trace() conn.Trace {
	b.mut.Lock()
	defer b.mut.Unlock()
	return b.trace
}

func (b *Bridge) enqueue(fn func()) {
	b.mut.Lock()
	b.queue = append(b.queue, fn)
	b.mut.Unlock()
	select {
	case b.wake <- struct{}{}:
	default:
	}
}

// run drains the queue until the connection closes.
func (b *Bridge) run(closed <-chan struct{}) {
	for {
		b.mut.Lock()
		batch := b.queue
		b.queue = nil
		b.mut.Unlock()

		for _, fn := range batch {
			select {
			case <-closed:
				return
			default:
			}
			b.runOne(fn)
		}
		if len(batch) > 0 {
			continue
		}
		select {
		case <-b.wake:
		case <-closed:
			return
		}
	}
}

func (b *Bridge) runOne(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorf("notification handler panicked: %v", r)
		}
	}()
	fn()
}

// caughtUp waits until the notifications queued so far have been handled.
func (b *Bridge) caughtUp(ctx context.Context) error {
	done := make(chan struct{})
	b.enqueue(func() { close(done) })
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// LogTrace sends a $/logTrace notification to the client.
func (b *Bridge) LogTrace(msg string, verbose string) error {
	params := protocol.LogTraceParams{Message: msg}
	if verbose != "" {
		params.Verbose = &verbose
	}
	return b.conn.SendNotification(protocol.MethodLogTrace, params)
}

func (b *Bridge) setTrace(ctx context.Context, params json.RawMessage) {
	var p protocol.SetTraceParams
	if err := json.Unmarshal(params, &p); err != nil {
		b.log.Warnf("invalid %s params: %s", protocol.MethodSetTrace, err)
		return
	}
	level := TraceFromValue(p.Value)
	b.log.Debugf("setting trace level to %s", level)
	b.conn.Trace(level, b.tracer)
	b.mut.Lock()
	b.trace = level
	b.mut.Unlock()

	// the handler may want to know as well
	b.enqueue(func() { b.handleNotification(ctx, protocol.MethodSetTrace, params) })
}

func (b *Bridge) context(ctx context.Context, method string, params json.RawMessage) *glsp.Context {
	return &glsp.Context{
		Method: method,
		Params: params,
		Notify: func(method string, params any) {
			if err := b.conn.SendNotification(method, params); err != nil {
				b.log.Errorf("sending notification %s: %s", method, err)
			}
		},
		Call: func(method string, params any, result any) {
			if err := b.conn.Call(ctx, method, params, result); err != nil {
				b.log.Errorf("calling %s: %s", method, err)
			}
		},
	}
}

func (b *Bridge) handleRequest(ctx context.Context, method string, params json.RawMessage, token cancellation.Token) (any, error) {
	if err := b.caughtUp(ctx); err != nil {
		return nil, message.Errorf(message.RequestCancelled, "%s cancelled: %s", method, err)
	}
	if h, ok := b.handler.(initializer); ok && !h.IsInitialized() && method != protocol.MethodInitialize {
		return nil, ErrServerNotInitialized
	}
	r, validMethod, validParams, err := b.handler.Handle(b.context(ctx, method, params))
	switch {
	case !validMethod:
		return nil, message.Errorf(message.MethodNotFound, "Unhandled method %s", method)
	case !validParams:
		if err != nil {
			return nil, message.Errorf(message.InvalidParams, "%s", err)
		}
		return nil, message.Errorf(message.InvalidParams, "invalid params for %s", method)
	case err != nil:
		var respErr *message.ResponseError
		if errors.As(err, &respErr) {
			return nil, respErr
		}
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return r, nil
}

func (b *Bridge) handleNotification(ctx context.Context, method string, params json.RawMessage) {
	_, validMethod, validParams, err := b.handler.Handle(b.context(ctx, method, params))
	switch {
	case !validMethod:
		b.log.Debugf("dropping notification %s without handler", method)
	case !validParams:
		b.log.Warnf("invalid params for notification %s: %v", method, err)
	case err != nil:
		b.log.Errorf("notification %s failed: %s", method, err)
	}

	if method == protocol.MethodExit {
		b.log.Debug("exit received, closing connection")
		if err := b.conn.Dispose(); err != nil {
			b.log.Debugf("disposing connection: %s", err)
		}
	}
}

// TraceFromValue converts an LSP trace value. Both "message" and "messages" are accepted.
func TraceFromValue(v protocol.TraceValue) conn.Trace {
	return conn.TraceFromString(string(v))
}

// TraceValue converts a trace level to its LSP value.
func TraceValue(t conn.Trace) protocol.TraceValue {
	switch t {
	case conn.TraceMessages:
		return protocol.TraceValueMessage
	case conn.TraceVerbose:
		return protocol.TraceValueVerbose
	default:
		return protocol.TraceValueOff
	}
}
