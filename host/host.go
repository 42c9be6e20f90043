// Package host accepts network connections and runs one conn.Connection per peer.
//
// A host can listen on a plain TCP socket carrying framed streams, and on an HTTP server
// whose /rpc route upgrades to WebSocket message mode and whose /rpc/stream route upgrades
// to WebSocket stream mode. When TLS is configured both listeners require client certs.
package host

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/guseggert/rpcconn/conn"
	"github.com/guseggert/rpcconn/transport"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/sync/errgroup"
)

// SetupFunc registers handlers on a freshly accepted connection. It runs before the
// connection starts listening.
type SetupFunc func(c *conn.Connection)

// Host serves connections until it is stopped.
type Host struct {
	logger *zap.SugaredLogger

	setup     SetupFunc
	tcpAddr   string
	httpAddr  string
	tlsConfig *tls.Config
	connOpts  []conn.Option

	idleHandler func()
	idleTimeout time.Duration

	mut          sync.Mutex
	conns        map[string]*conn.Connection
	lastActivity time.Time

	tcpListener  net.Listener
	httpListener net.Listener
	httpServer   *http.Server
	group        *errgroup.Group

	startOnce sync.Once
	stopOnce  sync.Once
	closed    chan struct{}
}

type Option func(h *Host)

// WithTCPAddr enables the framed stream listener.
func WithTCPAddr(addr string) Option {
	return func(h *Host) {
		h.tcpAddr = addr
	}
}

// WithHTTPAddr enables the WebSocket listener.
func WithHTTPAddr(addr string) Option {
	return func(h *Host) {
		h.httpAddr = addr
	}
}

// WithTLSConfig serves both listeners over TLS.
func WithTLSConfig(cfg *tls.Config) Option {
	return func(h *Host) {
		h.tlsConfig = cfg
	}
}

// WithIdleTimeout calls fn once no connection has been open, and no heartbeat has been
// received, for d.
func WithIdleTimeout(d time.Duration, fn func()) Option {
	return func(h *Host) {
		h.idleTimeout = d
		h.idleHandler = fn
	}
}

// WithConnOptions applies opts to every accepted connection.
func WithConnOptions(opts ...conn.Option) Option {
	return func(h *Host) {
		h.connOpts = append(h.connOpts, opts...)
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(h *Host) {
		h.logger = l.Sugar()
	}
}

func WithLogLevel(l zapcore.Level) Option {
	return func(h *Host) {
		h.logger = h.logger.WithOptions(zap.IncreaseLevel(l))
	}
}

// New constructs a host. At least one of WithTCPAddr and WithHTTPAddr must be given.
func New(setup SetupFunc, opts ...Option) (*Host, error) {
	h := &Host{
		logger: zap.NewNop().Sugar(),
		setup:  setup,
		conns:  map[string]*conn.Connection{},
		closed: make(chan struct{}),
	}
	for _, o := range opts {
		o(h)
	}
	h.logger = h.logger.Named("host")
	if h.tcpAddr == "" && h.httpAddr == "" {
		return nil, errors.New("host needs a TCP or an HTTP listen address")
	}
	return h, nil
}

func (h *Host) listen(addr string) (net.Listener, error) {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listening on %s: %w", addr, err)
	}
	if h.tlsConfig != nil {
		l = tls.NewListener(l, h.tlsConfig)
	}
	return l, nil
}

// Start binds the listeners and serves in the background.
func (h *Host) Start() error {
	var err error
	h.startOnce.Do(func() {
		err = h.start()
	})
	return err
}

func (h *Host) start() error {
	group := &errgroup.Group{}
	if h.tcpAddr != "" {
		l, err := h.listen(h.tcpAddr)
		if err != nil {
			return err
		}
		h.tcpListener = l
		group.Go(h.acceptTCP)
	}
	if h.httpAddr != "" {
		l, err := h.listen(h.httpAddr)
		if err != nil {
			if h.tcpListener != nil {
				h.tcpListener.Close()
			}
			return err
		}
		h.httpListener = l
		h.httpServer = &http.Server{Handler: h.router()}
		group.Go(func() error {
			err := h.httpServer.Serve(l)
			if errors.Is(err, http.ErrServerClosed) {
				return nil
			}
			return err
		})
	}
	h.group = group

	h.mut.Lock()
	h.lastActivity = time.Now()
	h.mut.Unlock()
	if h.idleTimeout > 0 {
		h.startIdleCheck()
	}
	return nil
}

// Run serves until Stop is called or a listener fails.
func (h *Host) Run() error {
	if err := h.Start(); err != nil {
		return err
	}
	return h.Wait()
}

// Wait blocks until every listener has stopped.
func (h *Host) Wait() error {
	if h.group == nil {
		return errors.New("host not started")
	}
	return h.group.Wait()
}

// TCPAddr is the bound address of the stream listener, or nil.
func (h *Host) TCPAddr() net.Addr {
	if h.tcpListener == nil {
		return nil
	}
	return h.tcpListener.Addr()
}

// HTTPAddr is the bound address of the WebSocket listener, or nil.
func (h *Host) HTTPAddr() net.Addr {
	if h.httpListener == nil {
		return nil
	}
	return h.httpListener.Addr()
}

// Conns returns the number of open connections.
func (h *Host) Conns() int {
	h.mut.Lock()
	defer h.mut.Unlock()
	return len(h.conns)
}

func (h *Host) acceptTCP() error {
	for {
		nc, err := h.tcpListener.Accept()
		if err != nil {
			select {
			case <-h.closed:
				return nil
			default:
			}
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("accepting TCP conn: %w", err)
		}
		h.logger.Debugf("accepted TCP conn from %s", nc.RemoteAddr())
		h.serve(transport.NewStream(nc, h.connOpts...))
	}
}

// serve registers c, runs setup and starts listening. The connection is forgotten and
// disposed when it closes.
func (h *Host) serve(c *conn.Connection) {
	h.mut.Lock()
	select {
	case <-h.closed:
		h.mut.Unlock()
		c.Dispose()
		return
	default:
	}
	h.conns[c.ID()] = c
	h.lastActivity = time.Now()
	h.mut.Unlock()

	c.OnClose(func() {
		h.mut.Lock()
		delete(h.conns, c.ID())
		h.lastActivity = time.Now()
		h.mut.Unlock()
		h.logger.Debugf("connection %s closed", c.ID())
		c.Dispose()
	})
	c.OnError(func(e conn.ErrorEvent) {
		h.logger.Debugf("connection %s error: %s", c.ID(), e.Err)
	})
	if h.setup != nil {
		h.setup(c)
	}
	if err := c.Listen(); err != nil {
		h.logger.Debugf("starting connection %s: %s", c.ID(), err)
		c.Dispose()
	}
}

// startIdleCheck calls the idle handler when the host has had no connections and no
// heartbeats for the idle timeout.
func (h *Host) startIdleCheck() {
	go func() {
		ticker := time.NewTicker(h.idleTimeout / 10)
		defer ticker.Stop()
		for {
			select {
			case <-h.closed:
				return
			case <-ticker.C:
			}

			h.mut.Lock()
			idle := len(h.conns) == 0 && time.Since(h.lastActivity) > h.idleTimeout
			if idle {
				// restart the clock so the handler is not called on every tick
				h.lastActivity = time.Now()
			}
			h.mut.Unlock()

			if idle && h.idleHandler != nil {
				h.logger.Debugf("idle for %s", h.idleTimeout)
				h.idleHandler()
			}
		}
	}()
}

// Stop closes the listeners and disposes every open connection.
func (h *Host) Stop() error {
	var err error
	h.stopOnce.Do(func() {
		h.mut.Lock()
		close(h.closed)
		conns := make([]*conn.Connection, 0, len(h.conns))
		for _, c := range h.conns {
			conns = append(conns, c)
		}
		h.mut.Unlock()

		if h.tcpListener != nil {
			if cerr := h.tcpListener.Close(); cerr != nil && !errors.Is(cerr, net.ErrClosed) {
				err = multierr.Append(err, cerr)
			}
		}
		for _, c := range conns {
			err = multierr.Append(err, c.Dispose())
		}
		if h.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			err = multierr.Append(err, h.httpServer.Shutdown(ctx))
		}
	})
	return err
}
