// Package transport builds connections over byte streams: standard input and output,
// arbitrary read/write closers, and TCP or TLS sockets.
package transport

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"net"
	"os"
	"sync"

	"github.com/guseggert/rpcconn/conn"
	"go.uber.org/multierr"
)

// Pair joins a reader and a writer into one stream. Close closes both, in that order,
// and reports every failure.
func Pair(r io.Reader, w io.Writer) io.ReadWriteCloser {
	return &pair{Reader: r, Writer: w}
}

type pair struct {
	io.Reader
	io.Writer
}

func (p *pair) Close() error {
	var err error
	if c, ok := p.Reader.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	if c, ok := p.Writer.(io.Closer); ok {
		err = multierr.Append(err, c.Close())
	}
	return err
}

// onceCloser lets the reading and the writing half of a connection both close the same
// stream. Only the first Close reaches it.
type onceCloser struct {
	io.ReadWriteCloser
	once sync.Once
}

func (c *onceCloser) Close() error {
	var err error
	c.once.Do(func() { err = c.ReadWriteCloser.Close() })
	return err
}

// NewStream returns a connection over rwc. Disposing the connection closes rwc once.
func NewStream(rwc io.ReadWriteCloser, opts ...conn.Option) *conn.Connection {
	oc := &onceCloser{ReadWriteCloser: rwc}
	return conn.NewStream(oc, oc, opts...)
}

// Stdio returns a connection over the process's standard input and output.
func Stdio(opts ...conn.Option) *conn.Connection {
	return NewStream(Pair(os.Stdin, os.Stdout), opts...)
}

// Dial connects to addr and returns a connection over the socket. A non-nil tlsConfig
// wraps the socket in TLS.
func Dial(ctx context.Context, network, addr string, tlsConfig *tls.Config, opts ...conn.Option) (*conn.Connection, error) {
	var (
		nc  net.Conn
		err error
	)
	if tlsConfig != nil {
		d := &tls.Dialer{Config: tlsConfig}
		nc, err = d.DialContext(ctx, network, addr)
	} else {
		var d net.Dialer
		nc, err = d.DialContext(ctx, network, addr)
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s %s: %w", network, addr, err)
	}
	return NewStream(nc, opts...), nil
}

// Pipe returns two connections joined by an in-memory full duplex pipe.
func Pipe(opts ...conn.Option) (*conn.Connection, *conn.Connection) {
	a, b := net.Pipe()
	return NewStream(a, opts...), NewStream(b, opts...)
}
