package ws

import (
	"context"
	"fmt"
	"net/http"

	"github.com/guseggert/rpcconn/conn"
	"github.com/guseggert/rpcconn/transport"
	"nhooyr.io/websocket"
)

// NewConn returns a message-mode connection over c.
func NewConn(ctx context.Context, c *websocket.Conn, opts ...Option) *conn.Connection {
	o := buildOptions(opts)
	r, w := New(ctx, c, opts...)
	return conn.New(r, w, o.connOpts...)
}

// NewStreamConn returns a connection that uses Content-Length framing over the binary
// messages of c.
func NewStreamConn(ctx context.Context, c *websocket.Conn, opts ...Option) *conn.Connection {
	o := buildOptions(opts)
	c.SetReadLimit(o.readLimit)
	return transport.NewStream(websocket.NetConn(ctx, c, websocket.MessageBinary), o.connOpts...)
}

// Dial opens a message-mode connection to the WebSocket endpoint at url.
// A nil client uses http.DefaultClient.
func Dial(ctx context.Context, url string, client *http.Client, opts ...Option) (*conn.Connection, error) {
	c, err := dial(ctx, url, client)
	if err != nil {
		return nil, err
	}
	return NewConn(context.Background(), c, opts...), nil
}

// DialStream opens a stream-mode connection to the WebSocket endpoint at url.
func DialStream(ctx context.Context, url string, client *http.Client, opts ...Option) (*conn.Connection, error) {
	c, err := dial(ctx, url, client)
	if err != nil {
		return nil, err
	}
	return NewStreamConn(context.Background(), c, opts...), nil
}

func dial(ctx context.Context, url string, client *http.Client) (*websocket.Conn, error) {
	c, resp, err := websocket.Dial(ctx, url, &websocket.DialOptions{
		HTTPClient:      client,
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dialing %s: %w", url, err)
	}
	return c, nil
}

// Accept upgrades an HTTP request and returns a message-mode connection. The connection
// outlives the request context; dispose it to release the socket.
func Accept(w http.ResponseWriter, r *http.Request, opts ...Option) (*conn.Connection, error) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		CompressionMode: websocket.CompressionContextTakeover,
	})
	if err != nil {
		return nil, fmt.Errorf("accepting WebSocket conn: %w", err)
	}
	return NewConn(context.Background(), c, opts...), nil
}
