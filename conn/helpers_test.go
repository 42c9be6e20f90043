package conn

import (
	"encoding/json"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/rpcconn/framing"
	"github.com/guseggert/rpcconn/message"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var log *zap.SugaredLogger

func init() {
	l, err := zap.NewDevelopment()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
}

const waitTimeout = 5 * time.Second

// newPair connects two connections with in-memory pipes. Neither is listening yet.
func newPair(t *testing.T, opts ...Option) (client, server *Connection) {
	clientIn, serverOut := io.Pipe()
	serverIn, clientOut := io.Pipe()
	opts = append([]Option{WithLogger(log)}, opts...)
	client = NewStream(clientIn, clientOut, opts...)
	server = NewStream(serverIn, serverOut, opts...)
	t.Cleanup(func() {
		client.Dispose()
		server.Dispose()
	})
	return client, server
}

// peer drives a connection at the wire level.
type peer struct {
	t    *testing.T
	out  *io.PipeWriter
	w    *framing.StreamWriter
	msgs chan message.Message
}

// newPeer returns a connection that is not listening yet, and the peer on the other end.
func newPeer(t *testing.T, opts ...Option) (*Connection, *peer) {
	connIn, peerOut := io.Pipe()
	peerIn, connOut := io.Pipe()
	opts = append([]Option{WithLogger(log)}, opts...)
	c := NewStream(connIn, connOut, opts...)

	p := &peer{
		t:    t,
		out:  peerOut,
		w:    framing.NewStreamWriter(peerOut),
		msgs: make(chan message.Message, 256),
	}
	r := framing.NewStreamReader(peerIn)
	require.NoError(t, r.Listen(func(m message.Message) { p.msgs <- m }))

	t.Cleanup(func() {
		c.Dispose()
		peerOut.Close()
		peerIn.Close()
	})
	return c, p
}

func (p *peer) send(m message.Message) {
	require.NoError(p.t, p.w.Write(m))
}

func (p *peer) sendRaw(body string) {
	_, err := fmt.Fprintf(p.out, "Content-Length: %d\r\n\r\n%s", len(body), body)
	require.NoError(p.t, err)
}

func (p *peer) next() message.Message {
	select {
	case m := <-p.msgs:
		return m
	case <-time.After(waitTimeout):
		p.t.Fatal("timed out waiting for a message")
		return nil
	}
}

// quiet asserts that nothing arrives for a short while.
func (p *peer) quiet() {
	select {
	case m := <-p.msgs:
		p.t.Fatalf("unexpected message %#v", m)
	case <-time.After(100 * time.Millisecond):
	}
}

func (p *peer) nextResponse() *message.Response {
	m := p.next()
	resp, ok := m.(*message.Response)
	require.Truef(p.t, ok, "expected response, got %#v", m)
	return resp
}

func raw(t *testing.T, v any) json.RawMessage {
	b, err := json.Marshal(v)
	require.NoError(t, err)
	return b
}

func waitDone(t *testing.T, ch <-chan struct{}) {
	select {
	case <-ch:
	case <-time.After(waitTimeout):
		t.Fatal("timed out")
	}
}

type lines struct {
	mut   sync.Mutex
	lines []string
}

func (l *lines) Log(msg string) {
	l.mut.Lock()
	defer l.mut.Unlock()
	l.lines = append(l.lines, msg)
}

func (l *lines) get() []string {
	l.mut.Lock()
	defer l.mut.Unlock()
	return append([]string(nil), l.lines...)
}
