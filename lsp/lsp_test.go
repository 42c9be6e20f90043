package lsp

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/guseggert/rpcconn/cancellation"
	"github.com/guseggert/rpcconn/conn"
	"github.com/guseggert/rpcconn/message"
	"github.com/guseggert/rpcconn/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	"go.uber.org/zap"
)

var log *zap.SugaredLogger

func init() {
	l, err := zap.NewProduction()
	if err != nil {
		panic(err)
	}
	log = l.Sugar()
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

func (l *lines) joined() string {
	l.mut.Lock()
	defer l.mut.Unlock()
	return strings.Join(l.lines, "\n")
}

type fixture struct {
	client *conn.Connection
	server *conn.Connection
	bridge *Bridge
	traces *lines
	opened chan string
}

func newFixture(t *testing.T) *fixture {
	f := &fixture{traces: &lines{}, opened: make(chan string, 1)}
	handler := &protocol.Handler{
		Initialize: func(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
			return map[string]any{"capabilities": map[string]any{"hoverProvider": true}}, nil
		},
		Initialized: func(ctx *glsp.Context, params *protocol.InitializedParams) error {
			return nil
		},
		TextDocumentHover: func(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
			return &protocol.Hover{
				Contents: protocol.MarkupContent{
					Kind:  protocol.MarkupKindPlainText,
					Value: fmt.Sprintf("line %d", params.Position.Line),
				},
			}, nil
		},
		TextDocumentDidOpen: func(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
			ctx.Notify("textDocument/publishDiagnostics", map[string]any{"uri": params.TextDocument.URI, "diagnostics": []any{}})
			return nil
		},
		SetTrace: func(ctx *glsp.Context, params *protocol.SetTraceParams) error {
			return nil
		},
	}

	f.client, f.server = transport.Pipe(conn.WithLogger(log))
	f.bridge = Serve(f.server, handler, WithLogger(log), WithTracer(f.traces))
	f.client.OnNotification("textDocument/publishDiagnostics", func(ctx context.Context, params json.RawMessage) {
		var p struct {
			URI string `json:"uri"`
		}
		if json.Unmarshal(params, &p) == nil {
			f.opened <- p.URI
		}
	})
	require.NoError(t, f.server.Listen())
	require.NoError(t, f.client.Listen())
	t.Cleanup(func() {
		f.client.Dispose()
		f.server.Dispose()
	})
	return f
}

func (f *fixture) initialize(t *testing.T, ctx context.Context) {
	var result map[string]any
	require.NoError(t, f.client.Call(ctx, protocol.MethodInitialize, map[string]any{"capabilities": map[string]any{}}, &result))
	assert.Contains(t, result, "capabilities")
	require.NoError(t, f.client.SendNotification(protocol.MethodInitialized, map[string]any{}))
}

func hoverParams(line int) map[string]any {
	return map[string]any{
		"textDocument": map[string]any{"uri": "file:///a.txt"},
		"position":     map[string]any{"line": line, "character": 0},
	}
}

func responseCode(t *testing.T, err error) int {
	var respErr *message.ResponseError
	require.ErrorAs(t, err, &respErr)
	return respErr.Code
}

func TestRequestsBeforeInitialize(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	err := f.client.Call(ctx, protocol.MethodTextDocumentHover, hoverParams(1), nil)
	assert.Equal(t, message.ServerNotInitialized, responseCode(t, err))
}

func TestHover(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.initialize(t, ctx)

	var hover struct {
		Contents struct {
			Kind  string `json:"kind"`
			Value string `json:"value"`
		} `json:"contents"`
	}
	require.NoError(t, f.client.Call(ctx, protocol.MethodTextDocumentHover, hoverParams(3), &hover))
	assert.Equal(t, "plaintext", hover.Contents.Kind)
	assert.Equal(t, "line 3", hover.Contents.Value)

	err := f.client.Call(ctx, protocol.MethodTextDocumentHover, map[string]any{"position": "nowhere"}, nil)
	assert.Equal(t, message.InvalidParams, responseCode(t, err))

	err = f.client.Call(ctx, "custom/unknown", nil, nil)
	assert.Equal(t, message.MethodNotFound, responseCode(t, err))
}

func TestNotificationsReachHandler(t *testing.T) {
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.initialize(t, ctx)

	require.NoError(t, f.client.SendNotification(protocol.MethodTextDocumentDidOpen, map[string]any{
		"textDocument": map[string]any{"uri": "file:///b.txt", "languageId": "text", "version": 1, "text": "hi"},
	}))
	select {
	case uri := <-f.opened:
		assert.Equal(t, "file:///b.txt", uri)
	case <-ctx.Done():
		t.Fatal("handler did not publish diagnostics")
	}
}

func TestSetTrace(t *testing.T) {
	globalTrace := protocol.GetTraceValue()
	f := newFixture(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	f.initialize(t, ctx)
	assert.Empty(t, f.traces.joined())

	require.NoError(t, f.client.SendNotification(protocol.MethodSetTrace, protocol.SetTraceParams{Value: protocol.TraceValueVerbose}))
	// requests are dispatched after the notification, so tracing is on by then
	require.NoError(t, f.client.Call(ctx, protocol.MethodTextDocumentHover, hoverParams(1), nil))

	traced := f.traces.joined()
	assert.Contains(t, traced, "Received request 'textDocument/hover - (")
	assert.Contains(t, traced, "Params: {")
	assert.Equal(t, conn.TraceVerbose, f.bridge.Trace())
	// the level belongs to this bridge, not to the process
	assert.Equal(t, globalTrace, protocol.GetTraceValue())

	require.NoError(t, f.client.SendNotification(protocol.MethodSetTrace, protocol.SetTraceParams{Value: protocol.TraceValueOff}))
	require.NoError(t, f.client.Call(ctx, protocol.MethodTextDocumentHover, hoverParams(2), nil))
	assert.NotContains(t, f.traces.joined()[len(traced):], "Received request")
	assert.Equal(t, conn.TraceOff, f.bridge.Trace())
}

func TestLogTrace(t *testing.T) {
	f := newFixture(t)
	got := make(chan protocol.LogTraceParams, 1)
	f.client.OnNotification(protocol.MethodLogTrace, func(ctx context.Context, params json.RawMessage) {
		var p protocol.LogTraceParams
		if json.Unmarshal(params, &p) == nil {
			got <- p
		}
	})

	require.NoError(t, f.bridge.LogTrace("indexing", "3 files"))
	select {
	case p := <-got:
		assert.Equal(t, "indexing", p.Message)
		require.NotNil(t, p.Verbose)
		assert.Equal(t, "3 files", *p.Verbose)
	case <-time.After(5 * time.Second):
		t.Fatal("no $/logTrace received")
	}
}

func TestExitClosesConnection(t *testing.T) {
	f := newFixture(t)
	require.NoError(t, f.client.SendNotification(protocol.MethodExit, nil))
	select {
	case <-f.server.Closed():
	case <-time.After(5 * time.Second):
		t.Fatal("server connection still open")
	}
	select {
	case <-f.client.Closed():
	case <-time.After(5 * time.Second):
		t.Fatal("client did not observe closure")
	}
}

func TestTraceValues(t *testing.T) {
	cases := []struct {
		value protocol.TraceValue
		trace conn.Trace
	}{
		{value: protocol.TraceValueOff, trace: conn.TraceOff},
		{value: protocol.TraceValueMessage, trace: conn.TraceMessages},
		{value: protocol.TraceValueVerbose, trace: conn.TraceVerbose},
	}
	for _, c := range cases {
		t.Run(string(c.value), func(t *testing.T) {
			assert.Equal(t, c.trace, TraceFromValue(c.value))
			assert.Equal(t, c.value, TraceValue(c.trace))
		})
	}
	assert.Equal(t, conn.TraceMessages, TraceFromValue("messages"))
	assert.Equal(t, conn.TraceOff, TraceFromValue("bogus"))
}

func serveHandler(t *testing.T, handler *protocol.Handler) (client *conn.Connection, bridge *Bridge) {
	client, server := transport.Pipe(conn.WithLogger(log))
	bridge = Serve(server, handler, WithLogger(log))
	t.Cleanup(func() {
		client.Dispose()
		server.Dispose()
	})
	return client, bridge
}

func initialize(t *testing.T, ctx context.Context, client *conn.Connection) {
	require.NoError(t, client.Call(ctx, protocol.MethodInitialize, map[string]any{"capabilities": map[string]any{}}, nil))
	require.NoError(t, client.SendNotification(protocol.MethodInitialized, map[string]any{}))
}

func TestNotificationHandlerCallsClient(t *testing.T) {
	registered := make(chan string, 1)
	handler := &protocol.Handler{
		Initialize: func(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
			return map[string]any{"capabilities": map[string]any{}}, nil
		},
		Initialized: func(ctx *glsp.Context, params *protocol.InitializedParams) error {
			var result string
			ctx.Call("client/registerCapability", map[string]any{"registrations": []any{}}, &result)
			registered <- result
			return nil
		},
		TextDocumentHover: func(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
			return &protocol.Hover{Contents: "hi"}, nil
		},
	}
	client, _ := serveHandler(t, handler)
	client.OnRequest("client/registerCapability", func(ctx context.Context, params json.RawMessage, token cancellation.Token) (any, error) {
		return "registered", nil
	})
	require.NoError(t, client.Listen())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	initialize(t, ctx, client)

	select {
	case result := <-registered:
		assert.Equal(t, "registered", result)
	case <-ctx.Done():
		t.Fatal("call from the Initialized handler did not return")
	}
	require.NoError(t, client.Call(ctx, protocol.MethodTextDocumentHover, hoverParams(0), nil))
}

func TestRequestsSeeEarlierNotifications(t *testing.T) {
	var (
		mut  sync.Mutex
		docs = map[string]string{}
	)
	handler := &protocol.Handler{
		Initialize: func(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
			return map[string]any{"capabilities": map[string]any{}}, nil
		},
		TextDocumentDidOpen: func(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
			time.Sleep(50 * time.Millisecond)
			mut.Lock()
			defer mut.Unlock()
			docs[params.TextDocument.URI] = params.TextDocument.Text
			return nil
		},
		TextDocumentHover: func(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
			mut.Lock()
			defer mut.Unlock()
			return &protocol.Hover{Contents: docs[params.TextDocument.URI]}, nil
		},
	}
	client, _ := serveHandler(t, handler)
	require.NoError(t, client.Listen())

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	initialize(t, ctx, client)

	require.NoError(t, client.SendNotification(protocol.MethodTextDocumentDidOpen, map[string]any{
		"textDocument": map[string]any{"uri": "file:///a.txt", "languageId": "text", "version": 1, "text": "opened"},
	}))
	var hover struct {
		Contents string `json:"contents"`
	}
	require.NoError(t, client.Call(ctx, protocol.MethodTextDocumentHover, hoverParams(0), &hover))
	assert.Equal(t, "opened", hover.Contents)
}
