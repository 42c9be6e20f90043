package framing

import (
	"bytes"
	"encoding/json"
	"io"
	"sync"
	"testing"

	"github.com/guseggert/rpcconn/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriterFrame(t *testing.T) {
	var buf bytes.Buffer
	w := NewStreamWriter(&buf)
	require.NoError(t, w.Write(&message.Notification{Method: "ü"}))

	body := `{"jsonrpc":"2.0","method":"ü"}`
	// Content-Length counts bytes, not characters
	assert.Equal(t, "Content-Length: 31\r\n\r\n"+body, buf.String())
	assert.Len(t, body, 31)
}

func TestLookupEncoding(t *testing.T) {
	enc, err := LookupEncoding("UTF-8")
	require.NoError(t, err)
	assert.Nil(t, enc)

	enc, err = LookupEncoding("utf-16le")
	require.NoError(t, err)
	assert.NotNil(t, enc)

	_, err = LookupEncoding("klingon")
	assert.Error(t, err)
}

type failingWriter struct{ err error }

func (w *failingWriter) Write(p []byte) (int, error) { return 0, w.err }

func TestWriterErrors(t *testing.T) {
	w := NewStreamWriter(&failingWriter{err: io.ErrClosedPipe})

	var events []*WriteError
	closed := 0
	w.OnError(func(e *WriteError) { events = append(events, e) })
	w.OnClose(func() { closed++ })

	msg := &message.Notification{Method: "x"}
	err := w.Write(msg)
	require.Error(t, err)
	assert.ErrorIs(t, err, io.ErrClosedPipe)

	require.Len(t, events, 1)
	assert.Equal(t, 1, events[0].Count)
	assert.Equal(t, message.Message(msg), events[0].Message)
	assert.Equal(t, 1, closed)

	assert.ErrorIs(t, w.Write(msg), ErrWriterClosed)
	assert.Equal(t, 1, closed)
}

func TestWriterUnmarshalableParams(t *testing.T) {
	w := NewStreamWriter(io.Discard)
	err := w.Write(&message.Request{ID: message.NumberID(1), Method: "m", Params: json.RawMessage(`{bad`)})
	require.Error(t, err)
}

func TestConcurrentWritesDoNotInterleave(t *testing.T) {
	pr, pw := io.Pipe()
	w := NewStreamWriter(pw)

	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			assert.NoError(t, w.Write(&message.Request{ID: message.NumberID(int64(i)), Method: "m"}))
		}(i)
	}
	go func() {
		wg.Wait()
		pw.Close()
	}()

	got, errs := listen(t, pr)
	assert.Empty(t, errs)
	assert.Len(t, got.get(), n)
}
