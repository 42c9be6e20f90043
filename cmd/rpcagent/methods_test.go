package main

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/guseggert/rpcconn/cancellation"
	"github.com/guseggert/rpcconn/conn"
	"github.com/guseggert/rpcconn/message"
	"github.com/guseggert/rpcconn/transport"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newClient(t *testing.T) *conn.Connection {
	client, server := transport.Pipe()
	registerMethods(server, zap.NewNop().Sugar())
	require.NoError(t, server.Listen())
	require.NoError(t, client.Listen())
	t.Cleanup(func() {
		client.Dispose()
		server.Dispose()
	})
	return client
}

func TestMethods(t *testing.T) {
	client := newClient(t)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	total, err := conn.Request(ctx, client, sumRequest, []float64{1, 2.5, 3})
	require.NoError(t, err)
	assert.Equal(t, 6.5, total)

	echoed, err := conn.Request(ctx, client, echoRequest, json.RawMessage(`{"a":[1,2]}`))
	require.NoError(t, err)
	assert.JSONEq(t, `{"a":[1,2]}`, string(echoed))

	slept, err := conn.Request(ctx, client, sleepRequest, sleepParams{Duration: "1ms"})
	require.NoError(t, err)
	assert.NotEmpty(t, slept.Slept)

	_, err = conn.Request(ctx, client, sleepRequest, sleepParams{Duration: "forever"})
	var respErr *message.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, message.InvalidParams, respErr.Code)

	require.NoError(t, conn.Notify(client, logNotify, logParams{Message: "hi"}))
}

func TestSleepCancelled(t *testing.T) {
	client := newClient(t)

	src := cancellation.NewSource()
	p := client.SendRequest(sleepRequest.Method, sleepParams{Duration: "1h"}, src.Token())
	time.Sleep(50 * time.Millisecond)
	src.Cancel()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := p.Wait(ctx)
	var respErr *message.ResponseError
	require.True(t, errors.As(err, &respErr))
	assert.Equal(t, message.RequestCancelled, respErr.Code)
}
