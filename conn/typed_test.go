package conn

import (
	"context"
	"testing"
	"time"

	"github.com/guseggert/rpcconn/cancellation"
	"github.com/guseggert/rpcconn/message"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type greetParams struct {
	Name string `json:"name"`
}

type greeting struct {
	Text string `json:"text"`
}

var (
	greetRequest = RequestType[greetParams, greeting]{Method: "greet"}
	sumRequest   = RequestType[[]int, int]{Method: "sum"}
	logNote      = NotificationType[greetParams]{Method: "log"}
)

func TestTypedRequests(t *testing.T) {
	client, server := newPair(t)
	HandleRequest(server, greetRequest, func(ctx context.Context, p greetParams, token cancellation.Token) (greeting, error) {
		return greeting{Text: "hello " + p.Name}, nil
	})
	HandleRequest(server, sumRequest, func(ctx context.Context, nums []int, token cancellation.Token) (int, error) {
		total := 0
		for _, n := range nums {
			total += n
		}
		return total, nil
	})
	require.NoError(t, server.Listen())
	require.NoError(t, client.Listen())

	ctx, cancel := context.WithTimeout(context.Background(), waitTimeout)
	defer cancel()

	g, err := Request(ctx, client, greetRequest, greetParams{Name: "bob"})
	require.NoError(t, err)
	assert.Equal(t, "hello bob", g.Text)

	sum, err := Request(ctx, client, sumRequest, []int{2, 3})
	require.NoError(t, err)
	assert.Equal(t, 5, sum)
}

func TestTypedInvalidParams(t *testing.T) {
	c, p := newPeer(t)
	called := false
	HandleRequest(c, greetRequest, func(ctx context.Context, gp greetParams, token cancellation.Token) (greeting, error) {
		called = true
		return greeting{}, nil
	})
	require.NoError(t, c.Listen())

	p.sendRaw(`{"jsonrpc":"2.0","id":1,"method":"greet","params":{"name":5}}`)
	resp := p.nextResponse()
	require.NotNil(t, resp.Error)
	assert.Equal(t, message.InvalidParams, resp.Error.Code)
	assert.False(t, called)
}

func TestTypedNotifications(t *testing.T) {
	client, server := newPair(t)
	got := make(chan string, 1)
	HandleNotification(server, logNote, func(ctx context.Context, p greetParams) {
		got <- p.Name
	})
	require.NoError(t, server.Listen())
	require.NoError(t, client.Listen())

	require.NoError(t, Notify(client, logNote, greetParams{Name: "alice"}))
	select {
	case name := <-got:
		assert.Equal(t, "alice", name)
	case <-time.After(waitTimeout):
		t.Fatal("notification not delivered")
	}
}
