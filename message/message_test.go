package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name   string
		raw    string
		expect Message
	}{
		{
			name:   "request",
			raw:    `{"jsonrpc":"2.0","id":0,"method":"sum","params":[2,3]}`,
			expect: &Request{ID: NumberID(0), Method: "sum", Params: json.RawMessage(`[2,3]`)},
		},
		{
			name:   "request with string id",
			raw:    `{"jsonrpc":"2.0","id":"abc","method":"p"}`,
			expect: &Request{ID: StringID("abc"), Method: "p"},
		},
		{
			name:   "notification",
			raw:    `{"jsonrpc":"2.0","method":"$/cancelRequest","params":{"id":4}}`,
			expect: &Notification{Method: "$/cancelRequest", Params: json.RawMessage(`{"id":4}`)},
		},
		{
			name:   "null id is a notification",
			raw:    `{"jsonrpc":"2.0","id":null,"method":"exit"}`,
			expect: &Notification{Method: "exit"},
		},
		{
			name:   "result response",
			raw:    `{"jsonrpc":"2.0","id":7,"result":5}`,
			expect: &Response{ID: NumberID(7), Result: json.RawMessage(`5`)},
		},
		{
			name:   "null result is still a result",
			raw:    `{"jsonrpc":"2.0","id":7,"result":null}`,
			expect: &Response{ID: NumberID(7), Result: json.RawMessage(`null`)},
		},
		{
			name:   "error response",
			raw:    `{"jsonrpc":"2.0","id":7,"error":{"code":-32601,"message":"nope"}}`,
			expect: &Response{ID: NumberID(7), Error: &ResponseError{Code: MethodNotFound, Message: "nope"}},
		},
		{
			name: "response without result or error",
			raw:  `{"jsonrpc":"2.0","id":7}`,
			expect: &Invalid{
				Raw:    json.RawMessage(`{"jsonrpc":"2.0","id":7}`),
				ID:     NumberID(7),
				HasID:  true,
				Reason: "response has neither a result nor an error",
			},
		},
		{
			name: "array",
			raw:  `[1,2]`,
			expect: &Invalid{
				Raw:    json.RawMessage(`[1,2]`),
				Reason: "message is not a JSON object",
			},
		},
		{
			name: "empty object",
			raw:  `{}`,
			expect: &Invalid{
				Raw:    json.RawMessage(`{}`),
				Reason: "message is neither a request, a response nor a notification",
			},
		},
	}

	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			assert.Equal(t, c.expect, Classify(json.RawMessage(c.raw)))
		})
	}
}

func TestDecodeRejectsGarbage(t *testing.T) {
	_, err := Decode([]byte(`{"id":`))
	require.Error(t, err)
}

func TestMarshalShapes(t *testing.T) {
	req, err := NewRequest(NumberID(0), "sum", []int{2, 3})
	require.NoError(t, err)
	b, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":0,"method":"sum","params":[2,3]}`, string(b))

	notif, err := NewNotification("initialized", nil)
	require.NoError(t, err)
	b, err = json.Marshal(notif)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","method":"initialized"}`, string(b))

	resp, err := NewResult(StringID("x"), nil)
	require.NoError(t, err)
	b, err = json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":"x","result":null}`, string(b))

	b, err = json.Marshal(NewErrorResponse(NumberID(3), NewError(InternalError, "boom").WithData(map[string]int{"n": 1})))
	require.NoError(t, err)
	assert.JSONEq(t, `{"jsonrpc":"2.0","id":3,"error":{"code":-32603,"message":"boom","data":{"n":1}}}`, string(b))
}

func TestIDRoundTrip(t *testing.T) {
	for _, id := range []ID{NumberID(0), NumberID(-12), StringID("1"), StringID("")} {
		b, err := json.Marshal(id)
		require.NoError(t, err)
		var got ID
		require.NoError(t, json.Unmarshal(b, &got))
		assert.Equal(t, id, got)
	}
	assert.NotEqual(t, NumberID(1), StringID("1"))

	var id ID
	assert.Error(t, json.Unmarshal([]byte(`1.5`), &id))
	assert.Error(t, json.Unmarshal([]byte(`{}`), &id))
}

func TestResponseErrorMessage(t *testing.T) {
	err := Errorf(MethodNotFound, "Unhandled method %s", "foo")
	assert.Equal(t, "rpc error -32601: Unhandled method foo", err.Error())
}
