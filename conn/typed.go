package conn

import (
	"context"
	"encoding/json"

	"github.com/guseggert/rpcconn/cancellation"
	"github.com/guseggert/rpcconn/message"
)

// RequestType names a request method together with its param and result types.
type RequestType[P, R any] struct {
	Method string
}

// NotificationType names a notification method together with its param type.
type NotificationType[P any] struct {
	Method string
}

// HandleRequest registers a typed request handler. Params that do not decode into P are
// answered with InvalidParams without calling fn.
func HandleRequest[P, R any](c *Connection, t RequestType[P, R], fn func(ctx context.Context, params P, token cancellation.Token) (R, error)) {
	c.OnRequest(t.Method, func(ctx context.Context, raw json.RawMessage, token cancellation.Token) (any, error) {
		var params P
		if err := decodeParams(raw, &params); err != nil {
			return nil, message.Errorf(message.InvalidParams, "invalid params for %s: %s", t.Method, err)
		}
		result, err := fn(ctx, params, token)
		if err != nil {
			return nil, err
		}
		return result, nil
	})
}

// HandleNotification registers a typed notification handler. Notifications whose params
// do not decode into P are logged and dropped.
func HandleNotification[P any](c *Connection, t NotificationType[P], fn func(ctx context.Context, params P)) {
	c.OnNotification(t.Method, func(ctx context.Context, raw json.RawMessage) {
		var params P
		if err := decodeParams(raw, &params); err != nil {
			c.log.Warnf("dropping notification %s with invalid params: %s", t.Method, err)
			return
		}
		fn(ctx, params)
	})
}

// Request sends a typed request and waits for its result.
func Request[P, R any](ctx context.Context, c *Connection, t RequestType[P, R], params P) (R, error) {
	var result R
	err := c.Call(ctx, t.Method, params, &result)
	return result, err
}

// Notify sends a typed notification.
func Notify[P any](c *Connection, t NotificationType[P], params P) error {
	return c.SendNotification(t.Method, params)
}

func decodeParams(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, v)
}
