package conn

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/guseggert/rpcconn/cancellation"
	"github.com/guseggert/rpcconn/message"
)

// dispatch routes one inbound message. It runs on the reader goroutine, so messages are
// routed in framing order.
func (c *Connection) dispatch(msg message.Message) {
	switch m := msg.(type) {
	case *message.Request:
		c.handleRequest(m)
	case *message.Response:
		c.handleResponse(m)
	case *message.Notification:
		c.handleNotification(m)
	case *message.Invalid:
		c.handleInvalid(m)
	default:
		c.log.Errorf("unknown message type %T", msg)
	}
}

func (c *Connection) handleRequest(req *message.Request) {
	started := c.now()
	c.currentTracer().receivedRequest(req)

	c.mut.Lock()
	h, ok := c.requestHandlers[req.Method]
	fallback := c.unhandledRequest
	if !ok && fallback == nil {
		c.mut.Unlock()
		c.reply(req, started, nil, message.Errorf(message.MethodNotFound, "Unhandled method %s", req.Method))
		return
	}
	if !ok {
		method := req.Method
		h = func(ctx context.Context, params json.RawMessage, token cancellation.Token) (any, error) {
			return fallback(ctx, method, params, token)
		}
	}
	if _, dup := c.inbound[req.ID]; dup {
		c.log.Warnf("request id %s is already being handled, replacing its cancellation source", req.ID)
	}
	src := cancellation.NewSource()
	c.inbound[req.ID] = src
	c.mut.Unlock()

	go func() {
		result, err := c.invoke(req, h, src.Token())

		c.mut.Lock()
		if c.inbound[req.ID] == src {
			delete(c.inbound, req.ID)
		}
		c.mut.Unlock()
		src.Dispose()

		c.reply(req, started, result, err)
	}()
}

func (c *Connection) invoke(req *message.Request, h RequestHandler, token cancellation.Token) (result any, err error) {
	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("request handler for %s panicked: %v", req.Method, r)
			result = nil
			// a panicked error is answered like a returned one
			if perr, ok := r.(error); ok {
				err = perr
				return
			}
			err = message.Errorf(message.InternalError, "Request %s failed unexpectedly without providing any details.", req.Method)
		}
	}()
	ctx, cancel := cancellation.WithContext(c.ctx, token)
	defer cancel()
	return h(ctx, req.Params, token)
}

// reply maps a handler outcome onto the single response for req.
func (c *Connection) reply(req *message.Request, started time.Time, result any, err error) {
	resp := c.response(req, result, err)
	c.currentTracer().sendingResponse(req.Method, resp, started)
	if werr := c.writer.Write(resp); werr != nil {
		c.log.Debugf("writing response to %s (%s): %s", req.Method, req.ID, werr)
	}
}

func (c *Connection) response(req *message.Request, result any, err error) *message.Response {
	if err != nil {
		var respErr *message.ResponseError
		if errors.As(err, &respErr) {
			return message.NewErrorResponse(req.ID, respErr)
		}
		return message.NewErrorResponse(req.ID, failedWith(req.Method, err))
	}
	if respErr, ok := result.(*message.ResponseError); ok && respErr != nil {
		return message.NewErrorResponse(req.ID, respErr)
	}
	resp, err := message.NewResult(req.ID, result)
	if err != nil {
		return message.NewErrorResponse(req.ID, failedWith(req.Method, err))
	}
	return resp
}

func failedWith(method string, err error) *message.ResponseError {
	if err.Error() == "" {
		return message.Errorf(message.InternalError, "Request %s failed unexpectedly without providing any details.", method)
	}
	return message.Errorf(message.InternalError, "Request %s failed with message: %s", method, err)
}

func (c *Connection) handleResponse(resp *message.Response) {
	c.mut.Lock()
	p, ok := c.pending[resp.ID]
	delete(c.pending, resp.ID)
	c.mut.Unlock()

	if !ok {
		c.log.Warnf("received response %s without a pending request", resp.ID)
		c.currentTracer().receivedResponse(resp, nil)
		return
	}
	c.currentTracer().receivedResponse(resp, p)

	if resp.Error != nil {
		p.reject(resp.Error)
		return
	}
	p.resolve(resp.Result)
}

func (c *Connection) handleNotification(n *message.Notification) {
	c.currentTracer().receivedNotification(n)

	if n.Method == message.CancelRequestMethod {
		c.handleCancel(n)
		return
	}

	c.mut.Lock()
	h, ok := c.notificationHandlers[n.Method]
	fallback := c.unhandledNotification
	c.mut.Unlock()

	if !ok {
		if fallback == nil {
			c.log.Debugf("dropping notification %s without handler", n.Method)
			return
		}
		method := n.Method
		h = func(ctx context.Context, params json.RawMessage) {
			fallback(ctx, method, params)
		}
	}

	defer func() {
		if r := recover(); r != nil {
			c.log.Errorf("Notification handler '%s' failed unexpectedly: %v", n.Method, r)
		}
	}()
	h(c.ctx, n.Params)
}

func (c *Connection) handleCancel(n *message.Notification) {
	var params message.CancelParams
	if err := json.Unmarshal(n.Params, &params); err != nil {
		c.log.Warnf("invalid %s params: %s", n.Method, err)
		return
	}
	c.mut.Lock()
	src := c.inbound[params.ID]
	c.mut.Unlock()
	if src != nil {
		src.Cancel()
	}
}

func (c *Connection) handleInvalid(inv *message.Invalid) {
	c.log.Errorf("received message which is neither a request, a response nor a notification (%s): %s", inv.Reason, inv.Raw)
	if !inv.HasID {
		return
	}
	c.mut.Lock()
	p, ok := c.pending[inv.ID]
	delete(c.pending, inv.ID)
	c.mut.Unlock()
	if ok {
		p.reject(fmt.Errorf("%w: %s", ErrInvalidResponse, inv.Reason))
	}
}
