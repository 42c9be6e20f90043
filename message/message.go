package message

import (
	"encoding/json"
	"fmt"
)

// Version is the only protocol version this package speaks.
const Version = "2.0"

// CancelRequestMethod is the reserved notification used to cancel an in-flight request.
const CancelRequestMethod = "$/cancelRequest"

// CancelParams are the params of a cancel notification.
type CancelParams struct {
	ID ID `json:"id"`
}

// Message is one of *Request, *Response, *Notification or *Invalid.
type Message interface {
	isMessage()
}

// Request expects exactly one Response with the same ID.
type Request struct {
	ID     ID
	Method string
	Params json.RawMessage
}

// Response answers a Request. Exactly one of Result and Error is set; a JSON null result
// is represented by Result == "null".
type Response struct {
	ID     ID
	Result json.RawMessage
	Error  *ResponseError
}

// Notification is fire-and-forget.
type Notification struct {
	Method string
	Params json.RawMessage
}

// Invalid is a decoded JSON value that is none of the other variants.
// HasID is set when it nonetheless carried a usable id.
type Invalid struct {
	Raw    json.RawMessage
	ID     ID
	HasID  bool
	Reason string
}

func (*Request) isMessage()      {}
func (*Response) isMessage()     {}
func (*Notification) isMessage() {}
func (*Invalid) isMessage()      {}

type wireMessage struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      *ID             `json:"id,omitempty"`
	Method  string          `json:"method,omitempty"`
	Params  json.RawMessage `json:"params,omitempty"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *ResponseError  `json:"error,omitempty"`
}

func (r *Request) MarshalJSON() ([]byte, error) {
	id := r.ID
	return json.Marshal(wireMessage{JSONRPC: Version, ID: &id, Method: r.Method, Params: r.Params})
}

func (n *Notification) MarshalJSON() ([]byte, error) {
	return json.Marshal(wireMessage{JSONRPC: Version, Method: n.Method, Params: n.Params})
}

func (r *Response) MarshalJSON() ([]byte, error) {
	id := r.ID
	w := wireMessage{JSONRPC: Version, ID: &id, Error: r.Error}
	if r.Error == nil {
		w.Result = r.Result
		if len(w.Result) == 0 {
			w.Result = json.RawMessage("null")
		}
	}
	return json.Marshal(w)
}

func (i *Invalid) MarshalJSON() ([]byte, error) {
	if len(i.Raw) == 0 {
		return []byte("null"), nil
	}
	return i.Raw, nil
}

// NewRequest builds a request, marshaling params unless they are already raw JSON.
func NewRequest(id ID, method string, params any) (*Request, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params for %q: %w", method, err)
	}
	return &Request{ID: id, Method: method, Params: p}, nil
}

// NewNotification builds a notification, marshaling params unless they are already raw JSON.
func NewNotification(method string, params any) (*Notification, error) {
	p, err := marshalParams(params)
	if err != nil {
		return nil, fmt.Errorf("marshaling params for %q: %w", method, err)
	}
	return &Notification{Method: method, Params: p}, nil
}

// NewResult builds a successful response. A nil result is sent as JSON null.
func NewResult(id ID, result any) (*Response, error) {
	var raw json.RawMessage
	switch r := result.(type) {
	case nil:
		raw = json.RawMessage("null")
	case json.RawMessage:
		raw = r
	default:
		b, err := json.Marshal(r)
		if err != nil {
			return nil, fmt.Errorf("marshaling result: %w", err)
		}
		raw = b
	}
	return &Response{ID: id, Result: raw}, nil
}

// NewErrorResponse builds a failed response.
func NewErrorResponse(id ID, err *ResponseError) *Response {
	return &Response{ID: id, Error: err}
}

func marshalParams(params any) (json.RawMessage, error) {
	switch p := params.(type) {
	case nil:
		return nil, nil
	case json.RawMessage:
		return p, nil
	default:
		return json.Marshal(p)
	}
}

// MethodOf returns the method of a request or notification, or "".
func MethodOf(m Message) string {
	switch m := m.(type) {
	case *Request:
		return m.Method
	case *Notification:
		return m.Method
	default:
		return ""
	}
}
