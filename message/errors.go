package message

import (
	"encoding/json"
	"fmt"
)

// Error codes. The JSON-RPC range is reserved by the JSON-RPC 2.0 specification;
// MessageWriteError and MessageReadError are transport-level codes that never cross the wire
// as part of a response from a peer.
const (
	ParseError     = -32700
	InvalidRequest = -32600
	MethodNotFound = -32601
	InvalidParams  = -32602
	InternalError  = -32603

	ServerNotInitialized = -32002
	UnknownErrorCode     = -32001
	RequestCancelled     = -32800

	MessageWriteError = 1
	MessageReadError  = 2
)

// ResponseError is the error object of a response. It implements error so handlers can
// return it directly and callers can errors.As it out of a failed request.
type ResponseError struct {
	Code    int             `json:"code"`
	Message string          `json:"message"`
	Data    json.RawMessage `json:"data,omitempty"`
}

// NewError returns a ResponseError without data.
func NewError(code int, message string) *ResponseError {
	return &ResponseError{Code: code, Message: message}
}

// Errorf returns a ResponseError with a formatted message.
func Errorf(code int, format string, args ...any) *ResponseError {
	return &ResponseError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// WithData returns a copy of e carrying data marshaled as JSON.
// If data cannot be marshaled the copy carries no data.
func (e *ResponseError) WithData(data any) *ResponseError {
	cp := *e
	b, err := json.Marshal(data)
	if err == nil {
		cp.Data = b
	}
	return &cp
}

func (e *ResponseError) Error() string {
	if len(e.Data) > 0 {
		return fmt.Sprintf("rpc error %d: %s (data: %s)", e.Code, e.Message, e.Data)
	}
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}
