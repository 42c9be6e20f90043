package message

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Decode parses a payload and classifies it. Only syntactically invalid JSON is an error;
// well-formed JSON of the wrong shape comes back as *Invalid.
func Decode(data []byte) (Message, error) {
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON (%d bytes)", len(data))
	}
	return Classify(data), nil
}

// Classify maps a JSON value onto a message variant:
//
//	method, no id, no result/error  -> Notification
//	method and id                   -> Request
//	id and result or error          -> Response
//	anything else                   -> Invalid
func Classify(raw json.RawMessage) Message {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return &Invalid{Raw: raw, Reason: "message is not a JSON object"}
	}

	inv := &Invalid{Raw: raw}
	var id ID
	rawID, hasID := fields["id"]
	if hasID {
		if isNull(rawID) {
			hasID = false
		} else if err := json.Unmarshal(rawID, &id); err != nil {
			inv.Reason = fmt.Sprintf("invalid id: %s", err)
			return inv
		}
	}
	inv.ID, inv.HasID = id, hasID

	rawMethod, hasMethod := fields["method"]
	var method string
	if hasMethod {
		if err := json.Unmarshal(rawMethod, &method); err != nil || method == "" {
			inv.Reason = "method must be a non-empty string"
			return inv
		}
	}
	params := fields["params"]
	rawResult, hasResult := fields["result"]
	rawError, hasError := fields["error"]
	if hasError && isNull(rawError) {
		hasError = false
	}

	switch {
	case hasMethod && !hasID && !hasResult && !hasError:
		return &Notification{Method: method, Params: params}
	case hasMethod && hasID:
		return &Request{ID: id, Method: method, Params: params}
	case !hasMethod && hasID && hasError:
		var respErr ResponseError
		if err := json.Unmarshal(rawError, &respErr); err != nil {
			inv.Reason = fmt.Sprintf("invalid error object: %s", err)
			return inv
		}
		return &Response{ID: id, Error: &respErr}
	case !hasMethod && hasID && hasResult:
		return &Response{ID: id, Result: rawResult}
	case !hasMethod && hasID:
		inv.Reason = "response has neither a result nor an error"
		return inv
	default:
		inv.Reason = "message is neither a request, a response nor a notification"
		return inv
	}
}

func isNull(b json.RawMessage) bool {
	return bytes.Equal(bytes.TrimSpace(b), []byte("null"))
}
