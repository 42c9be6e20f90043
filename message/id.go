package message

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
)

var errInvalidID = errors.New("id must be a number or a string")

// ID is a request id, either an integer or a string.
// IDs are comparable and can be used as map keys; NumberID(1) and StringID("1") are distinct.
type ID struct {
	num      int64
	str      string
	isString bool
}

func NumberID(n int64) ID { return ID{num: n} }

func StringID(s string) ID { return ID{str: s, isString: true} }

// IsString reports whether the id was sent as a JSON string.
func (id ID) IsString() bool { return id.isString }

// Number returns the numeric value; it is zero for string ids.
func (id ID) Number() int64 { return id.num }

func (id ID) String() string {
	if id.isString {
		return strconv.Quote(id.str)
	}
	return strconv.FormatInt(id.num, 10)
}

func (id ID) MarshalJSON() ([]byte, error) {
	if id.isString {
		return json.Marshal(id.str)
	}
	return strconv.AppendInt(nil, id.num, 10), nil
}

func (id *ID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return errInvalidID
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return fmt.Errorf("decoding string id: %w", err)
		}
		*id = StringID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return errInvalidID
	}
	i, err := n.Int64()
	if err != nil {
		return fmt.Errorf("decoding numeric id %s: %w", n, err)
	}
	*id = NumberID(i)
	return nil
}
