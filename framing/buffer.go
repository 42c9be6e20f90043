package framing

import (
	"bytes"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"golang.org/x/text/encoding"
)

// ChunkSize is the allocation granularity of a Buffer.
const ChunkSize = 8192

const headerContentLength = "Content-Length"

var (
	ErrMalformedHeader       = errors.New("framing: message header must separate key and value using ':'")
	ErrMissingContentLength  = errors.New("framing: header must provide a Content-Length property")
	ErrInvalidContentLength  = errors.New("framing: Content-Length value must be a non-negative number")
	ErrContentLengthTooLarge = errors.New("framing: Content-Length exceeds the configured limit")
)

var headerSeparator = []byte("\r\n\r\n")

// Buffer accumulates raw bytes and extracts header blocks and bodies from them.
// A Buffer is not safe for concurrent use.
type Buffer struct {
	enc encoding.Encoding

	data []byte
	// pos is the read cursor, end the write cursor; data[pos:end] is unread.
	pos int
	end int
}

// NewBuffer returns an empty buffer. A nil encoding means UTF-8, which needs no transcoding.
func NewBuffer(enc encoding.Encoding) *Buffer {
	return &Buffer{
		enc:  enc,
		data: make([]byte, ChunkSize),
	}
}

// Append adds a chunk. When the chunk does not fit into the remaining capacity the buffer
// is reallocated to the smallest multiple of ChunkSize that holds the unread bytes plus the
// chunk, dropping everything before the read cursor.
func (b *Buffer) Append(chunk []byte) {
	if len(b.data)-b.end >= len(chunk) {
		b.end += copy(b.data[b.end:], chunk)
		return
	}
	unread := b.end - b.pos
	need := unread + len(chunk)
	size := ((need + ChunkSize - 1) / ChunkSize) * ChunkSize
	grown := make([]byte, size)
	copy(grown, b.data[b.pos:b.end])
	copy(grown[unread:], chunk)
	b.data = grown
	b.pos = 0
	b.end = need
}

// Len returns the number of unread bytes.
func (b *Buffer) Len() int {
	return b.end - b.pos
}

// Cap returns the size of the backing array.
func (b *Buffer) Cap() int {
	return len(b.data)
}

// TryReadHeaders returns the next header block, or ok=false if the terminating blank line
// has not arrived yet. A header line without a colon is a fatal ErrMalformedHeader.
func (b *Buffer) TryReadHeaders() (headers map[string]string, ok bool, err error) {
	unread := b.data[b.pos:b.end]
	idx := bytes.Index(unread, headerSeparator)
	if idx < 0 {
		return nil, false, nil
	}

	headers = map[string]string{}
	for _, line := range strings.Split(string(unread[:idx]), "\r\n") {
		colon := strings.IndexByte(line, ':')
		if colon < 0 {
			return nil, false, fmt.Errorf("%w: %q", ErrMalformedHeader, line)
		}
		headers[line[:colon]] = strings.TrimSpace(line[colon+1:])
	}

	b.pos += idx + len(headerSeparator)
	return headers, true, nil
}

// TryReadContent returns exactly length bytes transcoded to UTF-8, or ok=false if fewer
// than length bytes are buffered.
func (b *Buffer) TryReadContent(length int) (content []byte, ok bool, err error) {
	if b.end-b.pos < length {
		return nil, false, nil
	}
	raw := b.data[b.pos : b.pos+length]
	b.pos += length

	if b.enc == nil {
		content = make([]byte, length)
		copy(content, raw)
		return content, true, nil
	}
	content, err = b.enc.NewDecoder().Bytes(raw)
	if err != nil {
		return nil, false, fmt.Errorf("framing: decoding content: %w", err)
	}
	return content, true, nil
}

// ContentLength extracts the Content-Length header. Header names are matched
// case-insensitively.
func ContentLength(headers map[string]string) (int, error) {
	value, ok := headers[headerContentLength]
	if !ok {
		for k, v := range headers {
			if strings.EqualFold(k, headerContentLength) {
				value, ok = v, true
				break
			}
		}
	}
	if !ok || value == "" {
		return 0, ErrMissingContentLength
	}
	n, err := strconv.Atoi(value)
	if err != nil || n < 0 {
		return 0, fmt.Errorf("%w: %q", ErrInvalidContentLength, value)
	}
	return n, nil
}
