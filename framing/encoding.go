package framing

import (
	"fmt"
	"strings"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/htmlindex"
)

// LookupEncoding resolves an encoding label such as "utf-8" or "utf-16le".
// UTF-8 resolves to nil, which the codec treats as the no-transcoding fast path.
func LookupEncoding(label string) (encoding.Encoding, error) {
	switch strings.ToLower(strings.TrimSpace(label)) {
	case "", "utf-8", "utf8":
		return nil, nil
	}
	enc, err := htmlindex.Get(label)
	if err != nil {
		return nil, fmt.Errorf("unsupported content encoding %q: %w", label, err)
	}
	return enc, nil
}
