// Package codec selects the JSON encoding used for API payloads.
//
// Aggregates of high-resolution views are large float arrays, so the
// server defaults to the faster goccy/go-json implementation. Both codecs
// produce interchangeable output.
package codec

import (
	"io"
)

// Codec encodes/decodes values.
// Implementations must be safe for concurrent use.
type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error

	// Encode writes v to w followed by a newline.
	Encode(w io.Writer, v any) error
	// Decode reads the next value from r into v.
	Decode(r io.Reader, v any) error

	Name() string
}

// ContentType is the media type of every built-in codec.
const ContentType = "application/json; charset=UTF-8"

// ByName returns a built-in codec by its configuration name. The empty
// name selects Default.
func ByName(name string) (Codec, bool) {
	switch name {
	case "":
		return Default, true
	case "json":
		return JSON{}, true
	case "go-json":
		return GoJSON{}, true
	default:
		return nil, false
	}
}

// Default is the codec used when none is configured.
var Default Codec = GoJSON{}
