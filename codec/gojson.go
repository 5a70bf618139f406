package codec

import (
	"io"

	gojson "github.com/goccy/go-json"
)

// GoJSON uses github.com/goccy/go-json. It is the server default; large
// heatmap aggregates encode noticeably faster than with encoding/json.
type GoJSON struct{}

func (GoJSON) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

// Encode streams v to w.
func (GoJSON) Encode(w io.Writer, v any) error { return gojson.NewEncoder(w).Encode(v) }

// Decode streams the next value of r into v.
func (GoJSON) Decode(r io.Reader, v any) error { return gojson.NewDecoder(r).Decode(v) }

// Name is "go-json".
func (GoJSON) Name() string { return "go-json" }
