// Package jsoncodec is the JSON codec shared by payload parsers and the
// REST store client.
package jsoncodec

import (
	"io"

	"github.com/bytedance/sonic"
)

var defaultConfig = sonic.ConfigStd

// int64Config decodes integer literals into interface values as int64, so
// millisecond timestamps above 2^53 keep every digit.
var int64Config = sonic.Config{
	EscapeHTML:     true,
	SortMapKeys:    true,
	CopyString:     true,
	ValidateString: true,
	UseInt64:       true,
}.Froze()

func Marshal(v any) ([]byte, error) {
	return defaultConfig.Marshal(v)
}

func Unmarshal(data []byte, v any) error {
	return defaultConfig.Unmarshal(data, v)
}

// UnmarshalInt64 is Unmarshal, except that integers decoded into an `any`
// become int64 instead of float64.
func UnmarshalInt64(data []byte, v any) error {
	return int64Config.Unmarshal(data, v)
}

// Valid reports whether data is a single well-formed JSON value.
func Valid(data []byte) bool {
	return defaultConfig.Valid(data)
}

func Encode(w io.Writer, v any) error {
	return defaultConfig.NewEncoder(w).Encode(v)
}

func Decode(r io.Reader, v any) error {
	return defaultConfig.NewDecoder(r).Decode(v)
}
