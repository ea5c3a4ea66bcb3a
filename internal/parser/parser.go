package parser

import (
	"fmt"
	"sort"
)

// Triple is one decoded observation. A nil Timestamp or Value means the
// payload carried an explicit null for that field.
type Triple struct {
	SeriesID  string
	Timestamp *int64
	Value     any
}

// Valid reports whether the triple carries both a timestamp and a value.
func (t Triple) Valid() bool {
	return t.Timestamp != nil && t.Value != nil
}

// Parser converts one message body into triples.
//
// Implementations are pure and safe for concurrent use.
type Parser interface {
	Parse(payload []byte, topic string) ([]Triple, error)
}

// Func adapts an ordinary function to the Parser interface.
type Func func(payload []byte, topic string) ([]Triple, error)

// Parse calls f(payload, topic).
func (f Func) Parse(payload []byte, topic string) ([]Triple, error) {
	return f(payload, topic)
}

// Names of the built-in parsers.
const (
	NameCDF        = "cdf"
	NameTriples    = "triples"
	NameCDFMsgpack = "cdf-msgpack"
)

var registry = map[string]Parser{
	NameCDF:        Func(ParseCDF),
	NameTriples:    Func(ParseTriples),
	NameCDFMsgpack: Func(ParseCDFMsgpack),
}

// Lookup resolves a configured parser name.
func Lookup(name string) (Parser, error) {
	p, ok := registry[name]
	if !ok {
		return nil, fmt.Errorf("%w: %q (registered: %v)", ErrUnknownParser, name, Names())
	}
	return p, nil
}

// Names returns the registered parser names in sorted order.
func Names() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
