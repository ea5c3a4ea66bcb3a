package parser

import "errors"

// Sentinel errors for payload parsing.
var (
	// ErrDecode indicates the payload is not valid in the parser's wire format.
	ErrDecode = errors.New("parser: payload decode failed")

	// ErrStructure indicates a required field is absent or has the wrong shape.
	ErrStructure = errors.New("parser: invalid payload structure")

	// ErrUnknownParser indicates a configuration reference names no registered parser.
	ErrUnknownParser = errors.New("parser: unknown parser")
)
