package extractor

import "errors"

// Sentinel errors for the extractor.
var (
	// ErrInvalidSubscription indicates a subscription that cannot be dispatched.
	ErrInvalidSubscription = errors.New("extractor: invalid subscription")

	// ErrNoTable indicates the extractor was built without a dispatch table.
	ErrNoTable = errors.New("extractor: dispatch table is required")

	// ErrParse indicates a message payload was rejected by its parser.
	ErrParse = errors.New("extractor: message parse failed")
)
