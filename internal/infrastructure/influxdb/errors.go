package influxdb

import "errors"

// Sentinel errors for InfluxDB operations.
//
// These errors can be checked using errors.Is():
//
//	if errors.Is(err, influxdb.ErrNotConnected) {
//	    // Handle disconnected state
//	}
var (
	// ErrNotConnected indicates the client has been closed.
	ErrNotConnected = errors.New("influxdb: not connected")

	// ErrConnectionFailed indicates the initial connection attempt failed.
	ErrConnectionFailed = errors.New("influxdb: connection failed")

	// ErrWriteFailed indicates a write was rejected or could not be sent.
	ErrWriteFailed = errors.New("influxdb: write failed")

	// ErrNotConfigured indicates the URL or bucket is missing.
	ErrNotConfigured = errors.New("influxdb: url and bucket are required")
)
