package cdf

import (
	"errors"
	"fmt"
)

// Sentinel errors for CDF operations.
var (
	// ErrConnectionFailed indicates the initial project check failed.
	ErrConnectionFailed = errors.New("cdf: connection failed")

	// ErrRequestFailed indicates an API call returned an error.
	ErrRequestFailed = errors.New("cdf: request failed")

	// ErrNotConfigured indicates required settings are missing.
	ErrNotConfigured = errors.New("cdf: project and credentials are required")
)

// APIError is a non-2xx response from the API.
type APIError struct {
	StatusCode int
	Message    string
	RequestID  string

	// Duplicated lists the external ids a 409 response reported as existing.
	Duplicated []string
}

func (e *APIError) Error() string {
	if e.RequestID != "" {
		return fmt.Sprintf("cdf: HTTP %d: %s (request %s)", e.StatusCode, e.Message, e.RequestID)
	}
	return fmt.Sprintf("cdf: HTTP %d: %s", e.StatusCode, e.Message)
}

func (e *APIError) Unwrap() error {
	return ErrRequestFailed
}
