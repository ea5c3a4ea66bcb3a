// Package logging provides structured logging for the MQTT extractor.
//
// It wraps log/slog so every component logs through the same handler
// with the service and version attached.
//
// Logging is configured via the logging section of config.yaml:
//
//	logging:
//	  level: "info"      # debug, info, warn, error
//	  format: "json"     # json, text
//	  output: "stdout"   # stdout, stderr or a file path (appended)
//
// Never log store credentials or broker passwords.
package logging
