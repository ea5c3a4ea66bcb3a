package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/mqtt-extractor/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "mqtt-extractor"

// logFileMode applies when logging.output names a file that does not exist.
const logFileMode = 0o640

// Logger is the extractor's slog.Logger. Components receive children made
// with With so each entry names its component.
type Logger struct {
	*slog.Logger

	// file is set when the logger owns its destination.
	file *os.File
}

// New builds the logger described by the logging config section. Output is
// "stdout" (the default), "stderr" or a file path, which is opened for
// appending. Close releases the file.
func New(cfg config.LoggingConfig, version string) (*Logger, error) {
	switch out := strings.TrimSpace(cfg.Output); strings.ToLower(out) {
	case "", "stdout":
		return NewWithWriter(cfg, version, os.Stdout), nil
	case "stderr":
		return NewWithWriter(cfg, version, os.Stderr), nil
	default:
		f, err := os.OpenFile(out, os.O_CREATE|os.O_WRONLY|os.O_APPEND, logFileMode)
		if err != nil {
			return nil, fmt.Errorf("opening log file: %w", err)
		}
		l := NewWithWriter(cfg, version, f)
		l.file = f
		return l, nil
	}
}

// NewWithWriter builds a logger writing to w, ignoring cfg.Output.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "text") {
		handler = slog.NewTextHandler(w, opts)
	} else {
		handler = slog.NewJSONHandler(w, opts)
	}

	return &Logger{Logger: slog.New(handler.WithAttrs([]slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	}))}
}

func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// With returns a child logger; the child shares the parent's destination
// and must not be closed.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Close closes the log file opened by New. It is a no-op for stdout,
// stderr and children.
func (l *Logger) Close() error {
	if l == nil || l.file == nil {
		return nil
	}
	return l.file.Close()
}

// Default logs JSON at info to stdout until the config has been read.
func Default() *Logger {
	return NewWithWriter(config.LoggingConfig{Level: "info", Format: "json"}, "dev", os.Stdout)
}

// Discard returns a logger that drops everything. Intended for tests.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
