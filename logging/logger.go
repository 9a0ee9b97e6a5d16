// Package logging provides the structured logger injected into every relay
// component.
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Logger is a structured logger for relayberry.
// It wraps slog.Logger with convenience methods for common logging patterns.
type Logger struct {
	*slog.Logger
}

// New creates a new Logger with the given handler.
func New(handler slog.Handler) *Logger {
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a new Logger with text output format.
func NewTextLogger(w io.Writer, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}
	return New(slog.NewTextHandler(w, opts))
}

// NewJSONLogger creates a new Logger with JSON output format.
func NewJSONLogger(w io.Writer, level slog.Level) *Logger {
	opts := &slog.HandlerOptions{
		Level:     level,
		AddSource: false,
	}
	return New(slog.NewJSONHandler(w, opts))
}

// NewDevelopmentLogger creates a logger suitable for development.
// Uses text format with debug level output to stderr.
func NewDevelopmentLogger() *Logger {
	return NewTextLogger(os.Stderr, slog.LevelDebug)
}

// NewNopLogger creates a logger that discards all output.
func NewNopLogger() *Logger {
	return New(nopHandler{})
}

// ParseLevel maps a config level name to a slog level. Unknown names map
// to info.
func ParseLevel(name string) slog.Level {
	switch strings.ToLower(name) {
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

// Open builds a logger from config values. Output is "stdout", "stderr"
// or a file path opened for append.
func Open(level, format, output string) (*Logger, io.Closer, error) {
	var (
		w      io.Writer = os.Stderr
		closer io.Closer = nopCloser{}
	)
	switch strings.ToLower(output) {
	case "stdout":
		w = os.Stdout
	case "stderr", "":
	default:
		f, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("opening log output: %w", err)
		}
		w, closer = f, f
	}

	if strings.ToLower(format) == "json" {
		return NewJSONLogger(w, ParseLevel(level)), closer, nil
	}
	return NewTextLogger(w, ParseLevel(level)), closer, nil
}

// With returns a new Logger with the given attributes added to every log entry.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{
		Logger: l.Logger.With(args...),
	}
}

// WithComponent returns a new Logger with a component attribute.
func (l *Logger) WithComponent(name string) *Logger {
	return l.With(Component(name))
}

// WithRequest returns a new Logger with a request id attribute.
func (l *Logger) WithRequest(requestID string) *Logger {
	return l.With(RequestID(requestID))
}

// Common attribute constructors for relay-specific fields.

// Component creates a component attribute for identifying the source module.
func Component(name string) slog.Attr {
	return slog.String("component", name)
}

// RequestID creates a request id attribute.
func RequestID(id string) slog.Attr {
	return slog.String("request_id", id)
}

// SessionID creates a handshake session id attribute.
func SessionID(id string) slog.Attr {
	return slog.String("session_id", id)
}

// NetworkID creates a network id attribute.
func NetworkID(id string) slog.Attr {
	return slog.String("network_id", id)
}

// Relay creates a relay name attribute.
func Relay(name string) slog.Attr {
	return slog.String("relay", name)
}

// Driver creates a driver name attribute.
func Driver(name string) slog.Attr {
	return slog.String("driver", name)
}

// Target creates a dial target attribute.
func Target(addr string) slog.Attr {
	return slog.String("target", addr)
}

// Table creates a store table attribute.
func Table(name string) slog.Attr {
	return slog.String("table", name)
}

// Status creates a status attribute.
func Status(s fmt.Stringer) slog.Attr {
	return slog.String("status", s.String())
}

// Method creates an RPC method attribute.
func Method(m string) slog.Attr {
	return slog.String("method", m)
}

// Attempt creates a retry attempt attribute.
func Attempt(n int) slog.Attr {
	return slog.Int("attempt", n)
}

// Duration creates a duration attribute in milliseconds.
func Duration(d time.Duration) slog.Attr {
	return slog.Float64("duration_ms", float64(d.Nanoseconds())/1e6)
}

// Error creates an error attribute.
func Error(err error) slog.Attr {
	if err == nil {
		return slog.Attr{}
	}
	return slog.String("error", err.Error())
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// nopHandler is a slog.Handler that discards all logs.
type nopHandler struct{}

func (nopHandler) Enabled(context.Context, slog.Level) bool  { return false }
func (nopHandler) Handle(context.Context, slog.Record) error { return nil }
func (h nopHandler) WithAttrs([]slog.Attr) slog.Handler      { return h }
func (h nopHandler) WithGroup(string) slog.Handler           { return h }
