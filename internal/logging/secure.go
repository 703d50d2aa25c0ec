// Package logging provides secure logging utilities with credential sanitization.
package logging

import (
	"io"
	"time"

	"github.com/olegiv/go-logger"
	internalerrors "github.com/olegiv/gerrit-repo-stats/internal/errors"
	"github.com/rs/zerolog"
)

// eventSource is the part of a zerolog-backed logger SecureLogger needs.
// Both *logger.Logger and *zerolog.Logger satisfy it.
type eventSource interface {
	Debug() *zerolog.Event
	Info() *zerolog.Event
	Warn() *zerolog.Event
	Error() *zerolog.Event
}

// SecureLogger wraps a logger and sanitizes all string values
// to prevent Gerrit credentials or bot tokens from reaching the log files.
type SecureLogger struct {
	log    eventSource
	closer io.Closer
}

// NewSecure creates a new SecureLogger wrapper around the provided logger.
func NewSecure(log *logger.Logger) *SecureLogger {
	return &SecureLogger{log: log, closer: log}
}

// NewSecureFromZerolog wraps a plain zerolog logger, e.g. one writing to a buffer
// in tests or to stderr for the scan command.
func NewSecureFromZerolog(zl zerolog.Logger) *SecureLogger {
	return &SecureLogger{log: &zl}
}

// NewNop returns a SecureLogger that discards everything.
func NewNop() *SecureLogger {
	return NewSecureFromZerolog(zerolog.Nop())
}

// SecureEvent wraps a zerolog Event to provide secure string methods.
type SecureEvent struct {
	event *zerolog.Event
}

// Info starts a new info-level log event with credential sanitization.
func (s *SecureLogger) Info() *SecureEvent {
	return &SecureEvent{event: s.log.Info()}
}

// Debug starts a new debug-level log event with credential sanitization.
func (s *SecureLogger) Debug() *SecureEvent {
	return &SecureEvent{event: s.log.Debug()}
}

// Warn starts a new warn-level log event with credential sanitization.
func (s *SecureLogger) Warn() *SecureEvent {
	return &SecureEvent{event: s.log.Warn()}
}

// Error starts a new error-level log event with credential sanitization.
func (s *SecureLogger) Error() *SecureEvent {
	return &SecureEvent{event: s.log.Error()}
}

// Close closes the underlying logger, if it has anything to close.
func (s *SecureLogger) Close() error {
	if s.closer == nil {
		return nil
	}
	return s.closer.Close()
}

// Str adds a sanitized string field to the log event.
// Credentials are automatically redacted.
func (e *SecureEvent) Str(key, val string) *SecureEvent {
	e.event.Str(key, internalerrors.SanitizeString(val))
	return e
}

// Strs adds a sanitized string slice field.
func (e *SecureEvent) Strs(key string, vals []string) *SecureEvent {
	sanitized := make([]string, len(vals))
	for i, v := range vals {
		sanitized[i] = internalerrors.SanitizeString(v)
	}
	e.event.Strs(key, sanitized)
	return e
}

// Int adds an integer field to the log event.
func (e *SecureEvent) Int(key string, val int) *SecureEvent {
	e.event.Int(key, val)
	return e
}

// Int64 adds an int64 field to the log event.
func (e *SecureEvent) Int64(key string, val int64) *SecureEvent {
	e.event.Int64(key, val)
	return e
}

// Float64 adds a float64 field to the log event.
func (e *SecureEvent) Float64(key string, val float64) *SecureEvent {
	e.event.Float64(key, val)
	return e
}

// Bool adds a boolean field to the log event.
func (e *SecureEvent) Bool(key string, val bool) *SecureEvent {
	e.event.Bool(key, val)
	return e
}

// Time adds a timestamp field to the log event.
func (e *SecureEvent) Time(key string, val time.Time) *SecureEvent {
	e.event.Time(key, val)
	return e
}

// Dur adds a duration field to the log event.
func (e *SecureEvent) Dur(key string, val time.Duration) *SecureEvent {
	e.event.Dur(key, val)
	return e
}

// Err adds a sanitized error field to the log event.
// Credentials in error messages are automatically redacted.
func (e *SecureEvent) Err(err error) *SecureEvent {
	if err != nil {
		e.event.Err(internalerrors.SanitizeError(err))
	}
	return e
}

// Msg sends the log event with a sanitized message.
func (e *SecureEvent) Msg(msg string) {
	e.event.Msg(internalerrors.SanitizeString(msg))
}

// Msgf sends a formatted log event with sanitized format arguments.
// Note: Only string and error arguments are sanitized; other types pass through unchanged.
func (e *SecureEvent) Msgf(format string, v ...interface{}) {
	sanitizedArgs := make([]interface{}, len(v))
	for i, arg := range v {
		if s, ok := arg.(string); ok {
			sanitizedArgs[i] = internalerrors.SanitizeString(s)
		} else if err, ok := arg.(error); ok {
			sanitizedArgs[i] = internalerrors.SanitizeError(err)
		} else {
			sanitizedArgs[i] = arg
		}
	}
	e.event.Msgf(format, sanitizedArgs...)
}
