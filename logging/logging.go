// Package logging provides the logrus-backed logger used across netcomms.
//
// The connection core only sees the narrow Logger collaborator interface
// (IsEnabled, Error, Info). This package supplies the implementation and the
// process-wide default instance that the netcomms boundary and the CLI wire in.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/sirupsen/logrus"
)

// Logger provides standardized structured logging with a fixed set of fields.
type Logger struct {
	base   *logrus.Logger
	fields logrus.Fields
}

var (
	defaultOnce   sync.Once
	defaultLogger *Logger
)

// New creates a logger tagged with the given component name.
// It writes through the logrus standard logger.
func New(component string) *Logger {
	return NewWithBase(logrus.StandardLogger(), component)
}

// NewWithBase creates a component logger on top of an explicit logrus logger.
func NewWithBase(base *logrus.Logger, component string) *Logger {
	if base == nil {
		base = logrus.StandardLogger()
	}
	return &Logger{
		base: base,
		fields: logrus.Fields{
			"component": component,
		},
	}
}

// Default returns the process-wide logger. It is created on first use.
func Default() *Logger {
	defaultOnce.Do(func() {
		defaultLogger = New("netcomms")
	})
	return defaultLogger
}

// WithField returns a copy of the logger with an additional field.
func (l *Logger) WithField(key string, value interface{}) *Logger {
	return l.WithFields(logrus.Fields{key: value})
}

// WithFields returns a copy of the logger with additional fields.
func (l *Logger) WithFields(fields logrus.Fields) *Logger {
	merged := make(logrus.Fields, len(l.fields)+len(fields))
	for k, v := range l.fields {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	return &Logger{base: l.base, fields: merged}
}

// WithError returns a copy of the logger carrying error details.
func (l *Logger) WithError(err error, operation string) *Logger {
	fields := logrus.Fields{"operation": operation}
	if err != nil {
		fields["error"] = err.Error()
	}
	return l.WithFields(fields)
}

// IsEnabled reports whether the logger emits anything at all. Level filtering
// below that is left to logrus. Only the level is consulted since the output
// may be swapped by ConfigureBase at any time.
func (l *Logger) IsEnabled() bool {
	if l == nil || l.base == nil {
		return false
	}
	return l.base.IsLevelEnabled(logrus.ErrorLevel)
}

// Debug logs a debug message
func (l *Logger) Debug(message string) {
	l.base.WithFields(l.fields).Debug(message)
}

// Info logs an info message
func (l *Logger) Info(message string) {
	l.base.WithFields(l.fields).Info(message)
}

// Warn logs a warning message
func (l *Logger) Warn(message string) {
	l.base.WithFields(l.fields).Warn(message)
}

// Error logs an error message
func (l *Logger) Error(message string) {
	l.base.WithFields(l.fields).Error(message)
}

// Fields returns a copy of the logger's structured fields.
func (l *Logger) Fields() logrus.Fields {
	out := make(logrus.Fields, len(l.fields))
	for k, v := range l.fields {
		out[k] = v
	}
	return out
}

// Configure sets the level and output of the logrus standard logger.
// An empty file keeps stderr. The returned closer releases the log file, if any.
func Configure(level, file string) (io.Closer, error) {
	return ConfigureBase(logrus.StandardLogger(), level, file)
}

// ConfigureBase applies level and output settings to the given logrus logger.
func ConfigureBase(base *logrus.Logger, level, file string) (io.Closer, error) {
	if level != "" {
		lvl, err := logrus.ParseLevel(strings.ToLower(level))
		if err != nil {
			return nil, fmt.Errorf("invalid log level %q: %w", level, err)
		}
		base.SetLevel(lvl)
	}

	base.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	if file == "" {
		base.SetOutput(os.Stderr)
		return io.NopCloser(nil), nil
	}

	f, err := os.OpenFile(file, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file %s: %w", file, err)
	}
	base.SetOutput(f)
	return f, nil
}

// OperationFields creates standardized operation logging fields
func OperationFields(operation, status string, additional ...logrus.Fields) logrus.Fields {
	fields := logrus.Fields{
		"operation": operation,
		"status":    status,
	}

	for _, extra := range additional {
		for k, v := range extra {
			fields[k] = v
		}
	}

	return fields
}
