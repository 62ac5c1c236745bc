package connection

import "fmt"

// Logger is the logging collaborator. Messages are only produced when
// IsEnabled reports true.
type Logger interface {
	IsEnabled() bool
	Error(message string)
	Info(message string)
}

type nopLogger struct{}

func (nopLogger) IsEnabled() bool { return false }
func (nopLogger) Error(string)    {}
func (nopLogger) Info(string)     {}

func loggerOrNop(l Logger) Logger {
	if l == nil {
		return nopLogger{}
	}
	return l
}

func logError(l Logger, format string, args ...interface{}) {
	if l.IsEnabled() {
		l.Error(fmt.Sprintf(format, args...))
	}
}

func logInfo(l Logger, format string, args ...interface{}) {
	if l.IsEnabled() {
		l.Info(fmt.Sprintf(format, args...))
	}
}
