package modhost

// Logger defines the interface for host logging.
// The host uses structured logging with key-value pairs so that lifecycle
// output (loads, starts, stops, import misses, failures) stays parseable.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// It is satisfied directly by *slog.Logger, and adapters for logrus, zap and
// others are a few lines each.
type Logger interface {
	// Info logs an informational message such as a module start.
	Info(msg string, args ...any)

	// Error logs an error that was contained, such as a failed module stop.
	Error(msg string, args ...any)

	// Warn logs an unusual but recoverable condition, such as an import miss.
	Warn(msg string, args ...any)

	// Debug logs detailed diagnostics, such as rollback of partial registrations.
	Debug(msg string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}

// NopLogger returns a Logger that discards everything.
func NopLogger() Logger { return nopLogger{} }
