package apphost

import "log/slog"

// Logger defines the interface for host logging.
// The engine uses structured logging with key-value pairs so implementing
// applications can control how orchestrator logs appear.
//
// The Logger interface uses variadic arguments in key-value pairs:
//
//	logger.Info("message", "key1", "value1", "key2", "value2")
//
// This approach is compatible with popular structured logging libraries
// like slog, logrus, zap, and others.
type Logger interface {
	// Info logs an informational message with optional key-value pairs.
	// Used for normal reconciliation events like app initialization and termination.
	Info(msg string, args ...any)

	// Error logs an error message with optional key-value pairs.
	Error(msg string, args ...any)

	// Warn logs a warning message with optional key-value pairs.
	// Used for dropped app definitions, dangling dependencies, and other
	// conditions that degrade a cycle without aborting it.
	Warn(msg string, args ...any)

	// Debug logs a debug message with optional key-value pairs.
	Debug(msg string, args ...any)
}

// SlogLogger adapts a *slog.Logger to the Logger interface.
type SlogLogger struct {
	logger *slog.Logger
}

// NewSlogLogger wraps the given slog logger. A nil logger uses slog.Default.
func NewSlogLogger(logger *slog.Logger) *SlogLogger {
	if logger == nil {
		logger = slog.Default()
	}
	return &SlogLogger{logger: logger}
}

func (l *SlogLogger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *SlogLogger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }
func (l *SlogLogger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *SlogLogger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }

// ErrorSink receives full diagnostic detail for per-app failures.
// The reconciliation engine never lets one app's hook failure abort a cycle;
// instead the failure is recorded here, scoped to the offending app, and the
// cycle proceeds.
type ErrorSink interface {
	// Record captures a failure attributed to the named app. The app name is
	// empty for failures in shared phases (config read, graph build).
	Record(app string, msg string, err error)
}

// LoggerErrorSink is the default ErrorSink: it forwards app-scoped failures
// to the host logger at error level.
type LoggerErrorSink struct {
	logger Logger
}

// NewLoggerErrorSink creates an ErrorSink backed by the given logger.
func NewLoggerErrorSink(logger Logger) *LoggerErrorSink {
	return &LoggerErrorSink{logger: logger}
}

func (s *LoggerErrorSink) Record(app string, msg string, err error) {
	if app == "" {
		s.logger.Error(msg, "error", err)
		return
	}
	s.logger.Error(msg, "app", app, "error", err)
}
