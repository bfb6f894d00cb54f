package types

// Logger is the structured logging contract shared by the manager and the
// worker runtime.
//
// Methods take a message plus alternating key/value pairs, the sugared form
// used by log/slog and zap; ensemble.NewSlogLogger adapts a *slog.Logger.
// Implementations must be safe for use from hook goroutines.
type Logger interface {
	// Debug logs fine-grained run progress: dispatches, folds, checkpoints.
	Debug(msg string, keysAndValues ...any)

	// Info logs run lifecycle events: start, exit criteria, drain complete.
	Info(msg string, keysAndValues ...any)

	// Warn logs recoverable trouble: lost workers, dropped stale messages,
	// failed checkpoint writes.
	Warn(msg string, keysAndValues ...any)

	// Error logs failures that end the run or corrupt a component.
	Error(msg string, keysAndValues ...any)

	// Fatal logs the message and then terminates the process with
	// os.Exit(1), even if the implementation filters the level out.
	Fatal(msg string, keysAndValues ...any)
}
