package logger

import (
	"log/slog"
	"os"
)

// Fatal logs through the default slog logger and exits. Reserved for
// unrecoverable failures during daemon startup, before the socket serves.
func Fatal(msg string, args ...any) {
	slog.Error(msg, args...)
	os.Exit(1)
}

// FatalWithLogger logs through the given logger and exits. main uses this
// once the styled logger is up so the failure lands in the log file too.
func FatalWithLogger(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
