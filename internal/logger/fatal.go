package logger

import (
	"log/slog"
	"os"
)

// FatalWithLogger logs at error level through the given logger and exits.
// Only for startup failures, before the server owns the process lifecycle.
func FatalWithLogger(logger *slog.Logger, msg string, args ...any) {
	logger.Error(msg, args...)
	os.Exit(1)
}
