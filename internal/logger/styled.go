package logger

import (
	"fmt"
	"log/slog"

	"github.com/corralhq/corral/theme"
)

// StyledLogger wraps slog.Logger with theme-aware formatting for the
// human-facing messages (startup banner, model names, endpoints).
type StyledLogger struct {
	logger *slog.Logger
	Theme  *theme.Theme
}

func NewStyledLogger(logger *slog.Logger, appTheme *theme.Theme) *StyledLogger {
	return &StyledLogger{logger: logger, Theme: appTheme}
}

func (sl *StyledLogger) Debug(msg string, args ...any) {
	sl.logger.Debug(msg, args...)
}

func (sl *StyledLogger) Info(msg string, args ...any) {
	sl.logger.Info(msg, args...)
}

func (sl *StyledLogger) Warn(msg string, args ...any) {
	sl.logger.Warn(msg, args...)
}

func (sl *StyledLogger) Error(msg string, args ...any) {
	sl.logger.Error(msg, args...)
}

// With returns a derived logger carrying extra attrs, used for
// request-scoped logging on the proxy path.
func (sl *StyledLogger) With(args ...any) *StyledLogger {
	return &StyledLogger{logger: sl.logger.With(args...), Theme: sl.Theme}
}

// InfoWithModel highlights a model identity in an info message.
func (sl *StyledLogger) InfoWithModel(msg string, model string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Model.Sprint(model))
	sl.logger.Info(styledMsg, args...)
}

// InfoWithEndpoint highlights a URL or address in an info message.
func (sl *StyledLogger) InfoWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Endpoint.Sprint(endpoint))
	sl.logger.Info(styledMsg, args...)
}

// WarnWithEndpoint highlights a URL or address in a warning.
func (sl *StyledLogger) WarnWithEndpoint(msg string, endpoint string, args ...any) {
	styledMsg := fmt.Sprintf("%s %s", msg, sl.Theme.Endpoint.Sprint(endpoint))
	sl.logger.Warn(styledMsg, args...)
}

// Underlying exposes the wrapped slog.Logger for components that want the
// plain structured interface.
func (sl *StyledLogger) Underlying() *slog.Logger {
	return sl.logger
}
