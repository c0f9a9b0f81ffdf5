package log

import (
	"log/slog"

	"github.com/robfig/cron/v3"
)

// CronLogger adapts a slog logger to the cron.Logger interface.
// cron reports every schedule tick at info level, so those are demoted to debug.
type CronLogger struct {
	logger *slog.Logger
}

func NewCronLogger(logger *slog.Logger) *CronLogger {
	return &CronLogger{logger: logger}
}

func (l *CronLogger) Info(msg string, keysAndValues ...any) {
	l.logger.Debug(msg, keysAndValues...)
}

func (l *CronLogger) Error(err error, msg string, keysAndValues ...any) {
	l.logger.Error(msg, append(keysAndValues, "error", err)...)
}

var _ cron.Logger = (*CronLogger)(nil)
