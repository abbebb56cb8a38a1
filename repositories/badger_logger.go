package repositories

import (
	"fmt"
	"log/slog"
	"strings"
)

// badgerLogger redirects Badger's printf style logging to the application's slog.Logger
// so storage warnings land in the same structured stream as everything else.
type badgerLogger struct {
	logger *slog.Logger
}

func NewBadgerLogger(logger *slog.Logger) *badgerLogger {
	return &badgerLogger{logger: logger}
}

func (l *badgerLogger) Errorf(format string, args ...any) {
	l.logger.Error(clean(format, args), "component", "badger")
}

func (l *badgerLogger) Warningf(format string, args ...any) {
	l.logger.Warn(clean(format, args), "component", "badger")
}

func (l *badgerLogger) Infof(format string, args ...any) {
	l.logger.Info(clean(format, args), "component", "badger")
}

func (l *badgerLogger) Debugf(format string, args ...any) {
	l.logger.Debug(clean(format, args), "component", "badger")
}

// clean drops the trailing newline Badger appends to most messages
func clean(format string, args []any) string {
	return strings.TrimRight(fmt.Sprintf(format, args...), "\n")
}
