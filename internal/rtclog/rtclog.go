// Package rtclog routes pion's leveled logging into slog.
package rtclog

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/pion/logging"
)

// LevelTrace sits below slog.LevelDebug; pion is very chatty at trace.
const LevelTrace = slog.LevelDebug - 4

var _ logging.LoggerFactory = (*Factory)(nil)

// Factory creates pion loggers that write to one slog.Logger, tagged with
// the pion scope (ice, dtls, sctp, ...).
type Factory struct {
	Logger *slog.Logger
}

func NewFactory(logger *slog.Logger) *Factory {
	return &Factory{Logger: logger}
}

func (f *Factory) NewLogger(scope string) logging.LeveledLogger {
	return &leveled{logger: f.Logger.With("pion", scope)}
}

type leveled struct {
	logger *slog.Logger
}

func (l *leveled) log(level slog.Level, msg string) {
	l.logger.Log(context.Background(), level, msg)
}

func (l *leveled) logf(level slog.Level, format string, args ...interface{}) {
	if !l.logger.Enabled(context.Background(), level) {
		return
	}
	l.logger.Log(context.Background(), level, fmt.Sprintf(format, args...))
}

func (l *leveled) Trace(msg string)                          { l.log(LevelTrace, msg) }
func (l *leveled) Tracef(format string, args ...interface{}) { l.logf(LevelTrace, format, args...) }
func (l *leveled) Debug(msg string)                          { l.log(slog.LevelDebug, msg) }
func (l *leveled) Debugf(format string, args ...interface{}) { l.logf(slog.LevelDebug, format, args...) }
func (l *leveled) Info(msg string)                           { l.log(slog.LevelInfo, msg) }
func (l *leveled) Infof(format string, args ...interface{})  { l.logf(slog.LevelInfo, format, args...) }
func (l *leveled) Warn(msg string)                           { l.log(slog.LevelWarn, msg) }
func (l *leveled) Warnf(format string, args ...interface{})  { l.logf(slog.LevelWarn, format, args...) }
func (l *leveled) Error(msg string)                          { l.log(slog.LevelError, msg) }
func (l *leveled) Errorf(format string, args ...interface{}) { l.logf(slog.LevelError, format, args...) }
