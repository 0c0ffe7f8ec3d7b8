// Package logger defines the leveled, key-value logger used across the module.
//
// Any structured logger can be plugged in by implementing [Logger].
// Adapters for log/slog and rs/zerolog are provided.
package logger

import (
	"log/slog"
	"os"

	"github.com/rs/zerolog"

	logslog "github.com/cozy/realtime.go/pkg/logger/slog"
)

// Logger is the logging contract of the realtime client.
// args are alternating keys and values, as with log/slog.
type Logger interface {
	Error(msg string, args ...any)
	Warn(msg string, args ...any)
	Info(msg string, args ...any)
	Debug(msg string, args ...any)
}

// New returns a Logger writing through the given slog handler.
func New(h slog.Handler) Logger {
	return logslog.New(h)
}

// Default returns a text logger on stderr at info level.
func Default() Logger {
	return New(slog.NewTextHandler(os.Stderr, nil))
}

// Discard returns a Logger that drops everything.
func Discard() Logger {
	return nopLogger{}
}

// NewZerolog adapts a zerolog.Logger.
// Odd trailing args are logged under the "!BADKEY" field, like slog does.
func NewZerolog(zl zerolog.Logger) Logger {
	return &zerologLogger{logger: zl}
}

type zerologLogger struct {
	logger zerolog.Logger
}

func (l *zerologLogger) Error(msg string, args ...any) { l.write(l.logger.Error(), msg, args) }
func (l *zerologLogger) Warn(msg string, args ...any)  { l.write(l.logger.Warn(), msg, args) }
func (l *zerologLogger) Info(msg string, args ...any)  { l.write(l.logger.Info(), msg, args) }
func (l *zerologLogger) Debug(msg string, args ...any) { l.write(l.logger.Debug(), msg, args) }

func (l *zerologLogger) write(ev *zerolog.Event, msg string, args []any) {
	if ev == nil {
		return
	}
	for i := 0; i < len(args); i += 2 {
		key, ok := args[i].(string)
		if !ok || i+1 == len(args) {
			ev = ev.Interface("!BADKEY", args[i])
			i--
			continue
		}
		if err, isErr := args[i+1].(error); isErr {
			ev = ev.AnErr(key, err)
			continue
		}
		ev = ev.Interface(key, args[i+1])
	}
	ev.Msg(msg)
}

type nopLogger struct{}

func (nopLogger) Error(string, ...any) {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Debug(string, ...any) {}
