package log

import (
	"io"
	"log/slog"
	"os"
)

// New returns the root JSON logger for a process at info level, stamped
// with the identity fields every line should carry
func New(app, environment, build string) *slog.Logger {
	return NewWithLevel(app, environment, build, slog.LevelInfo)
}

// NewWithLevel returns the root JSON logger at the given level
func NewWithLevel(
	app, environment, build string, lvl slog.Level,
) *slog.Logger {
	return newLogger(os.Stdout, app, environment, build, lvl)
}

func newLogger(
	w io.Writer, app, environment, build string, lvl slog.Level,
) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: lvl})
	return slog.New(handler).With(
		slog.String("app", app),
		slog.String("environment", environment),
		slog.String("build", build))
}
