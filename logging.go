package sessioncore

import (
	"io"
	"log/slog"
	"os"
)

// Logger is the minimal logging interface consumed by the engine. It allows
// callers to plug any structured logger; the default adapter wraps slog.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// SlogAdapter wraps *slog.Logger to implement the Logger interface.
type SlogAdapter struct {
	*slog.Logger
}

// NewSlogAdapter creates a Logger from *slog.Logger.
func NewSlogAdapter(logger *slog.Logger) Logger {
	return &SlogAdapter{Logger: logger}
}

// NewJSONLogger creates the default engine logger: a JSON slog handler at
// Info level writing to w (os.Stderr when w is nil).
func NewJSONLogger(w io.Writer) Logger {
	if w == nil {
		w = os.Stderr
	}
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{Level: slog.LevelInfo})
	return NewSlogAdapter(slog.New(handler))
}

// NewNopLogger returns a Logger that discards everything. Tools and tests
// that do not want engine log output use it instead of a discarding JSON
// handler, which still pays for encoding.
func NewNopLogger() Logger {
	return noopLogger{}
}

type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}
