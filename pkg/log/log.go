// Package log configures the process-wide slog logger and bridges third-party loggers into it.
package log

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
)

// ParseLevel accepts debug, info, warn and error in any case, with an optional offset such as
// "debug-2". An empty level is info.
func ParseLevel(logLevel string) (slog.Level, error) {
	var level slog.Level

	if strings.TrimSpace(logLevel) == "" {
		return slog.LevelInfo, nil
	}

	err := level.UnmarshalText([]byte(strings.TrimSpace(logLevel)))
	if err != nil {
		return slog.LevelInfo, fmt.Errorf("invalid log level %q: %w", logLevel, err)
	}

	return level, nil
}

// New returns a text logger. The ingest subprocess logs in this format on stderr and the parent
// relays each line, so both sides must agree on it.
func New(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: level}))
}

// Setup installs the default logger on stderr and returns it tagged with module=stockpipe.
func Setup(logLevel string) (*slog.Logger, error) {
	level, err := ParseLevel(logLevel)
	if err != nil {
		return nil, err
	}

	slog.SetDefault(New(os.Stderr, level))

	return WithModule("stockpipe"), nil
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
