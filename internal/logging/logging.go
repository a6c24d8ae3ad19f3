package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

// Setup installs a text handler on stderr as the default logger.
func Setup(logLevel string) *slog.Logger {
	return SetupWriter(os.Stderr, logLevel)
}

// SetupWriter is Setup with an explicit destination.
func SetupWriter(w io.Writer, logLevel string) *slog.Logger {
	logger := slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(logLevel),
	}))
	slog.SetDefault(logger)
	return logger
}

// ParseLevel maps debug, info, warn and error; anything else is info.
func ParseLevel(logLevel string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(logLevel)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func WithModule(module string) *slog.Logger {
	return slog.With("module", module)
}
