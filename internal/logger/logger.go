package logger

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func Init() {
	slog.SetDefault(New(os.Stderr, os.Getenv("LOG_LEVEL")))
}

// New builds the JSON logger used by the process. Unknown levels fall back
// to info.
func New(w io.Writer, level string) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: ParseLevel(level),
	}))
}

func ParseLevel(s string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
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
