package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func Init() {
	slog.SetDefault(New(os.Stderr, os.Getenv("LOG_LEVEL"), os.Getenv("LOG_FORMAT")))
}

// New builds a logger for level and format. Unknown values fall back to
// errors only, as text.
func New(w io.Writer, level, format string) *slog.Logger {
	lvl := slog.LevelError // default: production only shows errors

	switch strings.ToLower(level) {
	case "dev", "development", "debug":
		lvl = slog.LevelDebug
	case "info":
		lvl = slog.LevelInfo
	case "warn", "warning":
		lvl = slog.LevelWarn
	case "error", "production", "prod":
		lvl = slog.LevelError
	}

	opts := &slog.HandlerOptions{Level: lvl}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}
