package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-identity/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "identityd"

// Logger is a *slog.Logger carrying identityd's default attributes. Safe for
// concurrent use.
type Logger struct {
	*slog.Logger
}

// New creates a Logger writing to the destination named in cfg.Output
// (stdout unless "stderr").
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}
	return NewWithWriter(output, cfg, version)
}

// NewWithWriter creates a Logger that writes to w. JSON is the default
// format; "text" selects the human-readable handler.
func NewWithWriter(w io.Writer, cfg config.LoggingConfig, version string) *Logger {
	opts := &slog.HandlerOptions{Level: parseLevel(cfg.Level)}

	var h slog.Handler = slog.NewJSONHandler(w, opts)
	if strings.EqualFold(cfg.Format, "text") {
		h = slog.NewTextHandler(w, opts)
	}
	return &Logger{Logger: slog.New(h).With("service", ServiceName, "version", version)}
}

// parseLevel maps a config level name onto slog; unknown names mean info.
func parseLevel(level string) slog.Level {
	switch strings.ToLower(level) {
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

// With is slog's With, keeping the *Logger type.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...)}
}

// Component returns a child logger tagged with component=name, or the
// plain *slog.Logger the auth core accepts.
func (l *Logger) Component(name string) *slog.Logger {
	return l.Logger.With("component", name)
}

// Default is the logger used before configuration has been read.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}
