package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/nerrad567/gray-logic-shims/internal/infrastructure/config"
)

// ServiceName is attached to every log entry.
const ServiceName = "gray-logic-shims"

// Logger is a slog.Logger carrying the service fields, plus the handler
// recipe needed to give individual components their own level.
//
// Thread Safety:
//   - All methods are safe for concurrent use from multiple goroutines.
type Logger struct {
	*slog.Logger

	handler   func(slog.Level) slog.Handler
	overrides map[string]slog.Level
}

// New creates a Logger writing to stdout or stderr as cfg.Output says.
//
// Parameters:
//   - cfg: Logging configuration (level, format, output, component levels)
//   - version: Application version for the default field
//
// Returns:
//   - *Logger: Configured logger ready for use
func New(cfg config.LoggingConfig, version string) *Logger {
	var output io.Writer = os.Stdout
	if strings.EqualFold(cfg.Output, "stderr") {
		output = os.Stderr
	}
	return NewWithWriter(cfg, version, output)
}

// NewWithWriter creates a Logger writing to w. Output in cfg is ignored.
func NewWithWriter(cfg config.LoggingConfig, version string, w io.Writer) *Logger {
	text := strings.EqualFold(cfg.Format, "text")
	attrs := []slog.Attr{
		slog.String("service", ServiceName),
		slog.String("version", version),
	}
	build := func(level slog.Level) slog.Handler {
		opts := &slog.HandlerOptions{Level: level}
		if text {
			return slog.NewTextHandler(w, opts).WithAttrs(attrs)
		}
		return slog.NewJSONHandler(w, opts).WithAttrs(attrs)
	}

	overrides := make(map[string]slog.Level, len(cfg.Components))
	for name, level := range cfg.Components {
		overrides[name] = parseLevel(level)
	}

	return &Logger{
		Logger:    slog.New(build(parseLevel(cfg.Level))),
		handler:   build,
		overrides: overrides,
	}
}

// parseLevel converts a string log level to slog.Level, defaulting to info.
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

// With returns a Logger with additional default attributes. Component
// overrides carry over.
func (l *Logger) With(args ...any) *Logger {
	return &Logger{Logger: l.Logger.With(args...), handler: l.handler, overrides: l.overrides}
}

// Component returns a Logger tagged component=name. When the logging
// config sets a level for name, that level replaces the global one.
//
//	log.Component("connector").Debug("queued", "topic", topic)
func (l *Logger) Component(name string) *Logger {
	level, ok := l.overrides[name]
	if !ok || l.handler == nil {
		return l.With("component", name)
	}
	return &Logger{
		Logger:    slog.New(l.handler(level)).With("component", name),
		handler:   l.handler,
		overrides: l.overrides,
	}
}

// Default creates a logger for use before configuration is loaded.
func Default() *Logger {
	return New(config.LoggingConfig{Level: "info", Format: "json", Output: "stdout"}, "dev")
}

// Discard returns a logger that drops everything.
func Discard() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, nil))}
}
