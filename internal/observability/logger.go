package observability

import (
	"context"
	"io"
	"log/slog"
	"os"
	"strings"

	id "subsidypay/internal/utils/id"
)

// Logger is the process-wide structured logger.
type Logger struct {
	logger *slog.Logger
}

// LogConfig selects level ("debug", "info", "warn", "error") and format
// ("text" or "json"). Output defaults to stdout.
type LogConfig struct {
	Level  string
	Format string
	Output io.Writer
}

func NewLogger(config LogConfig) *Logger {
	out := config.Output
	if out == nil {
		out = os.Stdout
	}
	return &Logger{logger: slog.New(newHandler(out, config))}
}

func newHandler(out io.Writer, config LogConfig) slog.Handler {
	opts := &slog.HandlerOptions{Level: levelOf(config.Level)}
	if strings.EqualFold(strings.TrimSpace(config.Format), "json") {
		return slog.NewJSONHandler(out, opts)
	}
	return slog.NewTextHandler(out, opts)
}

func levelOf(raw string) slog.Level {
	var level slog.Level
	switch v := strings.ToLower(strings.TrimSpace(raw)); v {
	case "warning":
		return slog.LevelWarn
	case "debug", "info", "warn", "error":
		_ = level.UnmarshalText([]byte(v))
		return level
	}
	return slog.LevelInfo
}

// WithContext tags entries with the request id and subject carried by ctx.
func (l *Logger) WithContext(ctx context.Context) *Logger {
	if ctx == nil {
		return l
	}
	var attrs []any
	if requestID := id.RequestIDFromContext(ctx); requestID != "" {
		attrs = append(attrs, "request_id", requestID)
	}
	if subject := id.SubjectFromContext(ctx); subject != "" {
		attrs = append(attrs, "subject", subject)
	}
	if attrs == nil {
		return l
	}
	return l.With(attrs...)
}

func (l *Logger) With(args ...any) *Logger {
	return &Logger{logger: l.logger.With(args...)}
}

func (l *Logger) Debug(msg string, args ...any) { l.logger.Debug(msg, args...) }
func (l *Logger) Info(msg string, args ...any)  { l.logger.Info(msg, args...) }
func (l *Logger) Warn(msg string, args ...any)  { l.logger.Warn(msg, args...) }
func (l *Logger) Error(msg string, args ...any) { l.logger.Error(msg, args...) }

// SanitizeAPIKey keeps the first eight and last four characters of key.
func SanitizeAPIKey(key string) string {
	if len(key) <= 12 {
		return "***"
	}
	return key[:8] + "..." + key[len(key)-4:]
}
