package logging

import (
	"io"
	"log/slog"
	"os"
	"strings"
)

func NewJSONLogger(service, level string) *slog.Logger {
	return NewJSONLoggerTo(os.Stdout, service, level)
}

// NewJSONLoggerTo writes to w; the stdio MCP server logs to stderr because
// stdout carries the protocol. Durations are emitted in milliseconds.
func NewJSONLoggerTo(w io.Writer, service, level string) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level:       ParseLevel(level),
		ReplaceAttr: replaceAttr,
	})
	return slog.New(handler).With("service", service)
}

// ParseLevel accepts slog level names, including offsets such as "debug+2".
// Unknown values fall back to info.
func ParseLevel(level string) slog.Level {
	raw := strings.TrimSpace(level)
	if strings.EqualFold(raw, "warning") {
		raw = "warn"
	}
	var parsed slog.Level
	if err := parsed.UnmarshalText([]byte(raw)); err != nil {
		return slog.LevelInfo
	}
	return parsed
}

func replaceAttr(_ []string, attr slog.Attr) slog.Attr {
	if attr.Value.Kind() == slog.KindDuration {
		return slog.Float64(attr.Key, float64(attr.Value.Duration().Microseconds())/1000.0)
	}
	return attr
}
