package logger

import (
	"context"
	"fmt"
	"log/slog"
)

// SLogLogger adapts a standard library *slog.Logger to the Logger interface,
// for hosts that already route everything through slog handlers.
type SLogLogger struct {
	base *slog.Logger
}

// NewSLogLogger wraps l; a nil l uses slog.Default().
func NewSLogLogger(l *slog.Logger) *SLogLogger {
	if l == nil {
		l = slog.Default()
	}
	return &SLogLogger{base: l}
}

func (s *SLogLogger) Debug(msg string, keyvals ...any) { s.emit(slog.LevelDebug, msg, keyvals) }

func (s *SLogLogger) Info(msg string, keyvals ...any) { s.emit(slog.LevelInfo, msg, keyvals) }

func (s *SLogLogger) Error(msg string, keyvals ...any) { s.emit(slog.LevelError, msg, keyvals) }

// emit pairs keyvals into attrs, dropping a trailing valueless key. slog
// handlers pick the value representation, so no per-type switch is needed.
func (s *SLogLogger) emit(level slog.Level, msg string, keyvals []any) {
	attrs := make([]slog.Attr, 0, len(keyvals)/2)
	for i := 0; i+1 < len(keyvals); i += 2 {
		key, ok := keyvals[i].(string)
		if !ok {
			key = fmt.Sprint(keyvals[i])
		}
		attrs = append(attrs, slog.Any(key, keyvals[i+1]))
	}
	s.base.LogAttrs(context.Background(), level, msg, attrs...)
}
