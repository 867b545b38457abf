// Package logging wraps log/slog with trace/span enrichment pulled from
// context, matching the shape the rest of the relay's ambient stack expects.
package logging

import (
	"context"
	"io"
	"log/slog"
	"os"

	"sailrelay/internal/telemetry/tracing"
)

// Logger is the structured logging contract used throughout the relay.
type Logger interface {
	Debug(ctx context.Context, msg string, args ...any)
	Info(ctx context.Context, msg string, args ...any)
	Warn(ctx context.Context, msg string, args ...any)
	Error(ctx context.Context, msg string, args ...any)
	With(args ...any) Logger
}

type slogLogger struct {
	base *slog.Logger
}

// New builds a Logger writing JSON lines to os.Stderr at the given level.
func New(level slog.Level) Logger {
	h := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level})
	return &slogLogger{base: slog.New(h)}
}

func (l *slogLogger) enrich(ctx context.Context, args []any) []any {
	traceID, spanID := tracing.ExtractIDs(ctx)
	if traceID == "" {
		return args
	}
	return append(append([]any{}, args...), "trace_id", traceID, "span_id", spanID)
}

func (l *slogLogger) Debug(ctx context.Context, msg string, args ...any) {
	l.base.Debug(msg, l.enrich(ctx, args)...)
}

func (l *slogLogger) Info(ctx context.Context, msg string, args ...any) {
	l.base.Info(msg, l.enrich(ctx, args)...)
}

func (l *slogLogger) Warn(ctx context.Context, msg string, args ...any) {
	l.base.Warn(msg, l.enrich(ctx, args)...)
}

func (l *slogLogger) Error(ctx context.Context, msg string, args ...any) {
	l.base.Error(msg, l.enrich(ctx, args)...)
}

func (l *slogLogger) With(args ...any) Logger {
	return &slogLogger{base: l.base.With(args...)}
}

// Noop returns a Logger that discards everything, for tests.
func Noop() Logger {
	h := slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError + 100})
	return &slogLogger{base: slog.New(h)}
}
