package falcon

import (
	"context"
	"log/slog"
	"os"
	"time"

	"github.com/hupe1980/falcon/model"
)

// Logger wraps slog.Logger with falcon-specific context.
// This provides structured logging with consistent field names.
type Logger struct {
	*slog.Logger
}

// NewLogger creates a new Logger with the given handler.
// If handler is nil, uses default text handler to stderr.
func NewLogger(handler slog.Handler) *Logger {
	if handler == nil {
		handler = slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelInfo,
		})
	}
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewJSONLogger creates a Logger that outputs JSON-formatted logs.
// level sets the minimum log level (e.g., slog.LevelDebug, slog.LevelInfo).
func NewJSONLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	return NewLogger(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return NewLogger(slog.DiscardHandler)
}

// WithView adds a view field to the logger.
func (l *Logger) WithView(v View) *Logger {
	return &Logger{
		Logger: l.Logger.With("view", v.Name()),
	}
}

// WithGeneration adds the index generation to the logger.
func (l *Logger) WithGeneration(gen uint64) *Logger {
	return &Logger{
		Logger: l.Logger.With("generation", gen),
	}
}

// LogActivate logs a view activation.
func (l *Logger) LogActivate(ctx context.Context, v View, passive int, gen uint64) {
	l.InfoContext(ctx, "view activated",
		"view", v.Name(),
		"passive", passive,
		"generation", gen,
	)
}

// LogBuild logs the completion of an index build.
func (l *Logger) LogBuild(ctx context.Context, v View, passive int, gen uint64, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "index build failed",
			"view", v.Name(),
			"generation", gen,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "index build completed",
		"view", v.Name(),
		"passive", passive,
		"generation", gen,
		"elapsed", elapsed,
	)
}

// LogResolve logs a brush resolution.
func (l *Logger) LogResolve(ctx context.Context, v View, brush model.Brush, gen uint64, err error) {
	if err != nil {
		l.WarnContext(ctx, "brush resolution failed",
			"view", v.Name(),
			"generation", gen,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "brush resolved",
		"view", v.Name(),
		"brush", brushString(brush),
		"generation", gen,
	)
}

// LogFilter logs a filter change.
func (l *Logger) LogFilter(ctx context.Context, d *model.Dimension, f model.Filter, rebuild bool) {
	key := "<none>"
	if f != nil {
		key = f.Key()
	}
	l.DebugContext(ctx, "filter changed",
		"dimension", d.Name,
		"filter", key,
		"rebuild", rebuild,
	)
}

func brushString(b model.Brush) string {
	switch b := b.(type) {
	case model.Brush1D:
		return model.Interval(b).String()
	case model.Brush2D:
		return b.X.String() + "x" + b.Y.String()
	default:
		return "<none>"
	}
}
