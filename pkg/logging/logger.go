// Package logging provides the structured logger shared by the pipeline
// stages, the search controller and the CLI.
//
// Logger wraps slog.Logger with field helpers that keep key names consistent
// across components (job, stage, end_point, elapsed).
package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"
)

// Config selects the level, format and destination of log output.
type Config struct {
	Level  string
	Format string
	Output io.Writer
}

// Logger wraps slog.Logger with tubular-geodesics field helpers.
type Logger struct {
	*slog.Logger
}

// ParseLevel converts a level name to a slog.Level.
func ParseLevel(name string) (slog.Level, error) {
	switch strings.ToLower(name) {
	case "debug":
		return slog.LevelDebug, nil
	case "", "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	}
	return slog.LevelInfo, fmt.Errorf("unknown log level %q", name)
}

// New creates a logger from cfg. Unknown levels fall back to info; an empty
// Output writes to stderr.
func New(cfg Config) *Logger {
	level, _ := ParseLevel(cfg.Level)
	out := cfg.Output
	if out == nil {
		out = os.Stderr
	}
	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if strings.EqualFold(cfg.Format, "json") {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		handler = slog.NewTextHandler(out, opts)
	}
	return &Logger{Logger: slog.New(handler)}
}

// Noop returns a logger that discards everything.
func Noop() *Logger {
	return &Logger{Logger: slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{
		Level: slog.Level(1000),
	}))}
}

// OrNoop returns l, or a discarding logger when l is nil.
func OrNoop(l *Logger) *Logger {
	if l == nil {
		return Noop()
	}
	return l
}

// WithJob tags every record with a job identifier.
func (l *Logger) WithJob(id string) *Logger {
	return &Logger{Logger: l.Logger.With("job", id)}
}

// WithStage tags every record with a pipeline stage name.
func (l *Logger) WithStage(stage string) *Logger {
	return &Logger{Logger: l.Logger.With("stage", stage)}
}

// LogStage records the outcome of a pipeline stage. The stage name comes
// from WithStage.
func (l *Logger) LogStage(ctx context.Context, elapsed time.Duration, err error) {
	if err != nil {
		l.ErrorContext(ctx, "stage failed",
			"elapsed", elapsed,
			"error", err,
		)
		return
	}
	l.DebugContext(ctx, "stage completed",
		"elapsed", elapsed,
	)
}

// LogTrace records the outcome of tracing one end point.
func (l *Logger) LogTrace(ctx context.Context, endPoint int, points int, status string) {
	l.DebugContext(ctx, "end point traced",
		"end_point", endPoint,
		"points", points,
		"status", status,
	)
}
