package logger

import (
	"context"
	"sync"
)

// LoggerContext wraps a Logger with a small mutable attribute set so an
// operation can accumulate context (handler type, topic, offsets) as it
// learns it, without re-deriving a logger at every step.
type LoggerContext struct {
	mu    sync.Mutex
	log   *Logger
	attrs []any
}

// NewLoggerContext constructs a LoggerContext around the provided logger.
func NewLoggerContext(log *Logger) *LoggerContext {
	return &LoggerContext{log: log}
}

// Add appends key/value pairs that will be attached to every subsequent line
// written through this context.
func (lc *LoggerContext) Add(args ...any) {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	lc.attrs = append(lc.attrs, args...)
}

// Debug logs at LevelDebug with the accumulated attributes.
func (lc *LoggerContext) Debug(ctx context.Context, msg string, args ...any) {
	lc.logger().Debugc(ctx, 4, msg, args...)
}

// Info logs at LevelInfo with the accumulated attributes.
func (lc *LoggerContext) Info(ctx context.Context, msg string, args ...any) {
	lc.logger().Infoc(ctx, 4, msg, args...)
}

// Warn logs at LevelWarn with the accumulated attributes.
func (lc *LoggerContext) Warn(ctx context.Context, msg string, args ...any) {
	lc.logger().Warnc(ctx, 4, msg, args...)
}

// Error logs at LevelError with the accumulated attributes.
func (lc *LoggerContext) Error(ctx context.Context, msg string, args ...any) {
	lc.logger().Errorc(ctx, 4, msg, args...)
}

func (lc *LoggerContext) logger() *Logger {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	if len(lc.attrs) == 0 {
		return lc.log
	}
	return lc.log.With(lc.attrs...)
}
