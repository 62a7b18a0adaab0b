package fishdbc

import (
	"context"
	"log/slog"
	"os"
)

// Logger wraps slog.Logger with fishdbc-specific context.
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
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NewTextLogger creates a Logger that outputs human-readable text logs.
func NewTextLogger(level slog.Level) *Logger {
	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	return &Logger{
		Logger: slog.New(handler),
	}
}

// NoopLogger creates a Logger that discards all log output.
func NoopLogger() *Logger {
	return &Logger{
		Logger: slog.New(slog.DiscardHandler),
	}
}

// WithPointID adds a point_id field to the logger.
func (l *Logger) WithPointID(id string) *Logger {
	return &Logger{
		Logger: l.Logger.With("point_id", id),
	}
}

// WithDimension adds a dimension field to the logger.
func (l *Logger) WithDimension(dim int) *Logger {
	return &Logger{
		Logger: l.Logger.With("dimension", dim),
	}
}

// LogInsert logs a single insert.
func (l *Logger) LogInsert(ctx context.Context, id string, seq uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "insert failed",
			"point_id", id,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "insert completed",
			"point_id", id,
			"seq", seq,
		)
	}
}

// LogBatchInsert logs a batch insert.
func (l *Logger) LogBatchInsert(ctx context.Context, count, failed int) {
	if failed > 0 {
		l.WarnContext(ctx, "batch insert completed with rejected records",
			"total", count,
			"rejected", failed,
			"accepted", count-failed,
		)
	} else {
		l.DebugContext(ctx, "batch insert completed",
			"count", count,
		)
	}
}

// LogRejected logs a record rejected as malformed.
func (l *Logger) LogRejected(ctx context.Context, id string, err error) {
	l.WarnContext(ctx, "record rejected",
		"point_id", id,
		"error", err,
	)
}

// LogQuery logs a neighbor index query.
func (l *Logger) LogQuery(ctx context.Context, k, results int, err error) {
	if err != nil {
		l.ErrorContext(ctx, "query failed",
			"k", k,
			"error", err,
		)
	} else {
		l.DebugContext(ctx, "query completed",
			"k", k,
			"results", results,
		)
	}
}

// LogDegraded logs an assignment derived from coarse-only distances.
func (l *Logger) LogDegraded(ctx context.Context, id string, seq uint64) {
	l.WarnContext(ctx, "assignment has degraded confidence",
		"point_id", id,
		"seq", seq,
	)
}

// LogRebuild logs a requested full rebuild.
func (l *Logger) LogRebuild(ctx context.Context, rebuilds uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "rebuild failed",
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "rebuild completed",
			"rebuilds", rebuilds,
		)
	}
}

// LogInvariantViolation logs a broken spanning forest invariant.
func (l *Logger) LogInvariantViolation(ctx context.Context, err error) {
	l.ErrorContext(ctx, "invariant violation",
		"error", err,
	)
}

// LogSnapshot logs a snapshot write.
func (l *Logger) LogSnapshot(ctx context.Context, name string, err error) {
	if err != nil {
		l.ErrorContext(ctx, "snapshot failed",
			"name", name,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "snapshot saved",
			"name", name,
		)
	}
}

// LogRecovery logs a restore or point log replay.
func (l *Logger) LogRecovery(ctx context.Context, source string, seq uint64, err error) {
	if err != nil {
		l.ErrorContext(ctx, "recovery failed",
			"source", source,
			"error", err,
		)
	} else {
		l.InfoContext(ctx, "recovery completed",
			"source", source,
			"seq", seq,
		)
	}
}

// LogOracleHealth logs a change of precise scorer availability.
func (l *Logger) LogOracleHealth(ctx context.Context, available bool, degraded int) {
	if available {
		l.InfoContext(ctx, "distance oracle available",
			"degraded_points", degraded,
		)
	} else {
		l.WarnContext(ctx, "distance oracle unavailable, using coarse distances",
			"degraded_points", degraded,
		)
	}
}
