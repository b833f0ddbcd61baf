package common

import (
	"context"
	"log/slog"
)

// Context keys for storing values in context
type contextKey string

const (
	ContextKeyJobID     contextKey = "job_id"
	ContextKeyMessageID contextKey = "message_id"
	ContextKeyWorkerID  contextKey = "worker_id"
)

// WithJobID adds a job ID to the context
func WithJobID(ctx context.Context, jobID int64) context.Context {
	return context.WithValue(ctx, ContextKeyJobID, jobID)
}

// JobIDFromContext extracts the job ID from context
func JobIDFromContext(ctx context.Context) (int64, bool) {
	id, ok := ctx.Value(ContextKeyJobID).(int64)
	return id, ok
}

// WithMessageID adds a queue message ID to the context
func WithMessageID(ctx context.Context, messageID string) context.Context {
	return context.WithValue(ctx, ContextKeyMessageID, messageID)
}

// WithWorkerID adds a worker ID to the context
func WithWorkerID(ctx context.Context, workerID int) context.Context {
	return context.WithValue(ctx, ContextKeyWorkerID, workerID)
}

// LoggerFrom decorates logger with whatever job/message/worker identifiers ctx carries.
func LoggerFrom(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	if id, ok := ctx.Value(ContextKeyWorkerID).(int); ok {
		logger = logger.With("worker_id", id)
	}
	if id, ok := JobIDFromContext(ctx); ok {
		logger = logger.With("job_id", id)
	}
	if id, ok := ctx.Value(ContextKeyMessageID).(string); ok && id != "" {
		logger = logger.With("message_id", id)
	}
	return logger
}
