package logging

import (
	"context"
	"log/slog"

	"reelswap/internal/services"
)

const (
	// FieldComponent is the structured logging key for component names.
	FieldComponent = "component"
	// FieldJobID is the structured logging key for job identifiers.
	FieldJobID = "job_id"
	// FieldClipIndex is the structured logging key for zero-based clip indexes.
	FieldClipIndex = "clip_index"
	// FieldTask is the structured logging key for pipeline task names.
	FieldTask = "task"
	// FieldTaskID is the structured logging key for queue task row identifiers.
	FieldTaskID = "task_id"
	// FieldCorrelationID is the structured logging key for request correlation identifiers.
	FieldCorrelationID = "correlation_id"
	// FieldEventType classifies a log line for filtering (task_started, clip_degraded, ...).
	FieldEventType = "event_type"
	// FieldErrorHint tells the operator what to check next.
	FieldErrorHint = "error_hint"
	// FieldImpact describes the user-facing consequence of a warning.
	FieldImpact = "impact"
)

// ContextFields extracts standardized slog attributes from the provided context.
func ContextFields(ctx context.Context) []slog.Attr {
	if ctx == nil {
		return nil
	}
	fields := make([]slog.Attr, 0, 4)
	if id, ok := services.JobIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldJobID, id))
	}
	if idx, ok := services.ClipIndexFromContext(ctx); ok {
		fields = append(fields, slog.Int(FieldClipIndex, idx))
	}
	if task, ok := services.TaskFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldTask, task))
	}
	if rid, ok := services.RequestIDFromContext(ctx); ok {
		fields = append(fields, slog.String(FieldCorrelationID, rid))
	}
	return fields
}

// WithContext returns a logger augmented with structured fields derived from the supplied context.
func WithContext(ctx context.Context, logger *slog.Logger) *slog.Logger {
	if logger == nil {
		logger = NewNop()
	}
	fields := ContextFields(ctx)
	if len(fields) == 0 {
		return logger
	}
	return logger.With(Args(fields...)...)
}
