package services

import "context"

type contextKey string

const (
	jobIDKey     contextKey = "job_id"
	clipIndexKey contextKey = "clip_index"
	taskKey      contextKey = "task"
	requestIDKey contextKey = "request_id"
)

// WithJobID annotates context with the job identifier.
func WithJobID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, jobIDKey, id)
}

// JobIDFromContext extracts the job identifier if present.
func JobIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(jobIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithClipIndex annotates context with a clip index.
func WithClipIndex(ctx context.Context, idx int) context.Context {
	return context.WithValue(ctx, clipIndexKey, idx)
}

// ClipIndexFromContext returns the clip index if present.
func ClipIndexFromContext(ctx context.Context) (int, bool) {
	v := ctx.Value(clipIndexKey)
	if v == nil {
		return 0, false
	}
	switch val := v.(type) {
	case int:
		return val, true
	case int64:
		return int(val), true
	default:
		return 0, false
	}
}

// WithTask annotates context with the task name (split, process_clip, stitch).
func WithTask(ctx context.Context, task string) context.Context {
	if task == "" {
		return ctx
	}
	return context.WithValue(ctx, taskKey, task)
}

// TaskFromContext returns the task name if present.
func TaskFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(taskKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithRequestID annotates context with a correlation identifier.
func WithRequestID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, requestIDKey, id)
}

// RequestIDFromContext extracts the correlation identifier if present.
func RequestIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(requestIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}
