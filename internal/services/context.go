package services

import "context"

type contextKey string

const (
	objectIDKey  contextKey = "object_id"
	uploadIDKey  contextKey = "upload_id"
	stageKey     contextKey = "stage"
	requestIDKey contextKey = "request_id"
)

// WithObjectID annotates context with the content object identifier.
func WithObjectID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, objectIDKey, id)
}

// ObjectIDFromContext extracts the content object identifier if present.
func ObjectIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(objectIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithUploadID annotates context with the upload session identifier.
func WithUploadID(ctx context.Context, id string) context.Context {
	if id == "" {
		return ctx
	}
	return context.WithValue(ctx, uploadIDKey, id)
}

// UploadIDFromContext extracts the upload session identifier if present.
func UploadIDFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(uploadIDKey).(string); ok && v != "" {
		return v, true
	}
	return "", false
}

// WithStage annotates context with the pipeline stage name.
func WithStage(ctx context.Context, stage string) context.Context {
	if stage == "" {
		return ctx
	}
	return context.WithValue(ctx, stageKey, stage)
}

// StageFromContext returns the stage name if present.
func StageFromContext(ctx context.Context) (string, bool) {
	if v, ok := ctx.Value(stageKey).(string); ok && v != "" {
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
