package logger

import (
	"context"

	"github.com/google/uuid"
)

// WithTraceID stores a trace ID on the context, generating one when empty.
func WithTraceID(ctx context.Context, traceID string) context.Context {
	if traceID == "" {
		traceID = NewTraceID()
	}
	return context.WithValue(ctx, TraceIDKey, traceID)
}

// GetTraceID returns the context's trace ID or "".
func GetTraceID(ctx context.Context) string {
	if ctx == nil {
		return ""
	}
	if traceID, ok := ctx.Value(TraceIDKey).(string); ok {
		return traceID
	}
	return ""
}

func NewTraceID() string {
	return uuid.New().String()
}
