package logging

import (
	"context"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type contextKey struct{ name string }

var (
	requestIDKey = contextKey{"request_id"}
	userIDKey    = contextKey{"user_id"}
	projectIDKey = contextKey{"project_id"}
)

// WithRequestID returns a context carrying the request ID.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey, id)
}

// WithTenant returns a context carrying the tenant identifiers.
func WithTenant(ctx context.Context, userID, projectID string) context.Context {
	ctx = context.WithValue(ctx, userIDKey, userID)
	return context.WithValue(ctx, projectIDKey, projectID)
}

// RequestID extracts the request ID from context, or "".
func RequestID(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey).(string)
	return id
}

// ContextFields extracts log fields from context values.
func ContextFields(ctx context.Context) []zap.Field {
	if ctx == nil {
		return nil
	}
	var fields []zap.Field
	if id, ok := ctx.Value(requestIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("request_id", id))
	}
	if id, ok := ctx.Value(userIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("user_id", id))
	}
	if id, ok := ctx.Value(projectIDKey).(string); ok && id != "" {
		fields = append(fields, zap.String("project_id", id))
	}
	return fields
}

func stderr() zapcore.WriteSyncer {
	return os.Stderr
}
