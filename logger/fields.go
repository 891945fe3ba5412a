package logger

import (
	"context"

	"go.uber.org/zap"
)

// Structured log keys shared by every package.
const (
	// Identity and context
	FieldSessionID = "session_id"
	FieldComponent = "component"

	// Hunt-flow execution
	FieldCommand    = "command"
	FieldVariable   = "variable"
	FieldEntityType = "entity_type"
	FieldStatement  = "statement"
	FieldLine       = "line"
	FieldPattern    = "pattern"
	FieldDataSource = "datasource"
	FieldAnalytics  = "analytics"
	FieldPurpose    = "purpose"

	// Timing
	FieldDurationMS = "duration_ms"
	FieldStartTime  = "start_time"
	FieldStopTime   = "stop_time"

	// Errors
	FieldError     = "error"
	FieldErrorKind = "error_kind"

	// Counts and sizes
	FieldCount     = "count"
	FieldRetained  = "retained"
	FieldRemoved   = "removed"
	FieldCacheSize = "cache_size"

	// Files and paths
	FieldPath    = "path"
	FieldWorkDir = "workdir"
)

type contextKey string

const (
	sessionIDKey contextKey = "logger_session_id"
	componentKey contextKey = "logger_component"
)

// WithSessionID tags ctx with a session ID
func WithSessionID(ctx context.Context, sessionID string) context.Context {
	return context.WithValue(ctx, sessionIDKey, sessionID)
}

// WithComponent tags ctx with a component name
func WithComponent(ctx context.Context, component string) context.Context {
	return context.WithValue(ctx, componentKey, component)
}

// FieldsFromContext returns the key-value pairs stored on ctx.
func FieldsFromContext(ctx context.Context) []interface{} {
	var fields []interface{}

	if sessionID, ok := ctx.Value(sessionIDKey).(string); ok && sessionID != "" {
		fields = append(fields, FieldSessionID, sessionID)
	}
	if component, ok := ctx.Value(componentKey).(string); ok && component != "" {
		fields = append(fields, FieldComponent, component)
	}

	return fields
}

// LoggerFromContext returns base decorated with fields extracted from context.
func LoggerFromContext(ctx context.Context, base *zap.SugaredLogger) *zap.SugaredLogger {
	base = OrNop(base)
	fields := FieldsFromContext(ctx)
	if len(fields) == 0 {
		return base
	}
	return base.With(fields...)
}
