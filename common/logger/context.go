package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Worker and service code enrich the context once and every log line below it
// carries the job, execution or approval identifiers.
type LogFields struct {
	JobID       *string // Scheduled job ID
	ExecutionID *string // Job execution (attempt) ID
	WorkerID    *string // Worker lock owner
	Handler     *string // Registry key of the running handler
	RequestID   *string // Approval request ID
	WorkflowID  *string // Approval workflow ID
	ActorID     *string // Acting user, from the HTTP façade
	Component   string  // Component name, e.g. "erp.worker.scheduler"
}

// WithLogFields enriches context with structured log fields.
// Multiple calls merge fields, with newer non-nil/non-empty values taking precedence.
func WithLogFields(ctx context.Context, fields LogFields) context.Context {
	existing := GetLogFields(ctx)
	merged := mergeFields(existing, fields)
	return context.WithValue(ctx, logFieldsKey, merged)
}

// GetLogFields retrieves log fields from context.
// Returns empty LogFields if none are set.
func GetLogFields(ctx context.Context) LogFields {
	if fields, ok := ctx.Value(logFieldsKey).(LogFields); ok {
		return fields
	}
	return LogFields{}
}

func mergeFields(existing, new LogFields) LogFields {
	result := existing

	if new.JobID != nil {
		result.JobID = new.JobID
	}
	if new.ExecutionID != nil {
		result.ExecutionID = new.ExecutionID
	}
	if new.WorkerID != nil {
		result.WorkerID = new.WorkerID
	}
	if new.Handler != nil {
		result.Handler = new.Handler
	}
	if new.RequestID != nil {
		result.RequestID = new.RequestID
	}
	if new.WorkflowID != nil {
		result.WorkflowID = new.WorkflowID
	}
	if new.ActorID != nil {
		result.ActorID = new.ActorID
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{JobID: logger.Ptr(id.String())})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen characters, appending "..." if truncated.
// Used for error messages and stack traces persisted on execution rows.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
