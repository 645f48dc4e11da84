package logger

import "context"

type contextKey string

const logFieldsKey contextKey = "log_fields"

// LogFields contains structured fields automatically added to all logs within a context.
// Services enrich the context once and every log statement below picks the fields up.
type LogFields struct {
	ThreadID     *string // Feedback thread ID (entity_type.entity_id.suffix)
	SuggestionID *string // Suggestion ID
	EntityType   *string // Target entity type (e.g. "exploration")
	EntityID     *string // Target entity ID
	RecipientID  *string // Email recipient user ID
	MessageID    *string // Redis stream message ID
	TaskType     *string // Queue task type (e.g. "batch_email")
	JobName      *string // Batch job name (e.g. "scoring")
	Component    string  // Component name (e.g. "feedback.worker.email")
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

	if new.ThreadID != nil {
		result.ThreadID = new.ThreadID
	}
	if new.SuggestionID != nil {
		result.SuggestionID = new.SuggestionID
	}
	if new.EntityType != nil {
		result.EntityType = new.EntityType
	}
	if new.EntityID != nil {
		result.EntityID = new.EntityID
	}
	if new.RecipientID != nil {
		result.RecipientID = new.RecipientID
	}
	if new.MessageID != nil {
		result.MessageID = new.MessageID
	}
	if new.TaskType != nil {
		result.TaskType = new.TaskType
	}
	if new.JobName != nil {
		result.JobName = new.JobName
	}
	if new.Component != "" {
		result.Component = new.Component
	}

	return result
}

// Ptr is a helper to create a pointer from a value.
// Useful for setting LogFields inline: logger.WithLogFields(ctx, logger.LogFields{ThreadID: logger.Ptr(id)})
func Ptr[T any](v T) *T {
	return &v
}

// Truncate truncates a string to maxLen bytes, appending "..." if truncated.
func Truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen] + "..."
}
