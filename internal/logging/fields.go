package logging

// Standardized attribute keys shared across components.
const (
	FieldComponent = "component"
	FieldEventType = "event_type"
	FieldErrorHint = "error_hint"
	FieldBackend   = "backend"
	FieldRemote    = "remote"
	FieldJobID     = "job_id"
	FieldTaskID    = "task_id"
)
