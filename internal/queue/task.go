package queue

type TaskType string

const (
	TaskTypeThreadCreated        TaskType = "thread_created"
	TaskTypeThreadStatusChanged  TaskType = "thread_status_changed"
	TaskTypeThreadSubjectChanged TaskType = "thread_subject_changed"
	TaskTypeBatchEmail           TaskType = "batch_email"
	TaskTypeInstantEmail         TaskType = "instant_email"
)

// Name identifies one of the named task queues.
type Name string

const (
	QueueEvents Name = "events"
	QueueEmails Name = "emails"
)

// Queue returns the named queue a task type is published to.
func (t TaskType) Queue() Name {
	switch t {
	case TaskTypeBatchEmail, TaskTypeInstantEmail:
		return QueueEmails
	default:
		return QueueEvents
	}
}

// Task is the payload carried on a queue. Which fields are set depends on
// TaskType:
//
//	thread_created         EntityType, EntityID, ThreadID
//	thread_status_changed  EntityType, EntityID, ThreadID, OldStatus, NewStatus
//	thread_subject_changed EntityType, EntityID, ThreadID
//	batch_email            RecipientID
//	instant_email          RecipientID, EntityType, EntityID, ThreadID, MessageID,
//	                       and OldStatus/NewStatus for status-change notices
type Task struct {
	TaskType    TaskType `json:"task_type"`
	EntityType  string   `json:"entity_type,omitempty"`
	EntityID    string   `json:"entity_id,omitempty"`
	ThreadID    string   `json:"thread_id,omitempty"`
	MessageID   *int     `json:"message_id,omitempty"`
	RecipientID string   `json:"recipient_id,omitempty"`
	OldStatus   string   `json:"old_status,omitempty"`
	NewStatus   string   `json:"new_status,omitempty"`
	TraceID     string   `json:"trace_id,omitempty"`
	Attempt     int      `json:"attempt,omitempty"`
}

// IsStatusChange reports whether an instant email task announces a status
// change rather than a new message.
func (t Task) IsStatusChange() bool {
	return t.OldStatus != "" && t.NewStatus != "" && t.OldStatus != t.NewStatus
}
