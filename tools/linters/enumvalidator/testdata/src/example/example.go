package example

type ThreadStatus string

const (
	ThreadStatusOpen  ThreadStatus = "open"
	ThreadStatusFixed ThreadStatus = "fixed"
)

type SuggestionStatus string

const (
	SuggestionStatusAccepted SuggestionStatus = "accepted"
)

type TaskType string

const (
	TaskTypeBatchEmail TaskType = "batch_email"
)

type Thread struct {
	Status  ThreadStatus
	Subject string
}

type Suggestion struct {
	Status SuggestionStatus
}

type Task struct {
	TaskType TaskType
}

func bad() {
	t := &Thread{}
	t.Status = "closed" // want "enum field Status assigned string literal"

	s := &Suggestion{}
	s.Status = "approved" // want "enum field Status assigned string literal"

	_ = Task{TaskType: "batch"} // want "enum field TaskType assigned string literal"
}

func good() {
	t := &Thread{}
	t.Status = ThreadStatusFixed
	t.Subject = "plain strings are fine"

	s := &Suggestion{}
	s.Status = SuggestionStatusAccepted

	_ = Task{TaskType: TaskTypeBatchEmail}
	_ = Thread{Status: ThreadStatusOpen, Subject: "(Feedback from a learner)"}
}

func conversionsAreExplicit() {
	raw := "fixed"
	t := &Thread{Status: ThreadStatus(raw)}
	_ = t
}
