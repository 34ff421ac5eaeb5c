package model

import "time"

type JobStatus string

const (
	JobPending   JobStatus = "pending"
	JobRunning   JobStatus = "running"
	JobCompleted JobStatus = "completed"
	JobFailed    JobStatus = "failed"
)

// Job is one bulk-dispatch run over an uploaded recipient list.
// Counters only ever grow and are owned by the dispatcher driving the run.
type Job struct {
	ID           string
	TemplateName string
	Total        int
	SentCount    int
	FailedCount  int
	Status       JobStatus
	SourceFile   string
	LastError    *string
	CreatedAt    time.Time
}

// Done reports how many recipients have resolved either way.
func (j Job) Done() int {
	return j.SentCount + j.FailedCount
}

func (j Job) Terminal() bool {
	return j.Status == JobCompleted || j.Status == JobFailed
}
