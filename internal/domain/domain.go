package domain

import "fmt"

// TaskStatus is the lifecycle state of a background action.
type TaskStatus string

const (
	TaskPending   TaskStatus = "pending"
	TaskRunning   TaskStatus = "running"
	TaskSucceeded TaskStatus = "succeeded"
	TaskFailed    TaskStatus = "failed"
)

// Terminal reports whether no further transition is possible.
func (s TaskStatus) Terminal() bool {
	return s == TaskSucceeded || s == TaskFailed
}

// Valid reports whether s is a known status.
func (s TaskStatus) Valid() bool {
	switch s {
	case TaskPending, TaskRunning, TaskSucceeded, TaskFailed:
		return true
	}
	return false
}

// EnsureTaskTransition allows pending -> running -> {succeeded, failed}
// and pending -> failed (the process never started).
func EnsureTaskTransition(oldStatus, newStatus TaskStatus) error {
	if !newStatus.Valid() {
		return fmt.Errorf("unknown task status %q", newStatus)
	}
	allowed := map[TaskStatus][]TaskStatus{
		TaskPending: {TaskRunning, TaskFailed},
		TaskRunning: {TaskSucceeded, TaskFailed},
	}
	for _, s := range allowed[oldStatus] {
		if s == newStatus {
			return nil
		}
	}
	return fmt.Errorf("invalid task status transition %s -> %s", oldStatus, newStatus)
}

// TaskRecord is the status artifact of one background action.
type TaskRecord struct {
	ID         string     `json:"id"`
	Command    string     `json:"command"`
	Args       []string   `json:"args,omitempty"`
	Status     TaskStatus `json:"status" enum:"pending,running,succeeded,failed"`
	LogPath    string     `json:"log_path"`
	ResultPath string     `json:"result_path,omitempty"`
	Error      string     `json:"error,omitempty"`
	PID        int        `json:"pid,omitempty"`
	CreatedAt  string     `json:"created_at" format:"date-time"`
	StartedAt  *string    `json:"started_at,omitempty" format:"date-time"`
	FinishedAt *string    `json:"finished_at,omitempty" format:"date-time"`
}

// Event is one row of the append-only ledger.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts" format:"date-time"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	Payload    string `json:"payload_json"`
}

// APIKey authenticates HTTP clients of agdt serve. Only the hash is stored.
type APIKey struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	KeyHash   string `json:"-"`
	CreatedAt string `json:"created_at" format:"date-time"`
}

// WorkflowTransition is a recorded step change of a workflow instance.
type WorkflowTransition struct {
	InstanceID string `json:"instance_id"`
	Workflow   string `json:"workflow"`
	FromStep   string `json:"from_step"`
	ToStep     string `json:"to_step"`
	EntityID   string `json:"entity_id,omitempty"`
	TS         string `json:"ts" format:"date-time"`
}
