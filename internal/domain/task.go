package domain

import "time"

// Task status values as they appear on the wire.
const (
	StatusRunning   = "running"
	StatusCompleted = "completed"
	StatusFailed    = "failed"
	StatusCanceled  = "canceled"
)

// Terminal reports whether a status admits no further transitions.
func Terminal(status string) bool {
	switch status {
	case StatusCompleted, StatusFailed, StatusCanceled:
		return true
	default:
		return false
	}
}

// ObjectRef identifies an uploaded media blob inside the object store.
type ObjectRef struct {
	Bucket string
	Key    string
}

// Task is one submitted transcription request and its lifecycle state.
// The result is populated only once the task reaches completed or failed:
// Segments for a completed task, Error for a failed one.
type Task struct {
	ID        string
	Name      string
	Status    string
	Error     string
	Segments  []Segment
	Object    ObjectRef
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Summary is a task without its result body, used by listings.
type Summary struct {
	ID        string    `json:"task_id"`
	Name      string    `json:"name"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Summary returns the listing view of the task.
func (t Task) Summary() Summary {
	return Summary{
		ID:        t.ID,
		Name:      t.Name,
		Status:    t.Status,
		CreatedAt: t.CreatedAt,
		UpdatedAt: t.UpdatedAt,
	}
}
