package dto

// TaskStatusResponse is the wire shape for task state. Result is null while
// the task is running or canceled, the error text for a failed task, and
// the ordered segment list for a completed one.
type TaskStatusResponse struct {
	TaskID string `json:"task_id"`
	Status string `json:"status"`
	Result any    `json:"result"`
}
