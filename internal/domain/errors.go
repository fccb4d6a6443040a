package domain

import "errors"

var (
	// ErrTaskNotFound is returned when a task id is unknown to both the
	// in-memory registry and the durable store.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateTask is returned when registering a task id that already exists.
	ErrDuplicateTask = errors.New("task already registered")
)
