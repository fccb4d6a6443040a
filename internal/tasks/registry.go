// Package tasks holds the in-process view of transcription jobs: the
// registry that owns their lifecycle and the bridge that reconciles worker
// outcomes into it.
package tasks

import (
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/soundbridge/transcribe-api/internal/domain"
)

// Handle is an opaque reference to a running worker plus its one-shot
// outcome channel. Implemented by worker.Process.
type Handle interface {
	Outcome() <-chan domain.Outcome
	Terminate() error
}

type entry struct {
	task   domain.Task
	handle Handle
}

// Registry is the authoritative in-process table of tasks tracked by this
// server instance. It enforces the task state machine: running is the only
// initial state, completed, failed and canceled are terminal and absorbing.
type Registry struct {
	mu      sync.Mutex
	entries map[string]*entry
	logger  *slog.Logger
}

// NewRegistry creates an empty registry.
func NewRegistry(logger *slog.Logger) *Registry {
	return &Registry{
		entries: make(map[string]*entry),
		logger:  logger,
	}
}

// Create registers a new running task with its worker handle.
// Returns ErrDuplicateTask if the id is already registered.
func (r *Registry) Create(task domain.Task, handle Handle) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.entries[task.ID]; exists {
		return domain.Task{}, domain.ErrDuplicateTask
	}

	now := time.Now()
	task.Status = domain.StatusRunning
	task.Error = ""
	task.Segments = nil
	if task.CreatedAt.IsZero() {
		task.CreatedAt = now
	}
	task.UpdatedAt = task.CreatedAt

	r.entries[task.ID] = &entry{task: task, handle: handle}

	return task, nil
}

// Get returns the current snapshot of a task.
func (r *Registry) Get(taskID string) (domain.Task, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[taskID]
	if !ok {
		return domain.Task{}, domain.ErrTaskNotFound
	}

	return e.task, nil
}

// Complete applies a terminal worker outcome to a running task. The first
// terminal write wins: a second call on an already-terminal task (including
// one canceled in the meantime) is a no-op, which guards against duplicate
// or late delivery from the bridge. The returned bool reports whether the
// transition applied.
func (r *Registry) Complete(taskID string, outcome domain.Outcome) (domain.Task, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	e, ok := r.entries[taskID]
	if !ok {
		return domain.Task{}, false
	}

	if domain.Terminal(e.task.Status) {
		return e.task, false
	}

	e.task.Status = outcome.Status
	e.task.Segments = outcome.Segments
	e.task.Error = outcome.Err
	e.task.UpdatedAt = time.Now()
	e.handle = nil

	r.logger.Info("Task reached terminal state",
		slog.String("task_id", taskID),
		slog.String("status", e.task.Status),
	)

	return e.task, true
}

// Cancel terminates a running task's worker and marks the task canceled.
// Returns ErrTaskNotFound for unknown ids. Canceling an already-terminal
// task is not an error; the existing snapshot is returned unchanged.
func (r *Registry) Cancel(taskID string) (domain.Task, error) {
	r.mu.Lock()

	e, ok := r.entries[taskID]
	if !ok {
		r.mu.Unlock()
		return domain.Task{}, domain.ErrTaskNotFound
	}

	if domain.Terminal(e.task.Status) {
		task := e.task
		r.mu.Unlock()
		return task, nil
	}

	e.task.Status = domain.StatusCanceled
	e.task.UpdatedAt = time.Now()
	handle := e.handle
	e.handle = nil
	task := e.task
	r.mu.Unlock()

	// Reap the worker outside the lock; Terminate blocks until the
	// process is gone.
	if handle != nil {
		if err := handle.Terminate(); err != nil {
			r.logger.Error("Failed to terminate worker",
				slog.String("task_id", taskID),
				slog.Any("error", err),
			)
		}
	}

	r.logger.Info("Task canceled", slog.String("task_id", taskID))

	return task, nil
}

// List returns summaries of all registered tasks, most recently created
// first. Segment bodies are omitted.
func (r *Registry) List() []domain.Summary {
	r.mu.Lock()
	summaries := make([]domain.Summary, 0, len(r.entries))
	for _, e := range r.entries {
		summaries = append(summaries, e.task.Summary())
	}
	r.mu.Unlock()

	sort.Slice(summaries, func(i, j int) bool {
		if summaries[i].CreatedAt.Equal(summaries[j].CreatedAt) {
			return summaries[i].ID > summaries[j].ID
		}
		return summaries[i].CreatedAt.After(summaries[j].CreatedAt)
	})

	return summaries
}
