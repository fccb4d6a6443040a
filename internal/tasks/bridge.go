package tasks

import (
	"context"
	"log/slog"
	"sync"

	"github.com/soundbridge/transcribe-api/internal/domain"
)

// TaskStore is the durable record of task identity, status and results.
// Implemented by storage.Storage; all calls are atomic.
type TaskStore interface {
	CreateTask(ctx context.Context, task *domain.Task) error
	GetTask(ctx context.Context, taskID string) (*domain.Task, error)
	ListTasks(ctx context.Context) ([]domain.Summary, error)
	UpdateStatus(ctx context.Context, taskID, status string) error
	AppendResult(ctx context.Context, taskID string, outcome domain.Outcome) error
	GetSegments(ctx context.Context, taskID string) ([]domain.Segment, error)
}

// EventPublisher emits task observability events. A nil publisher
// disables event emission.
type EventPublisher interface {
	PublishTaskEvent(ctx context.Context, kind, taskID, detail string)
}

// Bridge reconciles worker outcomes into the registry and the durable
// store, exactly once per task, without blocking request handlers.
type Bridge struct {
	registry *Registry
	store    TaskStore
	events   EventPublisher
	logger   *slog.Logger
	wg       sync.WaitGroup
}

// NewBridge creates a bridge over the given registry and store.
func NewBridge(registry *Registry, store TaskStore, events EventPublisher, logger *slog.Logger) *Bridge {
	return &Bridge{
		registry: registry,
		store:    store,
		events:   events,
		logger:   logger,
	}
}

// Watch starts the bridging goroutine for one task. It blocks only itself on
// the handle's outcome channel, applies the in-memory terminal transition,
// persists the result, and exits. A late outcome for a task that is already
// terminal (canceled in the race window) is discarded. cleanup runs once the
// outcome has been processed, whatever the result.
func (b *Bridge) Watch(taskID string, handle Handle, cleanup func()) {
	b.wg.Add(1)

	go func() {
		defer b.wg.Done()
		if cleanup != nil {
			defer cleanup()
		}

		outcome := <-handle.Outcome()

		task, applied := b.registry.Complete(taskID, outcome)
		if !applied {
			b.logger.Info("Discarding late worker outcome",
				slog.String("task_id", taskID),
				slog.String("outcome", outcome.Status),
				slog.String("task_status", task.Status),
			)
			return
		}

		ctx := context.Background()
		if err := b.store.AppendResult(ctx, taskID, outcome); err != nil {
			// The in-memory transition already committed; the durable
			// view now diverges. Surface it, do not retry.
			b.logger.Error("Task result persistence diverged from in-memory state",
				slog.String("task_id", taskID),
				slog.String("status", outcome.Status),
				slog.Any("error", err),
			)
			if b.events != nil {
				b.events.PublishTaskEvent(ctx, "persistence_divergence", taskID, err.Error())
			}
			return
		}

		if b.events != nil {
			b.events.PublishTaskEvent(ctx, "task_"+outcome.Status, taskID, "")
		}
	}()
}

// Drain waits for all in-flight bridging goroutines to finish, or for the
// context to expire. Used when shutting the service down.
func (b *Bridge) Drain(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		b.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
