package handler

import (
	"context"
	"io"
	"log/slog"

	"github.com/soundbridge/transcribe-api/internal/tasks"
)

// ObjectStore is the slice of the object storage client the handlers use.
type ObjectStore interface {
	Put(ctx context.Context, bucket, key string, body io.Reader, size int64, contentType string) error
	Get(ctx context.Context, bucket, key string) (io.ReadCloser, error)
	GetRange(ctx context.Context, bucket, key string, start, end int64) (io.ReadCloser, error)
	Stat(ctx context.Context, bucket, key string) (int64, error)
}

// LaunchFunc starts a worker process for a task and returns its handle.
type LaunchFunc func(taskID, inputPath string) (tasks.Handle, error)

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger   *slog.Logger
	Registry *tasks.Registry
	Bridge   *tasks.Bridge
	Store    tasks.TaskStore
	Objects  ObjectStore
	Launch   LaunchFunc
	Bucket   string
	TempDir  string
}

// TaskHandler handles task-related HTTP requests
type TaskHandler struct {
	logger   *slog.Logger
	registry *tasks.Registry
	bridge   *tasks.Bridge
	store    tasks.TaskStore
	objects  ObjectStore
	launch   LaunchFunc
	bucket   string
	tempDir  string
}

// NewTaskHandler creates a new TaskHandler instance
func NewTaskHandler(deps *Dependencies) *TaskHandler {
	return &TaskHandler{
		logger:   deps.Logger,
		registry: deps.Registry,
		bridge:   deps.Bridge,
		store:    deps.Store,
		objects:  deps.Objects,
		launch:   deps.Launch,
		bucket:   deps.Bucket,
		tempDir:  deps.TempDir,
	}
}
