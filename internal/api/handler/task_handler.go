package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soundbridge/transcribe-api/internal/api/dto"
	"github.com/soundbridge/transcribe-api/internal/domain"
)

// Transcribe handles POST /transcribe
// Accepts a multipart audio upload, archives it to the object store and
// starts a worker process for it. The response carries the new task handle;
// the transcription itself finishes asynchronously.
func (h *TaskHandler) Transcribe(c *gin.Context) {
	file, err := c.FormFile("file")
	if err != nil {
		h.logger.Error("Missing upload in transcribe request", slog.String("error", err.Error()))
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "file field is required",
		})
		return
	}

	taskID := uuid.New().String()

	// The worker reads the upload from local disk while the object store
	// keeps the durable copy for later streaming.
	inputPath, err := h.saveUpload(file)
	if err != nil {
		h.logger.Error("Failed to stage upload", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	objectKey := fmt.Sprintf("%d_%s", time.Now().UnixNano(), filepath.Base(file.Filename))
	if err := h.uploadObject(c, inputPath, objectKey, file.Size, file.Filename); err != nil {
		os.Remove(inputPath)
		h.logger.Error("Failed to archive upload",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to store upload",
		})
		return
	}

	now := time.Now()
	task := domain.Task{
		ID:     taskID,
		Name:   filepath.Base(file.Filename),
		Status: domain.StatusRunning,
		Object: domain.ObjectRef{
			Bucket: h.bucket,
			Key:    objectKey,
		},
		CreatedAt: now,
		UpdatedAt: now,
	}

	if err := h.store.CreateTask(c.Request.Context(), &task); err != nil {
		os.Remove(inputPath)
		h.logger.Error("Failed to create task record",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to create task",
		})
		return
	}

	handle, err := h.launch(taskID, inputPath)
	if err != nil {
		os.Remove(inputPath)
		h.logger.Error("Failed to start worker",
			slog.String("task_id", taskID),
			slog.String("error", err.Error()),
		)
		if uerr := h.store.UpdateStatus(c.Request.Context(), taskID, domain.StatusFailed); uerr != nil {
			h.logger.Error("Failed to mark task failed", slog.String("task_id", taskID), slog.String("error", uerr.Error()))
		}
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to start transcription",
		})
		return
	}

	if _, err := h.registry.Create(task, handle); err != nil {
		h.logger.Error("Failed to register task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to register task",
		})
		return
	}

	h.bridge.Watch(taskID, handle, func() {
		if err := os.Remove(inputPath); err != nil && !os.IsNotExist(err) {
			h.logger.Warn("Failed to remove staged upload", slog.String("path", inputPath), slog.String("error", err.Error()))
		}
	})

	h.logger.Info("Task accepted",
		slog.String("task_id", taskID),
		slog.String("name", task.Name),
		slog.Int64("size", file.Size),
	)

	c.JSON(http.StatusAccepted, gin.H{
		"task_id": taskID,
		"status":  task.Status,
	})
}

// GetStatus handles GET /status/:task_id
func (h *TaskHandler) GetStatus(c *gin.Context) {
	taskID := c.Param("task_id")
	if _, err := uuid.Parse(taskID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "task_id must be a valid UUID",
		})
		return
	}

	task, err := h.findTask(c, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Task not found",
			})
			return
		}
		h.logger.Error("Failed to load task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get task",
		})
		return
	}

	resp := dto.TaskStatusResponse{
		TaskID: task.ID,
		Status: task.Status,
	}

	switch task.Status {
	case domain.StatusCompleted:
		segments := task.Segments
		if segments == nil {
			segments, err = h.store.GetSegments(c.Request.Context(), taskID)
			if err != nil {
				h.logger.Error("Failed to load segments", slog.String("task_id", taskID), slog.String("error", err.Error()))
				c.JSON(http.StatusInternalServerError, gin.H{
					"error": "Failed to get task result",
				})
				return
			}
		}
		resp.Result = segments
	case domain.StatusFailed:
		resp.Result = task.Error
	}

	c.JSON(http.StatusOK, resp)
}

// Cancel handles DELETE /cancel/:task_id
// Cancellation of a task that is already terminal is a no-op that reports
// the settled status.
func (h *TaskHandler) Cancel(c *gin.Context) {
	taskID := c.Param("task_id")
	if _, err := uuid.Parse(taskID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "task_id must be a valid UUID",
		})
		return
	}

	task, err := h.registry.Cancel(taskID)
	if errors.Is(err, domain.ErrTaskNotFound) {
		// Not live in this process; a persisted record still answers.
		stored, serr := h.store.GetTask(c.Request.Context(), taskID)
		if serr != nil {
			if errors.Is(serr, domain.ErrTaskNotFound) {
				c.JSON(http.StatusNotFound, gin.H{
					"error": "Task not found",
				})
				return
			}
			h.logger.Error("Failed to load task", slog.String("task_id", taskID), slog.String("error", serr.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to cancel task",
			})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"task_id": stored.ID,
			"status":  stored.Status,
		})
		return
	}
	if err != nil {
		h.logger.Error("Failed to cancel task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to cancel task",
		})
		return
	}

	if task.Status == domain.StatusCanceled {
		if err := h.store.UpdateStatus(c.Request.Context(), taskID, domain.StatusCanceled); err != nil {
			h.logger.Error("Failed to persist cancellation", slog.String("task_id", taskID), slog.String("error", err.Error()))
		}
		h.logger.Info("Task canceled", slog.String("task_id", taskID))
	}

	c.JSON(http.StatusOK, gin.H{
		"task_id": task.ID,
		"status":  task.Status,
	})
}

// ListTasks handles GET /tasks
// Live registry state wins over the durable mirror for tasks known to both.
func (h *TaskHandler) ListTasks(c *gin.Context) {
	stored, err := h.store.ListTasks(c.Request.Context())
	if err != nil {
		h.logger.Error("Failed to list tasks", slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to list tasks",
		})
		return
	}

	live := make(map[string]domain.Summary)
	for _, s := range h.registry.List() {
		live[s.ID] = s
	}

	for i, s := range stored {
		if l, ok := live[s.ID]; ok {
			stored[i] = l
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"tasks": stored,
	})
}

// findTask resolves a task from the live registry first, then the durable
// store. Registry hits carry in-memory results; store hits carry whatever
// was persisted.
func (h *TaskHandler) findTask(c *gin.Context, taskID string) (domain.Task, error) {
	if task, err := h.registry.Get(taskID); err == nil {
		return task, nil
	}
	task, err := h.store.GetTask(c.Request.Context(), taskID)
	if err != nil {
		return domain.Task{}, err
	}
	return *task, nil
}

// saveUpload copies the multipart part to a temp file the worker can read.
func (h *TaskHandler) saveUpload(file *multipart.FileHeader) (string, error) {
	tmp, err := os.CreateTemp(h.tempDir, "upload-*"+filepath.Ext(file.Filename))
	if err != nil {
		return "", fmt.Errorf("create temp file: %w", err)
	}
	defer tmp.Close()

	src, err := file.Open()
	if err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("open upload: %w", err)
	}
	defer src.Close()

	if _, err := io.Copy(tmp, src); err != nil {
		os.Remove(tmp.Name())
		return "", fmt.Errorf("stage upload: %w", err)
	}
	return tmp.Name(), nil
}

// uploadObject puts the staged file into the object store.
func (h *TaskHandler) uploadObject(c *gin.Context, path, key string, size int64, name string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("open staged upload: %w", err)
	}
	defer f.Close()

	return h.objects.Put(c.Request.Context(), h.bucket, key, f, size, guessContentType(name))
}
