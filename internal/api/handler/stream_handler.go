package handler

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime"
	"net/http"
	"path/filepath"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/soundbridge/transcribe-api/internal/domain"
	"github.com/soundbridge/transcribe-api/internal/httprange"
)

// Download handles GET /download/:task_id
// Returns the archived media for a task as an attachment, buffered in full.
func (h *TaskHandler) Download(c *gin.Context) {
	task, ok := h.resolveMedia(c)
	if !ok {
		return
	}

	body, err := h.objects.Get(c.Request.Context(), task.Object.Bucket, task.Object.Key)
	if err != nil {
		h.logger.Error("Failed to fetch object",
			slog.String("task_id", task.ID),
			slog.String("key", task.Object.Key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch media",
		})
		return
	}
	defer body.Close()

	data, err := io.ReadAll(body)
	if err != nil {
		h.logger.Error("Failed to read object",
			slog.String("task_id", task.ID),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch media",
		})
		return
	}

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=%q", task.Name))
	c.Data(http.StatusOK, guessContentType(task.Name), data)
}

// Stream handles GET /stream/:task_id
// Serves the archived media with byte-range support. Without a Range header
// the whole object is streamed; a valid range yields 206 Partial Content
// with only the requested window, and an unsatisfiable range yields 416.
func (h *TaskHandler) Stream(c *gin.Context) {
	task, ok := h.resolveMedia(c)
	if !ok {
		return
	}

	size, err := h.objects.Stat(c.Request.Context(), task.Object.Bucket, task.Object.Key)
	if err != nil {
		h.logger.Error("Failed to stat object",
			slog.String("task_id", task.ID),
			slog.String("key", task.Object.Key),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch media",
		})
		return
	}

	contentType := guessContentType(task.Name)
	rangeHeader := c.GetHeader("Range")

	if rangeHeader == "" {
		body, err := h.objects.Get(c.Request.Context(), task.Object.Bucket, task.Object.Key)
		if err != nil {
			h.logger.Error("Failed to fetch object", slog.String("task_id", task.ID), slog.String("error", err.Error()))
			c.JSON(http.StatusInternalServerError, gin.H{
				"error": "Failed to fetch media",
			})
			return
		}
		defer body.Close()

		c.DataFromReader(http.StatusOK, size, contentType, body, map[string]string{
			"Accept-Ranges": "bytes",
		})
		return
	}

	br, ok := httprange.Parse(rangeHeader, size)
	if !ok {
		c.Header("Content-Range", fmt.Sprintf("bytes */%d", size))
		c.JSON(http.StatusRequestedRangeNotSatisfiable, gin.H{
			"error": "Invalid range",
		})
		return
	}

	body, err := h.objects.GetRange(c.Request.Context(), task.Object.Bucket, task.Object.Key, br.Start, br.End)
	if err != nil {
		h.logger.Error("Failed to fetch object range",
			slog.String("task_id", task.ID),
			slog.String("range", rangeHeader),
			slog.String("error", err.Error()),
		)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to fetch media",
		})
		return
	}
	defer body.Close()

	c.DataFromReader(http.StatusPartialContent, br.Length(), contentType, body, map[string]string{
		"Accept-Ranges": "bytes",
		"Content-Range": fmt.Sprintf("bytes %d-%d/%d", br.Start, br.End, size),
	})
}

// resolveMedia loads the task behind :task_id and writes the error response
// itself when the task cannot serve media.
func (h *TaskHandler) resolveMedia(c *gin.Context) (domain.Task, bool) {
	taskID := c.Param("task_id")
	if _, err := uuid.Parse(taskID); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "task_id must be a valid UUID",
		})
		return domain.Task{}, false
	}

	task, err := h.findTask(c, taskID)
	if err != nil {
		if errors.Is(err, domain.ErrTaskNotFound) {
			c.JSON(http.StatusNotFound, gin.H{
				"error": "Task not found",
			})
			return domain.Task{}, false
		}
		h.logger.Error("Failed to load task", slog.String("task_id", taskID), slog.String("error", err.Error()))
		c.JSON(http.StatusInternalServerError, gin.H{
			"error": "Failed to get task",
		})
		return domain.Task{}, false
	}
	return task, true
}

// guessContentType maps a filename to a MIME type, defaulting to a byte
// stream when the extension is unknown.
func guessContentType(name string) string {
	if ct := mime.TypeByExtension(filepath.Ext(name)); ct != "" {
		return ct
	}
	return "application/octet-stream"
}
