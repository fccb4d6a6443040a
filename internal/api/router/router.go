package router

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/soundbridge/transcribe-api/internal/api/handler"
)

// SetupRouter configures and returns the Gin router with all routes
func SetupRouter(deps *handler.Dependencies) *gin.Engine {
	r := gin.New()

	// Middleware
	r.Use(gin.Recovery())
	r.Use(LoggerMiddleware(deps.Logger))
	r.Use(CORSMiddleware())

	// Health check endpoint
	r.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "healthy",
			"service": "transcribe-api",
		})
	})

	taskHandler := handler.NewTaskHandler(deps)

	// POST /transcribe - submit audio for transcription
	r.POST("/transcribe", taskHandler.Transcribe)

	// GET /status/:task_id - poll task state and result
	r.GET("/status/:task_id", taskHandler.GetStatus)

	// DELETE /cancel/:task_id - cancel a running task
	r.DELETE("/cancel/:task_id", taskHandler.Cancel)

	// GET /tasks - list known tasks
	r.GET("/tasks", taskHandler.ListTasks)

	// GET /download/:task_id - fetch the uploaded media as an attachment
	r.GET("/download/:task_id", taskHandler.Download)

	// GET /stream/:task_id - stream the uploaded media with range support
	r.GET("/stream/:task_id", taskHandler.Stream)

	return r
}
