package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/soundbridge/transcribe-api/internal/domain"
	"github.com/soundbridge/transcribe-api/internal/transcriber"
	"github.com/soundbridge/transcribe-api/internal/worker"
)

// transcribe-worker runs exactly one transcription and exits. The supervisor
// in the API process spawns it per task, reads the report it prints as the
// last stdout line, and sends SIGTERM to cancel it. Diagnostics go to stderr
// so stdout stays clean for the report.
func main() {
	taskID := flag.String("task", "", "Task identifier")
	inputPath := flag.String("input", "", "Path to the audio file to transcribe")
	flag.Parse()

	if *taskID == "" || *inputPath == "" {
		fmt.Fprintln(os.Stderr, "usage: transcribe-worker -task <id> -input <path>")
		os.Exit(2)
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))

	// SIGTERM from the supervisor cancels the transcription request.
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
	defer stop()

	client := transcriber.NewClient(transcriber.Config{
		URL:   os.Getenv("TRANSCRIBE_WHISPER_URL"),
		Model: os.Getenv("TRANSCRIBE_WHISPER_MODEL"),
	})

	logger.Info("Transcribing",
		slog.String("task_id", *taskID),
		slog.String("input", *inputPath),
	)

	report := worker.Report{TaskID: *taskID}
	segments, err := client.Transcribe(ctx, *inputPath)
	if err != nil {
		logger.Error("Transcription failed",
			slog.String("task_id", *taskID),
			slog.Any("error", err),
		)
		report.Status = domain.StatusFailed
		report.Error = err.Error()
	} else {
		report.Status = domain.StatusCompleted
		report.Segments = segments
	}

	if err := json.NewEncoder(os.Stdout).Encode(report); err != nil {
		logger.Error("Failed to write report", slog.Any("error", err))
		os.Exit(1)
	}
}
