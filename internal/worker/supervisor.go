// Package worker supervises the out-of-process transcription workers. Each
// job runs in its own OS process so a crash or hang inside the transcription
// call cannot take down the serving process, and cancellation can be enforced
// by killing the process group.
package worker

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strings"
	"syscall"
	"time"

	"github.com/soundbridge/transcribe-api/internal/domain"
)

const defaultGracePeriod = 5 * time.Second

// Config holds worker supervision settings.
type Config struct {
	// Binary is the transcribe-worker executable path.
	Binary string
	// WhisperURL is the transcription sidecar address handed to the worker.
	WhisperURL string
	// Model is the transcription model name handed to the worker.
	Model string
	// GracePeriod is how long to wait after SIGTERM before SIGKILL.
	GracePeriod time.Duration
	Logger      *slog.Logger
}

// Supervisor spawns one worker process per transcription job.
type Supervisor struct {
	binary string
	env    []string
	grace  time.Duration
	logger *slog.Logger
}

// NewSupervisor creates a supervisor from the given config.
func NewSupervisor(cfg *Config) *Supervisor {
	grace := cfg.GracePeriod
	if grace <= 0 {
		grace = defaultGracePeriod
	}

	var env []string
	if cfg.WhisperURL != "" {
		env = append(env, "TRANSCRIBE_WHISPER_URL="+cfg.WhisperURL)
	}
	if cfg.Model != "" {
		env = append(env, "TRANSCRIBE_WHISPER_MODEL="+cfg.Model)
	}

	return &Supervisor{
		binary: cfg.Binary,
		env:    env,
		grace:  grace,
		logger: cfg.Logger,
	}
}

// Process is a handle to one running worker: the process itself plus the
// one-shot channel its terminal outcome is delivered on.
type Process struct {
	taskID  string
	cancel  context.CancelFunc
	outcome chan domain.Outcome
	done    chan struct{}
}

// Spawn starts a worker process for the given task and returns immediately.
// A reaper goroutine waits for the process and delivers exactly one outcome
// on the handle's channel; abnormal exits and unreadable output are reported
// as failed outcomes so the channel is never left unwritten.
func (s *Supervisor) Spawn(taskID, inputPath string) (*Process, error) {
	ctx, cancel := context.WithCancel(context.Background())

	cmd := exec.CommandContext(ctx, s.binary, "-task", taskID, "-input", inputPath)
	cmd.Env = append(os.Environ(), s.env...)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	// Own process group so termination kills the whole tree.
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		if cmd.Process == nil {
			return nil
		}
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGTERM)
	}
	cmd.WaitDelay = s.grace

	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to start worker for task %s: %w", taskID, err)
	}

	s.logger.Info("Worker process spawned",
		slog.String("task_id", taskID),
		slog.Int("pid", cmd.Process.Pid),
	)

	p := &Process{
		taskID:  taskID,
		cancel:  cancel,
		outcome: make(chan domain.Outcome, 1),
		done:    make(chan struct{}),
	}

	go p.reap(cmd, &stdout, &stderr, s.logger)

	return p, nil
}

func (p *Process) reap(cmd *exec.Cmd, stdout, stderr *bytes.Buffer, logger *slog.Logger) {
	err := cmd.Wait()
	defer close(p.done)

	if err != nil {
		msg := strings.TrimSpace(stderr.String())
		if msg == "" {
			msg = err.Error()
		}
		logger.Warn("Worker process exited abnormally",
			slog.String("task_id", p.taskID),
			slog.Any("error", err),
		)
		p.outcome <- domain.FailedOutcome("worker exited: " + msg)
		return
	}

	report, err := ParseReport(stdout.Bytes())
	if err != nil {
		logger.Error("Worker produced unreadable output",
			slog.String("task_id", p.taskID),
			slog.Any("error", err),
		)
		p.outcome <- domain.FailedOutcome("unreadable worker output: " + err.Error())
		return
	}

	if report.Status == domain.StatusCompleted {
		p.outcome <- domain.CompletedOutcome(report.Segments)
	} else {
		p.outcome <- domain.FailedOutcome(report.Error)
	}
}

// Outcome returns the one-shot channel carrying the worker's terminal result.
func (p *Process) Outcome() <-chan domain.Outcome {
	return p.outcome
}

// Terminate forcibly stops the worker if still alive and blocks until the
// process has been reaped. Safe to call more than once and after exit.
func (p *Process) Terminate() error {
	p.cancel()
	<-p.done
	return nil
}
