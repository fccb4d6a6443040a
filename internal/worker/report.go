package worker

import (
	"bytes"
	"encoding/json"
	"fmt"

	"github.com/soundbridge/transcribe-api/internal/domain"
)

// Report is the outcome document a worker process writes to stdout as its
// last line before exiting. Exactly one report is emitted per process.
type Report struct {
	TaskID   string           `json:"task_id"`
	Status   string           `json:"status"`
	Segments []domain.Segment `json:"segments,omitempty"`
	Error    string           `json:"error,omitempty"`
}

// ParseReport decodes the report from captured worker stdout. Diagnostic
// lines printed before the report are ignored; only the last non-empty line
// is interpreted.
func ParseReport(output []byte) (*Report, error) {
	lines := bytes.Split(bytes.TrimSpace(output), []byte("\n"))

	var last []byte
	for i := len(lines) - 1; i >= 0; i-- {
		if len(bytes.TrimSpace(lines[i])) > 0 {
			last = bytes.TrimSpace(lines[i])
			break
		}
	}
	if last == nil {
		return nil, fmt.Errorf("empty worker output")
	}

	var report Report
	if err := json.Unmarshal(last, &report); err != nil {
		return nil, fmt.Errorf("failed to decode worker report: %w", err)
	}

	switch report.Status {
	case domain.StatusCompleted, domain.StatusFailed:
	default:
		return nil, fmt.Errorf("unexpected worker report status %q", report.Status)
	}

	return &report, nil
}
