// Package transcriber is the HTTP client for the whisper transcription
// sidecar. The model itself is a black box; this client only moves audio in
// and timed segments out.
package transcriber

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/soundbridge/transcribe-api/internal/domain"
)

const (
	defaultURL     = "http://localhost:8387"
	defaultModel   = "tiny"
	defaultTimeout = 10 * time.Minute
)

// Config holds sidecar connection settings.
type Config struct {
	URL     string
	Model   string
	Timeout time.Duration
}

// Client talks to a whisper ASR sidecar.
type Client struct {
	cfg  Config
	http *http.Client
}

// NewClient creates a sidecar client, filling unset config with defaults.
func NewClient(cfg Config) *Client {
	if cfg.URL == "" {
		cfg.URL = defaultURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	if cfg.Timeout == 0 {
		cfg.Timeout = defaultTimeout
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
	}
}

// transcribeResponse mirrors the whisper ASR response document.
type transcribeResponse struct {
	Task     string           `json:"task"`
	Language string           `json:"language"`
	Duration float64          `json:"duration"`
	Segments []domain.Segment `json:"segments"`
	Text     string           `json:"text"`
}

// Transcribe sends the audio file to the sidecar and returns the recognized
// segments in chronological order. The sidecar may reject malformed input;
// such errors surface to the caller.
func (c *Client) Transcribe(ctx context.Context, audioPath string) ([]domain.Segment, error) {
	file, err := os.Open(audioPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open audio file: %w", err)
	}
	defer file.Close()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	go func() {
		defer pw.Close()
		defer mw.Close()

		if err := mw.WriteField("model", c.cfg.Model); err != nil {
			pw.CloseWithError(err)
			return
		}

		part, err := mw.CreateFormFile("audio_file", filepath.Base(audioPath))
		if err != nil {
			pw.CloseWithError(err)
			return
		}
		if _, err := io.Copy(part, file); err != nil {
			pw.CloseWithError(err)
			return
		}
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.URL+"/transcribe", pr)
	if err != nil {
		return nil, fmt.Errorf("failed to build transcribe request: %w", err)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("transcribe request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return nil, fmt.Errorf("transcribe request returned %d: %s", resp.StatusCode, string(body))
	}

	var decoded transcribeResponse
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, fmt.Errorf("failed to decode transcribe response: %w", err)
	}

	return decoded.Segments, nil
}
