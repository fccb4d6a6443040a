// Package events publishes task observability events to RabbitMQ. Events
// are fire-and-forget: a broker hiccup is logged, never propagated into the
// task lifecycle.
package events

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/soundbridge/transcribe-api/shared/rabbitmq"
)

// TaskEvent is the payload published for task lifecycle and divergence
// events.
type TaskEvent struct {
	Kind      string    `json:"kind"`
	TaskID    string    `json:"task_id"`
	Detail    string    `json:"detail,omitempty"`
	Timestamp time.Time `json:"timestamp"`
}

// Publisher emits task events through a RabbitMQ exchange.
type Publisher struct {
	client *rabbitmq.Client
	logger *slog.Logger
}

// NewPublisher creates a publisher over an established RabbitMQ client.
func NewPublisher(client *rabbitmq.Client, logger *slog.Logger) *Publisher {
	return &Publisher{
		client: client,
		logger: logger,
	}
}

// PublishTaskEvent emits one event. Failures are logged and swallowed.
func (p *Publisher) PublishTaskEvent(ctx context.Context, kind, taskID, detail string) {
	event := TaskEvent{
		Kind:      kind,
		TaskID:    taskID,
		Detail:    detail,
		Timestamp: time.Now(),
	}

	body, err := json.Marshal(event)
	if err != nil {
		p.logger.Error("Failed to encode task event",
			slog.String("kind", kind),
			slog.String("task_id", taskID),
			slog.Any("error", err),
		)
		return
	}

	if err := p.client.Publish(ctx, body, "application/json"); err != nil {
		p.logger.Warn("Failed to publish task event",
			slog.String("kind", kind),
			slog.String("task_id", taskID),
			slog.Any("error", err),
		)
	}
}
