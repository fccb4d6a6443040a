// Package storage is the durable task store backed by PostgreSQL.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/soundbridge/transcribe-api/internal/domain"
	"github.com/soundbridge/transcribe-api/shared/postgresql"
)

// Storage handles all database operations for transcription tasks.
type Storage struct {
	db     *sqlx.DB
	logger *slog.Logger
}

// NewStorage creates a new Storage instance
func NewStorage(pg *postgresql.Client, logger *slog.Logger) *Storage {
	return &Storage{
		db:     pg.GetDB(),
		logger: logger,
	}
}

type taskRow struct {
	TaskID       string         `db:"task_id"`
	Name         string         `db:"name"`
	ObjectBucket string         `db:"object_bucket"`
	ObjectKey    string         `db:"object_key"`
	Status       string         `db:"status"`
	ErrorMessage sql.NullString `db:"error_message"`
	CreatedAt    sql.NullTime   `db:"created_at"`
	UpdatedAt    sql.NullTime   `db:"updated_at"`
}

func (r taskRow) toDomain() *domain.Task {
	task := &domain.Task{
		ID:     r.TaskID,
		Name:   r.Name,
		Status: r.Status,
		Object: domain.ObjectRef{
			Bucket: r.ObjectBucket,
			Key:    r.ObjectKey,
		},
	}
	if r.ErrorMessage.Valid {
		task.Error = r.ErrorMessage.String
	}
	if r.CreatedAt.Valid {
		task.CreatedAt = r.CreatedAt.Time
	}
	if r.UpdatedAt.Valid {
		task.UpdatedAt = r.UpdatedAt.Time
	}
	return task
}

// CreateTask inserts a new task record with status running.
func (s *Storage) CreateTask(ctx context.Context, task *domain.Task) error {
	query := `
		INSERT INTO tasks (
			task_id, name, object_bucket, object_key,
			status, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7)
	`

	_, err := s.db.ExecContext(
		ctx,
		query,
		task.ID,
		task.Name,
		task.Object.Bucket,
		task.Object.Key,
		task.Status,
		task.CreatedAt,
		task.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to create task: %w", err)
	}

	return nil
}

// GetTask retrieves a task record without its segments.
func (s *Storage) GetTask(ctx context.Context, taskID string) (*domain.Task, error) {
	query := `
		SELECT task_id, name, object_bucket, object_key,
		       status, error_message, created_at, updated_at
		FROM tasks
		WHERE task_id = $1
	`

	var row taskRow
	err := s.db.GetContext(ctx, &row, query, taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrTaskNotFound
		}
		return nil, fmt.Errorf("failed to get task: %w", err)
	}

	return row.toDomain(), nil
}

// ListTasks returns summaries of all tasks, most recently created first.
func (s *Storage) ListTasks(ctx context.Context) ([]domain.Summary, error) {
	query := `
		SELECT task_id, name, object_bucket, object_key,
		       status, error_message, created_at, updated_at
		FROM tasks
		ORDER BY created_at DESC, task_id DESC
	`

	var rows []taskRow
	if err := s.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("failed to list tasks: %w", err)
	}

	summaries := make([]domain.Summary, len(rows))
	for i, row := range rows {
		summaries[i] = row.toDomain().Summary()
	}

	return summaries, nil
}

// UpdateStatus sets the task status and bumps updated_at.
func (s *Storage) UpdateStatus(ctx context.Context, taskID, status string) error {
	query := `
		UPDATE tasks
		SET status = $1,
		    updated_at = NOW()
		WHERE task_id = $2
	`

	res, err := s.db.ExecContext(ctx, query, status, taskID)
	if err != nil {
		return fmt.Errorf("failed to update task status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrTaskNotFound
	}

	s.logger.Info("Task status updated",
		slog.String("task_id", taskID),
		slog.String("status", status),
	)

	return nil
}

// AppendResult records a terminal outcome atomically: the status flip and,
// for a completed task, the ordered segment rows, in one transaction.
func (s *Storage) AppendResult(ctx context.Context, taskID string, outcome domain.Outcome) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	updateQuery := `
		UPDATE tasks
		SET status = $1,
		    error_message = $2,
		    updated_at = NOW()
		WHERE task_id = $3
	`

	var errMsg sql.NullString
	if outcome.Failed() {
		errMsg = sql.NullString{String: outcome.Err, Valid: true}
	}

	res, err := tx.ExecContext(ctx, updateQuery, outcome.Status, errMsg, taskID)
	if err != nil {
		return fmt.Errorf("failed to update task result status: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get rows affected: %w", err)
	}
	if affected == 0 {
		return domain.ErrTaskNotFound
	}

	insertQuery := `
		INSERT INTO task_segments (
			task_id, idx, seek, start_sec, end_sec, text, tokens,
			temperature, avg_logprob, compression_ratio, no_speech_prob
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`

	for i, seg := range outcome.Segments {
		_, err := tx.ExecContext(
			ctx,
			insertQuery,
			taskID,
			i,
			seg.Seek,
			seg.Start,
			seg.End,
			seg.Text,
			pq.Array(seg.Tokens),
			seg.Temperature,
			seg.AvgLogprob,
			seg.CompressionRatio,
			seg.NoSpeechProb,
		)
		if err != nil {
			return fmt.Errorf("failed to insert segment %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit result: %w", err)
	}

	s.logger.Info("Task result persisted",
		slog.String("task_id", taskID),
		slog.String("status", outcome.Status),
		slog.Int("segments", len(outcome.Segments)),
	)

	return nil
}

// GetSegments returns a task's persisted segments in their original order.
func (s *Storage) GetSegments(ctx context.Context, taskID string) ([]domain.Segment, error) {
	query := `
		SELECT idx, seek, start_sec, end_sec, text, tokens,
		       temperature, avg_logprob, compression_ratio, no_speech_prob
		FROM task_segments
		WHERE task_id = $1
		ORDER BY idx ASC
	`

	rows, err := s.db.QueryContext(ctx, query, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get segments: %w", err)
	}
	defer rows.Close()

	var segments []domain.Segment
	for rows.Next() {
		var seg domain.Segment
		var tokens pq.Int64Array

		err := rows.Scan(
			&seg.ID,
			&seg.Seek,
			&seg.Start,
			&seg.End,
			&seg.Text,
			&tokens,
			&seg.Temperature,
			&seg.AvgLogprob,
			&seg.CompressionRatio,
			&seg.NoSpeechProb,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan segment: %w", err)
		}

		seg.Tokens = tokens
		segments = append(segments, seg)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read segments: %w", err)
	}

	return segments, nil
}
