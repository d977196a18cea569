package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/models"
)

// EmbeddingQueueStats summarizes the embedding work queue.
type EmbeddingQueueStats struct {
	PendingCount    int `json:"pending_count"`
	ProcessingCount int `json:"processing_count"`
	FailedCount     int `json:"failed_count"`
}

// EmbeddingTaskRepository manages the persistent embedding work queue.
type EmbeddingTaskRepository interface {
	// Enqueue registers a record for embedding. (table_name, record_id) is
	// unique: a pending or processing task absorbs the enqueue, a
	// completed or failed one is reset to pending with fresh text.
	Enqueue(ctx context.Context, task *models.EmbeddingTask) error

	// Claim atomically moves up to limit pending tasks to processing and
	// returns them, oldest first. Concurrent workers never claim the same
	// task.
	Claim(ctx context.Context, limit int) ([]*models.EmbeddingTask, error)

	Complete(ctx context.Context, taskID uuid.UUID) error

	// Fail records a failed attempt. Tasks that still have attempts left
	// (attempts < maxAttempts after increment) return to pending for a
	// later cycle; exhausted ones are marked failed.
	Fail(ctx context.Context, taskID uuid.UUID, taskErr error, maxAttempts int) error

	// RevertStuck returns tasks stuck in processing longer than olderThan
	// to pending, counting the lost cycle as an attempt.
	RevertStuck(ctx context.Context, olderThan time.Duration, maxAttempts int) (int, error)

	Stats(ctx context.Context) (*EmbeddingQueueStats, error)
}

type embeddingTaskRepository struct {
	db *database.DB
}

// NewEmbeddingTaskRepository creates a new EmbeddingTaskRepository.
func NewEmbeddingTaskRepository(db *database.DB) EmbeddingTaskRepository {
	return &embeddingTaskRepository{db: db}
}

var _ EmbeddingTaskRepository = (*embeddingTaskRepository)(nil)

func (r *embeddingTaskRepository) Enqueue(ctx context.Context, task *models.EmbeddingTask) error {
	query := `
		INSERT INTO embedding_tasks (
			tenant_id, table_name, record_id, text_to_embed, status,
			attempts, created_at, updated_at
		) VALUES ($1, $2, $3, $4, 'pending', 0, NOW(), NOW())
		ON CONFLICT (table_name, record_id) DO UPDATE
		SET text_to_embed = EXCLUDED.text_to_embed,
		    status = 'pending',
		    attempts = 0,
		    last_error = NULL,
		    updated_at = NOW()
		WHERE embedding_tasks.status IN ('completed', 'failed')
		RETURNING id, status, attempts, created_at, updated_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		task.TenantID,
		task.TableName,
		task.RecordID,
		task.TextToEmbed,
	).Scan(&task.ID, &task.Status, &task.Attempts, &task.CreatedAt, &task.UpdatedAt)
	if err != nil {
		// A task already pending or processing absorbs the enqueue.
		if errors.Is(err, pgx.ErrNoRows) {
			return nil
		}
		return fmt.Errorf("failed to enqueue embedding task: %w", err)
	}
	return nil
}

func (r *embeddingTaskRepository) Claim(ctx context.Context, limit int) ([]*models.EmbeddingTask, error) {
	query := `
		UPDATE embedding_tasks
		SET status = 'processing', updated_at = NOW()
		WHERE id IN (
			SELECT id FROM embedding_tasks
			WHERE status = 'pending'
			ORDER BY created_at
			FOR UPDATE SKIP LOCKED
			LIMIT $1
		)
		RETURNING id, tenant_id, table_name, record_id, text_to_embed,
		          status, attempts, last_error, created_at, updated_at`

	rows, err := r.db.Querier(ctx).Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to claim embedding tasks: %w", err)
	}
	defer rows.Close()

	var tasks []*models.EmbeddingTask
	for rows.Next() {
		task, err := scanEmbeddingTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	return tasks, rows.Err()
}

func (r *embeddingTaskRepository) Complete(ctx context.Context, taskID uuid.UUID) error {
	query := `
		UPDATE embedding_tasks
		SET status = 'completed', last_error = NULL, updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.Querier(ctx).Exec(ctx, query, taskID); err != nil {
		return fmt.Errorf("failed to complete embedding task: %w", err)
	}
	return nil
}

func (r *embeddingTaskRepository) Fail(ctx context.Context, taskID uuid.UUID, taskErr error, maxAttempts int) error {
	msg := taskErr.Error()
	query := `
		UPDATE embedding_tasks
		SET attempts = attempts + 1,
		    last_error = $2,
		    status = CASE WHEN attempts + 1 >= $3 THEN 'failed' ELSE 'pending' END,
		    updated_at = NOW()
		WHERE id = $1`

	if _, err := r.db.Querier(ctx).Exec(ctx, query, taskID, msg, maxAttempts); err != nil {
		return fmt.Errorf("failed to record embedding task failure: %w", err)
	}
	return nil
}

func (r *embeddingTaskRepository) RevertStuck(ctx context.Context, olderThan time.Duration, maxAttempts int) (int, error) {
	query := `
		UPDATE embedding_tasks
		SET attempts = attempts + 1,
		    last_error = 'worker lost while processing',
		    status = CASE WHEN attempts + 1 >= $2 THEN 'failed' ELSE 'pending' END,
		    updated_at = NOW()
		WHERE status = 'processing' AND updated_at < NOW() - $1::interval`

	tag, err := r.db.Querier(ctx).Exec(ctx, query, olderThan.String(), maxAttempts)
	if err != nil {
		return 0, fmt.Errorf("failed to revert stuck embedding tasks: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (r *embeddingTaskRepository) Stats(ctx context.Context) (*EmbeddingQueueStats, error) {
	query := `
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending'),
			COUNT(*) FILTER (WHERE status = 'processing'),
			COUNT(*) FILTER (WHERE status = 'failed')
		FROM embedding_tasks`

	var stats EmbeddingQueueStats
	err := r.db.Querier(ctx).QueryRow(ctx, query).Scan(
		&stats.PendingCount,
		&stats.ProcessingCount,
		&stats.FailedCount,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to read embedding queue stats: %w", err)
	}
	return &stats, nil
}

func scanEmbeddingTask(row pgx.Row) (*models.EmbeddingTask, error) {
	var task models.EmbeddingTask

	err := row.Scan(
		&task.ID,
		&task.TenantID,
		&task.TableName,
		&task.RecordID,
		&task.TextToEmbed,
		&task.Status,
		&task.Attempts,
		&task.LastError,
		&task.CreatedAt,
		&task.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan embedding task: %w", err)
	}
	return &task, nil
}
