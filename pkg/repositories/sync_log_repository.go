package repositories

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"github.com/attriq/lead-engine/pkg/apperrors"
	"github.com/attriq/lead-engine/pkg/database"
	"github.com/attriq/lead-engine/pkg/models"
)

// SyncLogRepository provides access to CRM sync run records.
type SyncLogRepository interface {
	Create(ctx context.Context, log *models.SyncLog) error
	Complete(ctx context.Context, log *models.SyncLog) error
	ListByConnection(ctx context.Context, connID uuid.UUID, limit int) ([]*models.SyncLog, error)
}

type syncLogRepository struct {
	db *database.DB
}

// NewSyncLogRepository creates a new SyncLogRepository.
func NewSyncLogRepository(db *database.DB) SyncLogRepository {
	return &syncLogRepository{db: db}
}

var _ SyncLogRepository = (*syncLogRepository)(nil)

func (r *syncLogRepository) Create(ctx context.Context, log *models.SyncLog) error {
	if log.StartedAt.IsZero() {
		log.StartedAt = time.Now()
	}
	if log.Status == "" {
		log.Status = models.SyncStatusRunning
	}

	query := `
		INSERT INTO crm_sync_logs (
			tenant_id, crm_connection_id, sync_type, status, started_at,
			fetched, created, updated, errors, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, NOW())
		RETURNING id, created_at`

	err := r.db.Querier(ctx).QueryRow(ctx, query,
		log.TenantID,
		log.CrmConnectionID,
		log.SyncType,
		log.Status,
		log.StartedAt,
		log.Fetched,
		log.Created,
		log.Updated,
		jsonbValue(log.Errors),
	).Scan(&log.ID, &log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create sync log: %w", err)
	}
	return nil
}

func (r *syncLogRepository) Complete(ctx context.Context, log *models.SyncLog) error {
	query := `
		UPDATE crm_sync_logs
		SET status = $2, completed_at = $3, duration_ms = $4,
		    fetched = $5, created = $6, updated = $7, errors = $8
		WHERE id = $1`

	tag, err := r.db.Querier(ctx).Exec(ctx, query,
		log.ID,
		log.Status,
		log.CompletedAt,
		log.DurationMs,
		log.Fetched,
		log.Created,
		log.Updated,
		jsonbValue(log.Errors),
	)
	if err != nil {
		return fmt.Errorf("failed to complete sync log: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return apperrors.ErrNotFound
	}
	return nil
}

func (r *syncLogRepository) ListByConnection(ctx context.Context, connID uuid.UUID, limit int) ([]*models.SyncLog, error) {
	if limit <= 0 {
		limit = 20
	}
	query := `
		SELECT id, tenant_id, crm_connection_id, sync_type, status, started_at,
		       completed_at, duration_ms, fetched, created, updated, errors,
		       created_at
		FROM crm_sync_logs
		WHERE crm_connection_id = $1
		ORDER BY started_at DESC
		LIMIT $2`

	rows, err := r.db.Querier(ctx).Query(ctx, query, connID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list sync logs: %w", err)
	}
	defer rows.Close()

	var logs []*models.SyncLog
	for rows.Next() {
		log, err := scanSyncLog(rows)
		if err != nil {
			return nil, err
		}
		logs = append(logs, log)
	}
	return logs, rows.Err()
}

func scanSyncLog(row pgx.Row) (*models.SyncLog, error) {
	var log models.SyncLog
	var errs []byte

	err := row.Scan(
		&log.ID,
		&log.TenantID,
		&log.CrmConnectionID,
		&log.SyncType,
		&log.Status,
		&log.StartedAt,
		&log.CompletedAt,
		&log.DurationMs,
		&log.Fetched,
		&log.Created,
		&log.Updated,
		&errs,
		&log.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan sync log: %w", err)
	}

	if err := unmarshalJSONB(errs, &log.Errors); err != nil {
		return nil, fmt.Errorf("failed to unmarshal sync log errors: %w", err)
	}
	return &log, nil
}
